package verifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/accessgate/internal/db"
	"github.com/banshee-data/accessgate/internal/messaging"
)

func startService(t *testing.T, f *fixture) (*messaging.MemoryBus, messaging.Topics) {
	t.Helper()
	bus := messaging.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })
	topics := messaging.NewTopics("")
	require.NoError(t, NewService(f.orch, bus, topics, time.Second).Start())
	return bus, topics
}

func subscribe(t *testing.T, bus messaging.Bus, filter string) <-chan messaging.Message {
	t.Helper()
	ch := make(chan messaging.Message, 16)
	require.NoError(t, bus.Subscribe(filter, func(_ context.Context, m messaging.Message) { ch <- m }))
	return ch
}

func receive(t *testing.T, ch <-chan messaging.Message) messaging.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
		return messaging.Message{}
	}
}

func TestService_Fingerprint(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.addUser(t, "0102", "Alice", db.AccessFingerprint)
	require.NoError(t, f.db.BindFingerprint("0102", 1))
	bus, topics := startService(t, f)
	responses := subscribe(t, bus, topics.Response("kiosk1"))

	require.NoError(t, bus.Publish(context.Background(), topics.Fingerprint("kiosk1"), []byte(`{"fingerprint_id":1}`)))
	m := receive(t, responses)
	var resp messaging.Response
	require.NoError(t, json.Unmarshal(m.Payload, &resp))
	assert.Equal(t, messaging.Response{Status: messaging.StatusAuthenticated, Nombres: "Alice"}, resp)

	require.NoError(t, bus.Publish(context.Background(), topics.Fingerprint("kiosk1"), []byte(`not json`)))
	require.NoError(t, json.Unmarshal(receive(t, responses).Payload, &resp))
	assert.Equal(t, messaging.StatusDeniedError, resp.Status)
}

func TestService_FacialStreamAndStop(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	bus, topics := startService(t, f)
	responses := subscribe(t, bus, topics.Response("kiosk1"))

	require.NoError(t, bus.Publish(context.Background(), topics.FacialStream("kiosk1"), testJPEG(t)))
	var resp messaging.Response
	require.NoError(t, json.Unmarshal(receive(t, responses).Payload, &resp))
	assert.Equal(t, messaging.StatusVerifyingLiveness, resp.Status)
	assert.Len(t, f.orch.Sessions(), 1)

	require.NoError(t, bus.Publish(context.Background(), topics.FacialStop("kiosk1"), []byte(`{}`)))
	require.Eventually(t, func() bool { return len(f.orch.Sessions()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestService_EnrollFingerUnknownSendsDelete(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	bus, topics := startService(t, f)
	commands := subscribe(t, bus, topics.Command("kiosk1"))

	payload := messaging.Encode(messaging.EnrollFingerData{Cedula: "9999", FingerprintID: 12})
	require.NoError(t, bus.Publish(context.Background(), topics.EnrollFinger("kiosk1"), payload))

	var cmd messaging.Command
	require.NoError(t, json.Unmarshal(receive(t, commands).Payload, &cmd))
	assert.Equal(t, messaging.CommandDeleteFinger, cmd.Command)
	require.NotNil(t, cmd.FingerprintID)
	assert.Equal(t, 12, *cmd.FingerprintID)
}

func TestService_RunStopsWithContext(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	svc := NewService(f.orch, messaging.NewMemoryBus(), messaging.NewTopics(""), time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestAttachAdminRoutes(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.orch.ProcessFrame(context.Background(), "kiosk1", testJPEG(t))

	mux := http.NewServeMux()
	f.orch.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/liveness-sessions", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sessions []SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "kiosk1", sessions[0].Device)
	assert.Equal(t, 2, sessions[0].Required)

	req = httptest.NewRequest(http.MethodGet, "/debug/gallery", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

type qosPublisher struct {
	plain []string
	qos   []byte
}

func (p *qosPublisher) Publish(_ context.Context, topic string, _ []byte) error {
	p.plain = append(p.plain, topic)
	return nil
}

func (p *qosPublisher) PublishQoS(_ context.Context, topic string, qos byte, _ []byte) error {
	p.qos = append(p.qos, qos)
	return nil
}

func TestSendCommand_ClearAllIsAtLeastOnce(t *testing.T) {
	p := &qosPublisher{}
	topics := messaging.NewTopics("")
	ctx := context.Background()

	require.NoError(t, SendCommand(ctx, p, topics, "dev1", messaging.Command{Command: messaging.CommandClearAllFingers}))
	require.NoError(t, SendCommand(ctx, p, topics, "dev1", messaging.Command{Command: messaging.CommandDeleteFinger}))

	assert.Equal(t, []byte{1}, p.qos)
	assert.Equal(t, []string{topics.Command("dev1")}, p.plain)
}
