package kiosk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/accessgate/internal/messaging"
)

func intPtr(v int) *int { return &v }

func TestHandleMessageBadPayload(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.c.StartFacial())
	f.c.HandleMessage(context.Background(), messaging.Message{
		Topic:   topics.Response(device),
		Payload: []byte("{not json"),
	})
	s := f.c.Snapshot()
	assert.Equal(t, StateShowResult, s.State)
	assert.Equal(t, "Payload error", s.Message)
	assert.Equal(t, messaging.StatusDeniedError, s.Status)
}

func TestHandleMessageOtherDevice(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.c.StartFacial())
	f.c.HandleMessage(context.Background(), messaging.Message{
		Topic:   topics.Response("someone_else"),
		Payload: messaging.Encode(messaging.Response{Status: messaging.StatusAuthenticated}),
	})
	assert.Equal(t, StateVerifyingFacial, f.c.Snapshot().State)
}

func TestHandleMessageMissingStatus(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.c.StartFacial())
	f.c.HandleMessage(context.Background(), messaging.Message{
		Topic:   topics.Response(device),
		Payload: []byte(`{"nombres":""}`),
	})
	s := f.c.Snapshot()
	assert.Equal(t, StateShowResult, s.State)
	assert.Equal(t, messaging.StatusDeniedError, s.Status)
}

func TestStartAdminEnrollCommand(t *testing.T) {
	f := newFixture(t, 10)

	f.c.HandleCommand(messaging.Command{Command: messaging.CommandStartAdminEnroll, UserCedula: "1"})
	assert.Nil(t, f.c.Snapshot().Pending, "missing nombres")

	f.pendingEnrollment()
	s := f.c.Snapshot()
	require.NotNil(t, s.Pending)
	assert.Equal(t, Identity{Cedula: "1712345678", Nombres: "Ana Torres"}, *s.Pending)

	require.NoError(t, f.c.StartEnroll())
	f.c.HandleCommand(messaging.Command{
		Command:     messaging.CommandStartAdminEnroll,
		UserCedula:  "999",
		UserNombres: "Someone Else",
	})
	assert.Equal(t, "1712345678", f.c.Snapshot().Pending.Cedula, "enrollment in progress keeps its identity")
}

func TestPendingNameTruncated(t *testing.T) {
	f := newFixture(t, 10)
	f.c.HandleCommand(messaging.Command{
		Command:     messaging.CommandStartAdminEnroll,
		UserCedula:  "1",
		UserNombres: "María José Fernández de la Torre",
	})
	assert.Equal(t, "Ready to enroll: María José Fernández d", f.c.Snapshot().Message)
}

func TestSensorCommands(t *testing.T) {
	f := newFixture(t, 10)
	f.emu.Enroll(4, "a")
	f.emu.Enroll(5, "b")

	f.c.HandleCommand(messaging.Command{Command: messaging.CommandDeleteFinger, FingerprintID: intPtr(4)})
	assert.Equal(t, []int{5}, f.emu.Slots())

	f.c.HandleCommand(messaging.Command{Command: messaging.CommandDeleteFinger})
	assert.Equal(t, []int{5}, f.emu.Slots(), "delete without id")

	f.c.HandleCommand(messaging.Command{Command: messaging.CommandClearAllFingers})
	assert.Empty(t, f.emu.Slots())

	f.c.HandleCommand(messaging.Command{Command: "reboot"})
	assert.Equal(t, StateIdle, f.c.Snapshot().State)
}

func TestSubscribeOverBus(t *testing.T) {
	f := newFixture(t, 10)
	bus := messaging.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })
	require.NoError(t, f.c.Subscribe(bus))
	require.NoError(t, f.c.StartFacial())

	require.NoError(t, messaging.PublishJSON(context.Background(), bus, topics.Response(device),
		messaging.Response{Status: messaging.StatusAuthenticated, Nombres: "Ana"}))
	require.Eventually(t, func() bool {
		return f.c.Snapshot().State == StateShowResult
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "ACCESS GRANTED: Ana", f.c.Snapshot().Message)

	f.emu.Enroll(7, "x")
	require.NoError(t, messaging.PublishJSON(context.Background(), bus, topics.Command(device),
		messaging.Command{Command: messaging.CommandDeleteFinger, FingerprintID: intPtr(7)}))
	require.Eventually(t, func() bool {
		return len(f.emu.Slots()) == 0
	}, time.Second, 5*time.Millisecond)
}
