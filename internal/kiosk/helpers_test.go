package kiosk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/accessgate/internal/fingerprint"
	"github.com/banshee-data/accessgate/internal/messaging"
	"github.com/banshee-data/accessgate/internal/timeutil"
)

const device = "kiosk_test"

var topics = messaging.NewTopics("")

type recorder struct {
	mu   sync.Mutex
	msgs []messaging.Message
	err  error
}

func (r *recorder) Publish(_ context.Context, topic string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, messaging.Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

func (r *recorder) messages() []messaging.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]messaging.Message(nil), r.msgs...)
}

func (r *recorder) on(topic string) []messaging.Message {
	var out []messaging.Message
	for _, m := range r.messages() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	c     *Coordinator
	pub   *recorder
	emu   *fingerprint.Emulator
	clock *timeutil.MockClock
}

func testOptions() Options {
	opts := DefaultOptions(device)
	opts.Topics = topics
	return opts
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	emu := fingerprint.NewEmulator(capacity)
	return newFixtureWithSensor(t, fingerprint.NewSensor(emu, fingerprint.WithCapacity(capacity)), emu)
}

func newFixtureWithSensor(t *testing.T, sensor Sensor, emu *fingerprint.Emulator) *fixture {
	t.Helper()
	f := &fixture{
		pub:   &recorder{},
		emu:   emu,
		clock: timeutil.NewMockClock(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)),
	}
	f.c = New(testOptions(), f.pub, sensor, f.clock)
	t.Cleanup(f.c.Close)
	return f
}

func (f *fixture) pendingEnrollment() {
	f.c.HandleCommand(messaging.Command{
		Command:     messaging.CommandStartAdminEnroll,
		UserCedula:  "1712345678",
		UserNombres: "Ana Torres",
	})
}

// gatedSensor blocks the first Capture until release is closed.
type gatedSensor struct {
	Sensor
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newGatedSensor(s Sensor) *gatedSensor {
	return &gatedSensor{Sensor: s, started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedSensor) Capture() fingerprint.CaptureResult {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	return g.Sensor.Capture()
}

// extractGate holds the nth Extract open, after the sensor has answered,
// until release is closed.
type extractGate struct {
	Sensor
	n       int
	calls   int
	mu      sync.Mutex
	started chan struct{}
	release chan struct{}
}

func newExtractGate(s Sensor, n int) *extractGate {
	return &extractGate{Sensor: s, n: n, started: make(chan struct{}), release: make(chan struct{})}
}

func (g *extractGate) Extract(buf fingerprint.Buffer) fingerprint.ExtractResult {
	res := g.Sensor.Extract(buf)
	g.mu.Lock()
	g.calls++
	hold := g.calls == g.n
	g.mu.Unlock()
	if hold {
		close(g.started)
		<-g.release
	}
	return res
}

// heldPublisher blocks every Publish until release is closed.
type heldPublisher struct {
	recorder
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newHeldPublisher() *heldPublisher {
	return &heldPublisher{started: make(chan struct{}), release: make(chan struct{})}
}

func (p *heldPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.once.Do(func() { close(p.started) })
	<-p.release
	return p.recorder.Publish(ctx, topic, payload)
}
