package kiosk

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/banshee-data/accessgate/internal/fingerprint"
	"github.com/banshee-data/accessgate/internal/messaging"
	"github.com/banshee-data/accessgate/internal/monitoring"
	"github.com/banshee-data/accessgate/internal/timeutil"
)

// Sensor is the fingerprint reader as the kiosk uses it.
type Sensor interface {
	Available() bool
	Capacity() int
	Capture() fingerprint.CaptureResult
	Extract(buf fingerprint.Buffer) fingerprint.ExtractResult
	BuildModel() fingerprint.ModelResult
	Search(buf fingerprint.Buffer) (fingerprint.Match, fingerprint.SearchResult)
	StoreAuto(buf fingerprint.Buffer) (int, error)
	Delete(slot, count int) error
	Empty() error
	TemplateCount() (int, error)
}

// Options tunes a Coordinator.
type Options struct {
	DeviceID string
	Topics   messaging.Topics
	// StreamFPS caps how many camera frames per second are sent during
	// facial verification.
	StreamFPS      float64
	ResultDisplay  time.Duration
	PollInterval   time.Duration
	RemovalSettle  time.Duration
	VerifyAttempts int
	EnrollAttempts int
}

func DefaultOptions(deviceID string) Options {
	return Options{
		DeviceID:       deviceID,
		Topics:         messaging.NewTopics(""),
		StreamFPS:      10,
		ResultDisplay:  2 * time.Second,
		PollInterval:   50 * time.Millisecond,
		RemovalSettle:  500 * time.Millisecond,
		VerifyAttempts: 50,
		EnrollAttempts: 100,
	}
}

func (o Options) frameInterval() time.Duration {
	if o.StreamFPS <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / o.StreamFPS)
}

// Coordinator owns the kiosk's single interaction. Every state change
// happens under mu and bumps gen; sensor workers carry the gen they were
// started with and a context cancelled when it changes, and they re-check
// gen under mu before touching state or publishing. Publishes themselves
// run with mu released.
type Coordinator struct {
	opts   Options
	pub    messaging.Publisher
	sensor Sensor
	clock  timeutil.Clock

	mu            sync.Mutex
	state         State
	gen           uint64
	message       string
	status        messaging.Status
	pending       *Identity
	resultExpires time.Time
	lastFrameSent time.Time
	stopWorker    context.CancelFunc

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// New returns a coordinator in IDLE. sensor may be a disabled sensor, in
// which case fingerprint actions fail with a result screen.
func New(opts Options, pub messaging.Publisher, sensor Sensor, clock timeutil.Clock) *Coordinator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		opts:   opts,
		pub:    pub,
		sensor: sensor,
		clock:  clock,
		ctx:    ctx,
		cancel: cancel,
	}
	c.enterIdleLocked()
	return c
}

// Close stops any running worker and waits for it.
func (c *Coordinator) Close() {
	c.cancel()
	c.workers.Wait()
}

// Wait blocks until running workers have returned.
func (c *Coordinator) Wait() { c.workers.Wait() }

func (c *Coordinator) sensorAvailable() bool { return c.sensor != nil && c.sensor.Available() }

// setStateLocked moves to s, invalidating the previous interaction's worker.
func (c *Coordinator) setStateLocked(s State) {
	if c.stopWorker != nil {
		c.stopWorker()
		c.stopWorker = nil
	}
	c.gen++
	if s != c.state {
		monitoring.Logf("kiosk: %s -> %s", c.state, s)
	}
	c.state = s
}

func (c *Coordinator) enterIdleLocked() {
	c.setStateLocked(StateIdle)
	c.status = ""
	if c.pending != nil {
		c.message = "Ready to enroll: " + truncate(c.pending.Nombres, 22)
	} else {
		c.message = "Select an access method"
	}
}

func (c *Coordinator) showResultLocked(msg string, status messaging.Status) {
	c.setStateLocked(StateShowResult)
	c.message = msg
	c.status = status
	c.resultExpires = c.clock.Now().Add(c.opts.ResultDisplay)
	monitoring.Logf("kiosk: result %s: %s", status, msg)
}

// spawnLocked starts fn as the worker for the current generation.
func (c *Coordinator) spawnLocked(fn func(ctx context.Context, gen uint64)) {
	ctx, stop := context.WithCancel(c.ctx)
	c.stopWorker = stop
	gen := c.gen
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		defer stop()
		fn(ctx, gen)
	}()
}

// ifCurrent runs fn under the lock if gen is still the live interaction.
func (c *Coordinator) ifCurrent(gen uint64, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	fn()
	return true
}

// current reports whether gen is still the live interaction.
func (c *Coordinator) current(gen uint64) bool {
	return c.ifCurrent(gen, func() {})
}

// publish must be called without mu held: a broker round trip can take up
// to the publish timeout, and inbound deliveries need mu.
func (c *Coordinator) publish(topic string, payload []byte) error {
	err := c.pub.Publish(c.ctx, topic, payload)
	if err != nil {
		monitoring.Logf("kiosk: publish %s: %v", topic, err)
	}
	return err
}

// StartFacial begins facial verification.
func (c *Coordinator) StartFacial() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrBusy
	}
	c.setStateLocked(StateVerifyingFacial)
	c.message = "Starting facial recognition..."
	c.lastFrameSent = time.Time{}
	return nil
}

// SubmitFrame streams a camera frame during facial verification. Frames
// arriving faster than the configured rate are dropped; sent reports
// whether this one went out.
func (c *Coordinator) SubmitFrame(jpeg []byte) (sent bool, err error) {
	c.mu.Lock()
	if c.state != StateVerifyingFacial {
		c.mu.Unlock()
		return false, ErrWrongState
	}
	if !c.lastFrameSent.IsZero() && c.clock.Since(c.lastFrameSent) < c.opts.frameInterval() {
		c.mu.Unlock()
		return false, nil
	}
	c.lastFrameSent = c.clock.Now()
	gen := c.gen
	c.mu.Unlock()

	if err := c.publish(c.opts.Topics.FacialStream(c.opts.DeviceID), jpeg); err != nil {
		c.fail(gen, "Network error", messaging.StatusDeniedError)
		return false, nil
	}
	c.ifCurrent(gen, func() {
		if c.status == "" {
			c.message = "Analyzing... look at the camera"
		}
	})
	return true, nil
}

// StartFinger begins fingerprint verification.
func (c *Coordinator) StartFinger() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrBusy
	}
	if !c.sensorAvailable() {
		c.showResultLocked("Fingerprint sensor unavailable", messaging.StatusDeniedError)
		return nil
	}
	c.setStateLocked(StateVerifyingFinger)
	c.message = "Place your finger on the sensor..."
	c.spawnLocked(c.verifyWorker)
	return nil
}

// StartEnroll begins enrolling the pending identity with a photo.
func (c *Coordinator) StartEnroll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrBusy
	}
	if c.pending == nil {
		return ErrNoPendingEnrollment
	}
	c.setStateLocked(StateEnrollPhoto)
	c.message = "Enrolling: " + truncate(c.pending.Nombres, 25)
	return nil
}

// SubmitEnrollPhoto sends the enrollment photo to the backend.
func (c *Coordinator) SubmitEnrollPhoto(jpeg []byte) error {
	c.mu.Lock()
	if c.state != StateEnrollPhoto {
		c.mu.Unlock()
		return ErrWrongState
	}
	if len(jpeg) == 0 {
		c.showResultLocked("Invalid frame", messaging.StatusDeniedError)
		c.mu.Unlock()
		return nil
	}
	data := messaging.EnrollFacialData{
		Cedula:   c.pending.Cedula,
		ImageB64: base64.StdEncoding.EncodeToString(jpeg),
	}
	gen := c.gen
	c.mu.Unlock()

	if err := c.publish(c.opts.Topics.EnrollFacial(c.opts.DeviceID), messaging.Encode(data)); err != nil {
		c.fail(gen, "Network error", messaging.StatusDeniedError)
		return nil
	}
	c.setMessage(gen, "Photo sent, waiting for confirmation...")
	return nil
}

// Cancel abandons a non-terminal interaction and forgets any pending
// enrollment. In IDLE and SHOW_RESULT it does nothing and returns false.
func (c *Coordinator) Cancel() bool {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return false
	}
	wasFacial := c.state == StateVerifyingFacial
	c.pending = nil
	c.enterIdleLocked()
	c.mu.Unlock()

	monitoring.Logf("kiosk: interaction cancelled")
	if wasFacial {
		c.publish(c.opts.Topics.FacialStop(c.opts.DeviceID), messaging.Encode(messaging.StopRequest{}))
	}
	return true
}

// Tick expires the result screen. Call it periodically.
func (c *Coordinator) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateShowResult && !c.clock.Now().Before(c.resultExpires) {
		c.enterIdleLocked()
	}
}

// Run ticks until ctx is done, then stops any worker.
func (c *Coordinator) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-t.C:
			c.Tick()
		}
	}
}

// Snapshot is what the UI renders.
type Snapshot struct {
	State           State            `json:"state"`
	Message         string           `json:"message"`
	Status          messaging.Status `json:"status,omitempty"`
	Pending         *Identity        `json:"pending,omitempty"`
	SensorAvailable bool             `json:"sensor_available"`
	ResultExpiresIn time.Duration    `json:"result_expires_in_ns,omitempty"`
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:           c.state,
		Message:         c.message,
		Status:          c.status,
		SensorAvailable: c.sensorAvailable(),
	}
	if c.pending != nil {
		p := *c.pending
		s.Pending = &p
	}
	if c.state == StateShowResult {
		s.ResultExpiresIn = max(c.resultExpires.Sub(c.clock.Now()), 0)
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
