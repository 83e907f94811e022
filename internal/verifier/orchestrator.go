// Package verifier decides who may pass the gate. It runs the blink
// liveness challenge over streamed frames, matches faces and fingerprint
// slots to users, keeps the audit trail and accepts enrollment data.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/accessgate/internal/db"
	"github.com/banshee-data/accessgate/internal/faceengine"
	"github.com/banshee-data/accessgate/internal/liveness"
	"github.com/banshee-data/accessgate/internal/messaging"
	"github.com/banshee-data/accessgate/internal/monitoring"
	"github.com/banshee-data/accessgate/internal/timeutil"
)

// Options tunes the facial pipeline.
type Options struct {
	BlinksRequired    int
	Timeout           time.Duration
	EARThreshold      float64
	ConsecutiveFrames int
	Tolerance         float64
}

func DefaultOptions() Options {
	return Options{
		BlinksRequired:    2,
		Timeout:           12 * time.Second,
		EARThreshold:      liveness.DefaultThreshold,
		ConsecutiveFrames: liveness.DefaultConsecutiveFrames,
		Tolerance:         faceengine.DefaultTolerance,
	}
}

// Deps are the collaborators of an Orchestrator. Engine and Gallery may be
// nil, which disables facial verification and enrollment encoding.
type Deps struct {
	DB      *db.DB
	Engine  faceengine.Engine
	Gallery *faceengine.Gallery
	Dataset faceengine.Dataset
	Clock   timeutil.Clock
}

// Reply is what a handler wants sent back to the device. Either field may
// be nil.
type Reply struct {
	Response *messaging.Response
	Command  *messaging.Command
}

func respond(status messaging.Status, nombres string) Reply {
	return Reply{Response: &messaging.Response{Status: status, Nombres: nombres}}
}

// livenessSession is one device's blink challenge.
type livenessSession struct {
	id       string
	detector *liveness.Detector
	started  time.Time
	lastSeen time.Time
	blinks   int
}

// Orchestrator runs the verification pipelines. All liveness sessions live
// in one table guarded by mu; face detection and matching run outside it.
type Orchestrator struct {
	opts    Options
	clock   timeutil.Clock
	db      *db.DB
	engine  faceengine.Engine
	gallery *faceengine.Gallery
	dataset faceengine.Dataset

	mu       sync.Mutex
	sessions map[string]*livenessSession

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

func New(opts Options, deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:     opts,
		clock:    deps.Clock,
		db:       deps.DB,
		engine:   deps.Engine,
		gallery:  deps.Gallery,
		dataset:  deps.Dataset,
		sessions: make(map[string]*livenessSession),
		bgCtx:    ctx,
		bgCancel: cancel,
	}
}

// Close cancels background encoding work and waits for it to finish.
func (o *Orchestrator) Close() {
	o.bgCancel()
	o.bg.Wait()
}

// Wait blocks until background encoding work has finished.
func (o *Orchestrator) Wait() { o.bg.Wait() }

// conclude builds the terminal response for an attempt and appends it to the
// audit trail. denied_error is never audited.
func (o *Orchestrator) conclude(device string, method db.AccessMethod, status messaging.Status, detail string, u *db.User) Reply {
	nombres := detail
	if status == messaging.StatusAuthenticated && u != nil {
		nombres = u.Nombres
	}
	if status != messaging.StatusDeniedError {
		ev := db.AccessEvent{DeviceID: device, Method: method, Status: string(status), Time: o.clock.Now()}
		if u != nil {
			ev.Cedula, ev.Nombres = u.Cedula, u.Nombres
		}
		if err := o.db.RecordAccess(ev); err != nil {
			monitoring.Logf("verifier: audit %s %s: %v", device, status, err)
		}
	}
	monitoring.Logf("verifier: %s %s: %s (%s)", device, method, status, nombres)
	return respond(status, nombres)
}

func blinkPrompt(remaining int) string {
	if remaining == 1 {
		return "Blink 1 more time"
	}
	return fmt.Sprintf("Blink %d more times", remaining)
}

// ensureSession returns the id of device's liveness session, creating one
// if none exists.
func (o *Orchestrator) ensureSession(device string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[device]; ok {
		return s.id
	}
	now := o.clock.Now()
	s := &livenessSession{
		id:       uuid.NewString(),
		detector: liveness.NewDetector(o.opts.EARThreshold, o.opts.ConsecutiveFrames),
		started:  now,
		lastSeen: now,
	}
	o.sessions[device] = s
	monitoring.Logf("verifier: %s: liveness session %s started", device, s.id)
	return s.id
}

// endSession removes device's session if it is still the one named by id.
func (o *Orchestrator) endSession(device, id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[device]; ok && s.id == id {
		delete(o.sessions, device)
	}
}

// detect returns the largest face in img, or nil if there is none.
func (o *Orchestrator) detect(ctx context.Context, img []byte) (*faceengine.Face, error) {
	if o.engine == nil {
		return nil, faceengine.ErrUnavailable
	}
	if _, err := faceengine.CheckImage(img); err != nil {
		return nil, err
	}
	faces, err := o.engine.Detect(ctx, img)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, nil
	}
	return &faces[0], nil
}

// ProcessFrame advances device's liveness challenge with one streamed frame.
// The returned reply is empty when the session was stopped while the frame
// was being analysed.
func (o *Orchestrator) ProcessFrame(ctx context.Context, device string, img []byte) Reply {
	id := o.ensureSession(device)

	face, err := o.detect(ctx, img)
	if err != nil {
		monitoring.Logf("verifier: %s: detect: %v", device, err)
		o.endSession(device, id)
		return o.conclude(device, db.MethodFacial, messaging.StatusDeniedError, "Could not process image", nil)
	}

	o.mu.Lock()
	s, ok := o.sessions[device]
	if !ok || s.id != id {
		o.mu.Unlock()
		return Reply{}
	}
	s.lastSeen = o.clock.Now()

	if o.clock.Since(s.started) > o.opts.Timeout {
		delete(o.sessions, device)
		o.mu.Unlock()
		return o.conclude(device, db.MethodFacial, messaging.StatusDeniedSpoofing, "Liveness check timed out", nil)
	}
	if face == nil {
		s.detector.Reset()
		o.mu.Unlock()
		return respond(messaging.StatusVerifyingNoFace, "No face detected")
	}
	res, err := s.detector.Check(face.Landmarks)
	if err != nil {
		delete(o.sessions, device)
		o.mu.Unlock()
		monitoring.Logf("verifier: %s: liveness: %v", device, err)
		return o.conclude(device, db.MethodFacial, messaging.StatusDeniedError, "Could not read landmarks", nil)
	}
	if res == liveness.BlinkConfirmed {
		s.blinks++
		monitoring.Logf("verifier: %s: blink %d/%d", device, s.blinks, o.opts.BlinksRequired)
	}
	if remaining := o.opts.BlinksRequired - s.blinks; remaining > 0 {
		o.mu.Unlock()
		return respond(messaging.StatusVerifyingLiveness, blinkPrompt(remaining))
	}
	delete(o.sessions, device)
	o.mu.Unlock()

	return o.matchFace(ctx, device, img, face.Box)
}

func (o *Orchestrator) matchFace(ctx context.Context, device string, img []byte, box faceengine.Box) Reply {
	if o.gallery == nil || o.gallery.Len() == 0 {
		monitoring.Logf("verifier: gallery is empty, retrain required")
		return o.conclude(device, db.MethodFacial, messaging.StatusDeniedError, "Model not trained", nil)
	}
	enc, err := o.engine.Encode(ctx, img, box)
	switch {
	case errors.Is(err, faceengine.ErrNoFace):
		return o.conclude(device, db.MethodFacial, messaging.StatusDeniedUnknown, "Face not recognized", nil)
	case err != nil:
		monitoring.Logf("verifier: %s: encode: %v", device, err)
		return o.conclude(device, db.MethodFacial, messaging.StatusDeniedError, "Could not process image", nil)
	}

	m, err := o.gallery.Match(enc, o.opts.Tolerance)
	if errors.Is(err, faceengine.ErrGalleryEmpty) {
		return o.conclude(device, db.MethodFacial, messaging.StatusDeniedError, "Model not trained", nil)
	}
	if !m.Matched {
		if m.Cedula != "" {
			monitoring.Logf("verifier: %s: no match, closest %s at %.4f", device, m.Cedula, m.Distance)
		}
		return o.conclude(device, db.MethodFacial, messaging.StatusDeniedUnknown, "Unknown user", nil)
	}
	monitoring.Logf("verifier: %s: match %s at %.4f", device, m.Cedula, m.Distance)

	u, err := o.db.UserByCedula(m.Cedula)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return o.conclude(device, db.MethodFacial, messaging.StatusDeniedNoAccess, "Facial access not permitted", &db.User{Cedula: m.Cedula})
	case err != nil:
		monitoring.Logf("verifier: lookup %s: %v", m.Cedula, err)
		return o.conclude(device, db.MethodFacial, messaging.StatusDeniedError, "Server error", nil)
	}
	if !u.Access.AllowsFacial() {
		return o.conclude(device, db.MethodFacial, messaging.StatusDeniedNoAccess, "Facial access not permitted", u)
	}
	return o.conclude(device, db.MethodFacial, messaging.StatusAuthenticated, "", u)
}

// StopFacial drops device's liveness session.
func (o *Orchestrator) StopFacial(device string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.sessions[device]; ok {
		delete(o.sessions, device)
		monitoring.Logf("verifier: %s stopped streaming", device)
	}
}

// Sweep removes sessions whose deadline has passed. Devices that stop
// streaming mid-challenge never send another frame to expire them.
func (o *Orchestrator) Sweep() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for device, s := range o.sessions {
		if o.clock.Since(s.started) > o.opts.Timeout {
			delete(o.sessions, device)
			n++
			monitoring.Logf("verifier: reaped stale liveness session %s for %s", s.id, device)
		}
	}
	return n
}

// SessionInfo describes a live session for diagnostics.
type SessionInfo struct {
	Device   string        `json:"device"`
	ID       string        `json:"id"`
	Age      time.Duration `json:"age_ns"`
	Idle     time.Duration `json:"idle_ns"`
	Blinks   int           `json:"blinks"`
	Required int           `json:"required"`
}

func (o *Orchestrator) Sessions() []SessionInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]SessionInfo, 0, len(o.sessions))
	for device, s := range o.sessions {
		out = append(out, SessionInfo{
			Device:   device,
			ID:       s.id,
			Age:      o.clock.Since(s.started),
			Idle:     o.clock.Since(s.lastSeen),
			Blinks:   s.blinks,
			Required: o.opts.BlinksRequired,
		})
	}
	return out
}

// VerifyFingerprint resolves a matched sensor slot to a user.
func (o *Orchestrator) VerifyFingerprint(device string, req messaging.FingerprintRequest) Reply {
	if req.FingerprintID == nil {
		return o.conclude(device, db.MethodFingerprint, messaging.StatusDeniedError, "Null fingerprint id", nil)
	}
	u, err := o.db.UserByFingerprint(*req.FingerprintID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return o.conclude(device, db.MethodFingerprint, messaging.StatusDeniedUnknown, "Unknown fingerprint", nil)
	case err != nil:
		monitoring.Logf("verifier: lookup fingerprint %d: %v", *req.FingerprintID, err)
		return o.conclude(device, db.MethodFingerprint, messaging.StatusDeniedError, "Server error", nil)
	}
	if !u.Access.AllowsFingerprint() {
		return o.conclude(device, db.MethodFingerprint, messaging.StatusDeniedNoAccess, "Fingerprint access not permitted", u)
	}
	return o.conclude(device, db.MethodFingerprint, messaging.StatusAuthenticated, "", u)
}
