package kiosk

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/accessgate/internal/fingerprint"
	"github.com/banshee-data/accessgate/internal/messaging"
	"github.com/banshee-data/accessgate/internal/monitoring"
	"github.com/banshee-data/accessgate/internal/timeutil"
)

var (
	errGone            = errors.New("kiosk: interaction ended")
	errFingerNotLifted = errors.New("kiosk: finger not lifted")
)

// pollCapture asks the sensor for an image up to attempts times. It returns
// errGone when ctx is cancelled and false when no finger showed up.
func (c *Coordinator) pollCapture(ctx context.Context, attempts int) (bool, error) {
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return false, errGone
		}
		if c.sensor.Capture().OK() {
			if ctx.Err() != nil {
				return false, errGone
			}
			return true, nil
		}
		if err := timeutil.Sleep(ctx, c.clock, c.opts.PollInterval); err != nil {
			return false, errGone
		}
	}
	return false, ctx.Err()
}

// waitRemoval polls until the glass is empty, for at most attempts polls.
// It returns errFingerNotLifted if the finger is still there afterwards.
func (c *Coordinator) waitRemoval(ctx context.Context, attempts int) error {
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return errGone
		}
		if c.sensor.Capture() == fingerprint.CaptureNoFinger {
			return nil
		}
		if err := timeutil.Sleep(ctx, c.clock, c.opts.PollInterval); err != nil {
			return errGone
		}
	}
	if ctx.Err() != nil {
		return errGone
	}
	return errFingerNotLifted
}

func (c *Coordinator) setMessage(gen uint64, msg string) bool {
	return c.ifCurrent(gen, func() { c.message = msg })
}

func (c *Coordinator) fail(gen uint64, msg string, status messaging.Status) {
	c.ifCurrent(gen, func() { c.showResultLocked(msg, status) })
}

func (c *Coordinator) verifyWorker(ctx context.Context, gen uint64) {
	ok, err := c.pollCapture(ctx, c.opts.VerifyAttempts)
	if err != nil {
		return
	}
	if !ok {
		c.fail(gen, "Timed out: no finger detected", messaging.StatusDeniedError)
		return
	}
	if !c.setMessage(gen, "Processing fingerprint...") || ctx.Err() != nil {
		return
	}
	if !c.sensor.Extract(fingerprint.Buffer1).OK() {
		c.fail(gen, "Could not process fingerprint", messaging.StatusDeniedError)
		return
	}
	if ctx.Err() != nil {
		return
	}
	m, res := c.sensor.Search(fingerprint.Buffer1)
	switch res {
	case fingerprint.SearchNotFound:
		c.fail(gen, "Fingerprint not recognized", messaging.StatusDeniedUnknown)
		return
	case fingerprint.SearchFailed:
		c.fail(gen, "Sensor error", messaging.StatusDeniedError)
		return
	}
	monitoring.Logf("kiosk: fingerprint match slot=%d score=%d", m.Slot, m.Score)

	if !c.current(gen) {
		return
	}
	id := m.Slot
	payload := messaging.Encode(messaging.FingerprintRequest{FingerprintID: &id})
	if err := c.publish(c.opts.Topics.Fingerprint(c.opts.DeviceID), payload); err != nil {
		c.fail(gen, "Network error", messaging.StatusDeniedError)
		return
	}
	c.setMessage(gen, "Checking access...")
}

func (c *Coordinator) enrollWorker(ctx context.Context, gen uint64) {
	n, err := c.sensor.TemplateCount()
	if err != nil {
		c.fail(gen, "Sensor error", messaging.StatusDeniedError)
		return
	}
	if n >= c.sensor.Capacity() {
		c.fail(gen, "Sensor full", messaging.StatusDeniedError)
		return
	}

	bufs := []fingerprint.Buffer{fingerprint.Buffer1, fingerprint.Buffer2}
	for i, buf := range bufs {
		if !c.setMessage(gen, fmt.Sprintf("Place finger (%d/2)", i+1)) {
			return
		}
		ok, err := c.pollCapture(ctx, c.opts.EnrollAttempts)
		if err != nil {
			return
		}
		if !ok {
			c.fail(gen, "Timed out waiting for finger", messaging.StatusDeniedError)
			return
		}
		if ctx.Err() != nil {
			return
		}
		if !c.sensor.Extract(buf).OK() {
			c.fail(gen, fmt.Sprintf("Could not process fingerprint (%d/2)", i+1), messaging.StatusDeniedError)
			return
		}
		if i == 0 {
			if !c.setMessage(gen, "Remove finger") {
				return
			}
			if err := timeutil.Sleep(ctx, c.clock, c.opts.RemovalSettle); err != nil {
				return
			}
			if err := c.waitRemoval(ctx, c.opts.EnrollAttempts); err != nil {
				if errors.Is(err, errFingerNotLifted) {
					c.fail(gen, "Timed out waiting for finger removal", messaging.StatusDeniedError)
				}
				return
			}
		}
	}

	if ctx.Err() != nil {
		return
	}
	switch c.sensor.BuildModel() {
	case fingerprint.ModelOK:
	case fingerprint.ModelMismatch:
		c.fail(gen, "Fingerprints did not match", messaging.StatusDeniedError)
		return
	default:
		c.fail(gen, "Sensor error", messaging.StatusDeniedError)
		return
	}
	if ctx.Err() != nil {
		return
	}
	slot, err := c.sensor.StoreAuto(fingerprint.Buffer1)
	if err != nil {
		msg := "Could not store fingerprint"
		if errors.Is(err, fingerprint.ErrSensorFull) {
			msg = "Sensor full"
		}
		monitoring.Logf("kiosk: store template: %v", err)
		c.fail(gen, msg, messaging.StatusDeniedError)
		return
	}
	monitoring.Logf("kiosk: stored template in slot %d", slot)

	var data messaging.EnrollFingerData
	if !c.ifCurrent(gen, func() {
		data = messaging.EnrollFingerData{Cedula: c.pending.Cedula, FingerprintID: slot}
	}) {
		monitoring.Logf("kiosk: enrollment abandoned after storing slot %d", slot)
		return
	}
	if err := c.publish(c.opts.Topics.EnrollFinger(c.opts.DeviceID), messaging.Encode(data)); err != nil {
		c.fail(gen, "Network error", messaging.StatusDeniedError)
		return
	}
	c.setMessage(gen, "Fingerprint sent, waiting for confirmation...")
}
