package kiosk

import (
	"context"
	"fmt"

	"github.com/banshee-data/accessgate/internal/messaging"
	"github.com/banshee-data/accessgate/internal/monitoring"
)

// Subscribe registers the coordinator for this device's response and
// command topics.
func (c *Coordinator) Subscribe(bus messaging.Bus) error {
	for _, topic := range []string{
		c.opts.Topics.Response(c.opts.DeviceID),
		c.opts.Topics.Command(c.opts.DeviceID),
	} {
		if err := bus.Subscribe(topic, c.HandleMessage); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

// HandleMessage dispatches a delivery from the backend. Payloads that do not
// decode put the kiosk on a payload error result.
func (c *Coordinator) HandleMessage(_ context.Context, msg messaging.Message) {
	kind, device := c.opts.Topics.Parse(msg.Topic)
	if device != c.opts.DeviceID {
		return
	}
	switch kind {
	case messaging.KindResponse:
		var r messaging.Response
		if err := messaging.Decode(msg.Payload, &r); err != nil {
			c.payloadError(err)
			return
		}
		if r.Status == "" {
			r.Status = messaging.StatusDeniedError
		}
		c.HandleResponse(r)
	case messaging.KindCommand:
		var cmd messaging.Command
		if err := messaging.Decode(msg.Payload, &cmd); err != nil {
			c.payloadError(err)
			return
		}
		c.HandleCommand(cmd)
	}
}

func (c *Coordinator) payloadError(err error) {
	monitoring.Logf("kiosk: bad payload: %v", err)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.showResultLocked("Payload error", messaging.StatusDeniedError)
}

// HandleResponse applies a backend response to the current interaction.
// Responses that do not belong to it are dropped.
func (c *Coordinator) HandleResponse(r messaging.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case r.Status.Verifying():
		if c.state == StateVerifyingFacial {
			c.message = r.Nombres
		}

	case r.Status == messaging.StatusEnrollFacialOK:
		if c.state != StateEnrollPhoto {
			return
		}
		if !c.sensorAvailable() {
			c.showResultLocked("Fingerprint sensor unavailable", messaging.StatusDeniedError)
			return
		}
		c.setStateLocked(StateEnrollFinger)
		c.message = "Enrolling fingerprint: " + truncate(c.pending.Nombres, 25)
		c.spawnLocked(c.enrollWorker)

	case r.Status == messaging.StatusEnrollFingerOK:
		if c.state != StateEnrollFinger {
			return
		}
		c.pending = nil
		c.showResultLocked("Enrollment complete", r.Status)

	case r.Status.EnrollFailure():
		if c.state != StateEnrollPhoto && c.state != StateEnrollFinger {
			return
		}
		c.pending = nil
		c.showResultLocked(fmt.Sprintf("Enrollment failed (%s)", r.Status), messaging.StatusDeniedError)

	default:
		if c.state != StateVerifyingFacial && c.state != StateVerifyingFinger {
			monitoring.Logf("kiosk: ignoring %s in %s", r.Status, c.state)
			return
		}
		c.showResultLocked(outcomeMessage(r), r.Status)
	}
}

func outcomeMessage(r messaging.Response) string {
	switch r.Status {
	case messaging.StatusAuthenticated:
		return "ACCESS GRANTED: " + r.Nombres
	case messaging.StatusDeniedUnknown:
		return "ACCESS DENIED: unknown"
	case messaging.StatusDeniedNoAccess:
		return "ACCESS DENIED: not permitted"
	case messaging.StatusDeniedSpoofing:
		return "ACCESS DENIED: spoofing"
	case messaging.StatusDeniedError:
		if r.Nombres != "" {
			return "Error: " + r.Nombres
		}
	}
	return fmt.Sprintf("ACCESS DENIED: %s", r.Status)
}

// HandleCommand runs a backend command. Sensor maintenance happens outside
// the coordinator lock.
func (c *Coordinator) HandleCommand(cmd messaging.Command) {
	switch cmd.Command {
	case messaging.CommandStartAdminEnroll:
		if cmd.UserCedula == "" || cmd.UserNombres == "" {
			monitoring.Logf("kiosk: incomplete %s command", cmd.Command)
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state == StateEnrollPhoto || c.state == StateEnrollFinger {
			monitoring.Logf("kiosk: enrollment in progress, ignoring %s for %s", cmd.Command, cmd.UserCedula)
			return
		}
		c.pending = &Identity{Cedula: cmd.UserCedula, Nombres: cmd.UserNombres}
		if c.state == StateIdle {
			c.enterIdleLocked()
		}
		monitoring.Logf("kiosk: pending enrollment for %s", cmd.UserCedula)

	case messaging.CommandDeleteFinger:
		if cmd.FingerprintID == nil || !c.sensorAvailable() {
			return
		}
		if err := c.sensor.Delete(*cmd.FingerprintID, 1); err != nil {
			monitoring.Logf("kiosk: delete slot %d: %v", *cmd.FingerprintID, err)
			return
		}
		monitoring.Logf("kiosk: deleted slot %d", *cmd.FingerprintID)

	case messaging.CommandClearAllFingers:
		if !c.sensorAvailable() {
			return
		}
		if err := c.sensor.Empty(); err != nil {
			monitoring.Logf("kiosk: clear sensor: %v", err)
			return
		}
		monitoring.Logf("kiosk: sensor library cleared")

	default:
		monitoring.Logf("kiosk: unknown command %q", cmd.Command)
	}
}
