package verifier

import (
	"context"
	"time"

	"github.com/banshee-data/accessgate/internal/messaging"
	"github.com/banshee-data/accessgate/internal/monitoring"
)

// Service connects an Orchestrator to the message bus.
type Service struct {
	orch          *Orchestrator
	bus           messaging.Bus
	topics        messaging.Topics
	sweepInterval time.Duration
}

func NewService(orch *Orchestrator, bus messaging.Bus, topics messaging.Topics, sweepInterval time.Duration) *Service {
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	return &Service{orch: orch, bus: bus, topics: topics, sweepInterval: sweepInterval}
}

// Start subscribes to every device request topic.
func (s *Service) Start() error {
	for _, f := range s.topics.BackendFilters() {
		if err := s.bus.Subscribe(f, s.handle); err != nil {
			return err
		}
		monitoring.Logf("verifier: subscribed to %s", f)
	}
	return nil
}

// Run sweeps stale liveness sessions until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.orch.Sweep()
		}
	}
}

func (s *Service) handle(ctx context.Context, msg messaging.Message) {
	kind, device := s.topics.Parse(msg.Topic)
	var reply Reply
	switch kind {
	case messaging.KindFacialStream:
		reply = s.orch.ProcessFrame(ctx, device, msg.Payload)
	case messaging.KindFacialStop:
		s.orch.StopFacial(device)
	case messaging.KindFingerprint:
		var req messaging.FingerprintRequest
		if err := messaging.Decode(msg.Payload, &req); err != nil {
			monitoring.Logf("verifier: %s: bad fingerprint request: %v", device, err)
			reply = respond(messaging.StatusDeniedError, "Malformed request")
			break
		}
		reply = s.orch.VerifyFingerprint(device, req)
	case messaging.KindEnrollFacial:
		var data messaging.EnrollFacialData
		if err := messaging.Decode(msg.Payload, &data); err != nil {
			monitoring.Logf("verifier: %s: bad enrollment photo: %v", device, err)
			reply = respond(messaging.StatusEnrollFacialFail, "Malformed request")
			break
		}
		reply = s.orch.EnrollFacial(device, data)
	case messaging.KindEnrollFinger:
		var data messaging.EnrollFingerData
		if err := messaging.Decode(msg.Payload, &data); err != nil {
			monitoring.Logf("verifier: %s: bad fingerprint enrollment: %v", device, err)
			return
		}
		reply = s.orch.EnrollFinger(device, data)
	default:
		monitoring.Logf("verifier: ignoring message on %s", msg.Topic)
		return
	}
	s.send(ctx, device, reply)
}

func (s *Service) send(ctx context.Context, device string, r Reply) {
	if r.Response != nil {
		if err := messaging.PublishJSON(ctx, s.bus, s.topics.Response(device), r.Response); err != nil {
			monitoring.Logf("verifier: publish response to %s: %v", device, err)
		}
	}
	if r.Command != nil {
		if err := SendCommand(ctx, s.bus, s.topics, device, *r.Command); err != nil {
			monitoring.Logf("verifier: publish command to %s: %v", device, err)
		}
	}
}

// SendCommand publishes cmd to device's command topic. Wiping the sensor
// library is sent at least once.
func SendCommand(ctx context.Context, p messaging.Publisher, topics messaging.Topics, device string, cmd messaging.Command) error {
	if cmd.Command == messaging.CommandClearAllFingers {
		return messaging.PublishAtLeastOnce(ctx, p, topics.Command(device), messaging.Encode(cmd))
	}
	return messaging.PublishJSON(ctx, p, topics.Command(device), cmd)
}
