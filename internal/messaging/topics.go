// Package messaging defines the kiosk/backend message contract and the
// publish/subscribe transports that carry it.
package messaging

import (
	"strings"
)

// DefaultPrefix is the root of every topic.
const DefaultPrefix = "acceso"

// Topics builds topic names under a common prefix.
type Topics struct {
	Prefix string
}

// NewTopics returns a Topics with prefix, or DefaultPrefix when empty.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) join(parts ...string) string {
	return t.Prefix + "/" + strings.Join(parts, "/")
}

func (t Topics) FacialStream(device string) string { return t.join("request", "facial", "stream", device) }
func (t Topics) FacialStop(device string) string   { return t.join("request", "facial", "stop", device) }
func (t Topics) Fingerprint(device string) string  { return t.join("request", "fingerprint", device) }
func (t Topics) EnrollFacial(device string) string { return t.join("enroll", "facial", "data", device) }
func (t Topics) EnrollFinger(device string) string { return t.join("enroll", "fingerprint", "data", device) }
func (t Topics) Response(device string) string     { return t.join("response", device) }
func (t Topics) Command(device string) string      { return t.join("command", device) }

// Kind classifies a concrete topic.
type Kind int

const (
	KindUnknown Kind = iota
	KindFacialStream
	KindFacialStop
	KindFingerprint
	KindEnrollFacial
	KindEnrollFinger
	KindResponse
	KindCommand
)

// Parse splits topic into its kind and device id.
func (t Topics) Parse(topic string) (Kind, string) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok {
		return KindUnknown, ""
	}
	parts := strings.Split(rest, "/")
	last := parts[len(parts)-1]
	if last == "" {
		return KindUnknown, ""
	}
	head := strings.Join(parts[:len(parts)-1], "/")
	switch head {
	case "request/facial/stream":
		return KindFacialStream, last
	case "request/facial/stop":
		return KindFacialStop, last
	case "request/fingerprint":
		return KindFingerprint, last
	case "enroll/facial/data":
		return KindEnrollFacial, last
	case "enroll/fingerprint/data":
		return KindEnrollFinger, last
	case "response":
		return KindResponse, last
	case "command":
		return KindCommand, last
	}
	return KindUnknown, ""
}

// BackendFilters are the subscriptions a verification backend needs to
// serve every device.
func (t Topics) BackendFilters() []string {
	return []string{
		t.FacialStream("+"),
		t.FacialStop("+"),
		t.Fingerprint("+"),
		t.EnrollFacial("+"),
		t.EnrollFinger("+"),
	}
}

// QoS returns the delivery level used for topic. Fingerprint verification
// requests are at-least-once; everything else is best effort.
func (t Topics) QoS(topic string) byte {
	if kind, _ := t.Parse(topic); kind == KindFingerprint {
		return 1
	}
	return 0
}

// Match reports whether topic matches an MQTT filter with + and #
// wildcards.
func Match(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return i == len(fp)-1
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
