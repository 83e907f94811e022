package messaging

import (
	"encoding/json"
	"strings"
)

// Status is the outcome code carried in a response.
type Status string

const (
	StatusVerifyingNoFace    Status = "verifying_no_face"
	StatusVerifyingLiveness  Status = "verifying_liveness"
	StatusAuthenticated      Status = "authenticated"
	StatusDeniedUnknown      Status = "denied_unknown"
	StatusDeniedNoAccess     Status = "denied_no_access"
	StatusDeniedSpoofing     Status = "denied_spoofing"
	StatusDeniedError        Status = "denied_error"
	StatusEnrollFacialOK     Status = "enroll_facial_ok"
	StatusEnrollFacialFail   Status = "enroll_facial_fail"
	StatusEnrollFingerOK     Status = "enroll_finger_ok"
	StatusEnrollFingerFailDB Status = "enroll_finger_fail_db"
)

// Verifying reports whether s is an in-progress verification update.
func (s Status) Verifying() bool { return strings.HasPrefix(string(s), "verifying_") }

// EnrollFailure reports whether s rejects an enrollment step.
func (s Status) EnrollFailure() bool {
	return strings.HasPrefix(string(s), "enroll_") && strings.Contains(string(s), "fail")
}

// AccessOutcome reports whether s terminates a verification attempt.
func (s Status) AccessOutcome() bool {
	switch s {
	case StatusAuthenticated, StatusDeniedUnknown, StatusDeniedNoAccess, StatusDeniedSpoofing, StatusDeniedError:
		return true
	}
	return false
}

// Command names sent from the backend to a device.
const (
	CommandStartAdminEnroll = "start_admin_enroll"
	CommandDeleteFinger     = "delete_finger"
	CommandClearAllFingers  = "clear_all_fingers"
)

// FingerprintRequest asks the backend who owns a matched sensor slot.
type FingerprintRequest struct {
	FingerprintID *int `json:"fingerprint_id"`
}

// StopRequest ends a facial verification stream. It carries no fields.
type StopRequest struct{}

// EnrollFacialData carries an enrollment photo.
type EnrollFacialData struct {
	Cedula   string `json:"cedula"`
	ImageB64 string `json:"image_b64"`
}

// EnrollFingerData binds a freshly stored sensor slot to a user.
type EnrollFingerData struct {
	Cedula        string `json:"cedula"`
	FingerprintID int    `json:"fingerprint_id"`
}

// Response reports an outcome to a device. Nombres carries the user's display
// name on success and a human readable detail otherwise.
type Response struct {
	Status  Status `json:"status"`
	Nombres string `json:"nombres"`
}

// Command is an instruction pushed to a device.
type Command struct {
	Command       string `json:"command"`
	UserCedula    string `json:"user_cedula,omitempty"`
	UserNombres   string `json:"user_nombres,omitempty"`
	FingerprintID *int   `json:"fingerprint_id,omitempty"`
}

// Encode marshals v, panicking only on types that cannot be JSON encoded.
func Encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("messaging: encode " + err.Error())
	}
	return b
}

// Decode unmarshals payload into v.
func Decode(payload []byte, v any) error {
	return json.Unmarshal(payload, v)
}
