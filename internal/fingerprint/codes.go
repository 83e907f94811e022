package fingerprint

import (
	"errors"
	"fmt"
)

// Opcode is the instruction byte of a command packet.
type Opcode byte

const (
	OpGetImage       Opcode = 0x01
	OpImage2Tz       Opcode = 0x02
	OpMatch          Opcode = 0x03
	OpSearch         Opcode = 0x04
	OpRegModel       Opcode = 0x05
	OpStore          Opcode = 0x06
	OpLoad           Opcode = 0x07
	OpDelete         Opcode = 0x0C
	OpEmpty          Opcode = 0x0D
	OpVerifyPassword Opcode = 0x13
	OpTemplateCount  Opcode = 0x1D
)

var opcodeNames = map[Opcode]string{
	OpGetImage:       "get_image",
	OpImage2Tz:       "image2tz",
	OpMatch:          "match",
	OpSearch:         "search",
	OpRegModel:       "reg_model",
	OpStore:          "store",
	OpLoad:           "load",
	OpDelete:         "delete",
	OpEmpty:          "empty",
	OpVerifyPassword: "verify_password",
	OpTemplateCount:  "template_count",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("opcode(0x%02x)", byte(o))
}

// Confirmation is the status byte a sensor returns in every acknowledgement.
type Confirmation byte

const (
	ConfirmOK             Confirmation = 0x00
	ConfirmPacketError    Confirmation = 0x01
	ConfirmNoFinger       Confirmation = 0x02
	ConfirmImageFail      Confirmation = 0x03
	ConfirmImageMessy     Confirmation = 0x06
	ConfirmFeatureFail    Confirmation = 0x07
	ConfirmNoMatch        Confirmation = 0x08
	ConfirmNotFound       Confirmation = 0x09
	ConfirmEnrollMismatch Confirmation = 0x0A
	ConfirmBadLocation    Confirmation = 0x0B
	ConfirmReadTemplate   Confirmation = 0x0C
	ConfirmDeleteFail     Confirmation = 0x10
	ConfirmClearFail      Confirmation = 0x11
	ConfirmBadPassword    Confirmation = 0x13
	ConfirmFlashError     Confirmation = 0x18
)

func (c Confirmation) String() string {
	switch c {
	case ConfirmOK:
		return "ok"
	case ConfirmPacketError:
		return "packet error"
	case ConfirmNoFinger:
		return "no finger"
	case ConfirmImageFail, ConfirmImageMessy:
		return "image capture failed"
	case ConfirmFeatureFail:
		return "feature extraction failed"
	case ConfirmNoMatch:
		return "no match"
	case ConfirmNotFound:
		return "not found"
	case ConfirmEnrollMismatch:
		return "captures did not combine"
	case ConfirmBadLocation:
		return "location out of range"
	case ConfirmReadTemplate:
		return "template read error"
	case ConfirmDeleteFail:
		return "delete failed"
	case ConfirmClearFail:
		return "clear failed"
	case ConfirmBadPassword:
		return "wrong password"
	case ConfirmFlashError:
		return "flash write error"
	}
	return fmt.Sprintf("confirmation(0x%02x)", byte(c))
}

// Buffer selects one of the two on-chip character buffers.
type Buffer byte

const (
	Buffer1 Buffer = 1
	Buffer2 Buffer = 2
)

var (
	// ErrNoResponse is returned when the sensor did not produce a valid
	// acknowledgement within the operation timeout.
	ErrNoResponse = errors.New("fingerprint: no response from sensor")
	// ErrSensorFull is returned when every template slot is occupied.
	ErrSensorFull = errors.New("fingerprint: no free template slot")
	// ErrDisabled is returned by operations on a sensor that failed to open.
	ErrDisabled = errors.New("fingerprint: sensor disabled")
)

// RejectedError reports a well-formed acknowledgement carrying a failure code.
type RejectedError struct {
	Op   Opcode
	Code Confirmation
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("fingerprint: %s rejected: %s", e.Op, e.Code)
}

// CaptureResult is the outcome of asking the sensor for an image.
type CaptureResult int

const (
	CaptureOK CaptureResult = iota
	CaptureNoFinger
	CaptureFailed
)

// OK reports whether an image was taken.
func (r CaptureResult) OK() bool { return r == CaptureOK }

func (r CaptureResult) String() string {
	switch r {
	case CaptureOK:
		return "ok"
	case CaptureNoFinger:
		return "no finger"
	}
	return "failed"
}

// ExtractResult is the outcome of converting the image into a character file.
type ExtractResult int

const (
	ExtractOK ExtractResult = iota
	ExtractFailed
)

func (r ExtractResult) OK() bool { return r == ExtractOK }

// ModelResult is the outcome of combining both character buffers.
type ModelResult int

const (
	ModelOK ModelResult = iota
	ModelMismatch
	ModelFailed
)

func (r ModelResult) OK() bool { return r == ModelOK }

// SearchResult is the outcome of a library search.
type SearchResult int

const (
	SearchFound SearchResult = iota
	SearchNotFound
	SearchFailed
)

// Match is a library hit.
type Match struct {
	Slot  int
	Score int
}
