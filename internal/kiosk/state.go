// Package kiosk runs the access terminal: a single interaction at a time
// moves through a small state machine that drives the fingerprint sensor,
// streams camera frames and reacts to verdicts from the verifier.
package kiosk

import (
	"errors"
	"fmt"
)

// State is the phase of the current interaction.
type State int

const (
	StateIdle State = iota
	StateVerifyingFacial
	StateVerifyingFinger
	StateEnrollPhoto
	StateEnrollFinger
	StateShowResult
)

var stateNames = [...]string{
	StateIdle:            "IDLE",
	StateVerifyingFacial: "VERIFYING_FACIAL",
	StateVerifyingFinger: "VERIFYING_FINGER",
	StateEnrollPhoto:     "ADMIN_ENROLL_PHOTO",
	StateEnrollFinger:    "ADMIN_ENROLL_FINGER",
	StateShowResult:      "SHOW_RESULT",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether s is IDLE or SHOW_RESULT, the states cancel does
// not leave.
func (s State) Terminal() bool { return s == StateIdle || s == StateShowResult }

var (
	// ErrBusy is returned when an action needs IDLE and another interaction
	// is in progress.
	ErrBusy = errors.New("kiosk: another interaction is in progress")
	// ErrWrongState is returned for actions that do not apply to the
	// current state.
	ErrWrongState = errors.New("kiosk: action not valid in current state")
	// ErrNoPendingEnrollment is returned when enrollment starts before the
	// backend has named the person to enroll.
	ErrNoPendingEnrollment = errors.New("kiosk: no enrollment pending")
)

// Identity is the person an administrator asked to enroll.
type Identity struct {
	Cedula  string `json:"cedula"`
	Nombres string `json:"nombres"`
}
