// Package liveness detects deliberate eye blinks from facial landmarks using
// the eye aspect ratio (EAR).
package liveness

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"
)

const (
	// DefaultThreshold is the EAR below which an eye counts as closed.
	DefaultThreshold = 0.25
	// DefaultConsecutiveFrames is how many closed frames make a blink.
	DefaultConsecutiveFrames = 2

	// LandmarkCount is the size of the standard 68-point face layout.
	LandmarkCount = 68

	degenerateWidth = 1e-6
)

// Landmarks are facial keypoints in the 68-point layout.
type Landmarks []r2.Vec

// LeftEye returns points 36-41.
func (l Landmarks) LeftEye() []r2.Vec { return l[36:42] }

// RightEye returns points 42-47.
func (l Landmarks) RightEye() []r2.Vec { return l[42:48] }

// Result is the state of the detector after one frame.
type Result int

const (
	Watching Result = iota
	Closing
	BlinkConfirmed
)

func (r Result) String() string {
	switch r {
	case Watching:
		return "watching"
	case Closing:
		return "closing"
	case BlinkConfirmed:
		return "blink_confirmed"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Detector counts consecutive closed-eye frames. It is not safe for
// concurrent use; its owner serialises access.
type Detector struct {
	threshold   float64
	consecutive int
	closed      int
}

// NewDetector returns a detector with the given threshold and consecutive
// frame requirement. Non-positive values select the defaults.
func NewDetector(threshold float64, consecutive int) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if consecutive <= 0 {
		consecutive = DefaultConsecutiveFrames
	}
	return &Detector{threshold: threshold, consecutive: consecutive}
}

// Threshold returns the closed-eye EAR threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// Reset forgets any closed frames seen so far.
func (d *Detector) Reset() { d.closed = 0 }

// Observe advances the detector by one frame with the given EAR.
func (d *Detector) Observe(ear float64) Result {
	if ear < d.threshold {
		d.closed++
		return Closing
	}
	confirmed := d.closed >= d.consecutive
	d.closed = 0
	if confirmed {
		return BlinkConfirmed
	}
	return Watching
}

// Check computes the EAR for lm and advances the detector.
func (d *Detector) Check(lm Landmarks) (Result, error) {
	ear, err := d.EAR(lm)
	if err != nil {
		d.Reset()
		return Watching, err
	}
	return d.Observe(ear), nil
}

// EAR returns the mean eye aspect ratio of both eyes.
func (d *Detector) EAR(lm Landmarks) (float64, error) {
	if len(lm) < 48 {
		return 0, fmt.Errorf("liveness: need %d landmarks, got %d", LandmarkCount, len(lm))
	}
	return (d.eyeRatio(lm.LeftEye()) + d.eyeRatio(lm.RightEye())) / 2, nil
}

// eyeRatio is (|p1-p5| + |p2-p4|) / (2|p0-p3|). A degenerate horizontal
// span reads as wide open.
func (d *Detector) eyeRatio(eye []r2.Vec) float64 {
	a := r2.Norm(r2.Sub(eye[1], eye[5]))
	b := r2.Norm(r2.Sub(eye[2], eye[4]))
	c := r2.Norm(r2.Sub(eye[0], eye[3]))
	if c < degenerateWidth {
		return d.threshold * 2
	}
	return (a + b) / (2 * c)
}
