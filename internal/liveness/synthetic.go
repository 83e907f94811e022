package liveness

import "gonum.org/v1/gonum/spatial/r2"

// SyntheticLandmarks builds a 68-point set whose eyes both have the given
// aspect ratio. Points outside the eyes are left at the origin.
func SyntheticLandmarks(ear float64) Landmarks {
	lm := make(Landmarks, LandmarkCount)
	h := 1.5 * ear
	eye := func(base int, dx float64) {
		lm[base+0] = r2.Vec{X: dx + 0, Y: 0}
		lm[base+1] = r2.Vec{X: dx + 1, Y: h}
		lm[base+2] = r2.Vec{X: dx + 2, Y: h}
		lm[base+3] = r2.Vec{X: dx + 3, Y: 0}
		lm[base+4] = r2.Vec{X: dx + 2, Y: -h}
		lm[base+5] = r2.Vec{X: dx + 1, Y: -h}
	}
	eye(36, 0)
	eye(42, 10)
	return lm
}
