// Package faceengine detects faces, computes identity encodings and matches
// them against the enrolled gallery. Detection and encoding run in helper
// processes behind the Engine interface; everything else is pure Go.
package faceengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/banshee-data/accessgate/internal/liveness"
)

var (
	// ErrNoFace is returned when an image contains no detectable face.
	ErrNoFace = errors.New("faceengine: no face in image")
	// ErrUnavailable is returned when no engine worker can serve a request.
	ErrUnavailable = errors.New("faceengine: engine unavailable")
)

// Box is a face bounding box in pixel coordinates.
type Box struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns the box area in pixels.
func (b Box) Area() int { return b.Width * b.Height }

// Face is one detection with its 68-point landmarks.
type Face struct {
	Box       Box
	Landmarks liveness.Landmarks
}

// Engine is the face analysis backend.
type Engine interface {
	// Detect returns the faces found in an encoded image, largest first.
	Detect(ctx context.Context, img []byte) ([]Face, error)
	// Encode computes the identity encoding of the face inside box.
	Encode(ctx context.Context, img []byte, box Box) ([]float64, error)
}

// CheckImage verifies that img is a decodable JPEG or PNG and returns its
// dimensions.
func CheckImage(img []byte) (image.Config, error) {
	if len(img) == 0 {
		return image.Config{}, errors.New("empty image")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return image.Config{}, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return image.Config{}, fmt.Errorf("decode image: empty %s", format)
	}
	return cfg, nil
}

// EncodeFirst detects faces in img and encodes the largest one.
func EncodeFirst(ctx context.Context, e Engine, img []byte) ([]float64, error) {
	faces, err := e.Detect(ctx, img)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, ErrNoFace
	}
	return e.Encode(ctx, img, faces[0].Box)
}
