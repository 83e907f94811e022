package faceengine

import (
	"encoding/binary"
	"fmt"
	"io"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/accessgate/internal/liveness"
)

// maxFrame bounds a single request or response body.
const maxFrame = 32 << 20

const (
	opDetect = "detect"
	opEncode = "encode"
	opPing   = "ping"
)

// request is the JSON body sent to a helper. Image is base64 on the wire.
type request struct {
	Op    string `json:"op"`
	Image []byte `json:"image,omitempty"`
	Box   *Box   `json:"box,omitempty"`
}

type wireFace struct {
	Box       Box          `json:"box"`
	Landmarks [][2]float64 `json:"landmarks"`
}

type response struct {
	Faces    []wireFace `json:"faces,omitempty"`
	Encoding []float64  `json:"encoding,omitempty"`
	Error    string     `json:"error,omitempty"`
}

func (r response) faces() []Face {
	out := make([]Face, 0, len(r.Faces))
	for _, f := range r.Faces {
		lm := make(liveness.Landmarks, len(f.Landmarks))
		for i, p := range f.Landmarks {
			lm[i] = r2.Vec{X: p[0], Y: p[1]}
		}
		out = append(out, Face{Box: f.Box, Landmarks: lm})
	}
	return out
}

// writeFrame sends data prefixed with its big-endian uint32 length.
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrame {
		return fmt.Errorf("frame too large: %d bytes", len(data))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrame {
		return nil, fmt.Errorf("frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	_, err := io.ReadFull(r, body)
	return body, err
}
