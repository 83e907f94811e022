package faceengine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/accessgate/internal/fsutil"
	"github.com/banshee-data/accessgate/internal/monitoring"
)

// DefaultTolerance is the largest encoding distance accepted as a match.
const DefaultTolerance = 0.6

// ErrGalleryEmpty is returned by Match when nobody is enrolled.
var ErrGalleryEmpty = errors.New("faceengine: model not trained")

// Entry is one enrolled encoding.
type Entry struct {
	Cedula   string
	Encoding []float64
}

// snapshot is the on-disk layout: parallel lists of encodings and owners.
type snapshot struct {
	Encodings [][]float64 `json:"encodings"`
	Names     []string    `json:"names"`
}

// Gallery is the in-memory encoding table backed by a snapshot file. One
// mutex covers reads, wholesale replacement and incremental appends.
type Gallery struct {
	mu      sync.Mutex
	fs      fsutil.FileSystem
	path    string
	entries []Entry
}

func NewGallery(fsys fsutil.FileSystem, path string) *Gallery {
	return &Gallery{fs: fsys, path: path}
}

// Load replaces the table with the snapshot on disk. A missing snapshot
// loads as empty.
func (g *Gallery) Load() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	entries, err := g.readLocked()
	if err != nil {
		return err
	}
	g.entries = entries
	monitoring.Logf("gallery: loaded %d encodings from %s", len(entries), g.path)
	return nil
}

func (g *Gallery) readLocked() ([]Entry, error) {
	data, err := g.fs.ReadFile(g.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read gallery: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse gallery %s: %w", g.path, err)
	}
	if len(snap.Encodings) != len(snap.Names) {
		return nil, fmt.Errorf("parse gallery %s: %d encodings for %d names", g.path, len(snap.Encodings), len(snap.Names))
	}
	entries := make([]Entry, len(snap.Names))
	for i := range snap.Names {
		entries[i] = Entry{Cedula: snap.Names[i], Encoding: snap.Encodings[i]}
	}
	return entries, nil
}

func (g *Gallery) writeLocked(entries []Entry) error {
	snap := snapshot{Encodings: make([][]float64, 0, len(entries)), Names: make([]string, 0, len(entries))}
	for _, e := range entries {
		snap.Encodings = append(snap.Encodings, e.Encoding)
		snap.Names = append(snap.Names, e.Cedula)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(g.fs, g.path, data, 0o644)
}

// Replace writes entries as the new snapshot and swaps them in.
func (g *Gallery) Replace(entries []Entry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.writeLocked(entries); err != nil {
		return err
	}
	g.entries = entries
	return nil
}

// Append adds one encoding. The snapshot is re-read from disk first so an
// append never loses entries written by another process.
func (g *Gallery) Append(cedula string, enc []float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	entries, err := g.readLocked()
	if err != nil {
		monitoring.Logf("gallery: %v; starting a new snapshot", err)
		entries = nil
	}
	entries = append(entries, Entry{Cedula: cedula, Encoding: enc})
	if err := g.writeLocked(entries); err != nil {
		return err
	}
	g.entries = entries
	return nil
}

// Len returns the number of encodings.
func (g *Gallery) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Users returns the number of encodings held per user.
func (g *Gallery) Users() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int)
	for _, e := range g.entries {
		out[e.Cedula]++
	}
	return out
}

// MatchResult is the outcome of a gallery lookup. Cedula and Distance
// describe the closest entry even when it lies outside the tolerance.
type MatchResult struct {
	Matched  bool
	Cedula   string
	Distance float64
}

// Match finds the closest enrolled encoding to enc. It matches when the
// Euclidean distance is within tol.
func (g *Gallery) Match(enc []float64, tol float64) (MatchResult, error) {
	g.mu.Lock()
	entries := g.entries
	g.mu.Unlock()

	if len(entries) == 0 {
		return MatchResult{}, ErrGalleryEmpty
	}
	best := MatchResult{Distance: math.Inf(1)}
	for _, e := range entries {
		if len(e.Encoding) != len(enc) {
			continue
		}
		if d := floats.Distance(e.Encoding, enc, 2); d < best.Distance {
			best.Distance = d
			best.Cedula = e.Cedula
		}
	}
	best.Matched = best.Cedula != "" && best.Distance <= tol
	return best, nil
}
