package verifier

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/accessgate/internal/db"
	"github.com/banshee-data/accessgate/internal/faceengine"
	"github.com/banshee-data/accessgate/internal/fsutil"
	"github.com/banshee-data/accessgate/internal/liveness"
	"github.com/banshee-data/accessgate/internal/timeutil"
)

const noFace = -1.0

// scriptedEngine returns one face per Detect whose eyes have the next EAR
// in its script. noFace yields an empty detection. Once the script runs
// out every frame has open eyes.
type scriptedEngine struct {
	mu        sync.Mutex
	ears      []float64
	encoding  []float64
	detectErr error
	encodeErr error
}

func (e *scriptedEngine) script(ears ...float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ears = append(e.ears, ears...)
}

func (e *scriptedEngine) Detect(context.Context, []byte) ([]faceengine.Face, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detectErr != nil {
		return nil, e.detectErr
	}
	ear := 0.3
	if len(e.ears) > 0 {
		ear, e.ears = e.ears[0], e.ears[1:]
	}
	if ear == noFace {
		return nil, nil
	}
	return []faceengine.Face{{
		Box:       faceengine.Box{Left: 4, Top: 4, Width: 40, Height: 40},
		Landmarks: liveness.SyntheticLandmarks(ear),
	}}, nil
}

func (e *scriptedEngine) Encode(context.Context, []byte, faceengine.Box) ([]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.encodeErr != nil {
		return nil, e.encodeErr
	}
	return e.encoding, nil
}

type fixture struct {
	orch    *Orchestrator
	db      *db.DB
	clock   *timeutil.MockClock
	engine  *scriptedEngine
	gallery *faceengine.Gallery
	fs      *fsutil.MemoryFileSystem
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "verifier.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	fsys := fsutil.NewMemoryFileSystem()
	f := &fixture{
		db:      database,
		clock:   timeutil.NewMockClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)),
		engine:  &scriptedEngine{encoding: []float64{0.1, 0}},
		gallery: faceengine.NewGallery(fsys, "/var/lib/accessgate/encodings.json"),
		fs:      fsys,
	}
	f.orch = New(opts, Deps{
		DB:      database,
		Engine:  f.engine,
		Gallery: f.gallery,
		Dataset: faceengine.Dataset{FS: fsys, Root: "/var/lib/accessgate/dataset"},
		Clock:   f.clock,
	})
	t.Cleanup(f.orch.Close)
	return f
}

func (f *fixture) addUser(t *testing.T, cedula, nombres string, access db.AccessType) {
	t.Helper()
	_, err := f.db.CreateUser(db.User{Cedula: cedula, Nombres: nombres, Access: access})
	require.NoError(t, err)
}

func (f *fixture) audit(t *testing.T) []db.AccessEvent {
	t.Helper()
	events, err := f.db.RecentAccess(100)
	require.NoError(t, err)
	return events
}

var errEngine = errors.New("engine crashed")

func testJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 16, 12)), nil))
	return buf.Bytes()
}
