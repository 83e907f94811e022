package faceengine

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/accessgate/internal/fsutil"
)

const galleryPath = "/var/lib/accessgate/encodings.json"

func TestGalleryEmpty(t *testing.T) {
	g := NewGallery(fsutil.NewMemoryFileSystem(), galleryPath)
	require.NoError(t, g.Load(), "missing snapshot loads as empty")
	assert.Zero(t, g.Len())

	_, err := g.Match([]float64{0, 0}, DefaultTolerance)
	assert.ErrorIs(t, err, ErrGalleryEmpty)
}

func TestGalleryMatch(t *testing.T) {
	g := NewGallery(fsutil.NewMemoryFileSystem(), galleryPath)
	require.NoError(t, g.Replace([]Entry{
		{Cedula: "0102", Encoding: []float64{0, 0, 0}},
		{Cedula: "0304", Encoding: []float64{1, 0, 0}},
		{Cedula: "0102", Encoding: []float64{0.1, 0, 0}},
	}))

	res, err := g.Match([]float64{0.2, 0, 0}, DefaultTolerance)
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "0102", res.Cedula)
	assert.InDelta(t, 0.1, res.Distance, 1e-9)

	res, err = g.Match([]float64{0.9, 0, 0}, DefaultTolerance)
	require.NoError(t, err)
	assert.Equal(t, "0304", res.Cedula)

	res, err = g.Match([]float64{5, 5, 5}, DefaultTolerance)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, "0304", res.Cedula, "closest entry is still reported")
}

func TestGalleryMatchToleranceBoundary(t *testing.T) {
	g := NewGallery(fsutil.NewMemoryFileSystem(), galleryPath)
	require.NoError(t, g.Replace([]Entry{{Cedula: "a", Encoding: []float64{0, 0}}}))

	res, err := g.Match([]float64{0.5, 0}, 0.5)
	require.NoError(t, err)
	assert.True(t, res.Matched)

	res, err = g.Match([]float64{0.51, 0}, 0.5)
	require.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestGalleryMatchSkipsMismatchedDimensions(t *testing.T) {
	g := NewGallery(fsutil.NewMemoryFileSystem(), galleryPath)
	require.NoError(t, g.Replace([]Entry{{Cedula: "a", Encoding: []float64{0, 0, 0}}}))

	res, err := g.Match([]float64{0, 0}, DefaultTolerance)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Empty(t, res.Cedula)
}

func TestGalleryPersistence(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	g := NewGallery(fsys, galleryPath)
	require.NoError(t, g.Replace([]Entry{{Cedula: "0102", Encoding: []float64{1, 2}}}))

	reloaded := NewGallery(fsys, galleryPath)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 1, reloaded.Len())
	assert.Equal(t, map[string]int{"0102": 1}, reloaded.Users())
	assert.False(t, fsys.Exists(galleryPath+".tmp"))
}

func TestGalleryAppendRereadsSnapshot(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	a := NewGallery(fsys, galleryPath)
	b := NewGallery(fsys, galleryPath)

	require.NoError(t, a.Append("0102", []float64{1, 0}))
	require.NoError(t, b.Append("0304", []float64{0, 1}))
	assert.Equal(t, 2, b.Len())

	require.NoError(t, a.Load())
	assert.Equal(t, map[string]int{"0102": 1, "0304": 1}, a.Users())
}

func TestGalleryAppendRecoversFromCorruptSnapshot(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile(galleryPath, []byte("not json"), 0o644))

	g := NewGallery(fsys, galleryPath)
	assert.Error(t, g.Load())

	require.NoError(t, g.Append("0102", []float64{1}))
	assert.Equal(t, 1, g.Len())
}

func TestGalleryLoadRejectsUnevenLists(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile(galleryPath, []byte(`{"encodings":[[1]],"names":[]}`), 0o644))
	assert.ErrorContains(t, NewGallery(fsys, galleryPath).Load(), "1 encodings for 0 names")
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 6))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestCheckImage(t *testing.T) {
	cfg, err := CheckImage(testJPEG(t))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Width)
	assert.Equal(t, 6, cfg.Height)

	_, err = CheckImage(nil)
	assert.Error(t, err)
	_, err = CheckImage([]byte("definitely not a jpeg"))
	assert.Error(t, err)
}
