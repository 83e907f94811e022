package faceengine

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/accessgate/internal/fsutil"
	"github.com/banshee-data/accessgate/internal/security"
)

// Dataset is the directory of enrollment photos, one subdirectory per user.
type Dataset struct {
	FS   fsutil.FileSystem
	Root string
}

// Save stores img as the next enroll_<n>.jpg for cedula and returns its path.
func (d Dataset) Save(cedula string, img []byte) (string, error) {
	dir, err := security.UserDir(d.Root, cedula)
	if err != nil {
		return "", err
	}
	if err := d.FS.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	names, err := d.FS.ReadDir(dir)
	if err != nil {
		return "", err
	}
	next := 1
	for _, n := range names {
		num, ok := strings.CutPrefix(strings.TrimSuffix(n, ".jpg"), "enroll_")
		if !ok {
			continue
		}
		if i, err := strconv.Atoi(num); err == nil && i >= next {
			next = i + 1
		}
	}
	path := filepath.Join(dir, fmt.Sprintf("enroll_%d.jpg", next))
	if err := security.ValidatePathWithinDirectory(path, d.Root); err != nil {
		return "", err
	}
	if err := fsutil.WriteFileAtomic(d.FS, path, img, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// Images lists the photo paths stored for cedula.
func (d Dataset) Images(cedula string) ([]string, error) {
	dir, err := security.UserDir(d.Root, cedula)
	if err != nil {
		return nil, err
	}
	if !d.FS.IsDir(dir) {
		return nil, nil
	}
	names, err := d.FS.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range names {
		if isImage(n) {
			out = append(out, filepath.Join(dir, n))
		}
	}
	return out, nil
}

// Remove deletes every photo stored for cedula.
func (d Dataset) Remove(cedula string) error {
	dir, err := security.UserDir(d.Root, cedula)
	if err != nil {
		return err
	}
	return d.FS.RemoveAll(dir)
}
