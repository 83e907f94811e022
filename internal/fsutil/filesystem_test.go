package fsutil

import (
	"path/filepath"
	"testing"
)

func exerciseFileSystem(t *testing.T, fsys FileSystem, root string) {
	t.Helper()
	dataset := filepath.Join(root, "dataset")
	if err := fsys.MkdirAll(filepath.Join(dataset, "0102"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := fsys.WriteFile(filepath.Join(dataset, "0102", "enroll_1.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := fsys.MkdirAll(filepath.Join(dataset, "0001"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	names, err := fsys.ReadDir(dataset)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(names) != 2 || names[0] != "0001" || names[1] != "0102" {
		t.Errorf("ReadDir = %v, want [0001 0102]", names)
	}
	if !fsys.IsDir(filepath.Join(dataset, "0102")) {
		t.Error("expected directory")
	}
	if fsys.IsDir(filepath.Join(dataset, "0102", "enroll_1.jpg")) {
		t.Error("file reported as directory")
	}

	snap := filepath.Join(root, "encodings.json")
	if err := WriteFileAtomic(fsys, snap, []byte(`[]`), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	if fsys.Exists(snap + ".tmp") {
		t.Error("temporary file left behind")
	}
	got, err := fsys.ReadFile(snap)
	if err != nil || string(got) != "[]" {
		t.Errorf("ReadFile = %q, %v", got, err)
	}

	if err := fsys.RemoveAll(filepath.Join(dataset, "0102")); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if fsys.Exists(filepath.Join(dataset, "0102", "enroll_1.jpg")) {
		t.Error("file survived RemoveAll")
	}
	if _, err := fsys.ReadFile(filepath.Join(root, "missing")); err == nil {
		t.Error("expected error reading missing file")
	}
}

func TestOSFileSystem(t *testing.T) {
	exerciseFileSystem(t, OSFileSystem{}, t.TempDir())
}

func TestMemoryFileSystem(t *testing.T) {
	exerciseFileSystem(t, NewMemoryFileSystem(), "/srv/accessgate")
}
