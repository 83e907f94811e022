package monitoring

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, format)
	})
	Logf("sensor %s", "ready")
	if len(got) != 1 || got[0] != "sensor %s" {
		t.Fatalf("custom logger not called, got %v", got)
	}

	SetLogger(nil)
	Logf("dropped")
	if len(got) != 1 {
		t.Errorf("no-op logger forwarded a message: %v", got)
	}
}

func TestRotateOutput(t *testing.T) {
	origOut := log.Writer()
	defer log.SetOutput(origOut)

	dir := t.TempDir()
	closer, err := RotateOutput(filepath.Join(dir, "logs"), "kiosk")
	if err != nil {
		t.Fatalf("RotateOutput: %v", err)
	}
	log.Printf("rotated line")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "logs", "kiosk.*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one rotated file, got %v (%v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("rotated line")) {
		t.Errorf("log file missing line: %q", data)
	}
	if !strings.HasSuffix(matches[0], ".log") {
		t.Errorf("unexpected file name %s", matches[0])
	}
}
