package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAtomicWriteFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "fsutil-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	target := filepath.Join(tmpDir, "state.json")
	data := []byte(`{"ok":true}`)

	if err := AtomicWriteFile(target, data, DefaultFilePermissions, nil); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("Failed to read written file: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Expected %s, got %s", data, got)
	}

	// Temp file must not be left behind
	if _, err := os.Stat(target + ".tmp"); !os.IsNotExist(err) {
		t.Error("Expected temp file to be removed")
	}
}

func TestGetStateDir_EnvOverride(t *testing.T) {
	t.Setenv("MODELHUB_STATE_DIR", "/tmp/modelhub-test-state")

	dir := GetStateDir(DefaultStateDir)
	if dir != "/tmp/modelhub-test-state" {
		t.Errorf("Expected env override, got %s", dir)
	}
}

func TestGetStateDir_Default(t *testing.T) {
	t.Setenv("MODELHUB_STATE_DIR", "")

	dir := GetStateDir(DefaultStateDir)
	if dir != DefaultStateDir {
		t.Errorf("Expected default dir, got %s", dir)
	}
}

func TestDirSize(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "fsutil-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	if err := os.WriteFile(filepath.Join(tmpDir, "a.bin"), make([]byte, 1024), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(tmpDir, "sub"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "sub", "b.bin"), make([]byte, 512), 0o600); err != nil {
		t.Fatal(err)
	}

	size, err := DirSize(tmpDir)
	if err != nil {
		t.Fatalf("DirSize failed: %v", err)
	}
	if size != 1536 {
		t.Errorf("Expected 1536 bytes, got %d", size)
	}
}

func TestDirSize_Missing(t *testing.T) {
	size, err := DirSize("/nonexistent/modelhub-test-dir")
	if err != nil {
		t.Fatalf("Expected no error for missing dir, got %v", err)
	}
	if size != 0 {
		t.Errorf("Expected 0 bytes, got %d", size)
	}
}
