package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestRotatingWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", LogFileName)

	rw, err := NewRotatingWriter(path, RotationConfig{})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}

	n, err := rw.Write([]byte("hello\n"))
	if err != nil || n != 6 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if rw.CurrentSize() != 6 {
		t.Errorf("CurrentSize() = %d, want 6", rw.CurrentSize())
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if _, err := rw.Write([]byte("x")); err == nil {
		t.Error("Write after Close should fail")
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestRotatingWriterReopenKeepsSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), LogFileName)
	if err := os.WriteFile(path, []byte("existing\n"), 0644); err != nil {
		t.Fatal(err)
	}

	rw, err := NewRotatingWriter(path, RotationConfig{})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = rw.Close() }()

	if rw.CurrentSize() != 9 {
		t.Errorf("CurrentSize() = %d, want 9", rw.CurrentSize())
	}
}

func TestRotatingWriterRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LogFileName)

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = rw.Close() }()

	chunk := []byte(strings.Repeat("a", 600*1024))
	for i := 0; i < 4; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	for _, name := range []string{LogFileName, LogFileName + ".1", LogFileName + ".2"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, LogFileName+".3")); !os.IsNotExist(err) {
		t.Error("backup beyond MaxBackups should have been removed")
	}
	if rw.CurrentSize() != int64(len(chunk)) {
		t.Errorf("CurrentSize() = %d, want %d", rw.CurrentSize(), len(chunk))
	}
}

func TestRotatingWriterNoBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LogFileName)

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = rw.Close() }()

	chunk := []byte(strings.Repeat("b", 700*1024))
	_, _ = rw.Write(chunk)
	_, _ = rw.Write(chunk)

	if _, err := os.Stat(filepath.Join(dir, LogFileName+".1")); !os.IsNotExist(err) {
		t.Error("no backup should be kept when MaxBackups is 0")
	}
}

func TestRotatingWriterConcurrency(t *testing.T) {
	path := filepath.Join(t.TempDir(), LogFileName)
	rw, err := NewRotatingWriter(path, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = rw.Write([]byte("line\n"))
			}
		}()
	}
	wg.Wait()
	_ = rw.Close()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(content), "line\n"); got != 400 {
		t.Errorf("line count = %d, want 400", got)
	}
}

func TestDefaultRotationConfig(t *testing.T) {
	cfg := DefaultRotationConfig()
	if cfg.MaxSizeMB != 10 || cfg.MaxBackups != 3 || cfg.Compress {
		t.Errorf("DefaultRotationConfig() = %+v", cfg)
	}
}
