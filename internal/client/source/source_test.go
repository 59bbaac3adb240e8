package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileSourceLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "firmware.bin")
	image := []byte("firmware payload")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	img, err := NewFileSource().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(img.Data, image) {
		t.Errorf("data = %q, want %q", img.Data, image)
	}
	if img.Digest != sha256.Sum256(image) {
		t.Error("digest does not match image")
	}
}

func TestFileSourceRejectsEmptyAndMissing(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.bin")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := NewFileSource().Load(context.Background(), empty); err == nil {
		t.Error("empty image accepted")
	}
	if _, err := NewFileSource().Load(context.Background(), filepath.Join(dir, "missing.bin")); err == nil {
		t.Error("missing image accepted")
	}
}

func TestWatchSeesRewrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "firmware.bin")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	images := make(chan *Image, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(img *Image) { images <- img })
	}()

	// Give the watcher a moment to arm before rewriting.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("v2 image"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case img := <-images:
		if string(img.Data) != "v2 image" {
			t.Errorf("reloaded data = %q, want v2 image", img.Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never reported the rewrite")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch: %v", err)
	}
}
