package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"redubstream/internal/engine"
)

func newLoadedEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(Config{WorkDir: t.TempDir()})
	// Storage operations only need a work dir; skip the binary check.
	e.workDir = e.baseDir
	return e
}

func TestWorkingStorageRoundTrip(t *testing.T) {
	e := newLoadedEngine(t)
	ctx := context.Background()

	if err := e.WriteFile(ctx, "segment_0000.mp4", []byte("payload")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := e.ReadFile(ctx, "segment_0000.mp4")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected payload %q", data)
	}
	if err := e.DeleteFile(ctx, "segment_0000.mp4"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := os.Stat(filepath.Join(e.WorkDir(), "segment_0000.mp4")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected file removed, got %v", err)
	}
	if err := e.DeleteFile(ctx, "segment_0000.mp4"); err != nil {
		t.Fatalf("deleting a missing file should be a no-op, got %v", err)
	}
}

func TestWorkingStorageRejectsPaths(t *testing.T) {
	e := newLoadedEngine(t)
	for _, name := range []string{"", "../escape.mp4", "dir/file.mp4", ".."} {
		if err := e.WriteFile(context.Background(), name, []byte("x")); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("expected ErrInvalidName for %q, got %v", name, err)
		}
	}
}

func TestExecBeforeLoadFails(t *testing.T) {
	e := New(Config{})
	if err := e.Exec(context.Background(), []string{"-version"}); !errors.Is(err, engine.ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded before Load, got %v", err)
	}
	if err := e.WriteFile(context.Background(), "a.mp4", nil); !errors.Is(err, engine.ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded from storage before Load, got %v", err)
	}
}

func TestLoadFailsForMissingBinary(t *testing.T) {
	e := New(Config{FFmpegPath: "definitely-not-a-real-ffmpeg-binary", WorkDir: t.TempDir()})
	if err := e.Load(context.Background()); err == nil {
		t.Fatal("expected Load to fail for a missing binary")
	}
}
