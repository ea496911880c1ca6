package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"redubstream/internal/app"
	"redubstream/internal/domain"
)

func TestWriteSegments(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	segments := []domain.Segment{
		{Index: 0, Name: domain.SegmentName(0), StartTime: 0, EndTime: 60, Payload: []byte("first")},
		{Index: 1, Name: domain.SegmentName(1), StartTime: 60, EndTime: 75.5, Payload: []byte("second")},
	}
	if err := writeSegments(dir, segments); err != nil {
		t.Fatalf("writeSegments: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "segment_0001.mp4"))
	if err != nil || string(data) != "second" {
		t.Fatalf("unexpected segment file %q (%v)", data, err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "segments.json"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest []manifestEntry
	if err := json.Unmarshal(raw, &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if len(manifest) != 2 || manifest[1].EndTime != 75.5 || manifest[1].File != "segment_0001.mp4" {
		t.Fatalf("unexpected manifest %+v", manifest)
	}
}

func TestLoadSourceRejectsUnknownInput(t *testing.T) {
	_, err := loadSource(t.Context(), app.Config{}, nil, filepath.Join(t.TempDir(), "missing.mp4"))
	if err == nil {
		t.Fatal("expected an error for a missing file that is not a link")
	}
}

func TestLoadSourceReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Talk.MKV")
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := loadSource(t.Context(), app.Config{}, nil, path)
	if err != nil {
		t.Fatalf("loadSource: %v", err)
	}
	if src.Name() != "Talk.MKV" || src.Ext() != ".mkv" || string(src.Bytes()) != "video" {
		t.Fatalf("unexpected source %q %q", src.Name(), src.Ext())
	}
}
