package engine

import (
	"reflect"
	"strings"
	"testing"
)

func containsSequence(args []string, seq ...string) bool {
	for i := 0; i+len(seq) <= len(args); i++ {
		if reflect.DeepEqual(args[i:i+len(seq)], seq) {
			return true
		}
	}
	return false
}

func TestBuildCutArgsReencode(t *testing.T) {
	args := BuildCutArgs(CutConfig{
		Input:    "source.mp4",
		Output:   "segment_0001.mp4",
		Start:    60,
		Duration: 30.5,
	})

	if !containsSequence(args, "-ss", "60.000", "-i", "source.mp4", "-t", "30.500") {
		t.Fatalf("expected seek/input/duration sequence, got %v", args)
	}
	if !containsSequence(args, "-c:v", "libx264") {
		t.Fatalf("expected libx264 re-encode, got %v", args)
	}
	if !containsSequence(args, "-preset", "veryfast") || !containsSequence(args, "-crf", "23") {
		t.Fatalf("expected default preset/crf, got %v", args)
	}
	if OutputName(args) != "segment_0001.mp4" {
		t.Fatalf("expected output last, got %q", OutputName(args))
	}
}

func TestBuildCutArgsStreamCopy(t *testing.T) {
	args := BuildCutArgs(CutConfig{Input: "in.mkv", Output: "out.mp4", Start: 0, Duration: 60, StreamCopy: true})
	if !containsSequence(args, "-c", "copy") {
		t.Fatalf("expected stream copy, got %v", args)
	}
	for _, arg := range args {
		if arg == "libx264" {
			t.Fatalf("stream copy must not re-encode: %v", args)
		}
	}
}

func TestBuildExtractAudioArgsPadsToDuration(t *testing.T) {
	args := BuildExtractAudioArgs("dub_0000.src", "dub_0000.wav", 60, AudioFormat{})
	if !containsSequence(args, "-af", "apad", "-t", "60.000") {
		t.Fatalf("expected apad + fixed duration, got %v", args)
	}
	if !containsSequence(args, "-ar", "44100", "-ac", "2") {
		t.Fatalf("expected default audio format, got %v", args)
	}
	if !containsSequence(args, "-c:a", "pcm_s16le") {
		t.Fatalf("expected pcm output, got %v", args)
	}
}

func TestBuildRemuxArgsMapsOriginalVideoAndNewAudio(t *testing.T) {
	args := BuildRemuxArgs("original.mp4", "dub_concat.wav", "final_video.mp4", "")
	for _, seq := range [][]string{
		{"-i", "original.mp4", "-i", "dub_concat.wav"},
		{"-map", "0:v:0", "-map", "1:a:0"},
		{"-c:v", "copy"},
		{"-b:a", "192k"},
	} {
		if !containsSequence(args, seq...) {
			t.Fatalf("expected %v in %v", seq, args)
		}
	}
	found := false
	for _, arg := range args {
		if arg == "-shortest" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected -shortest, got %v", args)
	}
}

func TestConcatManifestKeepsOrderAndEscapesQuotes(t *testing.T) {
	manifest := string(ConcatManifest([]string{"dub_0000.wav", "dub_0001.wav", "it's.wav"}))
	lines := strings.Split(strings.TrimSpace(manifest), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), manifest)
	}
	if lines[0] != "file 'dub_0000.wav'" || lines[1] != "file 'dub_0001.wav'" {
		t.Fatalf("unexpected order: %q", lines)
	}
	if lines[2] != `file 'it'\''s.wav'` {
		t.Fatalf("unexpected escaping: %q", lines[2])
	}
}
