package ffprobe

import (
	"context"
	"math"
	"testing"
)

func TestParseProbeOutput(t *testing.T) {
	raw := []byte(`{
		"streams": [
			{"codec_type": "video", "codec_name": "h264", "duration": "149.9"},
			{"codec_type": "audio", "codec_name": "aac", "duration": "150.02"},
			{"codec_type": "data", "codec_name": "bin_data"}
		],
		"format": {"duration": "150.000000"}
	}`)

	info, err := parseProbeOutput(raw)
	if err != nil {
		t.Fatalf("parseProbeOutput: %v", err)
	}
	if math.Abs(info.Duration-150) > 1e-9 {
		t.Fatalf("expected duration 150, got %v", info.Duration)
	}
	if len(info.Tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(info.Tracks))
	}
	if !info.HasVideo() || !info.HasAudio() {
		t.Fatalf("expected video and audio tracks, got %+v", info.Tracks)
	}
}

func TestParseProbeOutputFallsBackToStreamDuration(t *testing.T) {
	raw := []byte(`{"streams":[{"codec_type":"audio","codec_name":"opus","duration":"42.5"}],"format":{"duration":"N/A"}}`)
	info, err := parseProbeOutput(raw)
	if err != nil {
		t.Fatalf("parseProbeOutput: %v", err)
	}
	if info.Duration != 42.5 {
		t.Fatalf("expected stream duration fallback 42.5, got %v", info.Duration)
	}
	if info.HasVideo() {
		t.Fatal("audio-only payload must not report video")
	}
}

func TestParseProbeOutputInvalidJSON(t *testing.T) {
	if _, err := parseProbeOutput([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestProbeBytesRejectsEmptyPayload(t *testing.T) {
	if _, err := New("").ProbeBytes(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
