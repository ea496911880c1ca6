package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"redubstream/internal/domain"
)

const maxProbeTimeout = 30 * time.Second

type Prober struct {
	binary string
	tmpDir string
}

func New(binary string) *Prober {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{binary: bin}
}

func (p *Prober) Probe(ctx context.Context, filePath string) (domain.MediaInfo, error) {
	path := strings.TrimSpace(filePath)
	if path == "" {
		return domain.MediaInfo{}, errors.New("file path is required")
	}
	return p.runProbe(ctx, []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	})
}

// ProbeBytes spills data into a private temporary file and probes it. The
// file lives outside the transcoding engine's storage so probing never
// touches engine state.
func (p *Prober) ProbeBytes(ctx context.Context, data []byte) (domain.MediaInfo, error) {
	if len(data) == 0 {
		return domain.MediaInfo{}, errors.New("empty media payload")
	}
	file, err := os.CreateTemp(p.tmpDir, "redub-probe-*")
	if err != nil {
		return domain.MediaInfo{}, fmt.Errorf("probe spill: %w", err)
	}
	defer os.Remove(file.Name())
	if _, err := file.Write(data); err != nil {
		file.Close()
		return domain.MediaInfo{}, fmt.Errorf("probe spill: %w", err)
	}
	if err := file.Close(); err != nil {
		return domain.MediaInfo{}, fmt.Errorf("probe spill: %w", err)
	}
	return p.Probe(ctx, file.Name())
}

func (p *Prober) runProbe(ctx context.Context, args []string) (domain.MediaInfo, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxProbeTimeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, p.binary, args...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	info, parseErr := parseProbeOutput(stdout.Bytes())
	if parseErr != nil {
		if runErr != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				return domain.MediaInfo{}, fmt.Errorf("ffprobe failed: %w", runErr)
			}
			return domain.MediaInfo{}, fmt.Errorf("ffprobe failed: %w: %s", runErr, msg)
		}
		return domain.MediaInfo{}, fmt.Errorf("ffprobe output parse failed: %w", parseErr)
	}

	if runErr != nil && len(info.Tracks) == 0 {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return domain.MediaInfo{}, fmt.Errorf("ffprobe failed: %w", runErr)
		}
		return domain.MediaInfo{}, fmt.Errorf("ffprobe failed: %w: %s", runErr, msg)
	}

	return info, nil
}

type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Duration  string `json:"duration"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

// parseProbeOutput parses raw ffprobe JSON output into a domain.MediaInfo.
// The container duration wins; the longest stream duration is the fallback.
func parseProbeOutput(data []byte) (domain.MediaInfo, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.MediaInfo{}, err
	}

	tracks := make([]domain.MediaTrack, 0, len(payload.Streams))
	counters := map[string]int{}
	var streamDuration float64
	for _, stream := range payload.Streams {
		switch stream.CodecType {
		case "video", "audio", "subtitle":
		default:
			continue
		}
		tracks = append(tracks, domain.MediaTrack{
			Index: counters[stream.CodecType],
			Type:  stream.CodecType,
			Codec: stream.CodecName,
		})
		counters[stream.CodecType]++
		if d := parseSeconds(stream.Duration); d > streamDuration {
			streamDuration = d
		}
	}

	duration := parseSeconds(payload.Format.Duration)
	if duration <= 0 {
		duration = streamDuration
	}
	return domain.MediaInfo{Tracks: tracks, Duration: duration}, nil
}

func parseSeconds(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "N/A" {
		return 0
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value <= 0 {
		return 0
	}
	return value
}
