package engine

import (
	"strconv"
	"strings"
)

// CutConfig describes one time-window extraction from the engine input.
type CutConfig struct {
	Input        string
	Output       string
	Start        float64
	Duration     float64
	StreamCopy   bool
	Preset       string
	CRF          int
	AudioBitrate string
}

// AudioFormat is the fixed layout every extracted dub track is normalised to.
type AudioFormat struct {
	SampleRate int
	Channels   int
}

func DefaultAudioFormat() AudioFormat {
	return AudioFormat{SampleRate: 44100, Channels: 2}
}

func baseArgs() []string {
	return []string{"-hide_banner", "-loglevel", "error", "-y"}
}

func formatSeconds(value float64) string {
	return strconv.FormatFloat(value, 'f', 3, 64)
}

// BuildCutArgs builds the arguments for cutting [Start, Start+Duration).
// Seeking before -i keeps cuts fast; with stream copy the cut snaps to the
// nearest keyframe, re-encoding keeps every segment independently playable.
func BuildCutArgs(cfg CutConfig) []string {
	preset := strings.TrimSpace(cfg.Preset)
	if preset == "" {
		preset = "veryfast"
	}
	crf := cfg.CRF
	if crf <= 0 {
		crf = 23
	}
	audioBitrate := strings.TrimSpace(cfg.AudioBitrate)
	if audioBitrate == "" {
		audioBitrate = "128k"
	}

	args := baseArgs()
	args = append(args,
		"-ss", formatSeconds(cfg.Start),
		"-i", cfg.Input,
		"-t", formatSeconds(cfg.Duration),
		"-map", "0:v:0?",
		"-map", "0:a:0?",
	)
	if cfg.StreamCopy {
		args = append(args, "-c", "copy", "-avoid_negative_ts", "make_zero")
	} else {
		args = append(args,
			"-c:v", "libx264",
			"-pix_fmt", "yuv420p",
			"-preset", preset,
			"-crf", strconv.Itoa(crf),
			"-c:a", "aac",
			"-b:a", audioBitrate,
			"-ac", "2",
		)
	}
	args = append(args, "-movflags", "+faststart", cfg.Output)
	return args
}

// BuildExtractAudioArgs extracts the first audio stream as PCM and pads or
// trims it to exactly duration seconds so concatenated tracks stay aligned
// with the original timeline.
func BuildExtractAudioArgs(input, output string, duration float64, format AudioFormat) []string {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		format = DefaultAudioFormat()
	}
	args := baseArgs()
	args = append(args,
		"-i", input,
		"-map", "0:a:0",
		"-vn",
		"-af", "apad",
		"-t", formatSeconds(duration),
		"-c:a", "pcm_s16le",
		"-ar", strconv.Itoa(format.SampleRate),
		"-ac", strconv.Itoa(format.Channels),
		output,
	)
	return args
}

func BuildConcatArgs(manifest, output string) []string {
	args := baseArgs()
	args = append(args,
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
		"-c", "copy",
		output,
	)
	return args
}

func BuildEncodeAudioArgs(input, output, bitrate string) []string {
	if strings.TrimSpace(bitrate) == "" {
		bitrate = "192k"
	}
	args := baseArgs()
	args = append(args,
		"-i", input,
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", bitrate,
		output,
	)
	return args
}

// BuildRemuxArgs copies the first video stream of video unmodified and maps in
// the first audio stream of audio, stopping at the shorter of the two.
func BuildRemuxArgs(video, audio, output, audioBitrate string) []string {
	if strings.TrimSpace(audioBitrate) == "" {
		audioBitrate = "192k"
	}
	args := baseArgs()
	args = append(args,
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", audioBitrate,
		"-shortest",
		"-movflags", "+faststart",
		output,
	)
	return args
}

// ConcatManifest renders an ffmpeg concat demuxer list for names, in order.
func ConcatManifest(names []string) []byte {
	var b strings.Builder
	for _, name := range names {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(name, "'", `'\''`))
		b.WriteString("'\n")
	}
	return []byte(b.String())
}

// OutputName returns the last argument, which every builder uses as output.
func OutputName(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[len(args)-1]
}
