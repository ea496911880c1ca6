// Command segment cuts a local video file or a share link into fixed-length
// segments written to a directory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"redubstream/internal/acquire"
	"redubstream/internal/app"
	"redubstream/internal/domain"
	"redubstream/internal/domain/ports"
	"redubstream/internal/segmenter"
	"redubstream/internal/telemetry"
)

type manifestEntry struct {
	Index     int     `json:"index"`
	File      string  `json:"file"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "segment: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	app.LoadDotEnv()
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("segment", flag.ContinueOnError)
	outDir := fs.String("out", "segments", "Directory the segments are written to")
	window := fs.Duration("window", cfg.SegmentWindow, "Segment length")
	batch := fs.Int("batch", cfg.SegmentBatchSize, "Segments cut concurrently")
	streamCopy := fs.Bool("copy", cfg.SegmentStreamCopy, "Cut without re-encoding")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: segment [flags] <video-file | share-link>\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected exactly one input")
	}
	input := fs.Arg(0)

	cfg.SegmentWindow = *window
	cfg.SegmentBatchSize = *batch
	cfg.SegmentStreamCopy = *streamCopy

	logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.Init(context.Background(), "redubstream-segment")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := loadSource(ctx, cfg, logger, input)
	if err != nil {
		return err
	}

	engines := app.NewEngineStack(cfg, logger)
	defer engines.FFmpeg.Close()

	progress := ports.StatusSinkFunc(func(st domain.PipelineStatus) {
		logger.Info("progress",
			slog.String("phase", string(st.Phase)),
			slog.Float64("progress", st.Progress),
			slog.String("message", st.Message),
		)
	})
	svc := segmenter.NewService(engines.Handle, engines.Probe,
		segmenter.WithConfig(cfg.SegmenterConfig()),
		segmenter.WithStatusSink(progress),
		segmenter.WithLogger(logger),
	)

	started := time.Now()
	segments, err := svc.Segment(ctx, src)
	if err != nil {
		return err
	}
	if err := writeSegments(*outDir, segments); err != nil {
		return err
	}
	logger.Info("segments written",
		slog.String("dir", *outDir),
		slog.Int("count", len(segments)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// loadSource reads input from disk, or acquires it when it is a share link
// rather than an existing file.
func loadSource(ctx context.Context, cfg app.Config, logger *slog.Logger, input string) (domain.Source, error) {
	if data, err := os.ReadFile(input); err == nil {
		return domain.NewSource(data, filepath.Base(input)), nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return domain.Source{}, err
	}

	if _, err := acquire.ParseSourceID(input); err != nil {
		return domain.Source{}, fmt.Errorf("%s is neither a file nor a supported link: %w", input, err)
	}
	acq, err := app.NewAcquireService(cfg, logger).Acquire(ctx, input)
	if err != nil {
		return domain.Source{}, err
	}
	name := acquire.DisplayName(acq.Title, acq.SourceID) + acquire.ExtensionFor(acq.MimeType)
	logger.Info("source acquired", slog.String("provider", acq.Provider), slog.String("name", name), slog.Int64("bytes", acq.Size))
	return domain.NewSource(acq.Data, name), nil
}

func writeSegments(dir string, segments []domain.Segment) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	manifest := make([]manifestEntry, 0, len(segments))
	for _, seg := range segments {
		if err := os.WriteFile(filepath.Join(dir, seg.Name), seg.Payload, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", seg.Name, err)
		}
		manifest = append(manifest, manifestEntry{
			Index:     seg.Index,
			File:      seg.Name,
			StartTime: seg.StartTime,
			EndTime:   seg.EndTime,
		})
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "segments.json"), data, 0o644)
}
