// Package segmenter cuts a source into fixed-duration segments through the
// shared transcoding engine.
package segmenter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"redubstream/internal/domain"
	"redubstream/internal/domain/ports"
	"redubstream/internal/engine"
	"redubstream/internal/metrics"
	"redubstream/internal/telemetry"
)

const (
	progressLoaded   = 10.0
	progressPrepared = 20.0

	DefaultWindow    = 60.0
	DefaultBatchSize = 3
)

type Config struct {
	Window       float64
	BatchSize    int
	StreamCopy   bool
	Preset       string
	CRF          int
	AudioBitrate string
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

type Service struct {
	handle *engine.Handle
	probe  ports.MediaProbe
	sink   ports.StatusSink
	cfg    Config
	logger *slog.Logger
}

type ServiceOption func(*Service)

func WithConfig(cfg Config) ServiceOption {
	return func(s *Service) {
		s.cfg = cfg.withDefaults()
	}
}

func WithStatusSink(sink ports.StatusSink) ServiceOption {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(handle *engine.Handle, probe ports.MediaProbe, opts ...ServiceOption) *Service {
	s := &Service{
		handle: handle,
		probe:  probe,
		sink:   ports.Discard,
		cfg:    Config{}.withDefaults(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Segment cuts src into ordered segments. A cancelled ctx stops scheduling
// new batches; units already started run to completion first. No partial
// segment list is ever returned.
func (s *Service) Segment(ctx context.Context, src domain.Source) ([]domain.Segment, error) {
	ctx, span := telemetry.Tracer("segmenter").Start(ctx, "segmenter.Segment")
	defer span.End()

	if src.IsZero() {
		return nil, fmt.Errorf("%w: empty source", domain.ErrInvalidSource)
	}

	r := &run{svc: s, logger: s.logger.With(slog.String("source", src.Name()))}

	r.publish(domain.PhaseEngineLoading, 0, "loading transcoding engine")
	release, err := s.handle.Acquire(ctx)
	if err != nil {
		return nil, r.fail(err, "engine_loading")
	}
	defer release()

	if _, err := s.handle.Ensure(ctx); err != nil {
		return nil, r.fail(err, "engine_loading")
	}
	r.publish(domain.PhaseEngineLoading, progressLoaded, "transcoding engine ready")

	if err := ctx.Err(); err != nil {
		return nil, r.fail(err, "engine_loading")
	}

	eng := s.handle.Engine()
	input := "source" + src.Ext()

	r.publish(domain.PhasePreparing, progressLoaded, "writing source to engine storage")
	if err := eng.WriteFile(ctx, input, src.Bytes()); err != nil {
		return nil, r.fail(fmt.Errorf("write source: %w", err), "preparing")
	}
	// Removed on every exit path. Batches already started have finished by then.
	defer engine.Remove(context.WithoutCancel(ctx), eng, input)

	info, err := s.probe.ProbeBytes(ctx, src.Bytes())
	if err != nil {
		return nil, r.fail(fmt.Errorf("probe source: %w", err), "preparing")
	}
	if info.Duration <= 0 {
		return nil, r.fail(fmt.Errorf("%w: unknown media duration", domain.ErrInvalidSource), "preparing")
	}

	windows := Partition(info.Duration, s.cfg.Window)
	r.total = len(windows)
	span.SetAttributes(
		attribute.Float64("media.duration", info.Duration),
		attribute.Int("segments.total", r.total),
	)
	r.logger.Info("segmentation planned",
		slog.Float64("duration", info.Duration),
		slog.Int("segments", r.total),
		slog.Int("batchSize", s.cfg.BatchSize),
	)
	r.publish(domain.PhasePreparing, progressPrepared, fmt.Sprintf("%d segments planned", r.total))

	segments := make([]domain.Segment, 0, len(windows))
	var mu sync.Mutex

	for _, batch := range batches(windows, s.cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			return nil, r.fail(err, "segmenting")
		}

		// Units are detached from ctx so a cancellation never interrupts an
		// invocation halfway through the shared storage.
		group, groupCtx := errgroup.WithContext(context.WithoutCancel(ctx))
		for _, w := range batch {
			group.Go(func() error {
				seg, err := s.cutUnit(groupCtx, eng, input, w)
				if err != nil {
					return err
				}
				mu.Lock()
				segments = append(segments, seg)
				mu.Unlock()
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, r.fail(err, "segmenting")
		}

		if err := ctx.Err(); err != nil {
			return nil, r.fail(err, "segmenting")
		}

		r.completed += len(batch)
		metrics.SegmentsProducedTotal.Add(float64(len(batch)))
		progress := progressPrepared + (100-progressPrepared)*float64(r.completed)/float64(r.total)
		r.publish(domain.PhaseSegmenting, progress, fmt.Sprintf("segment %d of %d", r.completed, r.total))
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].StartTime < segments[j].StartTime
	})
	for i := 1; i < len(segments); i++ {
		if segments[i].StartTime == segments[i-1].StartTime {
			err := fmt.Errorf("%w: %s and %s at %.3fs", domain.ErrDuplicateSegment,
				segments[i-1].Name, segments[i].Name, segments[i].StartTime)
			return nil, r.fail(err, "segmenting")
		}
	}

	r.publish(domain.PhaseComplete, 100, fmt.Sprintf("%d segments ready", len(segments)))
	r.logger.Info("segmentation complete", slog.Int("segments", len(segments)), slog.Duration("elapsed", r.elapsed()))
	return segments, nil
}

func (s *Service) cutUnit(ctx context.Context, eng engine.Engine, input string, w Window) (domain.Segment, error) {
	name := domain.SegmentName(w.Index)
	args := engine.BuildCutArgs(engine.CutConfig{
		Input:        input,
		Output:       name,
		Start:        w.Start,
		Duration:     w.Duration,
		StreamCopy:   s.cfg.StreamCopy,
		Preset:       s.cfg.Preset,
		CRF:          s.cfg.CRF,
		AudioBitrate: s.cfg.AudioBitrate,
	})
	defer engine.Remove(context.WithoutCancel(ctx), eng, name)

	if err := engine.Run(ctx, eng, "cut", args); err != nil {
		return domain.Segment{}, &domain.TranscodeError{Unit: name, Err: err}
	}
	data, err := eng.ReadFile(ctx, name)
	if err != nil {
		return domain.Segment{}, &domain.TranscodeError{Unit: name, Err: err}
	}
	if len(data) == 0 {
		return domain.Segment{}, &domain.TranscodeError{Unit: name, Err: errors.New("engine produced an empty output")}
	}
	return domain.Segment{
		Index:     w.Index,
		Name:      name,
		StartTime: w.Start,
		EndTime:   w.End(),
		Payload:   data,
	}, nil
}

// run tracks progress for one Segment call.
type run struct {
	svc       *Service
	logger    *slog.Logger
	started   time.Time
	total     int
	completed int
	progress  float64
}

func (r *run) elapsed() time.Duration {
	if r.started.IsZero() {
		return 0
	}
	return time.Since(r.started)
}

func (r *run) publish(phase domain.Phase, progress float64, message string) {
	if r.started.IsZero() {
		r.started = time.Now()
	}
	if progress < r.progress {
		progress = r.progress
	}
	r.progress = progress
	r.svc.sink.Publish(domain.PipelineStatus{
		Phase:          phase,
		Progress:       progress,
		Message:        message,
		TotalUnits:     r.total,
		CompletedUnits: r.completed,
	})
}

func (r *run) fail(err error, step string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.logger.Info("segmentation cancelled", slog.String("step", step), slog.Int("completed", r.completed))
		r.svc.sink.Publish(domain.PipelineStatus{
			Phase:          domain.PhaseCancelled,
			Progress:       r.progress,
			Message:        "segmentation cancelled",
			TotalUnits:     r.total,
			CompletedUnits: r.completed,
		})
		return err
	}
	r.logger.Error("segmentation failed", slog.String("step", step), slog.String("error", err.Error()))
	r.svc.sink.Publish(domain.PipelineStatus{
		Phase:          domain.PhaseError,
		Progress:       r.progress,
		Message:        err.Error(),
		TotalUnits:     r.total,
		CompletedUnits: r.completed,
		FailedStep:     step,
	})
	return err
}
