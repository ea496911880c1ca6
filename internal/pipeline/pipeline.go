// Package pipeline runs one acquire → segment → redub flow at a time and owns
// the run's source, segments and lifecycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"redubstream/internal/acquire"
	"redubstream/internal/domain"
	"redubstream/internal/metrics"
	"redubstream/internal/redub"
	"redubstream/internal/segmenter"
	"redubstream/internal/status"
	"redubstream/internal/telemetry"
)

var (
	ErrPipelineBusy    = errors.New("a pipeline run is already in progress")
	ErrResetRequired   = errors.New("previous run failed; reset required")
	ErrNoActiveRun     = errors.New("no active run")
	ErrNotReady        = errors.New("segments are not ready")
	ErrMergeInProgress = redub.ErrMergeInProgress
)

// Acquirer resolves a share link into media bytes.
type Acquirer interface {
	Acquire(ctx context.Context, rawURL string) (domain.Acquisition, error)
}

type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateReady
	stateMerging
	stateComplete
	stateCancelled
	stateFailed
)

type Pipeline struct {
	segmenter *segmenter.Service
	redub     *redub.Service
	acquirer  Acquirer
	status    *status.Projector
	logger    *slog.Logger

	mu       sync.Mutex
	state    runState
	runID    string
	source   domain.Source
	segments []domain.Segment
	cancel   context.CancelFunc
	done     chan struct{}
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithAcquirer(acquirer Acquirer) Option {
	return func(p *Pipeline) {
		p.acquirer = acquirer
	}
}

func New(seg *segmenter.Service, red *redub.Service, projector *status.Projector, opts ...Option) *Pipeline {
	p := &Pipeline{
		segmenter: seg,
		redub:     red,
		status:    projector,
		logger:    slog.Default(),
		done:      closedChan(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// StartFromFile begins a run on an uploaded file and returns its run id.
func (p *Pipeline) StartFromFile(data []byte, name string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty upload", domain.ErrInvalidSource)
	}
	src := domain.NewSource(data, name)
	return p.begin(func(ctx context.Context, r *run) (domain.Source, error) {
		return src, nil
	})
}

// StartFromURL validates rawURL synchronously, then acquires and segments in
// the background.
func (p *Pipeline) StartFromURL(rawURL string) (string, error) {
	if p.acquirer == nil {
		return "", errors.New("acquisition is not configured")
	}
	if _, err := acquire.ParseSourceID(rawURL); err != nil {
		return "", err
	}
	return p.begin(func(ctx context.Context, r *run) (domain.Source, error) {
		p.status.Publish(domain.PipelineStatus{RunID: r.id, Phase: domain.PhaseAcquiring, Message: "resolving " + rawURL})
		acq, err := p.acquirer.Acquire(ctx, rawURL)
		if err != nil {
			return domain.Source{}, err
		}
		name := acquire.DisplayName(acq.Title, acq.SourceID) + acquire.ExtensionFor(acq.MimeType)
		r.logger.Info("source acquired", slog.String("provider", acq.Provider), slog.String("name", name), slog.Int64("bytes", acq.Size))
		return domain.NewSource(acq.Data, name), nil
	})
}

type run struct {
	id     string
	logger *slog.Logger
	done   chan struct{}
}

type sourceFunc func(ctx context.Context, r *run) (domain.Source, error)

// currentState is the run state with a finished merge counted as complete
// even before runMerge records it. Callers hold p.mu.
func (p *Pipeline) currentState() runState {
	if p.state == stateMerging {
		if _, ok := p.redub.Artifacts(); ok {
			return stateComplete
		}
	}
	return p.state
}

func (p *Pipeline) begin(load sourceFunc) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.currentState() {
	case stateRunning, stateMerging:
		return "", ErrPipelineBusy
	case stateReady:
		// Uploads may be in progress; discarding them takes an explicit reset.
		return "", ErrPipelineBusy
	case stateFailed:
		return "", ErrResetRequired
	}

	r := &run{id: uuid.NewString(), done: make(chan struct{})}
	r.logger = p.logger.With(slog.String("runId", r.id))
	ctx, cancel := context.WithCancel(context.Background())

	p.redub.Reset()
	p.status.Begin(r.id)
	p.state = stateRunning
	p.runID = r.id
	p.source = domain.Source{}
	p.segments = nil
	p.cancel = cancel
	p.done = r.done

	metrics.ActiveRuns.Inc()
	go p.execute(ctx, cancel, r, load)
	return r.id, nil
}

func (p *Pipeline) execute(ctx context.Context, cancel context.CancelFunc, r *run, load sourceFunc) {
	defer close(r.done)
	defer cancel()
	defer metrics.ActiveRuns.Dec()

	ctx, span := telemetry.Tracer("pipeline").Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", r.id))

	src, err := load(ctx, r)
	if err != nil {
		p.finishWithError(r, "acquiring", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	metrics.RunsTotal.WithLabelValues("acquire", "ok").Inc()

	segments, err := p.segmenter.Segment(ctx, src)
	if err != nil {
		p.finishWithError(r, "segmenting", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	metrics.RunsTotal.WithLabelValues("segment", "ok").Inc()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runID != r.id {
		return
	}
	if err := p.redub.Start(src, segments); err != nil {
		p.state = stateFailed
		r.logger.Error("redub start failed", slog.String("error", err.Error()))
		p.status.Publish(domain.PipelineStatus{RunID: r.id, Phase: domain.PhaseError, Message: err.Error(), FailedStep: "segmenting"})
		return
	}
	p.source = src
	p.segments = segments
	p.state = stateReady
	r.logger.Info("run ready for dub uploads", slog.Int("segments", len(segments)))
}

func (p *Pipeline) finishWithError(r *run, step string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runID != r.id {
		return
	}

	if errors.Is(err, context.Canceled) {
		p.state = stateCancelled
		metrics.RunsTotal.WithLabelValues(step, "cancelled").Inc()
		r.logger.Info("run cancelled", slog.String("step", step))
		if step == "acquiring" {
			p.status.Publish(domain.PipelineStatus{RunID: r.id, Phase: domain.PhaseCancelled, Message: "acquisition cancelled"})
		}
		return
	}

	p.state = stateFailed
	metrics.RunsTotal.WithLabelValues(step, "error").Inc()
	r.logger.Error("run failed", slog.String("step", step), slog.String("error", err.Error()))
	if step == "acquiring" {
		// The segmenter reports its own failures.
		p.status.Publish(domain.PipelineStatus{RunID: r.id, Phase: domain.PhaseError, Message: err.Error(), FailedStep: step})
	}
}

// Cancel stops an in-flight acquisition or segmentation. Units already
// handed to the engine finish first.
func (p *Pipeline) Cancel() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.currentState() {
	case stateRunning:
		p.cancel()
		return nil
	case stateMerging:
		return ErrMergeInProgress
	default:
		return ErrNoActiveRun
	}
}

// Reset cancels any in-flight run, waits for it to stop and discards all run
// state. A merge cannot be interrupted.
func (p *Pipeline) Reset(ctx context.Context) error {
	p.mu.Lock()
	if p.currentState() == stateMerging {
		p.mu.Unlock()
		return ErrMergeInProgress
	}
	if p.cancel != nil {
		p.cancel()
	}
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentState() == stateMerging {
		return ErrMergeInProgress
	}
	p.state = stateIdle
	p.runID = ""
	p.source = domain.Source{}
	p.segments = nil
	p.cancel = nil
	p.redub.Reset()
	p.status.Reset()
	p.logger.Info("pipeline reset")
	return nil
}

// Done is closed when the current run's acquisition and segmentation stop.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Pipeline) Status() domain.PipelineStatus {
	return p.status.Current()
}

func (p *Pipeline) Subscribe(buffer int) (<-chan domain.PipelineStatus, func()) {
	return p.status.Subscribe(buffer)
}

// Segments returns the current run's segments once segmentation completed.
func (p *Pipeline) Segments() ([]domain.Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.segments == nil {
		return nil, ErrNotReady
	}
	return append([]domain.Segment(nil), p.segments...), nil
}

func (p *Pipeline) Segment(index int) (domain.Segment, error) {
	segments, err := p.Segments()
	if err != nil {
		return domain.Segment{}, err
	}
	if index < 0 || index >= len(segments) {
		return domain.Segment{}, fmt.Errorf("%w: segment %d", domain.ErrNotFound, index)
	}
	return segments[index], nil
}

func (p *Pipeline) Source() (domain.Source, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source, !p.source.IsZero()
}

func (p *Pipeline) DubSegments() []domain.DubSegment {
	return p.redub.Segments()
}

func (p *Pipeline) UploadDub(ctx context.Context, index int, data []byte) error {
	p.mu.Lock()
	state := p.currentState()
	p.mu.Unlock()
	switch state {
	case stateReady:
	case stateMerging:
		return ErrMergeInProgress
	default:
		return ErrNotReady
	}
	return p.redub.Upload(ctx, index, data)
}

// Merge runs the redub merge synchronously.
func (p *Pipeline) Merge(ctx context.Context) (domain.FinalArtifacts, error) {
	runID, started, err := p.beginMerge()
	if err != nil {
		return domain.FinalArtifacts{}, err
	}
	if !started {
		artifacts, _ := p.redub.Artifacts()
		return artifacts, nil
	}
	return p.runMerge(ctx, runID)
}

// MergeAsync checks the merge preconditions and runs the merge in the
// background. Progress is reported through status.
func (p *Pipeline) MergeAsync() error {
	runID, started, err := p.beginMerge()
	if err != nil || !started {
		return err
	}
	go func() {
		_, _ = p.runMerge(context.Background(), runID)
	}()
	return nil
}

// beginMerge moves a ready run into merging. started is false when the run
// has already completed.
func (p *Pipeline) beginMerge() (runID string, started bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.currentState() {
	case stateReady:
	case stateComplete:
		return p.runID, false, nil
	case stateMerging:
		return "", false, ErrMergeInProgress
	case stateFailed:
		return "", false, ErrResetRequired
	default:
		return "", false, ErrNotReady
	}

	missing, first := 0, -1
	for _, d := range p.redub.Segments() {
		if !d.Uploaded() {
			if first < 0 {
				first = d.Index
			}
			missing++
		}
	}
	if first >= 0 {
		return "", false, &domain.IncompleteUploadsError{MissingIndex: first, Missing: missing}
	}
	p.state = stateMerging
	metrics.ActiveRuns.Inc()
	return p.runID, true, nil
}

func (p *Pipeline) runMerge(ctx context.Context, runID string) (domain.FinalArtifacts, error) {
	defer metrics.ActiveRuns.Dec()

	artifacts, err := p.redub.MergeAndReplace(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runID != runID {
		return domain.FinalArtifacts{}, ErrNoActiveRun
	}
	if err != nil {
		p.state = stateFailed
		metrics.RunsTotal.WithLabelValues("merge", "error").Inc()
		p.logger.Error("merge failed", slog.String("runId", runID), slog.String("error", err.Error()))
		return domain.FinalArtifacts{}, err
	}
	p.state = stateComplete
	metrics.RunsTotal.WithLabelValues("merge", "ok").Inc()
	p.logger.Info("merge complete", slog.String("runId", runID))
	return artifacts, nil
}

func (p *Pipeline) Artifacts() (domain.FinalArtifacts, bool) {
	return p.redub.Artifacts()
}
