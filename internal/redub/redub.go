// Package redub collects per-segment dubbed uploads and rebuilds the source
// video around the concatenated replacement audio.
package redub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"redubstream/internal/domain"
	"redubstream/internal/domain/ports"
	"redubstream/internal/engine"
	"redubstream/internal/telemetry"
)

var (
	ErrNotStarted      = errors.New("redub not started")
	ErrMergeInProgress = errors.New("merge in progress")
	ErrUploadsClosed   = errors.New("uploads are closed for this run")
)

// Download names of the final artifacts, also used inside engine storage.
const (
	MergedAudioName = "merged_audio.mp3"
	FinalVideoName  = "final_video.mp4"
)

const (
	concatManifest = "dub_concat.txt"
	concatAudio    = "dub_concat.wav"

	DefaultMergedBitrate = "192k"
	DefaultRemuxBitrate  = "192k"
)

type Service struct {
	handle *engine.Handle
	probe  ports.MediaProbe
	sink   ports.StatusSink
	logger *slog.Logger

	format        engine.AudioFormat
	mergedBitrate string
	remuxBitrate  string

	mu        sync.Mutex
	phase     domain.Phase
	source    domain.Source
	dubs      []domain.DubSegment
	artifacts domain.FinalArtifacts
}

type ServiceOption func(*Service)

// WithUploadProbe rejects uploads that carry no audio stream.
func WithUploadProbe(probe ports.MediaProbe) ServiceOption {
	return func(s *Service) {
		s.probe = probe
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

// WithBitrates sets the merged mp3 bitrate and the AAC bitrate used when
// muxing into the final video. Empty values keep the defaults.
func WithBitrates(merged, remux string) ServiceOption {
	return func(s *Service) {
		if merged != "" {
			s.mergedBitrate = merged
		}
		if remux != "" {
			s.remuxBitrate = remux
		}
	}
}

func NewService(handle *engine.Handle, opts ...ServiceOption) *Service {
	s := &Service{
		handle:        handle,
		sink:          ports.Discard,
		logger:        slog.Default(),
		format:        engine.DefaultAudioFormat(),
		mergedBitrate: DefaultMergedBitrate,
		remuxBitrate:  DefaultRemuxBitrate,
		phase:         domain.PhaseIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the upload window for segments produced from source.
func (s *Service) Start(source domain.Source, segments []domain.Segment) error {
	if source.IsZero() {
		return fmt.Errorf("%w: empty source", domain.ErrInvalidSource)
	}
	if len(segments) == 0 {
		return fmt.Errorf("%w: no segments to dub", domain.ErrInvalidSource)
	}

	s.mu.Lock()
	if s.phase == domain.PhaseMerging || s.phase == domain.PhaseRemuxing {
		s.mu.Unlock()
		return ErrMergeInProgress
	}
	dubs := make([]domain.DubSegment, len(segments))
	for i, seg := range segments {
		dubs[i] = domain.DubSegment{Index: i, Segment: seg, Status: domain.DubStatusPending}
	}
	s.source = source
	s.dubs = dubs
	s.artifacts = domain.FinalArtifacts{}
	s.phase = domain.PhaseAwaitingUploads
	st := s.uploadStatusLocked(fmt.Sprintf("waiting for %d dubbed segments", len(dubs)))
	s.mu.Unlock()

	s.sink.Publish(st)
	s.logger.Info("redub started", slog.Int("segments", len(segments)), slog.String("source", source.Name()))
	return nil
}

// Upload stores the replacement media for the segment at index. A second
// upload for the same index replaces the first.
func (s *Service) Upload(ctx context.Context, index int, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload for segment %d", domain.ErrInvalidUpload, index)
	}

	s.mu.Lock()
	if err := s.checkUploadLocked(index); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if s.probe != nil {
		info, err := s.probe.ProbeBytes(ctx, data)
		if err != nil {
			return fmt.Errorf("%w: segment %d: %v", domain.ErrInvalidUpload, index, err)
		}
		if !info.HasAudio() {
			return fmt.Errorf("%w: segment %d has no audio stream", domain.ErrInvalidUpload, index)
		}
	}

	s.mu.Lock()
	// The window may have closed while probing.
	if err := s.checkUploadLocked(index); err != nil {
		s.mu.Unlock()
		return err
	}
	s.dubs[index].Replacement = append([]byte(nil), data...)
	s.dubs[index].Status = domain.DubStatusUploaded
	st := s.uploadStatusLocked(fmt.Sprintf("segment %d uploaded", index))
	s.mu.Unlock()

	s.sink.Publish(st)
	s.logger.Debug("dub uploaded", slog.Int("index", index), slog.Int("bytes", len(data)))
	return nil
}

func (s *Service) checkUploadLocked(index int) error {
	switch s.phase {
	case domain.PhaseAwaitingUploads:
	case domain.PhaseIdle:
		return ErrNotStarted
	case domain.PhaseMerging, domain.PhaseRemuxing:
		return ErrMergeInProgress
	default:
		return ErrUploadsClosed
	}
	if index < 0 || index >= len(s.dubs) {
		return fmt.Errorf("%w: segment index %d (have %d)", domain.ErrNotFound, index, len(s.dubs))
	}
	return nil
}

func (s *Service) uploadStatusLocked(message string) domain.PipelineStatus {
	uploaded := 0
	for _, d := range s.dubs {
		if d.Uploaded() {
			uploaded++
		}
	}
	progress := 0.0
	if len(s.dubs) > 0 {
		progress = 100 * float64(uploaded) / float64(len(s.dubs))
	}
	return domain.PipelineStatus{
		Phase:          domain.PhaseAwaitingUploads,
		Progress:       progress,
		Message:        message,
		TotalUnits:     len(s.dubs),
		CompletedUnits: uploaded,
	}
}

// Segments returns a copy of the current dub slots.
func (s *Service) Segments() []domain.DubSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DubSegment, len(s.dubs))
	copy(out, s.dubs)
	return out
}

func (s *Service) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Artifacts returns the final artifacts once a merge has completed.
func (s *Service) Artifacts() (domain.FinalArtifacts, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != domain.PhaseComplete || !s.artifacts.Complete() {
		return domain.FinalArtifacts{}, false
	}
	return s.artifacts, true
}

// Reset discards the run. A merge in flight keeps running against its own
// snapshot and its result is dropped.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = domain.PhaseIdle
	s.source = domain.Source{}
	s.dubs = nil
	s.artifacts = domain.FinalArtifacts{}
}

// MergeAndReplace builds merged_audio and final_video from the uploaded
// replacements. With any slot still pending it fails before touching the
// engine. Once started it runs to completion regardless of ctx cancellation.
func (s *Service) MergeAndReplace(ctx context.Context) (domain.FinalArtifacts, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := telemetry.Tracer("redub").Start(ctx, "redub.MergeAndReplace")
	defer span.End()

	s.mu.Lock()
	switch s.phase {
	case domain.PhaseIdle:
		s.mu.Unlock()
		return domain.FinalArtifacts{}, ErrNotStarted
	case domain.PhaseMerging, domain.PhaseRemuxing:
		s.mu.Unlock()
		return domain.FinalArtifacts{}, ErrMergeInProgress
	case domain.PhaseComplete:
		artifacts := s.artifacts
		s.mu.Unlock()
		return artifacts, nil
	case domain.PhaseAwaitingUploads:
	default:
		s.mu.Unlock()
		return domain.FinalArtifacts{}, ErrUploadsClosed
	}

	missing := 0
	first := -1
	for _, d := range s.dubs {
		if !d.Uploaded() {
			if first < 0 {
				first = d.Index
			}
			missing++
		}
	}
	if first >= 0 {
		s.mu.Unlock()
		return domain.FinalArtifacts{}, &domain.IncompleteUploadsError{MissingIndex: first, Missing: missing}
	}

	m := &merge{
		svc:    s,
		source: s.source,
		dubs:   append([]domain.DubSegment(nil), s.dubs...),
		logger: s.logger.With(slog.Int("segments", len(s.dubs))),
		start:  time.Now(),
	}
	s.phase = domain.PhaseMerging
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("segments.total", len(m.dubs)))

	artifacts, err := m.run(ctx)

	s.mu.Lock()
	if s.phase != domain.PhaseMerging && s.phase != domain.PhaseRemuxing {
		s.mu.Unlock()
		// Reset while merging; the result belongs to a discarded run.
		return domain.FinalArtifacts{}, fmt.Errorf("%w: run was reset during merge", ErrNotStarted)
	}
	if err != nil {
		s.phase = domain.PhaseError
		s.mu.Unlock()
		return domain.FinalArtifacts{}, err
	}
	s.artifacts = artifacts
	s.phase = domain.PhaseComplete
	s.mu.Unlock()

	// Artifacts are retrievable before anyone hears about completion.
	m.publish(domain.PhaseComplete, 100, "final video ready")
	return artifacts, nil
}

func (s *Service) setPhase(phase domain.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == domain.PhaseMerging || s.phase == domain.PhaseRemuxing {
		s.phase = phase
	}
}
