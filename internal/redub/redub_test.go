package redub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"redubstream/internal/domain"
	"redubstream/internal/domain/ports"
	"redubstream/internal/engine"
	"redubstream/internal/engine/enginetest"
)

type recordingSink struct {
	mu       sync.Mutex
	statuses []domain.PipelineStatus
}

func (s *recordingSink) Publish(st domain.PipelineStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
}

func (s *recordingSink) last() domain.PipelineStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return domain.PipelineStatus{}
	}
	return s.statuses[len(s.statuses)-1]
}

type fakeProbe struct {
	audio bool
}

func (p fakeProbe) ProbeBytes(_ context.Context, _ []byte) (domain.MediaInfo, error) {
	info := domain.MediaInfo{Duration: 60, Tracks: []domain.MediaTrack{{Index: 0, Type: "video", Codec: "h264"}}}
	if p.audio {
		info.Tracks = append(info.Tracks, domain.MediaTrack{Index: 1, Type: "audio", Codec: "aac"})
	}
	return info, nil
}

func testSegments(n int) []domain.Segment {
	out := make([]domain.Segment, n)
	for i := range out {
		out[i] = domain.Segment{
			Index:     i,
			Name:      domain.SegmentName(i),
			StartTime: float64(i * 60),
			EndTime:   float64(i*60 + 60),
			Payload:   []byte(fmt.Sprintf("seg%d", i)),
		}
	}
	return out
}

func startedService(t *testing.T, eng *enginetest.Engine, n int, opts ...ServiceOption) *Service {
	t.Helper()
	svc := NewService(engine.NewHandle(eng), opts...)
	if err := svc.Start(domain.NewSource([]byte("video"), "clip.mp4"), testSegments(n)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return svc
}

func uploadAll(t *testing.T, svc *Service, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := svc.Upload(context.Background(), i, []byte(fmt.Sprintf("d%d", i))); err != nil {
			t.Fatalf("Upload(%d): %v", i, err)
		}
	}
}

func TestMergeWithPendingUploadFailsWithoutEngineWork(t *testing.T) {
	eng := enginetest.New()
	svc := startedService(t, eng, 5)
	uploadAll(t, svc, 4)

	artifacts, err := svc.MergeAndReplace(context.Background())
	if !errors.Is(err, domain.ErrIncompleteUploads) {
		t.Fatalf("expected ErrIncompleteUploads, got %v", err)
	}
	var incomplete *domain.IncompleteUploadsError
	if !errors.As(err, &incomplete) || incomplete.MissingIndex != 4 || incomplete.Missing != 1 {
		t.Fatalf("expected missing index 4, got %v", err)
	}
	if artifacts.Complete() || len(artifacts.MergedAudio) != 0 || len(artifacts.FinalVideo) != 0 {
		t.Fatal("expected no artifacts")
	}
	if got := len(eng.Calls()); got != 0 {
		t.Fatalf("expected zero engine calls, got %d", got)
	}
	if got := eng.Writes(); got != 0 {
		t.Fatalf("expected zero engine writes, got %d", got)
	}
	if got := eng.Loads(); got != 0 {
		t.Fatalf("expected engine not to load, got %d", got)
	}
	if _, ok := svc.Artifacts(); ok {
		t.Fatal("expected no artifacts to be exposed")
	}
	if svc.Phase() != domain.PhaseAwaitingUploads {
		t.Fatalf("expected to keep awaiting uploads, got %s", svc.Phase())
	}
}

func TestMergeAndReplaceBuildsArtifactsInIndexOrder(t *testing.T) {
	eng := enginetest.New()
	sink := &recordingSink{}
	svc := startedService(t, eng, 4, WithStatusSink(sink))

	// Upload out of order; the merge order must follow segment indices.
	for _, i := range []int{3, 1, 0, 2} {
		if err := svc.Upload(context.Background(), i, []byte(fmt.Sprintf("d%d", i))); err != nil {
			t.Fatalf("Upload(%d): %v", i, err)
		}
	}

	artifacts, err := svc.MergeAndReplace(context.Background())
	if err != nil {
		t.Fatalf("MergeAndReplace: %v", err)
	}

	wantAudio := "pcm(d0)pcm(d1)pcm(d2)pcm(d3)"
	if got := string(artifacts.MergedAudio); got != "mp3("+wantAudio+")" {
		t.Fatalf("unexpected merged audio %q", got)
	}
	if got := string(artifacts.FinalVideo); got != "mux(video|"+wantAudio+")" {
		t.Fatalf("unexpected final video %q", got)
	}

	extracts := eng.CallsOf(enginetest.OpExtract)
	if len(extracts) != 4 {
		t.Fatalf("expected 4 extractions, got %d", len(extracts))
	}
	for i, call := range extracts {
		if call.Input() != dubInputName(i) || call.Output() != dubAudioName(i) {
			t.Fatalf("extraction %d used %s -> %s", i, call.Input(), call.Output())
		}
		if !strings.Contains(strings.Join(call.Args, " "), "-t 60.000") {
			t.Fatalf("extraction %d not trimmed to segment duration: %v", i, call.Args)
		}
	}
	if got := eng.MaxConcurrent(); got != 1 {
		t.Fatalf("expected strictly sequential engine use, got %d concurrent", got)
	}

	ops := make([]enginetest.Op, 0)
	for _, call := range eng.Calls() {
		if len(ops) == 0 || ops[len(ops)-1] != call.Op {
			ops = append(ops, call.Op)
		}
	}
	wantOps := []enginetest.Op{enginetest.OpExtract, enginetest.OpConcat, enginetest.OpEncode, enginetest.OpRemux}
	if fmt.Sprint(ops) != fmt.Sprint(wantOps) {
		t.Fatalf("unexpected op sequence %v", ops)
	}

	if files := eng.Files(); len(files) != 0 {
		t.Fatalf("expected engine storage cleaned, found %v", files)
	}
	if got, ok := svc.Artifacts(); !ok || !got.Complete() {
		t.Fatal("expected artifacts after completion")
	}
	if final := sink.last(); final.Phase != domain.PhaseComplete || final.Progress != 100 {
		t.Fatalf("unexpected final status %+v", final)
	}
}

func TestCompleteIsPublishedOnceArtifactsAreReady(t *testing.T) {
	eng := enginetest.New()
	var (
		svc         *Service
		sawComplete bool
		readyAtThen bool
	)
	sink := ports.StatusSinkFunc(func(st domain.PipelineStatus) {
		if st.Phase != domain.PhaseComplete {
			return
		}
		sawComplete = true
		_, readyAtThen = svc.Artifacts()
	})
	svc = startedService(t, eng, 2, WithStatusSink(sink))
	uploadAll(t, svc, 2)

	if _, err := svc.MergeAndReplace(context.Background()); err != nil {
		t.Fatalf("MergeAndReplace: %v", err)
	}
	if !sawComplete {
		t.Fatal("expected a complete status")
	}
	if !readyAtThen {
		t.Fatal("expected artifacts to be available when complete was published")
	}
}

func TestMergeFailureIsTaggedWithStep(t *testing.T) {
	tests := []struct {
		name   string
		failOn enginetest.Op
		step   domain.MergeStep
	}{
		{"extraction", enginetest.OpExtract, domain.MergeStepExtraction},
		{"concatenation", enginetest.OpConcat, domain.MergeStepConcatenation},
		{"remux", enginetest.OpRemux, domain.MergeStepRemux},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := enginetest.New()
			eng.Hook = func(_ context.Context, call enginetest.Call) error {
				if call.Op == tt.failOn {
					return errors.New("Conversion failed!")
				}
				return nil
			}
			sink := &recordingSink{}
			svc := startedService(t, eng, 3, WithStatusSink(sink))
			uploadAll(t, svc, 3)

			artifacts, err := svc.MergeAndReplace(context.Background())
			if !errors.Is(err, domain.ErrRemuxFailed) {
				t.Fatalf("expected ErrRemuxFailed, got %v", err)
			}
			var merr *domain.MergeError
			if !errors.As(err, &merr) || merr.Step != tt.step {
				t.Fatalf("expected step %s, got %v", tt.step, err)
			}
			if !strings.Contains(err.Error(), "Conversion failed!") {
				t.Fatalf("engine message not surfaced: %v", err)
			}
			if len(artifacts.MergedAudio) != 0 || len(artifacts.FinalVideo) != 0 {
				t.Fatal("expected no partial artifacts")
			}
			if _, ok := svc.Artifacts(); ok {
				t.Fatal("expected no artifacts after failure")
			}
			if svc.Phase() != domain.PhaseError {
				t.Fatalf("expected error phase, got %s", svc.Phase())
			}
			if final := sink.last(); final.Phase != domain.PhaseError || final.FailedStep != string(tt.step) {
				t.Fatalf("unexpected final status %+v", final)
			}
			if files := eng.Files(); len(files) != 0 {
				t.Fatalf("expected engine storage cleaned, found %v", files)
			}
		})
	}
}

func TestMergeIgnoresCallerCancellation(t *testing.T) {
	eng := enginetest.New()
	svc := startedService(t, eng, 2)
	uploadAll(t, svc, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	artifacts, err := svc.MergeAndReplace(ctx)
	if err != nil {
		t.Fatalf("MergeAndReplace: %v", err)
	}
	if !artifacts.Complete() {
		t.Fatal("expected complete artifacts")
	}
}

func TestUploadValidation(t *testing.T) {
	eng := enginetest.New()
	svc := NewService(engine.NewHandle(eng), WithUploadProbe(fakeProbe{audio: false}))

	if err := svc.Upload(context.Background(), 0, []byte("x")); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := svc.Start(domain.NewSource([]byte("video"), "clip.mp4"), testSegments(2)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Upload(context.Background(), 0, nil); !errors.Is(err, domain.ErrInvalidUpload) {
		t.Fatalf("expected ErrInvalidUpload for empty payload, got %v", err)
	}
	if err := svc.Upload(context.Background(), 2, []byte("x")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for out-of-range index, got %v", err)
	}
	if err := svc.Upload(context.Background(), -1, []byte("x")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for negative index, got %v", err)
	}
	if err := svc.Upload(context.Background(), 0, []byte("silent")); !errors.Is(err, domain.ErrInvalidUpload) {
		t.Fatalf("expected ErrInvalidUpload for upload without audio, got %v", err)
	}
	for _, d := range svc.Segments() {
		if d.Status != domain.DubStatusPending || d.Replacement != nil {
			t.Fatalf("rejected uploads must not change slot %d", d.Index)
		}
	}
}

func TestUploadReplacesAndReportsProgress(t *testing.T) {
	eng := enginetest.New()
	sink := &recordingSink{}
	svc := startedService(t, eng, 4, WithStatusSink(sink), WithUploadProbe(fakeProbe{audio: true}))

	if err := svc.Upload(context.Background(), 1, []byte("first")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := svc.Upload(context.Background(), 1, []byte("second")); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	dubs := svc.Segments()
	if dubs[1].Status != domain.DubStatusUploaded || string(dubs[1].Replacement) != "second" {
		t.Fatalf("expected replacement to be overwritten, got %+v", dubs[1])
	}
	if dubs[0].Status != domain.DubStatusPending {
		t.Fatal("untouched slot should stay pending")
	}

	st := sink.last()
	if st.Phase != domain.PhaseAwaitingUploads || st.CompletedUnits != 1 || st.TotalUnits != 4 || st.Progress != 25 {
		t.Fatalf("unexpected upload status %+v", st)
	}
}

func TestResetDiscardsRun(t *testing.T) {
	eng := enginetest.New()
	svc := startedService(t, eng, 1)
	uploadAll(t, svc, 1)
	if _, err := svc.MergeAndReplace(context.Background()); err != nil {
		t.Fatalf("MergeAndReplace: %v", err)
	}

	svc.Reset()
	if svc.Phase() != domain.PhaseIdle || len(svc.Segments()) != 0 {
		t.Fatal("expected idle state after reset")
	}
	if _, ok := svc.Artifacts(); ok {
		t.Fatal("expected artifacts discarded")
	}
	if _, err := svc.MergeAndReplace(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}
