package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"redubstream/internal/domain"
	"redubstream/internal/engine"
	"redubstream/internal/engine/enginetest"
	"redubstream/internal/redub"
	"redubstream/internal/segmenter"
	"redubstream/internal/status"
)

type fakeProbe struct {
	duration float64
}

func (p fakeProbe) ProbeBytes(context.Context, []byte) (domain.MediaInfo, error) {
	return domain.MediaInfo{Duration: p.duration}, nil
}

type fakeAcquirer struct {
	result domain.Acquisition
	err    error
	calls  atomic.Int32
}

func (f *fakeAcquirer) Acquire(ctx context.Context, rawURL string) (domain.Acquisition, error) {
	f.calls.Add(1)
	if f.err != nil {
		return domain.Acquisition{}, f.err
	}
	return f.result, nil
}

type fixture struct {
	eng       *enginetest.Engine
	projector *status.Projector
	pipeline  *Pipeline
}

func newFixture(t *testing.T, duration float64, opts ...Option) *fixture {
	t.Helper()
	eng := enginetest.New()
	handle := engine.NewHandle(eng)
	projector := status.NewProjector()
	seg := segmenter.NewService(handle, fakeProbe{duration: duration},
		segmenter.WithConfig(segmenter.Config{Window: 60, BatchSize: 3}),
		segmenter.WithStatusSink(projector),
	)
	red := redub.NewService(handle, redub.WithStatusSink(projector))
	return &fixture{
		eng:       eng,
		projector: projector,
		pipeline:  New(seg, red, projector, opts...),
	}
}

func waitDone(t *testing.T, p *Pipeline) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
}

func waitPhase(t *testing.T, p *Pipeline, phase domain.Phase) domain.PipelineStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st := p.Status(); st.Phase == phase {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for phase %s, last status %+v", phase, p.Status())
	return domain.PipelineStatus{}
}

func TestFileRunThroughMerge(t *testing.T) {
	f := newFixture(t, 150)
	p := f.pipeline

	runID, err := p.StartFromFile([]byte("original"), "talk.mp4")
	if err != nil {
		t.Fatalf("StartFromFile: %v", err)
	}
	waitDone(t, p)

	st := p.Status()
	if st.RunID != runID || st.Phase != domain.PhaseAwaitingUploads || st.TotalUnits != 3 {
		t.Fatalf("unexpected status after segmentation %+v", st)
	}
	segments, err := p.Segments()
	if err != nil || len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d (%v)", len(segments), err)
	}
	if seg, err := p.Segment(2); err != nil || seg.StartTime != 120 || seg.EndTime != 150 {
		t.Fatalf("unexpected last segment %+v (%v)", seg, err)
	}
	if _, err := p.Segment(3); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for i := range segments {
		if err := p.UploadDub(context.Background(), i, []byte{byte('a' + i)}); err != nil {
			t.Fatalf("UploadDub(%d): %v", i, err)
		}
	}

	artifacts, err := p.Merge(context.Background())
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !bytes.HasPrefix(artifacts.FinalVideo, []byte("mux(original|")) {
		t.Fatalf("final video not built from the original source: %q", artifacts.FinalVideo)
	}
	if got, ok := p.Artifacts(); !ok || !got.Complete() {
		t.Fatal("expected artifacts to be exposed")
	}
	if st := p.Status(); st.Phase != domain.PhaseComplete || st.RunID != runID {
		t.Fatalf("unexpected final status %+v", st)
	}

	// A completed run does not block the next one.
	if _, err := p.StartFromFile([]byte("next"), "next.mp4"); err != nil {
		t.Fatalf("StartFromFile after completion: %v", err)
	}
	waitDone(t, p)
	if _, ok := p.Artifacts(); ok {
		t.Fatal("new run must not expose previous artifacts")
	}
}
func TestFinishedMergeCountsAsCompleteBeforeItIsRecorded(t *testing.T) {
	f := newFixture(t, 60)
	p := f.pipeline

	if _, err := p.StartFromFile([]byte("original"), "talk.mp4"); err != nil {
		t.Fatalf("StartFromFile: %v", err)
	}
	waitDone(t, p)
	if err := p.UploadDub(context.Background(), 0, []byte("a")); err != nil {
		t.Fatalf("UploadDub: %v", err)
	}

	// The redub merge has finished but runMerge has not recorded it yet.
	if _, started, err := p.beginMerge(); err != nil || !started {
		t.Fatalf("beginMerge: started=%v err=%v", started, err)
	}
	if _, err := p.redub.MergeAndReplace(context.Background()); err != nil {
		t.Fatalf("MergeAndReplace: %v", err)
	}

	if st := p.Status(); st.Phase != domain.PhaseComplete {
		t.Fatalf("expected complete status, got %+v", st)
	}
	if _, ok := p.Artifacts(); !ok {
		t.Fatal("expected artifacts once complete is reported")
	}
	if err := p.Cancel(); !errors.Is(err, ErrNoActiveRun) {
		t.Fatalf("expected ErrNoActiveRun, got %v", err)
	}
	if err := p.MergeAsync(); err != nil {
		t.Fatalf("MergeAsync on a finished merge: %v", err)
	}
	if _, err := p.StartFromFile([]byte("next"), "next.mp4"); err != nil {
		t.Fatalf("StartFromFile right after complete: %v", err)
	}
	waitDone(t, p)
}

func TestSecondRunIsRefusedWhileBusy(t *testing.T) {
	f := newFixture(t, 60)
	release := make(chan struct{})
	f.eng.Hook = func(context.Context, enginetest.Call) error {
		<-release
		return nil
	}
	p := f.pipeline

	if _, err := p.StartFromFile([]byte("one"), "one.mp4"); err != nil {
		t.Fatalf("StartFromFile: %v", err)
	}
	if _, err := p.StartFromFile([]byte("two"), "two.mp4"); !errors.Is(err, ErrPipelineBusy) {
		t.Fatalf("expected ErrPipelineBusy, got %v", err)
	}
	close(release)
	waitDone(t, p)

	if _, err := p.StartFromFile([]byte("three"), "three.mp4"); !errors.Is(err, ErrPipelineBusy) {
		t.Fatalf("expected ErrPipelineBusy while awaiting uploads, got %v", err)
	}
}

func TestFailedRunRequiresReset(t *testing.T) {
	f := newFixture(t, 120)
	f.eng.Hook = func(context.Context, enginetest.Call) error {
		return errors.New("moov atom not found")
	}
	p := f.pipeline

	if _, err := p.StartFromFile([]byte("broken"), "broken.mp4"); err != nil {
		t.Fatalf("StartFromFile: %v", err)
	}
	waitDone(t, p)

	st := p.Status()
	if st.Phase != domain.PhaseError || st.FailedStep != "segmenting" {
		t.Fatalf("expected error status, got %+v", st)
	}
	if _, err := p.StartFromFile([]byte("again"), "again.mp4"); !errors.Is(err, ErrResetRequired) {
		t.Fatalf("expected ErrResetRequired, got %v", err)
	}
	if _, err := p.Segments(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected no segments after failure, got %v", err)
	}

	if err := p.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if st := p.Status(); st.Phase != domain.PhaseIdle {
		t.Fatalf("expected idle after reset, got %s", st.Phase)
	}

	f.eng.Hook = nil
	if _, err := p.StartFromFile([]byte("again"), "again.mp4"); err != nil {
		t.Fatalf("StartFromFile after reset: %v", err)
	}
	waitDone(t, p)
	if st := p.Status(); st.Phase != domain.PhaseAwaitingUploads {
		t.Fatalf("expected awaiting uploads, got %s", st.Phase)
	}
}

func TestCancelStopsSegmentation(t *testing.T) {
	f := newFixture(t, 540)
	release := make(chan struct{})
	f.eng.Hook = func(context.Context, enginetest.Call) error {
		<-release
		return nil
	}
	p := f.pipeline

	if err := p.Cancel(); !errors.Is(err, ErrNoActiveRun) {
		t.Fatalf("expected ErrNoActiveRun, got %v", err)
	}
	if _, err := p.StartFromFile([]byte("long"), "long.mp4"); err != nil {
		t.Fatalf("StartFromFile: %v", err)
	}
	waitPhase(t, p, domain.PhasePreparing)
	if err := p.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)
	waitDone(t, p)

	st := p.Status()
	if st.Phase != domain.PhaseCancelled {
		t.Fatalf("expected cancelled, got %+v", st)
	}
	if _, err := p.Segments(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected no segments, got %v", err)
	}
	if got := len(f.eng.CallsOf(enginetest.OpCut)); got > 3 {
		t.Fatalf("expected at most one batch, got %d cuts", got)
	}

	f.eng.Hook = nil
	if _, err := p.StartFromFile([]byte("short"), "short.mp4"); err != nil {
		t.Fatalf("a cancelled run must not require reset: %v", err)
	}
	waitDone(t, p)
}

func TestStartFromURL(t *testing.T) {
	acq := &fakeAcquirer{result: domain.Acquisition{
		SourceID: "dQw4w9WgXcQ",
		Title:    "Café Talk",
		Data:     []byte("downloaded"),
		MimeType: "video/webm",
		Size:     10,
		Provider: "piped",
	}}
	f := newFixture(t, 90, WithAcquirer(acq))
	p := f.pipeline

	if _, err := p.StartFromURL("https://vimeo.com/1"); !errors.Is(err, domain.ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
	if acq.calls.Load() != 0 {
		t.Fatal("acquirer must not be called for an invalid link")
	}

	if _, err := p.StartFromURL("https://youtu.be/dQw4w9WgXcQ"); err != nil {
		t.Fatalf("StartFromURL: %v", err)
	}
	waitDone(t, p)

	src, ok := p.Source()
	if !ok || src.Name() != "Cafe_Talk.webm" || string(src.Bytes()) != "downloaded" {
		t.Fatalf("unexpected source %q (%v)", src.Name(), ok)
	}
	if segments, err := p.Segments(); err != nil || len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d (%v)", len(segments), err)
	}
	cuts := f.eng.CallsOf(enginetest.OpCut)
	if len(cuts) == 0 || cuts[0].Input() != "source.webm" {
		t.Fatalf("expected cuts from source.webm, got %+v", cuts)
	}
}

func TestAcquisitionFailureIsReported(t *testing.T) {
	acq := &fakeAcquirer{err: &domain.ProvidersFailedError{SourceID: "dQw4w9WgXcQ", Attempts: []domain.ProviderStatus{{Name: "piped", Error: "HTTP 500"}}}}
	f := newFixture(t, 60, WithAcquirer(acq))
	p := f.pipeline

	if _, err := p.StartFromURL("dQw4w9WgXcQ"); err != nil {
		t.Fatalf("StartFromURL: %v", err)
	}
	waitDone(t, p)

	st := p.Status()
	if st.Phase != domain.PhaseError || st.FailedStep != "acquiring" {
		t.Fatalf("unexpected status %+v", st)
	}
	if got := len(f.eng.Calls()); got != 0 {
		t.Fatalf("expected no engine work, got %d calls", got)
	}
}

func TestMergeAsyncChecksUploadsFirst(t *testing.T) {
	f := newFixture(t, 300)
	p := f.pipeline

	if err := p.MergeAsync(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady before any run, got %v", err)
	}
	if _, err := p.StartFromFile([]byte("video"), "video.mp4"); err != nil {
		t.Fatalf("StartFromFile: %v", err)
	}
	waitDone(t, p)

	for i := 0; i < 4; i++ {
		if err := p.UploadDub(context.Background(), i, []byte("dub")); err != nil {
			t.Fatalf("UploadDub(%d): %v", i, err)
		}
	}
	err := p.MergeAsync()
	var incomplete *domain.IncompleteUploadsError
	if !errors.As(err, &incomplete) || incomplete.MissingIndex != 4 {
		t.Fatalf("expected missing index 4, got %v", err)
	}
	if got := len(f.eng.CallsOf(enginetest.OpExtract)); got != 0 {
		t.Fatalf("expected no extraction, got %d", got)
	}

	if err := p.UploadDub(context.Background(), 4, []byte("dub")); err != nil {
		t.Fatalf("UploadDub(4): %v", err)
	}
	if err := p.MergeAsync(); err != nil {
		t.Fatalf("MergeAsync: %v", err)
	}
	waitPhase(t, p, domain.PhaseComplete)
	if _, ok := p.Artifacts(); !ok {
		t.Fatal("expected artifacts after async merge")
	}
}

func TestMergeFailureRequiresReset(t *testing.T) {
	f := newFixture(t, 60)
	p := f.pipeline
	if _, err := p.StartFromFile([]byte("video"), "video.mp4"); err != nil {
		t.Fatalf("StartFromFile: %v", err)
	}
	waitDone(t, p)
	if err := p.UploadDub(context.Background(), 0, []byte("dub")); err != nil {
		t.Fatalf("UploadDub: %v", err)
	}

	f.eng.Hook = func(_ context.Context, call enginetest.Call) error {
		if call.Op == enginetest.OpRemux {
			return errors.New("Could not find tag for codec")
		}
		return nil
	}
	_, err := p.Merge(context.Background())
	var merr *domain.MergeError
	if !errors.As(err, &merr) || merr.Step != domain.MergeStepRemux {
		t.Fatalf("expected remux MergeError, got %v", err)
	}
	if st := p.Status(); st.Phase != domain.PhaseError || st.FailedStep != "remux" {
		t.Fatalf("unexpected status %+v", st)
	}
	if _, ok := p.Artifacts(); ok {
		t.Fatal("expected no artifacts after remux failure")
	}
	if _, err := p.StartFromFile([]byte("video"), "video.mp4"); !errors.Is(err, ErrResetRequired) {
		t.Fatalf("expected ErrResetRequired, got %v", err)
	}
}
