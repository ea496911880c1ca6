package status

import (
	"testing"

	"redubstream/internal/domain"
)

func TestProjectorProgressNeverDecreasesWithinPhase(t *testing.T) {
	p := NewProjector()
	p.Begin("run-1")

	p.Publish(domain.PipelineStatus{Phase: domain.PhaseSegmenting, Progress: 60, CompletedUnits: 3})
	p.Publish(domain.PipelineStatus{Phase: domain.PhaseSegmenting, Progress: 40, CompletedUnits: 2})

	got := p.Current()
	if got.Progress != 60 || got.CompletedUnits != 3 {
		t.Fatalf("expected progress 60 / units 3, got %v / %d", got.Progress, got.CompletedUnits)
	}
	if got.RunID != "run-1" {
		t.Fatalf("expected inherited run id, got %q", got.RunID)
	}

	p.Publish(domain.PipelineStatus{Phase: domain.PhaseAwaitingUploads, Progress: 0})
	if got := p.Current(); got.Progress != 0 || got.Phase != domain.PhaseAwaitingUploads {
		t.Fatalf("new phase should restart progress, got %+v", got)
	}
}

func TestProjectorIgnoresStaleRun(t *testing.T) {
	p := NewProjector()
	p.Begin("run-1")
	p.Begin("run-2")

	p.Publish(domain.PipelineStatus{RunID: "run-1", Phase: domain.PhaseError, Message: "late"})
	if got := p.Current(); got.Phase != domain.PhaseIdle || got.RunID != "run-2" {
		t.Fatalf("stale snapshot applied: %+v", got)
	}
}

func TestProjectorClampsProgress(t *testing.T) {
	p := NewProjector()
	p.Publish(domain.PipelineStatus{Phase: domain.PhaseSegmenting, Progress: 140})
	if got := p.Current().Progress; got != 100 {
		t.Fatalf("expected 100, got %v", got)
	}
}

func TestProjectorSubscribe(t *testing.T) {
	p := NewProjector()
	ch, unsubscribe := p.Subscribe(4)

	first := <-ch
	if first.Phase != domain.PhaseIdle {
		t.Fatalf("expected initial idle snapshot, got %s", first.Phase)
	}

	p.Publish(domain.PipelineStatus{Phase: domain.PhaseSegmenting, Progress: 25})
	next := <-ch
	if next.Phase != domain.PhaseSegmenting || next.Progress != 25 {
		t.Fatalf("unexpected snapshot %+v", next)
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}

	// Publishing after unsubscribe must not panic on the closed channel.
	p.Publish(domain.PipelineStatus{Phase: domain.PhaseComplete, Progress: 100})
}

func TestProjectorSlowSubscriberDoesNotBlock(t *testing.T) {
	p := NewProjector()
	_, unsubscribe := p.Subscribe(1)
	defer unsubscribe()

	for i := 0; i < 10; i++ {
		p.Publish(domain.PipelineStatus{Phase: domain.PhaseSegmenting, Progress: float64(i * 10)})
	}
	if got := p.Current().Progress; got != 90 {
		t.Fatalf("expected 90, got %v", got)
	}
}

func TestProjectorReset(t *testing.T) {
	p := NewProjector()
	p.Begin("run-1")
	p.Publish(domain.PipelineStatus{Phase: domain.PhaseError, Message: "boom", FailedStep: "remux"})
	p.Reset()

	got := p.Current()
	if got.Phase != domain.PhaseIdle || got.RunID != "" || got.FailedStep != "" {
		t.Fatalf("expected idle after reset, got %+v", got)
	}
}
