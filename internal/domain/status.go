package domain

import "time"

type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseAcquiring       Phase = "acquiring"
	PhaseEngineLoading   Phase = "engine_loading"
	PhasePreparing       Phase = "preparing"
	PhaseSegmenting      Phase = "segmenting"
	PhaseAwaitingUploads Phase = "awaiting_uploads"
	PhaseMerging         Phase = "merging"
	PhaseRemuxing        Phase = "remuxing"
	PhaseComplete        Phase = "complete"
	PhaseError           Phase = "error"
	PhaseCancelled       Phase = "cancelled"
)

// Active reports whether the phase means work is in flight.
func (p Phase) Active() bool {
	switch p {
	case PhaseAcquiring, PhaseEngineLoading, PhasePreparing, PhaseSegmenting, PhaseMerging, PhaseRemuxing:
		return true
	default:
		return false
	}
}

func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError || p == PhaseCancelled
}

type PipelineStatus struct {
	RunID          string    `json:"runId,omitempty"`
	Phase          Phase     `json:"phase"`
	Progress       float64   `json:"progress"`
	Message        string    `json:"message"`
	TotalUnits     int       `json:"totalUnits"`
	CompletedUnits int       `json:"completedUnits"`
	FailedStep     string    `json:"failedStep,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func IdleStatus() PipelineStatus {
	return PipelineStatus{Phase: PhaseIdle}
}
