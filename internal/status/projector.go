// Package status projects engine progress into the single PipelineStatus
// snapshot observed by the HTTP surface and WebSocket subscribers.
package status

import (
	"sync"
	"time"

	"redubstream/internal/domain"
)

// Projector holds the latest status and fans it out to subscribers.
// Progress never decreases within one run and phase.
type Projector struct {
	mu      sync.RWMutex
	current domain.PipelineStatus
	subs    map[int]chan domain.PipelineStatus
	nextID  int
	now     func() time.Time
}

func NewProjector() *Projector {
	p := &Projector{
		subs: make(map[int]chan domain.PipelineStatus),
		now:  time.Now,
	}
	p.current = domain.IdleStatus()
	p.current.UpdatedAt = p.now()
	return p
}

// Begin starts a new run. Snapshots carrying another run id are ignored
// afterwards.
func (p *Projector) Begin(runID string) {
	p.set(domain.PipelineStatus{RunID: runID, Phase: domain.PhaseIdle}, true)
}

// Publish implements ports.StatusSink. Empty RunID inherits the current run.
func (p *Projector) Publish(st domain.PipelineStatus) {
	p.set(st, false)
}

// Reset returns the projection to idle with no run.
func (p *Projector) Reset() {
	p.set(domain.IdleStatus(), true)
}

func (p *Projector) Current() domain.PipelineStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe returns a channel receiving every accepted snapshot, starting with
// the current one. Slow subscribers drop snapshots rather than block engines.
func (p *Projector) Subscribe(buffer int) (<-chan domain.PipelineStatus, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan domain.PipelineStatus, buffer)

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	ch <- p.current
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			close(ch)
			p.mu.Unlock()
		})
	}
}

func (p *Projector) set(st domain.PipelineStatus, force bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !force {
		if st.RunID == "" {
			st.RunID = p.current.RunID
		} else if st.RunID != p.current.RunID {
			return
		}
		if st.Phase == p.current.Phase {
			if st.Progress < p.current.Progress {
				st.Progress = p.current.Progress
			}
			if st.CompletedUnits < p.current.CompletedUnits {
				st.CompletedUnits = p.current.CompletedUnits
			}
		}
	}
	if st.Progress < 0 {
		st.Progress = 0
	}
	if st.Progress > 100 {
		st.Progress = 100
	}
	st.UpdatedAt = p.now()
	p.current = st

	for _, ch := range p.subs {
		select {
		case ch <- st:
		default:
		}
	}
}
