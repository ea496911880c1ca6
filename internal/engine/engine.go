// Package engine models the external transcoding engine as an explicitly owned
// resource: one working-storage namespace, loaded once, used by one run at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"redubstream/internal/domain"
	"redubstream/internal/metrics"
)

// Engine is a stateful transcoder with a flat working storage. File names are
// bare names inside that storage, never paths.
type Engine interface {
	Load(ctx context.Context) error
	WriteFile(ctx context.Context, name string, data []byte) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
	DeleteFile(ctx context.Context, name string) error
	Exec(ctx context.Context, args []string) error
}

var ErrNotLoaded = errors.New("engine not loaded")

// Handle guards an Engine with init-once loading and a single-writer lease.
type Handle struct {
	engine Engine

	loadMu sync.Mutex
	loaded bool

	lease chan struct{}
}

func NewHandle(engine Engine) *Handle {
	return &Handle{
		engine: engine,
		lease:  make(chan struct{}, 1),
	}
}

// Ensure loads the engine if it has not been loaded yet. It reports whether
// this call performed the load. A failed load is not cached so that a later
// explicit run can try again, but it is never retried within one call.
func (h *Handle) Ensure(ctx context.Context) (bool, error) {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()

	if h.loaded {
		return false, nil
	}
	if err := h.engine.Load(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrEngineLoadFailed, err)
	}
	h.loaded = true
	return true, nil
}

func (h *Handle) Loaded() bool {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()
	return h.loaded
}

// Acquire takes the exclusive lease on the engine's working storage. The
// returned release func must be called exactly once.
func (h *Handle) Acquire(ctx context.Context) (func(), error) {
	select {
	case h.lease <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-h.lease })
	}, nil
}

// Engine returns the underlying engine. Callers must hold the lease and have
// called Ensure.
func (h *Handle) Engine() Engine {
	return h.engine
}

// Remove deletes name and ignores errors; used for best-effort cleanup.
func Remove(ctx context.Context, e Engine, names ...string) {
	for _, name := range names {
		_ = e.DeleteFile(ctx, name)
	}
}

// Run executes args on e and records duration and failures under op.
func Run(ctx context.Context, e Engine, op string, args []string) error {
	start := time.Now()
	err := e.Exec(ctx, args)
	metrics.EngineExecDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EngineExecFailuresTotal.WithLabelValues(op).Inc()
	}
	return err
}
