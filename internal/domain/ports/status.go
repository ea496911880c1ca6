package ports

import "redubstream/internal/domain"

// StatusSink receives status snapshots. Implementations must not block.
type StatusSink interface {
	Publish(status domain.PipelineStatus)
}

type StatusSinkFunc func(status domain.PipelineStatus)

func (f StatusSinkFunc) Publish(status domain.PipelineStatus) {
	f(status)
}

// Discard drops every snapshot.
var Discard StatusSink = StatusSinkFunc(func(domain.PipelineStatus) {})
