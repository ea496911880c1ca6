package ports

import (
	"context"

	"redubstream/internal/domain"
)

// MediaProbe reads container metadata without going through the transcoding
// engine's working storage.
type MediaProbe interface {
	ProbeBytes(ctx context.Context, data []byte) (domain.MediaInfo, error)
}
