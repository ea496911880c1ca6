package acquire

import (
	"context"
	"strings"

	"redubstream/internal/domain"
)

// Provider resolves a source id to a fetchable media URL.
type Provider interface {
	Name() string
	Info() domain.ProviderInfo
	Resolve(ctx context.Context, sourceID string) (domain.MediaLocator, error)
}

// TitleResolver looks up a title when the winning provider had none.
type TitleResolver interface {
	ResolveTitle(ctx context.Context, sourceID string) (string, error)
}

// Tier is a group of providers of equal rank. Tiers are tried in order.
type Tier []Provider

func providerKey(p Provider) string {
	return strings.ToLower(strings.TrimSpace(p.Name()))
}
