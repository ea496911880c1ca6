// Package acquire resolves share links into media bytes through ranked tiers
// of independent downstream providers.
package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"redubstream/internal/domain"
	"redubstream/internal/metrics"
	"redubstream/internal/telemetry"
)

const (
	DefaultMetadataTimeout = 8 * time.Second
	DefaultPayloadTimeout  = 90 * time.Second
	DefaultMinBytes        = 100 * 1024
	DefaultMaxBytes        = 2 << 30
	DefaultUserAgent       = "redubstream/1.0"

	// maxConcurrentProviders bounds how many providers of one tier race at once.
	maxConcurrentProviders = 4
)

type Service struct {
	tiers []Tier

	client          *http.Client
	userAgent       string
	metadataTimeout time.Duration
	payloadTimeout  time.Duration
	minBytes        int64
	maxBytes        int64
	race            bool
	maxConcurrent   int64
	logger          *slog.Logger

	titleResolver TitleResolver
	titles        *titleCache
	titleTTL      time.Duration
	redisTitles   *RedisTitleCache

	attempts *attemptLedger

	rateLimit  rate.Limit
	rateBurst  int
	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

type ServiceOption func(*Service)

func WithHTTPClient(client *http.Client) ServiceOption {
	return func(s *Service) {
		if client != nil {
			s.client = client
		}
	}
}

func WithUserAgent(userAgent string) ServiceOption {
	return func(s *Service) {
		if ua := strings.TrimSpace(userAgent); ua != "" {
			s.userAgent = ua
		}
	}
}

func WithTimeouts(metadata, payload time.Duration) ServiceOption {
	return func(s *Service) {
		if metadata > 0 {
			s.metadataTimeout = metadata
		}
		if payload > 0 {
			s.payloadTimeout = payload
		}
	}
}

// WithSizeLimits sets the payload floor and ceiling. A zero max disables the
// ceiling.
func WithSizeLimits(minBytes, maxBytes int64) ServiceOption {
	return func(s *Service) {
		if minBytes >= 0 {
			s.minBytes = minBytes
		}
		if maxBytes >= 0 {
			s.maxBytes = maxBytes
		}
	}
}

// WithRace toggles concurrent racing within a tier. Disabled, providers of a
// tier are tried one by one in rank order.
func WithRace(enabled bool) ServiceOption {
	return func(s *Service) {
		s.race = enabled
	}
}

func WithProviderRateLimit(rps float64, burst int) ServiceOption {
	return func(s *Service) {
		if rps > 0 {
			s.rateLimit = rate.Limit(rps)
			s.rateBurst = max(burst, 1)
		}
	}
}

func WithTitleResolver(resolver TitleResolver) ServiceOption {
	return func(s *Service) {
		s.titleResolver = resolver
	}
}

func WithTitleCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.titleTTL = ttl
			s.titles = newTitleCache(ttl)
		}
	}
}

func WithRedisTitleCache(cache *RedisTitleCache) ServiceOption {
	return func(s *Service) {
		s.redisTitles = cache
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(tiers []Tier, opts ...ServiceOption) *Service {
	kept := make([]Tier, 0, len(tiers))
	for _, tier := range tiers {
		providers := make(Tier, 0, len(tier))
		for _, p := range tier {
			if p != nil && providerKey(p) != "" {
				providers = append(providers, p)
			}
		}
		if len(providers) > 0 {
			kept = append(kept, providers)
		}
	}

	s := &Service{
		tiers:           kept,
		client:          &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		userAgent:       DefaultUserAgent,
		metadataTimeout: DefaultMetadataTimeout,
		payloadTimeout:  DefaultPayloadTimeout,
		minBytes:        DefaultMinBytes,
		maxBytes:        DefaultMaxBytes,
		race:            true,
		maxConcurrent:   maxConcurrentProviders,
		logger:          slog.Default(),
		titleTTL:        24 * time.Hour,
		titles:          newTitleCache(24 * time.Hour),
		attempts:        newAttemptLedger(),
		limiters:        make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Providers lists configured providers with their 1-based tier rank.
func (s *Service) Providers() []domain.ProviderInfo {
	items := make([]domain.ProviderInfo, 0)
	seen := make(map[string]struct{})
	for i, tier := range s.tiers {
		for _, p := range tier {
			info := p.Info()
			info.Name = providerKey(p)
			if _, ok := seen[info.Name]; ok {
				continue
			}
			seen[info.Name] = struct{}{}
			if info.Label == "" {
				info.Label = info.Name
			}
			info.Tier = i + 1
			items = append(items, info)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Tier < items[j].Tier
	})
	return items
}

// Acquire resolves rawURL into media bytes. Tiers are tried in order; the
// first provider to deliver a payload above the size floor wins.
func (s *Service) Acquire(ctx context.Context, rawURL string) (domain.Acquisition, error) {
	id, err := ParseSourceID(rawURL)
	if err != nil {
		return domain.Acquisition{}, err
	}

	ctx, span := telemetry.Tracer("acquire").Start(ctx, "acquire.Acquire")
	defer span.End()
	span.SetAttributes(attribute.String("source.id", id))

	logger := s.logger.With(slog.String("sourceId", id))
	attempts := make([]domain.ProviderStatus, 0)

	for i, tier := range s.tiers {
		var (
			result   domain.Acquisition
			statuses []domain.ProviderStatus
			ok       bool
		)
		if s.race && len(tier) > 1 {
			result, statuses, ok = s.raceTier(ctx, tier, i+1, id)
		} else {
			result, statuses, ok = s.rankTier(ctx, tier, i+1, id)
		}
		attempts = append(attempts, statuses...)
		if ok {
			result.Title = s.resolveTitle(ctx, id, result.Title)
			span.SetAttributes(
				attribute.String("provider", result.Provider),
				attribute.Int64("payload.bytes", result.Size),
			)
			logger.Info("source acquired",
				slog.String("provider", result.Provider),
				slog.Int("tier", i+1),
				slog.Int64("bytes", result.Size),
				slog.String("title", result.Title),
			)
			return result, nil
		}
		if err := ctx.Err(); err != nil {
			return domain.Acquisition{}, err
		}
		logger.Warn("acquisition tier exhausted", slog.Int("tier", i+1), slog.Int("attempts", len(statuses)))
	}

	return domain.Acquisition{}, &domain.ProvidersFailedError{SourceID: id, Attempts: attempts}
}

func (s *Service) rankTier(ctx context.Context, tier Tier, rank int, id string) (domain.Acquisition, []domain.ProviderStatus, bool) {
	statuses := make([]domain.ProviderStatus, 0, len(tier))
	for _, p := range tier {
		result, status := s.attempt(ctx, p, rank, id)
		statuses = append(statuses, status)
		if status.OK {
			return result, statuses, true
		}
		if ctx.Err() != nil {
			break
		}
	}
	return domain.Acquisition{}, statuses, false
}

// raceTier runs every provider of a tier concurrently; the first success
// cancels the rest.
func (s *Service) raceTier(ctx context.Context, tier Tier, rank int, id string) (domain.Acquisition, []domain.ProviderStatus, bool) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	statuses := make([]domain.ProviderStatus, len(tier))
	sem := semaphore.NewWeighted(s.maxConcurrent)

	var (
		mu     sync.Mutex
		winner *domain.Acquisition
		wg     sync.WaitGroup
	)
	for i, p := range tier {
		wg.Add(1)
		go func(index int, current Provider) {
			defer wg.Done()

			if err := sem.Acquire(runCtx, 1); err != nil {
				mu.Lock()
				statuses[index] = domain.ProviderStatus{Name: providerKey(current), Tier: rank, Error: "cancelled before start"}
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			result, status := s.attempt(runCtx, current, rank, id)

			mu.Lock()
			defer mu.Unlock()
			statuses[index] = status
			if status.OK && winner == nil {
				winner = &result
				cancel()
			}
		}(i, p)
	}
	wg.Wait()

	if winner == nil {
		return domain.Acquisition{}, statuses, false
	}
	return *winner, statuses, true
}

// attempt is one provider's metadata resolve plus payload fetch, each under
// its own timeout.
func (s *Service) attempt(ctx context.Context, p Provider, rank int, id string) (domain.Acquisition, domain.ProviderStatus) {
	name := providerKey(p)
	status := domain.ProviderStatus{Name: name, Tier: rank}

	if err := s.waitProviderRateLimit(ctx, name); err != nil {
		status.Error = "rate limit wait cancelled"
		return domain.Acquisition{}, status
	}

	startedAt := time.Now()
	result, err := s.fetchFrom(ctx, p, id)
	if ctx.Err() != nil && err != nil {
		// Lost a race or the caller gave up; not the provider's fault.
		status.Error = "cancelled"
		return domain.Acquisition{}, status
	}
	s.attempts.record(name, id, err, time.Since(startedAt), time.Now())
	if err != nil {
		status.Error = err.Error()
		s.logger.Debug("provider attempt failed", slog.String("provider", name), slog.String("sourceId", id), slog.String("error", err.Error()))
		return domain.Acquisition{}, status
	}

	metrics.AcquiredBytesTotal.WithLabelValues(name).Add(float64(result.Size))
	status.OK = true
	status.Bytes = result.Size
	return result, status
}

func (s *Service) fetchFrom(ctx context.Context, p Provider, id string) (domain.Acquisition, error) {
	metaCtx, cancelMeta := context.WithTimeout(ctx, s.metadataTimeout)
	loc, err := p.Resolve(metaCtx, id)
	cancelMeta()
	if err != nil {
		return domain.Acquisition{}, fmt.Errorf("resolve: %w", err)
	}

	payloadCtx, cancelPayload := context.WithTimeout(ctx, s.payloadTimeout)
	defer cancelPayload()
	body, err := s.fetchPayload(payloadCtx, loc)
	if err != nil {
		return domain.Acquisition{}, err
	}

	return domain.Acquisition{
		SourceID: id,
		Title:    strings.TrimSpace(loc.Title),
		Data:     body.data,
		MimeType: body.mimeType,
		Size:     int64(len(body.data)),
		Provider: providerKey(p),
	}, nil
}
