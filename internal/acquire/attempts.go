package acquire

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"redubstream/internal/domain"
	"redubstream/internal/metrics"
)

// recentAttempts bounds the per-provider history kept for diagnostics.
const recentAttempts = 8

const (
	outcomeDelivered  = "delivered"
	outcomeFailed     = "failed"
	outcomeTimeout    = "timeout"
	outcomeUndersized = "undersized"
	outcomeOversized  = "oversized"
)

// attemptLedger records what each provider did for which source id. It is
// read by diagnostics and metrics only; acquisition never consults it.
type attemptLedger struct {
	mu      sync.Mutex
	records map[string]*providerRecord
}

type providerRecord struct {
	failStreak int
	requests   int64
	failures   int64
	timeouts   int64
	lastOK     time.Time
	lastFail   time.Time
	recent     []domain.ProviderAttempt
}

func newAttemptLedger() *attemptLedger {
	return &attemptLedger{records: make(map[string]*providerRecord)}
}

func attemptOutcome(err error) string {
	switch {
	case err == nil:
		return outcomeDelivered
	case isTimeoutLikeError(err):
		return outcomeTimeout
	case errors.Is(err, ErrPayloadTooSmall):
		return outcomeUndersized
	case errors.Is(err, ErrPayloadTooLarge):
		return outcomeOversized
	default:
		return outcomeFailed
	}
}

func (l *attemptLedger) record(provider, sourceID string, err error, latency time.Duration, at time.Time) {
	outcome := attemptOutcome(err)
	metrics.ProviderRequestsTotal.WithLabelValues(provider, outcome).Inc()
	metrics.ProviderRequestDuration.WithLabelValues(provider).Observe(latency.Seconds())

	entry := domain.ProviderAttempt{
		SourceID:  sourceID,
		At:        at,
		Outcome:   outcome,
		LatencyMS: latency.Milliseconds(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.records[provider]
	if rec == nil {
		rec = &providerRecord{}
		l.records[provider] = rec
	}
	rec.requests++
	if err == nil {
		rec.failStreak = 0
		rec.lastOK = at
		metrics.ProviderLastAttemptOK.WithLabelValues(provider).Set(1)
	} else {
		entry.Error = err.Error()
		rec.failStreak++
		rec.failures++
		rec.lastFail = at
		if outcome == outcomeTimeout {
			rec.timeouts++
		}
		metrics.ProviderLastAttemptOK.WithLabelValues(provider).Set(0)
	}

	rec.recent = append([]domain.ProviderAttempt{entry}, rec.recent...)
	if len(rec.recent) > recentAttempts {
		rec.recent = rec.recent[:recentAttempts]
	}
}

// fill copies the provider's record into item. Unknown providers leave it
// untouched.
func (l *attemptLedger) fill(item *domain.ProviderDiagnostics) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.records[item.Name]
	if rec == nil {
		return
	}
	item.ConsecutiveFailures = rec.failStreak
	item.TotalRequests = rec.requests
	item.TotalFailures = rec.failures
	item.TimeoutCount = rec.timeouts
	if !rec.lastOK.IsZero() {
		at := rec.lastOK
		item.LastSuccessAt = &at
	}
	if !rec.lastFail.IsZero() {
		at := rec.lastFail
		item.LastFailureAt = &at
	}
	if len(rec.recent) > 0 {
		last := rec.recent[0]
		item.LastError = last.Error
		item.LastLatencyMS = last.LatencyMS
		item.LastTimeout = last.Outcome == outcomeTimeout
		item.LastSourceID = last.SourceID
		item.Recent = append([]domain.ProviderAttempt(nil), rec.recent...)
	}
}

func isTimeoutLikeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "timeout") || strings.Contains(value, "deadline exceeded")
}

// ProviderDiagnostics reports each configured provider with its recorded
// attempts, ordered by tier.
func (s *Service) ProviderDiagnostics() []domain.ProviderDiagnostics {
	infos := s.Providers()
	if len(infos) == 0 {
		return nil
	}

	items := make([]domain.ProviderDiagnostics, 0, len(infos))
	for _, info := range infos {
		item := domain.ProviderDiagnostics{
			Name:    info.Name,
			Label:   info.Label,
			Kind:    info.Kind,
			Tier:    info.Tier,
			Enabled: info.Enabled,
		}
		s.attempts.fill(&item)
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Tier != items[j].Tier {
			return items[i].Tier < items[j].Tier
		}
		return items[i].Name < items[j].Name
	})
	return items
}
