package acquire

import (
	"context"

	"golang.org/x/time/rate"
)

// waitProviderRateLimit paces requests to one provider. Without a configured
// rate it returns immediately.
func (s *Service) waitProviderRateLimit(ctx context.Context, name string) error {
	if s.rateLimit <= 0 {
		return nil
	}
	s.limitersMu.Lock()
	limiter := s.limiters[name]
	if limiter == nil {
		limiter = rate.NewLimiter(s.rateLimit, s.rateBurst)
		s.limiters[name] = limiter
	}
	s.limitersMu.Unlock()
	return limiter.Wait(ctx)
}
