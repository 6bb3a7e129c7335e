package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/pawtrait/internal/ratelimit"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string, cost int) (ratelimit.Decision, error)
}

// allow spends cost upload tokens for owner and writes the rejection when
// the bucket is empty. Limiter outages fail open.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, owner string, cost int) bool {
	if s.rateLimiter == nil {
		return true
	}

	subject := owner + ":uploads"
	decision, err := s.rateLimiter.Allow(r.Context(), subject, cost)
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", subject).Msg("rate limiter check failed")
		return true
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	if decision.Allowed {
		return true
	}

	retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.metrics.rateLimitRejected.Inc()
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}
