package httpapi

import (
	"golang.org/x/time/rate"
)

// scanRateLimit and scanBurst bound submissions per device (spec.md §6
// "/api/scan" and "/api/transaction/submit"), grounded on the teacher's
// internal/tmdb/client.go rate.NewLimiter(35, 10) per-upstream limiter —
// generalized here to one limiter per submitting device rather than one
// shared limiter for a single upstream.
const (
	scanRateLimit rate.Limit = 10
	scanBurst                = 20
)

// allow reports whether deviceID may submit another scan/transaction
// right now, lazily creating its limiter on first use.
func (s *Server) allow(deviceID string) bool {
	s.limMu.Lock()
	lim, ok := s.limiters[deviceID]
	if !ok {
		lim = rate.NewLimiter(scanRateLimit, scanBurst)
		s.limiters[deviceID] = lim
	}
	s.limMu.Unlock()
	return lim.Allow()
}
