package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/sunbk201/clickrelay/internal/relay"
)

const (
	limiterCacheSize = 10000
	limiterIdle      = 10 * time.Minute
)

// rateLimiter keeps one token bucket per client address. Buckets of visitors
// idle for limiterIdle are forgotten.
type rateLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	rps      rate.Limit
	burst    int
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](limiterCacheSize, nil, limiterIdle),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *rateLimiter) allow(ip string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
	}
	l.limiters.Add(ip, limiter)
	l.mu.Unlock()
	return limiter.Allow()
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := s.limitKey(r)
		if !s.limiter.allow(ip) {
			if s.recorder != nil {
				s.recorder.Metrics.RateLimited.Inc()
			}
			slog.Debug("rate limit exceeded", slog.String("ip", ip))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitKey is the connection peer unless forwarded headers are trusted.
func (s *Server) limitKey(r *http.Request) string {
	if s.cfg.RateLimit.TrustForwarded {
		return s.ips.Resolve(r.Header, r.RemoteAddr)
	}
	if host := relay.PeerHost(r.RemoteAddr); host != "" {
		return host
	}
	return r.RemoteAddr
}
