/*
Package limiter rate-limits requests per client IP with token buckets.

It guards the endpoints that are cheap to abuse: the admin credential check (password
guessing), guest sign-in (account spam) and upload-URL issuance (provider quota).
*/
package limiter

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dospill/internal/pkg/errs"
	"dospill/internal/pkg/logx"
	"dospill/internal/pkg/resp"
)

// sweepInterval is how often idle buckets are dropped.
const sweepInterval = 3 * time.Minute

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	mu     sync.Mutex
	limits map[string]*rate.Limiter
	r      rate.Limit
	b      int

	stop chan struct{}
	once sync.Once
}

// NewIPRateLimiter creates a limiter allowing r events per second with burst b and
// starts its background sweeper. Call Close to stop the sweeper.
func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	l := &IPRateLimiter{
		limits: make(map[string]*rate.Limiter),
		r:      r,
		b:      b,
		stop:   make(chan struct{}),
	}

	go l.sweep()

	return l
}

// GetLimiter returns the bucket for ip, creating it on first use.
func (l *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limits[ip]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limits[ip] = lim
	}
	return lim
}

// Close stops the sweeper goroutine.
func (l *IPRateLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// sweep drops buckets that have refilled completely, i.e. IPs that went quiet.
func (l *IPRateLimiter) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			removed := 0
			for ip, lim := range l.limits {
				if lim.TokensAt(now) >= float64(lim.Burst()) {
					delete(l.limits, ip)
					removed++
				}
			}
			remaining := len(l.limits)
			l.mu.Unlock()

			logx.Debug("Rate limiter sweep finished", "removed", removed, "remaining", remaining)
		}
	}
}

// Middleware rejects requests over budget with ErrRateLimitExceeded (HTTP 429).
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if ip == "" {
			ip = "unknown_ip"
		}

		if !l.GetLimiter(ip).Allow() {
			logx.Warn("Request rejected by rate limiter", "path", r.URL.Path)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		next.ServeHTTP(w, r)
	})
}
