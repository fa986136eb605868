// internal/app/system/ratelimit/ratelimit.go
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dalemusser/familyspace/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Limiter counts requests per key in fixed windows.
// It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	limit    int
	duration time.Duration
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type window struct {
	count     int
	expiresAt time.Time
}

// New creates a limiter allowing limit requests per key per duration. A
// background loop drops expired windows until Stop is called.
func New(limit int, duration time.Duration) *Limiter {
	l := &Limiter{
		windows:  make(map[string]*window),
		limit:    limit,
		duration: duration,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go l.cleanupLoop(duration * 2)
	return l
}

// Allow reports whether a request for key fits in its current window and
// counts it if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.After(w.expiresAt) {
		l.windows[key] = &window{count: 1, expiresAt: now.Add(l.duration)}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// Remaining returns how many requests are left for key in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || l.now().After(w.expiresAt) {
		return l.limit
	}
	return max(l.limit-w.count, 0)
}

// Reset clears the window for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// Stop ends the cleanup loop. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.done
}

func (l *Limiter) cleanupLoop(every time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for key, w := range l.windows {
				if now.After(w.expiresAt) {
					delete(l.windows, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// ClientIP extracts the client IP from an HTTP request.
// It checks X-Forwarded-For and X-Real-IP headers first (for proxied requests),
// then falls back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// ChallengeLimiter guards the challenge verify and resend endpoints. It
// limits each caller per claim, and each client IP across all claims, so
// guessing tokens is slow even before the per-challenge attempt cap.
type ChallengeLimiter struct {
	perClaim *Limiter
	perIP    *Limiter
	window   time.Duration
	log      *zap.Logger
}

// NewChallengeLimiter allows limit requests per caller and claim in each
// window, and three times that per client IP.
func NewChallengeLimiter(limit int, window time.Duration, logger *zap.Logger) *ChallengeLimiter {
	return &ChallengeLimiter{
		perClaim: New(limit, window),
		perIP:    New(limit*3, window),
		window:   window,
		log:      logger,
	}
}

// Middleware refuses requests over either limit with 429. A nil limiter
// lets everything through.
func (cl *ChallengeLimiter) Middleware(next http.Handler) http.Handler {
	if cl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !cl.perIP.Allow(ip) {
			cl.refuse(w, r, "ip")
			return
		}
		if u, ok := auth.CurrentUser(r); ok {
			if !cl.perClaim.Allow(u.ID + ":" + chi.URLParam(r, "claimID")) {
				cl.refuse(w, r, "claim")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Stop ends both cleanup loops.
func (cl *ChallengeLimiter) Stop() {
	if cl == nil {
		return
	}
	cl.perClaim.Stop()
	cl.perIP.Stop()
}

func (cl *ChallengeLimiter) refuse(w http.ResponseWriter, r *http.Request, scope string) {
	if cl.log != nil {
		cl.log.Warn("challenge request rate limited",
			zap.String("scope", scope),
			zap.String("path", r.URL.Path),
			zap.String("ip", ClientIP(r)))
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(int(cl.window.Seconds())))
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"rate_limited","message":"too many requests; try again later"}`))
}
