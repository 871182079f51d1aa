package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	IPPerMinute   int
	IPBurst       int
	UserPerMinute int
	UserBurst     int
}

type limitScope string

const (
	scopeIP   limitScope = "ip"
	scopeUser limitScope = "user"
)

type limitRule struct {
	limit rate.Limit
	burst int
}

func newLimitRule(perMinute, burst int) limitRule {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	return limitRule{limit: rate.Limit(float64(perMinute) / 60), burst: burst}
}

// refill is how long an empty bucket takes to fill up again.
func (r limitRule) refill() time.Duration {
	return time.Duration(float64(r.burst) / float64(r.limit) * float64(time.Second))
}

type callerBucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// RateLimiter keeps one bucket per caller, keyed by scope and caller id, so
// an address and a user id never draw from the same bucket. Buckets idle for
// longer than a full refill are dropped.
type RateLimiter struct {
	mu        sync.Mutex
	rules     map[limitScope]limitRule
	buckets   map[string]*callerBucket
	idleAfter time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rules := map[limitScope]limitRule{
		scopeIP:   newLimitRule(cfg.IPPerMinute, cfg.IPBurst),
		scopeUser: newLimitRule(cfg.UserPerMinute, cfg.UserBurst),
	}
	idleAfter := time.Minute
	for _, rule := range rules {
		idleAfter = max(idleAfter, rule.refill())
	}
	return &RateLimiter{
		rules:     rules,
		buckets:   make(map[string]*callerBucket),
		idleAfter: idleAfter,
		now:       time.Now,
	}
}

func (l *RateLimiter) allow(scope limitScope, id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	key := string(scope) + ":" + id
	b, ok := l.buckets[key]
	if !ok {
		rule := l.rules[scope]
		b = &callerBucket{limiter: rate.NewLimiter(rule.limit, rule.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.limiter.AllowN(now, 1)
}

func (l *RateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleAfter {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.seen) >= l.idleAfter {
			delete(l.buckets, key)
		}
	}
}

func (l *RateLimiter) reject(w http.ResponseWriter, r *http.Request) {
	writeError(w, requestIDFromRequest(r), http.StatusTooManyRequests, "rate_limited", "too many requests")
}

// Middleware limits every request by client address.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := clientIP(r); ip != "" && !l.allow(scopeIP, ip) {
			l.reject(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserMiddleware limits authenticated callers by user id. It must run after
// AuthMiddleware.
func (l *RateLimiter) UserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sess, ok := sessionFromContext(r.Context()); ok && !l.allow(scopeUser, sess.UserID) {
			l.reject(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
