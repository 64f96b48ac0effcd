// Package ratelimit limits expensive endpoints per caller. Redis holds the
// counters when configured; an in-process token bucket takes over when
// Redis is absent or unreachable.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// KeyFunc derives the bucket key of a request.
type KeyFunc func(*http.Request) string

// Limiter enforces one limit across all keys.
type Limiter struct {
	limiter  *redis_rate.Limiter
	fallback *localLimiter
	limit    redis_rate.Limit
	logger   *zap.Logger
}

// New creates a limiter allowing requests per window with the given burst.
// rdb may be nil.
func New(rdb *redis.Client, requests int, window time.Duration, burst int, logger *zap.Logger) *Limiter {
	if burst <= 0 {
		burst = requests
	}
	l := &Limiter{
		fallback: newLocalLimiter(),
		limit:    redis_rate.Limit{Rate: requests, Burst: burst, Period: window},
		logger:   logger,
	}
	if rdb != nil {
		l.limiter = redis_rate.NewLimiter(rdb)
	}
	return l
}

// Allow consumes one request from key's bucket.
func (l *Limiter) Allow(ctx context.Context, key string) *redis_rate.Result {
	if l.limiter != nil {
		res, err := l.limiter.Allow(ctx, key, l.limit)
		if err == nil {
			return res
		}
		l.logger.Warn("ratelimit: redis unavailable, using local limiter", zap.String("key", key), zap.Error(err))
	}
	return l.fallback.allow(key, l.limit)
}

// Middleware rejects requests over the limit with 429 and Retry-After.
func (l *Limiter) Middleware(keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := l.Allow(r.Context(), keyFn(r))
			setHeaders(w, res, l.limit)

			if res.Allowed == 0 {
				retryAfter := RetryAfterSeconds(res)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error": fmt.Sprintf("rate limit exceeded, retry after %ds", retryAfter),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RetryAfterSeconds rounds the result's retry delay up to at least one second.
func RetryAfterSeconds(res *redis_rate.Result) int {
	s := int(res.RetryAfter.Seconds())
	if s < 1 {
		return 1
	}
	return s
}

// KeyByIP keys requests by client address.
func KeyByIP(r *http.Request) string {
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return "ratelimit:ip:" + xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return "ratelimit:ip:" + ip
}

func setHeaders(w http.ResponseWriter, res *redis_rate.Result, limit redis_rate.Limit) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit.Rate))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(res.ResetAfter).Unix(), 10))
}

// ============================================================
// Local fallback
// ============================================================

const (
	cleanupInterval = 5 * time.Minute
	entryTTL        = 10 * time.Minute
)

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type localLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	lastGC   time.Time
}

func newLocalLimiter() *localLimiter {
	return &localLimiter{limiters: make(map[string]*limiterEntry), lastGC: time.Now()}
}

func (l *localLimiter) allow(key string, limit redis_rate.Limit) *redis_rate.Result {
	perSec := float64(limit.Rate) / limit.Period.Seconds()
	now := time.Now()

	l.mu.Lock()
	if now.Sub(l.lastGC) > cleanupInterval {
		for k, e := range l.limiters {
			if now.Sub(e.lastAccess) > entryTTL {
				delete(l.limiters, k)
			}
		}
		l.lastGC = now
	}
	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(perSec), limit.Burst)}
		l.limiters[key] = e
	}
	e.lastAccess = now
	l.mu.Unlock()

	allowed := e.limiter.Allow()
	remaining := int(e.limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}

	res := &redis_rate.Result{
		Limit:      limit,
		Remaining:  remaining,
		RetryAfter: -1,
		ResetAfter: time.Duration(float64(time.Second) / perSec),
	}
	if allowed {
		res.Allowed = 1
	} else {
		res.RetryAfter = time.Duration(float64(time.Second) / perSec)
	}
	return res
}
