package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/bpoc/video-calls/pkg/response"
)

// KeyLimiter decides whether the caller identified by key may proceed.
type KeyLimiter interface {
	Allow(key string) bool
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// keyRateLimiter keeps one token bucket per key and forgets idle keys after ttl.
type keyRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
	lastGC  time.Time
}

// NewKeyRateLimiter allows `requests` per `window` per key plus `burst`.
func NewKeyRateLimiter(requests int, window time.Duration, burst int, ttl time.Duration) KeyLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &keyRateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (l *keyRateLimiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	if now.Sub(l.lastGC) > l.ttl {
		for k, v := range l.buckets {
			if now.Sub(v.lastSeen) > l.ttl {
				delete(l.buckets, k)
			}
		}
		l.lastGC = now
	}
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// RateLimit rejects requests over the limit with 429. Authenticated callers are
// keyed by user id, everyone else by client IP.
func RateLimit(limiter KeyLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if id, ok := UserID(c); ok {
			key = "user:" + id.String()
		}
		if !limiter.Allow(key) {
			c.Header("Retry-After", "60")
			response.TooManyRequests(c, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}
