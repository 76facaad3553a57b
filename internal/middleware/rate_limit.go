// internal/middleware/rate_limit.go
package middleware

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/javajoker/marketsync/internal/utils"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

func ByClientIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// ByOperator charges authenticated requests to the operator and falls back to
// the client ip. It must run after AuthRequired.
func ByOperator(c *gin.Context) string {
	if id := c.GetString("operator_id"); id != "" {
		return "op:" + id
	}
	return ByClientIP(c)
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	key     KeyFunc
	idleTTL time.Duration
	now     func() time.Time
}

func NewRateLimiter(limit rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		burst:   burst,
		key:     ByClientIP,
		idleTTL: 3 * time.Minute,
		now:     time.Now,
	}
}

// WithKey replaces the bucket key function.
func (rl *RateLimiter) WithKey(key KeyFunc) *RateLimiter {
	rl.key = key
	return rl
}

// StartSweeper drops idle buckets every interval until stop is closed.
func (rl *RateLimiter) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				rl.Sweep()
			}
		}
	}()
}

// Sweep drops buckets idle for longer than the idle TTL and returns how many
// remain.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.idleTTL)
	for k, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, k)
		}
	}
	return len(rl.buckets)
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = rl.now()
	return b.limiter
}

// retryAfterSeconds is the wait for one token at the configured rate.
func (rl *RateLimiter) retryAfterSeconds() int {
	if rl.limit <= 0 || rl.limit == rate.Inf {
		return 1
	}
	return int(math.Ceil(1/float64(rl.limit) - 1e-9))
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.limiterFor(rl.key(c)).Allow() {
			c.Header("Retry-After", fmt.Sprint(rl.retryAfterSeconds()))
			utils.TooManyRequestsResponse(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}
		c.Next()
	}
}

// 5 token requests per minute per ip.
var authLimiter = NewRateLimiter(rate.Every(time.Minute/5), 5)

func init() {
	authLimiter.StartSweeper(time.Minute, nil)
}

func AuthRateLimit() gin.HandlerFunc {
	return authLimiter.Middleware()
}
