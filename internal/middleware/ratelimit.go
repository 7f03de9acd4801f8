package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
	// IdleTTL is how long an unused client limiter is kept.
	IdleTTL time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per client. Clients are keyed by
// principal when Identity ran earlier in the chain, by remote IP otherwise.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rpm := config.RequestsPerMinute
	if rpm <= 0 {
		rpm = 100
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 10
	}
	idle := config.IdleTTL
	if idle <= 0 {
		idle = 10 * time.Minute
	}

	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(rpm) / 60.0),
		burst:   burst,
		idleTTL: idle,
		now:     time.Now,
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastSeen = rl.now()
	return cl.limiter
}

// Cleanup drops limiters idle for longer than the configured TTL.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idleTTL)
	removed := 0
	for key, cl := range rl.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup every interval until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Middleware draws one token per request from the caller's bucket. Placed
// after Identity it keys by principal; without an identity it keys by IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := OwnerID(c)
		if key == "" {
			key = ipKey(c)
		}

		limiter := rl.get(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.burst))

		reservation := limiter.ReserveN(rl.now(), 1)
		if delay := reservation.DelayFrom(rl.now()); delay > 0 {
			reservation.CancelAt(rl.now())
			rl.reject(c, delay)
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(int(limiter.TokensAt(rl.now()))))
		c.Next()
	}
}

// FailedAuthMiddleware goes in front of Identity. Only requests answered
// with 401 draw from the remote IP's bucket, so authenticated traffic
// behind a shared address is unaffected, while a client that keeps
// presenting bad tokens is answered 429 once its bucket is empty.
func (rl *RateLimiter) FailedAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := rl.get(ipKey(c))

		if tokens := limiter.TokensAt(rl.now()); tokens < 1 {
			delay := time.Duration((1 - tokens) / float64(rl.limit) * float64(time.Second))
			rl.reject(c, delay)
			return
		}

		c.Next()

		if c.Writer.Status() == http.StatusUnauthorized {
			limiter.AllowN(rl.now(), 1)
		}
	}
}

func (rl *RateLimiter) reject(c *gin.Context, delay time.Duration) {
	c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":   "rate_limited",
		"message": "Too many requests",
	})
}

func ipKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}
