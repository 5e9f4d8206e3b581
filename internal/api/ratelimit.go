package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiter throttles requests per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	rate     rate.Limit
	burst    int
	idle     time.Duration
	logger   *zap.Logger
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(perSecond float64, burst int, logger *zap.Logger) *rateLimiter {
	return &rateLimiter{
		limiters: make(map[string]*visitor),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		logger:   logger,
	}
}

func (rl *rateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.limiters[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = v
	}
	v.lastSeen = now

	// Drop visitors that went quiet so the map stays bounded.
	for k, other := range rl.limiters {
		if now.Sub(other.lastSeen) > rl.idle {
			delete(rl.limiters, k)
		}
	}
	return v.limiter.AllowN(now, 1)
}

func (rl *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if !rl.allow(key, time.Now()) {
			rl.logger.Warn("rate limit exceeded",
				zap.String("client", key),
				zap.String("path", c.FullPath()),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many attempts, please wait and try again"})
			return
		}
		c.Next()
	}
}

// WithAuthRateLimit throttles the sign-in, sign-up and sign-out endpoints per
// client IP. It must be called before SetupRoutes; perSecond <= 0 disables it.
func (h *Handler) WithAuthRateLimit(perSecond float64, burst int) *Handler {
	if perSecond <= 0 {
		h.authLimit = nil
		return h
	}
	if burst < 1 {
		burst = 1
	}
	h.authLimit = newRateLimiter(perSecond, burst, h.logger)
	return h
}
