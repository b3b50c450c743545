package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// staleAfter is how long a client may stay idle before its limiter is
// reclaimed.
const staleAfter = 10 * time.Minute

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles inbound HTTP traffic per client IP. Idle clients are
// pruned so the map does not grow with every address ever seen.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rps     rate.Limit
	burst   int
	logger  *zap.Logger
	now     func() time.Time
}

func NewRateLimiter(rps float64, burst int, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*client),
		rps:     rate.Limit(rps),
		burst:   burst,
		logger:  logger,
		now:     time.Now,
	}
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if c, ok := rl.clients[ip]; ok {
		c.lastSeen = now
		return c.limiter
	}

	// prune on insert, the only moment the map can grow
	for addr, c := range rl.clients {
		if now.Sub(c.lastSeen) > staleAfter {
			delete(rl.clients, addr)
		}
	}

	c := &client{limiter: rate.NewLimiter(rl.rps, rl.burst), lastSeen: now}
	rl.clients[ip] = c
	return c.limiter
}

// Middleware returns the Gin middleware handler.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !rl.limiterFor(ip).Allow() {
			rl.logger.Warn("client rate limit exceeded",
				zap.String("ip", ip),
				zap.String("path", c.Request.URL.Path),
			)
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
