package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"interruptd/pkg/metrics"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

type Config struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() Config {
	return Config{
		RPS:             20.0,
		Burst:           40,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// Middleware applies a per-client token bucket to the control surface.
// Trigger ingestion from collectors shares the same budget as operator
// requests; the defaults are sized well above any sane collector rate.
func Middleware(config Config) gin.HandlerFunc {
	limiters := make(map[string]*limiterEntry)
	var mu sync.RWMutex

	go func() {
		ticker := time.NewTicker(config.CleanupInterval)
		defer ticker.Stop()
		for range ticker.C {
			mu.Lock()
			now := time.Now()
			for ip, entry := range limiters {
				entry.mu.Lock()
				lastSeen := entry.lastSeen
				entry.mu.Unlock()
				if now.Sub(lastSeen) > config.MaxAge {
					delete(limiters, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if clientIP == "" {
			clientIP = c.RemoteIP()
		}

		mu.RLock()
		entry, exists := limiters[clientIP]
		mu.RUnlock()

		if !exists {
			mu.Lock()
			entry, exists = limiters[clientIP]
			if !exists {
				entry = &limiterEntry{
					limiter:  rate.NewLimiter(rate.Limit(config.RPS), config.Burst),
					lastSeen: time.Now(),
				}
				limiters[clientIP] = entry
			}
			mu.Unlock()
		}

		entry.mu.Lock()
		entry.lastSeen = time.Now()
		entry.mu.Unlock()

		if !entry.limiter.Allow() {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			c.Abort()
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
		c.Header("X-RateLimit-Limit", strconv.Itoa(int(config.RPS)))

		c.Next()
	}
}
