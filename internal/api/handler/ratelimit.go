package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig sets per-client-IP steady-state rates. Reads and writes
// are budgeted independently: every write mines a block, so the write path
// carries a tighter budget than browsing the chain does. A non-positive
// rate leaves that path unlimited.
type RateLimitConfig struct {
	ReadRPS  int
	WriteRPS int
}

// visitor holds one client IP's token buckets. A nil bucket means that path
// is unlimited.
type visitor struct {
	read     *rate.Limiter
	write    *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces RateLimitConfig per client IP. GET and HEAD draw from
// the read bucket; every other method draws from the write bucket. Stale
// visitors are swept in the background until Close is called.
type RateLimiter struct {
	cfg RateLimitConfig

	mu       sync.Mutex
	visitors map[string]*visitor

	stop    chan struct{}
	stopped sync.Once
}

// NewRateLimiter starts the sweep goroutine; callers own the returned
// limiter and must Close it on shutdown.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		cfg:      cfg,
		visitors: make(map[string]*visitor),
		stop:     make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Close stops the background sweep. Safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.stopped.Do(func() { close(rl.stop) })
}

// Middleware returns the Gin handler enforcing the limits.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		v := rl.visitorFor(c.ClientIP())

		bucket := v.write
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			bucket = v.read
		}

		if bucket != nil && !bucket.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) visitorFor(ip string) *visitor {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{}
		if rl.cfg.ReadRPS > 0 {
			v.read = rate.NewLimiter(rate.Limit(rl.cfg.ReadRPS), rl.cfg.ReadRPS*2)
		}
		if rl.cfg.WriteRPS > 0 {
			v.write = rate.NewLimiter(rate.Limit(rl.cfg.WriteRPS), rl.cfg.WriteRPS)
		}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v
}

// sweep evicts visitors idle longer than 10 minutes.
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if time.Since(v.lastSeen) > 10*time.Minute {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}
