package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/latchctl/internal/errors"
	"golang.org/x/time/rate"
)

// RateLimiter 按客户端IP限流
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter 创建限流器，requestsPerMinute <= 0 时不限流
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(float64(requestsPerMinute) / 60.0)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*visitor),
		limit:    limit,
		burst:    burst,
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

// Allow 判断该键本次请求是否放行
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	v, ok := r.limiters[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[key] = v
	}
	v.lastSeen = now
	r.cleanupLocked(now)

	return v.limiter.AllowN(now, 1)
}

// cleanupLocked 清理长时间未访问的客户端
func (r *RateLimiter) cleanupLocked(now time.Time) {
	for key, v := range r.limiters {
		if now.Sub(v.lastSeen) > r.ttl {
			delete(r.limiters, key)
		}
	}
}

// Middleware gin 中间件
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			abortWithError(c, errors.New(errors.ErrRateLimitExceeded))
			return
		}
		c.Next()
	}
}
