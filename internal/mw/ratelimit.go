package mw

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// KeyedLimiter 为每个 key 维护一个令牌桶，长时间未使用的 key 会被回收。
type KeyedLimiter struct {
	mu    sync.Mutex
	m     map[string]*keyLimiter
	r     rate.Limit
	burst int
	ttl   time.Duration
}

func NewKeyedLimiter(r rate.Limit, burst int, ttl time.Duration) *KeyedLimiter {
	return &KeyedLimiter{m: make(map[string]*keyLimiter), r: r, burst: burst, ttl: ttl}
}

func (kl *KeyedLimiter) Allow(key string) bool {
	kl.mu.Lock()
	e, ok := kl.m[key]
	if !ok {
		e = &keyLimiter{lim: rate.NewLimiter(kl.r, kl.burst)}
		kl.m[key] = e
	}
	e.seen = time.Now()
	kl.mu.Unlock()
	return e.lim.Allow()
}

// Len 返回当前跟踪的 key 数量。
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.m)
}

func (kl *KeyedLimiter) sweep(now time.Time) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	for k, v := range kl.m {
		if now.Sub(v.seen) > kl.ttl {
			delete(kl.m, k)
		}
	}
}

// Run 周期性回收过期 key，ctx 取消时返回。
func (kl *KeyedLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			kl.sweep(now)
		}
	}
}

// RateLimit 返回基于 IP+路由的令牌桶限速中间件。
func RateLimit(kl *KeyedLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if !kl.Allow(c.ClientIP() + "|" + route) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
