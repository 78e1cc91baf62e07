package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/promptmart/internal/config"
	"go.uber.org/zap"
)

var ErrRateLimited = errors.New("rate_limited")

const keyWrite = "ratelimit:write:%s:%s"

// WriteLimiter throttles state-changing requests per caller. A nil
// WriteLimiter allows everything.
type WriteLimiter struct {
	bucket *TokenBucket
	log    *zap.Logger
	rate   float64
	burst  int
}

// NewWriteLimiter returns nil when rate limiting is disabled or redis is not
// configured.
func NewWriteLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) (*WriteLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		log.Warn("rate limit enabled without redis; requests are not limited")
		return nil, nil
	}
	if limitCfg.WriteRate <= 0 || limitCfg.WriteBurst <= 0 {
		return nil, errors.New("write rate limit must be positive")
	}
	return &WriteLimiter{
		bucket: NewTokenBucket(client),
		log:    log.Named("ratelimit"),
		rate:   limitCfg.WriteRate,
		burst:  limitCfg.WriteBurst,
	}, nil
}

func (l *WriteLimiter) Allow(ctx context.Context, scope, caller string) (*Result, error) {
	if l == nil {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyWrite, scope, strings.TrimSpace(caller))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}

// GinMiddleware limits a route group by the caller returned from callerFn.
// Redis failures let the request through.
func (l *WriteLimiter) GinMiddleware(scope string, callerFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		caller := callerFn(c)
		if caller == "" {
			c.Next()
			return
		}

		result, err := l.Allow(c.Request.Context(), scope, caller)
		if err != nil {
			l.log.Warn("rate limit check failed", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
			_ = c.Error(ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}
