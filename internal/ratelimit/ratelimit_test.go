package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/promptmart/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T, burst int) (*WriteLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, WriteRate: 0.01, WriteBurst: burst}}
	limiter, err := NewWriteLimiter(cfg, client, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, limiter)
	return limiter, mr
}

func TestWriteLimiterExhaustsBurst(t *testing.T) {
	limiter, _ := newTestLimiter(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.Allow(ctx, "purchase", "10.0.0.1")
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}

	result, err := limiter.Allow(ctx, "purchase", "10.0.0.1")
	require.NoError(t, err)
	require.False(t, result.Allowed)
	require.Equal(t, 0, result.Remaining)
	require.Greater(t, result.RetryAfter.Seconds(), 0.0)

	other, err := limiter.Allow(ctx, "purchase", "10.0.0.2")
	require.NoError(t, err)
	require.True(t, other.Allowed)
}

func TestWriteLimiterDisabled(t *testing.T) {
	limiter, err := NewWriteLimiter(config.Config{}, nil, zap.NewNop())
	require.NoError(t, err)
	require.Nil(t, limiter)

	result, err := limiter.Allow(context.Background(), "purchase", "x")
	require.NoError(t, err)
	require.True(t, result.Allowed)
}

func TestWriteLimiterRejectsInvalidConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := NewWriteLimiter(config.Config{RateLimit: config.RateLimitConfig{Enabled: true}}, client, zap.NewNop())
	require.Error(t, err)
}

func TestGinMiddlewareAbortsWhenLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter, _ := newTestLimiter(t, 1)

	var lastErr error
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Next()
		if e := c.Errors.Last(); e != nil {
			lastErr = e.Err
			c.AbortWithStatus(http.StatusTooManyRequests)
		}
	})
	r.POST("/claim/:owner_id", limiter.GinMiddleware("claim", func(c *gin.Context) string {
		return c.Param("owner_id")
	}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/claim/7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/claim/7", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.ErrorIs(t, lastErr, ErrRateLimited)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestGinMiddlewareFailsOpenOnRedisError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, WriteRate: 1, WriteBurst: 1}}
	limiter, err := NewWriteLimiter(cfg, client, zap.NewNop())
	require.NoError(t, err)

	r := gin.New()
	r.POST("/claim", limiter.GinMiddleware("claim", func(*gin.Context) string { return "7" }), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/claim", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
