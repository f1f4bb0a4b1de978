// Package ratelimit implements rate limiting logic using Redis or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/config"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/metrics"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiter holds the rate limiter instances, one per endpoint category
// named in spec.md §6.
type RateLimiter struct {
	envelopeSubmit *limiter.Limiter
	floorRequest   *limiter.Limiter
	wsConnect      *limiter.Limiter
	store          limiter.Store
}

// NewRateLimiter creates a new RateLimiter instance. redisClient may be nil,
// in which case an in-process memory store is used (dev mode, or Redis
// disabled).
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	envelopeRate, err := limiter.NewRateFromFormatted(cfg.RateLimitEnvelopeSubmit)
	if err != nil {
		return nil, fmt.Errorf("invalid envelope submit rate: %w", err)
	}
	floorRate, err := limiter.NewRateFromFormatted(cfg.RateLimitFloorRequest)
	if err != nil {
		return nil, fmt.Errorf("invalid floor request rate: %w", err)
	}
	wsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsConnect)
	if err != nil {
		return nil, fmt.Errorf("invalid ws connect rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "limiter:v1:"})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store (Redis disabled)")
	}

	return &RateLimiter{
		envelopeSubmit: limiter.New(store, envelopeRate),
		floorRequest:   limiter.New(store, floorRate),
		wsConnect:      limiter.New(store, wsRate),
		store:          store,
	}, nil
}

// keyFor prefers the sender's speakerUri (set in the Gin context by the
// transport's body-peeking middleware, which runs ahead of the limiter)
// and falls back to the client IP when it isn't set.
func keyFor(c *gin.Context) string {
	if speakerURI, ok := c.Get("speakerUri"); ok {
		if s, ok := speakerURI.(string); ok && s != "" {
			return s
		}
	}
	return c.ClientIP()
}

// middlewareFor builds a Gin middleware enforcing lim, labeling metrics
// with endpointLabel.
func middlewareFor(lim *limiter.Limiter, endpointLabel string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFor(c)
		ctx := c.Request.Context()

		limiterCtx, err := lim.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(limiterCtx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(limiterCtx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(limiterCtx.Reset, 10))

		if limiterCtx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(endpointLabel, "rate_exceeded").Inc()
			c.Header("Retry-After", strconv.FormatInt(limiterCtx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": limiterCtx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(endpointLabel).Inc()
		c.Next()
	}
}

// EnvelopeSubmitMiddleware enforces the per-sender envelope submission rate.
func (rl *RateLimiter) EnvelopeSubmitMiddleware() gin.HandlerFunc {
	return middlewareFor(rl.envelopeSubmit, "envelope_submit")
}

// FloorRequestMiddleware enforces the per-sender floor request rate.
func (rl *RateLimiter) FloorRequestMiddleware() gin.HandlerFunc {
	return middlewareFor(rl.floorRequest, "floor_request")
}

// CheckWebSocketConnect checks whether a new WebSocket connection from ip
// should be allowed, writing a 429 response and returning false if not.
func (rl *RateLimiter) CheckWebSocketConnect(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	limiterCtx, err := rl.wsConnect.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed", zap.Error(err))
		return true
	}

	if limiterCtx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("Retry-After", strconv.FormatInt(limiterCtx.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts"})
		return false
	}

	metrics.RateLimitRequests.WithLabelValues("websocket_connect").Inc()
	return true
}
