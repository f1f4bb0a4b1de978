// Package bus wraps the optional Redis dependency shared by the rate
// limiter's distributed store and the readiness probe, instrumented and
// circuit-breaker-protected the way the teacher wraps its Redis pub/sub
// client.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/metrics"
)

// Service wraps a Redis client with circuit-breaker protection and metrics.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client, e.g. for the rate limiter's
// store construction. Safe to call on a nil *Service.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService connects to Redis at addr, verifying connectivity immediately.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	}

	slog.Info("connected to Redis", "addr", addr)
	return &Service{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

// Ping checks Redis connectivity, used by the readiness probe. Returns nil
// on a nil *Service (single-instance mode, no Redis configured).
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}

	start := time.Now()
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	metrics.RedisOperationDuration.WithLabelValues("ping").Observe(time.Since(start).Seconds())

	if err != nil {
		status := "error"
		if err == gobreaker.ErrOpenState {
			status = "breaker_open"
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		metrics.RedisOperationsTotal.WithLabelValues("ping", status).Inc()
		return err
	}

	metrics.RedisOperationsTotal.WithLabelValues("ping", "ok").Inc()
	return nil
}

// Close gracefully shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
