package database

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lingochat-backend/pkg/logger"
	"lingochat-backend/pkg/metrics"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// RedisClient wraps Redis client with degraded mode support. The call
// service only uses Redis for token revocation and cross-instance fan-out,
// both of which keep working locally while Redis is down.
type RedisClient struct {
	Client        *redis.Client
	degraded      atomic.Bool
	healthCheckMu sync.Mutex
	metrics       *metrics.Metrics
}

// NewRedisDB creates a new Redis client from config. It does not fail when
// Redis is unreachable; the client starts in degraded mode instead.
func NewRedisDB(cfg *RedisConfig, m *metrics.Metrics) *RedisClient {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		DialTimeout:  cfg.Timeout,
	})

	r := &RedisClient{Client: client, metrics: m}
	if err := r.HealthCheck(context.Background()); err != nil {
		logger.Warn("Redis unavailable at startup, running degraded", zap.Error(err))
	}
	return r
}

// Close closes the Redis client connection
func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// StartHealthCheck periodically pings Redis until ctx is cancelled
func (r *RedisClient) StartHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.HealthCheck(ctx)
		}
	}
}

// IsDegraded returns true if Redis is in degraded mode
func (r *RedisClient) IsDegraded() bool {
	return r.degraded.Load()
}

// HealthCheck pings Redis and updates degraded mode. Concurrent checks
// are serialized.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	r.healthCheckMu.Lock()
	defer r.healthCheckMu.Unlock()

	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := r.Client.Ping(healthCtx).Err()
	r.setDegraded(err != nil)
	if err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func (r *RedisClient) setDegraded(degraded bool) {
	if r.degraded.Swap(degraded) != degraded {
		if degraded {
			logger.Warn("Redis entered degraded mode")
		} else {
			logger.Info("Redis recovered from degraded mode")
		}
	}
	if r.metrics != nil {
		r.metrics.RecordRedisHealthCheck(!degraded)
	}
}
