package middleware

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/thiran-symposium/gateway-api/internal/config"
	"github.com/thiran-symposium/gateway-api/internal/metrics"
)

// NewRedisClient connects to redis in standalone or cluster mode and pings it.
func NewRedisClient(cfg *config.RedisConfig, logger logrus.FieldLogger) (redis.UniversalClient, error) {
	var tlsConfig *tls.Config
	if cfg.TLSEnabled {
		tlsConfig = &tls.Config{
			ServerName: extractHostname(cfg.Address),
		}
		logger.WithField("address", cfg.Address).Info("Redis TLS encryption enabled")
	}

	var client redis.UniversalClient
	mode := "standalone"

	if cfg.ClusterMode {
		mode = "cluster"
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        []string{cfg.Address}, // Configuration Endpoint
			Password:     cfg.Password,
			MaxRetries:   cfg.MaxRetries,
			PoolSize:     cfg.PoolSize,
			PoolTimeout:  cfg.PoolTimeout,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			DialTimeout:  5 * time.Second,

			MinIdleConns:    10,
			ConnMaxIdleTime: 10 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,

			MinRetryBackoff: 8 * time.Millisecond,
			MaxRetryBackoff: 512 * time.Millisecond,

			TLSConfig: tlsConfig,

			RouteByLatency: cfg.RouteByLatency,
			RouteRandomly:  cfg.RouteRandomly,
			ReadOnly:       cfg.ReadOnly,
			MaxRedirects:   3,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Address,
			Password:     cfg.Password,
			DB:           cfg.Database,
			MaxRetries:   cfg.MaxRetries,
			PoolSize:     cfg.PoolSize,
			PoolTimeout:  cfg.PoolTimeout,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			DialTimeout:  5 * time.Second,

			MinIdleConns:    10,
			MaxIdleConns:    50,
			ConnMaxIdleTime: 10 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,

			MinRetryBackoff: 8 * time.Millisecond,
			MaxRetryBackoff: 512 * time.Millisecond,

			TLSConfig: tlsConfig,
		})
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"address": cfg.Address,
		"db":      cfg.Database,
		"mode":    mode,
	}).Info("Connected to Redis")

	return client, nil
}

// RedisHealthCheck returns a readiness probe that pings redis.
func RedisHealthCheck(redisClient redis.UniversalClient, logger logrus.FieldLogger) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		start := time.Now()
		err := redisClient.Ping(ctx).Err()
		metrics.RecordRedisOperation("ping", redisStatus(err), time.Since(start))
		if err != nil {
			logger.WithError(err).Error("Redis health check failed")
			return fmt.Errorf("redis unavailable: %w", err)
		}

		return nil
	}
}

func redisStatus(err error) string {
	if err != nil && err != redis.Nil {
		return "error"
	}
	return "ok"
}

// extractHostname extracts hostname from address (host:port -> host)
func extractHostname(address string) string {
	if idx := strings.LastIndex(address, ":"); idx != -1 {
		return address[:idx]
	}
	return address
}
