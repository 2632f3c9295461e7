package middleware

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/thiran-symposium/gateway-api/internal/config"
)

// Manager holds all middleware instances
type Manager struct {
	RateLimit      *RateLimitMiddleware
	SubmissionLock *SubmissionLock
	ErrorLogger    *ErrorLoggerMiddleware
	RedisClient    redis.UniversalClient
	Config         *config.Config
	Logger         logrus.FieldLogger
}

// NewManager connects to redis and builds every middleware on top of it
func NewManager(cfg *config.Config, logger logrus.FieldLogger) (*Manager, error) {
	redisClient, err := NewRedisClient(&cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis client: %w", err)
	}

	return NewManagerWithClient(cfg, redisClient, logger), nil
}

// NewManagerWithClient builds the middleware around an existing client; a nil
// client disables the redis-backed middleware.
func NewManagerWithClient(cfg *config.Config, redisClient redis.UniversalClient, logger logrus.FieldLogger) *Manager {
	return &Manager{
		RateLimit:      NewRateLimitMiddleware(&cfg.RateLimit, redisClient, logger),
		SubmissionLock: NewSubmissionLock(redisClient, cfg.Registration.LockTTL, logger),
		ErrorLogger:    NewErrorLoggerMiddleware(logger),
		RedisClient:    redisClient,
		Config:         cfg,
		Logger:         logger,
	}
}

// Close closes all middleware resources
func (m *Manager) Close() error {
	if m.RedisClient != nil {
		return m.RedisClient.Close()
	}
	return nil
}
