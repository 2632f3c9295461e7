package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/thiran-symposium/gateway-api/internal/metrics"
	apperrors "github.com/thiran-symposium/gateway-api/pkg/errors"
)

// Deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// SubmissionLock allows one in-flight submission per registration session
// across all gateway replicas. The controller's own busy flag covers a single
// process; this covers a session routed to two replicas at once.
type SubmissionLock struct {
	redisClient redis.UniversalClient
	logger      logrus.FieldLogger
	ttl         time.Duration
	param       string
}

func NewSubmissionLock(redisClient redis.UniversalClient, ttl time.Duration, logger logrus.FieldLogger) *SubmissionLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SubmissionLock{
		redisClient: redisClient,
		logger:      logger,
		ttl:         ttl,
		param:       "id",
	}
}

func lockKey(sessionID string) string {
	return fmt.Sprintf("submission:%s", sessionID)
}

// Handle takes the lock for the session named by the :id route parameter and
// releases it after the handler returns.
func (l *SubmissionLock) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionID := c.Params(l.param)
		if l.redisClient == nil || sessionID == "" {
			return c.Next()
		}

		key := lockKey(sessionID)
		token := uuid.NewString()

		acquired, err := l.acquire(c.UserContext(), key, token)
		if err != nil {
			l.logger.WithError(err).WithField("session_id", sessionID).Error("Submission lock unavailable")
			// The in-process busy flag still guards this replica
			return c.Next()
		}

		if !acquired {
			l.logger.WithField("session_id", sessionID).Warn("Submission already in flight")
			return WriteError(c, apperrors.NewAppError(apperrors.CodeSubmissionInFlight, "A submission for this registration is already in progress", nil))
		}

		defer l.release(key, token, sessionID)

		return c.Next()
	}
}

func (l *SubmissionLock) acquire(ctx context.Context, key, token string) (bool, error) {
	start := time.Now()
	ok, err := l.redisClient.SetNX(ctx, key, token, l.ttl).Result()
	metrics.RecordRedisOperation("lock_acquire", redisStatus(err), time.Since(start))
	return ok, err
}

func (l *SubmissionLock) release(key, token, sessionID string) {
	// The request context may already be cancelled here
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	err := releaseScript.Run(ctx, l.redisClient, []string{key}, token).Err()
	metrics.RecordRedisOperation("lock_release", redisStatus(err), time.Since(start))
	if err != nil && err != redis.Nil {
		l.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to release submission lock")
	}
}
