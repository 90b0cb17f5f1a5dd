package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pasargadprints/webhook-svc/internal/models"
	"github.com/pasargadprints/webhook-svc/internal/security"
)

const rateLimitWindow = time.Minute

// RateLimitConfig configures the per-IP webhook rate limiter
type RateLimitConfig struct {
	Redis             *redis.Client
	RequestsPerMinute int
	Audit             security.AuditLog
	Logger            *zap.Logger
}

// RateLimit enforces a fixed-window per-IP request limit backed by
// Redis. If Redis is unreachable the request passes through; dropping
// legitimate webhook deliveries is worse than briefly losing the
// limit.
func RateLimit(cfg RateLimitConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := c.IP()
		window := time.Now().UTC().Truncate(rateLimitWindow).Unix()
		key := fmt.Sprintf("ratelimit:%s:%d", ip, window)

		ctx := c.UserContext()
		count, err := cfg.Redis.Incr(ctx, key).Result()
		if err != nil {
			cfg.Logger.Warn("Rate limiter unavailable, allowing request",
				zap.String("ip", ip),
				zap.Error(err),
			)
			return c.Next()
		}
		if count == 1 {
			// The key outlives its window so a clock-edge INCR never
			// races an expired key.
			cfg.Redis.Expire(ctx, key, 2*rateLimitWindow)
		}

		if count > int64(cfg.RequestsPerMinute) {
			if err := cfg.Audit.Record(ctx, security.AuditEntry{
				EventType: models.SecurityEventRateLimitExceeded,
				Severity:  models.SeverityMedium,
				Request: security.RequestInfo{
					IPAddress: ip,
					UserAgent: c.Get("User-Agent"),
					Method:    c.Method(),
					Path:      c.Path(),
				},
				Source:       "stripe",
				ErrorMessage: fmt.Sprintf("rate limit exceeded: %d requests in window", count),
				Metadata:     map[string]any{"limit": cfg.RequestsPerMinute},
			}); err != nil {
				cfg.Logger.Error("Failed to record audit entry", zap.Error(err))
			}

			cfg.Logger.Warn("Rate limit exceeded",
				zap.String("ip", ip),
				zap.Int64("count", count),
			)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}

		return c.Next()
	}
}
