package middleware

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pasargadprints/webhook-svc/internal/security"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []security.AuditEntry
}

func (a *recordingAudit) Record(_ context.Context, entry security.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *recordingAudit) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func newRateLimitedApp(t *testing.T, limit int) (*fiber.App, *miniredis.Miniredis, *recordingAudit) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	audit := &recordingAudit{}
	app := fiber.New()
	app.Use(RateLimit(RateLimitConfig{
		Redis:             client,
		RequestsPerMinute: limit,
		Audit:             audit,
		Logger:            zap.NewNop(),
	}))
	app.Post("/webhooks/stripe", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	return app, mr, audit
}

func testRequest(t *testing.T, app *fiber.App) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
	require.NoError(t, err)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestRateLimitUnderLimit(t *testing.T) {
	app, _, audit := newRateLimitedApp(t, 5)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, testRequest(t, app))
	}
	assert.Zero(t, audit.count())
}

func TestRateLimitOverLimit(t *testing.T) {
	app, _, audit := newRateLimitedApp(t, 3)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, testRequest(t, app))
	}

	assert.Equal(t, http.StatusTooManyRequests, testRequest(t, app))
	assert.Equal(t, http.StatusTooManyRequests, testRequest(t, app))

	// each rejected request is audited
	require.Equal(t, 2, audit.count())
	entry := audit.entries[0]
	assert.Equal(t, "rate_limit_exceeded", entry.EventType)
	assert.NotEmpty(t, entry.Request.IPAddress)
	assert.Equal(t, 3, entry.Metadata["limit"])
}

func TestRateLimitWindowKeyExpiry(t *testing.T) {
	app, mr, _ := newRateLimitedApp(t, 3)

	require.Equal(t, http.StatusOK, testRequest(t, app))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	// the counter key must expire on its own
	ttl := mr.TTL(keys[0])
	assert.Greater(t, ttl.Seconds(), float64(0))
}

func TestRateLimitFailsOpen(t *testing.T) {
	app, mr, audit := newRateLimitedApp(t, 1)
	mr.Close()

	// with Redis down every request passes through
	for i := 0; i < 4; i++ {
		assert.Equal(t, http.StatusOK, testRequest(t, app))
	}
	assert.Zero(t, audit.count())
}
