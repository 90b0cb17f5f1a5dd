package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pasargadprints/webhook-svc/internal/models"
	"github.com/pasargadprints/webhook-svc/internal/security"
	"github.com/pasargadprints/webhook-svc/internal/store"
)

func newEventsApp(t *testing.T) (*fiber.App, *store.EventStore) {
	t.Helper()
	db := newHandlerDBForTest(t)
	events := store.NewEventStore(db, zap.NewNop(), 3)
	handler := NewEventsHandler(events, zap.NewNop())

	app := fiber.New()
	app.Get("/api/v1/events", handler.GetEvents)
	app.Get("/api/v1/events/:id", handler.GetEvent)
	return app, events
}

func seedEvents(t *testing.T, events *store.EventStore, n int) []*models.WebhookEvent {
	t.Helper()
	created := make([]*models.WebhookEvent, 0, n)
	for i := 0; i < n; i++ {
		payload := []byte(fmt.Sprintf(`{"id":"evt_list_%d"}`, i))
		event, err := events.Create(context.Background(), security.CreateEventParams{
			EventID:     fmt.Sprintf("evt_list_%d", i),
			EventType:   "checkout.session.completed",
			Source:      "stripe",
			PayloadHash: fmt.Sprintf("%064d", i),
			PayloadSize: len(payload),
			Payload:     payload,
		})
		require.NoError(t, err)
		created = append(created, event)
	}
	return created
}

func getJSON(t *testing.T, app *fiber.App, path string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return resp.StatusCode, body
}

func TestGetEventsPagination(t *testing.T) {
	app, events := newEventsApp(t)
	seedEvents(t, events, 5)

	status, body := getJSON(t, app, "/api/v1/events?limit=3")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["events"], 3)
	assert.Equal(t, true, body["has_more"])

	status, body = getJSON(t, app, "/api/v1/events?limit=3&offset=3")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["events"], 2)
	assert.Equal(t, false, body["has_more"])
}

func TestGetEventsInvalidParams(t *testing.T) {
	app, _ := newEventsApp(t)

	for _, path := range []string{
		"/api/v1/events?limit=0",
		"/api/v1/events?limit=abc",
		"/api/v1/events?offset=-1",
	} {
		status, _ := getJSON(t, app, path)
		assert.Equal(t, http.StatusBadRequest, status, path)
	}
}

func TestGetEventByID(t *testing.T) {
	app, events := newEventsApp(t)
	created := seedEvents(t, events, 1)

	status, body := getJSON(t, app, "/api/v1/events/"+created[0].ID.String())
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "evt_list_0", body["event_id"])
	assert.Equal(t, "pending", body["status"])

	status, _ = getJSON(t, app, "/api/v1/events/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = getJSON(t, app, "/api/v1/events/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHealthCheckReportsBrokenDependencies(t *testing.T) {
	db := newHandlerDBForTest(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	// no broker connection: the service must report itself unhealthy
	handler := NewHealthHandler(db, rdb, nil)
	app := fiber.New()
	app.Get("/health", handler.HealthCheck)

	status, body := getJSON(t, app, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "unhealthy", body["status"])

	services, ok := body["services"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "healthy", services["database"])
	assert.Equal(t, "healthy", services["redis"])
	assert.Contains(t, services["rabbitmq"], "unhealthy")
}
