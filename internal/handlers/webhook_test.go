package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pasargadprints/webhook-svc/internal/fulfillment"
	"github.com/pasargadprints/webhook-svc/internal/models"
	"github.com/pasargadprints/webhook-svc/internal/security"
	"github.com/pasargadprints/webhook-svc/internal/store"
)

const webhookTestSecret = "whsec_handler_test"

func newHandlerDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.WebhookEvent{},
		&models.WebhookSecurityLog{},
		&models.Customer{},
		&models.ShippingAddress{},
		&models.Product{},
		&models.Cart{},
		&models.CartItem{},
		&models.Order{},
		&models.OrderItem{},
	))
	return db
}

type webhookTestEnv struct {
	app    *fiber.App
	db     *gorm.DB
	events *store.EventStore
}

func newWebhookTestEnv(t *testing.T) *webhookTestEnv {
	t.Helper()
	db := newHandlerDBForTest(t)
	logger := zap.NewNop()

	events := store.NewEventStore(db, logger, 3)
	audit := store.NewAuditLog(db, logger)
	manager := security.NewManager(security.Config{
		Secret:     webhookTestSecret,
		Source:     "stripe",
		MaxPayload: security.DefaultMaxPayloadSize,
		Tolerance:  300 * time.Second,
	}, events, audit, logger)
	ful := fulfillment.NewHandler(db, logger)

	handler := NewWebhookHandler(manager, events, ful, audit, logger)

	app := fiber.New()
	app.Post("/webhooks/stripe", handler.HandleStripeWebhook)

	return &webhookTestEnv{app: app, db: db, events: events}
}

// seedCommerce creates the customer, address, product and cart a
// checkout session fulfills against. Returns the session metadata.
func (env *webhookTestEnv) seedCommerce(t *testing.T) map[string]string {
	t.Helper()
	now := time.Now().UTC()

	customer := models.Customer{ID: uuid.New(), Email: "buyer@example.com", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, env.db.Create(&customer).Error)

	address := models.ShippingAddress{
		ID: uuid.New(), CustomerID: customer.ID, FullName: "Buyer",
		AddressLine1: "1 Main St", City: "Springfield", State: "CA",
		PostalCode: "90001", Country: "United States", CreatedAt: now,
	}
	require.NoError(t, env.db.Create(&address).Error)

	product := models.Product{
		ID: uuid.New(), Name: "Widget", PriceCents: 1500, StockQuantity: 10,
		Slug: "widget-" + customer.ID.String()[:8], IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, env.db.Create(&product).Error)

	cart := models.Cart{ID: uuid.New(), CustomerID: customer.ID, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, env.db.Create(&cart).Error)
	require.NoError(t, env.db.Create(&models.CartItem{
		CartID: cart.ID, ProductID: product.ID, Quantity: 2, CreatedAt: now, UpdatedAt: now,
	}).Error)

	return map[string]string{
		"customer_id":         customer.ID.String(),
		"shipping_address_id": address.ID.String(),
	}
}

func checkoutPayload(eventID string, metadata map[string]string) []byte {
	payload := map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        "checkout.session.completed",
		"api_version": "2023-10-16",
		"data": map[string]any{
			"object": map[string]any{
				"id":             "cs_" + eventID,
				"payment_intent": "pi_" + eventID,
				"metadata":       metadata,
			},
		},
	}
	body, _ := json.Marshal(payload)
	return body
}

func (env *webhookTestEnv) deliver(t *testing.T, payload []byte, signature string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}

	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &body))
	}
	return resp, body
}

func sign(payload []byte) string {
	return security.SignPayload(payload, webhookTestSecret, time.Now())
}

func TestWebhookEndToEndFulfillment(t *testing.T) {
	env := newWebhookTestEnv(t)
	metadata := env.seedCommerce(t)
	payload := checkoutPayload("evt_e2e_1", metadata)

	resp, body := env.deliver(t, payload, sign(payload))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "processed", body["status"])
	assert.Equal(t, "evt_e2e_1", body["event_id"])
	assert.NotEmpty(t, body["order_number"])

	// tracking record is terminal and linked to the order
	var event models.WebhookEvent
	require.NoError(t, env.db.First(&event, "event_id = ?", "evt_e2e_1").Error)
	assert.Equal(t, models.EventStatusProcessed, event.Status)
	assert.NotNil(t, event.RelatedOrderID)
	assert.NotNil(t, event.ProcessedAt)

	var order models.Order
	require.NoError(t, env.db.First(&order, "id = ?", *event.RelatedOrderID).Error)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)
	assert.Equal(t, int64(3000), order.TotalCents)
}

func TestWebhookRedeliveryIsDuplicate(t *testing.T) {
	env := newWebhookTestEnv(t)
	metadata := env.seedCommerce(t)
	payload := checkoutPayload("evt_dup_1", metadata)

	resp, _ := env.deliver(t, payload, sign(payload))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.deliver(t, payload, sign(payload))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "duplicate", body["status"])

	// still exactly one order
	var orders int64
	require.NoError(t, env.db.Model(&models.Order{}).Count(&orders).Error)
	assert.Equal(t, int64(1), orders)
}

func TestWebhookBadSignature(t *testing.T) {
	env := newWebhookTestEnv(t)
	payload := checkoutPayload("evt_sig_1", nil)

	resp, body := env.deliver(t, payload, security.SignPayload(payload, "whsec_wrong", time.Now()))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	// nothing was tracked for a forged delivery
	var count int64
	require.NoError(t, env.db.Model(&models.WebhookEvent{}).Count(&count).Error)
	assert.Zero(t, count)

	// but the rejection was audited
	var logs int64
	require.NoError(t, env.db.Model(&models.WebhookSecurityLog{}).
		Where("event_type = ?", models.SecurityEventSignatureFailed).Count(&logs).Error)
	assert.Equal(t, int64(1), logs)
}

func TestWebhookMissingSignature(t *testing.T) {
	env := newWebhookTestEnv(t)
	payload := checkoutPayload("evt_sig_2", nil)

	resp, _ := env.deliver(t, payload, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookMalformedJSON(t *testing.T) {
	env := newWebhookTestEnv(t)
	payload := []byte(`{this is not json`)

	resp, _ := env.deliver(t, payload, sign(payload))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookInvalidStructure(t *testing.T) {
	env := newWebhookTestEnv(t)
	payload := []byte(`{"id":"order_123","object":"event","type":"x","data":{}}`)

	resp, _ := env.deliver(t, payload, sign(payload))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookIgnoredEventType(t *testing.T) {
	env := newWebhookTestEnv(t)
	payload := []byte(`{
		"id": "evt_info_1",
		"object": "event",
		"type": "customer.created",
		"data": {"object": {"id": "cus_1"}}
	}`)

	resp, body := env.deliver(t, payload, sign(payload))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ignored", body["status"])

	// marked processed so redelivery is a duplicate
	var event models.WebhookEvent
	require.NoError(t, env.db.First(&event, "event_id = ?", "evt_info_1").Error)
	assert.Equal(t, models.EventStatusProcessed, event.Status)
}

func TestWebhookFulfillmentFailure(t *testing.T) {
	env := newWebhookTestEnv(t)
	// metadata references a customer that does not exist
	payload := checkoutPayload("evt_fail_1", map[string]string{
		"customer_id":         uuid.NewString(),
		"shipping_address_id": uuid.NewString(),
	})

	resp, body := env.deliver(t, payload, sign(payload))

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	var event models.WebhookEvent
	require.NoError(t, env.db.First(&event, "event_id = ?", "evt_fail_1").Error)
	assert.Equal(t, models.EventStatusFailed, event.Status)
	require.NotNil(t, event.ErrorMessage)
	// non-retryable data error: no retry scheduled
	assert.Nil(t, event.NextAttemptAt)

	// the failure was audited as a processing error
	var logs int64
	require.NoError(t, env.db.Model(&models.WebhookSecurityLog{}).
		Where("event_type = ?", models.SecurityEventProcessingError).Count(&logs).Error)
	assert.Equal(t, int64(1), logs)
}
