package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pasargadprints/webhook-svc/internal/fulfillment"
	"github.com/pasargadprints/webhook-svc/internal/models"
	"github.com/pasargadprints/webhook-svc/internal/security"
	"github.com/pasargadprints/webhook-svc/internal/store"
)

// WebhookHandler receives Stripe webhook deliveries, runs them through
// the security pipeline and hands fulfillable events to the
// fulfillment handler.
type WebhookHandler struct {
	Manager     *security.Manager
	Events      *store.EventStore
	Fulfillment *fulfillment.Handler
	Audit       security.AuditLog
	Logger      *zap.Logger
}

func NewWebhookHandler(manager *security.Manager, events *store.EventStore, ful *fulfillment.Handler, audit security.AuditLog, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		Manager:     manager,
		Events:      events,
		Fulfillment: ful,
		Audit:       audit,
		Logger:      logger,
	}
}

// HandleStripeWebhook handles POST /webhooks/stripe.
//
// Status codes follow Stripe's retry contract: 200 acknowledges the
// delivery (including duplicates, which must not be retried), 400
// rejects deliveries that will never verify, 500 asks Stripe to retry.
func (h *WebhookHandler) HandleStripeWebhook(c *fiber.Ctx) error {
	payload := c.Body()
	signature := c.Get("Stripe-Signature")

	req := security.RequestInfo{
		IPAddress: c.IP(),
		UserAgent: c.Get("User-Agent"),
		Method:    c.Method(),
		Path:      c.Path(),
	}

	env, event, err := h.Manager.ProcessWebhook(c.UserContext(), payload, signature, req)
	if err != nil {
		return h.securityFailure(c, err)
	}

	eventType, known := models.ParseStripeEventType(env.Type)
	if !known || !eventType.RequiresFulfillment() {
		// Acknowledged but carries no business effect. Marking it
		// processed keeps a later identical delivery a duplicate.
		if err := h.Events.MarkProcessed(c.UserContext(), event.ID, nil, nil); err != nil {
			h.Logger.Error("Failed to mark event processed",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}
		return c.JSON(fiber.Map{"status": "ignored", "event_id": event.EventID})
	}

	claimed, err := h.Events.BeginProcessing(c.UserContext(), event.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotProcessable) {
			// Another delivery holds the event or it is terminal.
			return c.JSON(fiber.Map{"status": "accepted", "event_id": event.EventID})
		}
		h.Logger.Error("Failed to claim event for processing",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal processing error",
		})
	}

	session, err := fulfillment.ParseSession(env.Data)
	if err != nil {
		return h.fulfillmentFailure(c, req, claimed, err)
	}

	order, err := h.Fulfillment.Fulfill(c.UserContext(), session)
	if err != nil {
		return h.fulfillmentFailure(c, req, claimed, err)
	}

	if err := h.Events.MarkProcessed(c.UserContext(), claimed.ID, &order.ID, &order.CustomerID); err != nil {
		h.Logger.Error("Failed to mark event processed",
			zap.String("event_id", claimed.EventID),
			zap.Error(err),
		)
	}

	h.Logger.Info("Webhook event processed",
		zap.String("event_id", claimed.EventID),
		zap.String("event_type", claimed.EventType),
		zap.String("order_number", order.OrderNumber),
	)

	return c.JSON(fiber.Map{
		"status":       "processed",
		"event_id":     claimed.EventID,
		"order_number": order.OrderNumber,
	})
}

func (h *WebhookHandler) securityFailure(c *fiber.Ctx, err error) error {
	var secErr *security.Error
	if !errors.As(err, &secErr) {
		h.Logger.Error("Webhook security pipeline error", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal processing error",
		})
	}

	switch secErr.Code {
	case security.CodeDuplicateEvent:
		// Duplicates are acknowledged so the sender stops retrying.
		return c.JSON(fiber.Map{"status": "duplicate"})
	case security.CodeProcessingError:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": secErr.Message,
		})
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": secErr.Message,
		})
	}
}

func (h *WebhookHandler) fulfillmentFailure(c *fiber.Ctx, req security.RequestInfo, event *models.WebhookEvent, ferr error) error {
	var nextAttempt *time.Time
	retryable := fulfillment.IsRetryable(ferr)
	if retryable && event.ProcessingAttempts < event.MaxAttempts {
		at := time.Now().UTC().Add(event.RetryDelay())
		nextAttempt = &at
	}

	if err := h.Events.MarkFailed(c.UserContext(), event.ID, ferr.Error(), nextAttempt); err != nil {
		h.Logger.Error("Failed to mark event failed",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}

	if err := h.Audit.Record(c.UserContext(), security.AuditEntry{
		EventType:        models.SecurityEventProcessingError,
		Severity:         models.SeverityHigh,
		Request:          req,
		Source:           event.Source,
		WebhookEventID:   event.EventID,
		WebhookEventType: event.EventType,
		PayloadSize:      event.PayloadSize,
		PayloadHash:      event.PayloadHash,
		ErrorCode:        security.CodeProcessingError,
		ErrorMessage:     ferr.Error(),
		Metadata:         map[string]any{"retryable": retryable},
	}); err != nil {
		h.Logger.Error("Failed to record audit entry", zap.Error(err))
	}

	h.Logger.Error("Webhook fulfillment failed",
		zap.String("event_id", event.EventID),
		zap.Bool("retryable", retryable),
		zap.Error(ferr),
	)

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "event processing failed",
	})
}
