package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pasargadprints/webhook-svc/internal/models"
	"github.com/pasargadprints/webhook-svc/internal/store"
)

// EventsHandler handles webhook event listing for operators
type EventsHandler struct {
	Events *store.EventStore
	Logger *zap.Logger
}

// NewEventsHandler creates a new events handler with dependencies
func NewEventsHandler(events *store.EventStore, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		Events: events,
		Logger: logger,
	}
}

// EventsResponse represents the response structure for GET /events
type EventsResponse struct {
	Events  []EventDTO `json:"events"`
	HasMore bool       `json:"has_more"`
}

// EventDTO represents a single webhook event in the response
type EventDTO struct {
	ID            string  `json:"id"`
	EventID       string  `json:"event_id"`
	EventType     string  `json:"event_type"`
	Status        string  `json:"status"`
	Attempts      int     `json:"attempts"`
	MaxAttempts   int     `json:"max_attempts"`
	NextAttemptAt *string `json:"next_attempt_at"`
	ProcessedAt   *string `json:"processed_at"`
	Timestamp     string  `json:"timestamp"` // UTC ISO 8601 format
}

// GetEvents handles GET /events endpoint
// Query parameters:
//   - limit (optional, default 25): Number of events to return
//   - offset (optional, default 0): Number of events to skip
func (h *EventsHandler) GetEvents(c *fiber.Ctx) error {
	limit := 25 // default limit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = parsedLimit
	}

	offset := 0 // default offset
	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsedOffset, err := strconv.Atoi(offsetStr)
		if err != nil || parsedOffset < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "offset must be a non-negative integer",
			})
		}
		offset = parsedOffset
	}

	events, hasMore, err := h.Events.List(c.UserContext(), limit, offset)
	if err != nil {
		h.Logger.Error("Failed to query webhook events", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch events",
		})
	}

	eventDTOs := make([]EventDTO, 0, len(events))
	for _, event := range events {
		eventDTOs = append(eventDTOs, EventDTO{
			ID:            event.ID.String(),
			EventID:       event.EventID,
			EventType:     event.EventType,
			Status:        event.Status,
			Attempts:      event.ProcessingAttempts,
			MaxAttempts:   event.MaxAttempts,
			NextAttemptAt: formatTimePtr(event.NextAttemptAt),
			ProcessedAt:   formatTimePtr(event.ProcessedAt),
			Timestamp:     event.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return c.JSON(EventsResponse{
		Events:  eventDTOs,
		HasMore: hasMore,
	})
}

// GetEvent handles GET /events/:id
func (h *EventsHandler) GetEvent(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id must be a valid UUID",
		})
	}

	event, err := h.Events.GetByID(c.UserContext(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "event not found",
		})
	}

	return c.JSON(eventDetail(event))
}

func eventDetail(event *models.WebhookEvent) fiber.Map {
	detail := fiber.Map{
		"id":              event.ID.String(),
		"event_id":        event.EventID,
		"event_type":      event.EventType,
		"source":          event.Source,
		"status":          event.Status,
		"payload_hash":    event.PayloadHash,
		"payload_size":    event.PayloadSize,
		"attempts":        event.ProcessingAttempts,
		"max_attempts":    event.MaxAttempts,
		"error_count":     event.ErrorCount,
		"next_attempt_at": formatTimePtr(event.NextAttemptAt),
		"processed_at":    formatTimePtr(event.ProcessedAt),
		"created_at":      event.CreatedAt.UTC().Format(time.RFC3339),
	}
	if event.RelatedOrderID != nil {
		detail["related_order_id"] = event.RelatedOrderID.String()
	}
	if event.ErrorMessage != nil {
		detail["error_message"] = *event.ErrorMessage
	}
	return detail
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
