package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pasargadprints/webhook-svc/internal/handlers"
)

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(app *fiber.App, webhook *handlers.WebhookHandler, events *handlers.EventsHandler, health *handlers.HealthHandler, rateLimit fiber.Handler) {
	// Health check endpoint
	app.Get("/health", health.HealthCheck)

	// Webhook ingest, rate limited per source IP
	app.Post("/webhooks/stripe", rateLimit, webhook.HandleStripeWebhook)

	// API v1 routes
	api := app.Group("/api/v1")
	{
		api.Get("/events", events.GetEvents)
		api.Get("/events/:id", events.GetEvent)
	}
}
