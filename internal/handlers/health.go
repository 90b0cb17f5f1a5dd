package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/pasargadprints/webhook-svc/internal/database"
	"github.com/pasargadprints/webhook-svc/internal/rabbitmq"
)

// HealthHandler probes the service's backing dependencies
type HealthHandler struct {
	DB       *gorm.DB
	Redis    *redis.Client
	RabbitMQ *rabbitmq.Connection
}

func NewHealthHandler(db *gorm.DB, rdb *redis.Client, rmq *rabbitmq.Connection) *HealthHandler {
	return &HealthHandler{
		DB:       db,
		Redis:    rdb,
		RabbitMQ: rmq,
	}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// HealthCheck handles the health check endpoint
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	services := make(map[string]string)
	status := "healthy"

	// Check database
	if err := database.HealthCheck(ctx, h.DB); err != nil {
		services["database"] = "unhealthy: " + err.Error()
		status = "unhealthy"
	} else {
		services["database"] = "healthy"
	}

	// Check Redis
	if err := h.Redis.Ping(ctx).Err(); err != nil {
		services["redis"] = "unhealthy: " + err.Error()
		status = "unhealthy"
	} else {
		services["redis"] = "healthy"
	}

	// Check RabbitMQ
	if h.RabbitMQ == nil || !h.RabbitMQ.IsHealthy() {
		services["rabbitmq"] = "unhealthy: connection closed"
		status = "unhealthy"
	} else {
		services["rabbitmq"] = "healthy"
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	}

	if status == "unhealthy" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(response)
	}

	return c.JSON(response)
}
