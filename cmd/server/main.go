package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pasargadprints/webhook-svc/internal/config"
	"github.com/pasargadprints/webhook-svc/internal/database"
	"github.com/pasargadprints/webhook-svc/internal/dispatcher"
	"github.com/pasargadprints/webhook-svc/internal/fulfillment"
	"github.com/pasargadprints/webhook-svc/internal/handlers"
	"github.com/pasargadprints/webhook-svc/internal/logger"
	"github.com/pasargadprints/webhook-svc/internal/middleware"
	"github.com/pasargadprints/webhook-svc/internal/rabbitmq"
	"github.com/pasargadprints/webhook-svc/internal/routes"
	"github.com/pasargadprints/webhook-svc/internal/security"
	"github.com/pasargadprints/webhook-svc/internal/store"
	"github.com/pasargadprints/webhook-svc/internal/worker"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	if err := logger.Init(os.Getenv("LOG_LEVEL")); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Connect to PostgreSQL and bring the schema up to date
	db, err := database.Connect(&cfg.Database, logger.Logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, logger.Logger); err != nil {
			logger.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := database.RunMigrations(&cfg.Database, logger.Logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Redis backs the per-IP rate limiter
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// Connect to RabbitMQ for the retry pipeline
	rmq := rabbitmq.NewConnection(&cfg.RabbitMQ, logger.Logger)
	if err := rmq.Connect(); err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rmq.Close()

	// Wire storage, security pipeline and fulfillment
	events := store.NewEventStore(db, logger.Logger, cfg.Webhook.MaxProcessingAttempts)
	audit := store.NewAuditLog(db, logger.Logger)
	manager := security.NewManager(security.Config{
		Secret:      cfg.Webhook.Secret,
		Source:      "stripe",
		MaxPayload:  cfg.Webhook.MaxPayloadSize,
		Tolerance:   time.Duration(cfg.Webhook.SignatureToleranceSec) * time.Second,
		MaxAttempts: cfg.Webhook.MaxProcessingAttempts,
	}, events, audit, logger.Logger)
	ful := fulfillment.NewHandler(db, logger.Logger)

	// Retry pipeline: dispatcher scans for due events, worker re-runs them
	disp := dispatcher.NewDispatcher(&cfg.Retry, rmq, events, logger.Logger)
	if err := disp.Start(); err != nil {
		logger.Fatal("Failed to start dispatcher", zap.Error(err))
	}

	wrk := worker.NewWorker(&cfg.Retry, rmq, events, ful, logger.Logger)
	if err := wrk.Start(); err != nil {
		logger.Fatal("Failed to start retry worker", zap.Error(err))
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Order Webhook Service",
		ServerHeader: "Fiber",
		BodyLimit:    cfg.Webhook.MaxPayloadSize * 2,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Stripe-Signature",
	}))

	rateLimit := middleware.RateLimit(middleware.RateLimitConfig{
		Redis:             rdb,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Audit:             audit,
		Logger:            logger.Logger,
	})

	webhookHandler := handlers.NewWebhookHandler(manager, events, ful, audit, logger.Logger)
	eventsHandler := handlers.NewEventsHandler(events, logger.Logger)
	healthHandler := handlers.NewHealthHandler(db, rdb, rmq)

	routes.SetupRoutes(app, webhookHandler, eventsHandler, healthHandler, rateLimit)

	// Start server in a goroutine
	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		logger.Info("Server starting", zap.String("address", addr))
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	if err := wrk.Stop(); err != nil {
		logger.Error("Error stopping retry worker", zap.Error(err))
	}
	if err := disp.Stop(); err != nil {
		logger.Error("Error stopping dispatcher", zap.Error(err))
	}

	logger.Info("Server stopped")
}
