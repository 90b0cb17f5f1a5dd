package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/pasargadprints/webhook-svc/internal/config"
	"github.com/pasargadprints/webhook-svc/internal/consumer"
	"github.com/pasargadprints/webhook-svc/internal/fulfillment"
	"github.com/pasargadprints/webhook-svc/internal/models"
	"github.com/pasargadprints/webhook-svc/internal/rabbitmq"
	"github.com/pasargadprints/webhook-svc/internal/security"
	"github.com/pasargadprints/webhook-svc/internal/store"
)

// Worker consumes retry messages and re-runs fulfillment for failed
// webhook events.
type Worker struct {
	cfg         *config.RetryConfig
	conn        *rabbitmq.Connection
	events      *store.EventStore
	fulfillment *fulfillment.Handler
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	consumerTag string
	started     atomic.Bool
}

// NewWorker creates a new worker instance with dependencies
func NewWorker(cfg *config.RetryConfig, conn *rabbitmq.Connection, events *store.EventStore, ful *fulfillment.Handler, logger *zap.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:         cfg,
		conn:        conn,
		events:      events,
		fulfillment: ful,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		consumerTag: fmt.Sprintf("retry-worker-%d", time.Now().Unix()),
	}
}

// Start declares the retry queue and starts consuming messages
func (w *Worker) Start() error {
	if w.cfg.Queue == "" {
		return fmt.Errorf("retry queue is required")
	}

	if err := w.conn.DeclareQueue(w.cfg.Queue); err != nil {
		return err
	}

	// Set before the consume goroutine exists so its reconnect loop
	// never observes a stale false.
	w.started.Store(true)
	if err := w.startConsuming(); err != nil {
		w.started.Store(false)
		return err
	}

	w.logger.Info("Retry worker started and consuming messages",
		zap.String("queue", w.cfg.Queue),
		zap.String("consumer_tag", w.consumerTag),
	)
	return nil
}

func (w *Worker) startConsuming() error {
	if err := w.conn.SetQoS(w.cfg.BatchSize); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	messages, err := w.conn.ConsumeMessages(w.cfg.Queue, w.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming from queue %s: %w", w.cfg.Queue, err)
	}

	go w.processMessages(messages)
	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() error {
	w.logger.Info("Stopping retry worker", zap.String("consumer_tag", w.consumerTag))
	w.started.Store(false)
	w.cancel()

	if err := w.conn.CancelConsumer(w.consumerTag); err != nil {
		w.logger.Error("Failed to cancel consumer",
			zap.String("consumer_tag", w.consumerTag),
			zap.Error(err),
		)
	}
	return nil
}

func (w *Worker) processMessages(messages <-chan amqp.Delivery) {
	for {
		select {
		case <-w.ctx.Done():
			w.logger.Info("Retry worker context cancelled, stopping message processing")
			return
		case msg, ok := <-messages:
			if !ok {
				// Channel closed; wait for the connection wrapper to
				// reconnect, then re-register the consumer.
				for w.started.Load() {
					select {
					case <-w.ctx.Done():
						return
					default:
					}

					time.Sleep(2 * time.Second)
					if !w.conn.IsHealthy() {
						continue
					}
					if err := w.startConsuming(); err != nil {
						w.logger.Error("Failed to restart consuming after channel close, will retry",
							zap.String("queue", w.cfg.Queue),
							zap.Error(err),
						)
						time.Sleep(5 * time.Second)
						continue
					}
					w.logger.Info("Restarted consumer after channel close",
						zap.String("queue", w.cfg.Queue),
					)
					return
				}
				return
			}
			consumer.ProcessMessage(w.cfg.Queue, msg, w)
		}
	}
}

// HandleEvent implements the consumer.EventHandler interface
func (w *Worker) HandleEvent(body []byte) error {
	var retryMsg models.RetryMessage
	if err := json.Unmarshal(body, &retryMsg); err != nil {
		return fmt.Errorf("failed to unmarshal retry message: %w", err)
	}

	id, err := uuid.Parse(retryMsg.EventID)
	if err != nil {
		return fmt.Errorf("retry message carries invalid event id %q: %w", retryMsg.EventID, err)
	}

	return w.retryEvent(w.ctx, id)
}

func (w *Worker) retryEvent(ctx context.Context, id uuid.UUID) error {
	event, err := w.events.BeginProcessing(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotProcessable) {
			// Processed elsewhere or out of attempts; nothing to do.
			w.logger.Info("Skipping retry, event no longer processable",
				zap.String("id", id.String()),
			)
			return nil
		}
		return fmt.Errorf("failed to claim event %s: %w", id, err)
	}

	w.logger.Info("Retrying webhook event",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.Int("attempt", event.ProcessingAttempts),
	)

	raw, perr := security.ParseEvent(event.Payload)
	if perr != nil {
		return w.fail(ctx, event, fmt.Errorf("stored payload no longer parses: %w", perr), false)
	}
	env, perr := security.ValidateEnvelope(raw)
	if perr != nil {
		return w.fail(ctx, event, fmt.Errorf("stored payload has invalid structure: %w", perr), false)
	}

	eventType, known := models.ParseStripeEventType(env.Type)
	if !known || !eventType.RequiresFulfillment() {
		return w.events.MarkProcessed(ctx, event.ID, nil, nil)
	}

	session, perr := fulfillment.ParseSession(env.Data)
	if perr != nil {
		return w.fail(ctx, event, perr, false)
	}

	order, perr := w.fulfillment.Fulfill(ctx, session)
	if perr != nil {
		return w.fail(ctx, event, perr, fulfillment.IsRetryable(perr))
	}

	if err := w.events.MarkProcessed(ctx, event.ID, &order.ID, &order.CustomerID); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	w.logger.Info("Retry succeeded",
		zap.String("event_id", event.EventID),
		zap.String("order_number", order.OrderNumber),
	)
	return nil
}

// fail records the failure on the tracking record and schedules the
// next attempt when one remains. The message is still acked; the
// dispatcher owns rescheduling from next_attempt_at.
func (w *Worker) fail(ctx context.Context, event *models.WebhookEvent, ferr error, retryable bool) error {
	var nextAttempt *time.Time
	if retryable && event.ProcessingAttempts < event.MaxAttempts {
		at := time.Now().UTC().Add(event.RetryDelay())
		nextAttempt = &at
	}

	if err := w.events.MarkFailed(ctx, event.ID, ferr.Error(), nextAttempt); err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}

	w.logger.Error("Retry attempt failed",
		zap.String("event_id", event.EventID),
		zap.Int("attempt", event.ProcessingAttempts),
		zap.Bool("retryable", retryable),
		zap.Error(ferr),
	)
	return nil
}
