package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pasargadprints/webhook-svc/internal/config"
	"github.com/pasargadprints/webhook-svc/internal/models"
	"github.com/pasargadprints/webhook-svc/internal/rabbitmq"
	"github.com/pasargadprints/webhook-svc/internal/store"
)

// Dispatcher periodically scans for failed webhook events whose next
// attempt is due and publishes them to the retry queue. It is the only
// component that moves events from failed back into the pipeline, so
// a lost or nacked queue message is recovered on the next scan.
type Dispatcher struct {
	cfg    *config.RetryConfig
	conn   *rabbitmq.Connection
	events *store.EventStore
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher creates a new dispatcher instance with dependencies
func NewDispatcher(cfg *config.RetryConfig, conn *rabbitmq.Connection, events *store.EventStore, logger *zap.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:    cfg,
		conn:   conn,
		events: events,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start declares the retry queue and begins the scan loop
func (d *Dispatcher) Start() error {
	if d.cfg.Queue == "" {
		return fmt.Errorf("retry queue is required")
	}
	if err := d.conn.DeclareQueue(d.cfg.Queue); err != nil {
		return err
	}

	go d.run()

	d.logger.Info("Retry dispatcher started",
		zap.String("queue", d.cfg.Queue),
		zap.Int("scan_interval_seconds", d.cfg.ScanInterval),
		zap.Int("batch_size", d.cfg.BatchSize),
	)
	return nil
}

// Stop cancels the scan loop and waits for it to finish
func (d *Dispatcher) Stop() error {
	d.cancel()
	<-d.done
	d.logger.Info("Retry dispatcher stopped")
	return nil
}

func (d *Dispatcher) run() {
	defer close(d.done)

	ticker := time.NewTicker(time.Duration(d.cfg.ScanInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.dispatchDue()
		}
	}
}

// dispatchDue publishes every due event in the current batch. Publish
// failures leave the event failed with its next_attempt_at intact, so
// the following scan picks it up again.
func (d *Dispatcher) dispatchDue() {
	events, err := d.events.DueForRetry(d.ctx, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error("Failed to scan for due events", zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}

	published := 0
	for _, event := range events {
		if err := d.publish(event.ID.String()); err != nil {
			d.logger.Error("Failed to publish event to retry queue",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			continue
		}
		if err := d.events.MarkQueued(d.ctx, event.ID); err != nil {
			d.logger.Error("Failed to mark event queued",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			continue
		}
		published++
	}

	d.logger.Info("Dispatched due events to retry queue",
		zap.Int("due", len(events)),
		zap.Int("published", published),
	)
}

func (d *Dispatcher) publish(eventID string) error {
	body, err := json.Marshal(models.RetryMessage{EventID: eventID})
	if err != nil {
		return fmt.Errorf("failed to marshal retry message: %w", err)
	}
	if err := d.conn.PublishMessage("", d.cfg.Queue, body); err != nil {
		return fmt.Errorf("failed to publish to retry queue: %w", err)
	}
	return nil
}
