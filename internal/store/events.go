package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pasargadprints/webhook-svc/internal/models"
	"github.com/pasargadprints/webhook-svc/internal/security"
)

// ErrNotProcessable is returned when a processing attempt cannot be
// started: the event is terminal, owned by a concurrent delivery, or
// over the attempt ceiling.
var ErrNotProcessable = errors.New("webhook event is not processable")

// EventStore is the durable idempotency table. All status transitions
// are conditional UPDATEs so the database arbitrates races: a losing
// concurrent transition observes RowsAffected == 0 instead of
// clobbering the winner's state.
type EventStore struct {
	db          *gorm.DB
	logger      *zap.Logger
	maxAttempts int
}

func NewEventStore(db *gorm.DB, logger *zap.Logger, maxAttempts int) *EventStore {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &EventStore{
		db:          db,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// CheckDuplicate looks an event up by provider ID first, then by
// payload hash (catches resubmission of the same content under a forged
// ID). A processable record (pending, or failed with attempts
// remaining) is handed back as a re-attempt instead of a duplicate; the
// BeginProcessing compare-and-swap decides which delivery owns it. A
// record in flight or terminal is reported duplicate, but its status is
// only rewritten once no attempt can ever claim it again: flipping a
// pending or processing row would strand the owning delivery between
// its claim and completion.
func (s *EventStore) CheckDuplicate(ctx context.Context, eventID, payloadHash string) (bool, *models.WebhookEvent, error) {
	var existing models.WebhookEvent

	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = s.db.WithContext(ctx).Where("payload_hash = ?", payloadHash).First(&existing).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}

	if existing.IsProcessable() {
		return false, &existing, nil
	}

	if existing.Status == models.EventStatusFailed {
		res := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
			Where("id = ? AND status = ? AND processing_attempts >= max_attempts",
				existing.ID, models.EventStatusFailed).
			Updates(map[string]interface{}{
				"status":     models.EventStatusDuplicate,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return false, nil, res.Error
		}
		if res.RowsAffected > 0 {
			existing.Status = models.EventStatusDuplicate
		}
	}

	return true, &existing, nil
}

// Create inserts a new pending tracking record. The unique indexes on
// event_id and payload_hash turn a losing concurrent insert into
// security.ErrDuplicateEvent.
func (s *EventStore) Create(ctx context.Context, params security.CreateEventParams) (*models.WebhookEvent, error) {
	now := time.Now().UTC()
	event := models.WebhookEvent{
		ID:          uuid.New(),
		EventID:     params.EventID,
		EventType:   params.EventType,
		Source:      params.Source,
		APIVersion:  params.APIVersion,
		Status:      models.EventStatusPending,
		PayloadHash: params.PayloadHash,
		PayloadSize: params.PayloadSize,
		Payload:     params.Payload,
		MaxAttempts: s.maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, security.ErrDuplicateEvent
		}
		return nil, err
	}

	return &event, nil
}

// GetByID loads a tracking record
func (s *EventStore) GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := s.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// BeginProcessing claims the event for this processing attempt: a
// single conditional UPDATE that increments the attempt counter and
// stamps the attempt timestamps. RowsAffected == 0 means another
// delivery owns the event or it is no longer processable.
func (s *EventStore) BeginProcessing(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ? AND status IN ? AND processing_attempts < max_attempts",
			id, []string{models.EventStatusPending, models.EventStatusFailed}).
		Updates(map[string]interface{}{
			"status":              models.EventStatusProcessing,
			"processing_attempts": gorm.Expr("processing_attempts + 1"),
			"first_attempt_at":    gorm.Expr("COALESCE(first_attempt_at, ?)", now),
			"last_attempt_at":     now,
			"updated_at":          now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotProcessable
	}

	return s.GetByID(ctx, id)
}

// MarkProcessed records terminal success and attaches the resulting
// business records. Guarded on the processing status so only the owning
// attempt can complete the event.
func (s *EventStore) MarkProcessed(ctx context.Context, id uuid.UUID, orderID, customerID *uuid.UUID) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":       models.EventStatusProcessed,
		"processed_at": now,
		"updated_at":   now,
	}
	if orderID != nil {
		updates["related_order_id"] = *orderID
	}
	if customerID != nil {
		updates["related_customer_id"] = *customerID
	}

	res := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ? AND status IN ?", id,
			[]string{models.EventStatusProcessing, models.EventStatusPending}).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotProcessable
	}
	return nil
}

// MarkFailed records a failed attempt. nextAttemptAt schedules the
// retry scan; nil means the failure is not retryable and only an
// operator can move the event forward.
func (s *EventStore) MarkFailed(ctx context.Context, id uuid.UUID, message string, nextAttemptAt *time.Time) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":          models.EventStatusFailed,
		"error_message":   security.Sanitize(message),
		"error_count":     gorm.Expr("error_count + 1"),
		"next_attempt_at": nextAttemptAt,
		"updated_at":      now,
	}

	return s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// MarkQueued stamps the event as handed to the retry queue and pushes
// next_attempt_at forward so the next scan does not publish it again
// while the queued message is still in flight. If the message is lost
// the event becomes due again after the grace period.
func (s *EventStore) MarkQueued(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"queued_at":       now,
			"next_attempt_at": now.Add(5 * time.Minute),
			"updated_at":      now,
		}).Error
}

// DueForRetry returns failed events whose next attempt is due and that
// still have attempts remaining.
func (s *EventStore) DueForRetry(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := s.db.WithContext(ctx).
		Where("status = ? AND processing_attempts < max_attempts AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?",
			models.EventStatusFailed, time.Now().UTC()).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// List returns tracking records for the operator listing endpoint,
// newest first. Fetches one extra row to report has_more.
func (s *EventStore) List(ctx context.Context, limit, offset int) ([]models.WebhookEvent, bool, error) {
	var events []models.WebhookEvent
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit + 1).
		Offset(offset).
		Find(&events).Error
	if err != nil {
		return nil, false, err
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}
	return events, hasMore, nil
}
