package models

import (
	"time"

	"github.com/google/uuid"
)

// Webhook event lifecycle statuses
const (
	EventStatusPending    = "pending"
	EventStatusProcessing = "processing"
	EventStatusProcessed  = "processed"
	EventStatusFailed     = "failed"
	EventStatusDuplicate  = "duplicate"
)

// MaxRetryDelay caps the exponential backoff between processing attempts
const MaxRetryDelay = 300 * time.Second

// WebhookEvent tracks every provider event ever seen. One row per
// provider event ID; rows are never deleted (audit retention). The
// unique indexes on event_id and payload_hash are what make the
// duplicate check safe under concurrent deliveries.
type WebhookEvent struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	EventID     string    `gorm:"not null;uniqueIndex" json:"event_id"`
	EventType   string    `gorm:"not null" json:"event_type"`
	Source      string    `gorm:"not null;default:'stripe'" json:"source"`
	APIVersion  string    `json:"api_version"`
	Status      string    `gorm:"not null;default:'pending'" json:"status"`
	PayloadHash string    `gorm:"size:64;not null;uniqueIndex" json:"payload_hash"`
	PayloadSize int       `gorm:"not null" json:"payload_size"`
	// Raw verified payload, kept so failed events can be re-processed
	// without a redelivery from the sender.
	Payload            []byte     `gorm:"not null" json:"-"`
	ProcessingAttempts int        `gorm:"not null;default:0" json:"processing_attempts"`
	MaxAttempts        int        `gorm:"not null;default:3" json:"max_attempts"`
	FirstAttemptAt     *time.Time `json:"first_attempt_at"`
	LastAttemptAt      *time.Time `json:"last_attempt_at"`
	ProcessedAt        *time.Time `json:"processed_at"`
	NextAttemptAt      *time.Time `json:"next_attempt_at"`
	QueuedAt           *time.Time `json:"queued_at"`
	RelatedOrderID     *uuid.UUID `gorm:"type:uuid" json:"related_order_id"`
	RelatedCustomerID  *uuid.UUID `gorm:"type:uuid" json:"related_customer_id"`
	ErrorMessage       *string    `json:"error_message"`
	ErrorCount         int        `gorm:"not null;default:0" json:"error_count"`
	CreatedAt          time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"not null" json:"updated_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// IsProcessable reports whether a processing attempt may be started.
// Processed and duplicate are terminal; processing means another
// delivery owns the event right now.
func (e *WebhookEvent) IsProcessable() bool {
	if e.Status != EventStatusPending && e.Status != EventStatusFailed {
		return false
	}
	return e.ProcessingAttempts < e.MaxAttempts
}

// IsTerminal reports whether no further effect application is permitted
func (e *WebhookEvent) IsTerminal() bool {
	return e.Status == EventStatusProcessed || e.Status == EventStatusDuplicate
}

// RetryDelay returns the backoff before the next processing attempt:
// zero before the first attempt, then 2^attempts seconds capped at
// MaxRetryDelay. Bounds retry storms while keeping the first retry fast.
func (e *WebhookEvent) RetryDelay() time.Duration {
	if e.ProcessingAttempts <= 0 {
		return 0
	}
	delay := time.Duration(1<<uint(e.ProcessingAttempts)) * time.Second
	if delay > MaxRetryDelay {
		return MaxRetryDelay
	}
	return delay
}
