package models

import (
	"time"
)

// Security log event types
const (
	SecurityEventSignatureFailed    = "signature_verification_failed"
	SecurityEventInvalidPayload     = "invalid_payload"
	SecurityEventRateLimitExceeded  = "rate_limit_exceeded"
	SecurityEventSuspiciousActivity = "suspicious_activity"
	SecurityEventUnauthorizedAccess = "unauthorized_access"
	SecurityEventMalformedRequest   = "malformed_request"
	SecurityEventDuplicateEvent     = "duplicate_event"
	SecurityEventProcessingError    = "processing_error"
	SecurityEventSuccess            = "success"
)

// Security log severities
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// WebhookSecurityLog is one row per security-relevant decision.
// Append-only: rows are created synchronously at each decision point of
// the pipeline and never mutated or deleted afterwards.
type WebhookSecurityLog struct {
	ID               int64          `gorm:"primary_key;autoIncrement" json:"id"`
	EventType        string         `gorm:"not null;index" json:"event_type"`
	Severity         string         `gorm:"not null" json:"severity"`
	IPAddress        string         `json:"ip_address"`
	UserAgent        string         `json:"user_agent"`
	RequestMethod    string         `json:"request_method"`
	RequestPath      string         `json:"request_path"`
	Source           string         `gorm:"default:'stripe'" json:"source"`
	WebhookEventID   string         `gorm:"index" json:"webhook_event_id"`
	WebhookEventType string         `json:"webhook_event_type"`
	SignatureValid   *bool          `json:"signature_valid"`
	PayloadSize      int            `json:"payload_size"`
	PayloadHash      string         `gorm:"size:64" json:"payload_hash"`
	ErrorMessage     string         `json:"error_message"`
	ErrorCode        string         `json:"error_code"`
	Metadata         map[string]any `gorm:"serializer:json" json:"metadata"`
	CreatedAt        time.Time      `gorm:"not null;index" json:"created_at"`
}

func (WebhookSecurityLog) TableName() string {
	return "webhook_security_log"
}
