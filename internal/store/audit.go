package store

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pasargadprints/webhook-svc/internal/models"
	"github.com/pasargadprints/webhook-svc/internal/security"
)

// AuditLog persists security decisions as append-only rows. Nothing in
// normal operation updates or deletes them.
type AuditLog struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewAuditLog(db *gorm.DB, logger *zap.Logger) *AuditLog {
	return &AuditLog{db: db, logger: logger}
}

// Record appends one WebhookSecurityLog row
func (a *AuditLog) Record(ctx context.Context, entry security.AuditEntry) error {
	row := models.WebhookSecurityLog{
		EventType:        entry.EventType,
		Severity:         entry.Severity,
		IPAddress:        entry.Request.IPAddress,
		UserAgent:        entry.Request.UserAgent,
		RequestMethod:    entry.Request.Method,
		RequestPath:      entry.Request.Path,
		Source:           entry.Source,
		WebhookEventID:   entry.WebhookEventID,
		WebhookEventType: entry.WebhookEventType,
		SignatureValid:   entry.SignatureValid,
		PayloadSize:      entry.PayloadSize,
		PayloadHash:      entry.PayloadHash,
		ErrorMessage:     security.Sanitize(entry.ErrorMessage),
		ErrorCode:        entry.ErrorCode,
		Metadata:         entry.Metadata,
		CreatedAt:        time.Now().UTC(),
	}

	return a.db.WithContext(ctx).Create(&row).Error
}
