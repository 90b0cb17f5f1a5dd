package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pasargadprints/webhook-svc/internal/models"
)

// RequestInfo is the transport metadata attached to every audit entry
type RequestInfo struct {
	IPAddress string
	UserAgent string
	Method    string
	Path      string
}

// AuditEntry is one security-relevant decision, written to the
// append-only security log at every step of the pipeline.
type AuditEntry struct {
	EventType        string
	Severity         string
	Request          RequestInfo
	Source           string
	WebhookEventID   string
	WebhookEventType string
	SignatureValid   *bool
	PayloadSize      int
	PayloadHash      string
	ErrorMessage     string
	ErrorCode        string
	Metadata         map[string]any
}

// CreateEventParams carries the fields of a new tracking record
type CreateEventParams struct {
	EventID     string
	EventType   string
	Source      string
	APIVersion  string
	PayloadHash string
	PayloadSize int
	Payload     []byte
}

// ErrDuplicateEvent is returned by IdempotencyStore.Create when the
// insert loses to a concurrent delivery of the same event. The manager
// treats it exactly like a duplicate found at lookup time.
var ErrDuplicateEvent = errors.New("duplicate webhook event")

// IdempotencyStore is the durable table of previously seen events.
// CheckDuplicate returns the existing record for a re-delivery; a
// still-processable record (pending, or failed with attempts left) is
// returned with isDuplicate false so the delivery re-attempts
// processing instead of being swallowed.
type IdempotencyStore interface {
	CheckDuplicate(ctx context.Context, eventID, payloadHash string) (bool, *models.WebhookEvent, error)
	Create(ctx context.Context, params CreateEventParams) (*models.WebhookEvent, error)
}

// AuditLog appends security decisions. Implementations never mutate or
// delete prior entries.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// Config holds the tunables of the security pipeline
type Config struct {
	Secret      string
	Source      string
	MaxPayload  int
	Tolerance   time.Duration
	MaxAttempts int
}

// Manager composes the payload guard, signature verifier, structure
// validator and idempotency store into the single inbound pipeline.
// It has no dependency on business-effect code; callers wire the
// fulfillment side on top of the record it returns.
type Manager struct {
	cfg    Config
	guard  Guard
	events IdempotencyStore
	audit  AuditLog
	logger *zap.Logger
	now    func() time.Time
}

func NewManager(cfg Config, events IdempotencyStore, audit AuditLog, logger *zap.Logger) *Manager {
	if cfg.Source == "" {
		cfg.Source = "stripe"
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultSignatureTolerance
	}
	return &Manager{
		cfg:    cfg,
		guard:  NewGuard(cfg.MaxPayload),
		events: events,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// ProcessWebhook runs the full security pipeline over a raw delivery,
// in strict order: size, hash, signature, JSON parse, envelope,
// duplicate check, tracking-record creation. Every rejection path
// writes an audit entry before returning. On success the returned
// record is pending; for a legitimate re-attempt of a failed event the
// existing record is returned instead of a fresh one.
func (m *Manager) ProcessWebhook(ctx context.Context, payload []byte, signature string, req RequestInfo) (*Envelope, *models.WebhookEvent, error) {
	// Step 1: size bound, before anything touches the bytes
	if !m.guard.ValidateSize(payload) {
		m.record(ctx, AuditEntry{
			EventType:    models.SecurityEventInvalidPayload,
			Severity:     models.SeverityHigh,
			Request:      req,
			Source:       m.cfg.Source,
			PayloadSize:  len(payload),
			ErrorCode:    CodePayloadTooLarge,
			ErrorMessage: fmt.Sprintf("payload size exceeds limit: %d bytes", len(payload)),
		})
		return nil, nil, newError(CodePayloadTooLarge, models.SeverityHigh, "payload size exceeds maximum limit")
	}

	// Step 2: content digest of the raw bytes
	payloadHash := m.guard.ComputeHash(payload)

	// Step 3: signature. Must run before any JSON parsing of untrusted
	// content; the detailed reason stays in the audit log.
	if err := VerifySignature(payload, signature, m.cfg.Secret, m.cfg.Tolerance, m.now()); err != nil {
		invalid := false
		m.record(ctx, AuditEntry{
			EventType:      models.SecurityEventSignatureFailed,
			Severity:       models.SeverityHigh,
			Request:        req,
			Source:         m.cfg.Source,
			SignatureValid: &invalid,
			PayloadSize:    len(payload),
			PayloadHash:    payloadHash,
			ErrorCode:      CodeSignatureInvalid,
			ErrorMessage:   err.Error(),
		})
		return nil, nil, newError(CodeSignatureInvalid, models.SeverityHigh, "signature verification failed")
	}

	// Step 4: JSON parse
	event, err := ParseEvent(payload)
	if err != nil {
		m.record(ctx, AuditEntry{
			EventType:    models.SecurityEventMalformedRequest,
			Severity:     models.SeverityMedium,
			Request:      req,
			Source:       m.cfg.Source,
			PayloadSize:  len(payload),
			PayloadHash:  payloadHash,
			ErrorCode:    CodeMalformedRequest,
			ErrorMessage: fmt.Sprintf("JSON decode error: %v", err),
		})
		return nil, nil, newError(CodeMalformedRequest, models.SeverityMedium, "invalid JSON payload")
	}

	// Step 5: envelope structure
	env, err := ValidateEnvelope(event)
	if err != nil {
		m.record(ctx, AuditEntry{
			EventType:    models.SecurityEventInvalidPayload,
			Severity:     models.SeverityMedium,
			Request:      req,
			Source:       m.cfg.Source,
			PayloadSize:  len(payload),
			PayloadHash:  payloadHash,
			ErrorCode:    CodeInvalidStructure,
			ErrorMessage: err.Error(),
		})
		return nil, nil, newError(CodeInvalidStructure, models.SeverityMedium, "invalid event structure")
	}

	// Step 6: duplicate detection, dual-keyed on event ID and content hash
	isDuplicate, existing, err := m.events.CheckDuplicate(ctx, env.ID, payloadHash)
	if err != nil {
		return nil, nil, m.processingError(ctx, req, len(payload), payloadHash, err)
	}
	if isDuplicate {
		m.record(ctx, AuditEntry{
			EventType:        models.SecurityEventDuplicateEvent,
			Severity:         models.SeverityMedium,
			Request:          req,
			Source:           m.cfg.Source,
			WebhookEventID:   env.ID,
			WebhookEventType: env.Type,
			PayloadSize:      len(payload),
			PayloadHash:      payloadHash,
			ErrorCode:        CodeDuplicateEvent,
		})
		return nil, nil, newError(CodeDuplicateEvent, models.SeverityMedium, "duplicate event detected")
	}
	if existing != nil {
		// Still-processable record: this delivery is a legitimate
		// re-attempt; the processing claim decides who runs it.
		m.success(ctx, req, env, existing, map[string]any{"action": "reattempt"})
		return env, existing, nil
	}

	// Step 7: create the tracking record. A losing concurrent insert
	// surfaces as ErrDuplicateEvent and is handled like a lookup-time
	// duplicate.
	created, err := m.events.Create(ctx, CreateEventParams{
		EventID:     env.ID,
		EventType:   env.Type,
		Source:      m.cfg.Source,
		APIVersion:  env.APIVersion,
		PayloadHash: payloadHash,
		PayloadSize: len(payload),
		Payload:     payload,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			m.record(ctx, AuditEntry{
				EventType:        models.SecurityEventDuplicateEvent,
				Severity:         models.SeverityMedium,
				Request:          req,
				Source:           m.cfg.Source,
				WebhookEventID:   env.ID,
				WebhookEventType: env.Type,
				PayloadSize:      len(payload),
				PayloadHash:      payloadHash,
				ErrorCode:        CodeDuplicateEvent,
				Metadata:         map[string]any{"detected_at": "insert"},
			})
			return nil, nil, newError(CodeDuplicateEvent, models.SeverityMedium, "duplicate event detected")
		}
		return nil, nil, m.processingError(ctx, req, len(payload), payloadHash, err)
	}

	m.success(ctx, req, env, created, map[string]any{"action": "event_created"})
	return env, created, nil
}

func (m *Manager) success(ctx context.Context, req RequestInfo, env *Envelope, event *models.WebhookEvent, metadata map[string]any) {
	valid := true
	m.record(ctx, AuditEntry{
		EventType:        models.SecurityEventSuccess,
		Severity:         models.SeverityLow,
		Request:          req,
		Source:           m.cfg.Source,
		WebhookEventID:   env.ID,
		WebhookEventType: env.Type,
		SignatureValid:   &valid,
		PayloadSize:      event.PayloadSize,
		PayloadHash:      event.PayloadHash,
		Metadata:         metadata,
	})
}

func (m *Manager) processingError(ctx context.Context, req RequestInfo, payloadSize int, payloadHash string, err error) error {
	m.record(ctx, AuditEntry{
		EventType:    models.SecurityEventProcessingError,
		Severity:     models.SeverityHigh,
		Request:      req,
		Source:       m.cfg.Source,
		PayloadSize:  payloadSize,
		PayloadHash:  payloadHash,
		ErrorCode:    CodeProcessingError,
		ErrorMessage: Sanitize(err.Error()),
		Metadata:     map[string]any{"exception_type": fmt.Sprintf("%T", err)},
	})
	return newError(CodeProcessingError, models.SeverityHigh, "unexpected processing error")
}

// record writes an audit entry. The pipeline's verdict never depends on
// the audit write itself; a failed write is logged and the decision
// stands.
func (m *Manager) record(ctx context.Context, entry AuditEntry) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Record(ctx, entry); err != nil && m.logger != nil {
		m.logger.Error("Failed to write security audit entry",
			zap.String("event_type", entry.EventType),
			zap.Error(err),
		)
	}
}
