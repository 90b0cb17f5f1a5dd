package security

// Machine-readable rejection codes. The code is the only detail a
// caller may surface to the webhook sender; the audit log keeps the
// specific reason.
const (
	CodePayloadTooLarge  = "payload_too_large"
	CodeSignatureInvalid = "signature_invalid"
	CodeMalformedRequest = "malformed_request"
	CodeInvalidStructure = "invalid_structure"
	CodeDuplicateEvent   = "duplicate_event"
	CodeProcessingError  = "processing_error"
)

// Error is the single typed error raised by the webhook security
// pipeline. Message is already sanitized when the error leaves the
// Manager.
type Error struct {
	Code     string
	Severity string
	Message  string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(code, severity, message string) *Error {
	return &Error{
		Code:     code,
		Severity: severity,
		Message:  Sanitize(message),
	}
}
