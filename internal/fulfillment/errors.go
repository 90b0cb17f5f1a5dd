package fulfillment

import (
	"errors"
	"fmt"
)

// Fulfillment failure codes. Data errors are non-retryable: redelivering
// the same event cannot conjure a missing cart or metadata field, so an
// operator has to intervene. Storage errors are transient and feed the
// retry pipeline.
const (
	CodeMissingMetadata  = "missing_metadata"
	CodeCustomerNotFound = "customer_not_found"
	CodeCartNotFound     = "cart_not_found"
	CodeCartEmpty        = "cart_empty"
	CodeStockShortage    = "stock_shortage"
	CodeInvalidSession   = "invalid_session"
	CodeStorage          = "storage_error"
)

// Error is a typed fulfillment failure
type Error struct {
	Code      string
	Retryable bool
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func dataError(code, message string) *Error {
	return &Error{Code: code, Retryable: false, Message: message}
}

func storageError(message string, err error) *Error {
	return &Error{Code: CodeStorage, Retryable: true, Message: message, Err: err}
}

// IsRetryable reports whether a later attempt could succeed
func IsRetryable(err error) bool {
	var ferr *Error
	if errors.As(err, &ferr) {
		return ferr.Retryable
	}
	return true
}
