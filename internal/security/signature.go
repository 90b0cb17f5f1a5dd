package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance is the maximum accepted clock skew between
// the claimed signing timestamp and the verifier's clock.
const DefaultSignatureTolerance = 300 * time.Second

// Distinct verification failures. They reach the audit log only; every
// one of them maps to CodeSignatureInvalid toward the sender, so the
// endpoint never leaks which gate rejected a forgery.
var (
	ErrMissingSignature  = errors.New("missing signature header")
	ErrMissingSecret     = errors.New("webhook secret not configured")
	ErrInvalidFormat     = errors.New("invalid signature format")
	ErrInvalidTimestamp  = errors.New("invalid timestamp in signature")
	ErrStaleTimestamp    = errors.New("timestamp outside tolerance window")
	ErrSignatureMismatch = errors.New("signature verification failed")
)

// VerifySignature checks a provider-compatible HMAC signature header of
// the form "t=<unix-ts>,v1=<hex-hmac>" against the raw payload and the
// shared secret. The timestamp binding defeats replay of captured
// requests; hmac.Equal defeats timing probes.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return ErrMissingSignature
	}
	if secret == "" {
		return ErrMissingSecret
	}
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}

	var timestamp, v1 string
	for _, element := range strings.Split(header, ",") {
		key, value, found := strings.Cut(element, "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			timestamp = value
		case "v1":
			v1 = value
		}
	}

	if timestamp == "" || v1 == "" {
		return ErrInvalidFormat
	}

	eventTime, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}

	skew := now.Unix() - eventTime
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(tolerance/time.Second) {
		return fmt.Errorf("%w: %ds", ErrStaleTimestamp, skew)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(v1)
	if err != nil {
		return ErrInvalidFormat
	}

	if !hmac.Equal(expected, provided) {
		return ErrSignatureMismatch
	}

	return nil
}

// SignPayload produces a signature header for the given payload, secret
// and timestamp. The inverse of VerifySignature; used by tests and by
// local tooling that replays captured events.
func SignPayload(payload []byte, secret string, ts time.Time) string {
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}
