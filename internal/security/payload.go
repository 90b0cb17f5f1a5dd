package security

import (
	"crypto/sha256"
	"encoding/hex"
)

// DefaultMaxPayloadSize is the provider's documented payload ceiling (1 MiB)
const DefaultMaxPayloadSize = 1024 * 1024

// Guard enforces the raw-payload limits before any parsing happens
type Guard struct {
	MaxPayloadSize int
}

func NewGuard(maxPayloadSize int) Guard {
	if maxPayloadSize <= 0 {
		maxPayloadSize = DefaultMaxPayloadSize
	}
	return Guard{MaxPayloadSize: maxPayloadSize}
}

// ValidateSize reports whether the payload fits within the configured
// limit. Runs before any other inspection of the bytes.
func (g Guard) ValidateSize(payload []byte) bool {
	return len(payload) <= g.MaxPayloadSize
}

// ComputeHash returns the SHA-256 hex digest of the raw payload bytes.
// The digest doubles as the secondary duplicate-detection key: the same
// content resubmitted under a forged event ID still collides here.
func (g Guard) ComputeHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
