package security

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuardValidateSize(t *testing.T) {
	guard := NewGuard(1024)

	assert.True(t, guard.ValidateSize(nil))
	assert.True(t, guard.ValidateSize(bytes.Repeat([]byte("a"), 1024)))
	assert.False(t, guard.ValidateSize(bytes.Repeat([]byte("a"), 1025)))
}

func TestNewGuardDefault(t *testing.T) {
	guard := NewGuard(0)
	assert.Equal(t, DefaultMaxPayloadSize, guard.MaxPayloadSize)
}

func TestGuardComputeHash(t *testing.T) {
	guard := NewGuard(0)

	a := guard.ComputeHash([]byte(`{"id":"evt_1"}`))
	b := guard.ComputeHash([]byte(`{"id":"evt_1"}`))
	c := guard.ComputeHash([]byte(`{"id":"evt_2"}`))

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
