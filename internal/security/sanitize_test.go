package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "secret key",
			in:   "auth failed for sk_live_abc123",
			want: "auth failed for [REDACTED]",
		},
		{
			name: "webhook secret",
			in:   "expected whsec_9f8e7d but signature differs",
			want: "expected [REDACTED] but signature differs",
		},
		{
			name: "publishable and restricted keys",
			in:   "pk_test_1 rk_live_2",
			want: "[REDACTED] [REDACTED]",
		},
		{
			name: "card shaped number",
			in:   "declined card 4242 4242 4242 4242",
			want: "declined card [REDACTED]",
		},
		{
			name: "card number with dashes",
			in:   "card 4242-4242-4242-4242 expired",
			want: "card [REDACTED] expired",
		},
		{
			name: "ssn shaped number",
			in:   "field contained 123-45-6789",
			want: "field contained [REDACTED]",
		},
		{
			name: "clean message untouched",
			in:   "customer has no cart",
			want: "customer has no cart",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}
