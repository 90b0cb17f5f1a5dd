package fulfillment

import (
	"encoding/json"
)

// CheckoutSession is the slice of the provider's checkout session
// object this handler consumes. Everything else in the payload stays
// opaque.
type CheckoutSession struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	AmountTotal   int64             `json:"amount_total"`
	Customer      string            `json:"customer"`
	Metadata      map[string]string `json:"metadata"`
}

// ParseSession extracts the checkout session from a validated event's
// data field ({"object": {...}}).
func ParseSession(data json.RawMessage) (*CheckoutSession, error) {
	var wrapper struct {
		Object CheckoutSession `json:"object"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	return &wrapper.Object, nil
}
