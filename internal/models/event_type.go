package models

import (
	"strings"
)

// StripeEventType is the closed set of provider event names this
// service recognizes. Anything outside the set is acknowledged and
// marked processed without side effects, so an unknown type can never
// be silently mis-handled or retried forever.
type StripeEventType string

const (
	CheckoutSessionCompleted StripeEventType = "checkout.session.completed"
	PaymentIntentSucceeded   StripeEventType = "payment_intent.succeeded"
	PaymentIntentFailed      StripeEventType = "payment_intent.payment_failed"
	ChargeRefunded           StripeEventType = "charge.refunded"
	CustomerCreated          StripeEventType = "customer.created"
)

var knownEventTypes = []StripeEventType{
	CheckoutSessionCompleted,
	PaymentIntentSucceeded,
	PaymentIntentFailed,
	ChargeRefunded,
	CustomerCreated,
}

// ParseStripeEventType parses a provider event name. The second return
// value reports whether the name is in the recognized set.
func ParseStripeEventType(name string) (StripeEventType, bool) {
	name = strings.ToLower(strings.TrimSpace(name))

	for _, eventType := range knownEventTypes {
		if string(eventType) == name {
			return eventType, true
		}
	}

	return StripeEventType(name), false
}

// RequiresFulfillment reports whether the event carries a business
// effect. Only a completed checkout session creates or finalizes an
// order; the other recognized types are informational here.
func (t StripeEventType) RequiresFulfillment() bool {
	return t == CheckoutSessionCompleted
}
