package models

import (
	"testing"
	"time"
)

func TestWebhookEventIsProcessable(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		attempts int
		max      int
		want     bool
	}{
		{name: "pending with attempts left", status: EventStatusPending, attempts: 0, max: 3, want: true},
		{name: "failed with attempts left", status: EventStatusFailed, attempts: 2, max: 3, want: true},
		{name: "failed out of attempts", status: EventStatusFailed, attempts: 3, max: 3, want: false},
		{name: "processing owned elsewhere", status: EventStatusProcessing, attempts: 1, max: 3, want: false},
		{name: "processed is terminal", status: EventStatusProcessed, attempts: 1, max: 3, want: false},
		{name: "duplicate is terminal", status: EventStatusDuplicate, attempts: 0, max: 3, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := WebhookEvent{Status: tt.status, ProcessingAttempts: tt.attempts, MaxAttempts: tt.max}
			if got := e.IsProcessable(); got != tt.want {
				t.Fatalf("IsProcessable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWebhookEventIsTerminal(t *testing.T) {
	for _, status := range []string{EventStatusProcessed, EventStatusDuplicate} {
		e := WebhookEvent{Status: status}
		if !e.IsTerminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	for _, status := range []string{EventStatusPending, EventStatusProcessing, EventStatusFailed} {
		e := WebhookEvent{Status: status}
		if e.IsTerminal() {
			t.Fatalf("expected %s to not be terminal", status)
		}
	}
}

func TestWebhookEventRetryDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: 0},
		{attempts: 1, want: 2 * time.Second},
		{attempts: 2, want: 4 * time.Second},
		{attempts: 3, want: 8 * time.Second},
		{attempts: 7, want: 128 * time.Second},
		{attempts: 8, want: 256 * time.Second},
		{attempts: 9, want: MaxRetryDelay},
		{attempts: 20, want: MaxRetryDelay},
	}

	for _, tt := range tests {
		e := WebhookEvent{ProcessingAttempts: tt.attempts}
		if got := e.RetryDelay(); got != tt.want {
			t.Fatalf("RetryDelay() with %d attempts = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestParseStripeEventType(t *testing.T) {
	if got, ok := ParseStripeEventType("checkout.session.completed"); !ok || got != CheckoutSessionCompleted {
		t.Fatalf("expected recognized checkout.session.completed, got %q ok=%v", got, ok)
	}
	if got, ok := ParseStripeEventType("  Checkout.Session.Completed "); !ok || got != CheckoutSessionCompleted {
		t.Fatalf("expected case and space tolerant parse, got %q ok=%v", got, ok)
	}
	if _, ok := ParseStripeEventType("invoice.created"); ok {
		t.Fatal("expected invoice.created to be unrecognized")
	}

	if !CheckoutSessionCompleted.RequiresFulfillment() {
		t.Fatal("checkout.session.completed must require fulfillment")
	}
	for _, et := range []StripeEventType{PaymentIntentSucceeded, PaymentIntentFailed, ChargeRefunded, CustomerCreated} {
		if et.RequiresFulfillment() {
			t.Fatalf("%s must not require fulfillment", et)
		}
	}
}
