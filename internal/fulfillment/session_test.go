package fulfillment

import (
	"encoding/json"
	"testing"
)

func TestParseSession(t *testing.T) {
	data := json.RawMessage(`{
		"object": {
			"id": "cs_test_1",
			"payment_intent": "pi_test_1",
			"amount_total": 5500,
			"customer": "cus_test_1",
			"metadata": {"customer_id": "abc", "shipping_address_id": "def"}
		}
	}`)

	session, err := ParseSession(data)
	if err != nil {
		t.Fatalf("parse session: %v", err)
	}
	if session.ID != "cs_test_1" || session.PaymentIntent != "pi_test_1" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if session.AmountTotal != 5500 {
		t.Fatalf("expected amount_total 5500, got %d", session.AmountTotal)
	}
	if session.Metadata["customer_id"] != "abc" {
		t.Fatalf("expected metadata to parse, got %+v", session.Metadata)
	}
}

func TestParseSessionInvalidJSON(t *testing.T) {
	if _, err := ParseSession(json.RawMessage(`{"object": [1,2]}`)); err == nil {
		t.Fatal("expected error for non-object session")
	}
}
