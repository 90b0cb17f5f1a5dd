package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventIDPrefix is the provider's ID namespace for events
const EventIDPrefix = "evt_"

var (
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidEventID   = errors.New("invalid event ID format")
	ErrInvalidObject    = errors.New("invalid object type")
	ErrInvalidFieldType = errors.New("invalid field type")
)

// Envelope carries the routing fields of a validated provider event.
// The payload under Data stays opaque to this layer; consumers decode
// it against their own schemas.
type Envelope struct {
	ID         string
	Type       string
	Object     string
	APIVersion string
	Data       json.RawMessage
}

// ParseEvent decodes the raw payload into a JSON object. A decode
// failure (including a non-object top level) is a malformed request,
// distinct from a structurally invalid one.
func ParseEvent(payload []byte) (map[string]json.RawMessage, error) {
	var event map[string]json.RawMessage
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return event, nil
}

// ValidateEnvelope type-checks the minimal fields required to route an
// event: id, type, data and object must be present, the ID must live in
// the provider's evt_ namespace, and object must be the literal "event".
func ValidateEnvelope(event map[string]json.RawMessage) (*Envelope, error) {
	for _, field := range []string{"id", "type", "data", "object"} {
		if _, ok := event[field]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, field)
		}
	}

	env := &Envelope{Data: event["data"]}

	if err := json.Unmarshal(event["id"], &env.ID); err != nil {
		return nil, fmt.Errorf("%w: id", ErrInvalidFieldType)
	}
	if err := json.Unmarshal(event["type"], &env.Type); err != nil {
		return nil, fmt.Errorf("%w: type", ErrInvalidFieldType)
	}
	if err := json.Unmarshal(event["object"], &env.Object); err != nil {
		return nil, fmt.Errorf("%w: object", ErrInvalidFieldType)
	}
	if raw, ok := event["api_version"]; ok {
		// optional; tolerate absence but not a wrong type
		if err := json.Unmarshal(raw, &env.APIVersion); err != nil {
			return nil, fmt.Errorf("%w: api_version", ErrInvalidFieldType)
		}
	}

	if env.ID == "" || !strings.HasPrefix(env.ID, EventIDPrefix) {
		return nil, ErrInvalidEventID
	}
	if env.Object != "event" {
		return nil, ErrInvalidObject
	}

	return env, nil
}
