package security

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent(t *testing.T) {
	event, err := ParseEvent([]byte(`{"id":"evt_1","type":"x"}`))
	require.NoError(t, err)
	assert.Contains(t, event, "id")

	_, err = ParseEvent([]byte(`{not json`))
	assert.Error(t, err)

	// Non-object top level is malformed, not merely invalid structure
	_, err = ParseEvent([]byte(`[1,2,3]`))
	assert.Error(t, err)
}

func TestValidateEnvelope(t *testing.T) {
	valid := `{
		"id": "evt_1a2b3c",
		"object": "event",
		"type": "checkout.session.completed",
		"api_version": "2023-10-16",
		"data": {"object": {"id": "cs_test_1"}}
	}`

	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{name: "valid envelope", payload: valid},
		{
			name:    "missing id",
			payload: `{"object":"event","type":"x","data":{}}`,
			wantErr: ErrMissingField,
		},
		{
			name:    "missing data",
			payload: `{"id":"evt_1","object":"event","type":"x"}`,
			wantErr: ErrMissingField,
		},
		{
			name:    "id without provider prefix",
			payload: `{"id":"cs_1","object":"event","type":"x","data":{}}`,
			wantErr: ErrInvalidEventID,
		},
		{
			name:    "empty id",
			payload: `{"id":"","object":"event","type":"x","data":{}}`,
			wantErr: ErrInvalidEventID,
		},
		{
			name:    "wrong object literal",
			payload: `{"id":"evt_1","object":"charge","type":"x","data":{}}`,
			wantErr: ErrInvalidObject,
		},
		{
			name:    "id is not a string",
			payload: `{"id":42,"object":"event","type":"x","data":{}}`,
			wantErr: ErrInvalidFieldType,
		},
		{
			name:    "api_version wrong type",
			payload: `{"id":"evt_1","object":"event","type":"x","api_version":7,"data":{}}`,
			wantErr: ErrInvalidFieldType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := ParseEvent([]byte(tt.payload))
			require.NoError(t, err)

			env, err := ValidateEnvelope(event)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, "evt_1a2b3c", env.ID)
				assert.Equal(t, "checkout.session.completed", env.Type)
				assert.Equal(t, "2023-10-16", env.APIVersion)
				assert.NotEmpty(t, env.Data)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
		})
	}
}
