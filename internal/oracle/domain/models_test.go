package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name    string
		entry   Entry
		value   int64
		known   bool
		wantErr bool
	}{
		{"value field", Entry{Type: "performance", Payload: json.RawMessage(`{"value": 42}`)}, 42, true, false},
		{"score field", Entry{Type: "sentiment", Payload: json.RawMessage(`{"score": 77.9}`)}, 77, true, false},
		{"bare number", Entry{Type: "cross_chain", Payload: json.RawMessage(`12`)}, 12, true, false},
		{"clamped high", Entry{Type: "performance", Payload: json.RawMessage(`{"value": 250}`)}, 100, true, false},
		{"clamped low", Entry{Type: "performance", Payload: json.RawMessage(`{"value": -3}`)}, 0, true, false},
		{"unknown type", Entry{Type: "weather", Payload: json.RawMessage(`{"value": 5}`)}, 0, false, false},
		{"missing value", Entry{Type: "performance", Payload: json.RawMessage(`{"other": 5}`)}, 0, true, true},
		{"empty payload", Entry{Type: "performance"}, 0, true, true},
		{"garbage", Entry{Type: "performance", Payload: json.RawMessage(`"abc"`)}, 0, true, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			value, known, err := Parse(tc.entry)
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.value, value)
			assert.Equal(t, tc.known, known)
		})
	}
}
