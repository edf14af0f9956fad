package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		base    time.Duration
		attempt int
		want    time.Duration
	}{
		{name: "first attempt uses base", base: time.Second, attempt: 1, want: time.Second},
		{name: "second doubles", base: time.Second, attempt: 2, want: 2 * time.Second},
		{name: "fourth", base: 5 * time.Second, attempt: 4, want: 40 * time.Second},
		{name: "zero base", base: 0, attempt: 3, want: 0},
		{name: "overflow capped", base: time.Hour, attempt: 200, want: time.Duration(1<<63 - 1)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, backoffDelay(tt.base, tt.attempt))
		})
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	type payload struct {
		OrderID string `json:"orderId"`
	}

	got, err := Decode[payload](Job{Type: "X", Payload: json.RawMessage(`{"orderId":"ORD-1"}`)})
	require.NoError(t, err)
	require.Equal(t, "ORD-1", got.OrderID)

	_, err = Decode[payload](Job{Type: "X", Payload: json.RawMessage(`{broken`)})
	require.Error(t, err)
	require.True(t, IsPermanent(err))
}

func TestPermanent(t *testing.T) {
	t.Parallel()

	require.NoError(t, Permanent(nil))

	base := errors.New("template missing")
	wrapped := fmt.Errorf("render: %w", Permanent(base))
	require.True(t, IsPermanent(wrapped))
	require.ErrorIs(t, wrapped, base)
	require.False(t, IsPermanent(base))
}
