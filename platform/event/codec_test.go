package event

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_PreservesLargeAmounts(t *testing.T) {
	in := ReservePayment{OrderID: "order-1", UserID: "user-1", Amount: 1<<62 + 7}

	body, err := Encode(in)
	require.NoError(t, err)

	got, err := Decode(body)
	require.NoError(t, err)
	require.Equal(t, KindReservePayment, got.Kind)
	require.Equal(t, "order-1", got.CorrelationID)
	require.Equal(t, SchemaVersion, got.Version)
	require.NotEmpty(t, got.EventID)
	require.Equal(t, in, got.Event)
}

func TestEncodeDecode_StockItemsKeepOrder(t *testing.T) {
	in := ReserveStock{OrderID: "order-2", Items: []LineItem{
		{ItemID: "b", Quantity: 1},
		{ItemID: "a", Quantity: 3},
		{ItemID: "b", Quantity: 2},
	}}

	body, err := Encode(in)
	require.NoError(t, err)

	got, err := Decode(body)
	require.NoError(t, err)
	require.Equal(t, in, got.Event)
	require.Equal(t, TopicStock, TopicOf(got.Event))
}

func TestEncode_RejectsInvalidEvent(t *testing.T) {
	_, err := Encode(ReserveStock{OrderID: "order-3"})
	require.Error(t, err)

	_, err = Encode(PaymentRejected{OrderID: "order-3"})
	require.Error(t, err)
}

func envelope(t *testing.T, kind Kind, version int, correlationID string, payload string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event_id":       "evt-1",
		"kind":           kind,
		"version":        version,
		"correlation_id": correlationID,
		"occurred_at":    "2026-01-02T03:04:05Z",
		"payload":        json.RawMessage(payload),
	})
	require.NoError(t, err)
	return body
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		body  []byte
		field string
	}{
		{
			name:  "not json",
			body:  []byte("{'name': 'Reserve payment'}"),
			field: "envelope",
		},
		{
			name:  "unknown kind",
			body:  envelope(t, "Reserve payment", 1, "order-1", `{"order_id":"order-1"}`),
			field: "kind",
		},
		{
			name:  "unsupported version",
			body:  envelope(t, KindPaymentReserved, 2, "order-1", `{"order_id":"order-1"}`),
			field: "version",
		},
		{
			name:  "missing correlation id",
			body:  envelope(t, KindPaymentReserved, 1, "", `{"order_id":"order-1"}`),
			field: "correlation_id",
		},
		{
			name:  "amount as string",
			body:  envelope(t, KindReservePayment, 1, "order-1", `{"order_id":"order-1","user_id":"u","amount":"15"}`),
			field: "payload",
		},
		{
			name:  "field from another kind",
			body:  envelope(t, KindReserveStock, 1, "order-1", `{"order_id":"order-1","stock_items":[{"item_id":"a","quantity":1}]}`),
			field: "payload",
		},
		{
			name:  "zero quantity",
			body:  envelope(t, KindReserveStock, 1, "order-1", `{"order_id":"order-1","items":[{"item_id":"a","quantity":0}]}`),
			field: "payload",
		},
		{
			name:  "rejection without reason",
			body:  envelope(t, KindStockRejected, 1, "order-1", `{"order_id":"order-1"}`),
			field: "payload",
		},
		{
			name:  "correlation id differs from payload",
			body:  envelope(t, KindStockReserved, 1, "order-2", `{"order_id":"order-1"}`),
			field: "correlation_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.body)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrMalformed), "expected ErrMalformed, got %v", err)

			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			require.Equal(t, tt.field, pe.Field)
		})
	}
}

func TestTopic(t *testing.T) {
	require.Equal(t, TopicPayment, Topic(KindReleasePayment))
	require.Equal(t, TopicStock, Topic(KindReleaseStock))
	require.Equal(t, TopicOrder, Topic(KindStockRejected))
	require.Empty(t, Topic("unknown"))
}
