package postgres

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

func orderEvent(orderID, eventType string) domain.OutboxMessage {
	return domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "t1/" + orderID,
		EventType:     eventType,
		Payload:       []byte(`{"orderId":"` + orderID + `"}`),
	}
}

func TestOutboxRepository_PostgresRelayCycle(t *testing.T) {
	repo := NewOutboxRepository(freshSchemaForTest(t))

	created, err := repo.Enqueue(orderEvent("ORD-1", "ORDER_CREATED"))
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	paid := orderEvent("ORD-1", "PAYMENT_SUCCESS")
	paid.ID = "evt-paid"
	_, err = repo.Enqueue(paid)
	require.NoError(t, err)

	// Повторная запись того же события не плодит дубликат.
	_, err = repo.Enqueue(paid)
	require.NoError(t, err)

	pending, err := repo.PullPending(0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, created.ID, pending[0].ID)
	require.JSONEq(t, `{"orderId":"ORD-1"}`, string(pending[1].Payload))

	stats, err := repo.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, stats.PendingCount)
	require.False(t, stats.OldestPendingAt.IsZero())

	require.NoError(t, repo.MarkSent(created.ID))
	require.NoError(t, repo.MarkFailed("evt-paid"))

	pending, err = repo.PullPending(10)
	require.NoError(t, err)
	require.Empty(t, pending)

	stats, err = repo.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
	require.True(t, stats.OldestPendingAt.IsZero())
}

func TestOutboxRepository_PostgresUnknownID(t *testing.T) {
	repo := NewOutboxRepository(freshSchemaForTest(t))

	require.ErrorIs(t, repo.MarkSent("nope"), domain.ErrOutboxPublish)
	require.ErrorIs(t, repo.MarkFailed("nope"), domain.ErrOutboxPublish)
}
