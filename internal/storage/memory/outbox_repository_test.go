package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

func TestOutboxRepository_PullsInQueueOrder(t *testing.T) {
	repo := NewOutboxRepository()

	first, err := repo.Enqueue(domain.OutboxMessage{AggregateType: "order", AggregateID: "ORD-1", EventType: "ORDER_CREATED"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	second, err := repo.Enqueue(domain.OutboxMessage{AggregateType: "order", AggregateID: "ORD-1", EventType: "ESTIMATE_GENERATED"})
	require.NoError(t, err)

	pending, err := repo.PullPending(0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, first.ID, pending[0].ID)
	require.Equal(t, second.ID, pending[1].ID)

	oldest, err := repo.PullPending(1)
	require.NoError(t, err)
	require.Len(t, oldest, 1)
	require.Equal(t, first.ID, oldest[0].ID)
}

func TestOutboxRepository_SettledRecordsLeaveBacklog(t *testing.T) {
	repo := NewOutboxRepository()

	sent, _ := repo.Enqueue(domain.OutboxMessage{EventType: "ORDER_CREATED"})
	failed, _ := repo.Enqueue(domain.OutboxMessage{EventType: "ORDER_CANCELLED"})
	kept, _ := repo.Enqueue(domain.OutboxMessage{EventType: "ORDER_DELIVERED"})

	require.NoError(t, repo.MarkSent(sent.ID))
	require.NoError(t, repo.MarkFailed(failed.ID))

	pending, err := repo.PullPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, kept.ID, pending[0].ID)

	stats, err := repo.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)
	require.False(t, stats.OldestPendingAt.IsZero())
}

func TestOutboxRepository_RepeatedIDIsIgnored(t *testing.T) {
	repo := NewOutboxRepository()

	msg := domain.OutboxMessage{ID: "evt-1", EventType: "ORDER_CREATED"}
	_, err := repo.Enqueue(msg)
	require.NoError(t, err)
	require.NoError(t, repo.MarkSent("evt-1"))

	_, err = repo.Enqueue(msg)
	require.NoError(t, err)
	pending, err := repo.PullPending(10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestOutboxRepository_SettleUnknown(t *testing.T) {
	require.ErrorIs(t, NewOutboxRepository().MarkSent("missing"), domain.ErrOutboxPublish)
}
