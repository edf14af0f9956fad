package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func addJob(t *testing.T, backend *MemoryBackend, id string, priority int, runAt, createdAt time.Time) {
	t.Helper()
	require.NoError(t, backend.Add(context.Background(), Job{
		ID:          id,
		Type:        "TEST",
		Priority:    priority,
		MaxAttempts: 3,
		RunAt:       runAt,
		CreatedAt:   createdAt,
	}))
}

func TestMemoryBackend_ClaimOrdersByPriorityThenFIFO(t *testing.T) {
	t.Parallel()

	backend := NewMemoryBackend()
	now := time.Now().UTC()
	addJob(t, backend, "low-1", 5, now, now)
	addJob(t, backend, "high", 1, now, now)
	addJob(t, backend, "low-2", 5, now, now)

	var order []string
	for i := 0; i < 3; i++ {
		job, ok, err := backend.Claim(context.Background(), now, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, StateActive, job.State)
		require.Equal(t, 1, job.Attempts)
		order = append(order, job.ID)
	}
	require.Equal(t, []string{"high", "low-1", "low-2"}, order)

	_, ok, err := backend.Claim(context.Background(), now, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryBackend_DelayedJobWaitsUntilDue(t *testing.T) {
	t.Parallel()

	backend := NewMemoryBackend()
	now := time.Now().UTC()
	addJob(t, backend, "later", 0, now.Add(time.Hour), now)

	job, err := backend.Get(context.Background(), "later")
	require.NoError(t, err)
	require.Equal(t, StateDelayed, job.State)

	_, ok, err := backend.Claim(context.Background(), now, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	claimed, ok, err := backend.Claim(context.Background(), now.Add(time.Hour), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "later", claimed.ID)
}

func TestMemoryBackend_AddDuplicate(t *testing.T) {
	t.Parallel()

	backend := NewMemoryBackend()
	now := time.Now().UTC()
	addJob(t, backend, "job-1", 0, now, now)

	err := backend.Add(context.Background(), Job{ID: "job-1", RunAt: now, CreatedAt: now})
	require.ErrorIs(t, err, ErrJobExists)
}

func TestMemoryBackend_RequeueExpiredLease(t *testing.T) {
	t.Parallel()

	backend := NewMemoryBackend()
	now := time.Now().UTC()
	addJob(t, backend, "stuck", 0, now, now)

	_, ok, err := backend.Claim(context.Background(), now, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	requeued, err := backend.RequeueExpired(context.Background(), now.Add(30*time.Second))
	require.NoError(t, err)
	require.Zero(t, requeued)

	requeued, err = backend.RequeueExpired(context.Background(), now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, requeued)

	job, err := backend.Get(context.Background(), "stuck")
	require.NoError(t, err)
	require.Equal(t, StateWaiting, job.State)
	require.Equal(t, 1, job.Attempts)
}

func TestMemoryBackend_TrimCompletedKeepsNewest(t *testing.T) {
	t.Parallel()

	backend := NewMemoryBackend()
	now := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		addJob(t, backend, id, 0, now, now)
		job, ok, err := backend.Claim(context.Background(), now, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		job.FinishedAt = now.Add(time.Duration(i) * time.Second)
		require.NoError(t, backend.Complete(context.Background(), job))
	}

	trimmed, err := backend.TrimCompleted(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 1, trimmed)

	_, err = backend.Get(context.Background(), "a")
	require.ErrorIs(t, err, ErrJobNotFound)

	stats, err := backend.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Completed)
}

func TestMemoryBackend_FinishUnknownJob(t *testing.T) {
	t.Parallel()

	backend := NewMemoryBackend()
	require.ErrorIs(t, backend.Complete(context.Background(), Job{ID: "ghost"}), ErrJobNotFound)
	require.ErrorIs(t, backend.Fail(context.Background(), Job{ID: "ghost"}), ErrJobNotFound)
}
