package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueue_EnqueueAppliesDefaults(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(NewMemoryBackend(), clock)

	job, err := q.Enqueue(context.Background(), "ORDER_PLACED", greeting{Name: "x"}, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	require.Equal(t, StateWaiting, job.State)
	require.Equal(t, defaultMaxAttempts, job.MaxAttempts)
	require.Equal(t, defaultBackoffBase, job.BackoffBase)
	require.Equal(t, clock.Now(), job.RunAt)
	require.JSONEq(t, `{"name":"x"}`, string(job.Payload))
}

func TestQueue_EnqueueDelayed(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(NewMemoryBackend(), clock)

	job, err := q.Enqueue(context.Background(), "PAYMENT_REMINDER", greeting{}, Options{Delay: 72 * time.Hour, JobID: "reminder-ORD-1"})
	require.NoError(t, err)
	require.Equal(t, "reminder-ORD-1", job.ID)
	require.Equal(t, StateDelayed, job.State)
	require.Equal(t, clock.Now().Add(72*time.Hour), job.RunAt)

	_, err = q.Enqueue(context.Background(), "PAYMENT_REMINDER", greeting{}, Options{JobID: "reminder-ORD-1"})
	require.ErrorIs(t, err, ErrJobExists)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Delayed)
}

func TestQueue_EnqueueRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	q := New(NewMemoryBackend(), nil)
	_, err := q.Enqueue(context.Background(), "BROKEN", make(chan int), Options{})
	require.Error(t, err)
}

func TestQueue_ReplayFailedJob(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	backend := NewMemoryBackend()
	q := newTestQueue(backend, clock)
	pool := NewPool(backend, WithClock(clock.Now))
	fail := true
	pool.Handle("EMAIL", func(context.Context, Job) error {
		if fail {
			return Permanent(errors.New("mailbox missing"))
		}
		return nil
	})

	job, err := q.Enqueue(context.Background(), "EMAIL", greeting{}, Options{})
	require.NoError(t, err)

	_, err = q.Replay(context.Background(), job.ID)
	require.ErrorIs(t, err, ErrJobNotFailed)

	_, err = pool.ProcessOne(context.Background())
	require.NoError(t, err)

	replayed, err := q.Replay(context.Background(), job.ID)
	require.NoError(t, err)
	require.Zero(t, replayed.Attempts)
	require.Empty(t, replayed.LastError)

	fail = false
	processed, err := pool.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	stored, err := backend.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, stored.State)

	_, err = q.Replay(context.Background(), "missing")
	require.ErrorIs(t, err, ErrJobNotFound)
}
