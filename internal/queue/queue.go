package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"
)

// Enqueuer: всё, что нужно подписчикам событий для постановки задач.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any, opts Options) (Job, error)
}

// Queue: точка постановки задач и операторских действий над ними.
type Queue struct {
	backend Backend
	logger  *log.Entry
	now     func() time.Time
}

// New создаёт очередь поверх backend.
func New(backend Backend, logger *log.Entry) *Queue {
	if logger == nil {
		logger = log.WithField("component", "job-queue")
	}
	return &Queue{
		backend: backend,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Backend возвращает хранилище задач (для пула воркеров и janitor).
func (q *Queue) Backend() Backend {
	return q.backend
}

// Enqueue сериализует payload и ставит задачу. Возвращается сразу после записи в хранилище.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any, opts Options) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("encode %s payload: %w", jobType, err)
	}

	now := q.now()
	job := Job{
		ID:          opts.JobID,
		Type:        jobType,
		Payload:     raw,
		Priority:    opts.Priority,
		MaxAttempts: opts.MaxAttempts,
		BackoffBase: opts.BackoffBase,
		RunAt:       now,
		CreatedAt:   now,
	}
	if job.ID == "" {
		job.ID = ulid.Make().String()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = defaultMaxAttempts
	}
	if job.BackoffBase <= 0 {
		job.BackoffBase = defaultBackoffBase
	}
	if opts.Delay > 0 {
		job.RunAt = now.Add(opts.Delay)
	}

	if err := q.backend.Add(ctx, job); err != nil {
		return Job{}, err
	}
	queueEnqueuedTotal.WithLabelValues(jobType).Inc()
	q.logger.WithFields(log.Fields{
		"job_id":   job.ID,
		"job_type": jobType,
		"run_at":   job.RunAt,
	}).Debug("job enqueued")

	stored, err := q.backend.Get(ctx, job.ID)
	if err != nil {
		return job, nil
	}
	return stored, nil
}

// Replay перезапускает упавшую задачу с новым бюджетом попыток.
func (q *Queue) Replay(ctx context.Context, id string) (Job, error) {
	job, err := q.backend.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if job.State != StateFailed {
		return Job{}, ErrJobNotFailed
	}

	job.Attempts = 0
	job.LastError = ""
	job.FinishedAt = time.Time{}
	now := q.now()
	if err := q.backend.Reschedule(ctx, job, now); err != nil {
		return Job{}, err
	}
	q.logger.WithFields(log.Fields{"job_id": id, "job_type": job.Type}).Info("failed job replayed")
	return q.backend.Get(ctx, id)
}

// Failed возвращает упавшие задачи для разбора оператором.
func (q *Queue) Failed(ctx context.Context, limit int) ([]Job, error) {
	return q.backend.ListFailed(ctx, limit)
}

// Stats возвращает размеры очередей и обновляет gauge глубины.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	stats, err := q.backend.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	recordDepth(stats)
	return stats, nil
}

var _ Enqueuer = (*Queue)(nil)
