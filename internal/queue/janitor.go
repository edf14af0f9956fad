package queue

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultJanitorInterval = 30 * time.Second
	defaultKeepCompleted   = 1000
)

// JanitorOptions задаёт параметры обслуживания очереди.
type JanitorOptions struct {
	Logger        *log.Entry
	Interval      time.Duration
	KeepCompleted int
}

// JanitorOption настраивает Janitor.
type JanitorOption func(*JanitorOptions)

// WithJanitorLogger задаёт logger.
func WithJanitorLogger(logger *log.Entry) JanitorOption {
	return func(opts *JanitorOptions) {
		opts.Logger = logger
	}
}

// WithJanitorInterval задаёт интервал между проходами.
func WithJanitorInterval(interval time.Duration) JanitorOption {
	return func(opts *JanitorOptions) {
		opts.Interval = interval
	}
}

// WithKeepCompleted задаёт размер истории завершённых задач.
func WithKeepCompleted(keep int) JanitorOption {
	return func(opts *JanitorOptions) {
		opts.KeepCompleted = keep
	}
}

// Janitor возвращает в очередь задачи упавших воркеров и подрезает историю завершённых.
type Janitor struct {
	backend       Backend
	logger        *log.Entry
	interval      time.Duration
	keepCompleted int
}

// NewJanitor создаёт обслуживающий воркер очереди.
func NewJanitor(backend Backend, options ...JanitorOption) *Janitor {
	opts := JanitorOptions{
		Interval:      defaultJanitorInterval,
		KeepCompleted: defaultKeepCompleted,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "queue-janitor")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultJanitorInterval
	}
	if opts.KeepCompleted < 0 {
		opts.KeepCompleted = defaultKeepCompleted
	}

	return &Janitor{
		backend:       backend,
		logger:        logger,
		interval:      opts.Interval,
		keepCompleted: opts.KeepCompleted,
	}
}

// Run выполняет обслуживание до отмены ctx.
func (j *Janitor) Run(ctx context.Context) {
	if j.backend == nil {
		j.logger.Warn("queue janitor is disabled: backend is nil")
		return
	}

	j.sweep(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	requeued, trimmed, err := j.Sweep(ctx, time.Now().UTC())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		queueJanitorRunsTotal.WithLabelValues("error").Inc()
		j.logger.WithError(err).Warn("queue janitor run failed")
		return
	}

	queueJanitorRunsTotal.WithLabelValues("ok").Inc()
	if requeued > 0 || trimmed > 0 {
		j.logger.WithFields(log.Fields{
			"requeued": requeued,
			"trimmed":  trimmed,
		}).Info("queue janitor completed")
	}
}

// Sweep выполняет один проход: возврат задач с истёкшим lease, подрезка истории, обновление gauge.
func (j *Janitor) Sweep(ctx context.Context, now time.Time) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	requeued, err := j.backend.RequeueExpired(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	queueRequeuedTotal.Add(float64(requeued))

	trimmed, err := j.backend.TrimCompleted(ctx, j.keepCompleted)
	if err != nil {
		return requeued, 0, err
	}
	queueTrimmedTotal.Add(float64(trimmed))

	stats, err := j.backend.Stats(ctx)
	if err != nil {
		return requeued, trimmed, err
	}
	recordDepth(stats)

	return requeued, trimmed, nil
}
