package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultWorkers      = 4
	defaultPollInterval = 500 * time.Millisecond
	defaultJobTimeout   = 2 * time.Minute
)

// HandlerFunc обрабатывает задачу. Ошибка приводит к повтору с backoff, PermanentError сразу к failed.
type HandlerFunc func(ctx context.Context, job Job) error

// PoolOptions задаёт параметры пула воркеров.
type PoolOptions struct {
	Logger       *log.Entry
	Workers      int
	PollInterval time.Duration
	JobTimeout   time.Duration
	Lease        time.Duration
	Now          func() time.Time
}

// PoolOption настраивает Pool.
type PoolOption func(*PoolOptions)

// WithPoolLogger задаёт logger пула.
func WithPoolLogger(logger *log.Entry) PoolOption {
	return func(opts *PoolOptions) {
		opts.Logger = logger
	}
}

// WithWorkers задаёт число воркеров.
func WithWorkers(workers int) PoolOption {
	return func(opts *PoolOptions) {
		opts.Workers = workers
	}
}

// WithPollInterval задаёт паузу между опросами пустой очереди.
func WithPollInterval(interval time.Duration) PoolOption {
	return func(opts *PoolOptions) {
		opts.PollInterval = interval
	}
}

// WithJobTimeout ограничивает время одного запуска обработчика.
func WithJobTimeout(timeout time.Duration) PoolOption {
	return func(opts *PoolOptions) {
		opts.JobTimeout = timeout
	}
}

// WithLease задаёт срок, после которого зависшая активная задача возвращается в очередь.
func WithLease(lease time.Duration) PoolOption {
	return func(opts *PoolOptions) {
		opts.Lease = lease
	}
}

// WithClock подменяет часы (тесты).
func WithClock(now func() time.Time) PoolOption {
	return func(opts *PoolOptions) {
		opts.Now = now
	}
}

// Pool: фиксированный набор воркеров, разбирающих очередь.
type Pool struct {
	backend      Backend
	logger       *log.Entry
	workers      int
	pollInterval time.Duration
	jobTimeout   time.Duration
	lease        time.Duration
	now          func() time.Time

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewPool создаёт пул воркеров. Обработчики регистрируются через Handle до Run.
func NewPool(backend Backend, options ...PoolOption) *Pool {
	opts := PoolOptions{
		Workers:      defaultWorkers,
		PollInterval: defaultPollInterval,
		JobTimeout:   defaultJobTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "queue-workers")
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}
	if opts.Lease <= opts.JobTimeout {
		opts.Lease = 2 * opts.JobTimeout
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Pool{
		backend:      backend,
		logger:       logger,
		workers:      opts.Workers,
		pollInterval: opts.PollInterval,
		jobTimeout:   opts.JobTimeout,
		lease:        opts.Lease,
		now:          opts.Now,
		handlers:     make(map[string]HandlerFunc),
	}
}

// Handle регистрирует обработчик типа задач.
func (p *Pool) Handle(jobType string, handler HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[jobType] = handler
}

// Run запускает воркеры и блокируется до отмены ctx и завершения текущих задач.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.loop(ctx, worker)
		}(i + 1)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, worker int) {
	logger := p.logger.WithField("worker", worker)
	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := p.ProcessOne(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Warn("queue poll failed")
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.pollInterval):
		}
	}
}

// ProcessOne забирает и обрабатывает одну задачу. Возвращает false, если очередь пуста.
func (p *Pool) ProcessOne(ctx context.Context) (bool, error) {
	job, ok, err := p.backend.Claim(ctx, p.now(), p.lease)
	if err != nil || !ok {
		return false, err
	}

	logger := p.logger.WithFields(log.Fields{
		"job_id":   job.ID,
		"job_type": job.Type,
		"attempt":  job.Attempts,
	})

	started := time.Now()
	runErr := p.run(ctx, job)
	queueJobDuration.WithLabelValues(job.Type).Observe(time.Since(started).Seconds())

	if runErr == nil {
		job.FinishedAt = p.now()
		job.LastError = ""
		queueJobsTotal.WithLabelValues(job.Type, "completed").Inc()
		return true, p.backend.Complete(ctx, job)
	}

	job.LastError = runErr.Error()
	if IsPermanent(runErr) || job.Attempts >= job.MaxAttempts {
		job.FinishedAt = p.now()
		queueJobsTotal.WithLabelValues(job.Type, "failed").Inc()
		logger.WithError(runErr).Error("job failed permanently")
		return true, p.backend.Fail(ctx, job)
	}

	delay := backoffDelay(job.BackoffBase, job.Attempts)
	queueJobsTotal.WithLabelValues(job.Type, "retried").Inc()
	logger.WithError(runErr).WithField("retry_in", delay).Warn("job failed, scheduling retry")
	return true, p.backend.Reschedule(ctx, job, p.now().Add(delay))
}

func (p *Pool) run(ctx context.Context, job Job) (err error) {
	p.mu.RLock()
	handler, ok := p.handlers[job.Type]
	p.mu.RUnlock()
	if !ok {
		return Permanent(fmt.Errorf("no handler registered for job type %q", job.Type))
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(jobCtx, job)
}
