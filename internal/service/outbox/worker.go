package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

var (
	relayAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_outbox_publish_attempts_total",
		Help: "Outbox relay publish attempts by event type and outcome.",
	}, []string{"event_type", "outcome"})
	relayBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orderflow_outbox_pending_records",
		Help: "Outbox records waiting to be relayed.",
	})
	relayLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orderflow_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest outbox record waiting to be relayed.",
	})
)

// relaySettings: параметры ретранслятора после применения опций.
type relaySettings struct {
	logger      *log.Entry
	deadLetters domain.OutboxPublisher
	poll        time.Duration
	batch       int
	attempts    int
	backoff     time.Duration
}

// Option настраивает Worker.
type Option func(*relaySettings)

func WithLogger(logger *log.Entry) Option {
	return func(s *relaySettings) { s.logger = logger }
}

// WithDLQPublisher: куда уходит запись, для которой кончились попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(s *relaySettings) { s.deadLetters = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(s *relaySettings) {
		if interval > 0 {
			s.poll = interval
		}
	}
}

func WithBatchSize(size int) Option {
	return func(s *relaySettings) {
		if size > 0 {
			s.batch = size
		}
	}
}

// WithMaxAttempts: сколько раз публиковать запись за один проход.
func WithMaxAttempts(attempts int) Option {
	return func(s *relaySettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithRetryBaseDelay: пауза после первой неудачи, дальше удваивается. Ноль отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(s *relaySettings) { s.backoff = max(delay, 0) }
}

// Summary: итог одного прохода ретранслятора.
type Summary struct {
	Sent         int
	Failed       int
	DeadLettered int
}

// DeadLetter: то, что ретранслятор кладёт в DLQ вместо неотправленной записи.
// Команда dlq-replay читает этот формат.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

// Worker переносит записи outbox в брокер.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	relaySettings
	now func() time.Time
}

// NewWorker создаёт ретранслятор с опросом раз в секунду, пачками по 100 и тремя попытками.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	settings := relaySettings{
		poll:     time.Second,
		batch:    100,
		attempts: 3,
		backoff:  50 * time.Millisecond,
	}
	for _, option := range options {
		option(&settings)
	}
	if settings.logger == nil {
		settings.logger = log.WithField("component", "outbox-worker")
	}
	return &Worker{
		repo:          repo,
		publisher:     publisher,
		relaySettings: settings,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run ретранслирует до отмены ctx. Если пачка пришла полной, следующий проход начинается сразу.
func (w *Worker) Run(ctx context.Context) error {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox relay disabled: no repository or publisher")
		<-ctx.Done()
		return nil
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		summary := w.ProcessOnce(ctx)
		wait := w.poll
		if summary.Sent+summary.Failed >= w.batch {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// ProcessOnce публикует одну пачку pending-записей по порядку.
func (w *Worker) ProcessOnce(ctx context.Context) Summary {
	var summary Summary
	if ctx.Err() != nil {
		return summary
	}
	defer w.observeBacklog()

	batch, err := w.repo.PullPending(w.batch)
	if err != nil {
		w.logger.WithError(err).Warn("outbox pull failed")
		return summary
	}

	for _, msg := range batch {
		err := w.publish(ctx, msg)
		if ctx.Err() != nil {
			// Запись остаётся pending и уйдёт в следующем запуске.
			return summary
		}
		if err == nil {
			summary.Sent++
			w.settle(msg, w.repo.MarkSent)
			continue
		}

		summary.Failed++
		entry := w.entry(msg).WithError(err)
		entry.Error("outbox record not published")
		relayAttempts.WithLabelValues(msg.EventType, "exhausted").Inc()
		if w.deadLetter(msg, err, entry) {
			summary.DeadLettered++
		}
		w.settle(msg, w.repo.MarkFailed)
	}
	return summary
}

// publish делает до attempts попыток с удваивающейся паузой.
func (w *Worker) publish(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if attempt > 1 && w.backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.backoff << (attempt - 2)):
			}
		}
		if lastErr = w.publisher.Publish(msg); lastErr == nil {
			relayAttempts.WithLabelValues(msg.EventType, "sent").Inc()
			return nil
		}
		relayAttempts.WithLabelValues(msg.EventType, "error").Inc()
	}
	return fmt.Errorf("%w: %d attempts, last: %v", domain.ErrOutboxPublish, w.attempts, lastErr)
}

// deadLetter отправляет запись в DLQ и сообщает, удалось ли.
func (w *Worker) deadLetter(msg domain.OutboxMessage, cause error, entry *log.Entry) bool {
	if w.deadLetters == nil {
		return false
	}
	body, err := json.Marshal(DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishError:  cause.Error(),
		FailedAt:      w.now(),
	})
	if err == nil {
		letter := msg
		letter.Payload = body
		err = w.deadLetters.Publish(letter)
	}
	if err != nil {
		entry.WithField("dlq_error", err.Error()).Warn("outbox record not moved to dlq")
		relayAttempts.WithLabelValues(msg.EventType, "dlq_failed").Inc()
		return false
	}
	return true
}

func (w *Worker) settle(msg domain.OutboxMessage, mark func(string) error) {
	if err := mark(msg.ID); err != nil {
		w.entry(msg).WithError(err).Warn("outbox record status not saved")
	}
}

func (w *Worker) entry(msg domain.OutboxMessage) *log.Entry {
	return w.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
	})
}

func (w *Worker) observeBacklog() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("outbox stats unavailable")
		return
	}
	relayBacklog.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		relayLag.Set(0)
		return
	}
	relayLag.Set(max(w.now().Sub(stats.OldestPendingAt).Seconds(), 0))
}
