// Package statussync отправляет статус заказа обратно на витрину, откуда он пришёл,
// и ведёт журнал неудачных синхронизаций с периодическими повторами.
package statussync

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
)

const (
	defaultPushTimeout   = 10 * time.Second
	defaultRetryInterval = 5 * time.Minute
	defaultMaxRetries    = 5
	defaultWorkers       = 4
	defaultBacklog       = 256

	reasonOrderNotFound = "Order not found"
)

// SweepSummary: итог одного прохода по журналу.
type SweepSummary struct {
	Processed int
	Succeeded int
	Retrying  int
	Failed    int
}

// Options задаёт параметры сервиса синхронизации.
type Options struct {
	Logger        *log.Entry
	Metrics       *metrics.LifecycleMetrics
	PushTimeout   time.Duration
	RetryInterval time.Duration
	MaxRetries    int
	Workers       int
	Backlog       int
	Now           func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics включает метрики попыток синхронизации.
func WithMetrics(m *metrics.LifecycleMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithPushTimeout ограничивает время одного запроса к витрине.
func WithPushTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.PushTimeout = timeout
	}
}

// WithRetryInterval задаёт период прохода по журналу.
func WithRetryInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.RetryInterval = interval
	}
}

// WithMaxRetries задаёт потолок повторов, после которого запись закрывается как FAILED.
func WithMaxRetries(maxRetries int) Option {
	return func(opts *Options) {
		opts.MaxRetries = maxRetries
	}
}

// WithWorkers задаёт число фоновых горутин для отправки по событиям и размер очереди к ним.
func WithWorkers(workers, backlog int) Option {
	return func(opts *Options) {
		opts.Workers = workers
		opts.Backlog = backlog
	}
}

// WithClock подменяет часы (тесты).
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

type syncTask struct {
	tenantID string
	orderID  string
}

// Service синхронизирует статусы с витринами.
type Service struct {
	orders     domain.OrderRepository
	ledger     domain.FailedSyncRepository
	target     Target
	urls       URLResolver
	logger     *log.Entry
	metrics    *metrics.LifecycleMetrics
	timeout    time.Duration
	interval   time.Duration
	maxRetries int
	workers    int
	tasks      chan syncTask
	now        func() time.Time
}

// NewService создаёт сервис синхронизации.
func NewService(orders domain.OrderRepository, ledger domain.FailedSyncRepository, target Target, urls URLResolver, options ...Option) *Service {
	opts := Options{
		PushTimeout:   defaultPushTimeout,
		RetryInterval: defaultRetryInterval,
		MaxRetries:    defaultMaxRetries,
		Workers:       defaultWorkers,
		Backlog:       defaultBacklog,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "status-sync")
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = defaultPushTimeout
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Backlog <= 0 {
		opts.Backlog = defaultBacklog
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		orders:     orders,
		ledger:     ledger,
		target:     target,
		urls:       urls,
		logger:     logger,
		metrics:    opts.Metrics,
		timeout:    opts.PushTimeout,
		interval:   opts.RetryInterval,
		maxRetries: opts.MaxRetries,
		workers:    opts.Workers,
		tasks:      make(chan syncTask, opts.Backlog),
		now:        opts.Now,
	}
}

// Schedule ставит отправку статуса в фоновую очередь и сразу возвращается.
// Если очередь переполнена, заказ попадает в журнал и будет отправлен проходом повторов.
func (s *Service) Schedule(order domain.Order) {
	if !order.HasExternalOrder() {
		return
	}
	select {
	case s.tasks <- syncTask{tenantID: order.TenantID, orderID: order.OrderID}:
	default:
		syncBacklogDropped.Inc()
		s.recordFailure(order, errors.New("sync backlog is full"))
	}
}

// Run запускает фоновые отправки и периодический проход по журналу до отмены ctx.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			s.drain(gctx)
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := s.ProcessRetries(gctx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.WithError(err).Warn("failed sync sweep aborted")
				}
			}
		}
	})

	return g.Wait()
}

func (s *Service) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.tasks:
			order, err := s.orders.Get(task.tenantID, task.orderID)
			if err != nil {
				s.logger.WithError(err).WithFields(log.Fields{
					"tenant_id": task.tenantID,
					"order_id":  task.orderID,
				}).Warn("order for scheduled sync not loaded")
				continue
			}
			// Ошибка уже записана в журнал.
			_ = s.SyncStatusToWebsite(ctx, order)
		}
	}
}

// SyncStatusToWebsite отправляет текущий статус заказа на витрину.
// Заказы без внешнего номера не синхронизируются.
func (s *Service) SyncStatusToWebsite(ctx context.Context, order domain.Order) error {
	if !order.HasExternalOrder() {
		s.metrics.RecordSync(metrics.SyncSkipped)
		return nil
	}

	if err := s.push(ctx, order); err != nil {
		s.metrics.RecordSync(metrics.SyncFailure)
		s.recordFailure(order, err)
		return err
	}

	s.metrics.RecordSync(metrics.SyncSuccess)
	s.markOrder(order, true, "Status "+string(order.Status)+" synced")
	return nil
}

// ProcessRetries повторяет отправку для всех открытых записей журнала.
func (s *Service) ProcessRetries(ctx context.Context) (SweepSummary, error) {
	var summary SweepSummary

	records, err := s.ledger.ListPending(0)
	if err != nil {
		return summary, fmt.Errorf("list pending syncs: %w", err)
	}

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Processed++

		status, err := s.retry(ctx, record)
		if errors.Is(err, domain.ErrFailedSyncStale) || errors.Is(err, domain.ErrFailedSyncFinal) {
			s.logger.WithFields(log.Fields{
				"failed_sync_id": record.ID,
				"order_id":       record.OrderID,
			}).Info("failed sync record already advanced by another sweep")
			continue
		}
		if err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"failed_sync_id": record.ID,
				"order_id":       record.OrderID,
			}).Error("failed sync record not updated")
			continue
		}
		switch status {
		case domain.FailedSyncSuccess:
			summary.Succeeded++
		case domain.FailedSyncFailed:
			summary.Failed++
		default:
			summary.Retrying++
		}
	}

	failedSyncPending.Set(float64(summary.Retrying))
	if summary.Processed > 0 {
		s.logger.WithFields(log.Fields{
			"processed": summary.Processed,
			"succeeded": summary.Succeeded,
			"retrying":  summary.Retrying,
			"failed":    summary.Failed,
		}).Info("failed sync sweep completed")
	}
	return summary, nil
}

func (s *Service) retry(ctx context.Context, record domain.FailedSync) (domain.FailedSyncStatus, error) {
	now := s.now()
	record.LastTriedAt = now

	order, err := s.orders.Get(record.TenantID, record.OrderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		record.Status = domain.FailedSyncFailed
		record.Reason = reasonOrderNotFound
		return s.updateRecord(record)
	}
	if err != nil {
		return record.Status, err
	}

	if pushErr := s.push(ctx, order); pushErr != nil {
		s.metrics.RecordSync(metrics.SyncFailure)
		record.RetryCount++
		record.Reason = pushErr.Error()
		if record.RetryCount > s.maxRetries {
			record.Status = domain.FailedSyncFailed
		}
		s.markOrder(order, false, pushErr.Error())
		return s.updateRecord(record)
	}

	s.metrics.RecordSync(metrics.SyncSuccess)
	record.Status = domain.FailedSyncSuccess
	s.markOrder(order, true, "Status "+string(order.Status)+" synced on retry")
	return s.updateRecord(record)
}

func (s *Service) updateRecord(record domain.FailedSync) (domain.FailedSyncStatus, error) {
	if err := s.ledger.Update(record); err != nil {
		return record.Status, err
	}
	failedSyncTransitions.WithLabelValues(string(record.Status)).Inc()
	return record.Status, nil
}

func (s *Service) push(ctx context.Context, order domain.Order) error {
	url := s.urls.URL(order.TenantID)
	if url == "" {
		return fmt.Errorf("no storefront url configured for tenant %s", order.TenantID)
	}

	pushCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.metrics.SyncStarted()
	defer s.metrics.SyncFinished()
	return s.target.Push(pushCtx, url, NewStatusPayload(order))
}

func (s *Service) recordFailure(order domain.Order, cause error) {
	logger := s.logger.WithFields(log.Fields{
		"tenant_id":         order.TenantID,
		"order_id":          order.OrderID,
		"external_order_id": order.ExternalOrderID,
	})
	logger.WithError(cause).Warn("status sync failed")

	if _, err := s.ledger.UpsertPending(domain.FailedSync{
		TenantID:    order.TenantID,
		OrderID:     order.OrderID,
		Reason:      cause.Error(),
		LastTriedAt: s.now(),
	}); err != nil {
		logger.WithError(err).Error("failed sync not recorded")
	}
	s.markOrder(order, false, cause.Error())
}

// markOrder обновляет syncStatus и дописывает запись в лог синхронизаций.
func (s *Service) markOrder(order domain.Order, success bool, message string) {
	status := domain.SyncStatusFailed
	if success {
		status = domain.SyncStatusSynced
	}
	_, err := domain.UpdateOrder(s.orders, order.TenantID, order.OrderID, func(o *domain.Order) error {
		o.SyncStatus = status
		o.AppendSyncLog(success, message, s.now())
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"tenant_id": order.TenantID,
			"order_id":  order.OrderID,
		}).Warn("sync result not saved on order")
	}
}
