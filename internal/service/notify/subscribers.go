package notify

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/events"
	"github.com/vladislavdragonenkov/orderflow/internal/queue"
)

// Приоритеты задач: меньшее значение выполняется раньше.
const (
	priorityDocument     = 1
	priorityConfirmation = 5
)

// Scheduler превращает события шины в задачи очереди.
type Scheduler struct {
	queue  queue.Enqueuer
	logger *log.Entry
	now    func() time.Time
}

// NewScheduler создаёт подписчика, ставящего задачи уведомлений.
func NewScheduler(enqueuer queue.Enqueuer, logger *log.Entry) *Scheduler {
	if logger == nil {
		logger = log.WithField("component", "notify-scheduler")
	}
	return &Scheduler{
		queue:  enqueuer,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe подписывает Scheduler на события шины.
func (s *Scheduler) Subscribe(bus *events.Bus) {
	events.On(bus, "notify", func(ctx context.Context, e events.OrderCreatedEvent) error {
		return s.enqueue(ctx, JobOrderPlaced, NewOrderPlacedJob(e.Order), priorityConfirmation)
	})
	events.On(bus, "notify", func(ctx context.Context, e events.OrderImportedEvent) error {
		return s.enqueue(ctx, JobOrderPlaced, NewOrderPlacedJob(e.Order), priorityConfirmation)
	})
	events.On(bus, "notify", func(ctx context.Context, e events.EstimateGeneratedEvent) error {
		return s.enqueue(ctx, JobEstimateCreated, NewEstimateJob(e.Order, e.Estimate), priorityDocument)
	})
	events.On(bus, "notify", func(ctx context.Context, e events.InvoiceGeneratedEvent) error {
		order := e.Order
		if order.PaymentLink == "" {
			order.PaymentLink = e.PaymentLink
		}
		return s.enqueue(ctx, JobInvoiceCreated, NewInvoiceJob(order, s.now()), priorityDocument)
	})
	events.On(bus, "notify", func(ctx context.Context, e events.PaymentSucceededEvent) error {
		return s.enqueue(ctx, JobPaymentReceived, NewPaymentReceivedJob(e.Order, e.PaymentRef), priorityConfirmation)
	})
}

func (s *Scheduler) enqueue(ctx context.Context, jobType string, payload any, priority int) error {
	job, err := s.queue.Enqueue(ctx, jobType, payload, queue.Options{Priority: priority})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	s.logger.WithFields(log.Fields{"job_id": job.ID, "job_type": jobType}).Debug("notification scheduled")
	return nil
}

// OrderPaymentLookup читает статус оплаты из хранилища заказов.
type OrderPaymentLookup struct {
	orders domain.OrderRepository
}

// NewOrderPaymentLookup создаёт проверку оплаты поверх репозитория заказов.
func NewOrderPaymentLookup(orders domain.OrderRepository) *OrderPaymentLookup {
	return &OrderPaymentLookup{orders: orders}
}

func (l *OrderPaymentLookup) PaymentStatus(_ context.Context, tenantID, orderID string) (domain.PaymentStatus, error) {
	order, err := l.orders.Get(tenantID, orderID)
	if err != nil {
		return "", err
	}
	return order.PaymentStatus, nil
}

var _ domain.PaymentStatusLookup = (*OrderPaymentLookup)(nil)
