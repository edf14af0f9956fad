// Package outbox записывает события жизненного цикла в таблицу outbox и переносит их оттуда
// во внешний брокер. Запись идёт подписчиком шины после фиксации заказа, а не в его транзакции:
// от outbox до Kafka доставка at-least-once, событие между коммитом заказа и записью в outbox
// может потеряться при падении процесса.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/events"
)

// AggregateOrder: тип агрегата для всех событий заказа.
const AggregateOrder = "order"

// OrderEvent: публичное представление события заказа во внешнем топике.
type OrderEvent struct {
	Event           string          `json:"event"`
	TenantID        string          `json:"tenantId"`
	OrderID         string          `json:"orderId"`
	ExternalOrderID string          `json:"externalOrderId,omitempty"`
	Source          string          `json:"source"`
	Status          string          `json:"status"`
	EstimateStatus  string          `json:"estimateStatus"`
	PaymentStatus   string          `json:"paymentStatus"`
	InvoiceStatus   string          `json:"invoiceStatus"`
	DispatchStatus  string          `json:"dispatchStatus"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Version         int64           `json:"version"`
	PaymentRef      string          `json:"paymentRef,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	TrackingNumber  string          `json:"trackingNumber,omitempty"`
	OccurredAt      time.Time       `json:"occurredAt"`
}

// Recorder сохраняет каждое событие шины в outbox.
type Recorder struct {
	repo domain.OutboxRepository
	now  func() time.Time
}

// NewRecorder создаёт запись событий в outbox.
func NewRecorder(repo domain.OutboxRepository) *Recorder {
	return &Recorder{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Subscribe подписывает Recorder на все события шины.
func (r *Recorder) Subscribe(bus *events.Bus) {
	bus.SubscribeAll("outbox", r.Record)
}

// Record сохраняет событие.
func (r *Recorder) Record(_ context.Context, event events.Event) error {
	payload, err := json.Marshal(r.describe(event))
	if err != nil {
		return fmt.Errorf("encode outbox event: %w", err)
	}

	order := event.OrderSnapshot()
	if _, err := r.repo.Enqueue(domain.OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   order.OrderID,
		EventType:     string(event.EventName()),
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("store outbox event: %w", err)
	}
	return nil
}

func (r *Recorder) describe(event events.Event) OrderEvent {
	order := event.OrderSnapshot()
	out := OrderEvent{
		Event:           string(event.EventName()),
		TenantID:        order.TenantID,
		OrderID:         order.OrderID,
		ExternalOrderID: order.ExternalOrderID,
		Source:          order.Source,
		Status:          string(order.Status),
		EstimateStatus:  string(order.EstimateStatus),
		PaymentStatus:   string(order.PaymentStatus),
		InvoiceStatus:   string(order.InvoiceStatus),
		DispatchStatus:  string(order.DispatchStatus),
		TotalAmount:     order.TotalAmount,
		Version:         order.Version,
		OccurredAt:      r.now(),
	}

	switch e := event.(type) {
	case events.PaymentSucceededEvent:
		out.PaymentRef = e.PaymentRef
	case events.OrderCancelledEvent:
		out.Reason = e.Reason
	case events.OrderDispatchedEvent:
		out.TrackingNumber = e.Dispatch.TrackingNumber
	}
	return out
}
