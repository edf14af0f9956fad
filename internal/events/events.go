// Package events содержит типизированные события жизненного цикла заказа
// и синхронную in-process шину для их доставки подписчикам.
package events

import (
	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// Name: имя события на шине.
type Name string

const (
	OrderCreated      Name = "ORDER_CREATED"
	EstimateGenerated Name = "ESTIMATE_GENERATED"
	EstimateApproved  Name = "ESTIMATE_APPROVED"
	EstimateRejected  Name = "ESTIMATE_REJECTED"
	PaymentSuccess    Name = "PAYMENT_SUCCESS"
	InvoiceGenerated  Name = "INVOICE_GENERATED"
	OrderDispatched   Name = "ORDER_DISPATCHED"
	OrderDelivered    Name = "ORDER_DELIVERED"
	OrderImported     Name = "ORDER_IMPORTED"
	OrderCancelled    Name = "ORDER_CANCELLED"
)

// Event: общее поведение всех событий. Каждое событие несёт снимок заказа после перехода.
type Event interface {
	EventName() Name
	OrderSnapshot() domain.Order
}

// OrderCreatedEvent публикуется при создании заказа внутри системы.
type OrderCreatedEvent struct {
	Order domain.Order
}

func (OrderCreatedEvent) EventName() Name               { return OrderCreated }
func (e OrderCreatedEvent) OrderSnapshot() domain.Order { return e.Order }

// EstimateGeneratedEvent публикуется после формирования сметы.
type EstimateGeneratedEvent struct {
	Order    domain.Order
	Estimate domain.Estimate
}

func (EstimateGeneratedEvent) EventName() Name               { return EstimateGenerated }
func (e EstimateGeneratedEvent) OrderSnapshot() domain.Order { return e.Order }

// EstimateApprovedEvent: клиент принял смету.
type EstimateApprovedEvent struct {
	Order domain.Order
}

func (EstimateApprovedEvent) EventName() Name               { return EstimateApproved }
func (e EstimateApprovedEvent) OrderSnapshot() domain.Order { return e.Order }

// EstimateRejectedEvent: клиент отклонил смету.
type EstimateRejectedEvent struct {
	Order domain.Order
}

func (EstimateRejectedEvent) EventName() Name               { return EstimateRejected }
func (e EstimateRejectedEvent) OrderSnapshot() domain.Order { return e.Order }

// PaymentSucceededEvent: оплата подтверждена.
type PaymentSucceededEvent struct {
	Order      domain.Order
	PaymentRef string
}

func (PaymentSucceededEvent) EventName() Name               { return PaymentSuccess }
func (e PaymentSucceededEvent) OrderSnapshot() domain.Order { return e.Order }

// InvoiceGeneratedEvent: выставлен счёт.
type InvoiceGeneratedEvent struct {
	Order       domain.Order
	PaymentLink string
}

func (InvoiceGeneratedEvent) EventName() Name               { return InvoiceGenerated }
func (e InvoiceGeneratedEvent) OrderSnapshot() domain.Order { return e.Order }

// OrderDispatchedEvent: заказ отгружен.
type OrderDispatchedEvent struct {
	Order    domain.Order
	Dispatch domain.DispatchDetails
}

func (OrderDispatchedEvent) EventName() Name               { return OrderDispatched }
func (e OrderDispatchedEvent) OrderSnapshot() domain.Order { return e.Order }

// OrderDeliveredEvent: заказ доставлен.
type OrderDeliveredEvent struct {
	Order domain.Order
}

func (OrderDeliveredEvent) EventName() Name               { return OrderDelivered }
func (e OrderDeliveredEvent) OrderSnapshot() domain.Order { return e.Order }

// OrderImportedEvent: заказ принят шлюзом импорта с витрины.
type OrderImportedEvent struct {
	Order domain.Order
}

func (OrderImportedEvent) EventName() Name               { return OrderImported }
func (e OrderImportedEvent) OrderSnapshot() domain.Order { return e.Order }

// OrderCancelledEvent: заказ отменён.
type OrderCancelledEvent struct {
	Order  domain.Order
	Reason string
}

func (OrderCancelledEvent) EventName() Name               { return OrderCancelled }
func (e OrderCancelledEvent) OrderSnapshot() domain.Order { return e.Order }
