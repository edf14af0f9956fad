package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан или импортирован, смета ещё не отправлена.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusEstimateSent: клиенту отправлена смета.
	OrderStatusEstimateSent OrderStatus = "ESTIMATE_SENT"
	// OrderStatusConfirmed: клиент принял смету.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusPaymentCompleted: оплата получена.
	OrderStatusPaymentCompleted OrderStatus = "PAYMENT_COMPLETED"
	// OrderStatusInvoiced: выставлен счёт.
	OrderStatusInvoiced OrderStatus = "INVOICED"
	// OrderStatusDispatched: заказ передан курьеру.
	OrderStatusDispatched OrderStatus = "DISPATCHED"
	// OrderStatusDelivered: заказ доставлен.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled: заказ отменён.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Valid проверяет, что статус входит в граф переходов.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusEstimateSent, OrderStatusConfirmed,
		OrderStatusPaymentCompleted, OrderStatusInvoiced, OrderStatusDispatched,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// EstimateStatus: состояние сметы.
type EstimateStatus string

const (
	EstimateStatusNone     EstimateStatus = "NONE"
	EstimateStatusSent     EstimateStatus = "SENT"
	EstimateStatusApproved EstimateStatus = "APPROVED"
	EstimateStatusRejected EstimateStatus = "REJECTED"
)

// InvoiceStatus: состояние счёта.
type InvoiceStatus string

const (
	InvoiceStatusNone      InvoiceStatus = "NONE"
	InvoiceStatusGenerated InvoiceStatus = "GENERATED"
)

// DispatchStatus: состояние доставки.
type DispatchStatus string

const (
	DispatchStatusPending    DispatchStatus = "PENDING"
	DispatchStatusDispatched DispatchStatus = "DISPATCHED"
	DispatchStatusDelivered  DispatchStatus = "DELIVERED"
)

// SyncStatus: состояние синхронизации с витриной, откуда пришёл заказ.
type SyncStatus string

const (
	SyncStatusNotSynced SyncStatus = "NOT_SYNCED"
	SyncStatusSynced    SyncStatus = "SYNCED"
	SyncStatusFailed    SyncStatus = "FAILED"
)

// Источники заказа.
const (
	SourceInternal = "INTERNAL"
	SourceWebsite  = "WEBSITE"
	SourceKafka    = "KAFKA"
)

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	Name     string
	Quantity int
	Price    decimal.Decimal
	// Total всегда равен Quantity * Price.
	Total decimal.Decimal
}

// NewOrderItem создаёт позицию и вычисляет итог по строке.
func NewOrderItem(name string, quantity int, price decimal.Decimal) OrderItem {
	return OrderItem{
		Name:     strings.TrimSpace(name),
		Quantity: quantity,
		Price:    price,
		Total:    price.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// CustomerSnapshot: контактные данные клиента на момент оформления заказа.
type CustomerSnapshot struct {
	Name    string
	Phone   string
	Email   string
	Address string
}

// Estimate хранит смету, отправленную клиенту.
type Estimate struct {
	Items      []OrderItem
	SubTotal   decimal.Decimal
	Tax        decimal.Decimal
	Total      decimal.Decimal
	ValidUntil time.Time
	Notes      string
	CreatedAt  time.Time
}

// DispatchDetails: данные об отгрузке.
type DispatchDetails struct {
	Courier          string
	TrackingNumber   string
	ExpectedDelivery time.Time
	DispatchedAt     time.Time
}

// TimelineEntry: запись в журнале заказа. Журнал только дополняется.
type TimelineEntry struct {
	Status      OrderStatus
	Description string
	Timestamp   time.Time
}

// SyncLogEntry: результат одной попытки синхронизации с витриной.
type SyncLogEntry struct {
	Success   bool
	Message   string
	Timestamp time.Time
}

// Order агрегирует состояние заказа.
type Order struct {
	// ID: внутренний идентификатор записи (UUID).
	ID       string
	TenantID string
	// OrderID: человекочитаемый номер, уникальный в рамках тенанта.
	OrderID         string
	ExternalOrderID string
	IdempotencyKey  string
	Source          string

	CustomerID  string
	Customer    CustomerSnapshot
	Items       []OrderItem
	TotalAmount decimal.Decimal

	Status         OrderStatus
	EstimateStatus EstimateStatus
	PaymentStatus  PaymentStatus
	InvoiceStatus  InvoiceStatus
	DispatchStatus DispatchStatus
	SyncStatus     SyncStatus

	Estimate    *Estimate
	Dispatch    *DispatchDetails
	PaymentRef  string
	PaymentLink string

	Timeline []TimelineEntry
	SyncLog  []SyncLogEntry

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppendTimeline добавляет запись в журнал и обновляет UpdatedAt.
func (o *Order) AppendTimeline(status OrderStatus, description string, at time.Time) {
	o.Timeline = append(o.Timeline, TimelineEntry{
		Status:      status,
		Description: description,
		Timestamp:   at.UTC(),
	})
	o.UpdatedAt = at.UTC()
}

// AppendSyncLog фиксирует попытку синхронизации.
func (o *Order) AppendSyncLog(success bool, message string, at time.Time) {
	o.SyncLog = append(o.SyncLog, SyncLogEntry{
		Success:   success,
		Message:   message,
		Timestamp: at.UTC(),
	})
}

// HasExternalOrder сообщает, пришёл ли заказ с внешней витрины.
func (o *Order) HasExternalOrder() bool {
	return strings.TrimSpace(o.ExternalOrderID) != ""
}

// ItemsTotal возвращает сумму по всем позициям.
func ItemsTotal(items []OrderItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.Total)
	}
	return sum
}

// Clone возвращает глубокую копию заказа, чтобы хранилища не делили срезы с вызывающим кодом.
func (o Order) Clone() Order {
	out := o
	out.Items = append([]OrderItem(nil), o.Items...)
	out.Timeline = append([]TimelineEntry(nil), o.Timeline...)
	out.SyncLog = append([]SyncLogEntry(nil), o.SyncLog...)
	if o.Estimate != nil {
		est := *o.Estimate
		est.Items = append([]OrderItem(nil), o.Estimate.Items...)
		out.Estimate = &est
	}
	if o.Dispatch != nil {
		d := *o.Dispatch
		out.Dispatch = &d
	}
	return out
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.TenantID == "" {
		errs = append(errs, ErrTenantRequired)
	}
	if o.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if strings.TrimSpace(o.Customer.Name) == "" || strings.TrimSpace(o.Customer.Phone) == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalAmount.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrInvalidStatus)
	}

	return errs
}
