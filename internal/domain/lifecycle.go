package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// EstimateTaxRate: налог, начисляемый на смету.
var EstimateTaxRate = decimal.RequireFromString("0.18")

// DefaultEstimateValidityDays: срок действия сметы, если он не указан.
const DefaultEstimateValidityDays = 7

// statusRank задаёт порядок основной ветки графа статусов.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:          0,
	OrderStatusEstimateSent:     1,
	OrderStatusConfirmed:        2,
	OrderStatusPaymentCompleted: 3,
	OrderStatusInvoiced:         4,
	OrderStatusDispatched:       5,
	OrderStatusDelivered:        6,
}

// Before сообщает, что статус s находится на основной ветке раньше other.
// CANCELLED не участвует в сравнении.
func (s OrderStatus) Before(other OrderStatus) bool {
	a, okA := statusRank[s]
	b, okB := statusRank[other]
	return okA && okB && a < b
}

// NewOrderNumber генерирует человекочитаемый номер заказа.
func NewOrderNumber() string {
	return "ORD-" + ulid.Make().String()
}

// NewOrder собирает новый заказ в статусе PENDING. Журнал заполняет вызывающий код.
// Без явной суммы (total == nil) берётся сумма по позициям; явный ноль сохраняется.
func NewOrder(tenantID string, customer Customer, items []OrderItem, total *decimal.Decimal, source string, now time.Time) Order {
	amount := ItemsTotal(items)
	if total != nil {
		amount = *total
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = SourceInternal
	}
	now = now.UTC()

	return Order{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		OrderID:        NewOrderNumber(),
		Source:         source,
		CustomerID:     customer.ID,
		Customer:       customer.Snapshot(),
		Items:          append([]OrderItem(nil), items...),
		TotalAmount:    amount,
		Status:         OrderStatusPending,
		EstimateStatus: EstimateStatusNone,
		PaymentStatus:  PaymentStatusPending,
		InvoiceStatus:  InvoiceStatusNone,
		DispatchStatus: DispatchStatusPending,
		SyncStatus:     SyncStatusNotSynced,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// BuildEstimate считает смету: налог 18% от суммы позиций, итог = сумма + налог.
func BuildEstimate(items []OrderItem, validityDays int, notes string, now time.Time) Estimate {
	if validityDays <= 0 {
		validityDays = DefaultEstimateValidityDays
	}
	subTotal := ItemsTotal(items)
	tax := subTotal.Mul(EstimateTaxRate).Round(2)
	now = now.UTC()

	return Estimate{
		Items:      append([]OrderItem(nil), items...),
		SubTotal:   subTotal,
		Tax:        tax,
		Total:      subTotal.Add(tax),
		ValidUntil: now.AddDate(0, 0, validityDays),
		Notes:      strings.TrimSpace(notes),
		CreatedAt:  now,
	}
}

// Validate проверяет инварианты и собирает замечания в ValidationError.
func (o *Order) Validate() error {
	errs := o.ValidateInvariants()
	if len(errs) == 0 {
		return nil
	}
	vErr := &ValidationError{Fields: make(map[string]string, len(errs))}
	for _, err := range errs {
		vErr.Fields[invariantField(err)] = err.Error()
	}
	return vErr
}

func invariantField(err error) string {
	switch {
	case errors.Is(err, ErrTenantRequired):
		return "tenantId"
	case errors.Is(err, ErrOrderIDRequired):
		return "orderId"
	case errors.Is(err, ErrCustomerRequired):
		return "customer"
	case errors.Is(err, ErrItemsRequired), errors.Is(err, ErrItemQtyInvalid), errors.Is(err, ErrItemPriceInvalid):
		return "items"
	case errors.Is(err, ErrAmountNegative):
		return "totalAmount"
	default:
		return "status"
	}
}
