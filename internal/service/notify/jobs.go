// Package notify выполняет уведомления клиентов по задачам из очереди:
// документы по смете и счёту, напоминания об оплате, письма-подтверждения.
package notify

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// Типы задач очереди.
const (
	JobInvoiceCreated  = "INVOICE_CREATED"
	JobEstimateCreated = "ESTIMATE_CREATED"
	JobPaymentReminder = "PAYMENT_REMINDER"
	JobPaymentReceived = "PAYMENT_RECEIVED"
	JobOrderPlaced     = "ORDER_PLACED"
)

// Шаблоны документов для Renderer.
const (
	TemplateInvoice  = "invoice"
	TemplateEstimate = "estimate"
)

// Contact: куда доставлять уведомление. Пустые поля означают, что канал не используется.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// LineItem: строка документа.
type LineItem struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Total    decimal.Decimal `json:"total"`
}

// DocumentJob: payload задач INVOICE_CREATED и ESTIMATE_CREATED.
type DocumentJob struct {
	TenantID      string               `json:"tenantId"`
	OrderID       string               `json:"orderId"`
	Contact       Contact              `json:"contact"`
	Items         []LineItem           `json:"items"`
	SubTotal      decimal.Decimal      `json:"subTotal"`
	Tax           decimal.Decimal      `json:"tax"`
	Total         decimal.Decimal      `json:"total"`
	ValidUntil    time.Time            `json:"validUntil,omitempty"`
	Notes         string               `json:"notes,omitempty"`
	PaymentLink   string               `json:"paymentLink,omitempty"`
	PaymentStatus domain.PaymentStatus `json:"paymentStatus"`
	IssuedAt      time.Time            `json:"issuedAt"`
}

// ReminderJob: payload задачи PAYMENT_REMINDER.
type ReminderJob struct {
	TenantID    string          `json:"tenantId"`
	OrderID     string          `json:"orderId"`
	Contact     Contact         `json:"contact"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentLink string          `json:"paymentLink,omitempty"`
}

// PaymentReceivedJob: payload задачи PAYMENT_RECEIVED.
type PaymentReceivedJob struct {
	TenantID   string          `json:"tenantId"`
	OrderID    string          `json:"orderId"`
	Contact    Contact         `json:"contact"`
	Amount     decimal.Decimal `json:"amount"`
	PaymentRef string          `json:"paymentRef,omitempty"`
}

// OrderPlacedJob: payload задачи ORDER_PLACED.
type OrderPlacedJob struct {
	TenantID string          `json:"tenantId"`
	OrderID  string          `json:"orderId"`
	Contact  Contact         `json:"contact"`
	Items    []LineItem      `json:"items"`
	Total    decimal.Decimal `json:"total"`
	Source   string          `json:"source"`
}

func contactOf(order domain.Order) Contact {
	return Contact{
		Name:  order.Customer.Name,
		Phone: order.Customer.Phone,
		Email: order.Customer.Email,
	}
}

func lineItems(items []domain.OrderItem) []LineItem {
	result := make([]LineItem, 0, len(items))
	for _, item := range items {
		result = append(result, LineItem{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.Price,
			Total:    item.Total,
		})
	}
	return result
}

// NewInvoiceJob собирает payload счёта из снимка заказа.
func NewInvoiceJob(order domain.Order, issuedAt time.Time) DocumentJob {
	job := DocumentJob{
		TenantID:      order.TenantID,
		OrderID:       order.OrderID,
		Contact:       contactOf(order),
		Items:         lineItems(order.Items),
		SubTotal:      order.TotalAmount,
		Tax:           decimal.Zero,
		Total:         order.TotalAmount,
		PaymentLink:   order.PaymentLink,
		PaymentStatus: order.PaymentStatus,
		IssuedAt:      issuedAt.UTC(),
	}
	if order.Estimate != nil {
		job.Items = lineItems(order.Estimate.Items)
		job.SubTotal = order.Estimate.SubTotal
		job.Tax = order.Estimate.Tax
		job.Total = order.Estimate.Total
	}
	return job
}

// NewEstimateJob собирает payload сметы.
func NewEstimateJob(order domain.Order, estimate domain.Estimate) DocumentJob {
	return DocumentJob{
		TenantID:      order.TenantID,
		OrderID:       order.OrderID,
		Contact:       contactOf(order),
		Items:         lineItems(estimate.Items),
		SubTotal:      estimate.SubTotal,
		Tax:           estimate.Tax,
		Total:         estimate.Total,
		ValidUntil:    estimate.ValidUntil,
		Notes:         estimate.Notes,
		PaymentStatus: order.PaymentStatus,
		IssuedAt:      estimate.CreatedAt,
	}
}

// NewReminderJob собирает payload напоминания об оплате.
func NewReminderJob(doc DocumentJob) ReminderJob {
	return ReminderJob{
		TenantID:    doc.TenantID,
		OrderID:     doc.OrderID,
		Contact:     doc.Contact,
		Amount:      doc.Total,
		PaymentLink: doc.PaymentLink,
	}
}

// NewPaymentReceivedJob собирает payload подтверждения оплаты.
func NewPaymentReceivedJob(order domain.Order, paymentRef string) PaymentReceivedJob {
	return PaymentReceivedJob{
		TenantID:   order.TenantID,
		OrderID:    order.OrderID,
		Contact:    contactOf(order),
		Amount:     order.TotalAmount,
		PaymentRef: paymentRef,
	}
}

// NewOrderPlacedJob собирает payload подтверждения заказа.
func NewOrderPlacedJob(order domain.Order) OrderPlacedJob {
	return OrderPlacedJob{
		TenantID: order.TenantID,
		OrderID:  order.OrderID,
		Contact:  contactOf(order),
		Items:    lineItems(order.Items),
		Total:    order.TotalAmount,
		Source:   order.Source,
	}
}
