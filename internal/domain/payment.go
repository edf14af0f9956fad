package domain

import "github.com/shopspring/decimal"

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	// PaymentStatusPending: оплата ещё не поступила.
	PaymentStatusPending PaymentStatus = "PENDING"
	// PaymentStatusPaid: оплата подтверждена.
	PaymentStatusPaid PaymentStatus = "PAID"
)

// PaymentLinkRequest: данные для создания ссылки на оплату.
type PaymentLinkRequest struct {
	TenantID      string
	OrderID       string
	Amount        decimal.Decimal
	Currency      string
	CustomerName  string
	CustomerEmail string
}
