package httpapi

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/service/lifecycle"
)

type customerDTO struct {
	Name    string `json:"name" binding:"required,max=200"`
	Phone   string `json:"phone" binding:"required,max=32"`
	Email   string `json:"email" binding:"omitempty,email"`
	Address string `json:"address" binding:"max=500"`
}

type itemDTO struct {
	Name     string          `json:"name" binding:"required,max=200"`
	Quantity int             `json:"quantity" binding:"gt=0"`
	Price    decimal.Decimal `json:"price"`
}

type createOrderRequest struct {
	Customer    customerDTO      `json:"customer"`
	Items       []itemDTO        `json:"items" binding:"required,min=1,dive"`
	TotalAmount *decimal.Decimal `json:"totalAmount"`
	Source      string           `json:"source" binding:"max=64"`
}

type estimateRequest struct {
	Items        []itemDTO `json:"items" binding:"required,min=1,dive"`
	ValidityDays int       `json:"validityDays" binding:"gte=0,lte=365"`
	Notes        string    `json:"notes" binding:"max=2000"`
}

type estimateResponseRequest struct {
	Response string `json:"response" binding:"required"`
}

type paymentRequest struct {
	PaymentRef string `json:"paymentRef" binding:"max=128"`
}

type dispatchRequest struct {
	Courier          string    `json:"courier" binding:"required,max=100"`
	TrackingNumber   string    `json:"trackingNumber" binding:"required,max=100"`
	ExpectedDelivery time.Time `json:"expectedDelivery"`
}

type cancelRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

func toItemInputs(items []itemDTO) []lifecycle.ItemInput {
	out := make([]lifecycle.ItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, lifecycle.ItemInput{Name: item.Name, Quantity: item.Quantity, Price: item.Price})
	}
	return out
}

// bindingError переводит ошибку разбора тела в ValidationError.
func bindingError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.NewValidationError("body", "malformed JSON")
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe.Namespace())] = validationMessage(fe)
	}
	return &domain.ValidationError{Fields: fields}
}

// fieldPath превращает "createOrderRequest.Customer.Phone" в "customer.phone".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		r := []rune(p)
		if len(r) > 0 {
			r[0] = unicode.ToLower(r[0])
		}
		parts[i] = string(r)
	}
	return strings.Join(parts, ".")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return "must contain at least " + fe.Param() + " element(s)"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte", "lte":
		return "is out of range"
	default:
		return "is invalid"
	}
}

type itemResponse struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Total    decimal.Decimal `json:"total"`
}

type estimateResponse struct {
	Items      []itemResponse  `json:"items"`
	SubTotal   decimal.Decimal `json:"subTotal"`
	Tax        decimal.Decimal `json:"tax"`
	Total      decimal.Decimal `json:"total"`
	ValidUntil time.Time       `json:"validUntil"`
	Notes      string          `json:"notes,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type dispatchResponse struct {
	Courier          string    `json:"courier"`
	TrackingNumber   string    `json:"trackingNumber"`
	ExpectedDelivery time.Time `json:"expectedDelivery"`
	DispatchedAt     time.Time `json:"dispatchedAt"`
}

type timelineResponse struct {
	Status      string    `json:"status"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

type syncLogResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// syncOrderResponse: ответ витрине без общего конверта. InternalID только при первом создании.
type syncOrderResponse struct {
	Success    bool   `json:"success"`
	OrderID    string `json:"orderId"`
	InternalID string `json:"internalId,omitempty"`
}

type orderResponse struct {
	ID              string             `json:"id"`
	OrderID         string             `json:"orderId"`
	TenantID        string             `json:"tenantId"`
	ExternalOrderID string             `json:"externalOrderId,omitempty"`
	Source          string             `json:"source"`
	CustomerID      string             `json:"customerId"`
	Customer        customerDTO        `json:"customer"`
	Items           []itemResponse     `json:"items"`
	TotalAmount     decimal.Decimal    `json:"totalAmount"`
	Status          string             `json:"status"`
	EstimateStatus  string             `json:"estimateStatus"`
	PaymentStatus   string             `json:"paymentStatus"`
	InvoiceStatus   string             `json:"invoiceStatus"`
	DispatchStatus  string             `json:"dispatchStatus"`
	SyncStatus      string             `json:"syncStatus"`
	Estimate        *estimateResponse  `json:"estimate,omitempty"`
	Dispatch        *dispatchResponse  `json:"dispatch,omitempty"`
	PaymentRef      string             `json:"paymentRef,omitempty"`
	PaymentLink     string             `json:"paymentLink,omitempty"`
	Timeline        []timelineResponse `json:"timeline"`
	SyncLog         []syncLogResponse  `json:"syncLog"`
	Version         int64              `json:"version"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

func toItemResponses(items []domain.OrderItem) []itemResponse {
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, itemResponse{Name: item.Name, Quantity: item.Quantity, Price: item.Price, Total: item.Total})
	}
	return out
}

func toOrderResponse(o domain.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		OrderID:         o.OrderID,
		TenantID:        o.TenantID,
		ExternalOrderID: o.ExternalOrderID,
		Source:          o.Source,
		CustomerID:      o.CustomerID,
		Customer: customerDTO{
			Name: o.Customer.Name, Phone: o.Customer.Phone, Email: o.Customer.Email, Address: o.Customer.Address,
		},
		Items:          toItemResponses(o.Items),
		TotalAmount:    o.TotalAmount,
		Status:         string(o.Status),
		EstimateStatus: string(o.EstimateStatus),
		PaymentStatus:  string(o.PaymentStatus),
		InvoiceStatus:  string(o.InvoiceStatus),
		DispatchStatus: string(o.DispatchStatus),
		SyncStatus:     string(o.SyncStatus),
		PaymentRef:     o.PaymentRef,
		PaymentLink:    o.PaymentLink,
		Timeline:       make([]timelineResponse, 0, len(o.Timeline)),
		SyncLog:        make([]syncLogResponse, 0, len(o.SyncLog)),
		Version:        o.Version,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if e := o.Estimate; e != nil {
		resp.Estimate = &estimateResponse{
			Items: toItemResponses(e.Items), SubTotal: e.SubTotal, Tax: e.Tax, Total: e.Total,
			ValidUntil: e.ValidUntil, Notes: e.Notes, CreatedAt: e.CreatedAt,
		}
	}
	if d := o.Dispatch; d != nil {
		resp.Dispatch = &dispatchResponse{
			Courier: d.Courier, TrackingNumber: d.TrackingNumber,
			ExpectedDelivery: d.ExpectedDelivery, DispatchedAt: d.DispatchedAt,
		}
	}
	for _, t := range o.Timeline {
		resp.Timeline = append(resp.Timeline, timelineResponse{Status: string(t.Status), Description: t.Description, Timestamp: t.Timestamp})
	}
	for _, s := range o.SyncLog {
		resp.SyncLog = append(resp.SyncLog, syncLogResponse{Success: s.Success, Message: s.Message, Timestamp: s.Timestamp})
	}
	return resp
}

type failedSyncResponse struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenantId"`
	OrderID     string     `json:"orderId"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retryCount"`
	Reason      string     `json:"reason"`
	LastTriedAt *time.Time `json:"lastTriedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func toFailedSyncResponse(r domain.FailedSync) failedSyncResponse {
	resp := failedSyncResponse{
		ID: r.ID, TenantID: r.TenantID, OrderID: r.OrderID, Status: string(r.Status),
		RetryCount: r.RetryCount, Reason: r.Reason, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if !r.LastTriedAt.IsZero() {
		at := r.LastTriedAt
		resp.LastTriedAt = &at
	}
	return resp
}
