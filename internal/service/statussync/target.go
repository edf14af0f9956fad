package statussync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// StatusPayload: тело запроса к витрине.
type StatusPayload struct {
	ExternalOrderID string           `json:"externalOrderId"`
	Status          string           `json:"status"`
	PaymentStatus   string           `json:"paymentStatus"`
	DispatchStatus  string           `json:"dispatchStatus"`
	DispatchDetails *DispatchPayload `json:"dispatchDetails,omitempty"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// DispatchPayload: данные отгрузки в теле запроса.
type DispatchPayload struct {
	Courier          string    `json:"courier"`
	TrackingNumber   string    `json:"trackingNumber"`
	ExpectedDelivery time.Time `json:"expectedDelivery"`
}

// NewStatusPayload собирает тело запроса из заказа.
func NewStatusPayload(order domain.Order) StatusPayload {
	payload := StatusPayload{
		ExternalOrderID: order.ExternalOrderID,
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		DispatchStatus:  string(order.DispatchStatus),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
	if order.Dispatch != nil {
		payload.DispatchDetails = &DispatchPayload{
			Courier:          order.Dispatch.Courier,
			TrackingNumber:   order.Dispatch.TrackingNumber,
			ExpectedDelivery: order.Dispatch.ExpectedDelivery.UTC(),
		}
	}
	return payload
}

// Target доставляет статус на витрину.
type Target interface {
	Push(ctx context.Context, url string, payload StatusPayload) error
}

// HTTPTarget отправляет статус POST-запросом с JSON.
type HTTPTarget struct {
	client  *http.Client
	breaker *CircuitBreaker
	token   string
}

// NewHTTPTarget создаёт HTTP-клиент витрины. breaker может быть nil.
func NewHTTPTarget(client *http.Client, breaker *CircuitBreaker, token string) *HTTPTarget {
	if client == nil {
		client = &http.Client{Timeout: defaultPushTimeout}
	}
	return &HTTPTarget{client: client, breaker: breaker, token: strings.TrimSpace(token)}
}

func (t *HTTPTarget) Push(ctx context.Context, url string, payload StatusPayload) error {
	return t.breaker.Execute(url, func() error {
		return t.post(ctx, url, payload)
	})
}

func (t *HTTPTarget) post(ctx context.Context, url string, payload StatusPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode status payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("storefront responded %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// URLResolver выбирает адрес витрины тенанта.
type URLResolver struct {
	perTenant map[string]string
	fallback  string
}

// NewURLResolver создаёт resolver адресов. fallback используется для тенантов без своего адреса.
func NewURLResolver(perTenant map[string]string, fallback string) URLResolver {
	copied := make(map[string]string, len(perTenant))
	for tenantID, url := range perTenant {
		if url = strings.TrimSpace(url); url != "" {
			copied[tenantID] = url
		}
	}
	return URLResolver{perTenant: copied, fallback: strings.TrimSpace(fallback)}
}

// URL возвращает адрес для тенанта или пустую строку.
func (r URLResolver) URL(tenantID string) string {
	if url, ok := r.perTenant[tenantID]; ok {
		return url
	}
	return r.fallback
}
