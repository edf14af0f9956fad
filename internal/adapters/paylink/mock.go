package paylink

import (
	"context"
	"net/url"
	"strings"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const defaultMockBase = "https://pay.local/checkout"

// MockLinks строит детерминированную ссылку без внешнего провайдера.
type MockLinks struct {
	base string
}

// NewMockLinks создаёт провайдер ссылок вида base/{tenant}/{order}?amount=...
func NewMockLinks(base string) *MockLinks {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = defaultMockBase
	}
	return &MockLinks{base: base}
}

func (m *MockLinks) CreateLink(_ context.Context, req domain.PaymentLinkRequest) (string, error) {
	q := url.Values{}
	q.Set("amount", req.Amount.StringFixed(2))
	if req.Currency != "" {
		q.Set("currency", strings.ToLower(req.Currency))
	}
	return m.base + "/" + url.PathEscape(req.TenantID) + "/" + url.PathEscape(req.OrderID) + "?" + q.Encode(), nil
}
