// Package paylink создаёт ссылки на оплату заказов.
package paylink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const defaultCurrency = "usd"

type sessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeConfig описывает Checkout-сессии Stripe.
type StripeConfig struct {
	APIKey     string
	SuccessURL string
	CancelURL  string
	Currency   string
}

// StripeLinks выдаёт ссылку на Stripe Checkout.
type StripeLinks struct {
	sessions sessionAPI
	cfg      StripeConfig
}

// NewStripeLinks создаёт клиент Stripe с ключом из конфигурации.
func NewStripeLinks(cfg StripeConfig) (*StripeLinks, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("stripe: api key is required")
	}
	return newStripeLinks(client.New(key, nil).CheckoutSessions, cfg), nil
}

func newStripeLinks(sessions sessionAPI, cfg StripeConfig) *StripeLinks {
	cfg.Currency = strings.ToLower(strings.TrimSpace(cfg.Currency))
	if cfg.Currency == "" {
		cfg.Currency = defaultCurrency
	}
	return &StripeLinks{sessions: sessions, cfg: cfg}
}

// CreateLink создаёт Checkout-сессию на полную сумму заказа.
// Ключ идемпотентности строится из тенанта, заказа и суммы.
func (s *StripeLinks) CreateLink(ctx context.Context, req domain.PaymentLinkRequest) (string, error) {
	if !req.Amount.IsPositive() {
		return "", domain.NewValidationError("totalAmount", "payment amount must be positive")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.cfg.Currency
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(minorUnits(req.Amount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + req.OrderID),
				},
			},
		}},
		Metadata: map[string]string{
			"tenant_id": req.TenantID,
			"order_id":  req.OrderID,
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx
	params.SetIdempotencyKey(fmt.Sprintf("paylink:%s:%s:%s", req.TenantID, req.OrderID, req.Amount.StringFixed(2)))

	session, err := s.sessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe checkout session: %w", err)
	}
	if session == nil || session.URL == "" {
		return "", errors.New("stripe checkout session: empty url")
	}
	return session.URL, nil
}

func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// Fallback пробует основной провайдер и при ошибке выдаёт ссылку запасного.
type Fallback struct {
	primary  domain.PaymentLinkProvider
	fallback domain.PaymentLinkProvider
	logger   *log.Entry
}

// NewFallback собирает цепочку провайдеров. primary может быть nil: тогда сразу используется fallback.
func NewFallback(primary, fallback domain.PaymentLinkProvider, logger *log.Entry) *Fallback {
	if logger == nil {
		logger = log.WithField("component", "payment-links")
	}
	return &Fallback{primary: primary, fallback: fallback, logger: logger}
}

func (f *Fallback) CreateLink(ctx context.Context, req domain.PaymentLinkRequest) (string, error) {
	if f.primary != nil {
		link, err := f.primary.CreateLink(ctx, req)
		if err == nil {
			return link, nil
		}
		if domain.IsValidation(err) {
			return "", err
		}
		f.logger.WithError(err).WithFields(log.Fields{
			"tenant_id": req.TenantID,
			"order_id":  req.OrderID,
		}).Warn("payment provider failed, using fallback link")
	}
	return f.fallback.CreateLink(ctx, req)
}
