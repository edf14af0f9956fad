// Package lifecycle реализует конечный автомат заказа.
// Каждая операция меняет один заказ с проверкой версии, дописывает одну запись
// в журнал и публикует одно событие.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/events"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
)

const (
	defaultLinkTimeout = 10 * time.Second
	defaultCurrency    = "INR"
)

// EstimateResponse: ответ клиента на смету.
type EstimateResponse string

const (
	EstimateAccept EstimateResponse = "ACCEPT"
	EstimateReject EstimateResponse = "REJECT"
)

// ItemInput: позиция заказа или сметы во входных данных.
type ItemInput struct {
	Name     string
	Quantity int
	Price    decimal.Decimal
}

// CreateOrderInput: данные для создания заказа внутри системы.
type CreateOrderInput struct {
	TenantID    string
	Customer    domain.CustomerSnapshot
	Items       []ItemInput
	// TotalAmount: nil означает сумму по позициям.
	TotalAmount *decimal.Decimal
	Source      string
}

// EstimateInput: данные сметы.
type EstimateInput struct {
	Items        []ItemInput
	ValidityDays int
	Notes        string
}

// DispatchInput: данные об отгрузке.
type DispatchInput struct {
	Courier          string
	TrackingNumber   string
	ExpectedDelivery time.Time
}

// Options задаёт необязательные зависимости контроллера.
type Options struct {
	Logger      *log.Entry
	Metrics     *metrics.LifecycleMetrics
	PayLinks    domain.PaymentLinkProvider
	LinkTimeout time.Duration
	Currency    string
	Now         func() time.Time
}

// Option настраивает Controller.
type Option func(*Options)

// WithLogger задаёт logger контроллера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics включает метрики переходов.
func WithMetrics(m *metrics.LifecycleMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithPaymentLinks подключает генерацию ссылок на оплату при выставлении счёта.
func WithPaymentLinks(provider domain.PaymentLinkProvider, timeout time.Duration) Option {
	return func(opts *Options) {
		opts.PayLinks = provider
		opts.LinkTimeout = timeout
	}
}

// WithCurrency задаёт валюту ссылок на оплату.
func WithCurrency(currency string) Option {
	return func(opts *Options) {
		opts.Currency = currency
	}
}

// WithClock подменяет часы (тесты).
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// Controller: единственный код, который меняет статус заказа.
type Controller struct {
	orders      domain.OrderRepository
	customers   domain.CustomerRepository
	bus         events.Publisher
	payLinks    domain.PaymentLinkProvider
	linkTimeout time.Duration
	currency    string
	logger      *log.Entry
	metrics     *metrics.LifecycleMetrics
	now         func() time.Time
}

// NewController создаёт контроллер жизненного цикла.
func NewController(orders domain.OrderRepository, customers domain.CustomerRepository, bus events.Publisher, options ...Option) *Controller {
	opts := Options{
		LinkTimeout: defaultLinkTimeout,
		Currency:    defaultCurrency,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "order-lifecycle")
	}
	if opts.LinkTimeout <= 0 {
		opts.LinkTimeout = defaultLinkTimeout
	}
	if strings.TrimSpace(opts.Currency) == "" {
		opts.Currency = defaultCurrency
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Controller{
		orders:      orders,
		customers:   customers,
		bus:         bus,
		payLinks:    opts.PayLinks,
		linkTimeout: opts.LinkTimeout,
		currency:    opts.Currency,
		logger:      logger,
		metrics:     opts.Metrics,
		now:         opts.Now,
	}
}

// GetOrder возвращает заказ тенанта.
func (c *Controller) GetOrder(tenantID, orderID string) (domain.Order, error) {
	return c.orders.Get(tenantID, orderID)
}

// ListOrders возвращает последние заказы тенанта.
func (c *Controller) ListOrders(tenantID string, limit int) ([]domain.Order, error) {
	return c.orders.List(tenantID, limit)
}

// CreateOrder создаёт заказ в статусе PENDING и публикует ORDER_CREATED.
func (c *Controller) CreateOrder(ctx context.Context, in CreateOrderInput) (order domain.Order, err error) {
	defer c.observe("create_order", time.Now(), &err)

	if in.TotalAmount != nil && in.TotalAmount.IsNegative() {
		return domain.Order{}, domain.NewValidationError("totalAmount", domain.ErrAmountNegative.Error())
	}

	now := c.now()
	items := buildItems(in.Items)
	draft := domain.NewOrder(in.TenantID, domain.Customer{}, items, in.TotalAmount, in.Source, now)
	draft.Customer = in.Customer
	draft.Customer.Phone = domain.NormalizePhone(in.Customer.Phone)
	if err := draft.Validate(); err != nil {
		return domain.Order{}, err
	}

	customer, _, err := c.customers.GetOrCreate(domain.Customer{
		TenantID: in.TenantID,
		Name:     strings.TrimSpace(in.Customer.Name),
		Phone:    draft.Customer.Phone,
		Email:    strings.TrimSpace(in.Customer.Email),
		Address:  strings.TrimSpace(in.Customer.Address),
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("resolve customer: %w", err)
	}

	order = draft
	order.CustomerID = customer.ID
	order.AppendTimeline(domain.OrderStatusPending, "Order created", now)

	if err := c.orders.Create(order); err != nil {
		return domain.Order{}, err
	}

	c.publish(ctx, events.OrderCreatedEvent{Order: order})
	c.logger.WithFields(log.Fields{
		"tenant_id": order.TenantID,
		"order_id":  order.OrderID,
		"amount":    order.TotalAmount.String(),
	}).Info("order created")
	return order, nil
}

// CreateEstimate формирует смету и переводит заказ в ESTIMATE_SENT.
// Итог сметы заменяет исходную сумму заказа.
func (c *Controller) CreateEstimate(ctx context.Context, tenantID, orderID string, in EstimateInput) (order domain.Order, err error) {
	defer c.observe("create_estimate", time.Now(), &err)

	items := buildItems(in.Items)
	if err := validateItems(items); err != nil {
		return domain.Order{}, err
	}

	var estimate domain.Estimate
	order, err = c.mutate(tenantID, orderID, func(o *domain.Order) error {
		if o.Status != domain.OrderStatusPending && o.Status != domain.OrderStatusEstimateSent {
			return transitionError(o, "create estimate")
		}
		if o.EstimateStatus == domain.EstimateStatusApproved {
			return transitionError(o, "create estimate")
		}

		now := c.now()
		estimate = domain.BuildEstimate(items, in.ValidityDays, in.Notes, now)
		o.Estimate = &estimate
		o.EstimateStatus = domain.EstimateStatusSent
		o.Status = domain.OrderStatusEstimateSent
		o.TotalAmount = estimate.Total
		o.AppendTimeline(o.Status, "Estimate sent for "+estimate.Total.StringFixed(2), now)
		return nil
	})
	if err != nil {
		return order, err
	}

	c.publish(ctx, events.EstimateGeneratedEvent{Order: order, Estimate: estimate})
	return order, nil
}

// HandleEstimateResponse применяет ответ клиента. Повторное принятие ничего не меняет.
func (c *Controller) HandleEstimateResponse(ctx context.Context, tenantID, orderID string, response EstimateResponse) (order domain.Order, err error) {
	defer c.observe("estimate_response", time.Now(), &err)

	response = EstimateResponse(strings.ToUpper(strings.TrimSpace(string(response))))
	if response != EstimateAccept && response != EstimateReject {
		return domain.Order{}, domain.NewValidationError("response", "must be ACCEPT or REJECT")
	}

	order, err = c.mutate(tenantID, orderID, func(o *domain.Order) error {
		if o.EstimateStatus == domain.EstimateStatusApproved {
			return domain.ErrNoChange
		}
		if o.Status == domain.OrderStatusCancelled || o.EstimateStatus == domain.EstimateStatusNone {
			return transitionError(o, "respond to estimate")
		}

		now := c.now()
		if response == EstimateAccept {
			o.EstimateStatus = domain.EstimateStatusApproved
			o.Status = domain.OrderStatusConfirmed
			o.AppendTimeline(o.Status, "Estimate approved by customer", now)
			return nil
		}
		if o.EstimateStatus == domain.EstimateStatusRejected {
			return domain.ErrNoChange
		}
		o.EstimateStatus = domain.EstimateStatusRejected
		o.AppendTimeline(o.Status, "Estimate rejected by customer", now)
		return nil
	})
	if err != nil {
		return c.unchanged(order, err)
	}

	if response == EstimateAccept {
		c.publish(ctx, events.EstimateApprovedEvent{Order: order})
	} else {
		c.publish(ctx, events.EstimateRejectedEvent{Order: order})
	}
	return order, nil
}

// UpdatePaymentStatus отмечает заказ оплаченным. Повторная оплата ничего не меняет.
// Статус не откатывается назад, если заказ уже ушёл дальше по графу.
func (c *Controller) UpdatePaymentStatus(ctx context.Context, tenantID, orderID, paymentRef string) (order domain.Order, err error) {
	defer c.observe("update_payment", time.Now(), &err)

	paymentRef = strings.TrimSpace(paymentRef)
	order, err = c.mutate(tenantID, orderID, func(o *domain.Order) error {
		if o.PaymentStatus == domain.PaymentStatusPaid {
			return domain.ErrNoChange
		}
		if o.Status == domain.OrderStatusCancelled {
			return transitionError(o, "accept payment")
		}

		o.PaymentStatus = domain.PaymentStatusPaid
		o.PaymentRef = paymentRef
		if o.Status.Before(domain.OrderStatusPaymentCompleted) {
			o.Status = domain.OrderStatusPaymentCompleted
		}
		description := "Payment received"
		if paymentRef != "" {
			description += " (" + paymentRef + ")"
		}
		o.AppendTimeline(o.Status, description, c.now())
		return nil
	})
	if err != nil {
		return c.unchanged(order, err)
	}

	c.publish(ctx, events.PaymentSucceededEvent{Order: order, PaymentRef: paymentRef})
	return order, nil
}

// GenerateInvoice выставляет счёт. Для неоплаченного заказа создаётся ссылка на оплату.
func (c *Controller) GenerateInvoice(ctx context.Context, tenantID, orderID string) (order domain.Order, err error) {
	defer c.observe("generate_invoice", time.Now(), &err)

	current, err := c.orders.Get(tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if current.InvoiceStatus == domain.InvoiceStatusGenerated {
		return current, nil
	}
	if err := checkInvoiceable(&current); err != nil {
		return domain.Order{}, err
	}

	link := current.PaymentLink
	if link == "" && current.PaymentStatus != domain.PaymentStatusPaid && c.payLinks != nil {
		link, err = c.createPaymentLink(ctx, current)
		if err != nil {
			return domain.Order{}, err
		}
	}

	order, err = c.mutate(tenantID, orderID, func(o *domain.Order) error {
		if o.InvoiceStatus == domain.InvoiceStatusGenerated {
			return domain.ErrNoChange
		}
		if err := checkInvoiceable(o); err != nil {
			return err
		}
		o.InvoiceStatus = domain.InvoiceStatusGenerated
		o.Status = domain.OrderStatusInvoiced
		if o.PaymentLink == "" {
			o.PaymentLink = link
		}
		o.AppendTimeline(o.Status, "Invoice generated", c.now())
		return nil
	})
	if err != nil {
		return c.unchanged(order, err)
	}

	c.publish(ctx, events.InvoiceGeneratedEvent{Order: order, PaymentLink: order.PaymentLink})
	return order, nil
}

func checkInvoiceable(o *domain.Order) error {
	if o.Status != domain.OrderStatusConfirmed && o.Status != domain.OrderStatusPaymentCompleted {
		return transitionError(o, "generate invoice")
	}
	return nil
}

func (c *Controller) createPaymentLink(ctx context.Context, order domain.Order) (string, error) {
	linkCtx, cancel := context.WithTimeout(ctx, c.linkTimeout)
	defer cancel()

	link, err := c.payLinks.CreateLink(linkCtx, domain.PaymentLinkRequest{
		TenantID:      order.TenantID,
		OrderID:       order.OrderID,
		Amount:        order.TotalAmount,
		Currency:      c.currency,
		CustomerName:  order.Customer.Name,
		CustomerEmail: order.Customer.Email,
	})
	if err != nil {
		return "", fmt.Errorf("create payment link: %w", err)
	}
	return link, nil
}

// MarkDispatched фиксирует отгрузку. Повторная отгрузка разрешена, отменённый заказ отгрузить нельзя.
func (c *Controller) MarkDispatched(ctx context.Context, tenantID, orderID string, in DispatchInput) (order domain.Order, err error) {
	defer c.observe("mark_dispatched", time.Now(), &err)

	courier := strings.TrimSpace(in.Courier)
	tracking := strings.TrimSpace(in.TrackingNumber)
	if courier == "" || tracking == "" {
		return domain.Order{}, &domain.ValidationError{Fields: map[string]string{
			"courier":        "courier and tracking number are required",
			"trackingNumber": "courier and tracking number are required",
		}}
	}

	var details domain.DispatchDetails
	order, err = c.mutate(tenantID, orderID, func(o *domain.Order) error {
		if o.Status == domain.OrderStatusCancelled {
			return transitionError(o, "dispatch")
		}

		now := c.now()
		details = domain.DispatchDetails{
			Courier:          courier,
			TrackingNumber:   tracking,
			ExpectedDelivery: in.ExpectedDelivery.UTC(),
			DispatchedAt:     now,
		}
		o.Dispatch = &details
		o.DispatchStatus = domain.DispatchStatusDispatched
		o.Status = domain.OrderStatusDispatched
		o.AppendTimeline(o.Status, fmt.Sprintf("Dispatched via %s, tracking %s", courier, tracking), now)
		return nil
	})
	if err != nil {
		return order, err
	}

	c.publish(ctx, events.OrderDispatchedEvent{Order: order, Dispatch: details})
	return order, nil
}

// MarkDelivered закрывает доставку.
func (c *Controller) MarkDelivered(ctx context.Context, tenantID, orderID string) (order domain.Order, err error) {
	defer c.observe("mark_delivered", time.Now(), &err)

	order, err = c.mutate(tenantID, orderID, func(o *domain.Order) error {
		if o.Status == domain.OrderStatusDelivered {
			return domain.ErrNoChange
		}
		if o.Status != domain.OrderStatusDispatched {
			return transitionError(o, "deliver")
		}
		o.DispatchStatus = domain.DispatchStatusDelivered
		o.Status = domain.OrderStatusDelivered
		o.AppendTimeline(o.Status, "Order delivered", c.now())
		return nil
	})
	if err != nil {
		return c.unchanged(order, err)
	}

	c.publish(ctx, events.OrderDeliveredEvent{Order: order})
	return order, nil
}

// CancelOrder отменяет заказ до отгрузки. CANCELLED: конечный статус.
func (c *Controller) CancelOrder(ctx context.Context, tenantID, orderID, reason string) (order domain.Order, err error) {
	defer c.observe("cancel_order", time.Now(), &err)

	reason = strings.TrimSpace(reason)
	order, err = c.mutate(tenantID, orderID, func(o *domain.Order) error {
		if o.Status == domain.OrderStatusCancelled {
			return domain.ErrNoChange
		}
		if o.Status == domain.OrderStatusDispatched || o.Status == domain.OrderStatusDelivered {
			return transitionError(o, "cancel")
		}
		o.Status = domain.OrderStatusCancelled
		description := "Order cancelled"
		if reason != "" {
			description += ": " + reason
		}
		o.AppendTimeline(o.Status, description, c.now())
		return nil
	})
	if err != nil {
		return c.unchanged(order, err)
	}

	c.publish(ctx, events.OrderCancelledEvent{Order: order, Reason: reason})
	return order, nil
}

// mutate применяет change с проверкой версии и повтором при конфликте.
func (c *Controller) mutate(tenantID, orderID string, change func(*domain.Order) error) (domain.Order, error) {
	order, err := domain.UpdateOrder(c.orders, tenantID, orderID, change)
	if err != nil && domain.IsVersionConflict(err) {
		c.metrics.RecordVersionConflict()
		c.logger.WithFields(log.Fields{
			"tenant_id": tenantID,
			"order_id":  orderID,
		}).Warn("order mutation gave up after version conflicts")
	}
	return order, err
}

// unchanged превращает ErrNoChange в успешный ответ с текущим состоянием заказа.
func (c *Controller) unchanged(order domain.Order, err error) (domain.Order, error) {
	if domain.IsNoChange(err) {
		c.logger.WithFields(log.Fields{
			"tenant_id": order.TenantID,
			"order_id":  order.OrderID,
			"status":    order.Status,
		}).Debug("transition skipped, order already in requested state")
		return order, nil
	}
	return order, err
}

func (c *Controller) publish(ctx context.Context, event events.Event) {
	c.metrics.RecordTransition(string(event.EventName()))
	if c.bus != nil {
		c.bus.Publish(ctx, event)
	}
}

func (c *Controller) observe(operation string, started time.Time, err *error) {
	c.metrics.ObserveOperation(operation, *err, time.Since(started))
}

func transitionError(o *domain.Order, action string) error {
	return fmt.Errorf("%w: cannot %s order %s in status %s", domain.ErrInvalidTransition, action, o.OrderID, o.Status)
}

func buildItems(inputs []ItemInput) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(inputs))
	for _, in := range inputs {
		items = append(items, domain.NewOrderItem(in.Name, in.Quantity, in.Price))
	}
	return items
}

func validateItems(items []domain.OrderItem) error {
	if len(items) == 0 {
		return domain.NewValidationError("items", domain.ErrItemsRequired.Error())
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return domain.NewValidationError("items", domain.ErrItemQtyInvalid.Error())
		}
		if item.Price.IsNegative() {
			return domain.NewValidationError("items", domain.ErrItemPriceInvalid.Error())
		}
	}
	return nil
}

// IsClientError сообщает, что ошибка вызвана запросом, а не сбоем инфраструктуры.
func IsClientError(err error) bool {
	return domain.IsValidation(err) ||
		errors.Is(err, domain.ErrOrderNotFound) ||
		errors.Is(err, domain.ErrInvalidTransition)
}
