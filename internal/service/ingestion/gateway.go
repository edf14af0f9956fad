// Package ingestion принимает заказы с внешней витрины.
// Повторная доставка одного заказа никогда не создаёт второй записи:
// уникальные индексы хранилища являются источником истины, проверка в коде только ускоряет ответ.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/events"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
)

const defaultMirrorTimeout = 5 * time.Second

// KeyResolver проверяет API-ключ и возвращает его тенанта.
type KeyResolver interface {
	ResolveAPIKey(raw string) (string, error)
}

// Result: итог приёма заказа. Created=false означает, что заказ уже был принят раньше.
type Result struct {
	Order   domain.Order
	Created bool
}

// Options задаёт необязательные зависимости шлюза.
type Options struct {
	Logger        *log.Entry
	Metrics       *metrics.LifecycleMetrics
	Mirror        domain.OrderMirror
	MirrorTimeout time.Duration
	Now           func() time.Time
}

// Option настраивает Gateway.
type Option func(*Options)

// WithLogger задаёт logger шлюза.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics включает метрики приёма.
func WithMetrics(m *metrics.LifecycleMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithMirror подключает зеркалирование заказа в клиентский портал.
func WithMirror(mirror domain.OrderMirror, timeout time.Duration) Option {
	return func(opts *Options) {
		opts.Mirror = mirror
		opts.MirrorTimeout = timeout
	}
}

// WithClock подменяет часы (тесты).
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// Gateway: аутентифицированный идемпотентный приём заказов.
type Gateway struct {
	keys          KeyResolver
	orders        domain.OrderRepository
	customers     domain.CustomerRepository
	bus           events.Publisher
	mirror        domain.OrderMirror
	mirrorTimeout time.Duration
	validate      *validator.Validate
	logger        *log.Entry
	metrics       *metrics.LifecycleMetrics
	now           func() time.Time
}

// NewGateway создаёт шлюз импорта.
func NewGateway(keys KeyResolver, orders domain.OrderRepository, customers domain.CustomerRepository, bus events.Publisher, options ...Option) *Gateway {
	opts := Options{MirrorTimeout: defaultMirrorTimeout}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "ingestion-gateway")
	}
	if opts.MirrorTimeout <= 0 {
		opts.MirrorTimeout = defaultMirrorTimeout
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Gateway{
		keys:          keys,
		orders:        orders,
		customers:     customers,
		bus:           bus,
		mirror:        opts.Mirror,
		mirrorTimeout: opts.MirrorTimeout,
		validate:      newValidator(),
		logger:        logger,
		metrics:       opts.Metrics,
		now:           opts.Now,
	}
}

// Import принимает заказ. hostTenant: тенант, определённый по хосту запроса (пусто, если не определён).
func (g *Gateway) Import(ctx context.Context, hostTenant string, req Request) (Result, error) {
	result, err := g.importOrder(ctx, hostTenant, req)
	g.metrics.RecordIngest(ingestResult(result, err))
	return result, err
}

func (g *Gateway) importOrder(ctx context.Context, hostTenant string, req Request) (Result, error) {
	tenantID, err := g.keys.ResolveAPIKey(req.APIKey)
	if err != nil {
		return Result{}, err
	}
	if hostTenant != "" && hostTenant != tenantID {
		g.logger.WithFields(log.Fields{
			"host_tenant": hostTenant,
			"key_tenant":  tenantID,
		}).Warn("api key used on a foreign tenant host")
		return Result{}, domain.ErrTenantMismatch
	}

	req.ExternalOrderID = strings.TrimSpace(req.ExternalOrderID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if err := g.validate.Struct(req); err != nil {
		return Result{}, validationError(err)
	}

	logger := g.logger.WithFields(log.Fields{
		"tenant_id":         tenantID,
		"external_order_id": req.ExternalOrderID,
		"idempotency_key":   req.IdempotencyKey,
	})

	if existing, found, err := g.findExisting(tenantID, req); err != nil {
		return Result{}, err
	} else if found {
		logger.WithField("order_id", existing.OrderID).Info("order already synced")
		return Result{Order: existing}, nil
	}

	customer, _, err := g.customers.GetOrCreate(domain.Customer{
		TenantID: tenantID,
		Name:     strings.TrimSpace(req.Customer.Name),
		Phone:    domain.NormalizePhone(req.Customer.Phone),
		Email:    strings.TrimSpace(req.Customer.Email),
		Address:  strings.TrimSpace(req.Customer.Address),
	})
	if err != nil {
		return Result{}, fmt.Errorf("resolve customer: %w", err)
	}

	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = domain.SourceWebsite
	}
	now := g.now()
	order := domain.NewOrder(tenantID, customer, req.items(), req.TotalAmount, source, now)
	order.ExternalOrderID = req.ExternalOrderID
	order.IdempotencyKey = req.IdempotencyKey
	order.SyncStatus = domain.SyncStatusSynced
	order.AppendTimeline(domain.OrderStatusPending, "Order imported from "+source, now)
	if err := order.Validate(); err != nil {
		return Result{}, err
	}

	if err := g.orders.Create(order); err != nil {
		if !errors.Is(err, domain.ErrDuplicateOrder) {
			return Result{}, err
		}
		// Параллельная доставка того же заказа успела раньше, либо внешний номер
		// уже принят под другим ключом идемпотентности.
		existing, found, findErr := g.findConflicting(tenantID, req)
		if findErr != nil {
			return Result{}, findErr
		}
		if !found {
			return Result{}, err
		}
		logger.WithField("order_id", existing.OrderID).Info("concurrent duplicate resolved to existing order")
		return Result{Order: existing}, nil
	}

	g.mirrorOrder(ctx, order, logger)
	if g.bus != nil {
		g.bus.Publish(ctx, events.OrderImportedEvent{Order: order})
	}

	logger.WithField("order_id", order.OrderID).Info("order imported")
	return Result{Order: order, Created: true}, nil
}

// findExisting ищет уже принятый заказ: по ключу идемпотентности, а без него по внешнему номеру.
func (g *Gateway) findExisting(tenantID string, req Request) (domain.Order, bool, error) {
	var (
		order domain.Order
		err   error
	)
	switch {
	case req.IdempotencyKey != "":
		order, err = g.orders.FindByIdempotencyKey(tenantID, req.IdempotencyKey)
	case req.ExternalOrderID != "":
		order, err = g.orders.FindByExternalID(tenantID, req.ExternalOrderID)
	default:
		return domain.Order{}, false, nil
	}

	if errors.Is(err, domain.ErrOrderNotFound) {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, err
	}
	return order, true, nil
}

// findConflicting ищет заказ, с которым столкнулась запись: сначала по ключу, затем по внешнему номеру.
func (g *Gateway) findConflicting(tenantID string, req Request) (domain.Order, bool, error) {
	existing, found, err := g.findExisting(tenantID, req)
	if err != nil || found || req.IdempotencyKey == "" || req.ExternalOrderID == "" {
		return existing, found, err
	}
	byExternal := req
	byExternal.IdempotencyKey = ""
	return g.findExisting(tenantID, byExternal)
}

func (g *Gateway) mirrorOrder(ctx context.Context, order domain.Order, logger *log.Entry) {
	if g.mirror == nil {
		return
	}
	mirrorCtx, cancel := context.WithTimeout(ctx, g.mirrorTimeout)
	defer cancel()

	if err := g.mirror.MirrorOrder(mirrorCtx, order); err != nil {
		logger.WithError(err).WithField("order_id", order.OrderID).Warn("portal mirror failed")
	}
}

func ingestResult(result Result, err error) string {
	switch {
	case err == nil && result.Created:
		return metrics.IngestCreated
	case err == nil:
		return metrics.IngestDuplicate
	case domain.IsValidation(err),
		errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrTenantMismatch):
		return metrics.IngestRejected
	default:
		return metrics.IngestFailed
	}
}
