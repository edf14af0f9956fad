// Package portal зеркалирует заказы в клиентский портал (Firestore), откуда их читает фронтенд.
package portal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/events"
)

const (
	tenantsCollection = "tenants"
	ordersCollection  = "orders"
	defaultTimeout    = 10 * time.Second
)

// Config описывает подключение к Firestore.
type Config struct {
	ProjectID       string
	CredentialsFile string
	// EmulatorHost подхватывается клиентом из FIRESTORE_EMULATOR_HOST, здесь только для логов.
	EmulatorHost string
}

// OrderDocument: представление заказа в портале.
type OrderDocument struct {
	OrderID         string    `firestore:"orderId"`
	ExternalOrderID string    `firestore:"externalOrderId,omitempty"`
	CustomerName    string    `firestore:"customerName"`
	Status          string    `firestore:"status"`
	EstimateStatus  string    `firestore:"estimateStatus"`
	PaymentStatus   string    `firestore:"paymentStatus"`
	InvoiceStatus   string    `firestore:"invoiceStatus"`
	DispatchStatus  string    `firestore:"dispatchStatus"`
	TotalAmount     string    `firestore:"totalAmount"`
	PaymentLink     string    `firestore:"paymentLink,omitempty"`
	TrackingNumber  string    `firestore:"trackingNumber,omitempty"`
	Courier         string    `firestore:"courier,omitempty"`
	Version         int64     `firestore:"version"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

// NewOrderDocument собирает документ портала из заказа.
func NewOrderDocument(order domain.Order) OrderDocument {
	doc := OrderDocument{
		OrderID:         order.OrderID,
		ExternalOrderID: order.ExternalOrderID,
		CustomerName:    order.Customer.Name,
		Status:          string(order.Status),
		EstimateStatus:  string(order.EstimateStatus),
		PaymentStatus:   string(order.PaymentStatus),
		InvoiceStatus:   string(order.InvoiceStatus),
		DispatchStatus:  string(order.DispatchStatus),
		TotalAmount:     order.TotalAmount.StringFixed(2),
		PaymentLink:     order.PaymentLink,
		Version:         order.Version,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
	if order.Dispatch != nil {
		doc.TrackingNumber = order.Dispatch.TrackingNumber
		doc.Courier = order.Dispatch.Courier
	}
	return doc
}

type documentWriter interface {
	Write(ctx context.Context, tenantID, orderID string, doc OrderDocument) error
}

type firestoreWriter struct {
	client *firestore.Client
}

func (w firestoreWriter) Write(ctx context.Context, tenantID, orderID string, doc OrderDocument) error {
	ref := w.client.Collection(tenantsCollection).Doc(tenantID).Collection(ordersCollection).Doc(orderID)
	_, err := ref.Set(ctx, doc)
	return err
}

// Mirror пишет снимки заказов в tenants/{tenant}/orders/{orderId}.
type Mirror struct {
	writer  documentWriter
	closer  func() error
	timeout time.Duration
	logger  *log.Entry
}

// NewFirestoreMirror открывает клиент Firestore.
func NewFirestoreMirror(ctx context.Context, cfg Config, logger *log.Entry) (*Mirror, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	m := newMirror(firestoreWriter{client: client}, logger)
	m.closer = client.Close
	m.logger.WithFields(log.Fields{"project": cfg.ProjectID, "emulator": cfg.EmulatorHost}).Info("portal mirror connected")
	return m, nil
}

func newMirror(writer documentWriter, logger *log.Entry) *Mirror {
	if logger == nil {
		logger = log.WithField("component", "portal-mirror")
	}
	return &Mirror{writer: writer, timeout: defaultTimeout, logger: logger}
}

// MirrorOrder перезаписывает документ заказа целиком. Старые версии не затирают новые:
// снимок приходит уже после успешного сохранения заказа.
func (m *Mirror) MirrorOrder(ctx context.Context, order domain.Order) error {
	if order.TenantID == "" || order.OrderID == "" {
		return errors.New("mirror order: tenant and order id are required")
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.writer.Write(ctx, order.TenantID, order.OrderID, NewOrderDocument(order)); err != nil {
		return fmt.Errorf("mirror order %s: %w", order.OrderID, err)
	}
	return nil
}

// Subscribe обновляет портал на каждое событие шины. Ошибка записи только логируется:
// портал догонит состояние на следующем событии.
// ORDER_IMPORTED пропускается, импортированный заказ зеркалирует сам шлюз.
func (m *Mirror) Subscribe(bus *events.Bus) {
	bus.SubscribeAll("portal-mirror", func(ctx context.Context, event events.Event) error {
		if event.EventName() == events.OrderImported {
			return nil
		}
		order := event.OrderSnapshot()
		if err := m.MirrorOrder(ctx, order); err != nil {
			m.logger.WithError(err).WithFields(log.Fields{
				"event":    event.EventName(),
				"tenant":   order.TenantID,
				"order_id": order.OrderID,
			}).Warn("portal mirror failed")
		}
		return nil
	})
}

// Close закрывает клиент Firestore.
func (m *Mirror) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer()
}
