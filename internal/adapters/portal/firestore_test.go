package portal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/events"
)

type stubWriter struct {
	mu   sync.Mutex
	err  error
	docs map[string]OrderDocument
}

func (w *stubWriter) Write(_ context.Context, tenantID, orderID string, doc OrderDocument) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if w.docs == nil {
		w.docs = make(map[string]OrderDocument)
	}
	w.docs[tenantID+"/"+orderID] = doc
	return nil
}

func sampleOrder() domain.Order {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	items := []domain.OrderItem{domain.NewOrderItem("Chair", 2, decimal.RequireFromString("12.5"))}
	order := domain.NewOrder("tenant-a", domain.Customer{ID: "cust-1", Name: "Ann", Email: "ann@example.com"},
		items, nil, domain.SourceWebsite, now)
	order.ExternalOrderID = "ext-9"
	order.Dispatch = &domain.DispatchDetails{Courier: "DHL", TrackingNumber: "TRK-1"}
	return order
}

func TestMirrorOrderWritesDocument(t *testing.T) {
	writer := &stubWriter{}
	mirror := newMirror(writer, nil)
	order := sampleOrder()

	require.NoError(t, mirror.MirrorOrder(context.Background(), order))

	doc, ok := writer.docs["tenant-a/"+order.OrderID]
	require.True(t, ok)
	require.Equal(t, "ext-9", doc.ExternalOrderID)
	require.Equal(t, "Ann", doc.CustomerName)
	require.Equal(t, "25.00", doc.TotalAmount)
	require.Equal(t, string(domain.OrderStatusPending), doc.Status)
	require.Equal(t, "TRK-1", doc.TrackingNumber)
	require.Equal(t, int64(1), doc.Version)
}

func TestMirrorOrderValidation(t *testing.T) {
	mirror := newMirror(&stubWriter{}, nil)
	require.Error(t, mirror.MirrorOrder(context.Background(), domain.Order{TenantID: "t"}))
}

func TestMirrorOrderWrapsWriteError(t *testing.T) {
	boom := errors.New("unavailable")
	mirror := newMirror(&stubWriter{err: boom}, nil)
	err := mirror.MirrorOrder(context.Background(), sampleOrder())
	require.ErrorIs(t, err, boom)
}

func TestMirrorSubscribeKeepsBusHealthy(t *testing.T) {
	writer := &stubWriter{}
	mirror := newMirror(writer, nil)
	bus := events.NewBus(nil, nil)
	mirror.Subscribe(bus)

	order := sampleOrder()
	order.Status = domain.OrderStatusDispatched
	bus.Publish(context.Background(), events.OrderDispatchedEvent{Order: order})
	require.Equal(t, string(domain.OrderStatusDispatched), writer.docs["tenant-a/"+order.OrderID].Status)

	writer.err = errors.New("down")
	require.NotPanics(t, func() {
		bus.Publish(context.Background(), events.OrderDeliveredEvent{Order: order})
	})
}

func TestNewFirestoreMirrorRequiresProject(t *testing.T) {
	_, err := NewFirestoreMirror(context.Background(), Config{}, nil)
	require.Error(t, err)
}

func TestMirrorSubscribeLeavesImportsToGateway(t *testing.T) {
	writer := &stubWriter{}
	mirror := newMirror(writer, nil)
	bus := events.NewBus(nil, nil)
	mirror.Subscribe(bus)

	bus.Publish(context.Background(), events.OrderImportedEvent{Order: sampleOrder()})
	require.Empty(t, writer.docs)
}
