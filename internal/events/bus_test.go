package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type recordingObserver struct {
	mu       sync.Mutex
	failures []string
}

func (o *recordingObserver) RecordHandlerFailure(event, subscriber string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, event+"/"+subscriber)
}

func sampleOrder() domain.Order {
	return domain.Order{TenantID: "tenant-a", OrderID: "ORD-1", Status: domain.OrderStatusPending}
}

func TestBus_PublishDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus(nil, nil)

	var calls []string
	bus.Subscribe(OrderCreated, "first", func(context.Context, Event) error {
		calls = append(calls, "first")
		return nil
	})
	bus.Subscribe(OrderCreated, "second", func(context.Context, Event) error {
		calls = append(calls, "second")
		return nil
	})
	bus.Subscribe(OrderCancelled, "other", func(context.Context, Event) error {
		calls = append(calls, "other")
		return nil
	})

	bus.Publish(context.Background(), OrderCreatedEvent{Order: sampleOrder()})

	require.Equal(t, []string{"first", "second"}, calls)
}

func TestBus_FailingHandlerDoesNotStopOthers(t *testing.T) {
	observer := &recordingObserver{}
	bus := NewBus(nil, observer)

	delivered := 0
	bus.Subscribe(PaymentSuccess, "broken", func(context.Context, Event) error {
		return errors.New("smtp down")
	})
	bus.Subscribe(PaymentSuccess, "panicky", func(context.Context, Event) error {
		panic("boom")
	})
	bus.Subscribe(PaymentSuccess, "healthy", func(context.Context, Event) error {
		delivered++
		return nil
	})

	require.NotPanics(t, func() {
		bus.Publish(context.Background(), PaymentSucceededEvent{Order: sampleOrder(), PaymentRef: "pay_1"})
	})

	require.Equal(t, 1, delivered)
	require.Equal(t, []string{"PAYMENT_SUCCESS/broken", "PAYMENT_SUCCESS/panicky"}, observer.failures)
}

func TestBus_SubscribeAllReceivesEveryEvent(t *testing.T) {
	bus := NewBus(nil, nil)

	var names []Name
	bus.SubscribeAll("relay", func(_ context.Context, ev Event) error {
		names = append(names, ev.EventName())
		return nil
	})

	bus.Publish(context.Background(), OrderCreatedEvent{Order: sampleOrder()})
	bus.Publish(context.Background(), OrderDeliveredEvent{Order: sampleOrder()})

	require.Equal(t, []Name{OrderCreated, OrderDelivered}, names)
}

func TestOn_TypedHandlerReceivesPayload(t *testing.T) {
	bus := NewBus(nil, nil)

	var got InvoiceGeneratedEvent
	On(bus, "invoice-notifier", func(_ context.Context, ev InvoiceGeneratedEvent) error {
		got = ev
		return nil
	})

	bus.Publish(context.Background(), InvoiceGeneratedEvent{Order: sampleOrder(), PaymentLink: "https://pay.example/1"})

	require.Equal(t, "https://pay.example/1", got.PaymentLink)
	require.Equal(t, "ORD-1", got.OrderSnapshot().OrderID)
}

func TestBus_NestedPublishFromHandler(t *testing.T) {
	bus := NewBus(nil, nil)

	invoiced := false
	On(bus, "auto-invoice", func(ctx context.Context, ev PaymentSucceededEvent) error {
		bus.Publish(ctx, InvoiceGeneratedEvent{Order: ev.Order})
		return nil
	})
	On(bus, "invoice-listener", func(context.Context, InvoiceGeneratedEvent) error {
		invoiced = true
		return nil
	})

	bus.Publish(context.Background(), PaymentSucceededEvent{Order: sampleOrder()})

	require.True(t, invoiced)
}

func TestBus_PublishNilIsNoop(t *testing.T) {
	bus := NewBus(nil, nil)
	bus.SubscribeAll("any", func(context.Context, Event) error {
		t.Fatal("handler must not be called")
		return nil
	})

	bus.Publish(context.Background(), nil)
}
