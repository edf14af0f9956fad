package notify

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/events"
	"github.com/vladislavdragonenkov/orderflow/internal/queue"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/memory"
)

func sampleOrder() domain.Order {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	items := []domain.OrderItem{domain.NewOrderItem("Chair", 2, decimal.NewFromInt(500))}
	order := domain.NewOrder("tenant-a", domain.Customer{ID: "cust-1", Name: "Ravi", Phone: "+919800000001", Email: "ravi@example.com"},
		items, nil, domain.SourceWebsite, now)
	order.OrderID = "ORD-1"
	return order
}

func claimAll(t *testing.T, backend *queue.MemoryBackend) []queue.Job {
	t.Helper()
	var jobs []queue.Job
	for {
		job, ok, err := backend.Claim(context.Background(), time.Now().Add(time.Hour), time.Minute)
		require.NoError(t, err)
		if !ok {
			return jobs
		}
		jobs = append(jobs, job)
	}
}

func TestScheduler_EnqueuesJobsForEvents(t *testing.T) {
	t.Parallel()
	backend := queue.NewMemoryBackend()
	bus := events.NewBus(nil, nil)
	NewScheduler(queue.New(backend, nil), nil).Subscribe(bus)
	ctx := context.Background()

	order := sampleOrder()
	estimate := domain.BuildEstimate(order.Items, 7, "", time.Now())

	bus.Publish(ctx, events.OrderCreatedEvent{Order: order})
	bus.Publish(ctx, events.EstimateGeneratedEvent{Order: order, Estimate: estimate})
	bus.Publish(ctx, events.InvoiceGeneratedEvent{Order: order, PaymentLink: "https://pay.example/ORD-1"})
	bus.Publish(ctx, events.PaymentSucceededEvent{Order: order, PaymentRef: "pay_1"})
	bus.Publish(ctx, events.OrderDispatchedEvent{Order: order})

	jobs := claimAll(t, backend)
	require.Len(t, jobs, 4)

	// Документы имеют более высокий приоритет, чем подтверждения.
	require.Equal(t, JobEstimateCreated, jobs[0].Type)
	require.Equal(t, JobInvoiceCreated, jobs[1].Type)
	require.Equal(t, JobOrderPlaced, jobs[2].Type)
	require.Equal(t, JobPaymentReceived, jobs[3].Type)

	estimateJob, err := queue.Decode[DocumentJob](jobs[0])
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(1180).Equal(estimateJob.Total))
	require.Equal(t, "ravi@example.com", estimateJob.Contact.Email)

	invoiceJob, err := queue.Decode[DocumentJob](jobs[1])
	require.NoError(t, err)
	require.Equal(t, "https://pay.example/ORD-1", invoiceJob.PaymentLink)
	require.Equal(t, domain.PaymentStatusPending, invoiceJob.PaymentStatus)

	received, err := queue.Decode[PaymentReceivedJob](jobs[3])
	require.NoError(t, err)
	require.Equal(t, "pay_1", received.PaymentRef)
}

func TestScheduler_ImportedOrderGetsConfirmation(t *testing.T) {
	t.Parallel()
	backend := queue.NewMemoryBackend()
	bus := events.NewBus(nil, nil)
	NewScheduler(queue.New(backend, nil), nil).Subscribe(bus)

	bus.Publish(context.Background(), events.OrderImportedEvent{Order: sampleOrder()})

	jobs := claimAll(t, backend)
	require.Len(t, jobs, 1)
	placed, err := queue.Decode[OrderPlacedJob](jobs[0])
	require.NoError(t, err)
	require.Equal(t, domain.SourceWebsite, placed.Source)
	require.Len(t, placed.Items, 1)
}

func TestOrderPaymentLookup(t *testing.T) {
	t.Parallel()
	orders := memory.NewOrderRepository()
	order := sampleOrder()
	require.NoError(t, orders.Create(order))
	lookup := NewOrderPaymentLookup(orders)

	status, err := lookup.PaymentStatus(context.Background(), "tenant-a", "ORD-1")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPending, status)

	_, err = lookup.PaymentStatus(context.Background(), "tenant-b", "ORD-1")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}
