package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

func TestOrderRepository_PostgresCreateGetListAndSave(t *testing.T) {
	store := freshSchemaForTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	order1 := sampleOrder("pk-1", "ORD-1", now.Add(-2*time.Minute))
	order1.ExternalOrderID = "WEB-1"
	order1.IdempotencyKey = "idem-1"
	order2 := sampleOrder("pk-2", "ORD-2", now.Add(-time.Minute))

	if err := repo.Create(order1); err != nil {
		t.Fatalf("create order1: %v", err)
	}
	if err := repo.Create(order2); err != nil {
		t.Fatalf("create order2: %v", err)
	}

	got, err := repo.Get("tenant-a", "ORD-1")
	if err != nil {
		t.Fatalf("get order1: %v", err)
	}
	if got.ID != order1.ID || got.Status != order1.Status || !got.TotalAmount.Equal(order1.TotalAmount) {
		t.Fatalf("unexpected order payload: %+v", got)
	}
	if len(got.Items) != 1 || got.Items[0].Name != "Bookshelf" {
		t.Fatalf("unexpected items: %+v", got.Items)
	}
	if len(got.Timeline) != 1 {
		t.Fatalf("expected 1 timeline entry, got %d", len(got.Timeline))
	}

	byExt, err := repo.FindByExternalID("tenant-a", "WEB-1")
	if err != nil || byExt.OrderID != "ORD-1" {
		t.Fatalf("find by external id: %v %+v", err, byExt)
	}
	byKey, err := repo.FindByIdempotencyKey("tenant-a", "idem-1")
	if err != nil || byKey.OrderID != "ORD-1" {
		t.Fatalf("find by idempotency key: %v %+v", err, byKey)
	}

	listed, err := repo.List("tenant-a", 1)
	if err != nil {
		t.Fatalf("list with limit: %v", err)
	}
	if len(listed) != 1 || listed[0].OrderID != "ORD-2" {
		t.Fatalf("unexpected list result with limit: %+v", listed)
	}

	got.Status = domain.OrderStatusEstimateSent
	got.EstimateStatus = domain.EstimateStatusSent
	got.Estimate = &domain.Estimate{
		Items:      got.Items,
		SubTotal:   decimal.NewFromInt(300),
		Tax:        decimal.NewFromInt(54),
		Total:      decimal.NewFromInt(354),
		ValidUntil: now.Add(7 * 24 * time.Hour),
		CreatedAt:  now,
	}
	got.AppendTimeline(domain.OrderStatusEstimateSent, "estimate sent", now.Add(time.Minute))
	if err := repo.Save(got); err != nil {
		t.Fatalf("save order: %v", err)
	}

	updated, err := repo.Get("tenant-a", "ORD-1")
	if err != nil {
		t.Fatalf("get updated order: %v", err)
	}
	if updated.Status != domain.OrderStatusEstimateSent || updated.Estimate == nil {
		t.Fatalf("unexpected order after save: %+v", updated)
	}
	if !updated.Estimate.Total.Equal(decimal.NewFromInt(354)) {
		t.Fatalf("unexpected estimate total: %s", updated.Estimate.Total)
	}
	if updated.Version != got.Version+1 {
		t.Fatalf("unexpected version after save: got=%d want=%d", updated.Version, got.Version+1)
	}
	if len(updated.Timeline) != 2 {
		t.Fatalf("expected 2 timeline entries, got %d", len(updated.Timeline))
	}
}

func TestOrderRepository_PostgresErrors(t *testing.T) {
	store := freshSchemaForTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	base := sampleOrder("pk-errors", "ORD-ERR", now)

	if _, err := repo.Get("tenant-a", "missing-order"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if err := repo.Save(base); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on save missing, got %v", err)
	}
	if err := repo.Create(base); err != nil {
		t.Fatalf("create base order: %v", err)
	}

	dup := sampleOrder("pk-errors-2", "ORD-ERR", now)
	if err := repo.Create(dup); !errors.Is(err, domain.ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder on duplicate number, got %v", err)
	}

	stale := base
	stale.Status = domain.OrderStatusCancelled
	stale.Version = 42
	if err := repo.Save(stale); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on stale save, got %v", err)
	}
}

func TestFailedSyncRepository_PostgresLedger(t *testing.T) {
	store := freshSchemaForTest(t)
	repo := NewFailedSyncRepository(store)

	first, err := repo.UpsertPending(domain.FailedSync{TenantID: "tenant-a", OrderID: "ORD-1", Reason: "timeout"})
	if err != nil {
		t.Fatalf("upsert pending: %v", err)
	}
	second, err := repo.UpsertPending(domain.FailedSync{TenantID: "tenant-a", OrderID: "ORD-1", Reason: "http 502"})
	if err != nil {
		t.Fatalf("upsert pending again: %v", err)
	}
	if first.ID != second.ID || second.Reason != "http 502" {
		t.Fatalf("expected single pending record, got %+v / %+v", first, second)
	}

	second.Status = domain.FailedSyncSuccess
	second.LastTriedAt = time.Now().UTC()
	if err := repo.Update(second); err != nil {
		t.Fatalf("close record: %v", err)
	}
	if err := repo.Update(second); !errors.Is(err, domain.ErrFailedSyncFinal) {
		t.Fatalf("expected ErrFailedSyncFinal, got %v", err)
	}

	pending, err := repo.ListPending(10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending records, got %d", len(pending))
	}
}

func TestCustomerRepository_PostgresUpsert(t *testing.T) {
	store := freshSchemaForTest(t)
	repo := NewCustomerRepository(store)

	created, isNew, err := repo.GetOrCreate(domain.Customer{TenantID: "tenant-a", Name: "Ann", Phone: "+100"})
	if err != nil || !isNew {
		t.Fatalf("create customer: new=%v err=%v", isNew, err)
	}
	again, isNew, err := repo.GetOrCreate(domain.Customer{TenantID: "tenant-a", Name: "Other", Phone: "+100", Email: "ann@example.com"})
	if err != nil || isNew {
		t.Fatalf("get existing customer: new=%v err=%v", isNew, err)
	}
	if again.ID != created.ID || again.Name != "Ann" || again.Email != "ann@example.com" {
		t.Fatalf("unexpected merged customer: %+v", again)
	}
}

func sampleOrder(id, orderID string, createdAt time.Time) domain.Order {
	item := domain.NewOrderItem("Bookshelf", 2, decimal.NewFromInt(150))
	order := domain.Order{
		ID:             id,
		TenantID:       "tenant-a",
		OrderID:        orderID,
		Source:         domain.SourceInternal,
		Customer:       domain.CustomerSnapshot{Name: "Ann", Phone: "+100"},
		Items:          []domain.OrderItem{item},
		TotalAmount:    item.Total,
		Status:         domain.OrderStatusPending,
		EstimateStatus: domain.EstimateStatusNone,
		PaymentStatus:  domain.PaymentStatusPending,
		InvoiceStatus:  domain.InvoiceStatusNone,
		DispatchStatus: domain.DispatchStatusPending,
		SyncStatus:     domain.SyncStatusNotSynced,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	order.AppendTimeline(domain.OrderStatusPending, "order created", createdAt)
	return order
}
