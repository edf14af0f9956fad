package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	item := domain.NewOrderItem("Стол", 5, decimal.NewFromInt(100))
	return domain.Order{
		ID:             "6b1f1c1e-0000-4000-8000-000000000001",
		TenantID:       "tenant-1",
		OrderID:        "ORD-1",
		Customer:       domain.CustomerSnapshot{Name: "Анна", Phone: "+79990000000"},
		Items:          []domain.OrderItem{item},
		TotalAmount:    item.Total,
		Status:         domain.OrderStatusPending,
		EstimateStatus: domain.EstimateStatusNone,
		PaymentStatus:  domain.PaymentStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestNewOrderItem_ComputesLineTotal(t *testing.T) {
	item := domain.NewOrderItem("  Лампа ", 3, decimal.RequireFromString("19.99"))
	if item.Name != "Лампа" {
		t.Fatalf("name should be trimmed, got %q", item.Name)
	}
	if !item.Total.Equal(decimal.RequireFromString("59.97")) {
		t.Fatalf("unexpected total %s", item.Total)
	}
	if got := domain.ItemsTotal([]domain.OrderItem{item, item}); !got.Equal(decimal.RequireFromString("119.94")) {
		t.Fatalf("unexpected items total %s", got)
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{name: "no tenant", mut: func(o *domain.Order) { o.TenantID = "" }},
		{name: "no phone", mut: func(o *domain.Order) { o.Customer.Phone = "" }},
		{name: "negative amount", mut: func(o *domain.Order) { o.TotalAmount = decimal.NewFromInt(-1) }},
		{name: "no items", mut: func(o *domain.Order) { o.Items = nil }},
		{name: "qty invalid", mut: func(o *domain.Order) { o.Items[0].Quantity = 0 }},
		{name: "price invalid", mut: func(o *domain.Order) { o.Items[0].Price = decimal.NewFromInt(-5) }},
		{name: "unknown status", mut: func(o *domain.Order) { o.Status = "SHIPPED" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			if len(order.ValidateInvariants()) == 0 {
				t.Fatalf("expected validation errors for case %s", tc.name)
			}
		})
	}
}

func TestOrderClone_DoesNotShareSlices(t *testing.T) {
	order := makeOrder()
	order.Estimate = &domain.Estimate{Items: order.Items, Total: decimal.NewFromInt(590)}
	order.AppendTimeline(domain.OrderStatusPending, "created", time.Now())

	clone := order.Clone()
	clone.Items[0].Name = "changed"
	clone.Estimate.Items[0].Name = "changed"
	clone.AppendTimeline(domain.OrderStatusEstimateSent, "estimate", time.Now())

	if order.Items[0].Name == "changed" || order.Estimate.Items[0].Name == "changed" {
		t.Fatal("clone must not share item slices with the original")
	}
	if len(order.Timeline) != 1 {
		t.Fatalf("original timeline changed: %d entries", len(order.Timeline))
	}
}

func TestOrderAppendTimelineAndSyncLog(t *testing.T) {
	order := makeOrder()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("MSK", 3*3600))

	order.AppendTimeline(domain.OrderStatusConfirmed, "Estimate approved", at)
	order.AppendSyncLog(false, "timeout", at)

	if len(order.Timeline) != 1 || order.Timeline[0].Status != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected timeline %+v", order.Timeline)
	}
	if order.Timeline[0].Timestamp.Location() != time.UTC || !order.UpdatedAt.Equal(at) {
		t.Fatal("timeline timestamps must be stored in UTC")
	}
	if len(order.SyncLog) != 1 || order.SyncLog[0].Success {
		t.Fatalf("unexpected sync log %+v", order.SyncLog)
	}
	if order.HasExternalOrder() {
		t.Fatal("order without external id must not be treated as external")
	}
}
