package domain

import (
	"errors"
	"testing"
)

type conflictRepo struct {
	order     Order
	conflicts int
	saves     int
	gets      int
}

func (r *conflictRepo) Create(Order) error { return nil }
func (r *conflictRepo) Get(_, _ string) (Order, error) {
	r.gets++
	return r.order.Clone(), nil
}
func (r *conflictRepo) FindByExternalID(_, _ string) (Order, error)     { return Order{}, ErrOrderNotFound }
func (r *conflictRepo) FindByIdempotencyKey(_, _ string) (Order, error) { return Order{}, ErrOrderNotFound }
func (r *conflictRepo) List(string, int) ([]Order, error)               { return nil, nil }
func (r *conflictRepo) Save(o Order) error {
	r.saves++
	if r.conflicts > 0 {
		r.conflicts--
		r.order.Version++
		return ErrOrderVersionConflict
	}
	if o.Version != r.order.Version {
		return ErrOrderVersionConflict
	}
	o.Version++
	r.order = o
	return nil
}

func TestUpdateOrder_RetriesOnVersionConflict(t *testing.T) {
	repo := &conflictRepo{order: Order{TenantID: "t", OrderID: "o", Status: OrderStatusPending}, conflicts: 2}

	updated, err := UpdateOrder(repo, "t", "o", func(o *Order) error {
		o.Status = OrderStatusEstimateSent
		return nil
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Status != OrderStatusEstimateSent {
		t.Fatalf("unexpected status %s", updated.Status)
	}
	if repo.gets != 3 || repo.saves != 3 {
		t.Fatalf("expected 3 reloads and saves, got gets=%d saves=%d", repo.gets, repo.saves)
	}
	if updated.Version != repo.order.Version {
		t.Fatalf("returned version %d must match stored %d", updated.Version, repo.order.Version)
	}
}

func TestUpdateOrder_GivesUpAfterMaxAttempts(t *testing.T) {
	repo := &conflictRepo{order: Order{TenantID: "t", OrderID: "o"}, conflicts: 10}

	_, err := UpdateOrder(repo, "t", "o", func(o *Order) error { return nil })
	if !IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if repo.saves != updateMaxAttempts {
		t.Fatalf("expected %d saves, got %d", updateMaxAttempts, repo.saves)
	}
}

func TestUpdateOrder_NoChangeSkipsSave(t *testing.T) {
	repo := &conflictRepo{order: Order{TenantID: "t", OrderID: "o", PaymentStatus: PaymentStatusPaid}}

	current, err := UpdateOrder(repo, "t", "o", func(o *Order) error { return ErrNoChange })
	if !errors.Is(err, ErrNoChange) {
		t.Fatalf("expected ErrNoChange, got %v", err)
	}
	if current.PaymentStatus != PaymentStatusPaid {
		t.Fatal("current order must be returned together with ErrNoChange")
	}
	if repo.saves != 0 {
		t.Fatal("no-op must not be persisted")
	}
}
