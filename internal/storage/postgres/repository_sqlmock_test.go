package postgres

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

func mockOrder(now time.Time) domain.Order {
	item := domain.NewOrderItem("Desk", 1, decimal.NewFromInt(120))
	order := domain.Order{
		ID:             "pk-1",
		TenantID:       "t1",
		OrderID:        "ORD-1",
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
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	order.AppendTimeline(domain.OrderStatusPending, "order created", now)
	return order
}

func TestOrderRepository_CreateDuplicateMapsToDomainError(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := repo.Create(mockOrder(time.Now().UTC()))
	require.ErrorIs(t, err, domain.ErrDuplicateOrder)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_CreateWritesItemsAndTimeline(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)
	order := mockOrder(time.Now().UTC())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").
		WithArgs("pk-1", 1, "Desk", 1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_timeline").
		WithArgs("pk-1", 1, "PENDING", "order created", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(order))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM orders WHERE id = $1")).
		WithArgs("pk-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("pk-1"))
	mock.ExpectRollback()

	err := repo.Save(mockOrder(time.Now().UTC()))
	require.ErrorIs(t, err, domain.ErrOrderVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_SaveMissingOrder(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM orders WHERE id = $1")).
		WithArgs("pk-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := repo.Save(mockOrder(time.Now().UTC()))
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_SaveAppendsOnlyNewJournalEntries(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC()
	order := mockOrder(now)
	order.Status = domain.OrderStatusEstimateSent
	order.AppendTimeline(domain.OrderStatusEstimateSent, "estimate sent", now)
	order.AppendSyncLog(true, "synced", now)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("pk-1").
		WillReturnRows(sqlmock.NewRows([]string{"timeline", "sync_log"}).AddRow(1, 0))
	mock.ExpectExec("INSERT INTO order_timeline").
		WithArgs("pk-1", 2, "ESTIMATE_SENT", "estimate sent", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_sync_log").
		WithArgs("pk-1", 1, true, "synced", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(order))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)

	mock.ExpectQuery("FROM orders WHERE tenant_id").
		WithArgs("t1", "ORD-404").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Get("t1", "ORD-404")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_FindByEmptyKeysSkipQuery(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)

	_, err := repo.FindByExternalID("t1", "")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = repo.FindByIdempotencyKey("t1", "")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerRepository_GetOrCreateReportsExisting(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewCustomerRepository(store)

	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO customers").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "address", "created_at", "updated_at", "inserted"}).
			AddRow("c-1", "Ann", "ann@example.com", "", now, now, false))

	customer, created, err := repo.GetOrCreate(domain.Customer{TenantID: "t1", Name: "Ann B", Phone: "+100"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "c-1", customer.ID)
	require.Equal(t, "Ann", customer.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailedSyncRepository_UpdateFinalRecord(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewFailedSyncRepository(store)

	mock.ExpectExec("UPDATE failed_syncs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM failed_syncs WHERE id = $1")).
		WithArgs("fs-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("SUCCESS"))

	err := repo.Update(domain.FailedSync{ID: "fs-1", Status: domain.FailedSyncPending, RetryCount: 2})
	require.ErrorIs(t, err, domain.ErrFailedSyncFinal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailedSyncRepository_UpdateRefusesLowerRetryCount(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewFailedSyncRepository(store)

	mock.ExpectExec(regexp.QuoteMeta("AND retry_count <= $3")).
		WithArgs("fs-2", "PENDING", 1, "http 502", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM failed_syncs WHERE id = $1")).
		WithArgs("fs-2").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("PENDING"))

	err := repo.Update(domain.FailedSync{ID: "fs-2", Status: domain.FailedSyncPending, RetryCount: 1, Reason: "http 502"})
	require.ErrorIs(t, err, domain.ErrFailedSyncStale)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailedSyncRepository_UpdateMissingRecord(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewFailedSyncRepository(store)

	mock.ExpectExec("UPDATE failed_syncs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM failed_syncs WHERE id = $1")).
		WithArgs("fs-404").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	err := repo.Update(domain.FailedSync{ID: "fs-404", Status: domain.FailedSyncFailed})
	require.ErrorIs(t, err, domain.ErrFailedSyncNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyRepository_FindByHashMissing(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewAPIKeyRepository(store)

	mock.ExpectQuery("FROM api_keys").
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows([]string{"key_hash", "tenant_id", "active", "created_at"}))

	_, err := repo.FindByHash("abc")
	require.ErrorIs(t, err, domain.ErrAPIKeyNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyRepository_PutRevokesTenantsPreviousKeys(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewAPIKeyRepository(store)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM api_keys WHERE tenant_id").
		WithArgs("tenant-a", "hash-k2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO api_keys").
		WithArgs("hash-k2", "tenant-a", true, created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Put(domain.APIKey{KeyHash: "hash-k2", TenantID: "tenant-a", Active: true, CreatedAt: created})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyRepository_PutRollsBackWhenInsertFails(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewAPIKeyRepository(store)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM api_keys WHERE tenant_id").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO api_keys").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.Put(domain.APIKey{KeyHash: "hash-k2", TenantID: "tenant-a", Active: true})
	require.ErrorContains(t, err, "upsert api key")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	require.False(t, isUniqueViolation(&pgconn.PgError{Code: "22001"}))
	require.False(t, isUniqueViolation(errors.New("plain error")))
}

func TestOutboxRepository_SettleUnknownID(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOutboxRepository(store)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE outbox_messages")).
		WithArgs("evt-1", "sent", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"attempt_count"}))

	require.ErrorIs(t, repo.MarkSent("evt-1"), domain.ErrOutboxPublish)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_EnqueueAssignsID(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOutboxRepository(store)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "order", "t1/ORD-1", "ORDER_CREATED", []byte(`{}`), "pending", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "t1/ORD-1",
		EventType:     "ORDER_CREATED",
		Payload:       []byte(`{}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
