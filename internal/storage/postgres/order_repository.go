package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const orderColumns = `
	id, tenant_id, order_id, external_order_id, idempotency_key, source,
	customer_id, customer_name, customer_phone, customer_email, customer_address,
	total_amount, status, estimate_status, payment_status, invoice_status,
	dispatch_status, sync_status, estimate, dispatch, payment_ref, payment_link,
	version, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// rowScanner общий для *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *orderRepository) Create(order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	estimate, err := marshalOptional(order.Estimate)
	if err != nil {
		return err
	}
	dispatch, err := marshalOptional(order.Dispatch)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
	`,
		order.ID, order.TenantID, order.OrderID, nullString(order.ExternalOrderID), nullString(order.IdempotencyKey), order.Source,
		order.CustomerID, order.Customer.Name, order.Customer.Phone, order.Customer.Email, order.Customer.Address,
		order.TotalAmount, string(order.Status), string(order.EstimateStatus), string(order.PaymentStatus), string(order.InvoiceStatus),
		string(order.DispatchStatus), string(order.SyncStatus), estimate, dispatch, order.PaymentRef, order.PaymentLink,
		order.Version, order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_pk, position, name, quantity, price, total)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, order.ID, i+1, item.Name, item.Quantity, item.Price, item.Total); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = appendJournals(ctx, tx, order, 0, 0); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}
	return nil
}

func (r *orderRepository) Get(tenantID, orderID string) (domain.Order, error) {
	return r.selectOne(`tenant_id = $1 AND order_id = $2`, tenantID, orderID)
}

func (r *orderRepository) FindByExternalID(tenantID, externalOrderID string) (domain.Order, error) {
	if externalOrderID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.selectOne(`tenant_id = $1 AND external_order_id = $2`, tenantID, externalOrderID)
}

func (r *orderRepository) FindByIdempotencyKey(tenantID, key string) (domain.Order, error) {
	if key == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.selectOne(`tenant_id = $1 AND idempotency_key = $2`, tenantID, key)
}

func (r *orderRepository) selectOne(where string, args ...any) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, args...)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	if err := r.loadChildren(ctx, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) List(tenantID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE tenant_id = $1
		ORDER BY created_at DESC, order_id DESC`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", tenantID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		if err := r.loadChildren(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// Save обновляет заказ при совпадении версии и дописывает новые записи журналов.
func (r *orderRepository) Save(order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	estimate, err := marshalOptional(order.Estimate)
	if err != nil {
		return err
	}
	dispatch, err := marshalOptional(order.Dispatch)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET customer_id = $1,
		    total_amount = $2,
		    status = $3,
		    estimate_status = $4,
		    payment_status = $5,
		    invoice_status = $6,
		    dispatch_status = $7,
		    sync_status = $8,
		    estimate = $9,
		    dispatch = $10,
		    payment_ref = $11,
		    payment_link = $12,
		    version = version + 1,
		    updated_at = $13
		WHERE id = $14
		  AND version = $15
	`,
		order.CustomerID, order.TotalAmount, string(order.Status), string(order.EstimateStatus),
		string(order.PaymentStatus), string(order.InvoiceStatus), string(order.DispatchStatus),
		string(order.SyncStatus), estimate, dispatch, order.PaymentRef, order.PaymentLink,
		order.UpdatedAt.UTC(), order.ID, order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, existsErr := orderExistsTx(ctx, tx, order.ID)
		if existsErr != nil {
			err = existsErr
			return err
		}
		if !exists {
			err = domain.ErrOrderNotFound
			return err
		}
		err = domain.ErrOrderVersionConflict
		return err
	}

	var storedTimeline, storedSyncLog int
	if err = tx.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM order_timeline WHERE order_pk = $1),
			(SELECT COUNT(*) FROM order_sync_log WHERE order_pk = $1)
	`, order.ID).Scan(&storedTimeline, &storedSyncLog); err != nil {
		return fmt.Errorf("count order journals: %w", err)
	}

	if err = appendJournals(ctx, tx, order, storedTimeline, storedSyncLog); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save order: %w", err)
	}
	return nil
}

// appendJournals вставляет записи журнала и лога синхронизации, начиная с уже сохранённого количества.
func appendJournals(ctx context.Context, tx *sql.Tx, order domain.Order, fromTimeline, fromSyncLog int) error {
	for i := fromTimeline; i < len(order.Timeline); i++ {
		entry := order.Timeline[i]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_timeline (order_pk, seq, status, description, created_at)
			VALUES ($1,$2,$3,$4,$5)
		`, order.ID, i+1, string(entry.Status), entry.Description, entry.Timestamp.UTC()); err != nil {
			return fmt.Errorf("insert timeline entry: %w", err)
		}
	}
	for i := fromSyncLog; i < len(order.SyncLog); i++ {
		entry := order.SyncLog[i]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_sync_log (order_pk, seq, success, message, created_at)
			VALUES ($1,$2,$3,$4,$5)
		`, order.ID, i+1, entry.Success, entry.Message, entry.Timestamp.UTC()); err != nil {
			return fmt.Errorf("insert sync log entry: %w", err)
		}
	}
	return nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order          domain.Order
		externalID     sql.NullString
		idemKey        sql.NullString
		status         string
		estimateStatus string
		paymentStatus  string
		invoiceStatus  string
		dispatchStatus string
		syncStatus     string
		estimateRaw    []byte
		dispatchRaw    []byte
	)
	if err := row.Scan(
		&order.ID, &order.TenantID, &order.OrderID, &externalID, &idemKey, &order.Source,
		&order.CustomerID, &order.Customer.Name, &order.Customer.Phone, &order.Customer.Email, &order.Customer.Address,
		&order.TotalAmount, &status, &estimateStatus, &paymentStatus, &invoiceStatus,
		&dispatchStatus, &syncStatus, &estimateRaw, &dispatchRaw, &order.PaymentRef, &order.PaymentLink,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	order.ExternalOrderID = externalID.String
	order.IdempotencyKey = idemKey.String
	order.Status = domain.OrderStatus(status)
	order.EstimateStatus = domain.EstimateStatus(estimateStatus)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.InvoiceStatus = domain.InvoiceStatus(invoiceStatus)
	order.DispatchStatus = domain.DispatchStatus(dispatchStatus)
	order.SyncStatus = domain.SyncStatus(syncStatus)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	if len(estimateRaw) > 0 {
		var estimate domain.Estimate
		if err := json.Unmarshal(estimateRaw, &estimate); err != nil {
			return domain.Order{}, fmt.Errorf("decode estimate: %w", err)
		}
		order.Estimate = &estimate
	}
	if len(dispatchRaw) > 0 {
		var dispatch domain.DispatchDetails
		if err := json.Unmarshal(dispatchRaw, &dispatch); err != nil {
			return domain.Order{}, fmt.Errorf("decode dispatch: %w", err)
		}
		order.Dispatch = &dispatch
	}
	return order, nil
}

func (r *orderRepository) loadChildren(ctx context.Context, order *domain.Order) error {
	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return err
	}
	order.Items = items

	timeline, err := r.loadTimeline(ctx, order.ID)
	if err != nil {
		return err
	}
	order.Timeline = timeline

	syncLog, err := r.loadSyncLog(ctx, order.ID)
	if err != nil {
		return err
	}
	order.SyncLog = syncLog
	return nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderPK string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, quantity, price, total
		FROM order_items
		WHERE order_pk = $1
		ORDER BY position
	`, orderPK)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.Name, &item.Quantity, &item.Price, &item.Total); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func (r *orderRepository) loadTimeline(ctx context.Context, orderPK string) ([]domain.TimelineEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, description, created_at
		FROM order_timeline
		WHERE order_pk = $1
		ORDER BY seq
	`, orderPK)
	if err != nil {
		return nil, fmt.Errorf("load order timeline: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.TimelineEntry, 0)
	for rows.Next() {
		var (
			entry  domain.TimelineEntry
			status string
		)
		if err := rows.Scan(&status, &entry.Description, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		entry.Status = domain.OrderStatus(status)
		entry.Timestamp = entry.Timestamp.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline: %w", err)
	}
	return entries, nil
}

func (r *orderRepository) loadSyncLog(ctx context.Context, orderPK string) ([]domain.SyncLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT success, message, created_at
		FROM order_sync_log
		WHERE order_pk = $1
		ORDER BY seq
	`, orderPK)
	if err != nil {
		return nil, fmt.Errorf("load sync log: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.SyncLogEntry, 0)
	for rows.Next() {
		var entry domain.SyncLogEntry
		if err := rows.Scan(&entry.Success, &entry.Message, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan sync log entry: %w", err)
		}
		entry.Timestamp = entry.Timestamp.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync log: %w", err)
	}
	return entries, nil
}

func orderExistsTx(ctx context.Context, tx *sql.Tx, orderPK string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderPK).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

// marshalOptional кодирует вложенную структуру в JSONB, nil превращается в NULL.
func marshalOptional[T any](value *T) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", value, err)
	}
	return raw, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
