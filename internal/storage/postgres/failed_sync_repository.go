package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const failedSyncColumns = `id, tenant_id, order_id, status, retry_count, reason, last_tried_at, created_at, updated_at`

type failedSyncRepository struct {
	db *sql.DB
}

// NewFailedSyncRepository создаёт PostgreSQL-журнал неудачных синхронизаций.
func NewFailedSyncRepository(store *Store) domain.FailedSyncRepository {
	return &failedSyncRepository{db: store.DB()}
}

// UpsertPending опирается на частичный уникальный индекс по открытым записям заказа.
func (r *failedSyncRepository) UpsertPending(record domain.FailedSync) (domain.FailedSync, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO failed_syncs (id, tenant_id, order_id, status, retry_count, reason, last_tried_at, created_at, updated_at)
		VALUES ($1,$2,$3,'PENDING',0,$4,$6,$5,$5)
		ON CONFLICT (tenant_id, order_id) WHERE status = 'PENDING'
		DO UPDATE SET reason = EXCLUDED.reason,
			last_tried_at = COALESCE(EXCLUDED.last_tried_at, failed_syncs.last_tried_at),
			updated_at = EXCLUDED.updated_at
		RETURNING `+failedSyncColumns,
		record.ID, record.TenantID, record.OrderID, record.Reason, now, nullTime(record.LastTriedAt),
	)
	stored, err := scanFailedSync(row)
	if err != nil {
		return domain.FailedSync{}, fmt.Errorf("upsert failed sync: %w", err)
	}
	return stored, nil
}

func (r *failedSyncRepository) ListPending(limit int) ([]domain.FailedSync, error) {
	query := `SELECT ` + failedSyncColumns + `
		FROM failed_syncs
		WHERE status = 'PENDING'
		ORDER BY created_at, id`
	if limit > 0 {
		return r.query(query+" LIMIT $1", limit)
	}
	return r.query(query)
}

func (r *failedSyncRepository) List(tenantID string, status domain.FailedSyncStatus, limit int) ([]domain.FailedSync, error) {
	query := `SELECT ` + failedSyncColumns + `
		FROM failed_syncs
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at, id`
	if limit > 0 {
		return r.query(query+" LIMIT $3", tenantID, string(status), limit)
	}
	return r.query(query, tenantID, string(status))
}

// Update меняет только PENDING-записи и не уменьшает retry_count.
// Для закрытых возвращает ErrFailedSyncFinal, для устаревшего счётчика ErrFailedSyncStale.
func (r *failedSyncRepository) Update(record domain.FailedSync) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE failed_syncs
		SET status = $2,
		    retry_count = $3,
		    reason = $4,
		    last_tried_at = $5,
		    updated_at = $6
		WHERE id = $1
		  AND status = 'PENDING'
		  AND retry_count <= $3
	`, record.ID, string(record.Status), record.RetryCount, record.Reason, nullTime(record.LastTriedAt), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update failed sync: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for failed sync: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM failed_syncs WHERE id = $1`, record.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrFailedSyncNotFound
	}
	if err != nil {
		return fmt.Errorf("check failed sync: %w", err)
	}
	if domain.FailedSyncStatus(status) == domain.FailedSyncPending {
		return domain.ErrFailedSyncStale
	}
	return domain.ErrFailedSyncFinal
}

func (r *failedSyncRepository) query(query string, args ...any) ([]domain.FailedSync, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list failed syncs: %w", err)
	}
	defer rows.Close()

	result := make([]domain.FailedSync, 0)
	for rows.Next() {
		rec, err := scanFailedSync(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed sync: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failed syncs: %w", err)
	}
	return result, nil
}

func scanFailedSync(row rowScanner) (domain.FailedSync, error) {
	var (
		rec       domain.FailedSync
		status    string
		lastTried sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.OrderID, &status, &rec.RetryCount, &rec.Reason,
		&lastTried, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return domain.FailedSync{}, err
	}
	rec.Status = domain.FailedSyncStatus(status)
	if lastTried.Valid {
		rec.LastTriedAt = lastTried.Time.UTC()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

var _ domain.FailedSyncRepository = (*failedSyncRepository)(nil)
