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

type outboxState string

const (
	outboxPending outboxState = "pending"
	outboxSent    outboxState = "sent"
	outboxFailed  outboxState = "failed"

	defaultOutboxBatch = 100
)

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, payload`

// OutboxRepository держит события шины в таблице outbox_messages, пока relay не отправит их в Kafka.
type OutboxRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewOutboxRepository создаёт репозиторий поверх общего пула.
func NewOutboxRepository(store *Store) *OutboxRepository {
	return &OutboxRepository{db: store.DB(), now: func() time.Time { return time.Now().UTC() }}
}

// Enqueue сохраняет событие в pending. Повторная запись с тем же id ничего не меняет.
func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	createdAt := r.now()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (`+outboxColumns+`, status, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
		ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, string(outboxPending), createdAt,
	); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("insert outbox %s: %w", msg.ID, err)
	}
	return msg, nil
}

// PullPending отдаёт самые старые pending-события, не больше limit.
func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox_messages WHERE status = $1 ORDER BY created_at, id LIMIT $2`,
		string(outboxPending), limit)
	if err != nil {
		return nil, fmt.Errorf("select pending outbox: %w", err)
	}
	defer rows.Close()

	var batch []domain.OutboxMessage
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		batch = append(batch, msg)
	}
	return batch, rows.Err()
}

// Stats считает backlog для метрик relay.
func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		count  int
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = $1`, string(outboxPending),
	).Scan(&count, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox backlog: %w", err)
	}

	stats := domain.OutboxStats{PendingCount: count}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.settle(id, outboxSent)
}

func (r *OutboxRepository) MarkFailed(id string) error {
	return r.settle(id, outboxFailed)
}

// settle закрывает запись и считает попытку. Неизвестный id: ErrOutboxPublish.
func (r *OutboxRepository) settle(id string, state outboxState) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var attempts int
	err := r.db.QueryRowContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1
		RETURNING attempt_count`,
		id, string(state), r.now(),
	).Scan(&attempts)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("outbox %s: %w", id, domain.ErrOutboxPublish)
	case err != nil:
		return fmt.Errorf("mark outbox %s %s: %w", id, state, err)
	}
	return nil
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
