package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type outboxEntry struct {
	msg      domain.OutboxMessage
	queuedAt time.Time
	attempts int
	settled  bool
}

// OutboxRepository держит события шины в порядке постановки.
// Закрытые записи остаются в журнале: так повторный Enqueue с тем же id ничего не делает.
type OutboxRepository struct {
	mu      sync.RWMutex
	journal []*outboxEntry
	byID    map[string]*outboxEntry
	now     func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		byID: make(map[string]*outboxEntry),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[msg.ID]; exists {
		return msg, nil
	}
	entry := &outboxEntry{msg: msg, queuedAt: r.now()}
	r.journal = append(r.journal, entry)
	r.byID[msg.ID] = entry
	return msg, nil
}

// PullPending: до limit самых старых незакрытых записей; limit <= 0 означает 100.
func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.OutboxMessage
	for _, entry := range r.journal {
		if len(out) == limit {
			break
		}
		if !entry.settled {
			out = append(out, entry.msg)
		}
	}
	return out, nil
}

func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, entry := range r.journal {
		if entry.settled {
			continue
		}
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = entry.queuedAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.settle(id)
}

func (r *OutboxRepository) MarkFailed(id string) error {
	return r.settle(id)
}

func (r *OutboxRepository) settle(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("outbox %s: %w", id, domain.ErrOutboxPublish)
	}
	entry.settled = true
	entry.attempts++
	return nil
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
