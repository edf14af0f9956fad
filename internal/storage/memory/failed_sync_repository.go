package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// failedSyncRepositoryInMemory: журнал неудачных синхронизаций в памяти.
type failedSyncRepositoryInMemory struct {
	mu      sync.RWMutex
	records map[string]domain.FailedSync
}

// NewFailedSyncRepository создаёт in-memory журнал неудачных синхронизаций.
func NewFailedSyncRepository() domain.FailedSyncRepository {
	return &failedSyncRepositoryInMemory{records: make(map[string]domain.FailedSync)}
}

// UpsertPending обновляет причину у открытой записи заказа или заводит новую.
func (r *failedSyncRepositoryInMemory) UpsertPending(record domain.FailedSync) (domain.FailedSync, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for id, existing := range r.records {
		if existing.TenantID == record.TenantID && existing.OrderID == record.OrderID && existing.Status == domain.FailedSyncPending {
			existing.Reason = record.Reason
			if !record.LastTriedAt.IsZero() {
				existing.LastTriedAt = record.LastTriedAt
			}
			existing.UpdatedAt = now
			r.records[id] = existing
			return existing, nil
		}
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.Status = domain.FailedSyncPending
	record.CreatedAt = now
	record.UpdatedAt = now
	r.records[record.ID] = record
	return record, nil
}

// ListPending возвращает открытые записи от старых к новым.
func (r *failedSyncRepositoryInMemory) ListPending(limit int) ([]domain.FailedSync, error) {
	return r.list(func(rec domain.FailedSync) bool { return rec.Status == domain.FailedSyncPending }, limit), nil
}

// List возвращает записи тенанта, фильтруя по статусу, если он задан.
func (r *failedSyncRepositoryInMemory) List(tenantID string, status domain.FailedSyncStatus, limit int) ([]domain.FailedSync, error) {
	return r.list(func(rec domain.FailedSync) bool {
		if rec.TenantID != tenantID {
			return false
		}
		return status == "" || rec.Status == status
	}, limit), nil
}

func (r *failedSyncRepositoryInMemory) list(match func(domain.FailedSync) bool, limit int) []domain.FailedSync {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.FailedSync, 0)
	for _, rec := range r.records {
		if match(rec) {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// Update сохраняет изменения открытой записи. Записи в конечном статусе неизменяемы.
func (r *failedSyncRepositoryInMemory) Update(record domain.FailedSync) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[record.ID]
	if !ok {
		return domain.ErrFailedSyncNotFound
	}
	if current.Status.Terminal() {
		return domain.ErrFailedSyncFinal
	}
	if record.RetryCount < current.RetryCount {
		return domain.ErrFailedSyncStale
	}
	record.CreatedAt = current.CreatedAt
	record.UpdatedAt = time.Now().UTC()
	r.records[record.ID] = record
	return nil
}

var _ domain.FailedSyncRepository = (*failedSyncRepositoryInMemory)(nil)
