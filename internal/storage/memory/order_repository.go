package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// orderRepositoryInMemory: in-memory реализация OrderRepository.
// Заказы хранятся копиями, ключ: пара тенант и номер заказа.
type orderRepositoryInMemory struct {
	mu           sync.RWMutex
	items        map[string]domain.Order
	byExternalID map[string]string
	byIdemKey    map[string]string
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:        make(map[string]domain.Order),
		byExternalID: make(map[string]string),
		byIdemKey:    make(map[string]string),
	}
}

func orderKey(tenantID, value string) string {
	return tenantID + "|" + value
}

// Create сохраняет новый заказ, если номер, внешний номер и ключ идемпотентности свободны.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := orderKey(order.TenantID, order.OrderID)
	if _, exists := r.items[key]; exists {
		return domain.ErrDuplicateOrder
	}
	extKey := orderKey(order.TenantID, strings.TrimSpace(order.ExternalOrderID))
	if order.HasExternalOrder() {
		if _, exists := r.byExternalID[extKey]; exists {
			return domain.ErrDuplicateOrder
		}
	}
	idemKey := orderKey(order.TenantID, strings.TrimSpace(order.IdempotencyKey))
	if order.IdempotencyKey != "" {
		if _, exists := r.byIdemKey[idemKey]; exists {
			return domain.ErrDuplicateOrder
		}
	}

	r.items[key] = order.Clone()
	if order.HasExternalOrder() {
		r.byExternalID[extKey] = key
	}
	if order.IdempotencyKey != "" {
		r.byIdemKey[idemKey] = key
	}
	return nil
}

// Get возвращает заказ или ErrOrderNotFound.
func (r *orderRepositoryInMemory) Get(tenantID, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[orderKey(tenantID, orderID)]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (r *orderRepositoryInMemory) FindByExternalID(tenantID, externalOrderID string) (domain.Order, error) {
	return r.findByIndex(r.byExternalID, tenantID, externalOrderID)
}

func (r *orderRepositoryInMemory) FindByIdempotencyKey(tenantID, key string) (domain.Order, error) {
	return r.findByIndex(r.byIdemKey, tenantID, key)
}

func (r *orderRepositoryInMemory) findByIndex(index map[string]string, tenantID, value string) (domain.Order, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := index[orderKey(tenantID, value)]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.items[key].Clone(), nil
}

// List возвращает заказы тенанта от новых к старым, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) List(tenantID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.TenantID != tenantID {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].OrderID > result[j].OrderID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := orderKey(order.TenantID, order.OrderID)
	current, ok := r.items[key]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}

	order = order.Clone()
	// Журналы только дополняются: старые записи берём из хранилища.
	if len(order.Timeline) >= len(current.Timeline) {
		copy(order.Timeline, current.Timeline)
	}
	if len(order.SyncLog) >= len(current.SyncLog) {
		copy(order.SyncLog, current.SyncLog)
	}
	order.Version++
	r.items[key] = order
	return nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
