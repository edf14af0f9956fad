package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type customerRepositoryInMemory struct {
	mu      sync.Mutex
	byID    map[string]domain.Customer
	byPhone map[string]string
}

// NewCustomerRepository создаёт in-memory хранилище клиентов.
func NewCustomerRepository() domain.CustomerRepository {
	return &customerRepositoryInMemory{
		byID:    make(map[string]domain.Customer),
		byPhone: make(map[string]string),
	}
}

// GetOrCreate ищет клиента по телефону в рамках тенанта, создаёт при отсутствии
// и дополняет пустые поля у найденного.
func (r *customerRepositoryInMemory) GetOrCreate(customer domain.Customer) (domain.Customer, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	phoneKey := customer.TenantID + "|" + customer.Phone
	now := time.Now().UTC()

	if id, ok := r.byPhone[phoneKey]; ok {
		existing := r.byID[id]
		if existing.FillBlanks(customer.Snapshot()) {
			existing.UpdatedAt = now
			r.byID[id] = existing
		}
		return existing, false, nil
	}

	if customer.ID == "" {
		customer.ID = uuid.NewString()
	}
	customer.CreatedAt = now
	customer.UpdatedAt = now
	r.byID[customer.ID] = customer
	r.byPhone[phoneKey] = customer.ID
	return customer, true, nil
}

func (r *customerRepositoryInMemory) Get(tenantID, id string) (domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	customer, ok := r.byID[id]
	if !ok || customer.TenantID != tenantID {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

var _ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)
