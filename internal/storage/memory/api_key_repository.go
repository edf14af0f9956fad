package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type apiKeyRepositoryInMemory struct {
	mu   sync.RWMutex
	keys map[string]domain.APIKey
}

// NewAPIKeyRepository создаёт хранилище ключей витрин.
func NewAPIKeyRepository() domain.APIKeyRepository {
	return &apiKeyRepositoryInMemory{keys: make(map[string]domain.APIKey)}
}

func (r *apiKeyRepositoryInMemory) Put(key domain.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// У тенанта один ключ: новый заменяет прежний.
	for hash, existing := range r.keys {
		if existing.TenantID == key.TenantID {
			delete(r.keys, hash)
		}
	}
	r.keys[key.KeyHash] = key
	return nil
}

func (r *apiKeyRepositoryInMemory) FindByHash(hash string) (domain.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.keys[hash]
	if !ok {
		return domain.APIKey{}, domain.ErrAPIKeyNotFound
	}
	return key, nil
}

var _ domain.APIKeyRepository = (*apiKeyRepositoryInMemory)(nil)
