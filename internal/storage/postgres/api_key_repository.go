package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type apiKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository создаёт PostgreSQL-хранилище ключей витрин.
func NewAPIKeyRepository(store *Store) domain.APIKeyRepository {
	return &apiKeyRepository{db: store.DB()}
}

// Put делает key единственным ключом тенанта: прежние ключи удаляются в той же транзакции.
func (r *apiKeyRepository) Put(key domain.APIKey) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
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

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM api_keys WHERE tenant_id = $1 AND key_hash <> $2`, key.TenantID, key.KeyHash,
	); err != nil {
		return fmt.Errorf("revoke previous api keys: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO api_keys (key_hash, tenant_id, active, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (key_hash) DO UPDATE SET tenant_id = EXCLUDED.tenant_id, active = EXCLUDED.active
	`, key.KeyHash, key.TenantID, key.Active, key.CreatedAt); err != nil {
		return fmt.Errorf("upsert api key: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit api key: %w", err)
	}
	return nil
}

func (r *apiKeyRepository) FindByHash(hash string) (domain.APIKey, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var key domain.APIKey
	err := r.db.QueryRowContext(ctx, `
		SELECT key_hash, tenant_id, active, created_at
		FROM api_keys
		WHERE key_hash = $1
	`, hash).Scan(&key.KeyHash, &key.TenantID, &key.Active, &key.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.APIKey{}, domain.ErrAPIKeyNotFound
		}
		return domain.APIKey{}, fmt.Errorf("select api key: %w", err)
	}
	return key, nil
}

var _ domain.APIKeyRepository = (*apiKeyRepository)(nil)
