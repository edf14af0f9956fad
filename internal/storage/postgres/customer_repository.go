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

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository создаёт PostgreSQL-реализацию CustomerRepository.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepository{db: store.DB()}
}

// GetOrCreate выполняет upsert по (tenant_id, phone). Пустые поля существующего клиента дополняются.
func (r *customerRepository) GetOrCreate(customer domain.Customer) (domain.Customer, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if customer.ID == "" {
		customer.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	var inserted bool
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO customers (id, tenant_id, name, phone, email, address, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		ON CONFLICT (tenant_id, phone) DO UPDATE SET
			name = CASE WHEN customers.name = '' THEN EXCLUDED.name ELSE customers.name END,
			email = CASE WHEN customers.email = '' THEN EXCLUDED.email ELSE customers.email END,
			address = CASE WHEN customers.address = '' THEN EXCLUDED.address ELSE customers.address END,
			updated_at = EXCLUDED.updated_at
		RETURNING id, name, email, address, created_at, updated_at, (xmax = 0)
	`,
		customer.ID, customer.TenantID, customer.Name, customer.Phone, customer.Email, customer.Address, now,
	).Scan(&customer.ID, &customer.Name, &customer.Email, &customer.Address, &customer.CreatedAt, &customer.UpdatedAt, &inserted)
	if err != nil {
		return domain.Customer{}, false, fmt.Errorf("upsert customer: %w", err)
	}

	return customer, inserted, nil
}

func (r *customerRepository) Get(tenantID, id string) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var c domain.Customer
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, phone, email, address, created_at, updated_at
		FROM customers
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("select customer: %w", err)
	}
	return c, nil
}

var _ domain.CustomerRepository = (*customerRepository)(nil)
