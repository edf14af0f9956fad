// Package postgres хранит заказы, клиентов, ключи витрин, журнал синхронизаций и outbox в PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pingTimeout = 5 * time.Second

	// opTimeout ограничивает каждую операцию репозиториев.
	opTimeout = 5 * time.Second
)

var errStoreClosed = errors.New("postgres store is not initialized")

// PoolOptions задаёт размеры пула database/sql.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// StoreOption настраивает пул при открытии.
type StoreOption func(*PoolOptions)

// WithMaxOpenConns ограничивает число открытых соединений. Idle-соединений держим не больше половины.
func WithMaxOpenConns(n int) StoreOption {
	return func(opts *PoolOptions) {
		if n <= 0 {
			return
		}
		opts.MaxOpenConns = n
		opts.MaxIdleConns = max(1, n/2)
	}
}

// WithConnLifetime задаёт время жизни и простоя соединения.
func WithConnLifetime(lifetime, idle time.Duration) StoreOption {
	return func(opts *PoolOptions) {
		if lifetime > 0 {
			opts.ConnMaxLifetime = lifetime
		}
		if idle > 0 {
			opts.ConnMaxIdleTime = idle
		}
	}
}

// Store: пул соединений, общий для всех репозиториев.
type Store struct {
	db *sql.DB
}

// Open подключается через pgx stdlib и проверяет, что база отвечает.
func Open(ctx context.Context, dsn string, options ...StoreOption) (*Store, error) {
	pool := PoolOptions{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
	for _, option := range options {
		option(&pool)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// NewStore оборачивает готовый *sql.DB (sqlmock в тестах).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB отдаёт пул для репозиториев.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping используется при открытии и в проверке готовности.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema доводит схему до последней версии.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}
