package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	migrationsDir = "sql/migrations"
	// migrationLockID: ключ advisory lock, общий для всех экземпляров сервиса.
	migrationLockID    = int64(0x6f726466)
	migrationLockWait  = 10 * time.Second
	migrationStatusTTL = 5 * time.Second

	schemaTableDDL = `
CREATE TABLE IF NOT EXISTS orderflow_schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    checksum TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

//go:embed sql/migrations/*.sql
var embeddedMigrations embed.FS

var migrationFileName = regexp.MustCompile(`^(\d{4})_([a-z0-9_]+)\.(up|down)\.sql$`)

// ErrMigrationDrift: применённая миграция изменилась после применения.
var ErrMigrationDrift = errors.New("applied migration was modified")

// schemaStep: пара up/down одной версии схемы.
type schemaStep struct {
	version  int64
	name     string
	up       string
	down     string
	checksum string
}

func (s schemaStep) label() string {
	return fmt.Sprintf("%04d_%s", s.version, s.name)
}

// MigrateUp применяет не более steps новых миграций; steps <= 0 означает все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sql.Conn, all []schemaStep) error {
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}
		plan, err := planUp(all, applied, steps)
		if err != nil {
			return err
		}
		for _, step := range plan {
			if err := applyStep(ctx, conn, step); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrateDown откатывает steps последних миграций. steps <= 0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withMigrationLock(ctx, func(conn *sql.Conn, all []schemaStep) error {
		versions, err := latestVersions(ctx, conn, steps)
		if err != nil {
			return err
		}
		plan, err := planDown(all, versions)
		if err != nil {
			return err
		}
		for _, step := range plan {
			if err := revertStep(ctx, conn, step); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrationStatus возвращает последнюю применённую версию и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errStoreClosed
	}

	ctx, cancel := context.WithTimeout(ctx, migrationStatusTTL)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaTableDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure schema table: %w", err)
	}
	var (
		version int64
		count   int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM orderflow_schema_migrations`,
	).Scan(&version, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, count, nil
}

// withMigrationLock держит advisory lock на выделенном соединении, пока выполняется fn.
func (s *Store) withMigrationLock(ctx context.Context, fn func(conn *sql.Conn, all []schemaStep) error) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}
	all, err := readSchemaSteps(embeddedMigrations)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, migrationLockWait)
	_, err = conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, migrationLockID)
	cancel()
	if err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		// Контекст вызова может быть уже отменён, а lock нужно снять в любом случае.
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	if _, err := conn.ExecContext(ctx, schemaTableDDL); err != nil {
		return fmt.Errorf("ensure schema table: %w", err)
	}
	return fn(conn, all)
}

func applyStep(ctx context.Context, conn *sql.Conn, step schemaStep) error {
	err := inTx(ctx, conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, step.up); err != nil {
			return fmt.Errorf("apply %s: %w", step.label(), err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO orderflow_schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
			step.version, step.name, step.checksum,
		); err != nil {
			return fmt.Errorf("record %s: %w", step.label(), err)
		}
		return nil
	})
	if err == nil {
		log.WithFields(log.Fields{"component": "schema", "migration": step.label()}).Info("migration applied")
	}
	return err
}

func revertStep(ctx context.Context, conn *sql.Conn, step schemaStep) error {
	err := inTx(ctx, conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, step.down); err != nil {
			return fmt.Errorf("revert %s: %w", step.label(), err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM orderflow_schema_migrations WHERE version = $1`, step.version,
		); err != nil {
			return fmt.Errorf("forget %s: %w", step.label(), err)
		}
		return nil
	})
	if err == nil {
		log.WithFields(log.Fields{"component": "schema", "migration": step.label()}).Info("migration reverted")
	}
	return err
}

func inTx(ctx context.Context, conn *sql.Conn, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

func appliedChecksums(ctx context.Context, conn *sql.Conn) (map[int64]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM orderflow_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			version  int64
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = checksum
	}
	return applied, rows.Err()
}

func latestVersions(ctx context.Context, conn *sql.Conn, limit int) ([]int64, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT version FROM orderflow_schema_migrations ORDER BY version DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list latest migrations: %w", err)
	}
	defer rows.Close()

	versions := make([]int64, 0, limit)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan latest migration: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// planUp выбирает неприменённые шаги по возрастанию версии и сверяет контрольные суммы применённых.
func planUp(all []schemaStep, applied map[int64]string, limit int) ([]schemaStep, error) {
	plan := make([]schemaStep, 0, len(all))
	for _, step := range all {
		checksum, done := applied[step.version]
		if done {
			if checksum != step.checksum {
				return nil, fmt.Errorf("%s: %w", step.label(), ErrMigrationDrift)
			}
			continue
		}
		plan = append(plan, step)
	}
	if limit > 0 && len(plan) > limit {
		plan = plan[:limit]
	}
	return plan, nil
}

// planDown сопоставляет применённые версии (от новых к старым) с файлами миграций.
func planDown(all []schemaStep, versions []int64) ([]schemaStep, error) {
	byVersion := make(map[int64]schemaStep, len(all))
	for _, step := range all {
		byVersion[step.version] = step
	}
	plan := make([]schemaStep, 0, len(versions))
	for _, version := range versions {
		step, ok := byVersion[version]
		if !ok {
			return nil, fmt.Errorf("no migration files for applied version %d", version)
		}
		plan = append(plan, step)
	}
	return plan, nil
}

// readSchemaSteps собирает пары up/down из каталога миграций и сортирует их по версии.
func readSchemaSteps(fsys fs.FS) ([]schemaStep, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	steps := make(map[int64]*schemaStep)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := migrationFileName.FindStringSubmatch(entry.Name())
		if m == nil {
			return nil, fmt.Errorf("unexpected file in migrations: %s", entry.Name())
		}
		version, _ := strconv.ParseInt(m[1], 10, 64)
		name, direction := m[2], m[3]

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration %s is empty", entry.Name())
		}

		step, ok := steps[version]
		if !ok {
			step = &schemaStep{version: version, name: name}
			steps[version] = step
		}
		if step.name != name {
			return nil, fmt.Errorf("version %d has two names: %s and %s", version, step.name, name)
		}
		target := &step.up
		if direction == "down" {
			target = &step.down
		}
		if *target != "" {
			return nil, fmt.Errorf("version %d has two %s files", version, direction)
		}
		*target = body
	}
	if len(steps) == 0 {
		return nil, errors.New("no migrations found")
	}

	out := make([]schemaStep, 0, len(steps))
	for _, step := range steps {
		if step.up == "" || step.down == "" {
			return nil, fmt.Errorf("migration %s needs both up and down files", step.label())
		}
		sum := sha256.Sum256([]byte(step.up))
		step.checksum = hex.EncodeToString(sum[:])
		out = append(out, *step)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
