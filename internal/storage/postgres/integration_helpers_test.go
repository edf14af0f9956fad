package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// integrationDSNEnv включает тесты против живой базы; без неё они пропускаются.
const integrationDSNEnv = "ORDERFLOW_POSTGRES_TEST_DSN"

var pipelineTables = []string{
	"outbox_messages",
	"api_keys",
	"failed_syncs",
	"order_sync_log",
	"order_timeline",
	"order_items",
	"orders",
	"customers",
}

// connectForTest открывает базу из ORDERFLOW_POSTGRES_TEST_DSN без миграций.
func connectForTest(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(integrationDSNEnv))
	if dsn == "" {
		t.Skipf("%s is not set", integrationDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	store, err := Open(ctx, dsn, WithMaxOpenConns(4))
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// freshSchemaForTest доводит схему до последней версии и очищает таблицы конвейера.
func freshSchemaForTest(t *testing.T) *Store {
	t.Helper()

	store := connectForTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, store.EnsureSchema(ctx))
	_, err := store.DB().ExecContext(ctx,
		"TRUNCATE TABLE "+strings.Join(pipelineTables, ", ")+" RESTART IDENTITY CASCADE")
	require.NoError(t, err)
	return store
}
