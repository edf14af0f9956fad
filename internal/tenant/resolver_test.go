package tenant

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/memory"
)

type brokenKeys struct{}

func (brokenKeys) Put(domain.APIKey) error { return nil }
func (brokenKeys) FindByHash(string) (domain.APIKey, error) {
	return domain.APIKey{}, errors.New("db down")
}

func TestResolveTenant(t *testing.T) {
	t.Parallel()

	r := NewResolver(ParseHosts("Shop.Example.com=tenant-a, other.example=tenant-b,broken"), nil)

	tests := []struct {
		host   string
		want   string
		wantOK bool
	}{
		{host: "shop.example.com", want: "tenant-a", wantOK: true},
		{host: "SHOP.example.com:8443", want: "tenant-a", wantOK: true},
		{host: "other.example.", want: "tenant-b", wantOK: true},
		{host: "unknown.example", wantOK: false},
		{host: "", wantOK: false},
	}
	for _, tt := range tests {
		got, ok := r.ResolveTenant(tt.host)
		require.Equal(t, tt.wantOK, ok, tt.host)
		require.Equal(t, tt.want, got, tt.host)
	}
}

func TestResolveAPIKey(t *testing.T) {
	t.Parallel()

	keys := memory.NewAPIKeyRepository()
	require.NoError(t, keys.Put(domain.APIKey{TenantID: "tenant-a", KeyHash: domain.HashAPIKey("live-key"), Active: true, CreatedAt: time.Now()}))
	require.NoError(t, keys.Put(domain.APIKey{TenantID: "tenant-b", KeyHash: domain.HashAPIKey("old-key"), Active: false, CreatedAt: time.Now()}))

	r := NewResolver(nil, keys)

	tenantID, err := r.ResolveAPIKey("  live-key ")
	require.NoError(t, err)
	require.Equal(t, "tenant-a", tenantID)

	_, err = r.ResolveAPIKey("old-key")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = r.ResolveAPIKey("guess")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = r.ResolveAPIKey("")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = NewResolver(nil, brokenKeys{}).ResolveAPIKey("live-key")
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrUnauthorized)
}

func TestResolveAPIKeyAfterRotation(t *testing.T) {
	t.Parallel()

	keys := memory.NewAPIKeyRepository()
	require.NoError(t, keys.Put(domain.APIKey{TenantID: "tenant-a", KeyHash: domain.HashAPIKey("leaked"), Active: true}))
	require.NoError(t, keys.Put(domain.APIKey{TenantID: "tenant-a", KeyHash: domain.HashAPIKey("rotated"), Active: true}))

	r := NewResolver(nil, keys)

	_, err := r.ResolveAPIKey("leaked")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	tenantID, err := r.ResolveAPIKey("rotated")
	require.NoError(t, err)
	require.Equal(t, "tenant-a", tenantID)
}
