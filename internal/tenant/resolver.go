// Package tenant определяет тенанта запроса по имени хоста и API-ключу витрины.
package tenant

import (
	"errors"
	"net"
	"strings"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// Resolver сопоставляет хосты тенантам и проверяет API-ключи.
type Resolver struct {
	hosts map[string]string
	keys  domain.APIKeyRepository
}

// NewResolver создаёт resolver. hosts: отображение "host -> tenantID", регистр не важен.
func NewResolver(hosts map[string]string, keys domain.APIKeyRepository) *Resolver {
	normalized := make(map[string]string, len(hosts))
	for host, tenantID := range hosts {
		host = normalizeHost(host)
		tenantID = strings.TrimSpace(tenantID)
		if host == "" || tenantID == "" {
			continue
		}
		normalized[host] = tenantID
	}
	return &Resolver{hosts: normalized, keys: keys}
}

// ResolveTenant возвращает тенанта по хосту запроса. Порт отбрасывается.
func (r *Resolver) ResolveTenant(host string) (string, bool) {
	if r == nil {
		return "", false
	}
	tenantID, ok := r.hosts[normalizeHost(host)]
	return tenantID, ok
}

// ResolveAPIKey возвращает тенанта активного ключа.
// Пустой, неизвестный и выключенный ключ дают ErrUnauthorized.
func (r *Resolver) ResolveAPIKey(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || r == nil || r.keys == nil {
		return "", domain.ErrUnauthorized
	}

	key, err := r.keys.FindByHash(domain.HashAPIKey(raw))
	if err != nil {
		if errors.Is(err, domain.ErrAPIKeyNotFound) {
			return "", domain.ErrUnauthorized
		}
		return "", err
	}
	if !key.Active {
		return "", domain.ErrUnauthorized
	}
	return key.TenantID, nil
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}

// ParseHosts разбирает строку вида "shop.example.com=tenant-a,other.example=tenant-b".
func ParseHosts(raw string) map[string]string {
	hosts := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		host, tenantID, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		host = strings.TrimSpace(host)
		tenantID = strings.TrimSpace(tenantID)
		if host != "" && tenantID != "" {
			hosts[host] = tenantID
		}
	}
	return hosts
}
