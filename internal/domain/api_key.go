package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// APIKey: ключ доступа витрины тенанта к шлюзу импорта.
// Сам ключ не хранится, только его SHA-256.
type APIKey struct {
	TenantID  string
	KeyHash   string
	Active    bool
	CreatedAt time.Time
}

// HashAPIKey возвращает hex SHA-256 от ключа без окружающих пробелов.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}
