package domain

import (
	"strings"
	"time"
)

// Customer: клиент тенанта. Пара (TenantID, Phone) уникальна.
type Customer struct {
	ID        string
	TenantID  string
	Name      string
	Phone     string
	Email     string
	Address   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot возвращает контактные данные для копирования в заказ.
func (c Customer) Snapshot() CustomerSnapshot {
	return CustomerSnapshot{
		Name:    c.Name,
		Phone:   c.Phone,
		Email:   c.Email,
		Address: c.Address,
	}
}

// FillBlanks дополняет пустые поля клиента значениями из нового заказа.
// Возвращает true, если что-то изменилось.
func (c *Customer) FillBlanks(from CustomerSnapshot) bool {
	changed := false
	fill := func(dst *string, src string) {
		src = strings.TrimSpace(src)
		if strings.TrimSpace(*dst) == "" && src != "" {
			*dst = src
			changed = true
		}
	}
	fill(&c.Name, from.Name)
	fill(&c.Email, from.Email)
	fill(&c.Address, from.Address)
	return changed
}

// NormalizePhone убирает пробелы и разделители, чтобы один клиент не задвоился.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
