package domain

import (
	"errors"
	"time"
)

const (
	updateMaxAttempts = 3
	updateBaseDelay   = 10 * time.Millisecond
)

// UpdateOrder перечитывает заказ, применяет change и сохраняет его с проверкой версии.
// При конфликте версий попытка повторяется на свежей копии с экспоненциальной задержкой.
// Если change вернул ErrNoChange, заказ не сохраняется и возвращается вместе с этой ошибкой.
func UpdateOrder(repo OrderRepository, tenantID, orderID string, change func(*Order) error) (Order, error) {
	var lastErr error
	for attempt := 0; attempt < updateMaxAttempts; attempt++ {
		order, err := repo.Get(tenantID, orderID)
		if err != nil {
			return Order{}, err
		}
		if err := change(&order); err != nil {
			return order, err
		}

		err = repo.Save(order)
		if err == nil {
			order.Version++
			return order, nil
		}
		if !IsVersionConflict(err) {
			return Order{}, err
		}
		lastErr = err
		time.Sleep(updateBaseDelay * time.Duration(1<<uint(attempt)))
	}
	return Order{}, lastErr
}

// IsNoChange сообщает, что операция оказалась повторной.
func IsNoChange(err error) bool {
	return errors.Is(err, ErrNoChange)
}
