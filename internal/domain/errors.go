package domain

import (
	"errors"
	"strings"
)

var (
	// Ошибка отсутствующего тенанта.
	ErrTenantRequired = errors.New("tenant_id is required")
	// Ошибка отсутствующего номера заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующих контактов клиента (имя и телефон обязательны).
	ErrCustomerRequired = errors.New("customer name and phone are required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("total amount must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка статуса вне графа переходов.
	ErrInvalidStatus = errors.New("order status is not valid")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrDuplicateOrder: нарушена уникальность номера, внешнего номера или ключа идемпотентности.
	ErrDuplicateOrder = errors.New("order already exists")
	// ErrInvalidTransition: операция недопустима в текущем статусе заказа.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrNoChange: операция не требует изменений (повторный вызов).
	ErrNoChange = errors.New("order already in requested state")

	// ErrCustomerNotFound возвращается, если клиент не найден.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrUnauthorized: API-ключ не передан, неизвестен или выключен.
	ErrUnauthorized = errors.New("invalid or missing api key")
	// ErrTenantMismatch: тенант по хосту не совпадает с тенантом ключа.
	ErrTenantMismatch = errors.New("tenant does not match api key")
	// ErrAPIKeyNotFound: ключа нет в хранилище.
	ErrAPIKeyNotFound = errors.New("api key not found")

	// ErrFailedSyncNotFound: запись журнала синхронизаций не найдена.
	ErrFailedSyncNotFound = errors.New("failed sync record not found")
	// ErrFailedSyncFinal: запись уже в конечном статусе и не может меняться.
	ErrFailedSyncFinal = errors.New("failed sync record is final")
	// ErrFailedSyncStale: запись уже обновлена с большим числом попыток (параллельный проход).
	ErrFailedSyncStale = errors.New("failed sync record has a newer retry count")

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ValidationError собирает ошибки валидации входных данных.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewValidationError создаёт ошибку валидации для одного поля.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsValidation проверяет, что ошибка вызвана некорректными входными данными.
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}
