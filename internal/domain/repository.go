package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов.
// Заказы адресуются парой (tenantID, orderID) и никогда не удаляются.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrDuplicateOrder при нарушении уникальности.
	Create(order Order) error
	// Get возвращает заказ по номеру или ErrOrderNotFound.
	Get(tenantID, orderID string) (Order, error)
	// FindByExternalID ищет заказ по номеру во внешней витрине.
	FindByExternalID(tenantID, externalOrderID string) (Order, error)
	// FindByIdempotencyKey ищет заказ по ключу идемпотентности.
	FindByIdempotencyKey(tenantID, key string) (Order, error)
	// List возвращает последние заказы тенанта с опциональным ограничением.
	List(tenantID string, limit int) ([]Order, error)
	// Save применяет изменения с учётом optimistic locking.
	// Новые записи журнала и лога синхронизации дописываются, старые не меняются.
	Save(order Order) error
}

// CustomerRepository хранит клиентов.
type CustomerRepository interface {
	// GetOrCreate возвращает клиента по (TenantID, Phone) или создаёт его.
	// Пустые контактные поля существующего клиента дополняются. Второй результат true, если клиент создан.
	GetOrCreate(customer Customer) (Customer, bool, error)
	Get(tenantID, id string) (Customer, error)
}

// FailedSyncRepository: журнал неудачных синхронизаций.
type FailedSyncRepository interface {
	// UpsertPending создаёт PENDING-запись по заказу или обновляет причину у существующей.
	UpsertPending(record FailedSync) (FailedSync, error)
	// ListPending возвращает PENDING-записи от старых к новым.
	ListPending(limit int) ([]FailedSync, error)
	// Update меняет PENDING-запись. Для записей в конечном статусе возвращает ErrFailedSyncFinal,
	// при RetryCount меньше сохранённого: ErrFailedSyncStale (счётчик не убывает).
	Update(record FailedSync) error
	// List возвращает записи тенанта, при пустом status все.
	List(tenantID string, status FailedSyncStatus, limit int) ([]FailedSync, error)
}

// APIKeyRepository хранит ключи витрин.
type APIKeyRepository interface {
	Put(key APIKey) error
	FindByHash(hash string) (APIKey, error)
}

// OutboxRepository: очередь событий шины на отправку в Kafka.
// Повторный Enqueue с тем же ID игнорируется, MarkSent/MarkFailed закрывают запись.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxMessage: событие заказа в виде JSON, ключ сообщения в Kafka: AggregateID.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats: размер очереди на отправку и возраст самой старой записи (для gauge задержки).
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
