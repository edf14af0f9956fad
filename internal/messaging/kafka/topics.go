package kafka

import "time"

// Топики по умолчанию.
const (
	TopicOrderEvents      = "orderflow.order.events"
	TopicStorefrontOrders = "orderflow.storefront.orders"
	TopicDeadLetterQueue  = "orderflow.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderTenantID      = "x-tenant-id"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// DeadLetter: сообщение, которое не удалось обработать за отведённые попытки.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	Error             string    `json:"error"`
	Attempts          int       `json:"attempts"`
	FailedAt          time.Time `json:"failed_at"`
}
