package kafka

import (
	"errors"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

var errProducerMissing = errors.New("kafka outbox publisher is not initialized")

// OutboxTopicPublisher переносит записи outbox в один топик.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher: пустой topic означает TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

// Publish ключует сообщение номером заказа, чтобы события одного заказа шли в одну партицию.
// Запись без заказа ключуется своим id.
func (p *OutboxTopicPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errProducerMissing
	}

	env := Envelope{
		Topic: p.topic,
		Key:   msg.AggregateID,
		Value: msg.Payload,
		Headers: map[string]string{
			HeaderEventType:     msg.EventType,
			HeaderAggregateType: msg.AggregateType,
		},
	}
	if env.Key == "" {
		env.Key = msg.ID
	}
	return p.producer.Deliver(env)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
