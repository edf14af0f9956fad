package kafka

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

func TestProducerConfig_IdempotentDelivery(t *testing.T) {
	t.Parallel()

	cfg := producerConfig("orderflow-test")
	require.Equal(t, "orderflow-test", cfg.ClientID)
	require.True(t, cfg.Producer.Idempotent)
	require.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	require.Equal(t, 1, cfg.Net.MaxOpenRequests)
	require.NoError(t, cfg.Validate())
}

func TestProducer_DeliverSortsHeaders(t *testing.T) {
	t.Parallel()

	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		require.Equal(t, TopicOrderEvents, msg.Topic)
		require.Equal(t, stamp, msg.Timestamp)
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		require.Equal(t, "ORD-1", string(key))
		require.Len(t, msg.Headers, 2)
		require.Equal(t, HeaderAggregateType, string(msg.Headers[0].Key))
		require.Equal(t, HeaderEventType, string(msg.Headers[1].Key))
		return nil
	})

	producer := newProducer(mock, nil)
	producer.now = func() time.Time { return stamp }
	require.NoError(t, producer.Deliver(Envelope{
		Topic: TopicOrderEvents,
		Key:   "ORD-1",
		Value: []byte(`{}`),
		Headers: map[string]string{
			HeaderEventType:     "ORDER_CREATED",
			HeaderAggregateType: "order",
		},
	}))
	require.NoError(t, producer.Close())
}

func TestProducer_SendFailureIsWrapped(t *testing.T) {
	t.Parallel()

	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := newProducer(mock, nil)
	err := producer.Send(TopicDeadLetterQueue, "k", []byte(`{}`), nil)
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.ErrorContains(t, err, TopicDeadLetterQueue)
	require.NoError(t, producer.Close())
}

func TestOutboxPublisher_KeysByOrder(t *testing.T) {
	t.Parallel()

	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		require.Equal(t, "ORD-7", string(key))
		value, _ := msg.Value.Encode()
		require.JSONEq(t, `{"paymentStatus":"PAID"}`, string(value))
		return nil
	})
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		require.Equal(t, "orderflow.custom", msg.Topic)
		key, _ := msg.Key.Encode()
		require.Equal(t, "outbox-2", string(key))
		return nil
	})

	producer := newProducer(mock, nil)
	require.NoError(t, NewOutboxPublisher(producer, "").Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "ORD-7",
		EventType:     "PAYMENT_SUCCESS",
		Payload:       []byte(`{"paymentStatus":"PAID"}`),
	}))
	require.NoError(t, NewOutboxPublisher(producer, "orderflow.custom").Publish(domain.OutboxMessage{ID: "outbox-2", Payload: []byte(`{}`)}))
	require.NoError(t, mock.Close())
}

func TestOutboxPublisher_NilProducer(t *testing.T) {
	t.Parallel()

	err := NewOutboxPublisher(nil, TopicOrderEvents).Publish(domain.OutboxMessage{ID: "x"})
	require.ErrorIs(t, err, errProducerMissing)
}
