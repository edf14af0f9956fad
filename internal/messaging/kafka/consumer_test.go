package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"
)

var errInvalidPayload = errors.New("invalid payload")

func message(offset int64) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:  TopicStorefrontOrders,
		Offset: offset,
		Key:    []byte("WEB-1"),
		Value:  []byte(`{"externalOrderId":"WEB-1"}`),
	}
}

func TestConsumer_MarksProcessedMessages(t *testing.T) {
	t.Parallel()

	var handled []int64
	consumer := newConsumer(newFakeConsumerGroup(), []string{TopicStorefrontOrders}, func(_ context.Context, m *sarama.ConsumerMessage) error {
		handled = append(handled, m.Offset)
		return nil
	})

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, consumer.ConsumeClaim(session, newFakeClaim(message(1), message(2))))
	require.Equal(t, []int64{1, 2}, handled)
	require.Equal(t, []int64{1, 2}, session.marked)
}

func TestConsumer_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	consumer := newConsumer(newFakeConsumerGroup(), nil, func(context.Context, *sarama.ConsumerMessage) error {
		calls++
		if calls < 3 {
			return errors.New("db busy")
		}
		return nil
	}, WithMaxAttempts(3), WithRetryDelay(0))

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, consumer.ConsumeClaim(session, newFakeClaim(message(5))))
	require.Equal(t, 3, calls)
	require.Equal(t, []int64{5}, session.marked)
}

func TestConsumer_FailedMessageWithoutDLQIsNotMarked(t *testing.T) {
	t.Parallel()

	consumer := newConsumer(newFakeConsumerGroup(), nil, func(context.Context, *sarama.ConsumerMessage) error {
		return errors.New("down")
	}, WithMaxAttempts(2), WithRetryDelay(0))

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, consumer.ConsumeClaim(session, newFakeClaim(message(9))))
	require.Empty(t, session.marked)
}

func TestConsumer_PermanentErrorGoesStraightToDLQ(t *testing.T) {
	t.Parallel()

	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		require.Equal(t, "storefront-dlq", msg.Topic)
		value, _ := msg.Value.Encode()
		var letter DeadLetter
		require.NoError(t, json.Unmarshal(value, &letter))
		require.Equal(t, TopicStorefrontOrders, letter.OriginalTopic)
		require.EqualValues(t, 4, letter.OriginalOffset)
		require.Equal(t, 1, letter.Attempts)
		require.Equal(t, "invalid payload", letter.Error)
		return nil
	})

	calls := 0
	consumer := newConsumer(newFakeConsumerGroup(), nil, func(context.Context, *sarama.ConsumerMessage) error {
		calls++
		return errInvalidPayload
	},
		WithMaxAttempts(5),
		WithRetryDelay(0),
		WithDeadLetter(newProducer(mock, nil), "storefront-dlq"),
		WithPermanentErrors(func(err error) bool { return errors.Is(err, errInvalidPayload) }),
	)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, consumer.ConsumeClaim(session, newFakeClaim(message(4))))
	require.Equal(t, 1, calls)
	require.Equal(t, []int64{4}, session.marked)
	require.NoError(t, mock.Close())
}

func TestConsumer_DLQFailureLeavesMessageUnmarked(t *testing.T) {
	t.Parallel()

	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	consumer := newConsumer(newFakeConsumerGroup(), nil, func(context.Context, *sarama.ConsumerMessage) error {
		return errors.New("down")
	}, WithMaxAttempts(1), WithDeadLetter(newProducer(mock, nil), ""))

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, consumer.ConsumeClaim(session, newFakeClaim(message(3))))
	require.Empty(t, session.marked)
	require.NoError(t, mock.Close())
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	group := newFakeConsumerGroup()
	group.errorsCh <- errors.New("broker hiccup")
	consumer := newConsumer(group, []string{TopicStorefrontOrders}, func(context.Context, *sarama.ConsumerMessage) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestConsumer_RunReportsCloseError(t *testing.T) {
	t.Parallel()

	group := newFakeConsumerGroup()
	group.closeErr = errors.New("close failed")
	group.consumeFn = func(context.Context, []string, sarama.ConsumerGroupHandler) error {
		return sarama.ErrClosedConsumerGroup
	}

	err := newConsumer(group, nil, nil).Run(context.Background())
	require.ErrorContains(t, err, "close failed")
}

type recordingImporter struct {
	tenant  string
	payload string
	err     error
}

func (r *recordingImporter) ImportMessage(_ context.Context, tenantHint string, payload []byte) error {
	r.tenant = tenantHint
	r.payload = string(payload)
	return r.err
}

func TestStorefrontHandler_PassesTenantHeader(t *testing.T) {
	t.Parallel()

	importer := &recordingImporter{}
	handler := NewStorefrontHandler(importer)

	msg := message(1)
	msg.Headers = []*sarama.RecordHeader{{Key: []byte(HeaderTenantID), Value: []byte("tenant-a")}}

	require.NoError(t, handler(context.Background(), msg))
	require.Equal(t, "tenant-a", importer.tenant)
	require.Equal(t, `{"externalOrderId":"WEB-1"}`, importer.payload)
	require.Empty(t, Header(message(2), HeaderTenantID))
}
