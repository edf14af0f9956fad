package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultConsumerAttempts = 3
	defaultConsumerDelay    = 200 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerOptions задаёт параметры Consumer.
type ConsumerOptions struct {
	Logger      *log.Entry
	MaxAttempts int
	RetryDelay  time.Duration
	DeadLetter  *Producer
	DLQTopic    string
	Permanent   func(error) bool
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*ConsumerOptions)

// WithConsumerLogger задаёт logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.Logger = logger
	}
}

// WithMaxAttempts задаёт число попыток обработки одного сообщения.
func WithMaxAttempts(attempts int) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.MaxAttempts = attempts
	}
}

// WithRetryDelay задаёт базовую паузу между попытками (удваивается).
func WithRetryDelay(delay time.Duration) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.RetryDelay = delay
	}
}

// WithDeadLetter включает отправку необработанных сообщений в DLQ.
func WithDeadLetter(producer *Producer, topic string) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.DeadLetter = producer
		opts.DLQTopic = topic
	}
}

// WithPermanentErrors задаёт классификатор ошибок, которые не имеет смысла повторять.
func WithPermanentErrors(fn func(error) bool) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.Permanent = fn
	}
}

// Consumer читает топики в consumer group и передаёт сообщения handler'у.
// Offset фиксируется после успешной обработки или отправки в DLQ.
type Consumer struct {
	group       sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	maxAttempts int
	retryDelay  time.Duration
	dlq         *Producer
	dlqTopic    string
	permanent   func(error) bool
}

// NewConsumer подключается к брокерам как участник группы groupID.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, options ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return newConsumer(group, topics, handler, options...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, options ...ConsumerOption) *Consumer {
	opts := ConsumerOptions{
		MaxAttempts: defaultConsumerAttempts,
		RetryDelay:  defaultConsumerDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "kafka-consumer")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultConsumerAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.DLQTopic == "" {
		opts.DLQTopic = TopicDeadLetterQueue
	}
	if opts.Permanent == nil {
		opts.Permanent = func(error) bool { return false }
	}

	return &Consumer{
		group:       group,
		topics:      topics,
		handler:     handler,
		logger:      logger,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		dlq:         opts.DeadLetter,
		dlqTopic:    opts.DLQTopic,
		permanent:   opts.Permanent,
	}
}

// Run читает сообщения до отмены ctx, затем закрывает группу.
func (c *Consumer) Run(ctx context.Context) error {
	errsDone := make(chan struct{})
	go func() {
		defer close(errsDone)
		for err := range c.group.Errors() {
			c.logger.WithError(err).Warn("kafka consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	for {
		// Consume завершается при каждом rebalance, поэтому вызывается в цикле.
		if err := c.group.Consume(ctx, c.topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				break
			}
			c.logger.WithError(err).Error("kafka consume failed")
		}
		if ctx.Err() != nil {
			break
		}
	}

	err := c.group.Close()
	<-errsDone
	c.logger.Info("kafka consumer stopped")
	if err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения одной партиции по порядку.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if c.process(session.Context(), message) {
				session.MarkMessage(message, "")
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// process возвращает true, если offset сообщения можно фиксировать.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) bool {
	logger := c.logger.WithFields(log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	})

	attempts, err := c.handle(ctx, message)
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	logger.WithError(err).WithField("attempts", attempts).Error("kafka message not processed")
	if c.dlq == nil {
		return false
	}
	if dlqErr := c.sendToDLQ(message, err, attempts); dlqErr != nil {
		logger.WithError(dlqErr).Error("kafka message not moved to dlq")
		return false
	}
	logger.Info("kafka message moved to dlq")
	return true
}

func (c *Consumer) handle(ctx context.Context, message *sarama.ConsumerMessage) (int, error) {
	var err error
	delay := c.retryDelay
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err = c.handler(ctx, message)
		if err == nil {
			return attempt, nil
		}
		if c.permanent(err) || attempt == c.maxAttempts {
			return attempt, err
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return c.maxAttempts, err
}

func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, cause error, attempts int) error {
	failedAt := time.Now().UTC()
	letter := DeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		Error:             cause.Error(),
		Attempts:          attempts,
		FailedAt:          failedAt,
	}
	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	return c.dlq.Send(c.dlqTopic, string(message.Key), data, map[string]string{
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  cause.Error(),
		HeaderFailedAt:      failedAt.Format(time.RFC3339),
	})
}

// Header возвращает значение заголовка сообщения или пустую строку.
func Header(message *sarama.ConsumerMessage, name string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == name {
			return string(header.Value)
		}
	}
	return ""
}
