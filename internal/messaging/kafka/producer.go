package kafka

import (
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Envelope: исходящее сообщение до преобразования в sarama.ProducerMessage.
type Envelope struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Producer отправляет сообщения синхронно и ждёт подтверждения всех реплик.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
	now    func() time.Time
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string, clientID string) (*Producer, error) {
	sync, err := sarama.NewSyncProducer(brokers, producerConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer to %v: %w", brokers, err)
	}
	return newProducer(sync, nil), nil
}

// producerConfig включает идемпотентную доставку: она допускает только один запрос в полёте.
func producerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.Idempotent = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

func newProducer(sync sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{sync: sync, logger: logger, now: time.Now}
}

// Send: сокращение для Deliver.
func (p *Producer) Send(topic, key string, value []byte, headers map[string]string) error {
	return p.Deliver(Envelope{Topic: topic, Key: key, Value: value, Headers: headers})
}

// Deliver отправляет одно сообщение. Заголовки пишутся в порядке имён.
func (p *Producer) Deliver(env Envelope) error {
	fields := log.Fields{"topic": env.Topic, "key": env.Key}

	partition, offset, err := p.sync.SendMessage(p.encode(env))
	if err != nil {
		p.logger.WithFields(fields).WithError(err).Error("kafka delivery failed")
		return fmt.Errorf("deliver to %s: %w", env.Topic, err)
	}

	fields["partition"] = partition
	fields["offset"] = offset
	p.logger.WithFields(fields).Debug("kafka message delivered")
	return nil
}

func (p *Producer) encode(env Envelope) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic:     env.Topic,
		Key:       sarama.StringEncoder(env.Key),
		Value:     sarama.ByteEncoder(env.Value),
		Timestamp: p.now(),
	}
	if len(env.Headers) == 0 {
		return msg
	}

	names := make([]string, 0, len(env.Headers))
	for name := range env.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	msg.Headers = make([]sarama.RecordHeader, 0, len(names))
	for _, name := range names {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(env.Headers[name])})
	}
	return msg
}

func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
