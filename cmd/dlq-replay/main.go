// Команда dlq-replay возвращает сообщения из dead letter топика туда, откуда они выпали:
// заказы витрин в исходный топик, события outbox в топик событий заказов.
// По умолчанию работает всухую и только печатает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderflow/internal/service/outbox"
)

type options struct {
	brokers     []string
	sourceTopic string
	eventsTopic string
	limit       int
	partition   int
	execute     bool
	idleTimeout time.Duration
}

// offsets и partitions: то, что нужно от sarama.Client и sarama.Consumer.
type offsets interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
}

type partitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitions interface {
	open(topic string, partition int32, offset int64) (partitionReader, error)
}

type saramaPartitions struct{ sarama.Consumer }

func (c saramaPartitions) open(topic string, partition int32, offset int64) (partitionReader, error) {
	return c.ConsumePartition(topic, partition, offset)
}

type publisher interface {
	Deliver(env kafka.Envelope) error
}

// tally: счётчики прохода.
type tally struct {
	scanned  int
	replayed int
	skipped  int
}

func (t *tally) add(other tally) {
	t.scanned += other.scanned
	t.replayed += other.replayed
	t.skipped += other.skipped
}

type replayer struct {
	opts    options
	offsets offsets
	reader  partitions
	out     publisher
	logger  *log.Entry
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	_ = godotenv.Load()

	opts, err := parseOptions(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := execute(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "dlq replay failed: %v\n", err)
		os.Exit(1)
	}
}

func parseOptions(fs *flag.FlagSet, args []string, getenv func(string) string) (options, error) {
	var (
		opts    options
		brokers string
	)
	fs.StringVar(&brokers, "brokers", getenv("ORDERFLOW_KAFKA_BROKERS"), "Kafka brokers, comma-separated")
	fs.StringVar(&opts.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "dead letter topic to scan")
	fs.StringVar(&opts.eventsTopic, "events-topic", kafka.TopicOrderEvents, "topic for replayed outbox events")
	fs.IntVar(&opts.limit, "limit", 100, "max number of dead letters to scan")
	fs.IntVar(&opts.partition, "partition", -1, "scan only this partition (-1 scans all)")
	fs.BoolVar(&opts.execute, "execute", false, "publish replayed messages; default is dry-run")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", 2*time.Second, "stop reading a partition after this idle time")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.brokers = splitList(brokers)
	opts.sourceTopic = strings.TrimSpace(opts.sourceTopic)
	opts.eventsTopic = strings.TrimSpace(opts.eventsTopic)

	var problems []error
	if len(opts.brokers) == 0 {
		problems = append(problems, errors.New("kafka brokers are required (-brokers or ORDERFLOW_KAFKA_BROKERS)"))
	}
	if opts.sourceTopic == "" || opts.eventsTopic == "" {
		problems = append(problems, errors.New("source-topic and events-topic must not be empty"))
	}
	if opts.limit <= 0 {
		problems = append(problems, errors.New("limit must be positive"))
	}
	if opts.idleTimeout <= 0 {
		problems = append(problems, errors.New("idle-timeout must be positive"))
	}
	return opts, errors.Join(problems...)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// execute подключается к брокерам. Producer создаётся только в режиме -execute.
func execute(ctx context.Context, opts options) error {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true
	client, err := sarama.NewClient(opts.brokers, cfg)
	if err != nil {
		return fmt.Errorf("connect to kafka: %w", err)
	}
	defer client.Close()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	defer consumer.Close()

	r := &replayer{
		opts:    opts,
		offsets: client,
		reader:  saramaPartitions{consumer},
		logger:  log.WithField("component", "dlq-replay"),
	}
	if opts.execute {
		producer, err := kafka.NewProducer(opts.brokers, "orderflow-dlq-replay")
		if err != nil {
			return err
		}
		defer producer.Close()
		r.out = producer
	}

	_, err = r.replay(ctx)
	return err
}

func (r *replayer) replay(ctx context.Context) (tally, error) {
	var total tally
	if r.opts.execute && r.out == nil {
		return total, errors.New("execute mode needs a producer")
	}

	ids, err := r.offsets.Partitions(r.opts.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.opts.sourceTopic, err)
	}
	slices.Sort(ids)

	for _, id := range ids {
		if r.opts.partition >= 0 && int32(r.opts.partition) != id {
			continue
		}
		budget := r.opts.limit - total.scanned
		if budget <= 0 {
			break
		}
		part, err := r.replayPartition(ctx, id, budget)
		total.add(part)
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if r.opts.execute {
		mode = "execute"
	}
	r.logger.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

// replayPartition читает partition от начала до high water mark, зафиксированного при старте.
func (r *replayer) replayPartition(ctx context.Context, id int32, budget int) (tally, error) {
	var part tally

	from, err := r.offsets.GetOffset(r.opts.sourceTopic, id, sarama.OffsetOldest)
	if err != nil {
		return part, fmt.Errorf("oldest offset of partition %d: %w", id, err)
	}
	until, err := r.offsets.GetOffset(r.opts.sourceTopic, id, sarama.OffsetNewest)
	if err != nil {
		return part, fmt.Errorf("newest offset of partition %d: %w", id, err)
	}
	if until <= from {
		return part, nil
	}

	reader, err := r.reader.open(r.opts.sourceTopic, id, from)
	if err != nil {
		return part, fmt.Errorf("open partition %d: %w", id, err)
	}
	defer reader.Close()

	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()

	for part.scanned < budget {
		select {
		case <-ctx.Done():
			return part, ctx.Err()
		case <-idle.C:
			return part, nil
		case cerr := <-reader.Errors():
			if cerr != nil {
				return part, fmt.Errorf("partition %d: %w", id, cerr)
			}
		case msg, ok := <-reader.Messages():
			if !ok || msg == nil || msg.Offset >= until {
				return part, nil
			}
			idle.Reset(r.opts.idleTimeout)
			part.scanned++

			if err := r.handle(msg); err != nil {
				if errors.Is(err, errUnreadable) {
					part.skipped++
					r.logger.WithError(err).WithFields(log.Fields{"partition": id, "offset": msg.Offset}).Warn("dead letter skipped")
					continue
				}
				return part, err
			}
			part.replayed++
			if msg.Offset+1 >= until {
				return part, nil
			}
		}
	}
	return part, nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage) error {
	env, err := decodeLetter(msg, r.opts.eventsTopic)
	if err != nil {
		return err
	}
	if !r.opts.execute {
		r.logger.WithFields(log.Fields{
			"offset": msg.Offset,
			"target": env.Topic,
			"key":    env.Key,
		}).Info("would replay dead letter")
		return nil
	}
	if err := r.out.Deliver(env); err != nil {
		return fmt.Errorf("replay offset %d: %w", msg.Offset, err)
	}
	return nil
}

var errUnreadable = errors.New("unreadable dead letter")

// decodeLetter понимает два формата: отказ consumer'а витрин (kafka.DeadLetter)
// и отказ outbox-ретранслятора (outbox.DeadLetter).
func decodeLetter(msg *sarama.ConsumerMessage, eventsTopic string) (kafka.Envelope, error) {
	var consumed kafka.DeadLetter
	if err := json.Unmarshal(msg.Value, &consumed); err != nil {
		return kafka.Envelope{}, fmt.Errorf("%w: %v", errUnreadable, err)
	}
	if consumed.OriginalValue != "" {
		if strings.TrimSpace(consumed.OriginalTopic) == "" {
			return kafka.Envelope{}, fmt.Errorf("%w: offset %d has no original topic", errUnreadable, msg.Offset)
		}
		env := kafka.Envelope{
			Topic: consumed.OriginalTopic,
			Key:   consumed.OriginalKey,
			Value: []byte(consumed.OriginalValue),
		}
		if tenant := kafka.Header(msg, kafka.HeaderTenantID); tenant != "" {
			env.Headers = map[string]string{kafka.HeaderTenantID: tenant}
		}
		return env, nil
	}

	var letter outbox.DeadLetter
	if err := json.Unmarshal(msg.Value, &letter); err != nil {
		return kafka.Envelope{}, fmt.Errorf("%w: %v", errUnreadable, err)
	}
	if len(letter.Payload) == 0 || letter.EventType == "" {
		return kafka.Envelope{}, fmt.Errorf("%w: offset %d carries no event", errUnreadable, msg.Offset)
	}
	key := letter.AggregateID
	if key == "" {
		key = letter.OutboxID
	}
	return kafka.Envelope{
		Topic: eventsTopic,
		Key:   key,
		Value: letter.Payload,
		Headers: map[string]string{
			kafka.HeaderEventType:     letter.EventType,
			kafka.HeaderAggregateType: letter.AggregateType,
		},
	}, nil
}
