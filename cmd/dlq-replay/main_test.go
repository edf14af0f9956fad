package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderflow/internal/service/outbox"
)

type fakeOffsets struct {
	ids    []int32
	oldest int64
	newest int64
}

func (f *fakeOffsets) Partitions(string) ([]int32, error) { return f.ids, nil }

func (f *fakeOffsets) GetOffset(_ string, _ int32, at int64) (int64, error) {
	if at == sarama.OffsetOldest {
		return f.oldest, nil
	}
	return f.newest, nil
}

type fakeReader struct {
	messages chan *sarama.ConsumerMessage
	errs     chan *sarama.ConsumerError
}

func (r *fakeReader) Messages() <-chan *sarama.ConsumerMessage { return r.messages }
func (r *fakeReader) Errors() <-chan *sarama.ConsumerError     { return r.errs }
func (r *fakeReader) Close() error                             { return nil }

// fakePartitions отдаёт одни и те же сообщения для любой partition.
type fakePartitions struct {
	letters []*sarama.ConsumerMessage
	opened  []int32
}

func (f *fakePartitions) open(_ string, id int32, _ int64) (partitionReader, error) {
	f.opened = append(f.opened, id)
	r := &fakeReader{
		messages: make(chan *sarama.ConsumerMessage, len(f.letters)),
		errs:     make(chan *sarama.ConsumerError),
	}
	for _, msg := range f.letters {
		r.messages <- msg
	}
	return r, nil
}

type recordingPublisher struct {
	sent []kafka.Envelope
	err  error
}

func (p *recordingPublisher) Deliver(env kafka.Envelope) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, env)
	return nil
}

func consumerLetter(t *testing.T, offset int64) *sarama.ConsumerMessage {
	t.Helper()
	raw, err := json.Marshal(kafka.DeadLetter{
		OriginalTopic: kafka.TopicStorefrontOrders,
		OriginalKey:   "WEB-1",
		OriginalValue: `{"externalOrderId":"WEB-1"}`,
		Error:         "store unavailable",
		Attempts:      3,
	})
	if err != nil {
		t.Fatalf("encode consumer letter: %v", err)
	}
	return &sarama.ConsumerMessage{
		Offset:  offset,
		Value:   raw,
		Headers: []*sarama.RecordHeader{{Key: []byte(kafka.HeaderTenantID), Value: []byte("tenant-a")}},
	}
}

func relayLetter(t *testing.T, offset int64) *sarama.ConsumerMessage {
	t.Helper()
	raw, err := json.Marshal(outbox.DeadLetter{
		OutboxID:      "ob-1",
		AggregateType: "order",
		AggregateID:   "ORD-1",
		EventType:     "ORDER_DISPATCHED",
		Payload:       json.RawMessage(`{"status":"DISPATCHED"}`),
		PublishError:  "broker down",
		FailedAt:      time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("encode relay letter: %v", err)
	}
	return &sarama.ConsumerMessage{Offset: offset, Value: raw}
}

func newTestReplayer(opts options, offsets *fakeOffsets, parts *fakePartitions, out publisher) *replayer {
	if opts.sourceTopic == "" {
		opts.sourceTopic = "dlq"
	}
	if opts.eventsTopic == "" {
		opts.eventsTopic = "events"
	}
	if opts.idleTimeout == 0 {
		opts.idleTimeout = time.Second
	}
	return &replayer{opts: opts, offsets: offsets, reader: parts, out: out, logger: log.WithField("component", "dlq-replay-test")}
}

func TestParseOptions(t *testing.T) {
	env := func(key string) string {
		if key == "ORDERFLOW_KAFKA_BROKERS" {
			return " kafka-1:9092, ,kafka-2:9092"
		}
		return ""
	}
	opts, err := parseOptions(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-limit", "5", "-execute", "-partition", "2"}, env)
	if err != nil {
		t.Fatalf("parseOptions: %v", err)
	}
	if len(opts.brokers) != 2 || opts.brokers[1] != "kafka-2:9092" {
		t.Fatalf("brokers = %v", opts.brokers)
	}
	if opts.limit != 5 || !opts.execute || opts.partition != 2 {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if opts.sourceTopic != kafka.TopicDeadLetterQueue || opts.eventsTopic != kafka.TopicOrderEvents {
		t.Fatalf("unexpected topics: %+v", opts)
	}
}

func TestParseOptions_ReportsEveryProblem(t *testing.T) {
	_, err := parseOptions(flag.NewFlagSet("test", flag.ContinueOnError),
		[]string{"-limit", "0", "-events-topic", " "}, func(string) string { return "" })
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"brokers", "events-topic", "limit"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestDecodeLetter_ConsumerFailure(t *testing.T) {
	env, err := decodeLetter(consumerLetter(t, 0), "events")
	if err != nil {
		t.Fatalf("decodeLetter: %v", err)
	}
	if env.Topic != kafka.TopicStorefrontOrders || env.Key != "WEB-1" {
		t.Fatalf("unexpected target: %+v", env)
	}
	if string(env.Value) != `{"externalOrderId":"WEB-1"}` || env.Headers[kafka.HeaderTenantID] != "tenant-a" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestDecodeLetter_RelayFailure(t *testing.T) {
	env, err := decodeLetter(relayLetter(t, 0), "events")
	if err != nil {
		t.Fatalf("decodeLetter: %v", err)
	}
	if env.Topic != "events" || env.Key != "ORD-1" || env.Headers[kafka.HeaderEventType] != "ORDER_DISPATCHED" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if string(env.Value) != `{"status":"DISPATCHED"}` {
		t.Fatalf("payload = %s", env.Value)
	}
}

func TestDecodeLetter_Unreadable(t *testing.T) {
	for _, raw := range []string{"not json", `{"error":"x"}`, `{"original_value":"{}"}`} {
		if _, err := decodeLetter(&sarama.ConsumerMessage{Value: []byte(raw)}, "events"); !errors.Is(err, errUnreadable) {
			t.Fatalf("decodeLetter(%s) err = %v, want errUnreadable", raw, err)
		}
	}
}

func TestReplay_DryRunPublishesNothing(t *testing.T) {
	out := &recordingPublisher{}
	r := newTestReplayer(options{limit: 10}, &fakeOffsets{ids: []int32{0}, newest: 2},
		&fakePartitions{letters: []*sarama.ConsumerMessage{consumerLetter(t, 0), relayLetter(t, 1)}}, out)

	got, err := r.replay(context.Background())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got != (tally{scanned: 2, replayed: 2}) {
		t.Fatalf("tally = %+v", got)
	}
	if len(out.sent) != 0 {
		t.Fatalf("dry run published %d messages", len(out.sent))
	}
}

func TestReplay_ExecuteSkipsUnreadable(t *testing.T) {
	out := &recordingPublisher{}
	r := newTestReplayer(options{limit: 10, execute: true}, &fakeOffsets{ids: []int32{0}, newest: 3},
		&fakePartitions{letters: []*sarama.ConsumerMessage{
			consumerLetter(t, 0),
			{Offset: 1, Value: []byte("broken")},
			relayLetter(t, 2),
		}}, out)

	got, err := r.replay(context.Background())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got != (tally{scanned: 3, replayed: 2, skipped: 1}) {
		t.Fatalf("tally = %+v", got)
	}
	if len(out.sent) != 2 || out.sent[0].Topic != kafka.TopicStorefrontOrders || out.sent[1].Topic != "events" {
		t.Fatalf("unexpected deliveries: %+v", out.sent)
	}
}

func TestReplay_DeliveryErrorStops(t *testing.T) {
	out := &recordingPublisher{err: errors.New("broker down")}
	r := newTestReplayer(options{limit: 10, execute: true}, &fakeOffsets{ids: []int32{0}, newest: 1},
		&fakePartitions{letters: []*sarama.ConsumerMessage{consumerLetter(t, 0)}}, out)

	if _, err := r.replay(context.Background()); err == nil {
		t.Fatal("expected delivery error")
	}
}

func TestReplay_ExecuteNeedsProducer(t *testing.T) {
	r := newTestReplayer(options{limit: 1, execute: true}, &fakeOffsets{}, &fakePartitions{}, nil)
	if _, err := r.replay(context.Background()); err == nil {
		t.Fatal("expected error without producer")
	}
}

func TestReplay_LimitAndPartitionFilter(t *testing.T) {
	parts := &fakePartitions{letters: []*sarama.ConsumerMessage{consumerLetter(t, 0), consumerLetter(t, 1)}}
	r := newTestReplayer(options{limit: 1, partition: -1}, &fakeOffsets{ids: []int32{1, 0}, newest: 5}, parts, nil)

	got, err := r.replay(context.Background())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got.scanned != 1 || len(parts.opened) != 1 || parts.opened[0] != 0 {
		t.Fatalf("tally = %+v, opened = %v", got, parts.opened)
	}

	parts = &fakePartitions{letters: []*sarama.ConsumerMessage{consumerLetter(t, 0)}}
	r = newTestReplayer(options{limit: 10, partition: 1}, &fakeOffsets{ids: []int32{0, 1, 2}, newest: 1}, parts, nil)
	if _, err := r.replay(context.Background()); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(parts.opened) != 1 || parts.opened[0] != 1 {
		t.Fatalf("opened = %v, want only partition 1", parts.opened)
	}
}

