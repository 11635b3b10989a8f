package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const idHeader = "event-id"

// Kafka hashes Message.Key onto partitions, so all events for one seat land
// on one partition and keep their order.
type Kafka struct {
	brokers []string
	groupID string
	log     *zap.SugaredLogger
	writer  *kafka.Writer

	mu      sync.Mutex
	readers []*kafka.Reader

	RetryDelay time.Duration
}

func NewKafka(brokers []string, groupID string, log *zap.SugaredLogger) *Kafka {
	return &Kafka{
		brokers: brokers,
		groupID: groupID,
		log:     log,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		RetryDelay: time.Second,
	}
}

func (k *Kafka) Publish(ctx context.Context, msg Message) error {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Body,
		Time:    ts,
		Headers: []kafka.Header{{Key: idHeader, Value: []byte(msg.ID)}},
	})
	if err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

// Consume reads topic as part of the consumer group. An offset is committed
// only after the handler succeeds; a failing message is retried in place so
// later messages of the same partition never overtake it.
func (k *Kafka) Consume(ctx context.Context, topic string, h Handler) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.brokers,
		GroupID:  k.groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	k.mu.Lock()
	k.readers = append(k.readers, r)
	k.mu.Unlock()
	defer r.Close()

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.log.Warnw("kafka consumer: fetch failed", "topic", topic, "error", err)
			if !sleepCtx(ctx, k.RetryDelay) {
				return ctx.Err()
			}
			continue
		}
		msg := Message{Topic: m.Topic, Key: string(m.Key), Body: m.Value, Timestamp: m.Time}
		for _, hd := range m.Headers {
			if hd.Key == idHeader {
				msg.ID = string(hd.Value)
			}
		}

		delay := k.RetryDelay
		for {
			err := h(ctx, msg)
			if err == nil {
				break
			}
			k.log.Warnw("kafka consumer: handler failed, retrying", "topic", topic, "offset", m.Offset, "error", err)
			if !sleepCtx(ctx, delay) {
				return ctx.Err()
			}
			if delay < 30*time.Second {
				delay *= 2
			}
		}
		if err := r.CommitMessages(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
			k.log.Warnw("kafka consumer: commit failed", "topic", topic, "offset", m.Offset, "error", err)
		}
	}
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, r := range k.readers {
		_ = r.Close()
	}
	return k.writer.Close()
}
