// Package broker carries confirm-requested events from the outbox
// publisher to the confirm consumer. Delivery is at-least-once; consumers
// are expected to deduplicate on Message.ID.
package broker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/config"
)

// Message is one event on the wire. Key orders messages: all messages with
// the same key are delivered in publish order.
type Message struct {
	ID        string
	Topic     string
	Key       string
	Body      []byte
	Timestamp time.Time
}

// Handler processes one delivery. A nil return acknowledges it; an error
// asks the transport to redeliver.
type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscriber consumes a topic until ctx is cancelled, reconnecting on
// transport failures.
type Subscriber interface {
	Consume(ctx context.Context, topic string, h Handler) error
}

// Broker is a transport able to do both.
type Broker interface {
	Publisher
	Subscriber
	Close() error
}

// New builds the transport named by cfg.Driver.
func New(cfg config.BrokerConfig, log *zap.SugaredLogger) (Broker, error) {
	switch cfg.Driver {
	case "rabbitmq":
		return NewRabbitMQ(cfg.AMQPURL, log), nil
	case "kafka":
		return NewKafka(cfg.KafkaBrokers, cfg.KafkaGroupID, log), nil
	}
	return nil, fmt.Errorf("broker: unknown driver %q", cfg.Driver)
}

// sleepCtx waits for d or until ctx is done, reporting whether it slept fully.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
