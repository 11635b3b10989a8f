package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const keyHeader = "event-key"

// RabbitMQ publishes to a durable queue named after the topic through the
// default exchange. A single queue consumed by one sequential loop keeps
// per-key ordering.
type RabbitMQ struct {
	url string
	log *zap.SugaredLogger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
	// queues already declared on the current channel
	declared map[string]bool

	RedeliveryDelay time.Duration
	Prefetch        int
}

func NewRabbitMQ(url string, log *zap.SugaredLogger) *RabbitMQ {
	return &RabbitMQ{
		url:             url,
		log:             log,
		declared:        map[string]bool{},
		RedeliveryDelay: time.Second,
		Prefetch:        20,
	}
}

// publishChannel returns a confirm-mode channel, redialling when the
// connection or channel has gone away. Caller holds r.mu.
func (r *RabbitMQ) publishChannel() (*amqp.Channel, error) {
	if r.conn == nil || r.conn.IsClosed() {
		conn, err := amqp.Dial(r.url)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq dial: %w", err)
		}
		r.conn = conn
		r.ch = nil
	}
	if r.ch == nil || r.ch.IsClosed() {
		ch, err := r.conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("rabbitmq channel: %w", err)
		}
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("rabbitmq confirm mode: %w", err)
		}
		r.ch = ch
		r.declared = map[string]bool{}
	}
	return r.ch, nil
}

func declareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	return err
}

// Publish sends msg persistently and waits for the broker's confirm.
func (r *RabbitMQ) Publish(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.publishChannel()
	if err != nil {
		return err
	}
	if !r.declared[msg.Topic] {
		if err := declareQueue(ch, msg.Topic); err != nil {
			return fmt.Errorf("rabbitmq queue declare: %w", err)
		}
		r.declared[msg.Topic] = true
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		"",        // default exchange
		msg.Topic, // routing key = queue name
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Timestamp:    ts,
			Headers:      amqp.Table{keyHeader: msg.Key},
			Body:         msg.Body,
		},
	)
	if err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq confirm: %w", err)
	}
	if !acked {
		return errors.New("rabbitmq: publish nacked by broker")
	}
	return nil
}

// Consume runs a reconnect loop with capped exponential backoff and only
// returns when ctx is cancelled.
func (r *RabbitMQ) Consume(ctx context.Context, topic string, h Handler) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(r.url)
		if err != nil {
			r.log.Warnw("rabbitmq consumer: dial failed", "topic", topic, "retry_in", backoff, "error", err)
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = r.consumeLoop(ctx, conn, topic, h)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warnw("rabbitmq consumer: loop ended, reconnecting", "topic", topic, "error", err)
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (r *RabbitMQ) consumeLoop(ctx context.Context, conn *amqp.Connection, topic string, h Handler) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(r.Prefetch, 0, false); err != nil {
		r.log.Warnw("rabbitmq consumer: set QoS failed", "error", err)
	}
	if err := declareQueue(ch, topic); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, topic, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			key, _ := d.Headers[keyHeader].(string)
			msg := Message{ID: d.MessageId, Topic: topic, Key: key, Body: d.Body, Timestamp: d.Timestamp}
			if err := h(ctx, msg); err != nil {
				r.log.Warnw("rabbitmq consumer: handler failed, requeueing", "message_id", d.MessageId, "error", err)
				sleepCtx(ctx, r.RedeliveryDelay)
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn.Close()
	}
	return nil
}
