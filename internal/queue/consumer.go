// Package queue holds the RabbitMQ message types and the consumer the
// worker runs against the user_profiles queue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/theatre-auth/internal/logger"
)

// Declare makes sure a durable queue exists.  Publisher and consumer both
// call it so either side may start first.
func Declare(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(name, true, false, false, false, nil)
	return err
}

// Handler processes one message body.  A non-nil error rejects the
// message without requeue.
type Handler func(ctx context.Context, body []byte) error

// HandleUserRegistered decodes UserRegisteredEvent bodies for fn.
func HandleUserRegistered(fn func(ctx context.Context, ev UserRegisteredEvent) error) Handler {
	return func(ctx context.Context, body []byte) error {
		var ev UserRegisteredEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		if ev.UserID == "" {
			return errors.New("event without user_id")
		}
		return fn(ctx, ev)
	}
}

const maxBackoff = 30 * time.Second

// nextBackoff doubles d without passing maxBackoff.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// Consumer reads one queue and keeps reconnecting until its context ends.
type Consumer struct {
	URL      string
	Queue    string
	Prefetch int
	Handle   Handler
	Log      *slog.Logger
}

// Run dials the broker with exponential backoff (1s doubling up to 30s)
// and consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	log := logger.Resolve(c.Log).With("queue", c.Queue)
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			log.Warn("broker dial failed", "error", err.Error(), "retry_in", backoff.String())
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("consume loop ended, reconnecting", "error", err.Error())
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection, log *slog.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	prefetch := c.Prefetch
	if prefetch <= 0 {
		prefetch = 50
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		log.Warn("set qos failed", "error", err.Error())
	}
	if err := Declare(ch, c.Queue); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	log.Info("consuming")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.deliver(ctx, d, log)
		}
	}
}

// deliver acks a handled message and rejects a failed one.  Failures are
// not requeued; retrying is the handler's business.
func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery, log *slog.Logger) {
	if err := c.Handle(ctx, d.Body); err != nil {
		log.Error("handle message failed", "error", err.Error())
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
