package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/theatre-auth/internal/logger"
	"github.com/iliyamo/theatre-auth/internal/queue"
)

// Publisher sends JSON messages to durable RabbitMQ queues.  It dials per
// publish, which keeps it free of connection state; the volume here is a
// few messages per signup.  Publisher is both the Mailer and the
// EventPublisher of the server.
type Publisher struct {
	url string
	log *slog.Logger
}

func NewPublisher(url string, log *slog.Logger) *Publisher {
	return &Publisher{url: url, log: logger.Resolve(log)}
}

// Send queues an email for the notifications service.
func (p *Publisher) Send(ctx context.Context, msg queue.EmailMessage) error {
	return p.Publish(ctx, queue.EmailQueue, msg)
}

// UserRegistered queues a profile creation for the worker.
func (p *Publisher) UserRegistered(ctx context.Context, ev queue.UserRegisteredEvent) error {
	return p.Publish(ctx, queue.UserProfilesQueue, ev)
}

// Publish marshals v and publishes it to queueName as a persistent
// message.  Errors are logged and returned so the caller can choose to
// ignore them.
func (p *Publisher) Publish(ctx context.Context, queueName string, v any) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Error("rabbitmq dial failed", "error", err.Error())
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Error("rabbitmq channel open failed", "error", err.Error())
		return err
	}
	defer func() { _ = ch.Close() }()

	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if err := queue.Declare(ch, queueName); err != nil {
		p.log.Error("rabbitmq queue declare failed", "queue", queueName, "error", err.Error())
		return err
	}

	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",        // default exchange
		queueName, // routing key = queue name
		false,     // mandatory
		false,     // immediate
		pub,
	); err != nil {
		p.log.Error("rabbitmq publish failed", "queue", queueName, "error", err.Error())
		return err
	}
	return nil
}
