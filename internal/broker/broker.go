// Package broker wraps RabbitMQ with the topology and delivery guarantees
// the task pipeline relies on: durable queues bound to a shared direct
// exchange, persistent publishes confirmed by the server, and
// ack-after-success consumption where business failures are terminal.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange is the shared direct exchange every queue binds to.
const Exchange = "tasks"

const (
	QueueEmailTask  = "email-task"
	QueueTaskResult = "task-result"

	RouteEmailSend  = "task.email.send"
	RouteTaskResult = "task.result"
)

// Delivery is one decoded message handed to a consumer handler.
type Delivery struct {
	MessageID string
	Body      []byte
}

// Handler processes one delivery. A nil return acks the message; an error
// nacks it without requeue, so redelivery is always a deliberate
// producer-side re-enqueue and never an automatic loop.
type Handler func(ctx context.Context, d Delivery) error

// Broker owns the connection and channel for one process. It is passed by
// reference to both producer and consumer code paths; publishes are
// serialized because the underlying channel is not concurrency-safe.
type Broker struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger

	mu sync.Mutex
}

// Connect dials the broker and puts the channel in confirm mode so that a
// publish the server never accepted surfaces as an error instead of being
// silently dropped.
func Connect(url string, logger *slog.Logger) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("broker dial: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker channel: %w", err)
	}

	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("broker confirm mode: %w", err)
	}

	logger.Info("connected to rabbitmq with success!")

	return &Broker{conn: conn, channel: channel, logger: logger}, nil
}

func (b *Broker) Close() error {
	if err := b.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

// EnsureQueue declares the durable queue, the shared direct exchange and
// the binding between them. Every declaration is create-if-absent, so
// calling it on startup from multiple processes is safe.
func (b *Broker) EnsureQueue(name, routingKey string) error {
	q, err := b.channel.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}

	if err := b.channel.ExchangeDeclare(Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}

	if err := b.channel.QueueBind(q.Name, routingKey, Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", name, err)
	}

	return nil
}

// NewPublishing builds the message envelope: persistent delivery, JSON
// content type, timestamp, and message id set to the task id so consumers
// can deduplicate.
func NewPublishing(messageID string, body []byte) amqp.Publishing {
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now(),
		MessageId:    messageID,
		Body:         body,
	}
}

// Publish sends one message and waits for the server confirmation.
func (b *Broker) Publish(ctx context.Context, routingKey, messageID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	b.mu.Lock()
	confirm, err := b.channel.PublishWithDeferredConfirmWithContext(
		ctx, Exchange, routingKey, false, false, NewPublishing(messageID, body),
	)
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish confirm %s: %w", routingKey, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: message not confirmed by broker", routingKey)
	}

	return nil
}

// Consume runs a blocking receive loop over the queue until ctx is
// canceled or the delivery channel closes. Each delivery is decoded and
// handed to the handler; it is acked only when the handler returns nil.
// Malformed payloads and handler errors nack without requeue.
func (b *Broker) Consume(ctx context.Context, queue string, handler Handler) error {
	deliveries, err := b.channel.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("consume %s: delivery channel closed", queue)
			}
			b.settle(ctx, queue, d, handler)
		}
	}
}

// settle resolves one delivery: ack when the handler succeeds, nack
// without requeue when the payload is malformed or the handler fails.
func (b *Broker) settle(ctx context.Context, queue string, d amqp.Delivery, handler Handler) {
	if !json.Valid(d.Body) {
		b.logger.Error("discarding malformed message", "queue", queue, "message_id", d.MessageId)
		_ = d.Nack(false, false)
		return
	}

	if err := handler(ctx, Delivery{MessageID: d.MessageId, Body: d.Body}); err != nil {
		b.logger.Error("handler failed, discarding message", "queue", queue, "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		b.logger.Error("ack failed", "queue", queue, "message_id", d.MessageId, "error", err)
	}
}
