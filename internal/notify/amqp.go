package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQP publishes messages as persistent JSON to a durable RabbitMQ queue,
// where a mail worker picks them up. The connection is opened lazily and
// reopened after a failure.
type AMQP struct {
	url   string
	queue string
	from  string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQP returns a publisher for queue on the broker at url.
func NewAMQP(url, queue, from string) *AMQP {
	return &AMQP{url: url, queue: queue, from: from}
}

func (a *AMQP) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = a.from
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling email: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ch, err := a.channel()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx,
		"",      // default exchange
		a.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		a.reset()
		return fmt.Errorf("publishing email: %w", err)
	}
	return nil
}

// Close releases the broker connection.
func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn, a.ch = nil, nil
	return err
}

// channel returns an open channel, dialling if needed. Callers must hold a.mu.
func (a *AMQP) channel() (*amqp.Channel, error) {
	if a.conn != nil && !a.conn.IsClosed() && a.ch != nil && !a.ch.IsClosed() {
		return a.ch, nil
	}
	a.reset()

	conn, err := amqp.Dial(a.url)
	if err != nil {
		return nil, fmt.Errorf("dialling broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		a.queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declaring queue %s: %w", a.queue, err)
	}

	a.conn, a.ch = conn, ch
	return ch, nil
}

// reset drops the current connection. Callers must hold a.mu.
func (a *AMQP) reset() {
	if a.conn != nil {
		_ = a.conn.Close()
	}
	a.conn, a.ch = nil, nil
}
