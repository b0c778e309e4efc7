package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQDeliverer queues messages for the e-mail relay. Publishing waits
// for the broker's confirmation, so a nil error means the message is stored.
type RabbitMQDeliverer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	// channels are not safe for concurrent publishing
	mu sync.Mutex
}

// DialRabbitMQ connects to url and declares a durable queue.
func DialRabbitMQ(url, queue string) (*RabbitMQDeliverer, error) {
	const op = "DialRabbitMQ"

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: open channel: %w", op, err)
	}
	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: declare %s: %w", op, queue, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: confirm mode: %w", op, err)
	}
	return &RabbitMQDeliverer{conn: conn, ch: ch, queue: queue}, nil
}

// Deliver publishes msg as a persistent JSON message.
func (r *RabbitMQDeliverer) Deliver(ctx context.Context, msg Message) error {
	const op = "Deliver"

	pub, err := publishing(msg, time.Now())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	r.mu.Lock()
	confirm, err := r.ch.PublishWithDeferredConfirmWithContext(ctx,
		"",      // exchange
		r.queue, // routing key
		false,   // mandatory
		false,   // immediate
		pub,
	)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: publish: %w", op, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("%s: confirm: %w", op, err)
	}
	if !acked {
		return fmt.Errorf("%s: broker refused message %s", op, pub.MessageId)
	}
	return nil
}

// Close closes the channel and the connection.
func (r *RabbitMQDeliverer) Close() error {
	if err := r.ch.Close(); err != nil {
		return err
	}
	return r.conn.Close()
}

// publishing encodes msg. The message id is stable per job and document so
// the relay can drop redeliveries.
func publishing(msg Message, at time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%s-%d", msg.JobID, msg.DocumentID),
		Timestamp:    at,
		Type:         "nfcom.notification",
		Body:         body,
	}, nil
}
