// repository/notify/repo.go
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Message is what the external delivery service (push/email/SMS) consumes.
type Message struct {
	UserID int64     `json:"user_id"`
	Kind   string    `json:"kind"`
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

// Repo publishes notifications to a durable queue, fire-and-forget.
// Callers log errors and move on; the core assumes no delivery guarantee.
type Repo interface {
	Send(ctx context.Context, userID int64, kind, title, body string) error
	Close() error
}

type repo struct {
	// mu serializes publishing and reconnects; overlapping sweeps send
	// concurrently and an amqp channel is not safe for concurrent use.
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
	url     string
}

func New(amqpURL, queueName string) (Repo, error) {
	r := &repo{url: amqpURL}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	r.conn, r.channel, r.queue = conn, ch, q
	return r, nil
}

// ensureConnection redials a dropped broker link. Callers hold mu.
func (r *repo) ensureConnection() error {
	if r.conn != nil && !r.conn.IsClosed() {
		return nil
	}
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	q, err := ch.QueueDeclare(r.queue.Name, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return err
	}
	r.conn, r.channel, r.queue = conn, ch, q
	return nil
}

func (r *repo) Send(ctx context.Context, userID int64, kind, title, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureConnection(); err != nil {
		return err
	}
	b, err := json.Marshal(Message{
		UserID: userID,
		Kind:   kind,
		Title:  title,
		Body:   body,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return r.channel.PublishWithContext(ctx, "", r.queue.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         b,
	})
}

func (r *repo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
