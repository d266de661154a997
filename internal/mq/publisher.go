package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"tutorias-backend-go/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

const NotificationCreated = "notification.created"

type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *Publisher) PublishJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         b,
	})
}

// NotificationEvent is the body published for every stored notification.
type NotificationEvent struct {
	ID          int64           `json:"id"`
	RecipientID int64           `json:"recipientId"`
	Kind        string          `json:"kind"`
	Message     string          `json:"message"`
	Data        json.RawMessage `json:"data,omitempty"`
	CreatedAt   string          `json:"createdAt"`
}

func NewNotificationEvent(n models.Notification) NotificationEvent {
	event := NotificationEvent{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Kind:        n.Kind,
		Message:     n.Message,
		CreatedAt:   n.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if len(n.Data) > 0 {
		event.Data = json.RawMessage(n.Data)
	}
	return event
}

func (p *Publisher) PublishNotification(ctx context.Context, n models.Notification) error {
	return p.PublishJSON(ctx, NotificationCreated, NewNotificationEvent(n))
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
