package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"kevin-chat/internal/model"
)

// SessionPublisher enqueues finished transcript snapshots for asynchronous
// persistence. The caller treats Publish as fire-and-forget; durability comes
// from the persistent delivery mode plus the worker's retry policy.
type SessionPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewSessionPublisher(conn *amqp.Connection, queueName string) *SessionPublisher {
	return &SessionPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *SessionPublisher) Publish(ctx context.Context, session model.ChatSession) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		p.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session payload failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish session failed: %w", err)
	}
	return nil
}
