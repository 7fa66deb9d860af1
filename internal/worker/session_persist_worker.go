package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"kevin-chat/internal/app"
	"kevin-chat/internal/model"
)

// SessionPersistWorker drains the save queue and writes snapshots through the
// chat service, which owns the conflict-retry policy. A snapshot the service
// cannot land after its retries is nacked without requeue; the transcript is
// already visible to the user, so losing one auto-save is logged, not fatal.
type SessionPersistWorker struct {
	conn      *amqp.Connection
	service   *app.ChatService
	queueName string
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSessionPersistWorker(conn *amqp.Connection, service *app.ChatService, queueName string, logger *slog.Logger) *SessionPersistWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionPersistWorker{
		conn:      conn,
		service:   service,
		queueName: queueName,
		logger:    logger,
	}
}

func (w *SessionPersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *SessionPersistWorker) handle(ctx context.Context, d amqp.Delivery) {
	var snapshot model.ChatSession
	if err := json.Unmarshal(d.Body, &snapshot); err != nil {
		w.logger.Error("worker decode snapshot failed", "error", err)
		_ = d.Nack(false, false)
		return
	}

	ok := w.service.SaveSession(ctx, app.SaveSessionInput{
		UserID:         snapshot.UserID,
		ConversationID: snapshot.ConversationID,
		Title:          snapshot.Title,
		ContextSummary: snapshot.ContextSummary,
		Messages:       snapshot.Messages,
	})
	if !ok {
		w.logger.Error("worker persist session failed", "conversation_id", snapshot.ConversationID)
		_ = d.Nack(false, false)
		return
	}

	_ = d.Ack(false)
}

func (w *SessionPersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
