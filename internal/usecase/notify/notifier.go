package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"train-check-bot/internal/domain"
	"train-check-bot/internal/infra/metrics"
	"train-check-bot/internal/infra/queue"
)

// Sender отправляет текст в чат.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// DirectNotifier доставляет уведомления сразу через Sender.
type DirectNotifier struct {
	sender Sender
}

var _ domain.Notifier = (*DirectNotifier)(nil)

// NewDirect создаёт нотификатор без очереди.
func NewDirect(sender Sender) *DirectNotifier {
	return &DirectNotifier{sender: sender}
}

// Notify реализует domain.Notifier.
func (n *DirectNotifier) Notify(ctx context.Context, chatID int64, kind domain.NotificationKind, text string) error {
	if err := n.sender.Send(ctx, chatID, text); err != nil {
		return fmt.Errorf("отправка уведомления: %w", err)
	}
	metrics.IncNotification(string(kind))
	return nil
}

// QueueNotifier складывает уведомления в очередь, откуда их забирает Worker.
type QueueNotifier struct {
	queue domain.NotificationQueue
	now   func() time.Time
}

var _ domain.Notifier = (*QueueNotifier)(nil)

// NewQueued создаёт нотификатор поверх очереди.
func NewQueued(q domain.NotificationQueue) *QueueNotifier {
	return &QueueNotifier{queue: q, now: time.Now}
}

// Notify реализует domain.Notifier.
func (n *QueueNotifier) Notify(ctx context.Context, chatID int64, kind domain.NotificationKind, text string) error {
	msg := domain.Notification{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Kind:      kind,
		Text:      text,
		CreatedAt: n.now().UTC(),
	}
	if err := n.queue.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("постановка уведомления в очередь: %w", err)
	}
	return nil
}

// Worker читает очередь и отправляет уведомления.
type Worker struct {
	queue  domain.NotificationQueue
	sender Sender
	log    zerolog.Logger
}

// NewWorker создаёт обработчик очереди уведомлений.
func NewWorker(q domain.NotificationQueue, sender Sender, logger zerolog.Logger) *Worker {
	return &Worker{queue: q, sender: sender, log: logger}
}

// Run обрабатывает очередь до отмены ctx или закрытия очереди.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Msg("воркер уведомлений запущен")
	for {
		msg, err := w.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, queue.ErrClosed) {
				w.log.Info().Msg("очередь уведомлений закрыта")
				return nil
			}
			w.log.Error().Err(err).Msg("чтение очереди уведомлений")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		w.deliver(ctx, msg)
	}
}

func (w *Worker) deliver(ctx context.Context, msg domain.Notification) {
	log := w.log.With().Str("notification_id", msg.ID).Int64("chat_id", msg.ChatID).Str("kind", string(msg.Kind)).Logger()
	if err := w.sender.Send(ctx, msg.ChatID, msg.Text); err != nil {
		// Повторной доставки нет: уведомление теряется.
		log.Error().Err(err).Msg("не удалось доставить уведомление")
		return
	}
	metrics.IncNotification(string(msg.Kind))
	log.Debug().Dur("lag", time.Since(msg.CreatedAt)).Msg("уведомление доставлено")
}
