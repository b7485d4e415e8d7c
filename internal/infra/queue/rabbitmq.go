package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"train-check-bot/internal/domain"
	"train-check-bot/internal/infra/metrics"
)

// RabbitNotificationQueue реализует очередь уведомлений поверх AMQP 0-9-1.
type RabbitNotificationQueue struct {
	conn  *amqp.Connection
	pub   *amqp.Channel
	sub   *amqp.Channel
	queue string

	consumeOnce sync.Once
	consumeErr  error
	deliveries  <-chan amqp.Delivery
}

var _ domain.NotificationQueue = (*RabbitNotificationQueue)(nil)

// NewRabbitNotificationQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitNotificationQueue(amqpURL, queue string) (*RabbitNotificationQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	sub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	if _, err := pub.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := sub.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitNotificationQueue{conn: conn, pub: pub, sub: sub, queue: queue}, nil
}

// Enqueue публикует уведомление в очередь.
func (q *RabbitNotificationQueue) Enqueue(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	start := time.Now()
	err = q.pub.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.ID,
		Timestamp:    n.CreatedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Pop блокирующе читает уведомление из очереди.
func (q *RabbitNotificationQueue) Pop(ctx context.Context) (domain.Notification, error) {
	q.consumeOnce.Do(func() {
		q.deliveries, q.consumeErr = q.sub.Consume(q.queue, "", false, false, false, false, nil)
	})
	if q.consumeErr != nil {
		return domain.Notification{}, fmt.Errorf("consume: %w", q.consumeErr)
	}

	select {
	case <-ctx.Done():
		return domain.Notification{}, ctx.Err()
	case d, ok := <-q.deliveries:
		if !ok {
			return domain.Notification{}, ErrClosed
		}
		var n domain.Notification
		if err := json.Unmarshal(d.Body, &n); err != nil {
			// Битое сообщение не возвращаем в очередь.
			_ = d.Nack(false, false)
			return domain.Notification{}, fmt.Errorf("decode notification: %w", err)
		}
		if err := d.Ack(false); err != nil {
			return domain.Notification{}, fmt.Errorf("ack notification: %w", err)
		}
		return n, nil
	}
}

// Close закрывает каналы и соединение.
func (q *RabbitNotificationQueue) Close() error {
	_ = q.sub.Close()
	_ = q.pub.Close()
	return q.conn.Close()
}
