package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"train-check-bot/internal/domain"
	"train-check-bot/internal/infra/metrics"
)

// ErrClosed возвращается при чтении из закрытой очереди.
var ErrClosed = errors.New("queue closed")

// RedisNotificationQueue реализует очередь уведомлений на базе Redis lists.
type RedisNotificationQueue struct {
	client *redis.Client
	key    string
}

var _ domain.NotificationQueue = (*RedisNotificationQueue)(nil)

// NewRedisNotificationQueue создаёт очередь по указанному ключу.
func NewRedisNotificationQueue(client *redis.Client, key string) *RedisNotificationQueue {
	return &RedisNotificationQueue{client: client, key: key}
}

// Enqueue публикует уведомление в очередь.
func (q *RedisNotificationQueue) Enqueue(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	return nil
}

// Pop блокирующе читает уведомление из очереди.
func (q *RedisNotificationQueue) Pop(ctx context.Context) (domain.Notification, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Notification{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.Notification{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, redis.ErrClosed) {
				return domain.Notification{}, ErrClosed
			}
			return domain.Notification{}, err
		}
		if len(res) != 2 {
			return domain.Notification{}, errors.New("redis queue: unexpected response")
		}
		var n domain.Notification
		if err := json.Unmarshal([]byte(res[1]), &n); err != nil {
			return domain.Notification{}, fmt.Errorf("decode notification: %w", err)
		}
		return n, nil
	}
}
