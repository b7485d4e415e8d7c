package domain

import (
	"context"
	"time"
)

// SubscriptionRepo — долговременное хранилище поездок и подписок.
type SubscriptionRepo interface {
	// GetOrCreateTravel возвращает поездку по естественному ключу, создавая её при отсутствии.
	GetOrCreateTravel(ctx context.Context, origin, destination string, departure TimeOfDay) (Travel, error)
	// AddSubscription идемпотентно подписывает чат на поездку.
	AddSubscription(ctx context.Context, chatID int64, travel Travel) error
	// RemoveSubscriptions удаляет подписки чата, подходящие под фильтр, и возвращает их число.
	RemoveSubscriptions(ctx context.Context, chatID int64, filter TravelFilter) (int, error)
	ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]Subscription, error)
	ListTravels(ctx context.Context, filter TravelFilter) ([]Travel, error)
}

// StatusSource — внешний источник данных о поездах.
type StatusSource interface {
	// NextStatus возвращает статус ближайшего рейса или nil, если данных нет.
	NextStatus(ctx context.Context, origin, destination string) (*DisruptionStatus, error)
	DepartureBoard(ctx context.Context, origin, destination string, rows int) (DepartureBoard, error)
}

// Notifier доставляет сообщение в чат.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, kind NotificationKind, text string) error
}

// TaskScheduler — планировщик именованных отложенных задач в памяти.
type TaskScheduler interface {
	// ScheduleDaily запускает fn каждый из дней days в момент at.
	ScheduleDaily(name string, at TimeOfDay, days []time.Weekday, fn func()) error
	// ScheduleOnce однократно запускает fn через delay.
	ScheduleOnce(name string, delay time.Duration, fn func()) error
	// CancelByPrefix отменяет все задачи, имя которых начинается с prefix.
	CancelByPrefix(prefix string) int
	// Names возвращает имена задач с указанным префиксом.
	Names(prefix string) []string
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}
