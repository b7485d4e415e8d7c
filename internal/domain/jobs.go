package domain

import (
	"context"
	"time"
)

// PollTask — полезная нагрузка задачи опроса статуса поездки.
// Передаётся от одного запуска цепочки к следующему.
type PollTask struct {
	TravelID      int64
	Origin        string
	Destination   string
	DepartureTime TimeOfDay
	// Departure — конкретный момент отправления, до которого живёт цепочка.
	Departure time.Time
	// LastKnown — статус, наблюдавшийся предыдущим запуском, либо nil.
	LastKnown *DisruptionStatus
}

// NewPollTask создаёт задачу для поездки с отправлением в момент departure.
func NewPollTask(travel Travel, departure time.Time) PollTask {
	return PollTask{
		TravelID:      travel.ID,
		Origin:        travel.Origin,
		Destination:   travel.Destination,
		DepartureTime: travel.DepartureTime,
		Departure:     departure,
	}
}

// NotificationKind описывает причину уведомления.
type NotificationKind string

const (
	// NotificationDisruption — задержка или отмена с подробностями.
	NotificationDisruption NotificationKind = "disruption"
	// NotificationNoInfo — рейс пропал из источника без объяснений.
	NotificationNoInfo NotificationKind = "no_info"
)

// Notification — сообщение, которое нужно доставить в чат.
type Notification struct {
	ID        string           `json:"id"`
	ChatID    int64            `json:"chat_id"`
	Kind      NotificationKind `json:"kind"`
	Text      string           `json:"text"`
	CreatedAt time.Time        `json:"created_at"`
}

// NotificationQueue описывает очередь исходящих уведомлений.
type NotificationQueue interface {
	Enqueue(ctx context.Context, n Notification) error
	Pop(ctx context.Context) (Notification, error)
}
