package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTime возвращается, если время не в формате ЧЧ:ММ.
var ErrInvalidTime = errors.New("invalid time of day")

// ErrTravelNotFound возвращается, если поездка не найдена.
var ErrTravelNotFound = errors.New("travel not found")

// TimeOfDay описывает время суток с точностью до минуты.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay парсит время формата ЧЧ:ММ.
func ParseTimeOfDay(input string) (TimeOfDay, error) {
	tm, err := time.Parse("15:04", strings.TrimSpace(input))
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, input)
	}
	return TimeOfDay{Hour: tm.Hour(), Minute: tm.Minute()}, nil
}

// String возвращает время в формате ЧЧ:ММ.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes возвращает количество минут от полуночи.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// Add сдвигает время на d по кругу суток.
func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	const day = 24 * 60
	total := (t.Minutes() + int(d/time.Minute)) % day
	if total < 0 {
		total += day
	}
	return TimeOfDay{Hour: total / 60, Minute: total % 60}
}

// On возвращает момент этого времени в дату day (в часовом поясе day).
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, day.Location())
}

// Next возвращает ближайший момент этого времени, не раньше now.
func (t TimeOfDay) Next(now time.Time) time.Time {
	candidate := t.On(now)
	if candidate.Before(now) {
		candidate = t.On(now.AddDate(0, 0, 1))
	}
	return candidate
}

// NormalizeStation приводит код станции к каноничному виду.
func NormalizeStation(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Travel описывает уникальную тройку отправление/назначение/время.
type Travel struct {
	ID            int64
	Origin        string
	Destination   string
	DepartureTime TimeOfDay
}

// Subscription привязывает чат к поездке.
type Subscription struct {
	ID       int64
	ChatID   int64
	TravelID int64
}

// TravelFilter ограничивает выборку поездок. Пустые поля означают «любое значение».
type TravelFilter struct {
	ID            int64
	Origin        string
	Destination   string
	DepartureTime *TimeOfDay
	OnlyActive    bool
}

// SubscriptionFilter ограничивает выборку подписок. Нулевые поля означают «любое значение».
type SubscriptionFilter struct {
	ChatID   int64
	TravelID int64
}

// ExactTravel возвращает фильтр по естественному ключу поездки.
func ExactTravel(origin, destination string, departure TimeOfDay) TravelFilter {
	return TravelFilter{
		Origin:        NormalizeStation(origin),
		Destination:   NormalizeStation(destination),
		DepartureTime: &departure,
	}
}
