package domain

import "strings"

// OnTimeLabel — значение etd у поезда без отклонений.
const OnTimeLabel = "On time"

// DelayedLabel — значение etd у задержанного поезда без прогноза.
const DelayedLabel = "Delayed"

// DisruptionStatus — снимок состояния ближайшего рейса по направлению.
type DisruptionStatus struct {
	Origin             string
	Destination        string
	ServiceType        string
	ScheduledDeparture string
	EstimatedDeparture string
	ScheduledArrival   string
	EstimatedArrival   string
	DelayReason        string
	Cancelled          bool
	CancelReason       string
}

// IsDelayed сообщает, задержан ли рейс: есть причина задержки или etd равно Delayed.
// Сдвиг прогноза без причины задержкой не считается.
func (s DisruptionStatus) IsDelayed() bool {
	if strings.TrimSpace(s.DelayReason) != "" {
		return true
	}
	return strings.TrimSpace(s.EstimatedDeparture) == DelayedLabel
}

// IsCancelled сообщает, отменён ли рейс.
func (s DisruptionStatus) IsCancelled() bool {
	return s.Cancelled
}

// IsDisrupted сообщает, задержан или отменён рейс.
func (s DisruptionStatus) IsDisrupted() bool {
	return s.IsDelayed() || s.IsCancelled()
}

// Equal сравнивает статусы только по исходным полям.
func (s *DisruptionStatus) Equal(other *DisruptionStatus) bool {
	if s == nil || other == nil {
		return s == other
	}
	return *s == *other
}

// BoardService описывает строку табло отправлений.
type BoardService struct {
	ScheduledDeparture string
	EstimatedDeparture string
	Destination        string
	Platform           string
}

// DepartureBoard описывает табло отправлений станции.
type DepartureBoard struct {
	LocationName string
	Services     []BoardService
}
