package subscriptions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"train-check-bot/internal/domain"
)

// Scheduler описывает часть менеджера расписаний, нужную подпискам.
type Scheduler interface {
	ScheduleDailyPoll(ctx context.Context, travel domain.Travel) (bool, error)
	CancelTravel(travel domain.Travel) int
}

// Service управляет подписками чатов на поездки.
type Service struct {
	repo  domain.SubscriptionRepo
	sched Scheduler
	log   zerolog.Logger

	// locks сериализует подписку и освобождение одной поездки: map[string]*sync.Mutex.
	locks sync.Map
}

// NewService создаёт сервис подписок.
func NewService(repo domain.SubscriptionRepo, sched Scheduler, logger zerolog.Logger) *Service {
	return &Service{repo: repo, sched: sched, log: logger}
}

// Subscribe подписывает чат на поездку и возвращает текст подтверждения.
func (s *Service) Subscribe(ctx context.Context, chatID int64, origin, destination string, departure domain.TimeOfDay) (string, error) {
	unlock := s.lock(origin, destination, departure)
	defer unlock()

	travel, err := s.repo.GetOrCreateTravel(ctx, origin, destination, departure)
	if err != nil {
		return "", fmt.Errorf("поиск поездки: %w", err)
	}
	if err := s.repo.AddSubscription(ctx, chatID, travel); err != nil {
		return "", fmt.Errorf("сохранение подписки: %w", err)
	}
	replaced, err := s.sched.ScheduleDailyPoll(ctx, travel)
	if err != nil {
		return "", fmt.Errorf("планирование опроса: %w", err)
	}

	s.log.Info().Int64("chat_id", chatID).Int64("travel_id", travel.ID).Bool("replaced", replaced).Msg("подписка оформлена")

	text := fmt.Sprintf("Subscribed to updates between %s and %s at %s.", travel.Origin, travel.Destination, travel.DepartureTime)
	if replaced {
		text += " Old subscription was removed."
	}
	return text, nil
}

// UnsubscribeOne отписывает чат от одной поездки.
func (s *Service) UnsubscribeOne(ctx context.Context, chatID int64, origin, destination string, departure domain.TimeOfDay) (string, error) {
	key := domain.ExactTravel(origin, destination, departure)
	n, err := s.repo.RemoveSubscriptions(ctx, chatID, key)
	if err != nil {
		return "", fmt.Errorf("удаление подписки: %w", err)
	}
	if n == 0 {
		return fmt.Sprintf("I could not find subscriptions to the service between %s and %s at %s.", key.Origin, key.Destination, departure), nil
	}

	s.releaseIfIdle(ctx, domain.Travel{Origin: key.Origin, Destination: key.Destination, DepartureTime: departure})
	s.log.Info().Int64("chat_id", chatID).Str("origin", key.Origin).Str("destination", key.Destination).Str("departure", departure.String()).Msg("подписка отменена")
	return fmt.Sprintf("Subscription from %s to %s at %s cancelled!", key.Origin, key.Destination, departure), nil
}

// UnsubscribeByTravelID отписывает чат от поездки по её идентификатору.
func (s *Service) UnsubscribeByTravelID(ctx context.Context, chatID, travelID int64) (string, error) {
	// Нулевой ID в фильтре означает «любая поездка».
	if travelID <= 0 {
		return "", domain.ErrTravelNotFound
	}
	travels, err := s.repo.ListTravels(ctx, domain.TravelFilter{ID: travelID})
	if err != nil {
		return "", fmt.Errorf("поиск поездки: %w", err)
	}
	if len(travels) == 0 {
		return "", domain.ErrTravelNotFound
	}
	t := travels[0]
	return s.UnsubscribeOne(ctx, chatID, t.Origin, t.Destination, t.DepartureTime)
}

// UnsubscribeAll снимает все подписки чата и возвращает их число.
func (s *Service) UnsubscribeAll(ctx context.Context, chatID int64) (int, error) {
	travels, err := s.ListSubscriptions(ctx, chatID)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.RemoveSubscriptions(ctx, chatID, domain.TravelFilter{})
	if err != nil {
		return 0, fmt.Errorf("удаление подписок: %w", err)
	}
	for _, t := range travels {
		s.releaseIfIdle(ctx, t)
	}
	s.log.Info().Int64("chat_id", chatID).Int("removed", n).Msg("все подписки отменены")
	return n, nil
}

// ListSubscriptions возвращает поездки чата, упорядоченные по времени отправления.
func (s *Service) ListSubscriptions(ctx context.Context, chatID int64) ([]domain.Travel, error) {
	subs, err := s.repo.ListSubscriptions(ctx, domain.SubscriptionFilter{ChatID: chatID})
	if err != nil {
		return nil, fmt.Errorf("список подписок: %w", err)
	}
	travels := make([]domain.Travel, 0, len(subs))
	for _, sub := range subs {
		found, err := s.repo.ListTravels(ctx, domain.TravelFilter{ID: sub.TravelID})
		if err != nil {
			return nil, fmt.Errorf("поездка %d: %w", sub.TravelID, err)
		}
		travels = append(travels, found...)
	}
	sort.SliceStable(travels, func(i, j int) bool {
		if travels[i].DepartureTime != travels[j].DepartureTime {
			return travels[i].DepartureTime.Minutes() < travels[j].DepartureTime.Minutes()
		}
		return travels[i].ID < travels[j].ID
	})
	return travels, nil
}

// releaseIfIdle отменяет опрос поездки, если у неё не осталось подписчиков.
// Проверка и отмена идут под блокировкой поездки, чтобы не снять опрос новой подписки.
func (s *Service) releaseIfIdle(ctx context.Context, travel domain.Travel) {
	unlock := s.lock(travel.Origin, travel.Destination, travel.DepartureTime)
	defer unlock()

	key := domain.ExactTravel(travel.Origin, travel.Destination, travel.DepartureTime)
	key.OnlyActive = true
	active, err := s.repo.ListTravels(ctx, key)
	if err != nil {
		s.log.Error().Err(err).Str("origin", key.Origin).Str("destination", key.Destination).Msg("проверка подписчиков поездки")
		return
	}
	if len(active) > 0 {
		return
	}
	n := s.sched.CancelTravel(travel)
	s.log.Info().Str("origin", key.Origin).Str("destination", key.Destination).Int("cancelled", n).Msg("у поездки не осталось подписчиков")
}

func (s *Service) lock(origin, destination string, departure domain.TimeOfDay) func() {
	key := domain.NormalizeStation(origin) + "|" + domain.NormalizeStation(destination) + "|" + departure.String()
	mu, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
