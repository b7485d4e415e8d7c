package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"train-check-bot/internal/domain"
	"train-check-bot/internal/usecase/polling"
)

// Poller выполняет один шаг цепочки опроса.
type Poller interface {
	Poll(ctx context.Context, task domain.PollTask) polling.Outcome
}

// Config задаёт параметры расписания опроса.
type Config struct {
	// Lead — за сколько до отправления срабатывает ежедневный триггер.
	Lead time.Duration
	Days []time.Weekday
	// StepTimeout ограничивает один шаг опроса.
	StepTimeout time.Duration
	Location    *time.Location
}

// AllDays содержит все дни недели.
var AllDays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday,
}

// Manager ведёт ежедневные триггеры и цепочки опроса поездок.
type Manager struct {
	sched  domain.TaskScheduler
	poller Poller
	repo   domain.SubscriptionRepo
	cfg    Config
	now    func() time.Time
	log    zerolog.Logger

	lastStamp atomic.Int64

	// mu защищает epochs и связывает проверку поколения с постановкой следующего шага.
	mu     sync.Mutex
	epochs map[string]uint64
}

// NewManager создаёт менеджер расписаний.
func NewManager(sched domain.TaskScheduler, poller Poller, repo domain.SubscriptionRepo, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.Lead <= 0 {
		cfg.Lead = time.Hour
	}
	if len(cfg.Days) == 0 {
		cfg.Days = AllDays
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Manager{
		sched:  sched,
		poller: poller,
		repo:   repo,
		cfg:    cfg,
		now:    time.Now,
		log:    logger,
		epochs: make(map[string]uint64),
	}
}

// TaskName возвращает базовое имя задач поездки, например kgx-cbg-12:23.
func TaskName(origin, destination string, departure domain.TimeOfDay) string {
	return fmt.Sprintf("%s-%s-%s", strings.ToLower(strings.TrimSpace(origin)), strings.ToLower(strings.TrimSpace(destination)), departure)
}

func travelTaskName(t domain.Travel) string {
	return TaskName(t.Origin, t.Destination, t.DepartureTime)
}

// ScheduleDailyPoll регистрирует ежедневный триггер поездки, заменяя прежнюю линию задач.
// Возвращает true, если что-то было заменено.
func (m *Manager) ScheduleDailyPoll(ctx context.Context, travel domain.Travel) (bool, error) {
	base := travelTaskName(travel)
	at := travel.DepartureTime.Add(-m.cfg.Lead)

	m.mu.Lock()
	defer m.mu.Unlock()

	replaced := m.cancelLocked(base) > 0
	epoch := m.epochs[base]
	if err := m.sched.ScheduleDaily(base, at, m.cfg.Days, func() { m.startChain(travel, epoch) }); err != nil {
		return replaced, fmt.Errorf("регистрация триггера %s: %w", base, err)
	}

	log := m.log.With().Str("task", base).Str("trigger_at", at.String()).Logger()
	event := log.Info().Bool("replaced", replaced)
	if next, ok := m.nextRun(base); ok {
		event = event.Time("next_run", next)
	}
	event.Msg("ежедневный опрос запланирован")

	now := m.now().In(m.cfg.Location)
	departure := travel.DepartureTime.Next(now)
	trigger := departure.Add(-m.cfg.Lead)
	if !now.Before(trigger) && m.pollsOn(trigger.Weekday()) {
		log.Info().Time("departure", departure).Msg("окно опроса уже открыто, запускаем сразу")
		if err := m.scheduleStepLocked(base, epoch, domain.NewPollTask(travel, departure), 0); err != nil {
			return replaced, err
		}
	}
	return replaced, nil
}

// CancelByPrefix отменяет все задачи с указанным префиксом имени.
// Цепочки этих линий останавливаются, даже если их шаг выполняется прямо сейчас.
func (m *Manager) CancelByPrefix(prefix string) int {
	m.mu.Lock()
	names := m.sched.Names(prefix)
	n := m.cancelLocked(prefix)
	m.mu.Unlock()
	m.log.Info().Str("prefix", prefix).Int("cancelled", n).Strs("tasks", names).Msg("линия задач отменена")
	return n
}

// CancelTravel отменяет триггер и цепочку опроса поездки.
func (m *Manager) CancelTravel(travel domain.Travel) int {
	return m.CancelByPrefix(travelTaskName(travel))
}

// cancelLocked снимает задачи и сдвигает поколение всех затронутых линий.
func (m *Manager) cancelLocked(prefix string) int {
	m.epochs[prefix]++
	for base := range m.epochs {
		if base != prefix && strings.HasPrefix(base, prefix) {
			m.epochs[base]++
		}
	}
	return m.sched.CancelByPrefix(prefix)
}

func (m *Manager) nextRun(name string) (time.Time, bool) {
	if r, ok := m.sched.(interface {
		NextRun(name string) (time.Time, bool)
	}); ok {
		return r.NextRun(name)
	}
	return time.Time{}, false
}

// RecoverAllActive заново планирует опрос всех поездок, у которых есть подписчики.
func (m *Manager) RecoverAllActive(ctx context.Context) (int, error) {
	travels, err := m.repo.ListTravels(ctx, domain.TravelFilter{OnlyActive: true})
	if err != nil {
		return 0, fmt.Errorf("загрузка активных поездок: %w", err)
	}

	var (
		recovered int
		errs      []error
	)
	for _, travel := range travels {
		if _, err := m.ScheduleDailyPoll(ctx, travel); err != nil {
			m.log.Error().Err(err).Int64("travel_id", travel.ID).Msg("не удалось восстановить опрос")
			errs = append(errs, err)
			continue
		}
		recovered++
	}
	m.log.Info().Int("travels", len(travels)).Int("recovered", recovered).Msg("опрос восстановлен")
	return recovered, errors.Join(errs...)
}

func (m *Manager) pollsOn(day time.Weekday) bool {
	for _, d := range m.cfg.Days {
		if d == day {
			return true
		}
	}
	return false
}

// startChain запускается ежедневным триггером поколения epoch.
func (m *Manager) startChain(travel domain.Travel, epoch uint64) {
	departure := travel.DepartureTime.Next(m.now().In(m.cfg.Location))
	m.runStep(travelTaskName(travel), epoch, domain.NewPollTask(travel, departure))
}

func (m *Manager) current(base string, epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epochs[base] == epoch
}

func (m *Manager) runStep(base string, epoch uint64, task domain.PollTask) {
	if !m.current(base, epoch) {
		m.log.Debug().Str("task", base).Msg("шаг устаревшей линии пропущен")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StepTimeout)
	defer cancel()

	out := m.poller.Poll(ctx, task)
	if out.Next == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Линию отменили или заменили, пока шёл опрос: следующий шаг не нужен.
	if m.epochs[base] != epoch {
		m.log.Debug().Str("task", base).Msg("линия сменилась, цепочка остановлена")
		return
	}
	if err := m.scheduleStepLocked(base, epoch, *out.Next, out.Delay); err != nil {
		m.log.Error().Err(err).Str("task", base).Msg("не удалось запланировать повторный опрос")
	}
}

// scheduleStepLocked ставит однократный шаг цепочки. Вызывается под m.mu.
func (m *Manager) scheduleStepLocked(base string, epoch uint64, task domain.PollTask, delay time.Duration) error {
	name := fmt.Sprintf("%s-%d", base, m.stamp())
	if err := m.sched.ScheduleOnce(name, delay, func() { m.runStep(base, epoch, task) }); err != nil {
		return fmt.Errorf("регистрация опроса %s: %w", name, err)
	}
	return nil
}

// stamp возвращает строго возрастающую метку времени для имён однократных задач.
func (m *Manager) stamp() int64 {
	n := m.now().UnixNano()
	for {
		last := m.lastStamp.Load()
		if n <= last {
			n = last + 1
		}
		if m.lastStamp.CompareAndSwap(last, n) {
			return n
		}
	}
}
