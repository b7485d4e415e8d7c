package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"train-check-bot/internal/domain"
	"train-check-bot/internal/infra/metrics"
)

// Gocron хранит именованные задачи поверх планировщика gocron.
type Gocron struct {
	s    *gocron.Scheduler
	log  zerolog.Logger
	mu   sync.Mutex
	jobs map[string]*gocron.Job
}

var _ domain.TaskScheduler = (*Gocron)(nil)

// NewGocron создаёт планировщик в часовом поясе loc.
func NewGocron(loc *time.Location, logger zerolog.Logger) *Gocron {
	if loc == nil {
		loc = time.UTC
	}
	s := gocron.NewScheduler(loc)
	s.SingletonModeAll()
	return &Gocron{
		s:    s,
		log:  logger,
		jobs: make(map[string]*gocron.Job),
	}
}

// Start запускает обработку задач в фоне.
func (g *Gocron) Start() {
	g.s.StartAsync()
	g.log.Info().Msg("планировщик запущен")
}

// Stop останавливает планировщик и ждёт текущие задачи.
func (g *Gocron) Stop() {
	g.s.Stop()
	g.log.Info().Msg("планировщик остановлен")
}

// ScheduleDaily реализует domain.TaskScheduler. Задача с тем же именем заменяется.
func (g *Gocron) ScheduleDaily(name string, at domain.TimeOfDay, days []time.Weekday, fn func()) error {
	if len(days) == 0 {
		return fmt.Errorf("задача %s: пустой список дней", name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(name)

	var s *gocron.Scheduler
	if everyDay(days) {
		s = g.s.Every(1).Day()
	} else {
		s = g.s.Every(1).Week()
		for _, d := range days {
			s = s.Weekday(d)
		}
	}
	job, err := s.At(at.String()).Name(name).Do(g.guard(name, fn))
	if err != nil {
		return fmt.Errorf("задача %s: %w", name, err)
	}
	g.jobs[name] = job
	g.updateGauge()
	g.log.Debug().Str("task", name).Str("at", at.String()).Int("days", len(days)).Msg("ежедневная задача зарегистрирована")
	return nil
}

// ScheduleOnce реализует domain.TaskScheduler. После запуска задача удаляется из реестра.
func (g *Gocron) ScheduleOnce(name string, delay time.Duration, fn func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(name)

	var job *gocron.Job
	run := func() {
		g.finishOnce(name, &job)
		fn()
	}

	s := g.s.Every(24 * time.Hour).LimitRunsTo(1)
	if delay > 0 {
		s = s.StartAt(time.Now().Add(delay))
	}
	var err error
	job, err = s.Name(name).Do(g.guard(name, run))
	if err != nil {
		return fmt.Errorf("задача %s: %w", name, err)
	}
	g.jobs[name] = job
	g.updateGauge()
	g.log.Debug().Str("task", name).Dur("delay", delay).Msg("однократная задача зарегистрирована")
	return nil
}

// CancelByPrefix реализует domain.TaskScheduler.
func (g *Gocron) CancelByPrefix(prefix string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cancelled := 0
	for name := range g.jobs {
		if strings.HasPrefix(name, prefix) {
			g.removeLocked(name)
			cancelled++
		}
	}
	if cancelled > 0 {
		g.updateGauge()
		g.log.Debug().Str("prefix", prefix).Int("cancelled", cancelled).Msg("задачи отменены")
	}
	return cancelled
}

// Names реализует domain.TaskScheduler.
func (g *Gocron) Names(prefix string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var names []string
	for name := range g.jobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// NextRun возвращает время следующего запуска задачи.
func (g *Gocron) NextRun(name string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	job, ok := g.jobs[name]
	if !ok {
		return time.Time{}, false
	}
	return job.NextRun(), true
}

// finishOnce снимает однократную задачу с учёта, если её не успели заменить.
// Ожидание мьютекса гарантирует, что регистрация в ScheduleOnce завершена.
func (g *Gocron) finishOnce(name string, job **gocron.Job) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if current, ok := g.jobs[name]; ok && current == *job {
		delete(g.jobs, name)
		g.s.RemoveByReference(current)
		g.updateGauge()
	}
}

func (g *Gocron) removeLocked(name string) {
	job, ok := g.jobs[name]
	if !ok {
		return
	}
	g.s.RemoveByReference(job)
	delete(g.jobs, name)
}

func (g *Gocron) guard(name string, fn func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				g.log.Error().Str("task", name).Interface("panic", r).Msg("задача завершилась паникой")
			}
		}()
		fn()
	}
}

func (g *Gocron) updateGauge() {
	metrics.SchedulerTasks.Set(float64(len(g.jobs)))
}

func everyDay(days []time.Weekday) bool {
	seen := make(map[time.Weekday]struct{}, len(days))
	for _, d := range days {
		seen[d] = struct{}{}
	}
	return len(seen) == 7
}
