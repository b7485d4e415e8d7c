package schedule

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"train-check-bot/internal/domain"
	"train-check-bot/internal/usecase/polling"
)

type fakeTask struct {
	daily bool
	at    domain.TimeOfDay
	days  []time.Weekday
	delay time.Duration
	fn    func()
}

type fakeScheduler struct {
	mu    sync.Mutex
	tasks map[string]fakeTask
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{tasks: make(map[string]fakeTask)}
}

func (f *fakeScheduler) ScheduleDaily(name string, at domain.TimeOfDay, days []time.Weekday, fn func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[name] = fakeTask{daily: true, at: at, days: days, fn: fn}
	return nil
}

func (f *fakeScheduler) ScheduleOnce(name string, delay time.Duration, fn func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[name] = fakeTask{delay: delay, fn: fn}
	return nil
}

func (f *fakeScheduler) CancelByPrefix(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for name := range f.tasks {
		if strings.HasPrefix(name, prefix) {
			delete(f.tasks, name)
			n++
		}
	}
	return n
}

func (f *fakeScheduler) Names(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.tasks {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (f *fakeScheduler) get(name string) (fakeTask, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[name]
	return t, ok
}

// fireOnce запускает однократную задачу так же, как планировщик: снимает её и вызывает.
func (f *fakeScheduler) fireOnce(t *testing.T, name string) {
	t.Helper()
	f.mu.Lock()
	task, ok := f.tasks[name]
	if ok && !task.daily {
		delete(f.tasks, name)
	}
	f.mu.Unlock()
	require.True(t, ok, "задача %s не найдена", name)
	task.fn()
}

func (f *fakeScheduler) oneShots(prefix string) []string {
	var out []string
	for _, name := range f.Names(prefix) {
		if name != prefix {
			out = append(out, name)
		}
	}
	return out
}

type fakePoller struct {
	mu     sync.Mutex
	tasks  []domain.PollTask
	result func(domain.PollTask) polling.Outcome
}

func (p *fakePoller) Poll(_ context.Context, task domain.PollTask) polling.Outcome {
	p.mu.Lock()
	p.tasks = append(p.tasks, task)
	result := p.result
	p.mu.Unlock()
	if result == nil {
		return polling.Outcome{}
	}
	return result(task)
}

type activeRepo struct {
	domain.SubscriptionRepo
	travels []domain.Travel
}

func (r *activeRepo) ListTravels(_ context.Context, f domain.TravelFilter) ([]domain.Travel, error) {
	if !f.OnlyActive {
		panic("ожидали фильтр только по активным поездкам")
	}
	return r.travels, nil
}

var testLoc = time.UTC

func at(day, hour, minute int) time.Time {
	return time.Date(2024, 3, day, hour, minute, 0, 0, testLoc)
}

func kgxCbg() domain.Travel {
	return domain.Travel{ID: 1, Origin: "KGX", Destination: "CBG", DepartureTime: domain.TimeOfDay{Hour: 12, Minute: 23}}
}

func newTestManager(sched domain.TaskScheduler, poller Poller, repo domain.SubscriptionRepo, now time.Time, days ...time.Weekday) *Manager {
	m := NewManager(sched, poller, repo, Config{Lead: time.Hour, Days: days, Location: testLoc}, zerolog.Nop())
	m.now = func() time.Time { return now }
	return m
}

func TestTaskName(t *testing.T) {
	assert.Equal(t, "kgx-cbg-12:23", TaskName("KGX", "cbg", domain.TimeOfDay{Hour: 12, Minute: 23}))
	assert.Equal(t, "pad-rdg-07:05", TaskName(" PAD", "RDG ", domain.TimeOfDay{Hour: 7, Minute: 5}))
}

func TestScheduleDailyPollRegistersTriggerBeforeDeparture(t *testing.T) {
	sched := newFakeScheduler()
	m := newTestManager(sched, &fakePoller{}, nil, at(4, 8, 0))

	replaced, err := m.ScheduleDailyPoll(context.Background(), kgxCbg())
	require.NoError(t, err)
	assert.False(t, replaced)

	task, ok := sched.get("kgx-cbg-12:23")
	require.True(t, ok)
	assert.True(t, task.daily)
	assert.Equal(t, domain.TimeOfDay{Hour: 11, Minute: 23}, task.at)
	assert.Len(t, task.days, 7)
	assert.Empty(t, sched.oneShots("kgx-cbg-12:23"))
}

func TestScheduleDailyPollIsIdempotent(t *testing.T) {
	sched := newFakeScheduler()
	m := newTestManager(sched, &fakePoller{}, nil, at(4, 8, 0))

	_, err := m.ScheduleDailyPoll(context.Background(), kgxCbg())
	require.NoError(t, err)
	replaced, err := m.ScheduleDailyPoll(context.Background(), kgxCbg())
	require.NoError(t, err)

	assert.True(t, replaced)
	assert.Equal(t, []string{"kgx-cbg-12:23"}, sched.Names(""))
}

func TestScheduleDailyPollInsideWindowPollsImmediately(t *testing.T) {
	sched := newFakeScheduler()
	poller := &fakePoller{}
	m := newTestManager(sched, poller, nil, at(4, 11, 50))

	_, err := m.ScheduleDailyPoll(context.Background(), kgxCbg())
	require.NoError(t, err)

	shots := sched.oneShots("kgx-cbg-12:23")
	require.Len(t, shots, 1)
	task, _ := sched.get(shots[0])
	assert.Zero(t, task.delay)

	sched.fireOnce(t, shots[0])
	require.Len(t, poller.tasks, 1)
	assert.Equal(t, at(4, 12, 23), poller.tasks[0].Departure)
	assert.Nil(t, poller.tasks[0].LastKnown)
}

func TestScheduleDailyPollAfterDepartureWaitsForTomorrow(t *testing.T) {
	sched := newFakeScheduler()
	m := newTestManager(sched, &fakePoller{}, nil, at(4, 12, 30))

	_, err := m.ScheduleDailyPoll(context.Background(), kgxCbg())
	require.NoError(t, err)
	assert.Empty(t, sched.oneShots("kgx-cbg-12:23"))
}

func TestScheduleDailyPollAcrossMidnight(t *testing.T) {
	sched := newFakeScheduler()
	poller := &fakePoller{}
	m := newTestManager(sched, poller, nil, at(4, 23, 45))
	travel := domain.Travel{ID: 2, Origin: "KGX", Destination: "CBG", DepartureTime: domain.TimeOfDay{Hour: 0, Minute: 30}}

	_, err := m.ScheduleDailyPoll(context.Background(), travel)
	require.NoError(t, err)

	trigger, _ := sched.get("kgx-cbg-00:30")
	assert.Equal(t, domain.TimeOfDay{Hour: 23, Minute: 30}, trigger.at)

	shots := sched.oneShots("kgx-cbg-00:30")
	require.Len(t, shots, 1)
	sched.fireOnce(t, shots[0])
	require.Len(t, poller.tasks, 1)
	assert.Equal(t, at(5, 0, 30), poller.tasks[0].Departure)
}

func TestScheduleDailyPollSkipsImmediatePollOnExcludedDay(t *testing.T) {
	sched := newFakeScheduler()
	// 4 марта 2024 года был понедельник.
	m := newTestManager(sched, &fakePoller{}, nil, at(4, 11, 50), time.Tuesday)

	_, err := m.ScheduleDailyPoll(context.Background(), kgxCbg())
	require.NoError(t, err)

	task, ok := sched.get("kgx-cbg-12:23")
	require.True(t, ok)
	assert.Equal(t, []time.Weekday{time.Tuesday}, task.days)
	assert.Empty(t, sched.oneShots("kgx-cbg-12:23"))
}

func TestChainReschedulesUntilPollerStops(t *testing.T) {
	sched := newFakeScheduler()
	status := &domain.DisruptionStatus{ScheduledDeparture: "12:23", DelayReason: "fog"}
	polls := 0
	poller := &fakePoller{result: func(task domain.PollTask) polling.Outcome {
		polls++
		if polls == 3 {
			return polling.Outcome{}
		}
		next := task
		next.LastKnown = status
		return polling.Outcome{Next: &next, Delay: 2 * time.Minute}
	}}
	m := newTestManager(sched, poller, nil, at(4, 8, 0))

	_, err := m.ScheduleDailyPoll(context.Background(), kgxCbg())
	require.NoError(t, err)

	trigger, _ := sched.get("kgx-cbg-12:23")
	trigger.fn()

	for i := 0; i < 2; i++ {
		shots := sched.oneShots("kgx-cbg-12:23")
		require.Len(t, shots, 1)
		task, _ := sched.get(shots[0])
		assert.Equal(t, 2*time.Minute, task.delay)
		sched.fireOnce(t, shots[0])
	}

	assert.Empty(t, sched.oneShots("kgx-cbg-12:23"))
	require.Len(t, poller.tasks, 3)
	assert.Nil(t, poller.tasks[0].LastKnown)
	assert.Equal(t, status, poller.tasks[1].LastKnown)
	assert.Equal(t, status, poller.tasks[2].LastKnown)
	_, ok := sched.get("kgx-cbg-12:23")
	assert.True(t, ok, "ежедневный триггер остаётся")
}

func TestCancelByPrefixRemovesWholeLineage(t *testing.T) {
	sched := newFakeScheduler()
	// 07:00: окна опроса обеих поездок (11:23 и 08:00) ещё не открыты.
	m := newTestManager(sched, &fakePoller{}, nil, at(4, 7, 0))

	_, err := m.ScheduleDailyPoll(context.Background(), kgxCbg())
	require.NoError(t, err)
	m.mu.Lock()
	epoch := m.epochs["kgx-cbg-12:23"]
	require.NoError(t, m.scheduleStepLocked("kgx-cbg-12:23", epoch, domain.PollTask{}, 2*time.Minute))
	require.NoError(t, m.scheduleStepLocked("kgx-cbg-12:23", epoch, domain.PollTask{}, 10*time.Minute))
	m.mu.Unlock()
	_, err = m.ScheduleDailyPoll(context.Background(), domain.Travel{Origin: "PAD", Destination: "RDG", DepartureTime: domain.TimeOfDay{Hour: 9}})
	require.NoError(t, err)

	assert.Len(t, sched.Names("kgx-cbg-12:23"), 3)
	assert.Equal(t, 3, m.CancelTravel(kgxCbg()))
	assert.Empty(t, sched.Names("kgx-cbg-12:23"))
	assert.Equal(t, []string{"pad-rdg-09:00"}, sched.Names(""))
	assert.Zero(t, m.CancelByPrefix("kgx-cbg-12:23"))
}

func TestChainStopsWhenLineageCancelledMidPoll(t *testing.T) {
	sched := newFakeScheduler()
	var m *Manager
	poller := &fakePoller{result: func(task domain.PollTask) polling.Outcome {
		m.CancelByPrefix("kgx-cbg-12:23")
		next := task
		return polling.Outcome{Next: &next, Delay: 10 * time.Minute}
	}}
	m = newTestManager(sched, poller, nil, at(4, 11, 50))

	_, err := m.ScheduleDailyPoll(context.Background(), kgxCbg())
	require.NoError(t, err)
	shots := sched.oneShots("kgx-cbg-12:23")
	require.Len(t, shots, 1)

	sched.fireOnce(t, shots[0])
	assert.Empty(t, sched.Names(""))
}

func TestReplacedLineageDoesNotForkChain(t *testing.T) {
	sched := newFakeScheduler()
	var m *Manager
	polls := 0
	poller := &fakePoller{result: func(task domain.PollTask) polling.Outcome {
		polls++
		if polls == 1 {
			// Повторная подписка заменяет линию, пока идёт её первый опрос.
			_, err := m.ScheduleDailyPoll(context.Background(), kgxCbg())
			require.NoError(t, err)
		}
		next := task
		return polling.Outcome{Next: &next, Delay: 10 * time.Minute}
	}}
	m = newTestManager(sched, poller, nil, at(4, 11, 50))

	_, err := m.ScheduleDailyPoll(context.Background(), kgxCbg())
	require.NoError(t, err)
	shots := sched.oneShots("kgx-cbg-12:23")
	require.Len(t, shots, 1)
	sched.fireOnce(t, shots[0])

	for i := 0; i < 3; i++ {
		shots = sched.oneShots("kgx-cbg-12:23")
		require.Len(t, shots, 1, "шаг %d", i)
		sched.fireOnce(t, shots[0])
	}
	assert.Len(t, poller.tasks, 4)
	assert.Len(t, sched.oneShots("kgx-cbg-12:23"), 1)
}

func TestStaleTriggerDoesNotPoll(t *testing.T) {
	sched := newFakeScheduler()
	poller := &fakePoller{}
	m := newTestManager(sched, poller, nil, at(4, 8, 0))

	_, err := m.ScheduleDailyPoll(context.Background(), kgxCbg())
	require.NoError(t, err)
	stale, _ := sched.get("kgx-cbg-12:23")
	_, err = m.ScheduleDailyPoll(context.Background(), kgxCbg())
	require.NoError(t, err)

	// Триггер прежней линии успел сработать до отмены.
	stale.fn()
	assert.Empty(t, poller.tasks)

	fresh, _ := sched.get("kgx-cbg-12:23")
	fresh.fn()
	assert.Len(t, poller.tasks, 1)
}

type nextRunScheduler struct {
	*fakeScheduler
	next time.Time
}

func (s nextRunScheduler) NextRun(name string) (time.Time, bool) {
	if _, ok := s.get(name); !ok {
		return time.Time{}, false
	}
	return s.next, true
}

func TestScheduleDailyPollLogsNextRun(t *testing.T) {
	var buf bytes.Buffer
	sched := nextRunScheduler{fakeScheduler: newFakeScheduler(), next: at(5, 11, 23)}
	m := NewManager(sched, &fakePoller{}, nil, Config{Lead: time.Hour, Location: testLoc}, zerolog.New(&buf))
	m.now = func() time.Time { return at(4, 12, 30) }

	_, err := m.ScheduleDailyPoll(context.Background(), kgxCbg())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"next_run":"2024-03-05T11:23:00Z"`)
}

func TestRecoverAllActive(t *testing.T) {
	sched := newFakeScheduler()
	repo := &activeRepo{travels: []domain.Travel{
		{ID: 1, Origin: "KGX", Destination: "CBG", DepartureTime: domain.TimeOfDay{Hour: 12, Minute: 23}},
		{ID: 2, Origin: "CBG", Destination: "KGX", DepartureTime: domain.TimeOfDay{Hour: 18, Minute: 40}},
		{ID: 3, Origin: "PAD", Destination: "RDG", DepartureTime: domain.TimeOfDay{Hour: 7, Minute: 5}},
	}}
	m := newTestManager(sched, &fakePoller{}, repo, at(4, 3, 0))

	n, err := m.RecoverAllActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"cbg-kgx-18:40", "kgx-cbg-12:23", "pad-rdg-07:05"}, sched.Names(""))
}
