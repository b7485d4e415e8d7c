package polling

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"train-check-bot/internal/domain"
	"train-check-bot/internal/infra/metrics"
	"train-check-bot/internal/usecase/notify"
)

// Config задаёт интервалы повторного опроса.
type Config struct {
	OnTimeInterval    time.Duration
	DisruptedInterval time.Duration
}

// DefaultConfig возвращает интервалы по умолчанию.
func DefaultConfig() Config {
	return Config{OnTimeInterval: 10 * time.Minute, DisruptedInterval: 2 * time.Minute}
}

// Outcome описывает результат одного запуска цепочки.
// Next == nil означает, что цепочка завершена.
type Outcome struct {
	Next  *domain.PollTask
	Delay time.Duration
}

// Poller выполняет один шаг опроса статуса поездки.
type Poller struct {
	source   domain.StatusSource
	subs     domain.SubscriptionRepo
	notifier domain.Notifier
	cfg      Config
	now      func() time.Time
	log      zerolog.Logger
}

// NewPoller создаёт обработчик шага опроса.
func NewPoller(source domain.StatusSource, subs domain.SubscriptionRepo, notifier domain.Notifier, cfg Config, logger zerolog.Logger) *Poller {
	if cfg.OnTimeInterval <= 0 {
		cfg.OnTimeInterval = DefaultConfig().OnTimeInterval
	}
	if cfg.DisruptedInterval <= 0 {
		cfg.DisruptedInterval = DefaultConfig().DisruptedInterval
	}
	return &Poller{
		source:   source,
		subs:     subs,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		log:      logger,
	}
}

// Poll опрашивает источник и решает, нужен ли следующий запуск.
func (p *Poller) Poll(ctx context.Context, task domain.PollTask) Outcome {
	log := p.log.With().
		Int64("travel_id", task.TravelID).
		Str("origin", task.Origin).
		Str("destination", task.Destination).
		Time("departure", task.Departure).
		Logger()

	if p.now().After(task.Departure) {
		metrics.IncPoll("expired")
		log.Info().Msg("отправление прошло, опрос завершён")
		return Outcome{}
	}

	log.Debug().Msg("опрос статуса")
	status, err := p.source.NextStatus(ctx, task.Origin, task.Destination)
	if err != nil {
		metrics.IncPoll("error")
		next := task
		delay := p.interval(task.LastKnown)
		log.Error().Err(err).Dur("retry_in", delay).Msg("источник статуса недоступен")
		return Outcome{Next: &next, Delay: delay}
	}

	if status == nil {
		metrics.IncPoll("no_info")
		log.Info().Msg("рейс пропал из источника, опрос завершён")
		p.fanOut(ctx, log, task, domain.NotificationNoInfo, notify.FormatNoInfo(task))
		return Outcome{}
	}

	if status.IsDisrupted() && !status.Equal(task.LastKnown) {
		metrics.IncPoll("disrupted")
		log.Info().Str("delay_reason", status.DelayReason).Bool("cancelled", status.Cancelled).Msg("новый сбой")
		p.fanOut(ctx, log, task, domain.NotificationDisruption, notify.FormatDisruption(*status))
	} else {
		metrics.IncPoll("unchanged")
	}

	next := task
	next.LastKnown = status
	return Outcome{Next: &next, Delay: p.interval(status)}
}

func (p *Poller) interval(status *domain.DisruptionStatus) time.Duration {
	if status != nil && status.IsDisrupted() {
		return p.cfg.DisruptedInterval
	}
	return p.cfg.OnTimeInterval
}

// fanOut рассылает текст всем текущим подписчикам поездки.
func (p *Poller) fanOut(ctx context.Context, log zerolog.Logger, task domain.PollTask, kind domain.NotificationKind, text string) {
	subs, err := p.subs.ListSubscriptions(ctx, domain.SubscriptionFilter{TravelID: task.TravelID})
	if err != nil {
		log.Error().Err(err).Msg("не удалось получить подписчиков")
		return
	}
	for _, sub := range subs {
		if err := p.notifier.Notify(ctx, sub.ChatID, kind, text); err != nil {
			metrics.BotSendErrors.Inc()
			log.Error().Err(err).Int64("chat_id", sub.ChatID).Msg("уведомление не доставлено")
		}
	}
	log.Info().Int("subscribers", len(subs)).Str("kind", string(kind)).Msg("уведомления разосланы")
}
