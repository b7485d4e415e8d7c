package main

import (
	"context"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"train-check-bot/internal/adapters/bot"
	"train-check-bot/internal/adapters/ldbws"
	"train-check-bot/internal/adapters/repo"
	"train-check-bot/internal/adapters/telegram"
	"train-check-bot/internal/domain"
	"train-check-bot/internal/infra/cache"
	"train-check-bot/internal/infra/config"
	"train-check-bot/internal/infra/db"
	apphttp "train-check-bot/internal/infra/http"
	applog "train-check-bot/internal/infra/log"
	"train-check-bot/internal/infra/metrics"
	"train-check-bot/internal/infra/queue"
	"train-check-bot/internal/infra/scheduler"
	"train-check-bot/internal/usecase/board"
	"train-check-bot/internal/usecase/notify"
	"train-check-bot/internal/usecase/polling"
	"train-check-bot/internal/usecase/schedule"
	"train-check-bot/internal/usecase/subscriptions"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: некорректный часовой пояс")
	}
	days, err := cfg.PollDays()
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: некорректные дни опроса")
	}

	store, closeStore := openStore(cfg, logger)
	defer closeStore()

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("bot: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: не удалось создать бота")
	}
	sender := telegram.NewSender(botAPI)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}

	source := ldbws.NewClient(ldbws.Config{
		URL:        cfg.LDB.URL,
		Token:      cfg.LDB.Token,
		Timeout:    cfg.LDB.Timeout,
		MaxRetries: cfg.LDB.MaxRetries,
	}, applog.Component(logger, "ldbws"))

	notifier, closeNotifier := newNotifier(ctx, cfg, redisClient, sender, logger)
	defer closeNotifier()

	sched := scheduler.NewGocron(loc, applog.Component(logger, "scheduler"))
	poller := polling.NewPoller(source, store, notifier, polling.Config{
		OnTimeInterval:    cfg.Poll.OnTimeInterval,
		DisruptedInterval: cfg.Poll.DisruptedInterval,
	}, applog.Component(logger, "poller"))
	manager := schedule.NewManager(sched, poller, store, schedule.Config{
		Lead:     cfg.Poll.Lead,
		Days:     days,
		Location: loc,
	}, applog.Component(logger, "schedule"))

	sched.Start()
	defer sched.Stop()

	recoverCtx, cancelRecover := context.WithTimeout(ctx, time.Minute)
	recovered, err := manager.RecoverAllActive(recoverCtx)
	cancelRecover()
	if err != nil {
		logger.Error().Err(err).Int("recovered", recovered).Msg("bot: часть поездок не восстановлена")
	} else {
		logger.Info().Int("recovered", recovered).Msg("bot: опросы поездок восстановлены")
	}

	var boardCache domain.Cache
	if redisClient != nil {
		boardCache = cache.NewRedis(redisClient, "train-check:")
	}
	boards := board.NewService(source, boardCache, cfg.BoardCacheTTL, applog.Component(logger, "board"))
	subs := subscriptions.NewService(store, manager, applog.Component(logger, "subscriptions"))
	handler := bot.NewHandler(botAPI, applog.Component(logger, "bot"), subs, boards)

	webhook := cfg.Telegram.WebhookURL != ""
	var updates apphttp.UpdateHandler
	if webhook {
		updates = handler
	}
	server := apphttp.NewServer(applog.Component(logger, "http"), ":"+strconv.Itoa(cfg.Port), updates)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("bot: HTTP сервер остановлен")
			stop()
		}
	}()

	if webhook {
		if err := setWebhook(botAPI, cfg.Telegram.WebhookURL); err != nil {
			logger.Fatal().Err(err).Msg("bot: не удалось зарегистрировать вебхук")
		}
		logger.Info().Str("url", cfg.Telegram.WebhookURL).Msg("bot: работаем через вебхук")
		<-ctx.Done()
	} else {
		if _, err := botAPI.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			logger.Warn().Err(err).Msg("bot: не удалось снять вебхук")
		}
		logger.Info().Msg("bot: работаем через long polling")
		pollUpdates(ctx, botAPI, handler)
	}

	logger.Info().Msg("bot: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("bot: HTTP сервер не остановился корректно")
	}
}

// openStore подключает хранилище подписок согласно STORE_DRIVER.
func openStore(cfg config.AppConfig, logger zerolog.Logger) (domain.SubscriptionRepo, func()) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "sqlite":
		conn, err := db.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.Store.SQLitePath).Msg("bot: не удалось открыть SQLite")
		}
		return repo.NewSQLite(conn), func() { _ = conn.Close() }
	case "postgres":
		if cfg.PGDSN == "" {
			logger.Fatal().Msg("bot: не указан PG_DSN")
		}
		if err := db.MigratePostgres(cfg.PGDSN); err != nil {
			logger.Fatal().Err(err).Msg("bot: миграции не применились")
		}
		pool, err := db.Connect(cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("bot: нет подключения к БД")
		}
		return repo.NewPostgres(pool), pool.Close
	default:
		logger.Fatal().Str("driver", cfg.Store.Driver).Msg("bot: неизвестный STORE_DRIVER")
		return nil, nil
	}
}

// newNotifier выбирает способ доставки уведомлений согласно NOTIFY_QUEUE.
// Для очередей запускается воркер, который читает их и отправляет сообщения в Telegram.
func newNotifier(ctx context.Context, cfg config.AppConfig, redisClient *redis.Client, sender notify.Sender, logger zerolog.Logger) (domain.Notifier, func()) {
	var q domain.NotificationQueue
	closeQueue := func() {}

	switch strings.ToLower(cfg.Queues.Backend) {
	case "", "direct":
		return notify.NewDirect(sender), closeQueue
	case "redis":
		if redisClient == nil {
			logger.Fatal().Msg("bot: для NOTIFY_QUEUE=redis нужен REDIS_ADDR")
		}
		q = queue.NewRedisNotificationQueue(redisClient, cfg.Queues.Notifications)
	case "rabbitmq":
		if cfg.RabbitURL == "" {
			logger.Fatal().Msg("bot: не указан адрес RabbitMQ (RABBITMQ_URL)")
		}
		rabbit, err := queue.NewRabbitNotificationQueue(cfg.RabbitURL, cfg.Queues.Notifications)
		if err != nil {
			logger.Fatal().Err(err).Msg("bot: не удалось инициализировать очередь RabbitMQ")
		}
		q = rabbit
		closeQueue = func() { _ = rabbit.Close() }
	default:
		logger.Fatal().Str("backend", cfg.Queues.Backend).Msg("bot: неизвестный NOTIFY_QUEUE")
	}

	worker := notify.NewWorker(q, sender, applog.Component(logger, "notify_worker"))
	go func() {
		if err := worker.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("bot: воркер уведомлений остановлен")
		}
	}()
	return notify.NewQueued(q), closeQueue
}

func setWebhook(api *tgbotapi.BotAPI, base string) error {
	wh, err := tgbotapi.NewWebhook(strings.TrimRight(base, "/") + apphttp.WebhookPath)
	if err != nil {
		return err
	}
	_, err = api.Request(wh)
	return err
}

func pollUpdates(ctx context.Context, api *tgbotapi.BotAPI, handler *bot.Handler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	defer api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			handler.HandleUpdate(ctx, upd)
		}
	}
}
