package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию бота.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"Europe/London"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		Token      string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string `envconfig:"TG_WEBHOOK_URL"`
	} `envconfig:""`

	Store struct {
		Driver     string `envconfig:"STORE_DRIVER" default:"postgres"`
		SQLitePath string `envconfig:"SQLITE_PATH" default:"./train-check.db"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Backend       string `envconfig:"NOTIFY_QUEUE" default:"direct"`
		Notifications string `envconfig:"NOTIFY_QUEUE_KEY" default:"travel_notifications"`
	} `envconfig:""`

	LDB struct {
		Token      string        `envconfig:"LDB_TOKEN"`
		URL        string        `envconfig:"LDB_URL" default:"https://lite.realtime.nationalrail.co.uk/OpenLDBWS/ldb11.asmx"`
		Timeout    time.Duration `envconfig:"LDB_TIMEOUT" default:"10s"`
		MaxRetries uint64        `envconfig:"LDB_MAX_RETRIES" default:"3"`
	} `envconfig:""`

	Poll struct {
		Lead              time.Duration `envconfig:"POLL_LEAD" default:"1h"`
		OnTimeInterval    time.Duration `envconfig:"POLL_ON_TIME_INTERVAL" default:"10m"`
		DisruptedInterval time.Duration `envconfig:"POLL_DISRUPTED_INTERVAL" default:"2m"`
		Days              []string      `envconfig:"POLL_DAYS" default:"mon,tue,wed,thu,fri,sat,sun"`
	} `envconfig:""`

	BoardCacheTTL time.Duration `envconfig:"BOARD_CACHE_TTL" default:"30s"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Location возвращает часовой пояс расписания.
func (c AppConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return nil, fmt.Errorf("часовой пояс %q: %w", c.TZ, err)
	}
	return loc, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// PollDays разбирает список дней недели для ежедневного опроса.
func (c AppConfig) PollDays() ([]time.Weekday, error) {
	return ParseWeekdays(c.Poll.Days)
}

// ParseWeekdays превращает сокращения дней недели в time.Weekday без повторов.
func ParseWeekdays(raw []string) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]struct{}, len(raw))
	days := make([]time.Weekday, 0, len(raw))
	for _, item := range raw {
		key := strings.ToLower(strings.TrimSpace(item))
		if len(key) > 3 {
			key = key[:3]
		}
		day, ok := weekdays[key]
		if !ok {
			return nil, fmt.Errorf("неизвестный день недели %q", item)
		}
		if _, dup := seen[day]; dup {
			continue
		}
		seen[day] = struct{}{}
		days = append(days, day)
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("не задано ни одного дня опроса")
	}
	return days, nil
}
