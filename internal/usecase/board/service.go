package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"train-check-bot/internal/adapters/ldbws"
	"train-check-bot/internal/domain"
)

// DefaultRows задаёт число строк табло по умолчанию.
const DefaultRows = 10

// Service показывает табло отправлений.
type Service struct {
	source domain.StatusSource
	cache  domain.Cache
	ttl    time.Duration
	log    zerolog.Logger
}

// NewService создаёт сервис табло. cache может быть nil.
func NewService(source domain.StatusSource, cache domain.Cache, ttl time.Duration, logger zerolog.Logger) *Service {
	return &Service{source: source, cache: cache, ttl: ttl, log: logger}
}

// Board возвращает текст табло станции origin, опционально с фильтром по destination.
func (s *Service) Board(ctx context.Context, origin, destination string, rows int) string {
	origin = domain.NormalizeStation(origin)
	destination = domain.NormalizeStation(destination)
	if rows <= 0 {
		rows = DefaultRows
	}

	board, err := s.load(ctx, origin, destination, rows)
	if err != nil {
		if errors.Is(err, ldbws.ErrNoServices) {
			to := ""
			if destination != "" {
				to = " to " + destination
			}
			return fmt.Sprintf("Could not retrieve board information for trains from %s%s. Are the station codes correct?", origin, to)
		}
		s.log.Error().Err(err).Str("origin", origin).Str("destination", destination).Msg("табло недоступно")
		return "Something bad just happened... Check if the input to the departure board command is correct."
	}
	return FormatBoard(board)
}

func (s *Service) load(ctx context.Context, origin, destination string, rows int) (domain.DepartureBoard, error) {
	key := fmt.Sprintf("board:%s|%s|%d", origin, destination, rows)
	if s.cache != nil && s.ttl > 0 {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var cached domain.DepartureBoard
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	board, err := s.source.DepartureBoard(ctx, origin, destination, rows)
	if err != nil {
		return domain.DepartureBoard{}, err
	}

	if s.cache != nil && s.ttl > 0 {
		if raw, err := json.Marshal(board); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
				s.log.Warn().Err(err).Str("key", key).Msg("не удалось сохранить табло в кэш")
			}
		}
	}
	return board, nil
}

// FormatBoard формирует текст табло.
func FormatBoard(b domain.DepartureBoard) string {
	var sb strings.Builder
	sb.WriteString("Trains at " + b.LocationName + "\n")
	for _, svc := range b.Services {
		sb.WriteString(svc.ScheduledDeparture + " " + svc.Destination)
		if svc.EstimatedDeparture != domain.OnTimeLabel {
			sb.WriteString(" - " + svc.EstimatedDeparture)
		}
		if svc.Platform != "" {
			sb.WriteString(" (Platform " + svc.Platform + ")")
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
