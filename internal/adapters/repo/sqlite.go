package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"train-check-bot/internal/domain"
	"train-check-bot/internal/infra/metrics"
)

// SQLite реализует хранилище подписок поверх database/sql и go-sqlite3.
type SQLite struct {
	db *sql.DB
}

var _ domain.SubscriptionRepo = (*SQLite)(nil)

// NewSQLite оборачивает открытую базу с применёнными миграциями.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// GetOrCreateTravel реализует domain.SubscriptionRepo.
func (s *SQLite) GetOrCreateTravel(ctx context.Context, origin, destination string, departure domain.TimeOfDay) (domain.Travel, error) {
	ctx, cancel := connCtx(ctx)
	defer cancel()

	travel := domain.Travel{
		Origin:        domain.NormalizeStation(origin),
		Destination:   domain.NormalizeStation(destination),
		DepartureTime: departure,
	}

	start := time.Now()
	err := s.db.QueryRowContext(ctx, `
INSERT INTO travel (origin, destination, departure_time)
VALUES (?, ?, ?)
ON CONFLICT (origin, destination, departure_time) DO NOTHING
RETURNING id
`, travel.Origin, travel.Destination, departure.String()).Scan(&travel.ID)
	metrics.ObserveNetworkRequest("sqlite", "travel_insert", "travel", start, err)
	if err == nil {
		return travel, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Travel{}, fmt.Errorf("создание поездки: %w", err)
	}

	start = time.Now()
	err = s.db.QueryRowContext(ctx, `
SELECT id FROM travel WHERE origin=? AND destination=? AND departure_time=?
`, travel.Origin, travel.Destination, departure.String()).Scan(&travel.ID)
	metrics.ObserveNetworkRequest("sqlite", "travel_get", "travel", start, err)
	if err != nil {
		return domain.Travel{}, fmt.Errorf("чтение поездки: %w", err)
	}
	return travel, nil
}

// AddSubscription реализует domain.SubscriptionRepo.
func (s *SQLite) AddSubscription(ctx context.Context, chatID int64, travel domain.Travel) error {
	ctx, cancel := connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO subscription (chat_id, travel_id)
VALUES (?, ?)
ON CONFLICT (chat_id, travel_id) DO NOTHING
`, chatID, travel.ID)
	metrics.ObserveNetworkRequest("sqlite", "subscription_insert", "subscription", start, err)
	return err
}

// RemoveSubscriptions реализует domain.SubscriptionRepo.
func (s *SQLite) RemoveSubscriptions(ctx context.Context, chatID int64, filter domain.TravelFilter) (int, error) {
	ctx, cancel := connCtx(ctx)
	defer cancel()

	filter.OnlyActive = false
	w := newWhere(question)
	w.args = append(w.args, chatID)
	w.applyTravelFilter("t", filter, question)

	query := `DELETE FROM subscription WHERE chat_id = ?`
	if hasTravelConditions(filter) {
		query += ` AND travel_id IN (SELECT t.id FROM travel t` + w.sql() + `)`
	}

	start := time.Now()
	res, err := s.db.ExecContext(ctx, query, w.args...)
	metrics.ObserveNetworkRequest("sqlite", "subscription_delete", "subscription", start, err)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ListSubscriptions реализует domain.SubscriptionRepo.
func (s *SQLite) ListSubscriptions(ctx context.Context, filter domain.SubscriptionFilter) ([]domain.Subscription, error) {
	ctx, cancel := connCtx(ctx)
	defer cancel()

	w := newWhere(question)
	if filter.ChatID != 0 {
		w.add("chat_id", filter.ChatID)
	}
	if filter.TravelID != 0 {
		w.add("travel_id", filter.TravelID)
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT id, chat_id, travel_id FROM subscription`+w.sql()+` ORDER BY id`, w.args...)
	metrics.ObserveNetworkRequest("sqlite", "subscription_list", "subscription", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		if err := rows.Scan(&sub.ID, &sub.ChatID, &sub.TravelID); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ListTravels реализует domain.SubscriptionRepo.
func (s *SQLite) ListTravels(ctx context.Context, filter domain.TravelFilter) ([]domain.Travel, error) {
	ctx, cancel := connCtx(ctx)
	defer cancel()

	w := newWhere(question)
	w.applyTravelFilter("t", filter, question)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
SELECT t.id, t.origin, t.destination, t.departure_time
FROM travel t`+w.sql()+`
ORDER BY t.departure_time, t.id
`, w.args...)
	metrics.ObserveNetworkRequest("sqlite", "travel_list", "travel", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var travels []domain.Travel
	for rows.Next() {
		var (
			t   domain.Travel
			dep string
		)
		if err := rows.Scan(&t.ID, &t.Origin, &t.Destination, &dep); err != nil {
			return nil, err
		}
		if t.DepartureTime, err = parseDeparture(dep); err != nil {
			return nil, fmt.Errorf("время поездки %d: %w", t.ID, err)
		}
		travels = append(travels, t)
	}
	return travels, rows.Err()
}
