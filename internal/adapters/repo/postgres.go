package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"train-check-bot/internal/domain"
	"train-check-bot/internal/infra/metrics"
)

// Postgres реализует хранилище подписок на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.SubscriptionRepo = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// GetOrCreateTravel реализует domain.SubscriptionRepo.
func (p *Postgres) GetOrCreateTravel(ctx context.Context, origin, destination string, departure domain.TimeOfDay) (domain.Travel, error) {
	ctx, cancel := connCtx(ctx)
	defer cancel()

	travel := domain.Travel{
		Origin:        domain.NormalizeStation(origin),
		Destination:   domain.NormalizeStation(destination),
		DepartureTime: departure,
	}

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO travel (origin, destination, departure_time)
VALUES ($1, $2, $3::time)
ON CONFLICT (origin, destination, departure_time) DO NOTHING
RETURNING id
`, travel.Origin, travel.Destination, departure.String()).Scan(&travel.ID)
	metrics.ObserveNetworkRequest("postgres", "travel_insert", "travel", start, err)
	if err == nil {
		return travel, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Travel{}, fmt.Errorf("создание поездки: %w", err)
	}

	// Поездка уже существует: конфликт разрешается чтением.
	start = time.Now()
	err = p.pool.QueryRow(ctx, `
SELECT id FROM travel WHERE origin=$1 AND destination=$2 AND departure_time=$3::time
`, travel.Origin, travel.Destination, departure.String()).Scan(&travel.ID)
	metrics.ObserveNetworkRequest("postgres", "travel_get", "travel", start, err)
	if err != nil {
		return domain.Travel{}, fmt.Errorf("чтение поездки: %w", err)
	}
	return travel, nil
}

// AddSubscription реализует domain.SubscriptionRepo.
func (p *Postgres) AddSubscription(ctx context.Context, chatID int64, travel domain.Travel) error {
	ctx, cancel := connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO subscription (chat_id, travel_id)
VALUES ($1, $2)
ON CONFLICT (chat_id, travel_id) DO NOTHING
`, chatID, travel.ID)
	metrics.ObserveNetworkRequest("postgres", "subscription_insert", "subscription", start, err)
	return err
}

// RemoveSubscriptions реализует domain.SubscriptionRepo.
func (p *Postgres) RemoveSubscriptions(ctx context.Context, chatID int64, filter domain.TravelFilter) (int, error) {
	ctx, cancel := connCtx(ctx)
	defer cancel()

	filter.OnlyActive = false
	w := newWhere(dollar)
	w.args = append(w.args, chatID)
	w.applyTravelFilter("t", filter, dollarTime)

	query := `DELETE FROM subscription WHERE chat_id = $1`
	if hasTravelConditions(filter) {
		query += ` AND travel_id IN (SELECT t.id FROM travel t` + w.sql() + `)`
	}

	start := time.Now()
	res, err := p.pool.Exec(ctx, query, w.args...)
	metrics.ObserveNetworkRequest("postgres", "subscription_delete", "subscription", start, err)
	if err != nil {
		return 0, err
	}
	return int(res.RowsAffected()), nil
}

// ListSubscriptions реализует domain.SubscriptionRepo.
func (p *Postgres) ListSubscriptions(ctx context.Context, filter domain.SubscriptionFilter) ([]domain.Subscription, error) {
	ctx, cancel := connCtx(ctx)
	defer cancel()

	w := newWhere(dollar)
	if filter.ChatID != 0 {
		w.add("chat_id", filter.ChatID)
	}
	if filter.TravelID != 0 {
		w.add("travel_id", filter.TravelID)
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT id, chat_id, travel_id FROM subscription`+w.sql()+` ORDER BY id`, w.args...)
	metrics.ObserveNetworkRequest("postgres", "subscription_list", "subscription", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var s domain.Subscription
		if err := rows.Scan(&s.ID, &s.ChatID, &s.TravelID); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// ListTravels реализует domain.SubscriptionRepo.
func (p *Postgres) ListTravels(ctx context.Context, filter domain.TravelFilter) ([]domain.Travel, error) {
	ctx, cancel := connCtx(ctx)
	defer cancel()

	w := newWhere(dollar)
	w.applyTravelFilter("t", filter, dollarTime)

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT t.id, t.origin, t.destination, to_char(t.departure_time, 'HH24:MI')
FROM travel t`+w.sql()+`
ORDER BY t.departure_time, t.id
`, w.args...)
	metrics.ObserveNetworkRequest("postgres", "travel_list", "travel", start, err)
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
