package repo

import (
	"fmt"
	"strings"

	"train-check-bot/internal/domain"
)

// placeholder возвращает плейсхолдер для n-го аргумента (с единицы).
type placeholder func(n int) string

func dollar(n int) string     { return fmt.Sprintf("$%d", n) }
func question(int) string     { return "?" }
func dollarTime(n int) string { return fmt.Sprintf("$%d::time", n) }

// whereBuilder собирает условия WHERE и аргументы к ним.
type whereBuilder struct {
	ph    placeholder
	conds []string
	args  []any
}

func newWhere(ph placeholder) *whereBuilder {
	return &whereBuilder{ph: ph}
}

func (w *whereBuilder) add(column string, value any) {
	w.addWith(column, value, w.ph)
}

func (w *whereBuilder) addWith(column string, value any, ph placeholder) {
	w.args = append(w.args, value)
	w.conds = append(w.conds, fmt.Sprintf("%s = %s", column, ph(len(w.args))))
}

func (w *whereBuilder) raw(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *whereBuilder) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// applyTravelFilter добавляет условия по полям поездки с псевдонимом таблицы alias.
func (w *whereBuilder) applyTravelFilter(alias string, filter domain.TravelFilter, timePH placeholder) {
	if filter.ID != 0 {
		w.add(alias+".id", filter.ID)
	}
	if filter.Origin != "" {
		w.add(alias+".origin", domain.NormalizeStation(filter.Origin))
	}
	if filter.Destination != "" {
		w.add(alias+".destination", domain.NormalizeStation(filter.Destination))
	}
	if filter.DepartureTime != nil {
		w.addWith(alias+".departure_time", filter.DepartureTime.String(), timePH)
	}
	if filter.OnlyActive {
		w.raw(fmt.Sprintf("EXISTS (SELECT 1 FROM subscription s WHERE s.travel_id = %s.id)", alias))
	}
}

func hasTravelConditions(filter domain.TravelFilter) bool {
	return filter.ID != 0 || filter.Origin != "" || filter.Destination != "" || filter.DepartureTime != nil || filter.OnlyActive
}

func parseDeparture(raw string) (domain.TimeOfDay, error) {
	// SQLite может вернуть время с секундами, если строку вставили вручную.
	if len(raw) > 5 {
		raw = raw[:5]
	}
	return domain.ParseTimeOfDay(raw)
}
