package notify

import (
	"fmt"
	"strings"

	"train-check-bot/internal/domain"
)

// FormatDisruption формирует текст предупреждения о задержке или отмене рейса.
func FormatDisruption(s domain.DisruptionStatus) string {
	var b strings.Builder
	if s.IsCancelled() {
		b.WriteString("WARNING: " + reasonOr(s.CancelReason, "CANCEL") + "\n")
	}
	if s.IsDelayed() {
		b.WriteString("WARNING: " + reasonOr(s.DelayReason, "DELAY") + "\n")
	}
	b.WriteString(FormatTravelInfo(s))
	return strings.TrimRight(b.String(), "\n")
}

// FormatTravelInfo описывает рейс без предупреждений.
func FormatTravelInfo(s domain.DisruptionStatus) string {
	expected := strings.TrimSpace(s.EstimatedDeparture)
	if expected == "" {
		expected = "unknown"
	}
	return fmt.Sprintf("Travel info:\n%s %s - %s\nScheduled at %s (expected %s)\n",
		title(s.ServiceType), s.Origin, s.Destination, s.ScheduledDeparture, expected)
}

// FormatNoInfo сообщает, что рейс пропал из источника.
func FormatNoInfo(task domain.PollTask) string {
	return fmt.Sprintf("Travel from %s to %s at %s was cancelled. No further information.",
		task.Origin, task.Destination, task.DepartureTime)
}

func reasonOr(reason, kind string) string {
	if r := strings.TrimSpace(reason); r != "" {
		return r
	}
	return kind + ", no info."
}

func title(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "Train"
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
