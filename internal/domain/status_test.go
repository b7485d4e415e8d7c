package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseStatus() DisruptionStatus {
	return DisruptionStatus{
		Origin:             "London Kings Cross",
		Destination:        "Cambridge",
		ServiceType:        "train",
		ScheduledDeparture: "12:23",
		EstimatedDeparture: OnTimeLabel,
		ScheduledArrival:   "13:10",
		EstimatedArrival:   OnTimeLabel,
	}
}

func TestDisruptionStatusFlags(t *testing.T) {
	onTime := baseStatus()
	assert.False(t, onTime.IsDelayed())
	assert.False(t, onTime.IsDisrupted())

	withReason := baseStatus()
	withReason.DelayReason = "signal failure"
	assert.True(t, withReason.IsDelayed())

	delayedLabel := baseStatus()
	delayedLabel.EstimatedDeparture = DelayedLabel
	assert.True(t, delayedLabel.IsDelayed())

	late := baseStatus()
	late.EstimatedDeparture = "12:31"
	assert.False(t, late.IsDelayed(), "прогноз сдвинулся без причины")
	assert.False(t, late.IsDisrupted())

	lateWithReason := late
	lateWithReason.DelayReason = "late running train"
	assert.True(t, lateWithReason.IsDelayed())

	cancelled := baseStatus()
	cancelled.Cancelled = true
	cancelled.EstimatedDeparture = "Cancelled"
	assert.False(t, cancelled.IsDelayed())
	assert.True(t, cancelled.IsDisrupted())
}

func TestDisruptionStatusEqual(t *testing.T) {
	a := baseStatus()
	b := baseStatus()
	assert.True(t, a.Equal(&b))

	b.DelayReason = "points failure"
	assert.False(t, a.Equal(&b))

	var none *DisruptionStatus
	assert.True(t, none.Equal(nil))
	assert.False(t, none.Equal(&a))
	assert.False(t, a.Equal(nil))
}
