package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	tm, err := ParseTimeOfDay(" 09:05 ")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 9, Minute: 5}, tm)
	assert.Equal(t, "09:05", tm.String())
}

func TestParseTimeOfDayInvalid(t *testing.T) {
	for _, input := range []string{"9-15", "25:00", "", "12:60"} {
		_, err := ParseTimeOfDay(input)
		require.Error(t, err, input)
		assert.True(t, errors.Is(err, ErrInvalidTime))
	}
}

func TestTimeOfDayAddWrapsAroundMidnight(t *testing.T) {
	assert.Equal(t, TimeOfDay{Hour: 11, Minute: 23}, TimeOfDay{Hour: 12, Minute: 23}.Add(-time.Hour))
	assert.Equal(t, TimeOfDay{Hour: 23, Minute: 30}, TimeOfDay{Hour: 0, Minute: 30}.Add(-time.Hour))
	assert.Equal(t, TimeOfDay{Hour: 0, Minute: 10}, TimeOfDay{Hour: 23, Minute: 50}.Add(20*time.Minute))
}

func TestTimeOfDayNext(t *testing.T) {
	loc := time.UTC
	dep := TimeOfDay{Hour: 12, Minute: 23}

	before := time.Date(2024, 3, 4, 11, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 3, 4, 12, 23, 0, 0, loc), dep.Next(before))

	exact := time.Date(2024, 3, 4, 12, 23, 0, 0, loc)
	assert.Equal(t, exact, dep.Next(exact))

	after := time.Date(2024, 3, 4, 13, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 3, 5, 12, 23, 0, 0, loc), dep.Next(after))
}

func TestExactTravelNormalizesStations(t *testing.T) {
	f := ExactTravel(" kgx", "cbg ", TimeOfDay{Hour: 12, Minute: 23})
	assert.Equal(t, "KGX", f.Origin)
	assert.Equal(t, "CBG", f.Destination)
	require.NotNil(t, f.DepartureTime)
	assert.Equal(t, "12:23", f.DepartureTime.String())
	assert.False(t, f.OnlyActive)
}
