package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/recrank/internal/domain"
)

func TestNextFire_Daily(t *testing.T) {
	from := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	cadence := domain.Cadence{Daily: &domain.ClockTime{Hour: 2, Minute: 0}}

	next := nextFire(cadence, from)
	assert.Equal(t, time.Date(2026, 3, 6, 2, 0, 0, 0, time.UTC), next)
}

func TestNextFire_Daily_LaterTodayIfNotYetPassed(t *testing.T) {
	from := time.Date(2026, 3, 5, 1, 0, 0, 0, time.UTC)
	cadence := domain.Cadence{Daily: &domain.ClockTime{Hour: 2, Minute: 0}}

	next := nextFire(cadence, from)
	assert.Equal(t, time.Date(2026, 3, 5, 2, 0, 0, 0, time.UTC), next)
}

func TestNextFire_Hourly(t *testing.T) {
	from := time.Date(2026, 3, 5, 10, 45, 0, 0, time.UTC)
	minute := 30
	cadence := domain.Cadence{Hourly: &minute}

	next := nextFire(cadence, from)
	assert.Equal(t, time.Date(2026, 3, 5, 11, 30, 0, 0, time.UTC), next)
}

func TestNextFire_Weekly(t *testing.T) {
	from := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC) // Thursday
	cadence := domain.Cadence{Weekly: &domain.WeeklyTime{Weekday: time.Monday, At: domain.ClockTime{Hour: 3}}}

	next := nextFire(cadence, from)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.True(t, next.After(from))
}

func TestNextFire_Interval(t *testing.T) {
	from := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	cadence := domain.Cadence{Interval: 5 * time.Minute}

	next := nextFire(cadence, from)
	assert.Equal(t, from.Add(5*time.Minute), next)
}
