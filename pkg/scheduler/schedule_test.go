package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/pkg/scheduler"
)

func TestEvery(t *testing.T) {
	t.Parallel()
	from := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s := scheduler.Every(15 * time.Minute)
	assert.Equal(t, from.Add(15*time.Minute), s.Next(from))
	assert.Equal(t, "every 15m0s", s.String())
}

func TestDailyAt(t *testing.T) {
	t.Parallel()
	s := scheduler.DailyAt(0, 5)

	before := time.Date(2024, 3, 1, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 5, 0, 0, time.UTC), s.Next(before))

	after := time.Date(2024, 3, 1, 0, 5, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 5, 0, 0, time.UTC), s.Next(after))

	assert.Equal(t, "daily at 00:05 UTC", s.String())
}

func TestParse(t *testing.T) {
	t.Parallel()

	s, err := scheduler.Parse("1h")
	require.NoError(t, err)
	assert.Equal(t, "every 1h0m0s", s.String())

	s, err = scheduler.Parse("03:30")
	require.NoError(t, err)
	assert.Equal(t, "daily at 03:30 UTC", s.String())

	for _, bad := range []string{"", "-1m", "25:00", "12:61", "soon"} {
		_, err := scheduler.Parse(bad)
		assert.ErrorIs(t, err, scheduler.ErrInvalidSchedule, bad)
	}
}
