package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/roomrelay/internal/domain"
)

func TestDayWindowCutover(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("Asia/Jerusalem")
	require.NoError(t, err)

	fake := Fake(time.Date(2025, 3, 10, 8, 59, 0, 0, loc))
	w := NewDayWindow(fake, loc, 9*time.Hour)

	assert.False(t, w.PastCutover())
	assert.Equal(t, domain.Date("2025-03-10"), w.Today())

	fake.Advance(time.Minute)
	assert.True(t, w.PastCutover())

	fake.Set(time.Date(2025, 3, 10, 23, 59, 0, 0, loc))
	assert.True(t, w.PastCutover())
}

func TestDayWindowUsesConfiguredZone(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("Asia/Jerusalem")
	require.NoError(t, err)

	// 22:30 UTC on the 10th is already the 11th in Jerusalem.
	fake := Fake(time.Date(2025, 3, 10, 22, 30, 0, 0, time.UTC))
	w := NewDayWindow(fake, loc, 9*time.Hour)

	assert.Equal(t, domain.Date("2025-03-11"), w.Today())
	assert.False(t, w.PastCutover())
}

func TestParseCutover(t *testing.T) {
	t.Parallel()

	d, err := ParseCutover("09:00")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour, d)

	d, err = ParseCutover("17:45")
	require.NoError(t, err)
	assert.Equal(t, 17*time.Hour+45*time.Minute, d)

	_, err = ParseCutover("9am")
	assert.Error(t, err)
}

func TestDayWindowCutoverIsWallClockOnDSTDays(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("Asia/Jerusalem")
	require.NoError(t, err)

	cases := []struct {
		name string
		at   time.Time
		past bool
	}{
		{"spring forward before", time.Date(2025, 3, 28, 8, 59, 0, 0, loc), false},
		{"spring forward after", time.Date(2025, 3, 28, 9, 30, 0, 0, loc), true},
		{"fall back before", time.Date(2025, 10, 26, 8, 15, 0, 0, loc), false},
		{"fall back after", time.Date(2025, 10, 26, 9, 0, 0, 0, loc), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := NewDayWindow(Fake(tc.at), loc, 9*time.Hour)
			assert.Equal(t, tc.past, w.PastCutover())

			day, past := w.Current()
			assert.Equal(t, domain.DateOf(tc.at), day)
			assert.Equal(t, tc.past, past)
		})
	}
}

func TestDayWindowCutoverWithMinutes(t *testing.T) {
	t.Parallel()

	fake := Fake(time.Date(2025, 3, 10, 6, 29, 0, 0, time.UTC))
	w := NewDayWindow(fake, time.UTC, 6*time.Hour+30*time.Minute)
	assert.False(t, w.PastCutover())

	fake.Advance(time.Minute)
	assert.True(t, w.PastCutover())
}
