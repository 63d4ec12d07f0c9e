package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	s, err := Parse("30 2 * * *", "Asia/Bangkok")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Bangkok", s.Location.String())

	s, err = Parse("0 * * * *", "")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, s.Location)

	// optional leading seconds field
	_, err = Parse("0 30 2 * * *", "")
	require.NoError(t, err)

	_, err = Parse("not cron", "")
	assert.Error(t, err)

	_, err = Parse("0 * * * *", "Mars/Olympus")
	assert.Error(t, err)
}

func TestNext(t *testing.T) {
	s, err := Parse("30 2 * * *", "UTC")
	require.NoError(t, err)

	from := time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 10, 2, 30, 0, 0, time.UTC), s.Next(from))

	// strictly after: a fire time steps to the next day
	at := time.Date(2024, 3, 10, 2, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 11, 2, 30, 0, 0, time.UTC), s.Next(at))
}

func TestPrev(t *testing.T) {
	s, err := Parse("30 2 * * *", "UTC")
	require.NoError(t, err)

	from := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 10, 2, 30, 0, 0, time.UTC), s.Prev(from))

	// strictly before: at the fire time itself, the previous day's fire wins
	at := time.Date(2024, 3, 10, 2, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 9, 2, 30, 0, 0, time.UTC), s.Prev(at))

	// monthly schedule: the previous fire is found past the daily window
	s, err = Parse("0 0 1 * *", "UTC")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		s.Prev(time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)))
}

func TestMatches(t *testing.T) {
	s, err := Parse("*/15 * * * *", "UTC")
	require.NoError(t, err)

	assert.True(t, s.Matches(time.Date(2024, 3, 10, 4, 30, 0, 0, time.UTC)))
	assert.True(t, s.Matches(time.Date(2024, 3, 10, 4, 30, 59, 0, time.UTC)), "seconds are truncated")
	assert.False(t, s.Matches(time.Date(2024, 3, 10, 4, 31, 0, 0, time.UTC)))
}

func TestNextAcrossDSTSpringForward(t *testing.T) {
	// America/New_York skips 02:00-03:00 on 2024-03-10.
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	s, err := Parse("30 2 * * *", "America/New_York")
	require.NoError(t, err)

	from := time.Date(2024, 3, 10, 1, 0, 0, 0, loc)
	next := s.Next(from)
	// 02:30 does not exist that day; the schedule fires the next day at the
	// correct wall-clock time.
	assert.Equal(t, time.Date(2024, 3, 11, 2, 30, 0, 0, loc), next)

	// A schedule outside the gap keeps its wall-clock time across the shift.
	s, err = Parse("0 8 * * *", "America/New_York")
	require.NoError(t, err)
	next = s.Next(from)
	assert.Equal(t, time.Date(2024, 3, 10, 8, 0, 0, 0, loc), next)
	assert.Equal(t, 8, next.Hour())
}

func TestNextAcrossDSTFallBack(t *testing.T) {
	// America/New_York repeats 01:00-02:00 on 2024-11-03.
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	s, err := Parse("0 8 * * *", "America/New_York")
	require.NoError(t, err)

	from := time.Date(2024, 11, 3, 0, 30, 0, 0, loc)
	next := s.Next(from)
	assert.Equal(t, 8, next.Hour(), "wall clock, not UTC offset drift")
	assert.Equal(t, time.Date(2024, 11, 3, 8, 0, 0, 0, loc).Unix(), next.Unix())
}
