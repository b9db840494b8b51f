package loom_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabs/roster-engine/loom"
)

// =============================================================================
// WINDOW COMPUTATION
// =============================================================================

func TestComputeWindow_Bounds(t *testing.T) {
	today := loom.NewDate(2025, time.January, 6)

	// GIVEN the allowed window range 1-16 weeks
	// WHEN computing at the edges
	// THEN both extremes are accepted and out-of-range sizes are rejected

	w, err := loom.ComputeWindow(today, 1)
	require.NoError(t, err)
	assert.Equal(t, loom.NewDate(2025, time.January, 13), w.End)

	w, err = loom.ComputeWindow(today, 16)
	require.NoError(t, err)
	assert.Equal(t, loom.NewDate(2025, time.April, 28), w.End)

	_, err = loom.ComputeWindow(today, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, loom.ErrInvalidWindow))

	_, err = loom.ComputeWindow(today, 17)
	require.Error(t, err)
	assert.True(t, errors.Is(err, loom.ErrInvalidWindow))
}

func TestWindow_Contains_HalfOpen(t *testing.T) {
	w := loom.Window{
		Start: loom.NewDate(2025, time.January, 6),
		End:   loom.NewDate(2025, time.February, 3),
	}

	assert.True(t, w.Contains(loom.NewDate(2025, time.January, 6)), "start is inside")
	assert.True(t, w.Contains(loom.NewDate(2025, time.February, 2)))
	assert.False(t, w.Contains(loom.NewDate(2025, time.February, 3)), "end is outside")
	assert.False(t, w.Contains(loom.NewDate(2025, time.January, 5)))
}

// =============================================================================
// REPEAT-RULE EXPANSION
// =============================================================================

func TestExpandRule_Weekly(t *testing.T) {
	// GIVEN a weekly Tuesday program starting 2025-01-01
	p := loom.Program{
		StartDate:  loom.NewDate(2025, time.January, 1),
		Repeat:     loom.RepeatWeekly,
		DaysOfWeek: []time.Weekday{time.Tuesday},
	}

	// WHEN expanding over an 8-week window from Monday 2025-01-06
	dates := loom.ExpandRule(p, loom.NewDate(2025, time.January, 6), loom.NewDate(2025, time.March, 3))

	// THEN every Tuesday in the window appears exactly once
	want := []loom.Date{
		loom.NewDate(2025, time.January, 7),
		loom.NewDate(2025, time.January, 14),
		loom.NewDate(2025, time.January, 21),
		loom.NewDate(2025, time.January, 28),
		loom.NewDate(2025, time.February, 4),
		loom.NewDate(2025, time.February, 11),
		loom.NewDate(2025, time.February, 18),
		loom.NewDate(2025, time.February, 25),
	}
	assert.Equal(t, want, dates)
}

func TestExpandRule_Fortnightly(t *testing.T) {
	// GIVEN a fortnightly Monday program anchored at 2025-01-06
	p := loom.Program{
		StartDate:  loom.NewDate(2025, time.January, 6),
		Repeat:     loom.RepeatFortnightly,
		DaysOfWeek: []time.Weekday{time.Monday},
	}

	// WHEN expanding over 8 weeks
	dates := loom.ExpandRule(p, loom.NewDate(2025, time.January, 6), loom.NewDate(2025, time.March, 3))

	// THEN only even weeks counted from the anchor match
	want := []loom.Date{
		loom.NewDate(2025, time.January, 6),
		loom.NewDate(2025, time.January, 20),
		loom.NewDate(2025, time.February, 3),
		loom.NewDate(2025, time.February, 17),
	}
	assert.Equal(t, want, dates)
}

func TestExpandRule_Monthly(t *testing.T) {
	// GIVEN a monthly program anchored on Monday the 6th
	p := loom.Program{
		StartDate:  loom.NewDate(2025, time.January, 6),
		Repeat:     loom.RepeatMonthly,
		DaysOfWeek: []time.Weekday{time.Monday},
	}

	// WHEN expanding across two months
	dates := loom.ExpandRule(p, loom.NewDate(2025, time.January, 1), loom.NewDate(2025, time.March, 1))

	// THEN 2025-02-06 (a Thursday) is skipped; only the weekday-matching
	// anchor day counts
	assert.Equal(t, []loom.Date{loom.NewDate(2025, time.January, 6)}, dates)
}

func TestExpandRule_None(t *testing.T) {
	p := loom.Program{
		StartDate:  loom.NewDate(2025, time.January, 15),
		Repeat:     loom.RepeatNone,
		DaysOfWeek: []time.Weekday{time.Wednesday},
	}

	dates := loom.ExpandRule(p, loom.NewDate(2025, time.January, 6), loom.NewDate(2025, time.March, 3))
	assert.Equal(t, []loom.Date{loom.NewDate(2025, time.January, 15)}, dates)

	// Outside the range: nothing.
	dates = loom.ExpandRule(p, loom.NewDate(2025, time.February, 1), loom.NewDate(2025, time.March, 1))
	assert.Empty(t, dates)
}

func TestExpandRule_RespectsProgramEndDate(t *testing.T) {
	end := loom.NewDate(2025, time.January, 21)
	p := loom.Program{
		StartDate:  loom.NewDate(2025, time.January, 1),
		EndDate:    &end,
		Repeat:     loom.RepeatWeekly,
		DaysOfWeek: []time.Weekday{time.Tuesday},
	}

	dates := loom.ExpandRule(p, loom.NewDate(2025, time.January, 6), loom.NewDate(2025, time.March, 3))

	want := []loom.Date{
		loom.NewDate(2025, time.January, 7),
		loom.NewDate(2025, time.January, 14),
		loom.NewDate(2025, time.January, 21),
	}
	assert.Equal(t, want, dates)
}
