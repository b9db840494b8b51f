package loom_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabs/roster-engine/loom"
	"github.com/rabs/roster-engine/loom/store"
)

// =============================================================================
// OVERLAP PREDICATE
// =============================================================================

func TestOverlaps(t *testing.T) {
	at := func(h int) time.Time {
		return time.Date(2025, time.January, 7, h, 0, 0, 0, time.UTC)
	}

	assert.True(t, loom.Overlaps(at(9), at(12), at(11), at(14)), "partial overlap")
	assert.True(t, loom.Overlaps(at(9), at(17), at(11), at(14)), "containment")
	assert.False(t, loom.Overlaps(at(9), at(12), at(12), at(14)), "touching boundaries do not overlap")
	assert.False(t, loom.Overlaps(at(9), at(12), at(14), at(16)), "disjoint")
}

// =============================================================================
// STAFF CANDIDATE SELECTION
// =============================================================================

func TestAvailableStaff_RanksByRemainingHours(t *testing.T) {
	// GIVEN two identical staff, one of whom already has a planned shift
	// this week
	mem := store.NewMemory()
	ctx := context.Background()
	for _, id := range []loom.StaffID{"s-busy", "s-free"} {
		require.NoError(t, mem.SaveStaff(ctx, loom.Staff{
			ID:              id,
			ContractedHours: 38,
			Availability:    allWeekAvailability(),
		}))
	}
	require.NoError(t, mem.SaveShift(ctx, loom.StaffShift{
		ID:         "sh-1",
		InstanceID: "inst-other",
		StaffID:    "s-busy",
		Role:       loom.RoleSupport,
		Start:      time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC),
		End:        time.Date(2025, time.January, 6, 15, 0, 0, 0, time.UTC),
		Status:     loom.ShiftPlanned,
	}))

	oracle := loom.Oracle{Store: mem}
	date := loom.NewDate(2025, time.January, 7)

	// WHEN ranking candidates for Tuesday of the same week
	candidates, err := oracle.AvailableStaff(ctx, date,
		loom.MustTimeOfDay("09:00"), loom.MustTimeOfDay("15:00"), nil)
	require.NoError(t, err)

	// THEN the least-loaded staff member comes first
	require.Len(t, candidates, 2)
	assert.Equal(t, loom.StaffID("s-free"), candidates[0].ID)
	assert.Equal(t, loom.StaffID("s-busy"), candidates[1].ID)
}

func TestAvailableStaff_FiltersRulesExclusionsAndBlackouts(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	date := loom.NewDate(2025, time.January, 7) // Tuesday

	// No availability rules at all.
	require.NoError(t, mem.SaveStaff(ctx, loom.Staff{ID: "s-norules", ContractedHours: 38}))

	// Rule covers the weekday but not the full span.
	require.NoError(t, mem.SaveStaff(ctx, loom.Staff{
		ID:              "s-short",
		ContractedHours: 38,
		Availability: []loom.AvailabilityRule{{
			Weekday: time.Tuesday,
			Start:   loom.MustTimeOfDay("09:00"),
			End:     loom.MustTimeOfDay("12:00"),
		}},
	}))

	// Fully available but explicitly excluded.
	require.NoError(t, mem.SaveStaff(ctx, loom.Staff{
		ID: "s-excluded", ContractedHours: 38, Availability: allWeekAvailability(),
	}))

	// Fully available but blacked out for the span.
	require.NoError(t, mem.SaveStaff(ctx, loom.Staff{
		ID: "s-blackout", ContractedHours: 38, Availability: allWeekAvailability(),
	}))
	require.NoError(t, mem.SaveUnavailability(ctx, loom.Unavailability{
		ID:       "u-1",
		Kind:     loom.KindStaff,
		EntityID: "s-blackout",
		Start:    time.Date(2025, time.January, 7, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2025, time.January, 8, 0, 0, 0, 0, time.UTC),
	}))

	// The one that should survive every filter.
	require.NoError(t, mem.SaveStaff(ctx, loom.Staff{
		ID: "s-ok", ContractedHours: 38, Availability: allWeekAvailability(),
	}))

	oracle := loom.Oracle{Store: mem}
	candidates, err := oracle.AvailableStaff(ctx, date,
		loom.MustTimeOfDay("09:00"), loom.MustTimeOfDay("15:00"),
		map[loom.StaffID]bool{"s-excluded": true})
	require.NoError(t, err)

	require.Len(t, candidates, 1)
	assert.Equal(t, loom.StaffID("s-ok"), candidates[0].ID)
}

func TestIsVehicleAvailable_BoundaryBlackout(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	date := loom.NewDate(2025, time.January, 7)

	// Blackout ends exactly when the span starts.
	require.NoError(t, mem.SaveUnavailability(ctx, loom.Unavailability{
		ID:       "u-1",
		Kind:     loom.KindVehicle,
		EntityID: "v-1",
		Start:    time.Date(2025, time.January, 7, 6, 0, 0, 0, time.UTC),
		End:      time.Date(2025, time.January, 7, 9, 0, 0, 0, time.UTC),
	}))

	oracle := loom.Oracle{Store: mem}

	free, err := oracle.IsVehicleAvailable(ctx, "v-1", date,
		loom.MustTimeOfDay("09:00"), loom.MustTimeOfDay("15:00"))
	require.NoError(t, err)
	assert.True(t, free, "touching blackout must not block")

	free, err = oracle.IsVehicleAvailable(ctx, "v-1", date,
		loom.MustTimeOfDay("08:00"), loom.MustTimeOfDay("15:00"))
	require.NoError(t, err)
	assert.False(t, free)
}
