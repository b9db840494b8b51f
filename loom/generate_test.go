package loom_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabs/roster-engine/billing"
	"github.com/rabs/roster-engine/loom"
	"github.com/rabs/roster-engine/loom/store"
)

// =============================================================================
// TEST FIXTURE
// =============================================================================
// Shared by the other loom tests. The clock is fixed to Monday 2025-01-06 and
// advances one second per reading so created_at ordering is deterministic.

func newTestEngine() (*loom.Engine, *store.Memory) {
	mem := store.NewMemory()
	e := loom.NewEngine(mem)
	clock := time.Date(2025, time.January, 6, 8, 0, 0, 0, time.UTC)
	e.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return e, mem
}

func weeklyTuesdayProgram(id string) loom.Program {
	return loom.Program{
		ID:           loom.ProgramID(id),
		Name:         "Tuesday Centre Group",
		StartDate:    loom.NewDate(2025, time.January, 1),
		Repeat:       loom.RepeatWeekly,
		DaysOfWeek:   []time.Weekday{time.Tuesday},
		StartTime:    loom.MustTimeOfDay("09:00"),
		EndTime:      loom.MustTimeOfDay("15:00"),
		CentreBased:  true,
		StaffingMode: loom.StaffingAuto,
		Active:       true,
	}
}

func transportTuesdayProgram(id string) loom.Program {
	p := weeklyTuesdayProgram(id)
	p.Name = "Tuesday Outing"
	p.CentreBased = false
	p.Slots = []loom.SlotTemplate{
		{Label: "Morning pickup", Start: loom.MustTimeOfDay("08:00"), End: loom.MustTimeOfDay("09:00")},
		{Label: "Activity", Start: loom.MustTimeOfDay("09:00"), End: loom.MustTimeOfDay("14:00")},
		{Label: "Drop off", Start: loom.MustTimeOfDay("14:00"), End: loom.MustTimeOfDay("15:00")},
	}
	return p
}

func seedParticipants(t *testing.T, mem *store.Memory, programID loom.ProgramID, n int) []loom.ParticipantID {
	t.Helper()
	ctx := context.Background()
	ids := make([]loom.ParticipantID, 0, n)
	for i := 1; i <= n; i++ {
		pid := loom.ParticipantID(fmt.Sprintf("p-%d", i))
		require.NoError(t, mem.SaveParticipant(ctx, loom.Participant{ID: pid, Name: fmt.Sprintf("Participant %d", i)}))
		require.NoError(t, mem.SaveEnrollment(ctx, loom.Enrollment{
			ID:            loom.EnrollmentID(fmt.Sprintf("en-%d", i)),
			ParticipantID: pid,
			ProgramID:     programID,
			StartDate:     loom.NewDate(2025, time.January, 1),
			Active:        true,
			Billing: []billing.Code{{
				Code:       "04_104_0125_6_1",
				HourlyRate: decimal.RequireFromString("65.47"),
				Hours:      decimal.NewFromInt(6),
			}},
		}))
		ids = append(ids, pid)
	}
	return ids
}

func allWeekAvailability() []loom.AvailabilityRule {
	rules := make([]loom.AvailabilityRule, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		rules = append(rules, loom.AvailabilityRule{
			Weekday: d,
			Start:   loom.MustTimeOfDay("07:00"),
			End:     loom.MustTimeOfDay("17:00"),
		})
	}
	return rules
}

func seedStaff(t *testing.T, mem *store.Memory, n int) []loom.StaffID {
	t.Helper()
	ctx := context.Background()
	ids := make([]loom.StaffID, 0, n)
	for i := 1; i <= n; i++ {
		sid := loom.StaffID(fmt.Sprintf("s-%d", i))
		require.NoError(t, mem.SaveStaff(ctx, loom.Staff{
			ID:              sid,
			Name:            fmt.Sprintf("Staff %d", i),
			ContractedHours: 38,
			Availability:    allWeekAvailability(),
		}))
		ids = append(ids, sid)
	}
	return ids
}

func seedVehicles(t *testing.T, mem *store.Memory, capacities ...int) []loom.VehicleID {
	t.Helper()
	ctx := context.Background()
	ids := make([]loom.VehicleID, 0, len(capacities))
	for i, c := range capacities {
		vid := loom.VehicleID(fmt.Sprintf("v-%d", i+1))
		require.NoError(t, mem.SaveVehicle(ctx, loom.Vehicle{
			ID:       vid,
			Name:     fmt.Sprintf("Bus %d", i+1),
			Capacity: c,
		}))
		ids = append(ids, vid)
	}
	return ids
}

func allInstances(t *testing.T, mem *store.Memory) []loom.Instance {
	t.Helper()
	instances, err := mem.ListInstances(context.Background(),
		loom.NewDate(2025, time.January, 1), loom.NewDate(2026, time.January, 1))
	require.NoError(t, err)
	return instances
}

// generateOne seeds a program with participants and generates a single
// Tuesday instance to run allocation steps against.
func generateOne(t *testing.T, e *loom.Engine, mem *store.Memory, p loom.Program, participants int) loom.Instance {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mem.SaveProgram(ctx, p))
	seedParticipants(t, mem, p.ID, participants)

	res := e.GenerateWindow(ctx, 1)
	require.True(t, res.Success, res.Message)

	instances := allInstances(t, mem)
	require.Len(t, instances, 1)
	return instances[0]
}

// =============================================================================
// WINDOW GENERATION
// =============================================================================

func TestGenerateWindow_WeeklyProgram(t *testing.T) {
	// GIVEN an active weekly Tuesday program with 3 enrolled participants
	// WHEN generating an 8-week window from Monday 2025-01-06
	// THEN one pending instance exists per Tuesday, capacity 3

	e, mem := newTestEngine()
	ctx := context.Background()
	p := weeklyTuesdayProgram("prog-1")
	require.NoError(t, mem.SaveProgram(ctx, p))
	seedParticipants(t, mem, p.ID, 3)

	res := e.GenerateWindow(ctx, 8)
	require.True(t, res.Success, res.Message)

	summary := res.Data.(loom.GenerationSummary)
	assert.Equal(t, 8, summary.Created)

	instances := allInstances(t, mem)
	require.Len(t, instances, 8)
	for _, inst := range instances {
		assert.Equal(t, time.Tuesday, inst.Date.Weekday())
		assert.Equal(t, loom.InstancePending, inst.Status)
		assert.Equal(t, 3, inst.Capacity)
		assert.Equal(t, loom.MustTimeOfDay("09:00"), inst.StartTime)
	}

	// Settings are persisted alongside.
	settings, err := mem.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, settings.WindowWeeks)
}

func TestGenerateWindow_SecondPassIsIdempotent(t *testing.T) {
	e, mem := newTestEngine()
	ctx := context.Background()
	require.NoError(t, mem.SaveProgram(ctx, weeklyTuesdayProgram("prog-1")))

	first := e.GenerateWindow(ctx, 8)
	require.True(t, first.Success)
	firstIDs := map[loom.InstanceID]bool{}
	for _, inst := range allInstances(t, mem) {
		firstIDs[inst.ID] = true
	}

	// WHEN generating the same window again
	second := e.GenerateWindow(ctx, 8)
	require.True(t, second.Success)

	// THEN nothing new is created and existing instances are untouched
	assert.Equal(t, 0, second.Data.(loom.GenerationSummary).Created)
	instances := allInstances(t, mem)
	require.Len(t, instances, 8)
	for _, inst := range instances {
		assert.True(t, firstIDs[inst.ID], "instance %s replaced by regeneration", inst.ID)
	}
}

func TestGenerateWindow_RejectsOutOfRangeSize(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()

	for _, weeks := range []int{0, 17, -3} {
		res := e.GenerateWindow(ctx, weeks)
		assert.False(t, res.Success, "weeks=%d accepted", weeks)
		assert.Contains(t, res.Error, "out of range")
	}
}

func TestGenerateWindow_CreatesSlotCardsAndPlaceholders(t *testing.T) {
	// GIVEN a transporting program with pickup/activity/dropoff slots
	e, mem := newTestEngine()
	ctx := context.Background()
	p := transportTuesdayProgram("prog-t")
	require.NoError(t, mem.SaveProgram(ctx, p))

	res := e.GenerateWindow(ctx, 1)
	require.True(t, res.Success)
	instances := allInstances(t, mem)
	require.Len(t, instances, 1)
	inst := instances[0]

	// THEN each slot template became a classified card
	cards, err := mem.SlotCardsForInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, cards, 3)
	types := map[loom.SlotType]int{}
	for _, c := range cards {
		types[c.Type]++
	}
	assert.Equal(t, 1, types[loom.SlotPickup])
	assert.Equal(t, 1, types[loom.SlotActivity])
	assert.Equal(t, 1, types[loom.SlotDropoff])

	// AND the transport placeholder run exists, unassigned
	runs, err := mem.RunsForInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Empty(t, runs[0].VehicleID)
}

func TestGenerateWindow_ManualStaffingGetsLeadPlaceholder(t *testing.T) {
	e, mem := newTestEngine()
	ctx := context.Background()
	p := weeklyTuesdayProgram("prog-m")
	p.StaffingMode = loom.StaffingManual
	require.NoError(t, mem.SaveProgram(ctx, p))

	res := e.GenerateWindow(ctx, 1)
	require.True(t, res.Success)
	inst := allInstances(t, mem)[0]

	shifts, err := mem.ShiftsForInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, shifts, 1)
	assert.Empty(t, shifts[0].StaffID, "placeholder must be unassigned")
	assert.Equal(t, loom.RoleLead, shifts[0].Role)
}

// =============================================================================
// WINDOW RESIZE
// =============================================================================

func TestResizeWindow_ShrinkThenGrowPreservesRetainedInstances(t *testing.T) {
	e, mem := newTestEngine()
	ctx := context.Background()
	require.NoError(t, mem.SaveProgram(ctx, weeklyTuesdayProgram("prog-1")))

	require.True(t, e.GenerateWindow(ctx, 8).Success)
	var janID loom.InstanceID
	for _, inst := range allInstances(t, mem) {
		if inst.Date.Equal(loom.NewDate(2025, time.January, 7)) {
			janID = inst.ID
		}
	}
	require.NotEmpty(t, janID)

	// WHEN shrinking to 4 weeks
	shrink := e.ResizeWindow(ctx, 4)
	require.True(t, shrink.Success, shrink.Message)

	// THEN the February Tuesdays are gone, January retained
	assert.Equal(t, 4, shrink.Data.(loom.GenerationSummary).Deleted)
	assert.Len(t, allInstances(t, mem), 4)

	settings, _ := mem.GetSettings(ctx)
	assert.Equal(t, 4, settings.WindowWeeks)

	// WHEN growing back to 8 weeks
	grow := e.ResizeWindow(ctx, 8)
	require.True(t, grow.Success, grow.Message)

	// THEN only the tail was generated; the retained January instance kept
	// its identity
	assert.Equal(t, 4, grow.Data.(loom.GenerationSummary).Created)
	instances := allInstances(t, mem)
	assert.Len(t, instances, 8)
	found := false
	for _, inst := range instances {
		if inst.ID == janID {
			found = true
		}
	}
	assert.True(t, found, "retained instance was regenerated instead of preserved")
}

// =============================================================================
// PROGRAM REGENERATION
// =============================================================================

func TestRegenerateProgram_DeactivationRemovesFutureInstances(t *testing.T) {
	e, mem := newTestEngine()
	ctx := context.Background()
	p := weeklyTuesdayProgram("prog-1")
	require.NoError(t, mem.SaveProgram(ctx, p))
	require.True(t, e.GenerateWindow(ctx, 4).Success)
	require.Len(t, allInstances(t, mem), 4)

	// WHEN the program is deactivated and regenerated
	p.Active = false
	require.NoError(t, mem.SaveProgram(ctx, p))
	res := e.RegenerateProgram(ctx, p.ID)
	require.True(t, res.Success, res.Message)

	// THEN the window no longer carries its instances
	summary := res.Data.(loom.GenerationSummary)
	assert.Equal(t, 4, summary.Deleted)
	assert.Equal(t, 0, summary.Created)
	assert.Empty(t, allInstances(t, mem))
}

func TestRegenerateProgram_UnknownProgram(t *testing.T) {
	e, _ := newTestEngine()
	res := e.RegenerateProgram(context.Background(), "missing")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not found")
}
