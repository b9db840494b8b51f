package loom_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabs/roster-engine/loom"
	"github.com/rabs/roster-engine/loom/store"
)

// =============================================================================
// PARTICIPANT CANCELLATION
// =============================================================================

// fullyStaffed runs the participant and staff steps against a generated
// instance.
func fullyStaffed(t *testing.T, e *loom.Engine, mem *store.Memory, inst loom.Instance) []loom.Allocation {
	t.Helper()
	ctx := context.Background()
	require.True(t, e.AllocateParticipants(ctx, inst.ID).Success)
	require.True(t, e.AssignStaff(ctx, inst.ID).Success)
	allocations, err := mem.AllocationsForInstance(ctx, inst.ID)
	require.NoError(t, err)
	return allocations
}

func TestHandleParticipantCancellation_TrimsNewestSupportOnly(t *testing.T) {
	// GIVEN 6 planned participants staffed at 1 lead + 2 support
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, weeklyTuesdayProgram("prog-1"), 6)
	seedStaff(t, mem, 3)
	allocations := fullyStaffed(t, e, mem, inst)
	require.Len(t, allocations, 6)

	before, _ := mem.ShiftsForInstance(ctx, inst.ID)
	require.Len(t, before, 3)
	var newestSupport loom.StaffShift
	for _, sh := range before {
		if sh.Role == loom.RoleSupport && sh.CreatedAt.After(newestSupport.CreatedAt) {
			newestSupport = sh
		}
	}

	// WHEN one participant cancels (5 planned: requirement drops to 2)
	res := e.HandleParticipantCancellation(ctx, allocations[0].ID, loom.CancellationNormal)
	require.True(t, res.Success, res.Message)

	// THEN the allocation is cancelled, never deleted
	remaining, _ := mem.AllocationsForInstance(ctx, inst.ID)
	require.Len(t, remaining, 6)
	var cancelled *loom.Allocation
	for i := range remaining {
		if remaining[i].ID == allocations[0].ID {
			cancelled = &remaining[i]
		}
	}
	require.NotNil(t, cancelled)
	assert.Equal(t, loom.AllocationCancelled, cancelled.Status)
	assert.Equal(t, loom.CancellationNormal, cancelled.Cancellation)

	// AND only the newest support shift was trimmed
	after, _ := mem.ShiftsForInstance(ctx, inst.ID)
	require.Len(t, after, 2)
	roles := map[loom.ShiftRole]int{}
	for _, sh := range after {
		assert.NotEqual(t, newestSupport.ID, sh.ID, "newest support should have been the one trimmed")
		roles[sh.Role]++
	}
	assert.Equal(t, 1, roles[loom.RoleLead])
	assert.Equal(t, 1, roles[loom.RoleSupport])
}

func TestHandleParticipantCancellation_NoTrimWhenRatioHolds(t *testing.T) {
	// GIVEN 7 planned participants (requirement 3); cancelling one leaves 6,
	// which still needs 3 non-driver staff
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, weeklyTuesdayProgram("prog-1"), 7)
	seedStaff(t, mem, 3)
	allocations := fullyStaffed(t, e, mem, inst)

	res := e.HandleParticipantCancellation(ctx, allocations[0].ID, loom.CancellationShortNotice)
	require.True(t, res.Success)

	shifts, _ := mem.ShiftsForInstance(ctx, inst.ID)
	assert.Len(t, shifts, 3)
}

func TestHandleParticipantCancellation_AlreadyCancelled(t *testing.T) {
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, weeklyTuesdayProgram("prog-1"), 3)
	require.True(t, e.AllocateParticipants(ctx, inst.ID).Success)
	allocations, _ := mem.AllocationsForInstance(ctx, inst.ID)

	require.True(t, e.HandleParticipantCancellation(ctx, allocations[0].ID, loom.CancellationNormal).Success)

	// WHEN cancelling the same allocation again
	res := e.HandleParticipantCancellation(ctx, allocations[0].ID, loom.CancellationShortNotice)

	// THEN it is rejected and the original cancellation type is preserved
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "already cancelled")
	got, _ := mem.GetAllocation(ctx, allocations[0].ID)
	assert.Equal(t, loom.CancellationNormal, got.Cancellation)
}

func TestHandleParticipantCancellation_RejectsInvalidType(t *testing.T) {
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, weeklyTuesdayProgram("prog-1"), 3)
	require.True(t, e.AllocateParticipants(ctx, inst.ID).Success)
	allocations, _ := mem.AllocationsForInstance(ctx, inst.ID)

	res := e.HandleParticipantCancellation(ctx, allocations[0].ID, "whenever")

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid cancellation type")

	got, _ := mem.GetAllocation(ctx, allocations[0].ID)
	assert.Equal(t, loom.AllocationPlanned, got.Status)
}

func TestHandleParticipantCancellation_UnknownAllocation(t *testing.T) {
	e, _ := newTestEngine()
	res := e.HandleParticipantCancellation(context.Background(), "missing", loom.CancellationNormal)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not found")
}

// =============================================================================
// STAFF SICKNESS
// =============================================================================

func TestHandleStaffSickness_ReplacesFromSparePool(t *testing.T) {
	// GIVEN a staffed instance (2 assigned) with one spare staff member
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, weeklyTuesdayProgram("prog-1"), 3)
	staffIDs := seedStaff(t, mem, 3)
	fullyStaffed(t, e, mem, inst)

	shifts, _ := mem.ShiftsForInstance(ctx, inst.ID)
	require.Len(t, shifts, 2)
	sick := shifts[0]

	// WHEN the staff member calls in sick
	res := e.HandleStaffSickness(ctx, sick.ID)
	require.True(t, res.Success, res.Message)

	// THEN the old shift is marked replaced and a new planned shift covers
	// the same role and span
	after, _ := mem.ShiftsForInstance(ctx, inst.ID)
	require.Len(t, after, 3)

	var old, replacement *loom.StaffShift
	for i := range after {
		switch {
		case after[i].ID == sick.ID:
			old = &after[i]
		case after[i].Status == loom.ShiftPlanned && after[i].Role == sick.Role && after[i].ID != shifts[1].ID:
			replacement = &after[i]
		}
	}
	require.NotNil(t, old)
	require.NotNil(t, replacement)
	assert.Equal(t, loom.ShiftReplaced, old.Status)
	assert.NotEqual(t, sick.StaffID, replacement.StaffID)
	assert.Contains(t, staffIDs, replacement.StaffID)
	assert.Equal(t, sick.Start, replacement.Start)
	assert.Equal(t, sick.End, replacement.End)
}

func TestHandleStaffSickness_FlagsWhenPoolExhausted(t *testing.T) {
	// GIVEN a staffed instance with no spare staff anywhere
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, weeklyTuesdayProgram("prog-1"), 3)
	seedStaff(t, mem, 2)
	fullyStaffed(t, e, mem, inst)

	shifts, _ := mem.ShiftsForInstance(ctx, inst.ID)
	sick := shifts[0]

	// WHEN sickness is reported
	res := e.HandleStaffSickness(ctx, sick.ID)

	// THEN the handling succeeds (flagging is the designed outcome, not an
	// error) and the shift leaves the planned state
	require.True(t, res.Success, res.Message)

	got, _ := mem.GetShift(ctx, sick.ID)
	assert.Equal(t, loom.ShiftFlagged, got.Status)
	assert.NotEmpty(t, got.Note)

	// AND the instance escalates for human attention
	instAfter, _ := mem.GetInstance(ctx, inst.ID)
	assert.Equal(t, loom.InstanceNeedsAttention, instAfter.Status)
	assert.Equal(t, loom.StepNeedsAttention, instAfter.Optimisation.StaffingStatus)
}

func TestHandleStaffSickness_UnknownShift(t *testing.T) {
	e, _ := newTestEngine()
	res := e.HandleStaffSickness(context.Background(), "missing")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not found")
}
