package loom_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabs/roster-engine/loom"
)

// Note: the engine fixture and seed helpers are defined in generate_test.go.

// =============================================================================
// STAFFING RATIO LAW
// =============================================================================

func TestRequiredNonDriverStaff(t *testing.T) {
	// One lead plus one support per started group of five.
	cases := map[int]int{
		0:  1,
		1:  2,
		4:  2,
		5:  2,
		6:  3,
		10: 3,
		11: 4,
		20: 5,
	}
	for participants, want := range cases {
		assert.Equal(t, want, loom.RequiredNonDriverStaff(participants),
			"participants=%d", participants)
	}
}

func TestPlanStaffing(t *testing.T) {
	// Centre-based: no driver.
	plan := loom.PlanStaffing(7, true, 0)
	assert.Equal(t, loom.StaffingPlan{Lead: 1, Support: 2}, plan)

	// Transporting: one driver on top.
	plan = loom.PlanStaffing(7, false, 0)
	assert.Equal(t, loom.StaffingPlan{Lead: 1, Support: 2, Driver: 1}, plan)

	// Additional staff stack onto support.
	plan = loom.PlanStaffing(7, true, 2)
	assert.Equal(t, loom.StaffingPlan{Lead: 1, Support: 4}, plan)
}

// =============================================================================
// (a) PARTICIPANT ALLOCATION
// =============================================================================

func TestAllocateParticipants_SnapshotsBillingAndFlipsStatus(t *testing.T) {
	// GIVEN a generated instance with 3 active enrollments
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, weeklyTuesdayProgram("prog-1"), 3)
	require.Equal(t, loom.InstancePending, inst.Status)

	// WHEN allocating participants
	res := e.AllocateParticipants(ctx, inst.ID)
	require.True(t, res.Success, res.Message)

	// THEN one planned allocation per enrollment, billing snapshotted
	allocations, err := mem.AllocationsForInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, allocations, 3)
	for _, a := range allocations {
		assert.Equal(t, loom.AllocationPlanned, a.Status)
		assert.Equal(t, "04_104_0125_6_1", a.BillingCode)
		assert.True(t, a.PlannedRate.Equal(decimal.RequireFromString("65.47")))
		assert.True(t, a.Hours.Equal(decimal.NewFromInt(6)))
	}

	// AND the instance left pending
	got, err := mem.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, loom.InstanceGenerated, got.Status)

	// AND a second run adds nothing
	again := e.AllocateParticipants(ctx, inst.ID)
	require.True(t, again.Success)
	allocations, _ = mem.AllocationsForInstance(ctx, inst.ID)
	assert.Len(t, allocations, 3)
}

func TestAllocateParticipants_ZeroEnrollmentsSucceeds(t *testing.T) {
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, weeklyTuesdayProgram("prog-1"), 0)

	res := e.AllocateParticipants(ctx, inst.ID)
	require.True(t, res.Success)

	allocations, _ := mem.AllocationsForInstance(ctx, inst.ID)
	assert.Empty(t, allocations)
}

// =============================================================================
// (b) STAFF ASSIGNMENT
// =============================================================================

func TestAssignStaff_FillsDerivedPlan(t *testing.T) {
	// GIVEN 7 planned participants (plan: 1 lead + 2 support) and 3 staff
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, weeklyTuesdayProgram("prog-1"), 7)
	seedStaff(t, mem, 3)
	require.True(t, e.AllocateParticipants(ctx, inst.ID).Success)

	// WHEN assigning staff
	res := e.AssignStaff(ctx, inst.ID)
	require.True(t, res.Success, res.Message)

	// THEN the plan is filled role by role
	shifts, err := mem.ShiftsForInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, shifts, 3)
	roles := map[loom.ShiftRole]int{}
	for _, sh := range shifts {
		require.NotEmpty(t, sh.StaffID)
		assert.Equal(t, loom.ShiftPlanned, sh.Status)
		roles[sh.Role]++
	}
	assert.Equal(t, 1, roles[loom.RoleLead])
	assert.Equal(t, 2, roles[loom.RoleSupport])

	got, _ := mem.GetInstance(ctx, inst.ID)
	assert.Equal(t, loom.StepComplete, got.Optimisation.StaffingStatus)
}

func TestAssignStaff_InsufficientPoolCommitsAndFails(t *testing.T) {
	// GIVEN 7 planned participants but only 1 available staff member
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, weeklyTuesdayProgram("prog-1"), 7)
	seedStaff(t, mem, 1)
	require.True(t, e.AllocateParticipants(ctx, inst.ID).Success)

	// WHEN assigning staff
	res := e.AssignStaff(ctx, inst.ID)

	// THEN the operation reports failure without an error (committed
	// insufficiency, not a rollback)
	assert.False(t, res.Success)
	assert.Empty(t, res.Error)

	// AND no partial shifts were written
	shifts, _ := mem.ShiftsForInstance(ctx, inst.ID)
	assert.Empty(t, shifts)

	// AND the shortfall is recorded on the instance while the earlier
	// participant step stays committed
	got, _ := mem.GetInstance(ctx, inst.ID)
	assert.Equal(t, loom.StepInsufficient, got.Optimisation.StaffingStatus)
	allocations, _ := mem.AllocationsForInstance(ctx, inst.ID)
	assert.Len(t, allocations, 7)

	// AND a later retry with more staff succeeds
	seedStaff(t, mem, 3)
	retry := e.AssignStaff(ctx, inst.ID)
	require.True(t, retry.Success, retry.Message)
	got, _ = mem.GetInstance(ctx, inst.ID)
	assert.Equal(t, loom.StepComplete, got.Optimisation.StaffingStatus)
}

func TestAssignStaff_TransportingProgramAddsDriver(t *testing.T) {
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, transportTuesdayProgram("prog-t"), 3)
	seedStaff(t, mem, 3)
	require.True(t, e.AllocateParticipants(ctx, inst.ID).Success)

	res := e.AssignStaff(ctx, inst.ID)
	require.True(t, res.Success, res.Message)

	shifts, _ := mem.ShiftsForInstance(ctx, inst.ID)
	roles := map[loom.ShiftRole]int{}
	for _, sh := range shifts {
		roles[sh.Role]++
	}
	assert.Equal(t, 1, roles[loom.RoleLead])
	assert.Equal(t, 1, roles[loom.RoleSupport])
	assert.Equal(t, 1, roles[loom.RoleDriver])
}

// =============================================================================
// (c) VEHICLE ASSIGNMENT
// =============================================================================

func TestAssignVehicles_PacksSeatsMinusDriver(t *testing.T) {
	// GIVEN a transporting instance with 7 riders and two 5-seat vehicles
	// (4 passenger seats each)
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, transportTuesdayProgram("prog-t"), 7)
	seedVehicles(t, mem, 5, 5)
	require.True(t, e.AllocateParticipants(ctx, inst.ID).Success)

	// WHEN assigning vehicles
	res := e.AssignVehicles(ctx, inst.ID)
	require.True(t, res.Success, res.Message)

	// THEN the generation placeholder run was replaced by two packed runs
	runs, err := mem.RunsForInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 4, runs[0].SeatsUsed)
	assert.Equal(t, 3, runs[1].SeatsUsed)
	for _, run := range runs {
		require.NotEmpty(t, run.VehicleID)
		assert.Len(t, run.Stops, run.SeatsUsed)
		for i, stop := range run.Stops {
			assert.Equal(t, i+1, stop.Sequence)
		}
	}

	got, _ := mem.GetInstance(ctx, inst.ID)
	assert.Equal(t, loom.StepComplete, got.Optimisation.VehicleStatus)
}

func TestAssignVehicles_CentreBasedIsTrivialSuccess(t *testing.T) {
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, weeklyTuesdayProgram("prog-1"), 5)
	require.True(t, e.AllocateParticipants(ctx, inst.ID).Success)

	res := e.AssignVehicles(ctx, inst.ID)
	require.True(t, res.Success)

	runs, _ := mem.RunsForInstance(ctx, inst.ID)
	assert.Empty(t, runs)
	got, _ := mem.GetInstance(ctx, inst.ID)
	assert.Equal(t, loom.StepComplete, got.Optimisation.VehicleStatus)
}

func TestAssignVehicles_InsufficientCapacityCommitsAndFails(t *testing.T) {
	// GIVEN 7 riders but a single 5-seat vehicle (4 passenger seats)
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, transportTuesdayProgram("prog-t"), 7)
	seedVehicles(t, mem, 5)
	require.True(t, e.AllocateParticipants(ctx, inst.ID).Success)

	res := e.AssignVehicles(ctx, inst.ID)

	assert.False(t, res.Success)
	assert.Empty(t, res.Error)
	got, _ := mem.GetInstance(ctx, inst.ID)
	assert.Equal(t, loom.StepInsufficient, got.Optimisation.VehicleStatus)
}

// =============================================================================
// REOPTIMIZATION
// =============================================================================

func TestReoptimize_RerunsAllStepsAndMarksInstance(t *testing.T) {
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, transportTuesdayProgram("prog-t"), 7)
	seedStaff(t, mem, 4)
	seedVehicles(t, mem, 5, 5)
	require.True(t, e.AllocateParticipants(ctx, inst.ID).Success)
	require.True(t, e.AssignStaff(ctx, inst.ID).Success)
	require.True(t, e.AssignVehicles(ctx, inst.ID).Success)

	// WHEN reoptimizing
	res := e.Reoptimize(ctx, inst.ID)
	require.True(t, res.Success, res.Message)

	// THEN allocation state was rebuilt and the instance carries the marker
	got, _ := mem.GetInstance(ctx, inst.ID)
	assert.True(t, got.Optimisation.Reoptimized)
	assert.Equal(t, loom.StepComplete, got.Optimisation.StaffingStatus)
	assert.Equal(t, loom.StepComplete, got.Optimisation.VehicleStatus)

	shifts, _ := mem.ShiftsForInstance(ctx, inst.ID)
	assert.Len(t, shifts, 4) // lead + 2 support + driver

	steps := res.Data.(map[string]loom.Result)
	assert.True(t, steps["participants"].Success)
	assert.True(t, steps["staff"].Success)
	assert.True(t, steps["vehicles"].Success)
}

func TestReoptimize_ReportsShortfallWhenStaffInsufficient(t *testing.T) {
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, weeklyTuesdayProgram("prog-1"), 7)
	seedStaff(t, mem, 1)
	require.True(t, e.AllocateParticipants(ctx, inst.ID).Success)

	res := e.Reoptimize(ctx, inst.ID)

	assert.False(t, res.Success)
	steps := res.Data.(map[string]loom.Result)
	assert.True(t, steps["participants"].Success)
	assert.False(t, steps["staff"].Success)
}
