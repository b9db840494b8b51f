package loom_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabs/roster-engine/loom"
)

// =============================================================================
// BLACKOUT CALLBACK
// =============================================================================

func TestRecordUnavailability_FlagsInstanceWithAffectedStaff(t *testing.T) {
	// GIVEN a staffed Tuesday instance
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, weeklyTuesdayProgram("prog-1"), 3)
	seedStaff(t, mem, 2)
	fullyStaffed(t, e, mem, inst)

	shifts, _ := mem.ShiftsForInstance(ctx, inst.ID)
	require.NotEmpty(t, shifts)
	affected := shifts[0].StaffID

	// WHEN a blackout lands on an assigned staff member's shift
	res := e.RecordUnavailability(ctx, loom.Unavailability{
		Kind:     loom.KindStaff,
		EntityID: string(affected),
		Start:    time.Date(2025, time.January, 7, 10, 0, 0, 0, time.UTC),
		End:      time.Date(2025, time.January, 7, 12, 0, 0, 0, time.UTC),
		Reason:   "medical appointment",
	})
	require.True(t, res.Success, res.Message)

	// THEN the instance escalates
	got, _ := mem.GetInstance(ctx, inst.ID)
	assert.Equal(t, loom.InstanceNeedsAttention, got.Status)

	data := res.Data.(map[string]any)
	flagged := data["flagged_instances"].([]loom.InstanceID)
	assert.Equal(t, []loom.InstanceID{inst.ID}, flagged)
}

func TestRecordUnavailability_IgnoresUnassignedStaff(t *testing.T) {
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, weeklyTuesdayProgram("prog-1"), 3)
	seedStaff(t, mem, 2)
	fullyStaffed(t, e, mem, inst)

	// WHEN a blackout arrives for staff with no shift on the instance
	res := e.RecordUnavailability(ctx, loom.Unavailability{
		Kind:     loom.KindStaff,
		EntityID: "s-unrelated",
		Start:    time.Date(2025, time.January, 7, 10, 0, 0, 0, time.UTC),
		End:      time.Date(2025, time.January, 7, 12, 0, 0, 0, time.UTC),
	})
	require.True(t, res.Success)

	// THEN nothing escalates, but the record is kept for future checks
	got, _ := mem.GetInstance(ctx, inst.ID)
	assert.NotEqual(t, loom.InstanceNeedsAttention, got.Status)

	blackouts, _ := mem.OverlappingUnavailability(ctx, loom.KindStaff, "s-unrelated",
		time.Date(2025, time.January, 7, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 8, 0, 0, 0, 0, time.UTC))
	assert.Len(t, blackouts, 1)
}

func TestRecordUnavailability_FlagsInstanceWithAffectedVehicle(t *testing.T) {
	// GIVEN a transport instance with an assigned vehicle run
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, transportTuesdayProgram("prog-t"), 3)
	vehicleIDs := seedVehicles(t, mem, 5)
	require.True(t, e.AllocateParticipants(ctx, inst.ID).Success)
	require.True(t, e.AssignVehicles(ctx, inst.ID).Success)

	// WHEN the vehicle is blacked out across the instance span
	res := e.RecordUnavailability(ctx, loom.Unavailability{
		Kind:     loom.KindVehicle,
		EntityID: string(vehicleIDs[0]),
		Start:    time.Date(2025, time.January, 7, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2025, time.January, 8, 0, 0, 0, 0, time.UTC),
		Reason:   "scheduled service",
	})
	require.True(t, res.Success, res.Message)

	got, _ := mem.GetInstance(ctx, inst.ID)
	assert.Equal(t, loom.InstanceNeedsAttention, got.Status)
}

// =============================================================================
// READ PROJECTIONS
// =============================================================================

func TestInstanceDetails_BillingFollowsCancellationRule(t *testing.T) {
	// GIVEN 3 allocations: one planned, one cancelled short-notice, one
	// cancelled normally
	e, mem := newTestEngine()
	ctx := context.Background()
	inst := generateOne(t, e, mem, weeklyTuesdayProgram("prog-1"), 3)
	require.True(t, e.AllocateParticipants(ctx, inst.ID).Success)
	allocations, _ := mem.AllocationsForInstance(ctx, inst.ID)
	require.Len(t, allocations, 3)

	require.True(t, e.HandleParticipantCancellation(ctx, allocations[1].ID, loom.CancellationShortNotice).Success)
	require.True(t, e.HandleParticipantCancellation(ctx, allocations[2].ID, loom.CancellationNormal).Success)

	// WHEN projecting the instance
	res := e.InstanceDetails(ctx, inst.ID)
	require.True(t, res.Success, res.Message)
	detail := res.Data.(loom.InstanceDetail)

	// THEN planned and short-notice lines bill at rate*hours, the normal
	// cancellation bills nothing
	require.Len(t, detail.Billing, 3)
	lineAmount := decimal.RequireFromString("65.47").Mul(decimal.NewFromInt(6)) // 392.82

	assert.True(t, detail.Billing[0].Billable)
	assert.True(t, detail.Billing[0].Amount.Equal(lineAmount))
	assert.True(t, detail.Billing[1].Billable)
	assert.True(t, detail.Billing[1].Amount.Equal(lineAmount))
	assert.False(t, detail.Billing[2].Billable)
	assert.True(t, detail.Billing[2].Amount.IsZero())

	assert.True(t, detail.BillingDue.Equal(lineAmount.Mul(decimal.NewFromInt(2))))

	// AND the projection carries the rest of the instance graph
	assert.Equal(t, "Tuesday Centre Group", detail.ProgramName)
	assert.Len(t, detail.Allocations, 3)
	assert.NotEmpty(t, detail.Audit)
}

func TestInstanceDetails_UnknownInstance(t *testing.T) {
	e, _ := newTestEngine()
	res := e.InstanceDetails(context.Background(), "missing")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not found")
}

func TestInstances_RangeQuery(t *testing.T) {
	e, mem := newTestEngine()
	ctx := context.Background()
	require.NoError(t, mem.SaveProgram(ctx, weeklyTuesdayProgram("prog-1")))
	require.True(t, e.GenerateWindow(ctx, 4).Success)

	// Half-open: [first Tuesday, second Tuesday) holds exactly one instance.
	res := e.Instances(ctx, loom.NewDate(2025, time.January, 7), loom.NewDate(2025, time.January, 14))
	require.True(t, res.Success)
	instances := res.Data.([]loom.Instance)
	require.Len(t, instances, 1)
	assert.Equal(t, loom.NewDate(2025, time.January, 7), instances[0].Date)
}
