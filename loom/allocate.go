/*
allocate.go - The three ordered allocation sub-steps

PURPOSE:
  Fills one instance in three independently-retryable steps, each inside
  its own transaction so a later failure never rolls back an earlier
  success:

    (a) participants - from active enrollments, billing snapshot per row
    (b) staff        - ratio-based: 1 lead + ceil(n/5) support (+ driver
                       for transporting programs), candidates ordered by
                       remaining contracted hours
    (c) vehicles     - greedy seat bin-packing, capacity-1 seats per
                       vehicle, round-robin bucket fill, placeholder route
                       estimates (10 min and 5 km per stop - explicitly not
                       real routing)

  Insufficiency is committed state (optimisation_state), not an error: the
  instance keeps whatever earlier steps achieved, and a later retry of just
  the failed step can succeed once resources free up.
*/
package loom

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ParticipantsPerSupport is the support-worker ratio: one support staff per
// started group of this many planned participants.
const ParticipantsPerSupport = 5

// StaffingPlan is the derived staffing requirement for an instance.
type StaffingPlan struct {
	Lead    int
	Support int
	Driver  int
}

func (p StaffingPlan) Total() int     { return p.Lead + p.Support + p.Driver }
func (p StaffingPlan) NonDriver() int { return p.Lead + p.Support }

// SupportStaffFor returns ceil(participantCount / ParticipantsPerSupport).
func SupportStaffFor(participantCount int) int {
	if participantCount <= 0 {
		return 0
	}
	return (participantCount + ParticipantsPerSupport - 1) / ParticipantsPerSupport
}

// RequiredNonDriverStaff is the staffing ratio law: one lead plus one
// support per started group of five planned participants.
func RequiredNonDriverStaff(participantCount int) int {
	return 1 + SupportStaffFor(participantCount)
}

// PlanStaffing derives the full requirement for a program's instance.
// Always re-derived from the current planned-allocation count, never from a
// cached counter.
func PlanStaffing(participantCount int, centreBased bool, additionalStaff int) StaffingPlan {
	plan := StaffingPlan{Lead: 1, Support: SupportStaffFor(participantCount) + additionalStaff}
	if !centreBased {
		plan.Driver = 1
	}
	return plan
}

// =============================================================================
// (a) PARTICIPANT ALLOCATION
// =============================================================================

// AllocateParticipants inserts a planned allocation for every actively
// enrolled participant who does not already have one on this instance.
// Zero enrollments is success with zero allocations. The first run flips
// the instance from pending to generated.
func (e *Engine) AllocateParticipants(ctx context.Context, instanceID InstanceID) Result {
	inst, prog, res := e.loadInstanceContext(ctx, instanceID)
	if res != nil {
		return *res
	}

	var createdIDs []AllocationID
	err := e.Store.WithTx(ctx, func(s Store) error {
		enrollments, err := s.EnrollmentsForProgram(ctx, prog.ID)
		if err != nil {
			return fmt.Errorf("enrollments: %w", err)
		}
		existing, err := s.AllocationsForInstance(ctx, instanceID)
		if err != nil {
			return fmt.Errorf("allocations: %w", err)
		}
		allocated := make(map[ParticipantID]bool, len(existing))
		for _, a := range existing {
			allocated[a.ParticipantID] = true
		}

		duration := decimal.NewFromFloat(DurationHours(inst.StartTime, inst.EndTime))

		for _, en := range enrollments {
			if !en.CoversDate(inst.Date) || allocated[en.ParticipantID] {
				continue
			}
			code := en.DefaultBilling()
			hours := code.Hours
			if hours.IsZero() {
				hours = duration
			}
			a := Allocation{
				ID:            AllocationID(newID()),
				InstanceID:    instanceID,
				ParticipantID: en.ParticipantID,
				BillingCode:   code.Code,
				PlannedRate:   code.HourlyRate,
				Hours:         hours,
				Status:        AllocationPlanned,
				CreatedAt:     e.Now().UTC(),
			}
			if err := s.SaveAllocation(ctx, a); err != nil {
				return fmt.Errorf("save allocation: %w", err)
			}
			if err := s.AppendAudit(ctx, e.audit(instanceID, AuditParticipantAllocated, nil, map[string]any{
				"participant_id": string(en.ParticipantID),
				"billing_code":   code.Code,
			})); err != nil {
				return err
			}
			createdIDs = append(createdIDs, a.ID)
		}

		if inst.Status == InstancePending {
			if err := s.UpdateInstanceStatus(ctx, instanceID, InstanceGenerated); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fail("participant allocation failed", err)
	}

	return ok(fmt.Sprintf("allocated %d participants", len(createdIDs)), map[string]any{
		"allocation_ids": createdIDs,
	})
}

// =============================================================================
// (b) STAFF ASSIGNMENT
// =============================================================================

// AssignStaff fills the instance's staffing requirement from the available
// pool. Candidates must have a weekly-availability rule covering the
// instance's weekday and span, no overlapping blackout, and are taken in
// descending remaining-contracted-hours order. Too few candidates commits
// staffing_status=insufficient and returns failure; nothing already
// allocated is rolled back.
func (e *Engine) AssignStaff(ctx context.Context, instanceID InstanceID) Result {
	inst, prog, res := e.loadInstanceContext(ctx, instanceID)
	if res != nil {
		return *res
	}

	insufficient := false
	var assigned []StaffID
	err := e.Store.WithTx(ctx, func(s Store) error {
		allocations, err := s.AllocationsForInstance(ctx, instanceID)
		if err != nil {
			return fmt.Errorf("allocations: %w", err)
		}
		participantCount := 0
		for _, a := range allocations {
			if a.Status == AllocationPlanned {
				participantCount++
			}
		}
		plan := PlanStaffing(participantCount, prog.CentreBased, prog.AdditionalStaff)

		shifts, err := s.ShiftsForInstance(ctx, instanceID)
		if err != nil {
			return fmt.Errorf("shifts: %w", err)
		}

		// Placeholders from generation are slots, not history; clear them
		// before real assignment.
		onInstance := make(map[StaffID]bool)
		missing := plan
		for _, sh := range shifts {
			if sh.StaffID == "" {
				if sh.Status == ShiftPlanned {
					if err := s.DeleteShift(ctx, sh.ID); err != nil {
						return err
					}
				}
				continue
			}
			if sh.Status != ShiftPlanned {
				continue
			}
			onInstance[sh.StaffID] = true
			switch sh.Role {
			case RoleLead:
				missing.Lead--
			case RoleSupport:
				missing.Support--
			case RoleDriver:
				missing.Driver--
			}
		}
		if missing.Lead < 0 {
			missing.Lead = 0
		}
		if missing.Support < 0 {
			missing.Support = 0
		}
		if missing.Driver < 0 {
			missing.Driver = 0
		}
		if missing.Total() == 0 {
			state := inst.Optimisation
			state.StaffingStatus = StepComplete
			return s.UpdateOptimisation(ctx, instanceID, state)
		}

		candidates, err := e.oracle(s).AvailableStaff(ctx, inst.Date, inst.StartTime, inst.EndTime, onInstance)
		if err != nil {
			return err
		}
		if len(candidates) < missing.Total() {
			insufficient = true
			state := inst.Optimisation
			state.StaffingStatus = StepInsufficient
			return s.UpdateOptimisation(ctx, instanceID, state)
		}

		next := 0
		take := func(role ShiftRole, n int) error {
			for i := 0; i < n; i++ {
				staff := candidates[next]
				next++
				sh := StaffShift{
					ID:         ShiftID(newID()),
					InstanceID: instanceID,
					StaffID:    staff.ID,
					Role:       role,
					Start:      inst.StartTime.On(inst.Date),
					End:        inst.EndTime.On(inst.Date),
					Status:     ShiftPlanned,
					CreatedAt:  e.Now().UTC(),
				}
				if err := s.SaveShift(ctx, sh); err != nil {
					return fmt.Errorf("save shift: %w", err)
				}
				if err := s.AppendAudit(ctx, e.audit(instanceID, AuditStaffAssigned, nil, map[string]any{
					"staff_id": string(staff.ID),
					"role":     string(role),
				})); err != nil {
					return err
				}
				assigned = append(assigned, staff.ID)
			}
			return nil
		}
		if err := take(RoleLead, missing.Lead); err != nil {
			return err
		}
		if err := take(RoleSupport, missing.Support); err != nil {
			return err
		}
		if err := take(RoleDriver, missing.Driver); err != nil {
			return err
		}

		state := inst.Optimisation
		state.StaffingStatus = StepComplete
		return s.UpdateOptimisation(ctx, instanceID, state)
	})
	if err != nil {
		return fail("staff assignment failed", err)
	}
	if insufficient {
		return fail("insufficient staff available", nil)
	}

	return ok(fmt.Sprintf("assigned %d staff", len(assigned)), map[string]any{"staff_ids": assigned})
}

// =============================================================================
// (c) VEHICLE ASSIGNMENT
// =============================================================================

// AssignVehicles packs planned participants into vehicles for transporting
// programs. Centre-based programs skip with trivial success. One vehicle
// serves at most one run per calendar date; each contributes capacity-1
// seats. Existing runs (including generation placeholders) are replaced
// wholesale.
func (e *Engine) AssignVehicles(ctx context.Context, instanceID InstanceID) Result {
	inst, prog, res := e.loadInstanceContext(ctx, instanceID)
	if res != nil {
		return *res
	}

	if prog.CentreBased {
		state := inst.Optimisation
		state.VehicleStatus = StepComplete
		if err := e.Store.UpdateOptimisation(ctx, instanceID, state); err != nil {
			return fail("failed to update optimisation state", err)
		}
		return ok("centre-based program; no transport required", map[string]any{"vehicles": 0})
	}

	insufficient := false
	var runIDs []RunID
	err := e.Store.WithTx(ctx, func(s Store) error {
		allocations, err := s.AllocationsForInstance(ctx, instanceID)
		if err != nil {
			return fmt.Errorf("allocations: %w", err)
		}
		var riders []ParticipantID
		for _, a := range allocations {
			if a.Status == AllocationPlanned {
				riders = append(riders, a.ParticipantID)
			}
		}

		candidates, err := e.freeVehicles(ctx, s, inst)
		if err != nil {
			return err
		}

		// Greedy seat budget in query order.
		seatBudget := 0
		vehiclesNeeded := 0
		for _, v := range candidates {
			if seatBudget >= len(riders) {
				break
			}
			seatBudget += v.PassengerSeats()
			vehiclesNeeded++
		}
		if seatBudget < len(riders) {
			insufficient = true
			state := inst.Optimisation
			state.VehicleStatus = StepInsufficient
			return s.UpdateOptimisation(ctx, instanceID, state)
		}

		if err := s.DeleteRunsForInstance(ctx, instanceID); err != nil {
			return err
		}

		// Round-robin-by-capacity: fill vehicle[i] to its passenger limit,
		// then advance.
		rider := 0
		for i := 0; i < vehiclesNeeded; i++ {
			v := candidates[i]
			var stops []Stop
			for seq := 0; rider < len(riders) && seq < v.PassengerSeats(); seq++ {
				stops = append(stops, Stop{Sequence: seq + 1, ParticipantID: riders[rider]})
				rider++
			}
			run := VehicleRun{
				ID:                RunID(newID()),
				InstanceID:        instanceID,
				VehicleID:         v.ID,
				Date:              inst.Date,
				SeatsUsed:         len(stops),
				Stops:             stops,
				EstimatedDuration: estimatedRunDuration(len(stops)),
				EstimatedKM:       estimatedRunKM(len(stops)),
				CreatedAt:         e.Now().UTC(),
			}
			if err := s.SaveRun(ctx, run); err != nil {
				return fmt.Errorf("save run: %w", err)
			}
			runIDs = append(runIDs, run.ID)
		}

		if err := s.AppendAudit(ctx, e.audit(instanceID, AuditVehiclesAssigned, nil, map[string]any{
			"vehicles":     vehiclesNeeded,
			"participants": len(riders),
		})); err != nil {
			return err
		}

		state := inst.Optimisation
		state.VehicleStatus = StepComplete
		return s.UpdateOptimisation(ctx, instanceID, state)
	})
	if err != nil {
		return fail("vehicle assignment failed", err)
	}
	if insufficient {
		return fail("insufficient vehicle capacity", nil)
	}

	return ok(fmt.Sprintf("assigned %d vehicles", len(runIDs)), map[string]any{"run_ids": runIDs})
}

// freeVehicles returns vehicles with no run on the instance's date and no
// overlapping blackout, in store order.
func (e *Engine) freeVehicles(ctx context.Context, s Store, inst *Instance) ([]Vehicle, error) {
	vehicles, err := s.ListVehicles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	runs, err := s.RunsOnDate(ctx, inst.Date)
	if err != nil {
		return nil, fmt.Errorf("runs on date: %w", err)
	}
	busy := make(map[VehicleID]bool)
	for _, r := range runs {
		if r.VehicleID != "" && r.InstanceID != inst.ID {
			busy[r.VehicleID] = true
		}
	}

	oracle := e.oracle(s)
	var free []Vehicle
	for _, v := range vehicles {
		if busy[v.ID] || v.PassengerSeats() == 0 {
			continue
		}
		available, err := oracle.IsVehicleAvailable(ctx, v.ID, inst.Date, inst.StartTime, inst.EndTime)
		if err != nil {
			return nil, err
		}
		if available {
			free = append(free, v)
		}
	}
	return free, nil
}

// Placeholder route figures: linear in stop count. Real route optimization
// is an external collaborator.
func estimatedRunDuration(stops int) time.Duration { return time.Duration(stops) * 10 * time.Minute }
func estimatedRunKM(stops int) int                 { return stops * 5 }

// =============================================================================
// REOPTIMIZATION
// =============================================================================

// Reoptimize clears the instance's shifts and runs, then re-runs the three
// allocation steps in order. A failing participant step aborts the rest.
func (e *Engine) Reoptimize(ctx context.Context, instanceID InstanceID) Result {
	inst, _, res := e.loadInstanceContext(ctx, instanceID)
	if res != nil {
		return *res
	}

	err := e.Store.WithTx(ctx, func(s Store) error {
		if err := s.AppendAudit(ctx, e.audit(instanceID, AuditReoptimizeStarted,
			map[string]any{"staffing_status": string(inst.Optimisation.StaffingStatus), "vehicle_status": string(inst.Optimisation.VehicleStatus)},
			nil,
		)); err != nil {
			return err
		}
		if err := s.DeleteShiftsForInstance(ctx, instanceID); err != nil {
			return err
		}
		if err := s.DeleteRunsForInstance(ctx, instanceID); err != nil {
			return err
		}
		return s.UpdateOptimisation(ctx, instanceID, OptimisationState{Reoptimized: true})
	})
	if err != nil {
		return fail("reoptimization reset failed", err)
	}

	participants := e.AllocateParticipants(ctx, instanceID)
	if !participants.Success {
		return fail("reoptimization aborted: participant allocation failed", nil)
	}
	staff := e.AssignStaff(ctx, instanceID)
	vehicles := e.AssignVehicles(ctx, instanceID)

	steps := map[string]Result{
		"participants": participants,
		"staff":        staff,
		"vehicles":     vehicles,
	}
	if !staff.Success || !vehicles.Success {
		r := fail("reoptimization completed with shortfalls", nil)
		r.Data = steps
		return r
	}
	return ok("instance reoptimized", steps)
}

// loadInstanceContext resolves the instance and its program before any
// transaction starts; missing ids are validation failures.
func (e *Engine) loadInstanceContext(ctx context.Context, instanceID InstanceID) (*Instance, *Program, *Result) {
	inst, err := e.Store.GetInstance(ctx, instanceID)
	if err != nil {
		r := fail("failed to load instance", err)
		return nil, nil, &r
	}
	if inst == nil {
		r := fail("instance not found", ErrInstanceNotFound)
		return nil, nil, &r
	}
	prog, err := e.Store.GetProgram(ctx, inst.ProgramID)
	if err != nil {
		r := fail("failed to load program", err)
		return nil, nil, &r
	}
	if prog == nil {
		r := fail("program not found", ErrProgramNotFound)
		return nil, nil, &r
	}
	return inst, prog, nil
}
