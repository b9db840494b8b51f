/*
rebalance.go - Constrained reassignment after cancellations and sickness

PURPOSE:
  Reacts to the two disruptive events the roster sees daily without
  recomputing the instance from scratch:

  Cancellation: the allocation flips planned -> cancelled (never deleted,
  never reversed), staffing is re-derived from the CURRENT planned count,
  and only excess SUPPORT shifts are trimmed, newest first. Lead and driver
  shifts are never removed here. Vehicle rebalancing after cancellation is
  deliberately not automatic; callers trigger reoptimization explicitly.

  Sickness: the same candidate rule as assignment finds a replacement,
  excluding the sick staff member and anyone already on the instance. With
  a replacement the old shift is marked replaced and a new row inserted;
  without one the shift is flagged and the instance escalates to
  needs_attention. Either way the shift never stays planned.
*/
package loom

import (
	"context"
	"fmt"
	"sort"
)

// =============================================================================
// PARTICIPANT CANCELLATION
// =============================================================================

// HandleParticipantCancellation cancels an allocation and trims now-excess
// support staffing. Re-cancelling an already-cancelled allocation is
// rejected without a second state change.
func (e *Engine) HandleParticipantCancellation(ctx context.Context, allocationID AllocationID, ctype CancellationType) Result {
	if !ctype.Valid() {
		return fail(fmt.Sprintf("invalid cancellation type %q", ctype), ErrInvalidCancellationType)
	}

	alloc, err := e.Store.GetAllocation(ctx, allocationID)
	if err != nil {
		return fail("failed to load allocation", err)
	}
	if alloc == nil {
		return fail("allocation not found", ErrAllocationNotFound)
	}
	if alloc.Status == AllocationCancelled {
		return fail("allocation already cancelled", ErrAlreadyCancelled)
	}

	inst, prog, res := e.loadInstanceContext(ctx, alloc.InstanceID)
	if res != nil {
		return *res
	}

	var removed []ShiftID
	err = e.Store.WithTx(ctx, func(s Store) error {
		if err := s.UpdateAllocationStatus(ctx, allocationID, AllocationCancelled, ctype); err != nil {
			return fmt.Errorf("cancel allocation: %w", err)
		}
		if err := s.AppendAudit(ctx, e.audit(inst.ID, AuditParticipantCancelled,
			map[string]any{"status": string(AllocationPlanned)},
			map[string]any{"status": string(AllocationCancelled), "type": string(ctype), "participant_id": string(alloc.ParticipantID)},
		)); err != nil {
			return err
		}

		// Re-derive from the current planned count; never decrement the
		// old requirement.
		allocations, err := s.AllocationsForInstance(ctx, inst.ID)
		if err != nil {
			return err
		}
		planned := 0
		for _, a := range allocations {
			if a.Status == AllocationPlanned {
				planned++
			}
		}
		needed := RequiredNonDriverStaff(planned) + prog.AdditionalStaff

		shifts, err := s.ShiftsForInstance(ctx, inst.ID)
		if err != nil {
			return err
		}
		var supports []StaffShift
		current := 0
		for _, sh := range shifts {
			if sh.Status != ShiftPlanned || sh.Role == RoleDriver {
				continue
			}
			current++
			if sh.Role == RoleSupport {
				supports = append(supports, sh)
			}
		}

		if needed >= current {
			return nil
		}

		// Trim newest support shifts first; lead and driver are untouched.
		sort.Slice(supports, func(i, j int) bool {
			return supports[i].CreatedAt.After(supports[j].CreatedAt)
		})
		excess := current - needed
		if excess > len(supports) {
			excess = len(supports)
		}
		for _, sh := range supports[:excess] {
			if err := s.DeleteShift(ctx, sh.ID); err != nil {
				return err
			}
			if err := s.AppendAudit(ctx, e.audit(inst.ID, AuditStaffReleased,
				map[string]any{"staff_id": string(sh.StaffID), "role": string(sh.Role)},
				map[string]any{"reason": "participant_cancelled"},
			)); err != nil {
				return err
			}
			removed = append(removed, sh.ID)
		}
		return nil
	})
	if err != nil {
		return fail("cancellation failed", err)
	}

	return ok("participant cancelled", map[string]any{
		"allocation_id":  allocationID,
		"type":           ctype,
		"shifts_removed": removed,
	})
}

// =============================================================================
// STAFF SICKNESS
// =============================================================================

// HandleStaffSickness replaces a sick staff member's shift or escalates the
// instance. Total: the shift always leaves the planned state.
func (e *Engine) HandleStaffSickness(ctx context.Context, shiftID ShiftID) Result {
	shift, err := e.Store.GetShift(ctx, shiftID)
	if err != nil {
		return fail("failed to load shift", err)
	}
	if shift == nil {
		return fail("shift not found", ErrShiftNotFound)
	}

	inst, _, res := e.loadInstanceContext(ctx, shift.InstanceID)
	if res != nil {
		return *res
	}

	replaced := false
	var replacement StaffID
	err = e.Store.WithTx(ctx, func(s Store) error {
		shifts, err := s.ShiftsForInstance(ctx, inst.ID)
		if err != nil {
			return err
		}
		exclude := map[StaffID]bool{shift.StaffID: true}
		for _, sh := range shifts {
			if sh.StaffID != "" {
				exclude[sh.StaffID] = true
			}
		}

		candidates, err := e.oracle(s).AvailableStaff(ctx, inst.Date, inst.StartTime, inst.EndTime, exclude)
		if err != nil {
			return err
		}

		if len(candidates) == 0 {
			if err := s.UpdateShiftStatus(ctx, shiftID, ShiftFlagged, "no replacement available"); err != nil {
				return err
			}
			state := inst.Optimisation
			state.StaffingStatus = StepNeedsAttention
			if err := s.UpdateOptimisation(ctx, inst.ID, state); err != nil {
				return err
			}
			if err := s.UpdateInstanceStatus(ctx, inst.ID, InstanceNeedsAttention); err != nil {
				return err
			}
			return s.AppendAudit(ctx, e.audit(inst.ID, AuditStaffFlagged,
				map[string]any{"staff_id": string(shift.StaffID), "status": string(ShiftPlanned)},
				map[string]any{"status": string(ShiftFlagged)},
			))
		}

		rep := candidates[0]
		replaced = true
		replacement = rep.ID

		note := fmt.Sprintf("replaced by %s due to sickness", rep.ID)
		if err := s.UpdateShiftStatus(ctx, shiftID, ShiftReplaced, note); err != nil {
			return err
		}
		newShift := StaffShift{
			ID:         ShiftID(newID()),
			InstanceID: inst.ID,
			StaffID:    rep.ID,
			Role:       shift.Role,
			Start:      shift.Start,
			End:        shift.End,
			Status:     ShiftPlanned,
			CreatedAt:  e.Now().UTC(),
		}
		if err := s.SaveShift(ctx, newShift); err != nil {
			return err
		}
		return s.AppendAudit(ctx, e.audit(inst.ID, AuditStaffReplaced,
			map[string]any{"staff_id": string(shift.StaffID)},
			map[string]any{"staff_id": string(rep.ID), "role": string(shift.Role)},
		))
	})
	if err != nil {
		return fail("sickness handling failed", err)
	}

	if replaced {
		return ok("replacement assigned", map[string]any{
			"shift_id":    shiftID,
			"replacement": replacement,
		})
	}
	return ok("no replacement found; shift flagged for attention", map[string]any{
		"shift_id": shiftID,
		"flagged":  true,
	})
}
