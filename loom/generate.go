/*
generate.go - Window generation, resize, and idempotent instance creation

PURPOSE:
  Materializes the rolling window: for every active program and every date
  its repeat rule yields inside the window, one instance exists with its
  child slot cards and placeholders. Re-running over an overlapping range
  creates no duplicates.

RESIZE SEMANTICS:
  Shrinking deletes instances dated beyond the new end. Growing generates
  only the newly-added tail and never touches instances in the retained
  range, so shrink-then-grow is non-destructive for dates inside both.
*/
package loom

import (
	"context"
	"fmt"
)

// GenerationSummary reports what one generation or resize pass did.
type GenerationSummary struct {
	Window  Window `json:"window"`
	Created int    `json:"created"`
	Deleted int    `json:"deleted"`
}

// GenerateWindow materializes instances for every active program across a
// window of weekCount weeks starting today, and persists weekCount as the
// current window size. Idempotent over overlapping ranges.
func (e *Engine) GenerateWindow(ctx context.Context, weekCount int) Result {
	window, err := ComputeWindow(e.today(), weekCount)
	if err != nil {
		return fail("invalid window size", err)
	}

	programs, err := e.Store.ListPrograms(ctx, true)
	if err != nil {
		return fail("failed to list programs", err)
	}

	total := 0
	for _, p := range programs {
		p := p
		err := e.Store.WithTx(ctx, func(s Store) error {
			n, err := e.generateProgram(ctx, s, p, window.Start, window.End)
			total += n
			return err
		})
		if err != nil {
			return fail(fmt.Sprintf("generation failed for program %s", p.ID), err)
		}
	}

	if err := e.Store.SaveSettings(ctx, Settings{WindowWeeks: weekCount}); err != nil {
		return fail("failed to persist window size", err)
	}

	return ok(fmt.Sprintf("generated %d instances", total), GenerationSummary{Window: window, Created: total})
}

// ResizeWindow adjusts the active window to newWeekCount weeks. Shrink
// deletes beyond the new end; growth generates only the added tail.
func (e *Engine) ResizeWindow(ctx context.Context, newWeekCount int) Result {
	newWindow, err := ComputeWindow(e.today(), newWeekCount)
	if err != nil {
		return fail("invalid window size", err)
	}

	settings, err := e.Store.GetSettings(ctx)
	if err != nil {
		return fail("failed to load settings", err)
	}
	oldEnd := e.today().AddWeeks(settings.WindowWeeks)

	summary := GenerationSummary{Window: newWindow}

	if newWindow.End.Before(oldEnd) {
		err := e.Store.WithTx(ctx, func(s Store) error {
			doomed, err := s.ListInstances(ctx, newWindow.End, oldEnd)
			if err != nil {
				return err
			}
			for _, inst := range doomed {
				if err := s.AppendAudit(ctx, e.audit(inst.ID, AuditInstanceDeleted,
					map[string]any{"date": inst.Date.String(), "program_id": string(inst.ProgramID)}, nil,
				)); err != nil {
					return err
				}
				if err := s.DeleteInstance(ctx, inst.ID); err != nil {
					return err
				}
				summary.Deleted++
			}
			return nil
		})
		if err != nil {
			return fail("window shrink failed", err)
		}
	}

	if newWindow.End.After(oldEnd) {
		programs, err := e.Store.ListPrograms(ctx, true)
		if err != nil {
			return fail("failed to list programs", err)
		}
		for _, p := range programs {
			p := p
			err := e.Store.WithTx(ctx, func(s Store) error {
				n, err := e.generateProgram(ctx, s, p, oldEnd, newWindow.End)
				summary.Created += n
				return err
			})
			if err != nil {
				return fail(fmt.Sprintf("tail generation failed for program %s", p.ID), err)
			}
		}
	}

	if err := e.Store.SaveSettings(ctx, Settings{WindowWeeks: newWeekCount}); err != nil {
		return fail("failed to persist window size", err)
	}

	return ok(fmt.Sprintf("window resized to %d weeks (%d created, %d deleted)",
		newWeekCount, summary.Created, summary.Deleted), summary)
}

// RegenerateProgram deletes a program's future instances and regenerates
// them across the current window. Called when a program's date or pattern
// fields change; past instances are preserved.
func (e *Engine) RegenerateProgram(ctx context.Context, id ProgramID) Result {
	p, err := e.Store.GetProgram(ctx, id)
	if err != nil {
		return fail("failed to load program", err)
	}
	if p == nil {
		return fail("program not found", ErrProgramNotFound)
	}

	settings, err := e.Store.GetSettings(ctx)
	if err != nil {
		return fail("failed to load settings", err)
	}
	window, err := ComputeWindow(e.today(), settings.WindowWeeks)
	if err != nil {
		return fail("invalid persisted window size", err)
	}

	summary := GenerationSummary{Window: window}
	err = e.Store.WithTx(ctx, func(s Store) error {
		future, err := s.ListInstancesForProgram(ctx, p.ID, window.Start, window.End)
		if err != nil {
			return err
		}
		for _, inst := range future {
			if err := s.AppendAudit(ctx, e.audit(inst.ID, AuditInstanceDeleted,
				map[string]any{"date": inst.Date.String(), "reason": "program_regenerated"}, nil,
			)); err != nil {
				return err
			}
			if err := s.DeleteInstance(ctx, inst.ID); err != nil {
				return err
			}
			summary.Deleted++
		}

		if !p.Active {
			return nil // deactivation stops future generation
		}
		n, err := e.generateProgram(ctx, s, *p, window.Start, window.End)
		summary.Created += n
		return err
	})
	if err != nil {
		return fail("program regeneration failed", err)
	}

	return ok(fmt.Sprintf("program regenerated (%d created, %d deleted)", summary.Created, summary.Deleted), summary)
}

// generateProgram creates the missing instances for one program across
// [rangeStart, rangeEnd). Existing (program, date) pairs are skipped; the
// store also converts uniqueness violations into created=false, so the
// check-then-insert race degrades to an idempotent no-op.
func (e *Engine) generateProgram(ctx context.Context, s Store, p Program, rangeStart, rangeEnd Date) (int, error) {
	enrollments, err := s.EnrollmentsForProgram(ctx, p.ID)
	if err != nil {
		return 0, fmt.Errorf("enrollments for program %s: %w", p.ID, err)
	}

	created := 0
	for _, date := range ExpandRule(p, rangeStart, rangeEnd) {
		capacity := 0
		for _, en := range enrollments {
			if en.CoversDate(date) {
				capacity++
			}
		}

		inst := Instance{
			ID:        InstanceID(newID()),
			ProgramID: p.ID,
			Date:      date,
			StartTime: p.StartTime,
			EndTime:   p.EndTime,
			VenueID:   p.VenueID,
			Status:    InstancePending,
			Capacity:  capacity,
			CreatedAt: e.Now().UTC(),
		}

		inserted, err := s.InsertInstance(ctx, inst)
		if err != nil {
			return created, fmt.Errorf("insert instance %s/%s: %w", p.ID, date, err)
		}
		if !inserted {
			continue
		}
		created++

		if err := s.AppendAudit(ctx, e.audit(inst.ID, AuditInstanceCreated, nil, map[string]any{
			"program_id": string(p.ID),
			"date":       date.String(),
			"capacity":   capacity,
		})); err != nil {
			return created, err
		}

		if err := e.createChildren(ctx, s, p, inst); err != nil {
			return created, err
		}
	}
	return created, nil
}

// createChildren writes the instance's slot cards plus the staffing and
// transport placeholders generation is responsible for.
func (e *Engine) createChildren(ctx context.Context, s Store, p Program, inst Instance) error {
	hasTransportSlot := false
	for _, tpl := range p.Slots {
		slotType := ClassifySlot(tpl.Label)
		if slotType == SlotPickup || slotType == SlotDropoff {
			hasTransportSlot = true
		}
		card := SlotCard{
			ID:         newID(),
			InstanceID: inst.ID,
			Label:      tpl.Label,
			Type:       slotType,
			Start:      tpl.Start,
			End:        tpl.End,
		}
		if err := s.SaveSlotCard(ctx, card); err != nil {
			return fmt.Errorf("save slot card: %w", err)
		}
	}

	// Manual-staffing programs get an unassigned lead placeholder so the
	// roster shows the empty slot; auto staffing fills shifts in step (b).
	if p.StaffingMode == StaffingManual {
		placeholder := StaffShift{
			ID:         ShiftID(newID()),
			InstanceID: inst.ID,
			Role:       RoleLead,
			Start:      inst.StartTime.On(inst.Date),
			End:        inst.EndTime.On(inst.Date),
			Status:     ShiftPlanned,
			CreatedAt:  e.Now().UTC(),
		}
		if err := s.SaveShift(ctx, placeholder); err != nil {
			return fmt.Errorf("save placeholder shift: %w", err)
		}
	}

	// Transporting programs get an empty run row; vehicle assignment
	// replaces runs wholesale.
	if !p.CentreBased && hasTransportSlot {
		run := VehicleRun{
			ID:         RunID(newID()),
			InstanceID: inst.ID,
			Date:       inst.Date,
			CreatedAt:  e.Now().UTC(),
		}
		if err := s.SaveRun(ctx, run); err != nil {
			return fmt.Errorf("save placeholder run: %w", err)
		}
	}
	return nil
}
