/*
availability.go - The availability oracle

PURPOSE:
  Answers "is staff/vehicle X free during [date, start, end)?" against
  blackout records, and pushes blackout creation back into the loom by
  flagging affected instances.

OVERLAP CONTRACT:
  Two half-open intervals overlap iff
      existingStart < queryEnd && existingEnd > queryStart
  This exact comparison is used everywhere overlap is tested; intervals
  that only touch at a boundary do not overlap.
*/
package loom

import (
	"context"
	"fmt"
	"time"
)

// Overlaps is the single overlap predicate for half-open intervals.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// Oracle answers availability questions against the store's blackout and
// weekly-availability records.
type Oracle struct {
	Store Store
}

// IsStaffAvailable reports whether no blackout for the staff member overlaps
// [start, end) on the given date. Weekly availability rules are a separate
// check applied during candidate selection.
func (o Oracle) IsStaffAvailable(ctx context.Context, id StaffID, date Date, start, end TimeOfDay) (bool, error) {
	return o.isFree(ctx, KindStaff, string(id), start.On(date), end.On(date))
}

// IsVehicleAvailable reports whether no blackout for the vehicle overlaps
// [start, end) on the given date.
func (o Oracle) IsVehicleAvailable(ctx context.Context, id VehicleID, date Date, start, end TimeOfDay) (bool, error) {
	return o.isFree(ctx, KindVehicle, string(id), start.On(date), end.On(date))
}

func (o Oracle) isFree(ctx context.Context, kind EntityKind, entityID string, start, end time.Time) (bool, error) {
	records, err := o.Store.OverlappingUnavailability(ctx, kind, entityID, start, end)
	if err != nil {
		return false, fmt.Errorf("availability lookup for %s %s: %w", kind, entityID, err)
	}
	return len(records) == 0, nil
}

// AvailableStaff returns the staff free for the instance's span, ordered
// descending by remaining contracted hours (contracted hours minus the sum
// of currently-planned shift hours in the instance's Monday-to-Sunday week).
// A greedy load-balancing ordering, not an optimal one.
func (o Oracle) AvailableStaff(ctx context.Context, date Date, start, end TimeOfDay, exclude map[StaffID]bool) ([]Staff, error) {
	all, err := o.Store.ListStaff(ctx)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}

	weekStart, weekEnd := weekOf(date)

	type ranked struct {
		staff     Staff
		remaining float64
	}
	var pool []ranked
	for _, s := range all {
		if exclude[s.ID] {
			continue
		}
		if !s.AvailableFor(date.Weekday(), start, end) {
			continue
		}
		free, err := o.IsStaffAvailable(ctx, s.ID, date, start, end)
		if err != nil {
			return nil, err
		}
		if !free {
			continue
		}

		shifts, err := o.Store.ShiftsForStaff(ctx, s.ID, weekStart, weekEnd)
		if err != nil {
			return nil, fmt.Errorf("shifts for staff %s: %w", s.ID, err)
		}
		planned := 0.0
		for _, sh := range shifts {
			if sh.Status == ShiftPlanned {
				planned += sh.Hours()
			}
		}
		pool = append(pool, ranked{staff: s, remaining: s.ContractedHours - planned})
	}

	// Insertion sort keeps ties in store order, matching query-order
	// expectations elsewhere.
	for i := 1; i < len(pool); i++ {
		for j := i; j > 0 && pool[j].remaining > pool[j-1].remaining; j-- {
			pool[j], pool[j-1] = pool[j-1], pool[j]
		}
	}

	out := make([]Staff, len(pool))
	for i, r := range pool {
		out[i] = r.staff
	}
	return out, nil
}

// weekOf returns the Monday-to-Sunday week containing the date.
func weekOf(d Date) (Date, Date) {
	offset := (int(d.Weekday()) + 6) % 7 // Monday = 0
	start := d.AddDays(-offset)
	return start, start.AddDays(6)
}
