/*
engine.go - Engine wiring and read projections

PURPOSE:
  The Engine binds the store, the availability oracle, and a clock into the
  operation surface the API exposes: window generation/resize, the three
  allocation sub-steps, reoptimization, rebalancing, and the read
  projections the UI consumes.

CONCURRENCY:
  The engine holds no mutable state of its own; concurrency comes from
  simultaneous calls racing on the same program or instance. Every mutation
  runs inside a store transaction. Callers must not invoke overlapping
  regenerations for the same program and range; the storage layer's unique
  (program, date) index converts that race into idempotent no-ops.
*/
package loom

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rabs/roster-engine/billing"
)

// Engine is the loom operation surface.
type Engine struct {
	Store TxStore
	Now   func() time.Time // injectable clock for tests
	Actor string           // recorded on audit entries
}

func NewEngine(store TxStore) *Engine {
	return &Engine{Store: store, Now: time.Now, Actor: "system"}
}

func (e *Engine) today() Date { return DateOf(e.Now().UTC()) }

func (e *Engine) oracle(s Store) Oracle { return Oracle{Store: s} }

func newID() string { return uuid.NewString() }

func (e *Engine) audit(instanceID InstanceID, action AuditAction, before, after map[string]any) AuditEntry {
	return AuditEntry{
		ID:         newID(),
		InstanceID: instanceID,
		Action:     action,
		Before:     before,
		After:      after,
		Actor:      e.Actor,
		At:         e.Now().UTC(),
	}
}

// =============================================================================
// READ PROJECTIONS
// =============================================================================

// InstanceDetail is the full per-instance projection: the instance plus its
// participants, staff, vehicles, slot cards, audit trail, and billing lines.
type InstanceDetail struct {
	Instance    Instance           `json:"instance"`
	ProgramName string             `json:"program_name"`
	Allocations []Allocation       `json:"allocations"`
	Shifts      []StaffShift       `json:"shifts"`
	Runs        []VehicleRun       `json:"runs"`
	SlotCards   []SlotCard         `json:"slot_cards"`
	Audit       []AuditEntry       `json:"audit"`
	Billing     []billing.LineItem `json:"billing"`
	BillingDue  decimal.Decimal    `json:"billing_due"`
}

// Instances returns the instances in [from, to).
func (e *Engine) Instances(ctx context.Context, from, to Date) Result {
	instances, err := e.Store.ListInstances(ctx, from, to)
	if err != nil {
		return fail("failed to list instances", err)
	}
	return ok(fmt.Sprintf("%d instances", len(instances)), instances)
}

// InstanceDetails returns the full projection for one instance.
func (e *Engine) InstanceDetails(ctx context.Context, id InstanceID) Result {
	inst, err := e.Store.GetInstance(ctx, id)
	if err != nil {
		return fail("failed to load instance", err)
	}
	if inst == nil {
		return fail("instance not found", ErrInstanceNotFound)
	}

	detail := InstanceDetail{Instance: *inst}

	if prog, err := e.Store.GetProgram(ctx, inst.ProgramID); err == nil && prog != nil {
		detail.ProgramName = prog.Name
	}

	if detail.Allocations, err = e.Store.AllocationsForInstance(ctx, id); err != nil {
		return fail("failed to load allocations", err)
	}
	if detail.Shifts, err = e.Store.ShiftsForInstance(ctx, id); err != nil {
		return fail("failed to load shifts", err)
	}
	if detail.Runs, err = e.Store.RunsForInstance(ctx, id); err != nil {
		return fail("failed to load vehicle runs", err)
	}
	if detail.SlotCards, err = e.Store.SlotCardsForInstance(ctx, id); err != nil {
		return fail("failed to load slot cards", err)
	}
	if detail.Audit, err = e.Store.AuditForInstance(ctx, id); err != nil {
		return fail("failed to load audit trail", err)
	}

	for _, a := range detail.Allocations {
		detail.Billing = append(detail.Billing, billing.Charge(a.BillingCode, a.PlannedRate, a.Hours, allocationBillable(a)))
	}
	detail.BillingDue = billing.Total(detail.Billing)

	return ok("instance details", detail)
}

// allocationBillable applies the cancellation billing rule: planned
// allocations and short-notice cancellations bill; normal cancellations do
// not.
func allocationBillable(a Allocation) bool {
	if a.Status == AllocationPlanned {
		return true
	}
	return a.Cancellation == CancellationShortNotice
}

// =============================================================================
// BLACKOUT CALLBACK
// =============================================================================

// RecordUnavailability persists a blackout record and flags every instance
// whose planned staffing or transport the blackout overlaps. This is the one
// path where the availability subsystem pushes state back into the loom.
func (e *Engine) RecordUnavailability(ctx context.Context, u Unavailability) Result {
	if u.ID == "" {
		u.ID = newID()
	}
	u.CreatedAt = e.Now().UTC()

	var flagged []InstanceID
	err := e.Store.WithTx(ctx, func(s Store) error {
		if err := s.SaveUnavailability(ctx, u); err != nil {
			return fmt.Errorf("save unavailability: %w", err)
		}

		from := DateOf(u.Start)
		to := DateOf(u.End).AddDays(1)
		instances, err := s.ListInstances(ctx, from, to)
		if err != nil {
			return fmt.Errorf("list instances: %w", err)
		}

		for _, inst := range instances {
			hit, err := e.blackoutHits(ctx, s, inst, u)
			if err != nil {
				return err
			}
			if !hit {
				continue
			}
			if err := s.UpdateInstanceStatus(ctx, inst.ID, InstanceNeedsAttention); err != nil {
				return err
			}
			if err := s.AppendAudit(ctx, e.audit(inst.ID, AuditBlackoutFlagged,
				map[string]any{"status": string(inst.Status)},
				map[string]any{"status": string(InstanceNeedsAttention), "entity": u.EntityID, "kind": string(u.Kind)},
			)); err != nil {
				return err
			}
			flagged = append(flagged, inst.ID)
		}
		return nil
	})
	if err != nil {
		return fail("failed to record unavailability", err)
	}

	return ok(fmt.Sprintf("unavailability recorded; %d instances flagged", len(flagged)), map[string]any{
		"unavailability_id": u.ID,
		"flagged_instances": flagged,
	})
}

func (e *Engine) blackoutHits(ctx context.Context, s Store, inst Instance, u Unavailability) (bool, error) {
	switch u.Kind {
	case KindStaff:
		shifts, err := s.ShiftsForInstance(ctx, inst.ID)
		if err != nil {
			return false, err
		}
		for _, sh := range shifts {
			if sh.Status == ShiftPlanned && string(sh.StaffID) == u.EntityID && Overlaps(u.Start, u.End, sh.Start, sh.End) {
				return true, nil
			}
		}
	case KindVehicle:
		runs, err := s.RunsForInstance(ctx, inst.ID)
		if err != nil {
			return false, err
		}
		span := Overlaps(u.Start, u.End, inst.StartTime.On(inst.Date), inst.EndTime.On(inst.Date))
		for _, r := range runs {
			if string(r.VehicleID) == u.EntityID && span {
				return true, nil
			}
		}
	}
	return false, nil
}
