/*
store.go - Persistence interface between the engine and the database

PURPOSE:
  Defines the transactional store the engine runs against. The sqlite
  implementation backs production; the in-memory implementation backs tests.

TRANSACTION BOUNDARIES:
  Each engine operation (one generation pass, one allocation sub-step, one
  cancellation, one sickness handling) runs inside a single WithTx call:
  all-or-nothing commit with rollback on any error inside that step. The
  three allocation sub-steps are three SEPARATE WithTx calls so a later
  failing step never rolls back an earlier success.

HISTORY CONTRACT:
  - Allocations: inserted and status-mutated, never deleted (billing history)
  - Shifts: sickness marks rows replaced/flagged and inserts new rows;
    physical deletion happens only for excess support trims and reoptimize
  - Audit entries: append-only, no update or delete methods exist

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: production SQLite
  - loom/store/memory.go:   in-memory for tests
*/
package loom

import (
	"context"
	"time"
)

// Store is the flat persistence surface. Methods operate in whatever
// transactional scope they are called under (see TxStore).
type Store interface {
	// Programs
	SaveProgram(ctx context.Context, p Program) error
	GetProgram(ctx context.Context, id ProgramID) (*Program, error)
	ListPrograms(ctx context.Context, activeOnly bool) ([]Program, error)

	// Enrollments
	SaveEnrollment(ctx context.Context, e Enrollment) error
	EnrollmentsForProgram(ctx context.Context, id ProgramID) ([]Enrollment, error)

	// Reference entities
	SaveParticipant(ctx context.Context, p Participant) error
	GetParticipant(ctx context.Context, id ParticipantID) (*Participant, error)
	SaveStaff(ctx context.Context, s Staff) error
	GetStaff(ctx context.Context, id StaffID) (*Staff, error)
	ListStaff(ctx context.Context) ([]Staff, error)
	SaveVehicle(ctx context.Context, v Vehicle) error
	ListVehicles(ctx context.Context) ([]Vehicle, error)
	SaveVenue(ctx context.Context, v Venue) error
	ListVenues(ctx context.Context) ([]Venue, error)

	// Instances. InsertInstance reports created=false when an instance for
	// the same (program, date) already exists; a storage-level uniqueness
	// violation is treated the same way, which makes generation idempotent
	// even under the check-then-insert race.
	InsertInstance(ctx context.Context, inst Instance) (created bool, err error)
	GetInstance(ctx context.Context, id InstanceID) (*Instance, error)
	ListInstances(ctx context.Context, from, to Date) ([]Instance, error)
	ListInstancesForProgram(ctx context.Context, id ProgramID, from, to Date) ([]Instance, error)
	UpdateInstanceStatus(ctx context.Context, id InstanceID, status InstanceStatus) error
	UpdateOptimisation(ctx context.Context, id InstanceID, state OptimisationState) error
	DeleteInstance(ctx context.Context, id InstanceID) error // cascades to children

	// Slot cards
	SaveSlotCard(ctx context.Context, c SlotCard) error
	SlotCardsForInstance(ctx context.Context, id InstanceID) ([]SlotCard, error)

	// Allocations
	SaveAllocation(ctx context.Context, a Allocation) error
	GetAllocation(ctx context.Context, id AllocationID) (*Allocation, error)
	AllocationsForInstance(ctx context.Context, id InstanceID) ([]Allocation, error)
	UpdateAllocationStatus(ctx context.Context, id AllocationID, status AllocationStatus, ctype CancellationType) error

	// Staff shifts
	SaveShift(ctx context.Context, s StaffShift) error
	GetShift(ctx context.Context, id ShiftID) (*StaffShift, error)
	ShiftsForInstance(ctx context.Context, id InstanceID) ([]StaffShift, error)
	ShiftsForStaff(ctx context.Context, id StaffID, from, to Date) ([]StaffShift, error)
	UpdateShiftStatus(ctx context.Context, id ShiftID, status ShiftStatus, note string) error
	DeleteShift(ctx context.Context, id ShiftID) error
	DeleteShiftsForInstance(ctx context.Context, id InstanceID) error

	// Vehicle runs
	SaveRun(ctx context.Context, r VehicleRun) error
	RunsForInstance(ctx context.Context, id InstanceID) ([]VehicleRun, error)
	RunsOnDate(ctx context.Context, d Date) ([]VehicleRun, error)
	DeleteRunsForInstance(ctx context.Context, id InstanceID) error

	// Unavailability (blackouts)
	SaveUnavailability(ctx context.Context, u Unavailability) error
	OverlappingUnavailability(ctx context.Context, kind EntityKind, entityID string, start, end time.Time) ([]Unavailability, error)

	// Settings
	GetSettings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error

	// Audit log (append-only)
	AppendAudit(ctx context.Context, e AuditEntry) error
	AuditForInstance(ctx context.Context, id InstanceID) ([]AuditEntry, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back; otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
