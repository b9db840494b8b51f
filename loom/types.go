/*
Package loom implements the rostering engine core: the rolling-window
scheduler that materializes recurring program templates into dated instances
and allocates participants, staff, and vehicles to each instance.

PURPOSE:
  Programs describe recurring activities ("Tuesday centre group, 9-3").
  The loom maintains a forward-looking window of concrete instances for
  every active program, then fills each instance in three ordered steps:
  participants (from enrollments), staff (ratio-based), vehicles
  (seat-capacity bin packing). Cancellations and staff sickness are
  rebalanced against current state, never recomputed from cached counters.

KEY CONCEPTS IN THIS FILE (types.go):
  - Program: recurring or one-off activity template with a repeat rule
  - Instance: one dated occurrence of a program
  - Allocation: participant <-> instance link carrying billing intent
  - StaffShift / VehicleRun: staffing and transport children of an instance
  - OptimisationState: typed per-step completion record on each instance

DESIGN PRINCIPLES:
  1. Closed enums: every status is a typed string with a fixed value set
  2. History over deletion: allocations and shifts are mutated, not removed,
     wherever billing or staffing history matters
  3. Re-derivation: staffing requirements are always recomputed from the
     current planned-allocation count, never decremented from a stale value
  4. Auditability: every state transition writes an audit entry in the same
     transaction as the change it documents

SEE ALSO:
  - window.go:   window computation and repeat-rule expansion
  - generate.go: idempotent instance generation
  - allocate.go: the three allocation sub-steps
  - rebalance.go: cancellation and sickness handling
*/
package loom

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rabs/roster-engine/billing"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	ProgramID     string
	ParticipantID string
	StaffID       string
	VehicleID     string
	VenueID       string
	EnrollmentID  string
	InstanceID    string
	AllocationID  string
	ShiftID       string
	RunID         string
)

// =============================================================================
// PROGRAM - Recurring (or one-off) activity template
// =============================================================================

type RepeatPattern string

const (
	RepeatNone        RepeatPattern = "none"
	RepeatWeekly      RepeatPattern = "weekly"
	RepeatFortnightly RepeatPattern = "fortnightly"
	RepeatMonthly     RepeatPattern = "monthly"
)

func (p RepeatPattern) Valid() bool {
	switch p {
	case RepeatNone, RepeatWeekly, RepeatFortnightly, RepeatMonthly:
		return true
	}
	return false
}

type StaffingMode string

const (
	StaffingAuto   StaffingMode = "auto"
	StaffingManual StaffingMode = "manual"
)

// SlotTemplate is one configured time-slot on a program (e.g. a pickup run
// before the activity). Each generated instance gets one slot card per
// template.
type SlotTemplate struct {
	Label string
	Start TimeOfDay
	End   TimeOfDay
}

type Program struct {
	ID              ProgramID
	Name            string
	Type            string
	StartDate       Date
	EndDate         *Date // nil = open-ended
	Repeat          RepeatPattern
	DaysOfWeek      []time.Weekday
	StartTime       TimeOfDay
	EndTime         TimeOfDay
	VenueID         VenueID
	CentreBased     bool
	StaffingMode    StaffingMode
	AdditionalStaff int
	Slots           []SlotTemplate
	Active          bool
	CreatedAt       time.Time
}

// RunsOn reports whether the program's weekday set includes the given day.
func (p Program) RunsOn(day time.Weekday) bool {
	for _, d := range p.DaysOfWeek {
		if d == day {
			return true
		}
	}
	return false
}

// =============================================================================
// ENROLLMENT - Participant <-> program link driving allocation eligibility
// =============================================================================

type Enrollment struct {
	ID            EnrollmentID
	ParticipantID ParticipantID
	ProgramID     ProgramID
	StartDate     Date
	EndDate       *Date
	Active        bool
	Billing       []billing.Code
	CreatedAt     time.Time
}

// CoversDate reports whether the enrollment is in force on a given date.
func (e Enrollment) CoversDate(d Date) bool {
	if !e.Active || d.Before(e.StartDate) {
		return false
	}
	return e.EndDate == nil || d.BeforeOrEqual(*e.EndDate)
}

// DefaultBilling returns the enrollment's primary billing code, or a zero
// code when none is configured (allocation still proceeds; rate stays zero).
func (e Enrollment) DefaultBilling() billing.Code {
	if len(e.Billing) == 0 {
		return billing.Code{}
	}
	return e.Billing[0]
}

// =============================================================================
// INSTANCE - One dated occurrence of a program
// =============================================================================

type InstanceStatus string

const (
	InstancePending        InstanceStatus = "pending"
	InstanceGenerated      InstanceStatus = "generated"
	InstanceNeedsAttention InstanceStatus = "needs_attention"
)

// StepStatus records the outcome of one optimisation sub-step. The zero
// value means the step has not run.
type StepStatus string

const (
	StepNotRun         StepStatus = ""
	StepComplete       StepStatus = "complete"
	StepInsufficient   StepStatus = "insufficient"
	StepNeedsAttention StepStatus = "needs_attention"
)

// OptimisationState is the typed per-instance record of sub-step completion.
// Invalid combinations are unrepresentable; there is no open-ended JSON
// scratchpad behind this.
type OptimisationState struct {
	StaffingStatus StepStatus `json:"staffing_status"`
	VehicleStatus  StepStatus `json:"vehicle_status"`
	Reoptimized    bool       `json:"reoptimized"`
}

type Instance struct {
	ID           InstanceID
	ProgramID    ProgramID
	Date         Date
	StartTime    TimeOfDay
	EndTime      TimeOfDay
	VenueID      VenueID
	Status       InstanceStatus
	Capacity     int // participant count at generation time
	Optimisation OptimisationState
	CreatedAt    time.Time
}

// =============================================================================
// SLOT CARD - Child time-slot on an instance
// =============================================================================

type SlotType string

const (
	SlotPickup   SlotType = "PICKUP"
	SlotDropoff  SlotType = "DROPOFF"
	SlotActivity SlotType = "ACTIVITY"
)

// ClassifySlot buckets a slot label by keyword: "pick" -> PICKUP,
// "drop" -> DROPOFF, anything else -> ACTIVITY.
func ClassifySlot(label string) SlotType {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "pick"):
		return SlotPickup
	case strings.Contains(l, "drop"):
		return SlotDropoff
	default:
		return SlotActivity
	}
}

type SlotCard struct {
	ID         string
	InstanceID InstanceID
	Label      string
	Type       SlotType
	Start      TimeOfDay
	End        TimeOfDay
}

// =============================================================================
// ALLOCATION - Participant <-> instance link carrying billing intent
// =============================================================================

type AllocationStatus string

const (
	AllocationPlanned   AllocationStatus = "planned"
	AllocationCancelled AllocationStatus = "cancelled"
)

type CancellationType string

const (
	CancellationNone        CancellationType = ""
	CancellationNormal      CancellationType = "normal"
	CancellationShortNotice CancellationType = "short_notice"
)

func (c CancellationType) Valid() bool {
	return c == CancellationNormal || c == CancellationShortNotice
}

type Allocation struct {
	ID            AllocationID
	InstanceID    InstanceID
	ParticipantID ParticipantID
	BillingCode   string
	PlannedRate   decimal.Decimal
	Hours         decimal.Decimal
	Status        AllocationStatus
	Cancellation  CancellationType
	CreatedAt     time.Time
}

// =============================================================================
// STAFF SHIFT - Instance <-> staff link (staff may be unassigned)
// =============================================================================

type ShiftRole string

const (
	RoleLead    ShiftRole = "lead"
	RoleSupport ShiftRole = "support"
	RoleDriver  ShiftRole = "driver"
)

type ShiftStatus string

const (
	ShiftPlanned  ShiftStatus = "planned"
	ShiftReplaced ShiftStatus = "replaced"
	ShiftFlagged  ShiftStatus = "flagged"
)

type StaffShift struct {
	ID         ShiftID
	InstanceID InstanceID
	StaffID    StaffID // empty = unassigned placeholder pending manual fill
	Role       ShiftRole
	Start      time.Time
	End        time.Time
	Status     ShiftStatus
	Note       string
	CreatedAt  time.Time
}

func (s StaffShift) Hours() float64 { return s.End.Sub(s.Start).Hours() }

// =============================================================================
// VEHICLE RUN - Instance <-> vehicle link with seat manifest
// =============================================================================

type Stop struct {
	Sequence      int
	ParticipantID ParticipantID
}

type VehicleRun struct {
	ID                RunID
	InstanceID        InstanceID
	VehicleID         VehicleID // empty = placeholder pending assignment
	Date              Date
	SeatsUsed         int
	Stops             []Stop
	EstimatedDuration time.Duration
	EstimatedKM       int
	CreatedAt         time.Time
}

// =============================================================================
// REFERENCE ENTITIES
// =============================================================================

type Participant struct {
	ID        ParticipantID
	Name      string
	Suburb    string
	CreatedAt time.Time
}

// AvailabilityRule is one weekly-recurring availability span for a staff
// member ("Mondays 08:00-16:00").
type AvailabilityRule struct {
	Weekday time.Weekday
	Start   TimeOfDay
	End     TimeOfDay
}

// Covers reports whether the rule's span fully contains [start, end) on the
// given weekday.
func (r AvailabilityRule) Covers(day time.Weekday, start, end TimeOfDay) bool {
	return r.Weekday == day && r.Start.BeforeOrEqual(start) && r.End.AfterOrEqual(end)
}

type Staff struct {
	ID              StaffID
	Name            string
	ContractedHours float64 // per week
	Availability    []AvailabilityRule
	CreatedAt       time.Time
}

// AvailableFor reports whether any weekly rule fully covers the span.
func (s Staff) AvailableFor(day time.Weekday, start, end TimeOfDay) bool {
	for _, r := range s.Availability {
		if r.Covers(day, start, end) {
			return true
		}
	}
	return false
}

type Vehicle struct {
	ID        VehicleID
	Name      string
	Rego      string
	Capacity  int // total seats including the driver's
	CreatedAt time.Time
}

// PassengerSeats is the usable participant capacity: one seat is always
// reserved for the driver.
func (v Vehicle) PassengerSeats() int {
	if v.Capacity <= 1 {
		return 0
	}
	return v.Capacity - 1
}

type Venue struct {
	ID        VenueID
	Name      string
	Address   string
	CreatedAt time.Time
}

// =============================================================================
// UNAVAILABILITY - Blackout records consumed by the availability oracle
// =============================================================================

type EntityKind string

const (
	KindStaff   EntityKind = "staff"
	KindVehicle EntityKind = "vehicle"
)

type Unavailability struct {
	ID        string
	Kind      EntityKind
	EntityID  string
	Start     time.Time
	End       time.Time
	Reason    string
	CreatedAt time.Time
}

// =============================================================================
// SETTINGS - Persisted loom configuration (no ambient globals)
// =============================================================================

const (
	MinWindowWeeks = 1
	MaxWindowWeeks = 16

	// DefaultWindowWeeks seeds the settings row on first run.
	DefaultWindowWeeks = 8
)

type Settings struct {
	WindowWeeks int
}

// =============================================================================
// AUDIT LOG - Append-only record of instance state transitions
// =============================================================================

type AuditAction string

const (
	AuditInstanceCreated      AuditAction = "instance_created"
	AuditInstanceDeleted      AuditAction = "instance_deleted"
	AuditParticipantAllocated AuditAction = "participant_allocated"
	AuditParticipantCancelled AuditAction = "participant_cancelled"
	AuditStaffAssigned        AuditAction = "staff_assigned"
	AuditStaffReleased        AuditAction = "staff_released"
	AuditStaffReplaced        AuditAction = "staff_replaced"
	AuditStaffFlagged         AuditAction = "staff_flagged"
	AuditVehiclesAssigned     AuditAction = "vehicles_assigned"
	AuditReoptimizeStarted    AuditAction = "reoptimize_started"
	AuditBlackoutFlagged      AuditAction = "blackout_flagged"
)

type AuditEntry struct {
	ID         string
	InstanceID InstanceID
	Action     AuditAction
	Before     map[string]any
	After      map[string]any
	Actor      string
	At         time.Time
}
