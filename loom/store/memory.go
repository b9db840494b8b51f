// Package store provides loom.TxStore implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/rabs/roster-engine/loom"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements loom.TxStore with slice-backed tables. Rows keep
// insertion order, which stands in for query order everywhere the engine
// depends on it. WithTx is simulated with a snapshot + rollback on error.
type Memory struct {
	mu sync.Mutex
	st *state
}

func NewMemory() *Memory {
	return &Memory{st: &state{settings: loom.Settings{WindowWeeks: loom.DefaultWindowWeeks}}}
}

// state holds the tables. Its methods implement loom.Store without locking;
// Memory wraps them with the mutex.
type state struct {
	programs       []loom.Program
	enrollments    []loom.Enrollment
	participants   []loom.Participant
	staff          []loom.Staff
	vehicles       []loom.Vehicle
	venues         []loom.Venue
	instances      []loom.Instance
	slotCards      []loom.SlotCard
	allocations    []loom.Allocation
	shifts         []loom.StaffShift
	runs           []loom.VehicleRun
	unavailability []loom.Unavailability
	settings       loom.Settings
	audit          []loom.AuditEntry
}

func (s *state) clone() *state {
	c := *s
	c.programs = append([]loom.Program(nil), s.programs...)
	c.enrollments = append([]loom.Enrollment(nil), s.enrollments...)
	c.participants = append([]loom.Participant(nil), s.participants...)
	c.staff = append([]loom.Staff(nil), s.staff...)
	c.vehicles = append([]loom.Vehicle(nil), s.vehicles...)
	c.venues = append([]loom.Venue(nil), s.venues...)
	c.instances = append([]loom.Instance(nil), s.instances...)
	c.slotCards = append([]loom.SlotCard(nil), s.slotCards...)
	c.allocations = append([]loom.Allocation(nil), s.allocations...)
	c.shifts = append([]loom.StaffShift(nil), s.shifts...)
	c.runs = append([]loom.VehicleRun(nil), s.runs...)
	c.unavailability = append([]loom.Unavailability(nil), s.unavailability...)
	c.audit = append([]loom.AuditEntry(nil), s.audit...)
	return &c
}

// WithTx executes fn against the live state; on error the pre-call snapshot
// is restored.
func (m *Memory) WithTx(ctx context.Context, fn func(loom.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// =============================================================================
// PROGRAMS
// =============================================================================

func (s *state) SaveProgram(_ context.Context, p loom.Program) error {
	for i := range s.programs {
		if s.programs[i].ID == p.ID {
			s.programs[i] = p
			return nil
		}
	}
	s.programs = append(s.programs, p)
	return nil
}

func (s *state) GetProgram(_ context.Context, id loom.ProgramID) (*loom.Program, error) {
	for i := range s.programs {
		if s.programs[i].ID == id {
			p := s.programs[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (s *state) ListPrograms(_ context.Context, activeOnly bool) ([]loom.Program, error) {
	var out []loom.Program
	for _, p := range s.programs {
		if !activeOnly || p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

// =============================================================================
// ENROLLMENTS AND REFERENCE ENTITIES
// =============================================================================

func (s *state) SaveEnrollment(_ context.Context, e loom.Enrollment) error {
	for i := range s.enrollments {
		if s.enrollments[i].ID == e.ID {
			s.enrollments[i] = e
			return nil
		}
	}
	s.enrollments = append(s.enrollments, e)
	return nil
}

func (s *state) EnrollmentsForProgram(_ context.Context, id loom.ProgramID) ([]loom.Enrollment, error) {
	var out []loom.Enrollment
	for _, e := range s.enrollments {
		if e.ProgramID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *state) SaveParticipant(_ context.Context, p loom.Participant) error {
	for i := range s.participants {
		if s.participants[i].ID == p.ID {
			s.participants[i] = p
			return nil
		}
	}
	s.participants = append(s.participants, p)
	return nil
}

func (s *state) GetParticipant(_ context.Context, id loom.ParticipantID) (*loom.Participant, error) {
	for i := range s.participants {
		if s.participants[i].ID == id {
			p := s.participants[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (s *state) SaveStaff(_ context.Context, st loom.Staff) error {
	for i := range s.staff {
		if s.staff[i].ID == st.ID {
			s.staff[i] = st
			return nil
		}
	}
	s.staff = append(s.staff, st)
	return nil
}

func (s *state) GetStaff(_ context.Context, id loom.StaffID) (*loom.Staff, error) {
	for i := range s.staff {
		if s.staff[i].ID == id {
			st := s.staff[i]
			return &st, nil
		}
	}
	return nil, nil
}

func (s *state) ListStaff(_ context.Context) ([]loom.Staff, error) {
	return append([]loom.Staff(nil), s.staff...), nil
}

func (s *state) SaveVehicle(_ context.Context, v loom.Vehicle) error {
	for i := range s.vehicles {
		if s.vehicles[i].ID == v.ID {
			s.vehicles[i] = v
			return nil
		}
	}
	s.vehicles = append(s.vehicles, v)
	return nil
}

func (s *state) ListVehicles(_ context.Context) ([]loom.Vehicle, error) {
	return append([]loom.Vehicle(nil), s.vehicles...), nil
}

func (s *state) SaveVenue(_ context.Context, v loom.Venue) error {
	for i := range s.venues {
		if s.venues[i].ID == v.ID {
			s.venues[i] = v
			return nil
		}
	}
	s.venues = append(s.venues, v)
	return nil
}

func (s *state) ListVenues(_ context.Context) ([]loom.Venue, error) {
	return append([]loom.Venue(nil), s.venues...), nil
}

// =============================================================================
// INSTANCES
// =============================================================================

func (s *state) InsertInstance(_ context.Context, inst loom.Instance) (bool, error) {
	for _, existing := range s.instances {
		if existing.ProgramID == inst.ProgramID && existing.Date.Equal(inst.Date) {
			return false, nil
		}
	}
	s.instances = append(s.instances, inst)
	return true, nil
}

func (s *state) GetInstance(_ context.Context, id loom.InstanceID) (*loom.Instance, error) {
	for i := range s.instances {
		if s.instances[i].ID == id {
			inst := s.instances[i]
			return &inst, nil
		}
	}
	return nil, nil
}

func (s *state) ListInstances(_ context.Context, from, to loom.Date) ([]loom.Instance, error) {
	var out []loom.Instance
	for _, inst := range s.instances {
		if inst.Date.AfterOrEqual(from) && inst.Date.Before(to) {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (s *state) ListInstancesForProgram(_ context.Context, id loom.ProgramID, from, to loom.Date) ([]loom.Instance, error) {
	var out []loom.Instance
	for _, inst := range s.instances {
		if inst.ProgramID == id && inst.Date.AfterOrEqual(from) && inst.Date.Before(to) {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (s *state) UpdateInstanceStatus(_ context.Context, id loom.InstanceID, status loom.InstanceStatus) error {
	for i := range s.instances {
		if s.instances[i].ID == id {
			s.instances[i].Status = status
			return nil
		}
	}
	return loom.ErrInstanceNotFound
}

func (s *state) UpdateOptimisation(_ context.Context, id loom.InstanceID, state loom.OptimisationState) error {
	for i := range s.instances {
		if s.instances[i].ID == id {
			s.instances[i].Optimisation = state
			return nil
		}
	}
	return loom.ErrInstanceNotFound
}

func (s *state) DeleteInstance(ctx context.Context, id loom.InstanceID) error {
	kept := s.instances[:0]
	for _, inst := range s.instances {
		if inst.ID != id {
			kept = append(kept, inst)
		}
	}
	s.instances = append([]loom.Instance(nil), kept...)

	// Cascade to children, as the sqlite schema does with foreign keys.
	var cards []loom.SlotCard
	for _, c := range s.slotCards {
		if c.InstanceID != id {
			cards = append(cards, c)
		}
	}
	s.slotCards = cards

	var allocs []loom.Allocation
	for _, a := range s.allocations {
		if a.InstanceID != id {
			allocs = append(allocs, a)
		}
	}
	s.allocations = allocs

	if err := s.DeleteShiftsForInstance(ctx, id); err != nil {
		return err
	}
	if err := s.DeleteRunsForInstance(ctx, id); err != nil {
		return err
	}

	var audit []loom.AuditEntry
	for _, e := range s.audit {
		if e.InstanceID != id {
			audit = append(audit, e)
		}
	}
	s.audit = audit
	return nil
}

// =============================================================================
// SLOT CARDS
// =============================================================================

func (s *state) SaveSlotCard(_ context.Context, c loom.SlotCard) error {
	s.slotCards = append(s.slotCards, c)
	return nil
}

func (s *state) SlotCardsForInstance(_ context.Context, id loom.InstanceID) ([]loom.SlotCard, error) {
	var out []loom.SlotCard
	for _, c := range s.slotCards {
		if c.InstanceID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func (s *state) SaveAllocation(_ context.Context, a loom.Allocation) error {
	for i := range s.allocations {
		if s.allocations[i].ID == a.ID {
			s.allocations[i] = a
			return nil
		}
	}
	s.allocations = append(s.allocations, a)
	return nil
}

func (s *state) GetAllocation(_ context.Context, id loom.AllocationID) (*loom.Allocation, error) {
	for i := range s.allocations {
		if s.allocations[i].ID == id {
			a := s.allocations[i]
			return &a, nil
		}
	}
	return nil, nil
}

func (s *state) AllocationsForInstance(_ context.Context, id loom.InstanceID) ([]loom.Allocation, error) {
	var out []loom.Allocation
	for _, a := range s.allocations {
		if a.InstanceID == id {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *state) UpdateAllocationStatus(_ context.Context, id loom.AllocationID, status loom.AllocationStatus, ctype loom.CancellationType) error {
	for i := range s.allocations {
		if s.allocations[i].ID == id {
			s.allocations[i].Status = status
			s.allocations[i].Cancellation = ctype
			return nil
		}
	}
	return loom.ErrAllocationNotFound
}

// =============================================================================
// STAFF SHIFTS
// =============================================================================

func (s *state) SaveShift(_ context.Context, sh loom.StaffShift) error {
	for i := range s.shifts {
		if s.shifts[i].ID == sh.ID {
			s.shifts[i] = sh
			return nil
		}
	}
	s.shifts = append(s.shifts, sh)
	return nil
}

func (s *state) GetShift(_ context.Context, id loom.ShiftID) (*loom.StaffShift, error) {
	for i := range s.shifts {
		if s.shifts[i].ID == id {
			sh := s.shifts[i]
			return &sh, nil
		}
	}
	return nil, nil
}

func (s *state) ShiftsForInstance(_ context.Context, id loom.InstanceID) ([]loom.StaffShift, error) {
	var out []loom.StaffShift
	for _, sh := range s.shifts {
		if sh.InstanceID == id {
			out = append(out, sh)
		}
	}
	return out, nil
}

func (s *state) ShiftsForStaff(_ context.Context, id loom.StaffID, from, to loom.Date) ([]loom.StaffShift, error) {
	var out []loom.StaffShift
	for _, sh := range s.shifts {
		if sh.StaffID != id {
			continue
		}
		d := loom.DateOf(sh.Start)
		if d.AfterOrEqual(from) && d.BeforeOrEqual(to) {
			out = append(out, sh)
		}
	}
	return out, nil
}

func (s *state) UpdateShiftStatus(_ context.Context, id loom.ShiftID, status loom.ShiftStatus, note string) error {
	for i := range s.shifts {
		if s.shifts[i].ID == id {
			s.shifts[i].Status = status
			s.shifts[i].Note = note
			return nil
		}
	}
	return loom.ErrShiftNotFound
}

func (s *state) DeleteShift(_ context.Context, id loom.ShiftID) error {
	var kept []loom.StaffShift
	for _, sh := range s.shifts {
		if sh.ID != id {
			kept = append(kept, sh)
		}
	}
	s.shifts = kept
	return nil
}

func (s *state) DeleteShiftsForInstance(_ context.Context, id loom.InstanceID) error {
	var kept []loom.StaffShift
	for _, sh := range s.shifts {
		if sh.InstanceID != id {
			kept = append(kept, sh)
		}
	}
	s.shifts = kept
	return nil
}

// =============================================================================
// VEHICLE RUNS
// =============================================================================

func (s *state) SaveRun(_ context.Context, r loom.VehicleRun) error {
	for i := range s.runs {
		if s.runs[i].ID == r.ID {
			s.runs[i] = r
			return nil
		}
	}
	s.runs = append(s.runs, r)
	return nil
}

func (s *state) RunsForInstance(_ context.Context, id loom.InstanceID) ([]loom.VehicleRun, error) {
	var out []loom.VehicleRun
	for _, r := range s.runs {
		if r.InstanceID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *state) RunsOnDate(_ context.Context, d loom.Date) ([]loom.VehicleRun, error) {
	var out []loom.VehicleRun
	for _, r := range s.runs {
		if r.Date.Equal(d) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *state) DeleteRunsForInstance(_ context.Context, id loom.InstanceID) error {
	var kept []loom.VehicleRun
	for _, r := range s.runs {
		if r.InstanceID != id {
			kept = append(kept, r)
		}
	}
	s.runs = kept
	return nil
}

// =============================================================================
// UNAVAILABILITY, SETTINGS, AUDIT
// =============================================================================

func (s *state) SaveUnavailability(_ context.Context, u loom.Unavailability) error {
	s.unavailability = append(s.unavailability, u)
	return nil
}

func (s *state) OverlappingUnavailability(_ context.Context, kind loom.EntityKind, entityID string, start, end time.Time) ([]loom.Unavailability, error) {
	var out []loom.Unavailability
	for _, u := range s.unavailability {
		if u.Kind == kind && u.EntityID == entityID && loom.Overlaps(u.Start, u.End, start, end) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *state) GetSettings(_ context.Context) (loom.Settings, error) {
	return s.settings, nil
}

func (s *state) SaveSettings(_ context.Context, settings loom.Settings) error {
	s.settings = settings
	return nil
}

func (s *state) AppendAudit(_ context.Context, e loom.AuditEntry) error {
	s.audit = append(s.audit, e)
	return nil
}

func (s *state) AuditForInstance(_ context.Context, id loom.InstanceID) ([]loom.AuditEntry, error) {
	var out []loom.AuditEntry
	for _, e := range s.audit {
		if e.InstanceID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// MEMORY WRAPPERS - Lock, then delegate to the state methods above
// =============================================================================

func (m *Memory) SaveProgram(ctx context.Context, p loom.Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveProgram(ctx, p)
}

func (m *Memory) GetProgram(ctx context.Context, id loom.ProgramID) (*loom.Program, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetProgram(ctx, id)
}

func (m *Memory) ListPrograms(ctx context.Context, activeOnly bool) ([]loom.Program, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListPrograms(ctx, activeOnly)
}

func (m *Memory) SaveEnrollment(ctx context.Context, e loom.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveEnrollment(ctx, e)
}

func (m *Memory) EnrollmentsForProgram(ctx context.Context, id loom.ProgramID) ([]loom.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.EnrollmentsForProgram(ctx, id)
}

func (m *Memory) SaveParticipant(ctx context.Context, p loom.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveParticipant(ctx, p)
}

func (m *Memory) GetParticipant(ctx context.Context, id loom.ParticipantID) (*loom.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetParticipant(ctx, id)
}

func (m *Memory) SaveStaff(ctx context.Context, s loom.Staff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveStaff(ctx, s)
}

func (m *Memory) GetStaff(ctx context.Context, id loom.StaffID) (*loom.Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetStaff(ctx, id)
}

func (m *Memory) ListStaff(ctx context.Context) ([]loom.Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListStaff(ctx)
}

func (m *Memory) SaveVehicle(ctx context.Context, v loom.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveVehicle(ctx, v)
}

func (m *Memory) ListVehicles(ctx context.Context) ([]loom.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListVehicles(ctx)
}

func (m *Memory) SaveVenue(ctx context.Context, v loom.Venue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveVenue(ctx, v)
}

func (m *Memory) ListVenues(ctx context.Context) ([]loom.Venue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListVenues(ctx)
}

func (m *Memory) InsertInstance(ctx context.Context, inst loom.Instance) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertInstance(ctx, inst)
}

func (m *Memory) GetInstance(ctx context.Context, id loom.InstanceID) (*loom.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetInstance(ctx, id)
}

func (m *Memory) ListInstances(ctx context.Context, from, to loom.Date) ([]loom.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListInstances(ctx, from, to)
}

func (m *Memory) ListInstancesForProgram(ctx context.Context, id loom.ProgramID, from, to loom.Date) ([]loom.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListInstancesForProgram(ctx, id, from, to)
}

func (m *Memory) UpdateInstanceStatus(ctx context.Context, id loom.InstanceID, status loom.InstanceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateInstanceStatus(ctx, id, status)
}

func (m *Memory) UpdateOptimisation(ctx context.Context, id loom.InstanceID, state loom.OptimisationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateOptimisation(ctx, id, state)
}

func (m *Memory) DeleteInstance(ctx context.Context, id loom.InstanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteInstance(ctx, id)
}

func (m *Memory) SaveSlotCard(ctx context.Context, c loom.SlotCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveSlotCard(ctx, c)
}

func (m *Memory) SlotCardsForInstance(ctx context.Context, id loom.InstanceID) ([]loom.SlotCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SlotCardsForInstance(ctx, id)
}

func (m *Memory) SaveAllocation(ctx context.Context, a loom.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveAllocation(ctx, a)
}

func (m *Memory) GetAllocation(ctx context.Context, id loom.AllocationID) (*loom.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetAllocation(ctx, id)
}

func (m *Memory) AllocationsForInstance(ctx context.Context, id loom.InstanceID) ([]loom.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AllocationsForInstance(ctx, id)
}

func (m *Memory) UpdateAllocationStatus(ctx context.Context, id loom.AllocationID, status loom.AllocationStatus, ctype loom.CancellationType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateAllocationStatus(ctx, id, status, ctype)
}

func (m *Memory) SaveShift(ctx context.Context, sh loom.StaffShift) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveShift(ctx, sh)
}

func (m *Memory) GetShift(ctx context.Context, id loom.ShiftID) (*loom.StaffShift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetShift(ctx, id)
}

func (m *Memory) ShiftsForInstance(ctx context.Context, id loom.InstanceID) ([]loom.StaffShift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ShiftsForInstance(ctx, id)
}

func (m *Memory) ShiftsForStaff(ctx context.Context, id loom.StaffID, from, to loom.Date) ([]loom.StaffShift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ShiftsForStaff(ctx, id, from, to)
}

func (m *Memory) UpdateShiftStatus(ctx context.Context, id loom.ShiftID, status loom.ShiftStatus, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateShiftStatus(ctx, id, status, note)
}

func (m *Memory) DeleteShift(ctx context.Context, id loom.ShiftID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteShift(ctx, id)
}

func (m *Memory) DeleteShiftsForInstance(ctx context.Context, id loom.InstanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteShiftsForInstance(ctx, id)
}

func (m *Memory) SaveRun(ctx context.Context, r loom.VehicleRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveRun(ctx, r)
}

func (m *Memory) RunsForInstance(ctx context.Context, id loom.InstanceID) ([]loom.VehicleRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.RunsForInstance(ctx, id)
}

func (m *Memory) RunsOnDate(ctx context.Context, d loom.Date) ([]loom.VehicleRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.RunsOnDate(ctx, d)
}

func (m *Memory) DeleteRunsForInstance(ctx context.Context, id loom.InstanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteRunsForInstance(ctx, id)
}

func (m *Memory) SaveUnavailability(ctx context.Context, u loom.Unavailability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveUnavailability(ctx, u)
}

func (m *Memory) OverlappingUnavailability(ctx context.Context, kind loom.EntityKind, entityID string, start, end time.Time) ([]loom.Unavailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.OverlappingUnavailability(ctx, kind, entityID, start, end)
}

func (m *Memory) GetSettings(ctx context.Context) (loom.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetSettings(ctx)
}

func (m *Memory) SaveSettings(ctx context.Context, settings loom.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveSettings(ctx, settings)
}

func (m *Memory) AppendAudit(ctx context.Context, e loom.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendAudit(ctx, e)
}

func (m *Memory) AuditForInstance(ctx context.Context, id loom.InstanceID) ([]loom.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AuditForInstance(ctx, id)
}

var _ loom.TxStore = (*Memory)(nil)
