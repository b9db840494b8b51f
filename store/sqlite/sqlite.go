/*
Package sqlite provides the SQLite-backed implementation of loom.TxStore.

PURPOSE:
  Persists the full roster state: programs and their enrollments, the
  reference entities (participants, staff, vehicles, venues), generated
  instances with their slot cards, allocations, staff shifts and vehicle
  runs, blackout records, loom settings, and the append-only audit log.

KEY TABLES:
  programs:       Activity templates with repeat rules (JSON slot templates)
  instances:      One row per (program, date) occurrence
  allocations:    Participant bookings; status-mutated, never deleted
  shifts:         Staff assignments; sickness replaces rows, never rewrites
  vehicle_runs:   Transport manifests, replaced wholesale on assignment
  audit_log:      Append-only; no UPDATE or DELETE statement exists for it

IDEMPOTENT GENERATION:
  idx_instances_program_date is a UNIQUE index on (program_id, date).
  InsertInstance converts a uniqueness violation into created=false, so two
  generation passes racing over the same range both commit and the instance
  set stays correct.

CASCADES:
  Child tables declare ON DELETE CASCADE against instances, and the DSN
  enables foreign keys, so DeleteInstance is a single statement.

CONCURRENCY:
  A sync.RWMutex serializes writers. SQLite is opened in WAL mode so
  readers don't block. All row logic lives in free functions over a dbtx
  interface satisfied by both *sql.DB and *sql.Tx; WithTx hands the same
  functions a live transaction, which keeps read-inside-transaction calls
  off the outer mutex.

USAGE:
  store, err := sqlite.New("./data/roster.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  engine := loom.NewEngine(store)

SEE ALSO:
  - loom/store.go:        interface definition and transaction contract
  - loom/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/rabs/roster-engine/loom"
)

// Store implements loom.TxStore on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Programs (activity templates)
	CREATE TABLE IF NOT EXISTS programs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT,
		start_date TEXT NOT NULL,
		end_date TEXT,
		repeat TEXT NOT NULL,
		days_of_week_json TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		venue_id TEXT,
		centre_based BOOLEAN NOT NULL DEFAULT FALSE,
		staffing_mode TEXT NOT NULL DEFAULT 'auto',
		additional_staff INTEGER NOT NULL DEFAULT 0,
		slots_json TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_programs_active ON programs(active);

	-- Enrollments (participant <-> program)
	CREATE TABLE IF NOT EXISTS enrollments (
		id TEXT PRIMARY KEY,
		participant_id TEXT NOT NULL,
		program_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		billing_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_enrollments_program ON enrollments(program_id);

	-- Reference entities
	CREATE TABLE IF NOT EXISTS participants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		suburb TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS staff (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		contracted_hours REAL NOT NULL DEFAULT 0,
		availability_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS vehicles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		rego TEXT,
		capacity INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS venues (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT,
		created_at TEXT NOT NULL
	);

	-- Instances (one dated occurrence of a program)
	CREATE TABLE IF NOT EXISTS instances (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL,
		date TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		venue_id TEXT,
		status TEXT NOT NULL,
		capacity INTEGER NOT NULL DEFAULT 0,
		optimisation_json TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);

	-- CRITICAL: generation idempotency. Two passes over the same range must
	-- not create two instances for the same program on the same date.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_instances_program_date
		ON instances(program_id, date);
	CREATE INDEX IF NOT EXISTS idx_instances_date ON instances(date);

	-- Slot cards (child time-slots on an instance)
	CREATE TABLE IF NOT EXISTS slot_cards (
		id TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
		label TEXT NOT NULL,
		type TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_slot_cards_instance ON slot_cards(instance_id);

	-- Allocations (participant bookings; never deleted)
	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
		participant_id TEXT NOT NULL,
		billing_code TEXT,
		planned_rate TEXT NOT NULL DEFAULT '0',
		hours TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		cancellation_type TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_instance ON allocations(instance_id);

	-- Staff shifts
	CREATE TABLE IF NOT EXISTS shifts (
		id TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
		staff_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		status TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_shifts_instance ON shifts(instance_id);
	CREATE INDEX IF NOT EXISTS idx_shifts_staff_start ON shifts(staff_id, start_at);

	-- Vehicle runs (transport manifests)
	CREATE TABLE IF NOT EXISTS vehicle_runs (
		id TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
		vehicle_id TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		seats_used INTEGER NOT NULL DEFAULT 0,
		stops_json TEXT NOT NULL DEFAULT '[]',
		estimated_minutes INTEGER NOT NULL DEFAULT 0,
		estimated_km INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vehicle_runs_instance ON vehicle_runs(instance_id);
	CREATE INDEX IF NOT EXISTS idx_vehicle_runs_date ON vehicle_runs(date);

	-- Unavailability (blackouts)
	CREATE TABLE IF NOT EXISTS unavailability (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_unavailability_entity
		ON unavailability(kind, entity_id, start_at);

	-- Settings (single row)
	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		window_weeks INTEGER NOT NULL
	);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
		action TEXT NOT NULL,
		before_json TEXT,
		after_json TEXT,
		actor TEXT NOT NULL,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_instance ON audit_log(instance_id, at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx. All row logic runs against
// it so the same code serves direct calls and WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONS (loom.TxStore)
// =============================================================================

// WithTx executes fn inside a database transaction: rollback on error,
// commit otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(loom.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore runs the same row logic against a live transaction. It takes no
// locks; WithTx already holds the write lock.
type txStore struct {
	tx *sql.Tx
}

// =============================================================================
// PROGRAMS
// =============================================================================

func saveProgram(ctx context.Context, q dbtx, p loom.Program) error {
	daysJSON, _ := json.Marshal(p.DaysOfWeek)
	slotsJSON, _ := json.Marshal(p.Slots)

	query := `
		INSERT INTO programs
		(id, name, type, start_date, end_date, repeat, days_of_week_json,
		 start_time, end_time, venue_id, centre_based, staffing_mode,
		 additional_staff, slots_json, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			repeat = excluded.repeat,
			days_of_week_json = excluded.days_of_week_json,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			venue_id = excluded.venue_id,
			centre_based = excluded.centre_based,
			staffing_mode = excluded.staffing_mode,
			additional_staff = excluded.additional_staff,
			slots_json = excluded.slots_json,
			active = excluded.active
	`
	_, err := q.ExecContext(ctx, query,
		p.ID, p.Name, p.Type,
		p.StartDate.String(), nullDate(p.EndDate),
		p.Repeat, string(daysJSON),
		int(p.StartTime), int(p.EndTime),
		p.VenueID, p.CentreBased, p.StaffingMode,
		p.AdditionalStaff, string(slotsJSON), p.Active,
		formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save program: %w", err)
	}
	return nil
}

const programColumns = `id, name, type, start_date, end_date, repeat, days_of_week_json,
	start_time, end_time, venue_id, centre_based, staffing_mode,
	additional_staff, slots_json, active, created_at`

func scanProgram(row interface{ Scan(dest ...any) error }) (loom.Program, error) {
	var (
		p                  loom.Program
		startDate          string
		endDate            sql.NullString
		daysJSON, slotJSON string
		startMin, endMin   int
		createdAt          string
		progType, venueID  sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.Name, &progType, &startDate, &endDate, &p.Repeat, &daysJSON,
		&startMin, &endMin, &venueID, &p.CentreBased, &p.StaffingMode,
		&p.AdditionalStaff, &slotJSON, &p.Active, &createdAt,
	)
	if err != nil {
		return p, err
	}
	p.Type = progType.String
	p.VenueID = loom.VenueID(venueID.String)
	p.StartDate, _ = loom.ParseDate(startDate)
	p.EndDate = parseNullDate(endDate)
	p.StartTime = loom.TimeOfDay(startMin)
	p.EndTime = loom.TimeOfDay(endMin)
	p.CreatedAt = parseTime(createdAt)
	json.Unmarshal([]byte(daysJSON), &p.DaysOfWeek)
	json.Unmarshal([]byte(slotJSON), &p.Slots)
	return p, nil
}

func getProgram(ctx context.Context, q dbtx, id loom.ProgramID) (*loom.Program, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+programColumns+" FROM programs WHERE id = ?", id)
	p, err := scanProgram(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load program: %w", err)
	}
	return &p, nil
}

func listPrograms(ctx context.Context, q dbtx, activeOnly bool) ([]loom.Program, error) {
	query := "SELECT " + programColumns + " FROM programs ORDER BY name"
	if activeOnly {
		query = "SELECT " + programColumns + " FROM programs WHERE active = TRUE ORDER BY name"
	}
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list programs: %w", err)
	}
	defer rows.Close()

	var out []loom.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SaveProgram(ctx context.Context, p loom.Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveProgram(ctx, s.db, p)
}

func (s *Store) GetProgram(ctx context.Context, id loom.ProgramID) (*loom.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProgram(ctx, s.db, id)
}

func (s *Store) ListPrograms(ctx context.Context, activeOnly bool) ([]loom.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPrograms(ctx, s.db, activeOnly)
}

func (ts *txStore) SaveProgram(ctx context.Context, p loom.Program) error {
	return saveProgram(ctx, ts.tx, p)
}

func (ts *txStore) GetProgram(ctx context.Context, id loom.ProgramID) (*loom.Program, error) {
	return getProgram(ctx, ts.tx, id)
}

func (ts *txStore) ListPrograms(ctx context.Context, activeOnly bool) ([]loom.Program, error) {
	return listPrograms(ctx, ts.tx, activeOnly)
}

// =============================================================================
// ENROLLMENTS
// =============================================================================

func saveEnrollment(ctx context.Context, q dbtx, e loom.Enrollment) error {
	billingJSON, _ := json.Marshal(e.Billing)

	query := `
		INSERT INTO enrollments
		(id, participant_id, program_id, start_date, end_date, active, billing_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			active = excluded.active,
			billing_json = excluded.billing_json
	`
	_, err := q.ExecContext(ctx, query,
		e.ID, e.ParticipantID, e.ProgramID,
		e.StartDate.String(), nullDate(e.EndDate),
		e.Active, string(billingJSON), formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save enrollment: %w", err)
	}
	return nil
}

func enrollmentsForProgram(ctx context.Context, q dbtx, id loom.ProgramID) ([]loom.Enrollment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, participant_id, program_id, start_date, end_date, active, billing_json, created_at
		FROM enrollments WHERE program_id = ? ORDER BY created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()

	var out []loom.Enrollment
	for rows.Next() {
		var (
			e           loom.Enrollment
			startDate   string
			endDate     sql.NullString
			billingJSON string
			createdAt   string
		)
		if err := rows.Scan(&e.ID, &e.ParticipantID, &e.ProgramID,
			&startDate, &endDate, &e.Active, &billingJSON, &createdAt); err != nil {
			return nil, err
		}
		e.StartDate, _ = loom.ParseDate(startDate)
		e.EndDate = parseNullDate(endDate)
		e.CreatedAt = parseTime(createdAt)
		json.Unmarshal([]byte(billingJSON), &e.Billing)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) SaveEnrollment(ctx context.Context, e loom.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveEnrollment(ctx, s.db, e)
}

func (s *Store) EnrollmentsForProgram(ctx context.Context, id loom.ProgramID) ([]loom.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return enrollmentsForProgram(ctx, s.db, id)
}

func (ts *txStore) SaveEnrollment(ctx context.Context, e loom.Enrollment) error {
	return saveEnrollment(ctx, ts.tx, e)
}

func (ts *txStore) EnrollmentsForProgram(ctx context.Context, id loom.ProgramID) ([]loom.Enrollment, error) {
	return enrollmentsForProgram(ctx, ts.tx, id)
}

// =============================================================================
// REFERENCE ENTITIES
// =============================================================================

func saveParticipant(ctx context.Context, q dbtx, p loom.Participant) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO participants (id, name, suburb, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, suburb = excluded.suburb`,
		p.ID, p.Name, p.Suburb, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save participant: %w", err)
	}
	return nil
}

func getParticipant(ctx context.Context, q dbtx, id loom.ParticipantID) (*loom.Participant, error) {
	var (
		p         loom.Participant
		suburb    sql.NullString
		createdAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, name, suburb, created_at FROM participants WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &suburb, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	p.Suburb = suburb.String
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func saveStaff(ctx context.Context, q dbtx, st loom.Staff) error {
	availJSON, _ := json.Marshal(st.Availability)
	_, err := q.ExecContext(ctx, `
		INSERT INTO staff (id, name, contracted_hours, availability_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			contracted_hours = excluded.contracted_hours,
			availability_json = excluded.availability_json`,
		st.ID, st.Name, st.ContractedHours, string(availJSON), formatTime(st.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save staff: %w", err)
	}
	return nil
}

func scanStaff(row interface{ Scan(dest ...any) error }) (loom.Staff, error) {
	var (
		st        loom.Staff
		availJSON string
		createdAt string
	)
	err := row.Scan(&st.ID, &st.Name, &st.ContractedHours, &availJSON, &createdAt)
	if err != nil {
		return st, err
	}
	st.CreatedAt = parseTime(createdAt)
	json.Unmarshal([]byte(availJSON), &st.Availability)
	return st, nil
}

func getStaff(ctx context.Context, q dbtx, id loom.StaffID) (*loom.Staff, error) {
	row := q.QueryRowContext(ctx,
		"SELECT id, name, contracted_hours, availability_json, created_at FROM staff WHERE id = ?", id)
	st, err := scanStaff(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load staff: %w", err)
	}
	return &st, nil
}

func listStaff(ctx context.Context, q dbtx) ([]loom.Staff, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, name, contracted_hours, availability_json, created_at FROM staff ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list staff: %w", err)
	}
	defer rows.Close()

	var out []loom.Staff
	for rows.Next() {
		st, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func saveVehicle(ctx context.Context, q dbtx, v loom.Vehicle) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO vehicles (id, name, rego, capacity, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, rego = excluded.rego, capacity = excluded.capacity`,
		v.ID, v.Name, v.Rego, v.Capacity, formatTime(v.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save vehicle: %w", err)
	}
	return nil
}

func listVehicles(ctx context.Context, q dbtx) ([]loom.Vehicle, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, name, rego, capacity, created_at FROM vehicles ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicles: %w", err)
	}
	defer rows.Close()

	var out []loom.Vehicle
	for rows.Next() {
		var (
			v         loom.Vehicle
			rego      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&v.ID, &v.Name, &rego, &v.Capacity, &createdAt); err != nil {
			return nil, err
		}
		v.Rego = rego.String
		v.CreatedAt = parseTime(createdAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

func saveVenue(ctx context.Context, q dbtx, v loom.Venue) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO venues (id, name, address, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, address = excluded.address`,
		v.ID, v.Name, v.Address, formatTime(v.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save venue: %w", err)
	}
	return nil
}

func listVenues(ctx context.Context, q dbtx) ([]loom.Venue, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, name, address, created_at FROM venues ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list venues: %w", err)
	}
	defer rows.Close()

	var out []loom.Venue
	for rows.Next() {
		var (
			v         loom.Venue
			address   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&v.ID, &v.Name, &address, &createdAt); err != nil {
			return nil, err
		}
		v.Address = address.String
		v.CreatedAt = parseTime(createdAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) SaveParticipant(ctx context.Context, p loom.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveParticipant(ctx, s.db, p)
}

func (s *Store) GetParticipant(ctx context.Context, id loom.ParticipantID) (*loom.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getParticipant(ctx, s.db, id)
}

func (s *Store) SaveStaff(ctx context.Context, st loom.Staff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveStaff(ctx, s.db, st)
}

func (s *Store) GetStaff(ctx context.Context, id loom.StaffID) (*loom.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getStaff(ctx, s.db, id)
}

func (s *Store) ListStaff(ctx context.Context) ([]loom.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listStaff(ctx, s.db)
}

func (s *Store) SaveVehicle(ctx context.Context, v loom.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveVehicle(ctx, s.db, v)
}

func (s *Store) ListVehicles(ctx context.Context) ([]loom.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listVehicles(ctx, s.db)
}

func (s *Store) SaveVenue(ctx context.Context, v loom.Venue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveVenue(ctx, s.db, v)
}

func (s *Store) ListVenues(ctx context.Context) ([]loom.Venue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listVenues(ctx, s.db)
}

func (ts *txStore) SaveParticipant(ctx context.Context, p loom.Participant) error {
	return saveParticipant(ctx, ts.tx, p)
}

func (ts *txStore) GetParticipant(ctx context.Context, id loom.ParticipantID) (*loom.Participant, error) {
	return getParticipant(ctx, ts.tx, id)
}

func (ts *txStore) SaveStaff(ctx context.Context, st loom.Staff) error {
	return saveStaff(ctx, ts.tx, st)
}

func (ts *txStore) GetStaff(ctx context.Context, id loom.StaffID) (*loom.Staff, error) {
	return getStaff(ctx, ts.tx, id)
}

func (ts *txStore) ListStaff(ctx context.Context) ([]loom.Staff, error) {
	return listStaff(ctx, ts.tx)
}

func (ts *txStore) SaveVehicle(ctx context.Context, v loom.Vehicle) error {
	return saveVehicle(ctx, ts.tx, v)
}

func (ts *txStore) ListVehicles(ctx context.Context) ([]loom.Vehicle, error) {
	return listVehicles(ctx, ts.tx)
}

func (ts *txStore) SaveVenue(ctx context.Context, v loom.Venue) error {
	return saveVenue(ctx, ts.tx, v)
}

func (ts *txStore) ListVenues(ctx context.Context) ([]loom.Venue, error) {
	return listVenues(ctx, ts.tx)
}

// =============================================================================
// INSTANCES
// =============================================================================

func insertInstance(ctx context.Context, q dbtx, inst loom.Instance) (bool, error) {
	optJSON, _ := json.Marshal(inst.Optimisation)

	_, err := q.ExecContext(ctx, `
		INSERT INTO instances
		(id, program_id, date, start_time, end_time, venue_id, status, capacity, optimisation_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.ProgramID, inst.Date.String(),
		int(inst.StartTime), int(inst.EndTime),
		inst.VenueID, inst.Status, inst.Capacity,
		string(optJSON), formatTime(inst.CreatedAt),
	)
	if err != nil {
		// The unique (program_id, date) index turns the check-then-insert
		// race into created=false.
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert instance: %w", err)
	}
	return true, nil
}

const instanceColumns = `id, program_id, date, start_time, end_time, venue_id,
	status, capacity, optimisation_json, created_at`

func scanInstance(row interface{ Scan(dest ...any) error }) (loom.Instance, error) {
	var (
		inst             loom.Instance
		date             string
		startMin, endMin int
		venueID          sql.NullString
		optJSON          string
		createdAt        string
	)
	err := row.Scan(&inst.ID, &inst.ProgramID, &date, &startMin, &endMin,
		&venueID, &inst.Status, &inst.Capacity, &optJSON, &createdAt)
	if err != nil {
		return inst, err
	}
	inst.Date, _ = loom.ParseDate(date)
	inst.StartTime = loom.TimeOfDay(startMin)
	inst.EndTime = loom.TimeOfDay(endMin)
	inst.VenueID = loom.VenueID(venueID.String)
	inst.CreatedAt = parseTime(createdAt)
	json.Unmarshal([]byte(optJSON), &inst.Optimisation)
	return inst, nil
}

func getInstance(ctx context.Context, q dbtx, id loom.InstanceID) (*loom.Instance, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+instanceColumns+" FROM instances WHERE id = ?", id)
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}
	return &inst, nil
}

func queryInstances(ctx context.Context, q dbtx, query string, args ...any) ([]loom.Instance, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	var out []loom.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func listInstances(ctx context.Context, q dbtx, from, to loom.Date) ([]loom.Instance, error) {
	return queryInstances(ctx, q,
		"SELECT "+instanceColumns+" FROM instances WHERE date >= ? AND date < ? ORDER BY date, program_id",
		from.String(), to.String())
}

func listInstancesForProgram(ctx context.Context, q dbtx, id loom.ProgramID, from, to loom.Date) ([]loom.Instance, error) {
	return queryInstances(ctx, q,
		"SELECT "+instanceColumns+" FROM instances WHERE program_id = ? AND date >= ? AND date < ? ORDER BY date",
		id, from.String(), to.String())
}

func updateInstanceStatus(ctx context.Context, q dbtx, id loom.InstanceID, status loom.InstanceStatus) error {
	res, err := q.ExecContext(ctx,
		"UPDATE instances SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update instance status: %w", err)
	}
	return requireRow(res, loom.ErrInstanceNotFound)
}

func updateOptimisation(ctx context.Context, q dbtx, id loom.InstanceID, state loom.OptimisationState) error {
	optJSON, _ := json.Marshal(state)
	res, err := q.ExecContext(ctx,
		"UPDATE instances SET optimisation_json = ? WHERE id = ?", string(optJSON), id)
	if err != nil {
		return fmt.Errorf("failed to update optimisation state: %w", err)
	}
	return requireRow(res, loom.ErrInstanceNotFound)
}

func deleteInstance(ctx context.Context, q dbtx, id loom.InstanceID) error {
	// Children cascade via foreign keys.
	_, err := q.ExecContext(ctx, "DELETE FROM instances WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	return nil
}

func (s *Store) InsertInstance(ctx context.Context, inst loom.Instance) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertInstance(ctx, s.db, inst)
}

func (s *Store) GetInstance(ctx context.Context, id loom.InstanceID) (*loom.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getInstance(ctx, s.db, id)
}

func (s *Store) ListInstances(ctx context.Context, from, to loom.Date) ([]loom.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listInstances(ctx, s.db, from, to)
}

func (s *Store) ListInstancesForProgram(ctx context.Context, id loom.ProgramID, from, to loom.Date) ([]loom.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listInstancesForProgram(ctx, s.db, id, from, to)
}

func (s *Store) UpdateInstanceStatus(ctx context.Context, id loom.InstanceID, status loom.InstanceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateInstanceStatus(ctx, s.db, id, status)
}

func (s *Store) UpdateOptimisation(ctx context.Context, id loom.InstanceID, state loom.OptimisationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateOptimisation(ctx, s.db, id, state)
}

func (s *Store) DeleteInstance(ctx context.Context, id loom.InstanceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteInstance(ctx, s.db, id)
}

func (ts *txStore) InsertInstance(ctx context.Context, inst loom.Instance) (bool, error) {
	return insertInstance(ctx, ts.tx, inst)
}

func (ts *txStore) GetInstance(ctx context.Context, id loom.InstanceID) (*loom.Instance, error) {
	return getInstance(ctx, ts.tx, id)
}

func (ts *txStore) ListInstances(ctx context.Context, from, to loom.Date) ([]loom.Instance, error) {
	return listInstances(ctx, ts.tx, from, to)
}

func (ts *txStore) ListInstancesForProgram(ctx context.Context, id loom.ProgramID, from, to loom.Date) ([]loom.Instance, error) {
	return listInstancesForProgram(ctx, ts.tx, id, from, to)
}

func (ts *txStore) UpdateInstanceStatus(ctx context.Context, id loom.InstanceID, status loom.InstanceStatus) error {
	return updateInstanceStatus(ctx, ts.tx, id, status)
}

func (ts *txStore) UpdateOptimisation(ctx context.Context, id loom.InstanceID, state loom.OptimisationState) error {
	return updateOptimisation(ctx, ts.tx, id, state)
}

func (ts *txStore) DeleteInstance(ctx context.Context, id loom.InstanceID) error {
	return deleteInstance(ctx, ts.tx, id)
}

// =============================================================================
// SLOT CARDS
// =============================================================================

func saveSlotCard(ctx context.Context, q dbtx, c loom.SlotCard) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO slot_cards (id, instance_id, label, type, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.InstanceID, c.Label, c.Type, int(c.Start), int(c.End))
	if err != nil {
		return fmt.Errorf("failed to save slot card: %w", err)
	}
	return nil
}

func slotCardsForInstance(ctx context.Context, q dbtx, id loom.InstanceID) ([]loom.SlotCard, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, instance_id, label, type, start_time, end_time
		FROM slot_cards WHERE instance_id = ? ORDER BY start_time`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list slot cards: %w", err)
	}
	defer rows.Close()

	var out []loom.SlotCard
	for rows.Next() {
		var (
			c                loom.SlotCard
			startMin, endMin int
		)
		if err := rows.Scan(&c.ID, &c.InstanceID, &c.Label, &c.Type, &startMin, &endMin); err != nil {
			return nil, err
		}
		c.Start = loom.TimeOfDay(startMin)
		c.End = loom.TimeOfDay(endMin)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SaveSlotCard(ctx context.Context, c loom.SlotCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveSlotCard(ctx, s.db, c)
}

func (s *Store) SlotCardsForInstance(ctx context.Context, id loom.InstanceID) ([]loom.SlotCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slotCardsForInstance(ctx, s.db, id)
}

func (ts *txStore) SaveSlotCard(ctx context.Context, c loom.SlotCard) error {
	return saveSlotCard(ctx, ts.tx, c)
}

func (ts *txStore) SlotCardsForInstance(ctx context.Context, id loom.InstanceID) ([]loom.SlotCard, error) {
	return slotCardsForInstance(ctx, ts.tx, id)
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func saveAllocation(ctx context.Context, q dbtx, a loom.Allocation) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO allocations
		(id, instance_id, participant_id, billing_code, planned_rate, hours, status, cancellation_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			billing_code = excluded.billing_code,
			planned_rate = excluded.planned_rate,
			hours = excluded.hours,
			status = excluded.status,
			cancellation_type = excluded.cancellation_type`,
		a.ID, a.InstanceID, a.ParticipantID, a.BillingCode,
		a.PlannedRate.String(), a.Hours.String(),
		a.Status, a.Cancellation, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save allocation: %w", err)
	}
	return nil
}

func scanAllocation(row interface{ Scan(dest ...any) error }) (loom.Allocation, error) {
	var (
		a           loom.Allocation
		billingCode sql.NullString
		rate, hours string
		createdAt   string
	)
	err := row.Scan(&a.ID, &a.InstanceID, &a.ParticipantID, &billingCode,
		&rate, &hours, &a.Status, &a.Cancellation, &createdAt)
	if err != nil {
		return a, err
	}
	a.BillingCode = billingCode.String
	a.PlannedRate = mustDecimal(rate)
	a.Hours = mustDecimal(hours)
	a.CreatedAt = parseTime(createdAt)
	return a, nil
}

const allocationColumns = `id, instance_id, participant_id, billing_code,
	planned_rate, hours, status, cancellation_type, created_at`

func getAllocation(ctx context.Context, q dbtx, id loom.AllocationID) (*loom.Allocation, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+allocationColumns+" FROM allocations WHERE id = ?", id)
	a, err := scanAllocation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load allocation: %w", err)
	}
	return &a, nil
}

func allocationsForInstance(ctx context.Context, q dbtx, id loom.InstanceID) ([]loom.Allocation, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+allocationColumns+" FROM allocations WHERE instance_id = ? ORDER BY created_at", id)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	defer rows.Close()

	var out []loom.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func updateAllocationStatus(ctx context.Context, q dbtx, id loom.AllocationID, status loom.AllocationStatus, ctype loom.CancellationType) error {
	res, err := q.ExecContext(ctx,
		"UPDATE allocations SET status = ?, cancellation_type = ? WHERE id = ?",
		status, ctype, id)
	if err != nil {
		return fmt.Errorf("failed to update allocation status: %w", err)
	}
	return requireRow(res, loom.ErrAllocationNotFound)
}

func (s *Store) SaveAllocation(ctx context.Context, a loom.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveAllocation(ctx, s.db, a)
}

func (s *Store) GetAllocation(ctx context.Context, id loom.AllocationID) (*loom.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAllocation(ctx, s.db, id)
}

func (s *Store) AllocationsForInstance(ctx context.Context, id loom.InstanceID) ([]loom.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return allocationsForInstance(ctx, s.db, id)
}

func (s *Store) UpdateAllocationStatus(ctx context.Context, id loom.AllocationID, status loom.AllocationStatus, ctype loom.CancellationType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateAllocationStatus(ctx, s.db, id, status, ctype)
}

func (ts *txStore) SaveAllocation(ctx context.Context, a loom.Allocation) error {
	return saveAllocation(ctx, ts.tx, a)
}

func (ts *txStore) GetAllocation(ctx context.Context, id loom.AllocationID) (*loom.Allocation, error) {
	return getAllocation(ctx, ts.tx, id)
}

func (ts *txStore) AllocationsForInstance(ctx context.Context, id loom.InstanceID) ([]loom.Allocation, error) {
	return allocationsForInstance(ctx, ts.tx, id)
}

func (ts *txStore) UpdateAllocationStatus(ctx context.Context, id loom.AllocationID, status loom.AllocationStatus, ctype loom.CancellationType) error {
	return updateAllocationStatus(ctx, ts.tx, id, status, ctype)
}

// =============================================================================
// STAFF SHIFTS
// =============================================================================

func saveShift(ctx context.Context, q dbtx, sh loom.StaffShift) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO shifts
		(id, instance_id, staff_id, role, start_at, end_at, status, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			staff_id = excluded.staff_id,
			role = excluded.role,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			status = excluded.status,
			note = excluded.note`,
		sh.ID, sh.InstanceID, sh.StaffID, sh.Role,
		formatTime(sh.Start), formatTime(sh.End),
		sh.Status, sh.Note, formatTime(sh.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save shift: %w", err)
	}
	return nil
}

const shiftColumns = `id, instance_id, staff_id, role, start_at, end_at, status, note, created_at`

func scanShift(row interface{ Scan(dest ...any) error }) (loom.StaffShift, error) {
	var (
		sh                      loom.StaffShift
		startAt, endAt, created string
	)
	err := row.Scan(&sh.ID, &sh.InstanceID, &sh.StaffID, &sh.Role,
		&startAt, &endAt, &sh.Status, &sh.Note, &created)
	if err != nil {
		return sh, err
	}
	sh.Start = parseTime(startAt)
	sh.End = parseTime(endAt)
	sh.CreatedAt = parseTime(created)
	return sh, nil
}

func getShift(ctx context.Context, q dbtx, id loom.ShiftID) (*loom.StaffShift, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+shiftColumns+" FROM shifts WHERE id = ?", id)
	sh, err := scanShift(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load shift: %w", err)
	}
	return &sh, nil
}

func queryShifts(ctx context.Context, q dbtx, query string, args ...any) ([]loom.StaffShift, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query shifts: %w", err)
	}
	defer rows.Close()

	var out []loom.StaffShift
	for rows.Next() {
		sh, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

func shiftsForInstance(ctx context.Context, q dbtx, id loom.InstanceID) ([]loom.StaffShift, error) {
	return queryShifts(ctx, q,
		"SELECT "+shiftColumns+" FROM shifts WHERE instance_id = ? ORDER BY created_at", id)
}

func shiftsForStaff(ctx context.Context, q dbtx, id loom.StaffID, from, to loom.Date) ([]loom.StaffShift, error) {
	return queryShifts(ctx, q,
		"SELECT "+shiftColumns+" FROM shifts WHERE staff_id = ? AND date(start_at) >= ? AND date(start_at) <= ? ORDER BY start_at",
		id, from.String(), to.String())
}

func updateShiftStatus(ctx context.Context, q dbtx, id loom.ShiftID, status loom.ShiftStatus, note string) error {
	res, err := q.ExecContext(ctx,
		"UPDATE shifts SET status = ?, note = ? WHERE id = ?", status, note, id)
	if err != nil {
		return fmt.Errorf("failed to update shift status: %w", err)
	}
	return requireRow(res, loom.ErrShiftNotFound)
}

func deleteShift(ctx context.Context, q dbtx, id loom.ShiftID) error {
	_, err := q.ExecContext(ctx, "DELETE FROM shifts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete shift: %w", err)
	}
	return nil
}

func deleteShiftsForInstance(ctx context.Context, q dbtx, id loom.InstanceID) error {
	_, err := q.ExecContext(ctx, "DELETE FROM shifts WHERE instance_id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete shifts: %w", err)
	}
	return nil
}

func (s *Store) SaveShift(ctx context.Context, sh loom.StaffShift) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveShift(ctx, s.db, sh)
}

func (s *Store) GetShift(ctx context.Context, id loom.ShiftID) (*loom.StaffShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getShift(ctx, s.db, id)
}

func (s *Store) ShiftsForInstance(ctx context.Context, id loom.InstanceID) ([]loom.StaffShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return shiftsForInstance(ctx, s.db, id)
}

func (s *Store) ShiftsForStaff(ctx context.Context, id loom.StaffID, from, to loom.Date) ([]loom.StaffShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return shiftsForStaff(ctx, s.db, id, from, to)
}

func (s *Store) UpdateShiftStatus(ctx context.Context, id loom.ShiftID, status loom.ShiftStatus, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateShiftStatus(ctx, s.db, id, status, note)
}

func (s *Store) DeleteShift(ctx context.Context, id loom.ShiftID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteShift(ctx, s.db, id)
}

func (s *Store) DeleteShiftsForInstance(ctx context.Context, id loom.InstanceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteShiftsForInstance(ctx, s.db, id)
}

func (ts *txStore) SaveShift(ctx context.Context, sh loom.StaffShift) error {
	return saveShift(ctx, ts.tx, sh)
}

func (ts *txStore) GetShift(ctx context.Context, id loom.ShiftID) (*loom.StaffShift, error) {
	return getShift(ctx, ts.tx, id)
}

func (ts *txStore) ShiftsForInstance(ctx context.Context, id loom.InstanceID) ([]loom.StaffShift, error) {
	return shiftsForInstance(ctx, ts.tx, id)
}

func (ts *txStore) ShiftsForStaff(ctx context.Context, id loom.StaffID, from, to loom.Date) ([]loom.StaffShift, error) {
	return shiftsForStaff(ctx, ts.tx, id, from, to)
}

func (ts *txStore) UpdateShiftStatus(ctx context.Context, id loom.ShiftID, status loom.ShiftStatus, note string) error {
	return updateShiftStatus(ctx, ts.tx, id, status, note)
}

func (ts *txStore) DeleteShift(ctx context.Context, id loom.ShiftID) error {
	return deleteShift(ctx, ts.tx, id)
}

func (ts *txStore) DeleteShiftsForInstance(ctx context.Context, id loom.InstanceID) error {
	return deleteShiftsForInstance(ctx, ts.tx, id)
}

// =============================================================================
// VEHICLE RUNS
// =============================================================================

func saveRun(ctx context.Context, q dbtx, r loom.VehicleRun) error {
	stopsJSON, _ := json.Marshal(r.Stops)
	_, err := q.ExecContext(ctx, `
		INSERT INTO vehicle_runs
		(id, instance_id, vehicle_id, date, seats_used, stops_json, estimated_minutes, estimated_km, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			vehicle_id = excluded.vehicle_id,
			seats_used = excluded.seats_used,
			stops_json = excluded.stops_json,
			estimated_minutes = excluded.estimated_minutes,
			estimated_km = excluded.estimated_km`,
		r.ID, r.InstanceID, r.VehicleID, r.Date.String(),
		r.SeatsUsed, string(stopsJSON),
		int(r.EstimatedDuration/time.Minute), r.EstimatedKM,
		formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save vehicle run: %w", err)
	}
	return nil
}

func queryRuns(ctx context.Context, q dbtx, query string, args ...any) ([]loom.VehicleRun, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicle runs: %w", err)
	}
	defer rows.Close()

	var out []loom.VehicleRun
	for rows.Next() {
		var (
			r         loom.VehicleRun
			date      string
			stopsJSON string
			minutes   int
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.InstanceID, &r.VehicleID, &date,
			&r.SeatsUsed, &stopsJSON, &minutes, &r.EstimatedKM, &createdAt); err != nil {
			return nil, err
		}
		r.Date, _ = loom.ParseDate(date)
		r.EstimatedDuration = time.Duration(minutes) * time.Minute
		r.CreatedAt = parseTime(createdAt)
		json.Unmarshal([]byte(stopsJSON), &r.Stops)
		out = append(out, r)
	}
	return out, rows.Err()
}

const runColumns = `id, instance_id, vehicle_id, date, seats_used, stops_json,
	estimated_minutes, estimated_km, created_at`

func runsForInstance(ctx context.Context, q dbtx, id loom.InstanceID) ([]loom.VehicleRun, error) {
	return queryRuns(ctx, q,
		"SELECT "+runColumns+" FROM vehicle_runs WHERE instance_id = ? ORDER BY created_at", id)
}

func runsOnDate(ctx context.Context, q dbtx, d loom.Date) ([]loom.VehicleRun, error) {
	return queryRuns(ctx, q,
		"SELECT "+runColumns+" FROM vehicle_runs WHERE date = ? ORDER BY created_at", d.String())
}

func deleteRunsForInstance(ctx context.Context, q dbtx, id loom.InstanceID) error {
	_, err := q.ExecContext(ctx, "DELETE FROM vehicle_runs WHERE instance_id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete vehicle runs: %w", err)
	}
	return nil
}

func (s *Store) SaveRun(ctx context.Context, r loom.VehicleRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveRun(ctx, s.db, r)
}

func (s *Store) RunsForInstance(ctx context.Context, id loom.InstanceID) ([]loom.VehicleRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return runsForInstance(ctx, s.db, id)
}

func (s *Store) RunsOnDate(ctx context.Context, d loom.Date) ([]loom.VehicleRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return runsOnDate(ctx, s.db, d)
}

func (s *Store) DeleteRunsForInstance(ctx context.Context, id loom.InstanceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteRunsForInstance(ctx, s.db, id)
}

func (ts *txStore) SaveRun(ctx context.Context, r loom.VehicleRun) error {
	return saveRun(ctx, ts.tx, r)
}

func (ts *txStore) RunsForInstance(ctx context.Context, id loom.InstanceID) ([]loom.VehicleRun, error) {
	return runsForInstance(ctx, ts.tx, id)
}

func (ts *txStore) RunsOnDate(ctx context.Context, d loom.Date) ([]loom.VehicleRun, error) {
	return runsOnDate(ctx, ts.tx, d)
}

func (ts *txStore) DeleteRunsForInstance(ctx context.Context, id loom.InstanceID) error {
	return deleteRunsForInstance(ctx, ts.tx, id)
}

// =============================================================================
// UNAVAILABILITY
// =============================================================================

func saveUnavailability(ctx context.Context, q dbtx, u loom.Unavailability) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO unavailability (id, kind, entity_id, start_at, end_at, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Kind, u.EntityID,
		formatTime(u.Start), formatTime(u.End),
		u.Reason, formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save unavailability: %w", err)
	}
	return nil
}

func overlappingUnavailability(ctx context.Context, q dbtx, kind loom.EntityKind, entityID string, start, end time.Time) ([]loom.Unavailability, error) {
	// Half-open overlap; RFC3339 UTC strings compare lexicographically.
	rows, err := q.QueryContext(ctx, `
		SELECT id, kind, entity_id, start_at, end_at, reason, created_at
		FROM unavailability
		WHERE kind = ? AND entity_id = ? AND start_at < ? AND end_at > ?
		ORDER BY start_at`,
		kind, entityID, formatTime(end), formatTime(start))
	if err != nil {
		return nil, fmt.Errorf("failed to query unavailability: %w", err)
	}
	defer rows.Close()

	var out []loom.Unavailability
	for rows.Next() {
		var (
			u                       loom.Unavailability
			startAt, endAt, created string
			reason                  sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.Kind, &u.EntityID, &startAt, &endAt, &reason, &created); err != nil {
			return nil, err
		}
		u.Start = parseTime(startAt)
		u.End = parseTime(endAt)
		u.Reason = reason.String
		u.CreatedAt = parseTime(created)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) SaveUnavailability(ctx context.Context, u loom.Unavailability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveUnavailability(ctx, s.db, u)
}

func (s *Store) OverlappingUnavailability(ctx context.Context, kind loom.EntityKind, entityID string, start, end time.Time) ([]loom.Unavailability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return overlappingUnavailability(ctx, s.db, kind, entityID, start, end)
}

func (ts *txStore) SaveUnavailability(ctx context.Context, u loom.Unavailability) error {
	return saveUnavailability(ctx, ts.tx, u)
}

func (ts *txStore) OverlappingUnavailability(ctx context.Context, kind loom.EntityKind, entityID string, start, end time.Time) ([]loom.Unavailability, error) {
	return overlappingUnavailability(ctx, ts.tx, kind, entityID, start, end)
}

// =============================================================================
// SETTINGS
// =============================================================================

func getSettings(ctx context.Context, q dbtx) (loom.Settings, error) {
	var weeks int
	err := q.QueryRowContext(ctx, "SELECT window_weeks FROM settings WHERE id = 1").Scan(&weeks)
	if err == sql.ErrNoRows {
		return loom.Settings{WindowWeeks: loom.DefaultWindowWeeks}, nil
	}
	if err != nil {
		return loom.Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	return loom.Settings{WindowWeeks: weeks}, nil
}

func saveSettings(ctx context.Context, q dbtx, settings loom.Settings) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO settings (id, window_weeks) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET window_weeks = excluded.window_weeks`,
		settings.WindowWeeks)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (s *Store) GetSettings(ctx context.Context) (loom.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSettings(ctx, s.db)
}

func (s *Store) SaveSettings(ctx context.Context, settings loom.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveSettings(ctx, s.db, settings)
}

func (ts *txStore) GetSettings(ctx context.Context) (loom.Settings, error) {
	return getSettings(ctx, ts.tx)
}

func (ts *txStore) SaveSettings(ctx context.Context, settings loom.Settings) error {
	return saveSettings(ctx, ts.tx, settings)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func appendAudit(ctx context.Context, q dbtx, e loom.AuditEntry) error {
	beforeJSON, _ := json.Marshal(e.Before)
	afterJSON, _ := json.Marshal(e.After)
	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_log (id, instance_id, action, before_json, after_json, actor, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.InstanceID, e.Action,
		string(beforeJSON), string(afterJSON),
		e.Actor, formatTime(e.At))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func auditForInstance(ctx context.Context, q dbtx, id loom.InstanceID) ([]loom.AuditEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, instance_id, action, before_json, after_json, actor, at
		FROM audit_log WHERE instance_id = ? ORDER BY at`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []loom.AuditEntry
	for rows.Next() {
		var (
			e                      loom.AuditEntry
			beforeJSON, afterJSON  sql.NullString
			at                     string
		)
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.Action, &beforeJSON, &afterJSON, &e.Actor, &at); err != nil {
			return nil, err
		}
		e.At = parseTime(at)
		if beforeJSON.Valid && beforeJSON.String != "null" {
			json.Unmarshal([]byte(beforeJSON.String), &e.Before)
		}
		if afterJSON.Valid && afterJSON.String != "null" {
			json.Unmarshal([]byte(afterJSON.String), &e.After)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) AppendAudit(ctx context.Context, e loom.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, e)
}

func (s *Store) AuditForInstance(ctx context.Context, id loom.InstanceID) ([]loom.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return auditForInstance(ctx, s.db, id)
}

func (ts *txStore) AppendAudit(ctx context.Context, e loom.AuditEntry) error {
	return appendAudit(ctx, ts.tx, e)
}

func (ts *txStore) AuditForInstance(ctx context.Context, id loom.InstanceID) ([]loom.AuditEntry, error) {
	return auditForInstance(ctx, ts.tx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func nullDate(d *loom.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) *loom.Date {
	if !s.Valid || s.String == "" {
		return nil
	}
	d, err := loom.ParseDate(s.String)
	if err != nil {
		return nil
	}
	return &d
}

func mustDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var (
	_ loom.TxStore = (*Store)(nil)
	_ loom.Store   = (*txStore)(nil)
)
