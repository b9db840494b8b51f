/*
handlers.go - HTTP API handlers for the roster engine

PURPOSE:
  Exposes the loom engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Loom:
    POST   /api/loom/generate               Generate the rolling window
    GET    /api/loom/window                 Current window settings
    PUT    /api/loom/window                 Resize the window
    GET    /api/loom/instances              List instances in a date range
    GET    /api/loom/instances/{id}         Full instance projection
    POST   /api/loom/instances/{id}/allocate    Step (a): participants
    POST   /api/loom/instances/{id}/staff       Step (b): staff
    POST   /api/loom/instances/{id}/vehicles    Step (c): vehicles
    POST   /api/loom/instances/{id}/reoptimize  Clear and re-run all steps
    POST   /api/loom/allocations/{id}/cancel    Participant cancellation
    POST   /api/loom/shifts/{id}/sickness       Staff sickness

  Reference data:
    /api/programs, /api/enrollments, /api/participants, /api/staff,
    /api/vehicles, /api/venues, /api/unavailability

RESPONSE CONTRACT:
  Every loom operation responds with the loom.Result envelope:
  {success, message, data?, error?}. Committed insufficiency (not enough
  staff or seats) is success=false with HTTP 200: the state change stuck,
  the goal did not. Transport and validation failures use ErrorResponse
  with 4xx/5xx.

SECURITY NOTE:
  No authentication middleware. The API is deployed behind the
  coordinator's private network.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - loom/engine.go: The operations these handlers delegate to
*/
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rabs/roster-engine/loom"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   loom.TxStore
	Engine  *loom.Engine
	Metrics *Metrics
}

// NewHandler creates a new handler over the given store.
func NewHandler(store loom.TxStore, metrics *Metrics) *Handler {
	return &Handler{
		Store:   store,
		Engine:  loom.NewEngine(store),
		Metrics: metrics,
	}
}

// =============================================================================
// LOOM OPERATIONS
// =============================================================================

// GenerateWindow materializes the rolling window.
// POST /api/loom/generate
func (h *Handler) GenerateWindow(w http.ResponseWriter, r *http.Request) {
	var req WindowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	weeks := req.Weeks
	if weeks == 0 {
		settings, err := h.Store.GetSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load settings", err)
			return
		}
		weeks = settings.WindowWeeks
	}

	res := h.Engine.GenerateWindow(r.Context(), weeks)
	if summary, ok := res.Data.(loom.GenerationSummary); ok {
		h.Metrics.InstancesGenerated.Add(float64(summary.Created))
		h.Metrics.InstancesDeleted.Add(float64(summary.Deleted))
	}
	writeResult(w, res)
}

// GetWindow returns the persisted window settings.
// GET /api/loom/window
func (h *Handler) GetWindow(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Store.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, SettingsDTO{WindowWeeks: settings.WindowWeeks})
}

// ResizeWindow grows or shrinks the rolling window.
// PUT /api/loom/window
func (h *Handler) ResizeWindow(w http.ResponseWriter, r *http.Request) {
	var req WindowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res := h.Engine.ResizeWindow(r.Context(), req.Weeks)
	if summary, ok := res.Data.(loom.GenerationSummary); ok {
		h.Metrics.InstancesGenerated.Add(float64(summary.Created))
		h.Metrics.InstancesDeleted.Add(float64(summary.Deleted))
	}
	writeResult(w, res)
}

// ListInstances returns instances in [from, to). Defaults to the current
// window when the range is omitted.
// GET /api/loom/instances?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	from := loom.Today()
	to := from.AddWeeks(loom.DefaultWindowWeeks)

	if s := r.URL.Query().Get("from"); s != "" {
		d, err := loom.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date", err)
			return
		}
		from = d
	}
	if s := r.URL.Query().Get("to"); s != "" {
		d, err := loom.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date", err)
			return
		}
		to = d
	} else if settings, err := h.Store.GetSettings(r.Context()); err == nil {
		to = from.AddWeeks(settings.WindowWeeks)
	}

	writeResult(w, h.Engine.Instances(r.Context(), from, to))
}

// GetInstance returns the full per-instance projection.
// GET /api/loom/instances/{id}
func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	id := loom.InstanceID(chi.URLParam(r, "id"))
	writeResult(w, h.Engine.InstanceDetails(r.Context(), id))
}

// AllocateParticipants runs allocation step (a) for one instance.
// POST /api/loom/instances/{id}/allocate
func (h *Handler) AllocateParticipants(w http.ResponseWriter, r *http.Request) {
	id := loom.InstanceID(chi.URLParam(r, "id"))
	res := h.Engine.AllocateParticipants(r.Context(), id)
	if data, ok := res.Data.(map[string]any); ok {
		if ids, ok := data["allocation_ids"].([]loom.AllocationID); ok {
			h.Metrics.Allocations.Add(float64(len(ids)))
		}
	}
	writeResult(w, res)
}

// AssignStaff runs allocation step (b) for one instance.
// POST /api/loom/instances/{id}/staff
func (h *Handler) AssignStaff(w http.ResponseWriter, r *http.Request) {
	id := loom.InstanceID(chi.URLParam(r, "id"))
	res := h.Engine.AssignStaff(r.Context(), id)
	if !res.Success && res.Error == "" {
		h.Metrics.OptimiseFailures.Inc()
	}
	writeResult(w, res)
}

// AssignVehicles runs allocation step (c) for one instance.
// POST /api/loom/instances/{id}/vehicles
func (h *Handler) AssignVehicles(w http.ResponseWriter, r *http.Request) {
	id := loom.InstanceID(chi.URLParam(r, "id"))
	res := h.Engine.AssignVehicles(r.Context(), id)
	if !res.Success && res.Error == "" {
		h.Metrics.OptimiseFailures.Inc()
	}
	writeResult(w, res)
}

// Reoptimize clears allocation state and re-runs all three steps.
// POST /api/loom/instances/{id}/reoptimize
func (h *Handler) Reoptimize(w http.ResponseWriter, r *http.Request) {
	id := loom.InstanceID(chi.URLParam(r, "id"))
	writeResult(w, h.Engine.Reoptimize(r.Context(), id))
}

// CancelAllocation records a participant cancellation and rebalances staffing.
// POST /api/loom/allocations/{id}/cancel
func (h *Handler) CancelAllocation(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := loom.AllocationID(chi.URLParam(r, "id"))
	res := h.Engine.HandleParticipantCancellation(r.Context(), id, loom.CancellationType(req.Type))
	if res.Success {
		h.Metrics.Cancellations.Inc()
	}
	writeResult(w, res)
}

// ReportSickness replaces a sick staff member's shift or flags the instance.
// POST /api/loom/shifts/{id}/sickness
func (h *Handler) ReportSickness(w http.ResponseWriter, r *http.Request) {
	id := loom.ShiftID(chi.URLParam(r, "id"))
	res := h.Engine.HandleStaffSickness(r.Context(), id)
	if res.Success {
		h.Metrics.SicknessReports.Inc()
	}
	writeResult(w, res)
}

// CreateUnavailability records a blackout and flags affected instances.
// POST /api/unavailability
func (h *Handler) CreateUnavailability(w http.ResponseWriter, r *http.Request) {
	var req UnavailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	u, err := req.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid unavailability", err)
		return
	}

	writeResult(w, h.Engine.RecordUnavailability(r.Context(), u))
}

// =============================================================================
// PROGRAM HANDLERS
// =============================================================================

// ListPrograms returns all programs.
// GET /api/programs?active=true
func (h *Handler) ListPrograms(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	programs, err := h.Store.ListPrograms(r.Context(), activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list programs", err)
		return
	}

	dtos := make([]ProgramDTO, len(programs))
	for i, p := range programs {
		dtos[i] = toProgramDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProgram returns a single program.
// GET /api/programs/{id}
func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	id := loom.ProgramID(chi.URLParam(r, "id"))
	p, err := h.Store.GetProgram(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get program", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Program not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toProgramDTO(*p))
}

// CreateProgram saves a program and generates its instances across the
// current window.
// POST /api/programs
func (h *Handler) CreateProgram(w http.ResponseWriter, r *http.Request) {
	h.saveProgram(w, r, http.StatusCreated)
}

// UpdateProgram saves program changes and regenerates its future instances.
// PUT /api/programs/{id}
func (h *Handler) UpdateProgram(w http.ResponseWriter, r *http.Request) {
	h.saveProgram(w, r, http.StatusOK)
}

func (h *Handler) saveProgram(w http.ResponseWriter, r *http.Request, status int) {
	var req ProgramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		req.ID = id
	}

	p, err := req.toDomain(time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid program", err)
		return
	}

	if existing, err := h.Store.GetProgram(r.Context(), p.ID); err == nil && existing != nil {
		p.CreatedAt = existing.CreatedAt
	}

	if err := h.Store.SaveProgram(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save program", err)
		return
	}

	// Date or pattern changes invalidate the materialized window for this
	// program; regenerate it immediately.
	res := h.Engine.RegenerateProgram(r.Context(), p.ID)
	if summary, ok := res.Data.(loom.GenerationSummary); ok {
		h.Metrics.InstancesGenerated.Add(float64(summary.Created))
		h.Metrics.InstancesDeleted.Add(float64(summary.Deleted))
	}
	if !res.Success {
		writeResult(w, res)
		return
	}

	writeJSON(w, status, toProgramDTO(p))
}

// =============================================================================
// REFERENCE DATA HANDLERS
// =============================================================================

// CreateEnrollment links a participant to a program.
// POST /api/enrollments
func (h *Handler) CreateEnrollment(w http.ResponseWriter, r *http.Request) {
	var req EnrollmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	e, err := req.toDomain(time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid enrollment", err)
		return
	}

	if err := h.Store.SaveEnrollment(r.Context(), e); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save enrollment", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(e.ID)})
}

// CreateParticipant creates or updates a participant.
// POST /api/participants
func (h *Handler) CreateParticipant(w http.ResponseWriter, r *http.Request) {
	var req ParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p := loom.Participant{
		ID:        loom.ParticipantID(req.ID),
		Name:      req.Name,
		Suburb:    req.Suburb,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveParticipant(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save participant", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(p.ID)})
}

// GetParticipant returns a single participant.
// GET /api/participants/{id}
func (h *Handler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	id := loom.ParticipantID(chi.URLParam(r, "id"))
	p, err := h.Store.GetParticipant(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get participant", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Participant not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CreateStaff creates or updates a staff member.
// POST /api/staff
func (h *Handler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	var req StaffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	st, err := req.toDomain(time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid staff", err)
		return
	}
	if err := h.Store.SaveStaff(r.Context(), st); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save staff", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(st.ID)})
}

// ListStaff returns all staff.
// GET /api/staff
func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := h.Store.ListStaff(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list staff", err)
		return
	}
	writeJSON(w, http.StatusOK, staff)
}

// CreateVehicle creates or updates a vehicle.
// POST /api/vehicles
func (h *Handler) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	var req VehicleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	v := loom.Vehicle{
		ID:        loom.VehicleID(req.ID),
		Name:      req.Name,
		Rego:      req.Rego,
		Capacity:  req.Capacity,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveVehicle(r.Context(), v); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save vehicle", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(v.ID)})
}

// ListVehicles returns all vehicles.
// GET /api/vehicles
func (h *Handler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.Store.ListVehicles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list vehicles", err)
		return
	}
	writeJSON(w, http.StatusOK, vehicles)
}

// CreateVenue creates or updates a venue.
// POST /api/venues
func (h *Handler) CreateVenue(w http.ResponseWriter, r *http.Request) {
	var req VenueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	v := loom.Venue{
		ID:        loom.VenueID(req.ID),
		Name:      req.Name,
		Address:   req.Address,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveVenue(r.Context(), v); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save venue", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(v.ID)})
}

// ListVenues returns all venues.
// GET /api/venues
func (h *Handler) ListVenues(w http.ResponseWriter, r *http.Request) {
	venues, err := h.Store.ListVenues(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list venues", err)
		return
	}
	writeJSON(w, http.StatusOK, venues)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// writeResult renders the loom.Result envelope. Committed insufficiency
// (success=false with no error) is HTTP 200; not-found and validation errors
// map to 404/400.
func writeResult(w http.ResponseWriter, res loom.Result) {
	writeJSON(w, statusForResult(res), res)
}

func statusForResult(res loom.Result) int {
	if res.Success || res.Error == "" {
		return http.StatusOK
	}
	switch {
	case strings.Contains(res.Error, "not found"):
		return http.StatusNotFound
	case strings.Contains(res.Error, "out of range"),
		strings.Contains(res.Error, "invalid cancellation type"),
		strings.Contains(res.Error, "already cancelled"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
