/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract: dates travel as
  "YYYY-MM-DD" strings, times of day as "HH:MM", money as decimal strings.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO: Response types returned to clients

Engine operations do not use response DTOs: they return the loom.Result
envelope verbatim, which is the API contract for every mutating operation.

SEE ALSO:
  - handlers.go: Uses these types
  - loom/result.go: The Result envelope
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rabs/roster-engine/billing"
	"github.com/rabs/roster-engine/loom"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// WindowRequest sets or resizes the rolling window.
type WindowRequest struct {
	Weeks int `json:"weeks"`
}

// CancelRequest carries the cancellation type for an allocation.
type CancelRequest struct {
	Type string `json:"type"` // "normal" or "short_notice"
}

// SlotRequest is one time-slot template on a program.
type SlotRequest struct {
	Label string `json:"label"`
	Start string `json:"start"` // "HH:MM"
	End   string `json:"end"`
}

// ProgramRequest creates or updates a program.
type ProgramRequest struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Type            string        `json:"type,omitempty"`
	StartDate       string        `json:"start_date"`
	EndDate         *string       `json:"end_date,omitempty"`
	Repeat          string        `json:"repeat"`
	DaysOfWeek      []int         `json:"days_of_week"` // 0=Sunday .. 6=Saturday
	StartTime       string        `json:"start_time"`
	EndTime         string        `json:"end_time"`
	VenueID         string        `json:"venue_id,omitempty"`
	CentreBased     bool          `json:"centre_based"`
	StaffingMode    string        `json:"staffing_mode,omitempty"` // defaults to "auto"
	AdditionalStaff int           `json:"additional_staff"`
	Slots           []SlotRequest `json:"slots,omitempty"`
	Active          *bool         `json:"active,omitempty"` // defaults to true
}

// BillingCodeRequest is one NDIS billing line on an enrollment.
type BillingCodeRequest struct {
	Code       string `json:"code"`
	HourlyRate string `json:"hourly_rate"` // decimal string
	Hours      string `json:"hours,omitempty"`
}

// EnrollmentRequest links a participant to a program.
type EnrollmentRequest struct {
	ID            string               `json:"id"`
	ParticipantID string               `json:"participant_id"`
	ProgramID     string               `json:"program_id"`
	StartDate     string               `json:"start_date"`
	EndDate       *string              `json:"end_date,omitempty"`
	Active        *bool                `json:"active,omitempty"`
	Billing       []BillingCodeRequest `json:"billing,omitempty"`
}

// ParticipantRequest creates or updates a participant.
type ParticipantRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Suburb string `json:"suburb,omitempty"`
}

// AvailabilityRequest is one weekly availability span for a staff member.
type AvailabilityRequest struct {
	Weekday int    `json:"weekday"` // 0=Sunday .. 6=Saturday
	Start   string `json:"start"`
	End     string `json:"end"`
}

// StaffRequest creates or updates a staff member.
type StaffRequest struct {
	ID              string                `json:"id"`
	Name            string                `json:"name"`
	ContractedHours float64               `json:"contracted_hours"`
	Availability    []AvailabilityRequest `json:"availability,omitempty"`
}

// VehicleRequest creates or updates a vehicle.
type VehicleRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Rego     string `json:"rego,omitempty"`
	Capacity int    `json:"capacity"` // total seats including the driver's
}

// VenueRequest creates or updates a venue.
type VenueRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// UnavailabilityRequest records a blackout for a staff member or vehicle.
type UnavailabilityRequest struct {
	Kind     string `json:"kind"` // "staff" or "vehicle"
	EntityID string `json:"entity_id"`
	Start    string `json:"start"` // RFC3339
	End      string `json:"end"`
	Reason   string `json:"reason,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ProgramDTO represents a program in API responses.
type ProgramDTO struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Type            string        `json:"type,omitempty"`
	StartDate       string        `json:"start_date"`
	EndDate         *string       `json:"end_date,omitempty"`
	Repeat          string        `json:"repeat"`
	DaysOfWeek      []int         `json:"days_of_week"`
	StartTime       string        `json:"start_time"`
	EndTime         string        `json:"end_time"`
	VenueID         string        `json:"venue_id,omitempty"`
	CentreBased     bool          `json:"centre_based"`
	StaffingMode    string        `json:"staffing_mode"`
	AdditionalStaff int           `json:"additional_staff"`
	Slots           []SlotRequest `json:"slots,omitempty"`
	Active          bool          `json:"active"`
	CreatedAt       string        `json:"created_at,omitempty"`
}

// SettingsDTO is the persisted loom configuration.
type SettingsDTO struct {
	WindowWeeks int `json:"window_weeks"`
}

// ErrorResponse is the standard error response for transport-level failures.
// Engine-level failures use the loom.Result envelope instead.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func (r ProgramRequest) toDomain(now time.Time) (loom.Program, error) {
	startDate, err := loom.ParseDate(r.StartDate)
	if err != nil {
		return loom.Program{}, err
	}
	endDate, err := optionalDate(r.EndDate)
	if err != nil {
		return loom.Program{}, err
	}
	startTime, err := loom.ParseTimeOfDay(r.StartTime)
	if err != nil {
		return loom.Program{}, err
	}
	endTime, err := loom.ParseTimeOfDay(r.EndTime)
	if err != nil {
		return loom.Program{}, err
	}

	repeat := loom.RepeatPattern(r.Repeat)
	if !repeat.Valid() {
		return loom.Program{}, fmt.Errorf("invalid repeat pattern %q", r.Repeat)
	}

	days := make([]time.Weekday, 0, len(r.DaysOfWeek))
	for _, d := range r.DaysOfWeek {
		if d < 0 || d > 6 {
			return loom.Program{}, fmt.Errorf("invalid weekday %d", d)
		}
		days = append(days, time.Weekday(d))
	}

	slots := make([]loom.SlotTemplate, 0, len(r.Slots))
	for _, s := range r.Slots {
		start, err := loom.ParseTimeOfDay(s.Start)
		if err != nil {
			return loom.Program{}, err
		}
		end, err := loom.ParseTimeOfDay(s.End)
		if err != nil {
			return loom.Program{}, err
		}
		slots = append(slots, loom.SlotTemplate{Label: s.Label, Start: start, End: end})
	}

	mode := loom.StaffingMode(r.StaffingMode)
	if mode == "" {
		mode = loom.StaffingAuto
	}

	active := true
	if r.Active != nil {
		active = *r.Active
	}

	return loom.Program{
		ID:              loom.ProgramID(r.ID),
		Name:            r.Name,
		Type:            r.Type,
		StartDate:       startDate,
		EndDate:         endDate,
		Repeat:          repeat,
		DaysOfWeek:      days,
		StartTime:       startTime,
		EndTime:         endTime,
		VenueID:         loom.VenueID(r.VenueID),
		CentreBased:     r.CentreBased,
		StaffingMode:    mode,
		AdditionalStaff: r.AdditionalStaff,
		Slots:           slots,
		Active:          active,
		CreatedAt:       now,
	}, nil
}

func toProgramDTO(p loom.Program) ProgramDTO {
	days := make([]int, 0, len(p.DaysOfWeek))
	for _, d := range p.DaysOfWeek {
		days = append(days, int(d))
	}
	slots := make([]SlotRequest, 0, len(p.Slots))
	for _, s := range p.Slots {
		slots = append(slots, SlotRequest{Label: s.Label, Start: s.Start.String(), End: s.End.String()})
	}
	dto := ProgramDTO{
		ID:              string(p.ID),
		Name:            p.Name,
		Type:            p.Type,
		StartDate:       p.StartDate.String(),
		Repeat:          string(p.Repeat),
		DaysOfWeek:      days,
		StartTime:       p.StartTime.String(),
		EndTime:         p.EndTime.String(),
		VenueID:         string(p.VenueID),
		CentreBased:     p.CentreBased,
		StaffingMode:    string(p.StaffingMode),
		AdditionalStaff: p.AdditionalStaff,
		Slots:           slots,
		Active:          p.Active,
		CreatedAt:       p.CreatedAt.Format(time.RFC3339),
	}
	if p.EndDate != nil {
		s := p.EndDate.String()
		dto.EndDate = &s
	}
	return dto
}

func (r EnrollmentRequest) toDomain(now time.Time) (loom.Enrollment, error) {
	startDate, err := loom.ParseDate(r.StartDate)
	if err != nil {
		return loom.Enrollment{}, err
	}
	endDate, err := optionalDate(r.EndDate)
	if err != nil {
		return loom.Enrollment{}, err
	}

	codes := make([]billing.Code, 0, len(r.Billing))
	for _, b := range r.Billing {
		rate, err := decimal.NewFromString(b.HourlyRate)
		if err != nil {
			return loom.Enrollment{}, fmt.Errorf("invalid hourly_rate %q: %w", b.HourlyRate, err)
		}
		hours := decimal.Zero
		if b.Hours != "" {
			if hours, err = decimal.NewFromString(b.Hours); err != nil {
				return loom.Enrollment{}, fmt.Errorf("invalid hours %q: %w", b.Hours, err)
			}
		}
		codes = append(codes, billing.Code{Code: b.Code, HourlyRate: rate, Hours: hours})
	}

	active := true
	if r.Active != nil {
		active = *r.Active
	}

	return loom.Enrollment{
		ID:            loom.EnrollmentID(r.ID),
		ParticipantID: loom.ParticipantID(r.ParticipantID),
		ProgramID:     loom.ProgramID(r.ProgramID),
		StartDate:     startDate,
		EndDate:       endDate,
		Active:        active,
		Billing:       codes,
		CreatedAt:     now,
	}, nil
}

func (r StaffRequest) toDomain(now time.Time) (loom.Staff, error) {
	rules := make([]loom.AvailabilityRule, 0, len(r.Availability))
	for _, a := range r.Availability {
		start, err := loom.ParseTimeOfDay(a.Start)
		if err != nil {
			return loom.Staff{}, err
		}
		end, err := loom.ParseTimeOfDay(a.End)
		if err != nil {
			return loom.Staff{}, err
		}
		if a.Weekday < 0 || a.Weekday > 6 {
			return loom.Staff{}, fmt.Errorf("invalid weekday %d", a.Weekday)
		}
		rules = append(rules, loom.AvailabilityRule{
			Weekday: time.Weekday(a.Weekday),
			Start:   start,
			End:     end,
		})
	}
	return loom.Staff{
		ID:              loom.StaffID(r.ID),
		Name:            r.Name,
		ContractedHours: r.ContractedHours,
		Availability:    rules,
		CreatedAt:       now,
	}, nil
}

func (r UnavailabilityRequest) toDomain() (loom.Unavailability, error) {
	kind := loom.EntityKind(r.Kind)
	if kind != loom.KindStaff && kind != loom.KindVehicle {
		return loom.Unavailability{}, fmt.Errorf("invalid kind %q (use staff or vehicle)", r.Kind)
	}
	start, err := time.Parse(time.RFC3339, r.Start)
	if err != nil {
		return loom.Unavailability{}, fmt.Errorf("invalid start %q: %w", r.Start, err)
	}
	end, err := time.Parse(time.RFC3339, r.End)
	if err != nil {
		return loom.Unavailability{}, fmt.Errorf("invalid end %q: %w", r.End, err)
	}
	if !end.After(start) {
		return loom.Unavailability{}, fmt.Errorf("end must be after start")
	}
	return loom.Unavailability{
		Kind:     kind,
		EntityID: r.EntityID,
		Start:    start,
		End:      end,
		Reason:   r.Reason,
	}, nil
}

func optionalDate(s *string) (*loom.Date, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := loom.ParseDate(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
