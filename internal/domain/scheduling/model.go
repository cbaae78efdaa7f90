package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
	StatusNoShow    = "no-show"
)

var validStatuses = map[string]bool{
	StatusPending: true, StatusConfirmed: true, StatusCancelled: true,
	StatusCompleted: true, StatusNoShow: true,
}

type Professional struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	FullName       string    `json:"full_name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	Color          string    `json:"color"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Consultation is a bookable room or resource.
type Consultation struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Appointment struct {
	ID             uuid.UUID   `json:"id"`
	OrganizationID uuid.UUID   `json:"organization_id"`
	ClientID       uuid.UUID   `json:"client_id"`
	ProfessionalID uuid.UUID   `json:"professional_id"`
	ConsultationID *uuid.UUID  `json:"consultation_id,omitempty"`
	Service        string      `json:"service"`
	StartsAt       time.Time   `json:"starts_at"`
	EndsAt         time.Time   `json:"ends_at"`
	Status         string      `json:"status"`
	Notes          string      `json:"notes"`
	Recurrence     *Recurrence `json:"recurrence,omitempty"`
	SeriesID       *uuid.UUID  `json:"series_id,omitempty"`
	ReminderSentAt *time.Time  `json:"reminder_sent_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Overlaps is the booking conflict predicate: half-open intervals that share
// any instant. Back-to-back slots do not overlap.
func Overlaps(start, end, otherStart, otherEnd time.Time) bool {
	return start.Before(otherEnd) && end.After(otherStart)
}

// Window is a same-day time range in the organization's time zone.
type Window struct {
	Date  string `json:"date"`       // 2006-01-02
	Start string `json:"start_time"` // 15:04
	End   string `json:"end_time"`   // 15:04
}

// Resolve converts the window to absolute instants in loc.
func (w Window) Resolve(loc *time.Location) (time.Time, time.Time, error) {
	v := &apperr.ValidationError{}
	day, err := time.ParseInLocation("2006-01-02", w.Date, loc)
	if err != nil {
		v.Add("date", "must be YYYY-MM-DD")
	}
	start, err := time.Parse("15:04", w.Start)
	if err != nil {
		v.Add("start_time", "must be HH:MM")
	}
	end, err := time.Parse("15:04", w.End)
	if err != nil {
		v.Add("end_time", "must be HH:MM")
	}
	if err := v.OrNil(); err != nil {
		return time.Time{}, time.Time{}, err
	}

	s := time.Date(day.Year(), day.Month(), day.Day(), start.Hour(), start.Minute(), 0, 0, loc)
	e := time.Date(day.Year(), day.Month(), day.Day(), end.Hour(), end.Minute(), 0, 0, loc)
	if !s.Before(e) {
		return time.Time{}, time.Time{}, apperr.Invalid("end_time", "must be after start_time")
	}
	return s, e, nil
}

const (
	RecurDaily   = "daily"
	RecurWeekly  = "weekly"
	RecurMonthly = "monthly"

	// MaxOccurrences bounds a recurring series, a year of daily sessions.
	// Longer series are rejected rather than cut short.
	MaxOccurrences = 366
)

type Recurrence struct {
	Type     string `json:"type"`
	Interval int    `json:"interval"`
	EndDate  string `json:"end_date"` // inclusive, 2006-01-02
}

func (r *Recurrence) Validate() error {
	v := &apperr.ValidationError{}
	switch r.Type {
	case RecurDaily, RecurWeekly, RecurMonthly:
	default:
		v.Add("recurrence.type", "must be daily, weekly or monthly")
	}
	if r.Interval < 1 {
		v.Add("recurrence.interval", "must be at least 1")
	}
	if _, err := time.Parse("2006-01-02", r.EndDate); err != nil {
		v.Add("recurrence.end_date", "must be YYYY-MM-DD")
	}
	return v.OrNil()
}

type Occurrence struct {
	Start time.Time
	End   time.Time
}

// Expand lists the occurrences of a series whose first occurrence is
// [start, end). Wall-clock times are kept across DST changes, and monthly
// series skip months without the start day.
func (r *Recurrence) Expand(start, end time.Time) ([]Occurrence, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	loc := start.Location()
	last, _ := time.ParseInLocation("2006-01-02", r.EndDate, loc)
	last = last.AddDate(0, 0, 1) // exclusive bound

	y, m, d := start.Date()
	sh, sm, _ := start.Clock()
	eh, em, _ := end.Clock()
	dayOffset := int(end.Sub(start).Hours()) / 24

	var out []Occurrence
	for step := 0; ; step++ {
		var day time.Time
		switch r.Type {
		case RecurDaily:
			day = time.Date(y, m, d+step*r.Interval, 0, 0, 0, 0, loc)
		case RecurWeekly:
			day = time.Date(y, m, d+7*step*r.Interval, 0, 0, 0, 0, loc)
		case RecurMonthly:
			first := time.Date(y, m+time.Month(step*r.Interval), 1, 0, 0, 0, 0, loc)
			if d > daysIn(first) {
				if !first.Before(last) {
					return out, nil
				}
				continue
			}
			day = time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, loc)
		}
		if !day.Before(last) {
			break
		}
		if len(out) == MaxOccurrences {
			return nil, apperr.Invalid("recurrence", fmt.Sprintf("series would exceed %d occurrences; choose an earlier end_date", MaxOccurrences))
		}
		s := time.Date(day.Year(), day.Month(), day.Day(), sh, sm, 0, 0, loc)
		e := time.Date(day.Year(), day.Month(), day.Day()+dayOffset, eh, em, 0, 0, loc)
		out = append(out, Occurrence{Start: s, End: e})
	}
	return out, nil
}

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}

type AppointmentInput struct {
	ClientID       uuid.UUID   `json:"client_id"`
	ProfessionalID uuid.UUID   `json:"professional_id"`
	ConsultationID *uuid.UUID  `json:"consultation_id,omitempty"`
	Service        string      `json:"service"`
	Window
	Status     string      `json:"status"`
	Notes      string      `json:"notes"`
	Recurrence *Recurrence `json:"recurrence,omitempty"`
}

func (in *AppointmentInput) Validate() error {
	v := &apperr.ValidationError{}
	if in.ClientID == uuid.Nil {
		v.Add("client_id", "is required")
	}
	if in.ProfessionalID == uuid.Nil {
		v.Add("professional_id", "is required")
	}
	if in.Status != "" && !validStatuses[in.Status] {
		v.Add("status", "is not a valid status")
	}
	if in.Status == StatusCancelled {
		v.Add("status", "a new appointment cannot be cancelled")
	}
	return v.OrNil()
}

type AvailabilityQuery struct {
	Window
	ProfessionalID       *uuid.UUID
	ConsultationID       *uuid.UUID
	ExcludeAppointmentID *uuid.UUID
}

type Conflict struct {
	AppointmentID  uuid.UUID  `json:"appointment_id"`
	ProfessionalID uuid.UUID  `json:"professional_id"`
	ConsultationID *uuid.UUID `json:"consultation_id,omitempty"`
	StartsAt       time.Time  `json:"starts_at"`
	EndsAt         time.Time  `json:"ends_at"`
	// Resource is "professional" or "consultation".
	Resource string `json:"resource"`
}

type Availability struct {
	Available bool       `json:"available"`
	Conflicts []Conflict `json:"conflicts"`
}

type AppointmentFilter struct {
	From           *time.Time
	To             *time.Time
	ProfessionalID *uuid.UUID
	ConsultationID *uuid.UUID
	ClientID       *uuid.UUID
	Status         string
}

// ConflictError lists the occurrences that could not be booked.
type ConflictError struct {
	Starts []time.Time
}

func (e *ConflictError) Error() string {
	dates := make([]string, len(e.Starts))
	for i, s := range e.Starts {
		dates[i] = s.Format("2006-01-02 15:04")
	}
	return "time slot not available: " + strings.Join(dates, ", ")
}

func (e *ConflictError) Unwrap() error { return ErrSlotTaken }

const (
	ActivityActive    = "active"
	ActivityCancelled = "cancelled"

	ParticipantRegistered = "registered"
	ParticipantAttended   = "attended"
	ParticipantCancelled  = "cancelled"
)

type GroupActivity struct {
	ID                  uuid.UUID  `json:"id"`
	OrganizationID      uuid.UUID  `json:"organization_id"`
	Name                string     `json:"name"`
	Description         string     `json:"description"`
	ProfessionalID      *uuid.UUID `json:"professional_id,omitempty"`
	ConsultationID      *uuid.UUID `json:"consultation_id,omitempty"`
	StartsAt            time.Time  `json:"starts_at"`
	EndsAt              time.Time  `json:"ends_at"`
	MaxParticipants     int        `json:"max_participants"`
	CurrentParticipants int        `json:"current_participants"`
	Status              string     `json:"status"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type ActivityInput struct {
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	ProfessionalID  *uuid.UUID `json:"professional_id,omitempty"`
	ConsultationID  *uuid.UUID `json:"consultation_id,omitempty"`
	MaxParticipants int        `json:"max_participants"`
	Window
}

func (in *ActivityInput) Validate() error {
	v := &apperr.ValidationError{}
	if strings.TrimSpace(in.Name) == "" {
		v.Add("name", "is required")
	}
	if in.MaxParticipants < 1 {
		v.Add("max_participants", "must be at least 1")
	}
	return v.OrNil()
}

type Participant struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	ActivityID     uuid.UUID `json:"activity_id"`
	ClientID       uuid.UUID `json:"client_id"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// counted reports whether the participant occupies a seat.
func (p *Participant) counted() bool {
	return p.Status == ParticipantRegistered || p.Status == ParticipantAttended
}

// ReminderTarget is an appointment due for a reminder, joined with what the
// message needs.
type ReminderTarget struct {
	AppointmentID    uuid.UUID
	OrganizationID   uuid.UUID
	OrganizationName string
	Timezone         string
	StartsAt         time.Time
	Service          string
	ClientName       string
	ClientEmail      string
	ClientPhone      string
	ProfessionalName string
}

type ReminderReport struct {
	Sent     int `json:"sent"`
	WhatsApp int `json:"whatsapp"`
	Email    int `json:"email"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}
