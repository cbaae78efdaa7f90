package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/domain/crm"
	"github.com/clinicdesk/clinicdesk/internal/domain/identity"
	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
	"github.com/clinicdesk/clinicdesk/internal/platform/notification"
)

var (
	ErrProfessionalNotFound = apperr.New(apperr.ErrNotFound, "professional not found")
	ErrConsultationNotFound = apperr.New(apperr.ErrNotFound, "consultation not found")
	ErrAppointmentNotFound  = apperr.New(apperr.ErrNotFound, "appointment not found")
	ErrActivityNotFound     = apperr.New(apperr.ErrNotFound, "group activity not found")
	ErrParticipantNotFound  = apperr.New(apperr.ErrNotFound, "participant not found")

	ErrSlotTaken            = apperr.New(apperr.ErrConflict, "time slot not available")
	ErrAlreadyEnrolled      = apperr.New(apperr.ErrConflict, "client is already enrolled")
	ErrCapacityReached      = apperr.New(apperr.ErrConflict, "activity is full")
	ErrActivityCancelled    = apperr.New(apperr.ErrConflict, "activity is cancelled")
	ErrParticipantCancelled = apperr.New(apperr.ErrConflict, "enrollment is cancelled")
	ErrCapacityBelowCount   = apperr.New(apperr.ErrConflict, "max_participants is below the current enrollment")

	errNoReminderChannel = errors.New("client has neither phone nor email")
)

// ReminderTemplate is the WhatsApp template used for appointment reminders.
const ReminderTemplate = "appointment_reminder"

const (
	channelWhatsApp = "whatsapp"
	channelEmail    = "email"
)

type Organizations interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*identity.Organization, error)
}

type Clients interface {
	GetClient(ctx context.Context, orgID, id uuid.UUID) (*crm.Client, error)
}

// WhatsApp sends template messages through an organization's business account.
type WhatsApp interface {
	HasActiveChannel(ctx context.Context, orgID uuid.UUID) (bool, error)
	SendTemplateMessage(ctx context.Context, orgID uuid.UUID, to, template string, params []string) error
}

type Repositories struct {
	Professionals ProfessionalRepository
	Consultations ConsultationRepository
	Appointments  AppointmentRepository
	Activities    ActivityRepository
	Participants  ParticipantRepository
}

type Service struct {
	professionals ProfessionalRepository
	consultations ConsultationRepository
	appointments  AppointmentRepository
	activities    ActivityRepository
	participants  ParticipantRepository

	tx       db.TxRunner
	orgs     Organizations
	clients  Clients
	mailer   *notification.Mailer
	whatsapp WhatsApp
	events   events.Publisher
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repos Repositories, tx db.TxRunner, orgs Organizations, clients Clients, mailer *notification.Mailer, pub events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		professionals: repos.Professionals,
		consultations: repos.Consultations,
		appointments:  repos.Appointments,
		activities:    repos.Activities,
		participants:  repos.Participants,
		tx:            tx,
		orgs:          orgs,
		clients:       clients,
		mailer:        mailer,
		events:        pub,
		logger:        logger,
		now:           time.Now,
	}
}

// SetWhatsApp enables WhatsApp reminders. Without it reminders go by email.
func (s *Service) SetWhatsApp(wa WhatsApp) { s.whatsapp = wa }

func (s *Service) location(ctx context.Context, orgID uuid.UUID) (*time.Location, error) {
	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return org.Location(), nil
}

// -- Professionals --

func (s *Service) CreateProfessional(ctx context.Context, orgID uuid.UUID, p *Professional) error {
	p.OrganizationID = orgID
	p.Active = true
	if err := prepareProfessional(p); err != nil {
		return err
	}
	return s.professionals.Create(ctx, p)
}

func (s *Service) GetProfessional(ctx context.Context, orgID, id uuid.UUID) (*Professional, error) {
	return s.professionals.GetByID(ctx, orgID, id)
}

func (s *Service) UpdateProfessional(ctx context.Context, orgID uuid.UUID, p *Professional) error {
	p.OrganizationID = orgID
	if err := prepareProfessional(p); err != nil {
		return err
	}
	return s.professionals.Update(ctx, p)
}

func (s *Service) ListProfessionals(ctx context.Context, orgID uuid.UUID, activeOnly bool) ([]*Professional, error) {
	return s.professionals.List(ctx, orgID, activeOnly)
}

// DeactivateProfessional hides the professional from new bookings. Existing
// appointments are kept.
func (s *Service) DeactivateProfessional(ctx context.Context, orgID, id uuid.UUID) (*Professional, error) {
	p, err := s.professionals.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	p.Active = false
	if err := s.professionals.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func prepareProfessional(p *Professional) error {
	p.FullName = strings.TrimSpace(p.FullName)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if p.Color == "" {
		p.Color = "#0ea5e9"
	}
	if p.FullName == "" {
		return apperr.Invalid("full_name", "is required")
	}
	return nil
}

// -- Consultations --

func (s *Service) CreateConsultation(ctx context.Context, orgID uuid.UUID, c *Consultation) error {
	c.OrganizationID = orgID
	c.Active = true
	if c.Name = strings.TrimSpace(c.Name); c.Name == "" {
		return apperr.Invalid("name", "is required")
	}
	return s.consultations.Create(ctx, c)
}

func (s *Service) GetConsultation(ctx context.Context, orgID, id uuid.UUID) (*Consultation, error) {
	return s.consultations.GetByID(ctx, orgID, id)
}

func (s *Service) UpdateConsultation(ctx context.Context, orgID uuid.UUID, c *Consultation) error {
	c.OrganizationID = orgID
	if c.Name = strings.TrimSpace(c.Name); c.Name == "" {
		return apperr.Invalid("name", "is required")
	}
	return s.consultations.Update(ctx, c)
}

func (s *Service) ListConsultations(ctx context.Context, orgID uuid.UUID, activeOnly bool) ([]*Consultation, error) {
	return s.consultations.List(ctx, orgID, activeOnly)
}

func (s *Service) DeactivateConsultation(ctx context.Context, orgID, id uuid.UUID) (*Consultation, error) {
	c, err := s.consultations.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	c.Active = false
	if err := s.consultations.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// FreeConsultations lists the active consultations nobody has booked during w.
func (s *Service) FreeConsultations(ctx context.Context, orgID uuid.UUID, w Window, exclude *uuid.UUID) ([]*Consultation, error) {
	loc, err := s.location(ctx, orgID)
	if err != nil {
		return nil, err
	}
	start, end, err := w.Resolve(loc)
	if err != nil {
		return nil, err
	}

	busy, err := s.appointments.BusyConsultations(ctx, orgID, start, end, exclude)
	if err != nil {
		return nil, err
	}
	taken := make(map[uuid.UUID]bool, len(busy))
	for _, id := range busy {
		taken[id] = true
	}

	all, err := s.consultations.List(ctx, orgID, true)
	if err != nil {
		return nil, err
	}
	free := make([]*Consultation, 0, len(all))
	for _, c := range all {
		if !taken[c.ID] {
			free = append(free, c)
		}
	}
	return free, nil
}

// -- Availability --

// CheckAvailability reports the appointments that would clash with q. A
// failed lookup is returned as an error and never reads as available.
func (s *Service) CheckAvailability(ctx context.Context, orgID uuid.UUID, q AvailabilityQuery) (*Availability, error) {
	if q.ProfessionalID == nil && q.ConsultationID == nil {
		return nil, apperr.Invalid("professional_id", "professional_id or consultation_id is required")
	}
	loc, err := s.location(ctx, orgID)
	if err != nil {
		return nil, err
	}
	start, end, err := q.Window.Resolve(loc)
	if err != nil {
		return nil, err
	}
	return s.availability(ctx, orgID, start, end, q.ProfessionalID, q.ConsultationID, q.ExcludeAppointmentID)
}

func (s *Service) availability(ctx context.Context, orgID uuid.UUID, start, end time.Time, professionalID, consultationID, exclude *uuid.UUID) (*Availability, error) {
	found, err := s.appointments.Overlapping(ctx, orgID, start, end, professionalID, consultationID, exclude)
	if err != nil {
		return nil, fmt.Errorf("check availability: %w", err)
	}
	av := &Availability{Available: len(found) == 0, Conflicts: make([]Conflict, 0, len(found))}
	for _, a := range found {
		resource := "consultation"
		if professionalID != nil && a.ProfessionalID == *professionalID {
			resource = "professional"
		}
		av.Conflicts = append(av.Conflicts, Conflict{
			AppointmentID:  a.ID,
			ProfessionalID: a.ProfessionalID,
			ConsultationID: a.ConsultationID,
			StartsAt:       a.StartsAt,
			EndsAt:         a.EndsAt,
			Resource:       resource,
		})
	}
	return av, nil
}

func lockKeys(professionalID uuid.UUID, consultationID *uuid.UUID) []string {
	keys := []string{"appointment:professional:" + professionalID.String()}
	if consultationID != nil {
		keys = append(keys, "appointment:consultation:"+consultationID.String())
	}
	return keys
}

// -- Appointments --

// checkParties verifies the client exists and the professional and
// consultation exist and take bookings.
func (s *Service) checkParties(ctx context.Context, orgID, clientID, professionalID uuid.UUID, consultationID *uuid.UUID) error {
	if _, err := s.clients.GetClient(ctx, orgID, clientID); err != nil {
		return err
	}
	p, err := s.professionals.GetByID(ctx, orgID, professionalID)
	if err != nil {
		return err
	}
	if !p.Active {
		return apperr.Invalid("professional_id", "professional is inactive")
	}
	if consultationID != nil {
		c, err := s.consultations.GetByID(ctx, orgID, *consultationID)
		if err != nil {
			return err
		}
		if !c.Active {
			return apperr.Invalid("consultation_id", "consultation is inactive")
		}
	}
	return nil
}

// CreateAppointment books a single appointment or a whole recurring series.
// Every occurrence is re-checked under advisory locks and either all of
// them are inserted or none.
func (s *Service) CreateAppointment(ctx context.Context, orgID uuid.UUID, in AppointmentInput) ([]*Appointment, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	loc, err := s.location(ctx, orgID)
	if err != nil {
		return nil, err
	}
	start, end, err := in.Window.Resolve(loc)
	if err != nil {
		return nil, err
	}

	occurrences := []Occurrence{{Start: start, End: end}}
	if in.Recurrence != nil {
		occurrences, err = in.Recurrence.Expand(start, end)
		if err != nil {
			return nil, err
		}
		if len(occurrences) == 0 {
			return nil, apperr.Invalid("recurrence.end_date", "must not be before date")
		}
	}
	status := in.Status
	if status == "" {
		status = StatusPending
	}

	var created []*Appointment
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.checkParties(ctx, orgID, in.ClientID, in.ProfessionalID, in.ConsultationID); err != nil {
			return err
		}
		if err := s.appointments.Lock(ctx, lockKeys(in.ProfessionalID, in.ConsultationID)...); err != nil {
			return err
		}

		var taken []time.Time
		for _, o := range occurrences {
			found, err := s.appointments.Overlapping(ctx, orgID, o.Start, o.End, &in.ProfessionalID, in.ConsultationID, nil)
			if err != nil {
				return fmt.Errorf("check availability: %w", err)
			}
			if len(found) > 0 {
				taken = append(taken, o.Start)
			}
		}
		if len(taken) > 0 {
			return &ConflictError{Starts: taken}
		}

		var seriesID *uuid.UUID
		if len(occurrences) > 1 {
			id := uuid.New()
			seriesID = &id
		}
		created = make([]*Appointment, 0, len(occurrences))
		for _, o := range occurrences {
			a := &Appointment{
				OrganizationID: orgID,
				ClientID:       in.ClientID,
				ProfessionalID: in.ProfessionalID,
				ConsultationID: in.ConsultationID,
				Service:        strings.TrimSpace(in.Service),
				StartsAt:       o.Start,
				EndsAt:         o.End,
				Status:         status,
				Notes:          in.Notes,
				Recurrence:     in.Recurrence,
				SeriesID:       seriesID,
			}
			if err := s.appointments.Create(ctx, a); err != nil {
				if errors.Is(err, ErrSlotTaken) {
					return &ConflictError{Starts: []time.Time{o.Start}}
				}
				return err
			}
			created = append(created, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(created))
	for i, a := range created {
		ids[i] = a.ID
	}
	events.Emit(ctx, s.events, s.logger, events.New(events.AppointmentCreated, orgID, map[string]interface{}{
		"appointment_ids": ids,
		"series_id":       created[0].SeriesID,
		"client_id":       in.ClientID,
		"professional_id": in.ProfessionalID,
		"starts_at":       created[0].StartsAt,
	}))
	return created, nil
}

func (s *Service) GetAppointment(ctx context.Context, orgID, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, orgID, id)
}

func (s *Service) ListAppointments(ctx context.Context, orgID uuid.UUID, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, apperr.Invalid("status", "is not a valid status")
	}
	return s.appointments.List(ctx, orgID, f, limit, offset)
}

// UpdateAppointment reschedules or edits one occurrence. Status changes go
// through ChangeStatus and the recurrence of a series is left untouched.
func (s *Service) UpdateAppointment(ctx context.Context, orgID, id uuid.UUID, in AppointmentInput) (*Appointment, error) {
	in.Status = ""
	if err := in.Validate(); err != nil {
		return nil, err
	}
	loc, err := s.location(ctx, orgID)
	if err != nil {
		return nil, err
	}
	start, end, err := in.Window.Resolve(loc)
	if err != nil {
		return nil, err
	}

	var updated *Appointment
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByID(ctx, orgID, id)
		if err != nil {
			return err
		}
		if err := s.checkParties(ctx, orgID, in.ClientID, in.ProfessionalID, in.ConsultationID); err != nil {
			return err
		}
		if a.Status != StatusCancelled {
			if err := s.ensureFree(ctx, orgID, start, end, in.ProfessionalID, in.ConsultationID, a.ID); err != nil {
				return err
			}
		}
		if !a.StartsAt.Equal(start) {
			a.ReminderSentAt = nil
		}
		a.ClientID = in.ClientID
		a.ProfessionalID = in.ProfessionalID
		a.ConsultationID = in.ConsultationID
		a.Service = strings.TrimSpace(in.Service)
		a.StartsAt, a.EndsAt = start, end
		a.Notes = in.Notes
		if err := s.appointments.Update(ctx, a); err != nil {
			if errors.Is(err, ErrSlotTaken) {
				return &ConflictError{Starts: []time.Time{start}}
			}
			return err
		}
		updated = a
		return nil
	})
	return updated, err
}

// ensureFree locks the resources and fails with a ConflictError if any other
// appointment holds them during [start, end).
func (s *Service) ensureFree(ctx context.Context, orgID uuid.UUID, start, end time.Time, professionalID uuid.UUID, consultationID *uuid.UUID, self uuid.UUID) error {
	if err := s.appointments.Lock(ctx, lockKeys(professionalID, consultationID)...); err != nil {
		return err
	}
	found, err := s.appointments.Overlapping(ctx, orgID, start, end, &professionalID, consultationID, &self)
	if err != nil {
		return fmt.Errorf("check availability: %w", err)
	}
	if len(found) > 0 {
		return &ConflictError{Starts: []time.Time{start}}
	}
	return nil
}

// ChangeStatus moves an appointment to status. Reactivating a cancelled
// appointment takes its slot again, so availability is re-checked.
func (s *Service) ChangeStatus(ctx context.Context, orgID, id uuid.UUID, status string) (*Appointment, error) {
	if !validStatuses[status] {
		return nil, apperr.Invalid("status", "is not a valid status")
	}
	var (
		updated *Appointment
		changed bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByID(ctx, orgID, id)
		if err != nil {
			return err
		}
		updated = a
		if a.Status == status {
			return nil
		}
		if a.Status == StatusCancelled {
			if err := s.ensureFree(ctx, orgID, a.StartsAt, a.EndsAt, a.ProfessionalID, a.ConsultationID, a.ID); err != nil {
				return err
			}
		}
		a.Status = status
		if err := s.appointments.Update(ctx, a); err != nil {
			if errors.Is(err, ErrSlotTaken) {
				return &ConflictError{Starts: []time.Time{a.StartsAt}}
			}
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed && status == StatusCancelled {
		events.Emit(ctx, s.events, s.logger, events.New(events.AppointmentCancelled, orgID, map[string]interface{}{
			"appointment_id": updated.ID,
			"client_id":      updated.ClientID,
			"starts_at":      updated.StartsAt,
		}))
	}
	return updated, nil
}

// CancelAppointment keeps the row and marks it cancelled.
func (s *Service) CancelAppointment(ctx context.Context, orgID, id uuid.UUID) (*Appointment, error) {
	return s.ChangeStatus(ctx, orgID, id, StatusCancelled)
}

// CancelSeries cancels the given occurrence and every later one that has not
// started yet. Past occurrences are left as they are.
func (s *Service) CancelSeries(ctx context.Context, orgID, id uuid.UUID) (int, error) {
	a, err := s.appointments.GetByID(ctx, orgID, id)
	if err != nil {
		return 0, err
	}
	if a.SeriesID == nil {
		if a.Status == StatusCancelled || !a.StartsAt.After(s.now()) {
			return 0, nil
		}
		if _, err := s.CancelAppointment(ctx, orgID, id); err != nil {
			return 0, err
		}
		return 1, nil
	}

	from := s.now()
	if a.StartsAt.After(from) {
		from = a.StartsAt
	}
	n, err := s.appointments.CancelSeriesFrom(ctx, orgID, *a.SeriesID, from)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		events.Emit(ctx, s.events, s.logger, events.New(events.AppointmentCancelled, orgID, map[string]interface{}{
			"series_id": a.SeriesID,
			"from":      from,
			"count":     n,
		}))
	}
	return n, nil
}

// -- Group activities --

func (s *Service) resolveActivity(ctx context.Context, orgID uuid.UUID, in ActivityInput) (time.Time, time.Time, error) {
	if err := in.Validate(); err != nil {
		return time.Time{}, time.Time{}, err
	}
	loc, err := s.location(ctx, orgID)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if in.ProfessionalID != nil {
		if _, err := s.professionals.GetByID(ctx, orgID, *in.ProfessionalID); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if in.ConsultationID != nil {
		if _, err := s.consultations.GetByID(ctx, orgID, *in.ConsultationID); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return in.Window.Resolve(loc)
}

func (s *Service) CreateActivity(ctx context.Context, orgID uuid.UUID, in ActivityInput) (*GroupActivity, error) {
	start, end, err := s.resolveActivity(ctx, orgID, in)
	if err != nil {
		return nil, err
	}
	a := &GroupActivity{
		OrganizationID:  orgID,
		Name:            strings.TrimSpace(in.Name),
		Description:     in.Description,
		ProfessionalID:  in.ProfessionalID,
		ConsultationID:  in.ConsultationID,
		StartsAt:        start,
		EndsAt:          end,
		MaxParticipants: in.MaxParticipants,
		Status:          ActivityActive,
	}
	if err := s.activities.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) GetActivity(ctx context.Context, orgID, id uuid.UUID) (*GroupActivity, error) {
	return s.activities.GetByID(ctx, orgID, id)
}

func (s *Service) ListActivities(ctx context.Context, orgID uuid.UUID, from, to *time.Time, limit, offset int) ([]*GroupActivity, int, error) {
	return s.activities.List(ctx, orgID, from, to, limit, offset)
}

// UpdateActivity edits an activity under its row lock so capacity cannot
// drop below enrollments that land concurrently.
func (s *Service) UpdateActivity(ctx context.Context, orgID, id uuid.UUID, in ActivityInput) (*GroupActivity, error) {
	start, end, err := s.resolveActivity(ctx, orgID, in)
	if err != nil {
		return nil, err
	}
	var updated *GroupActivity
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.activities.GetForUpdate(ctx, orgID, id)
		if err != nil {
			return err
		}
		if in.MaxParticipants < a.CurrentParticipants {
			return ErrCapacityBelowCount
		}
		a.Name = strings.TrimSpace(in.Name)
		a.Description = in.Description
		a.ProfessionalID = in.ProfessionalID
		a.ConsultationID = in.ConsultationID
		a.StartsAt, a.EndsAt = start, end
		a.MaxParticipants = in.MaxParticipants
		if err := s.activities.Update(ctx, a); err != nil {
			return err
		}
		updated = a
		return nil
	})
	return updated, err
}

func (s *Service) CancelActivity(ctx context.Context, orgID, id uuid.UUID) (*GroupActivity, error) {
	var updated *GroupActivity
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.activities.GetForUpdate(ctx, orgID, id)
		if err != nil {
			return err
		}
		a.Status = ActivityCancelled
		if err := s.activities.Update(ctx, a); err != nil {
			return err
		}
		updated = a
		return nil
	})
	return updated, err
}

// Enroll admits clientID to the activity. The activity row stays locked from
// the capacity check to the counter increment, so concurrent enrollments
// never exceed max_participants.
func (s *Service) Enroll(ctx context.Context, orgID, activityID, clientID uuid.UUID) (*Participant, error) {
	if _, err := s.clients.GetClient(ctx, orgID, clientID); err != nil {
		return nil, err
	}

	var enrolled *Participant
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.activities.GetForUpdate(ctx, orgID, activityID)
		if err != nil {
			return err
		}
		if a.Status == ActivityCancelled {
			return ErrActivityCancelled
		}

		existing, err := s.participants.GetByActivityClient(ctx, orgID, activityID, clientID)
		if err != nil && !errors.Is(err, ErrParticipantNotFound) {
			return err
		}
		if existing != nil && existing.Status != ParticipantCancelled {
			return ErrAlreadyEnrolled
		}
		if a.CurrentParticipants >= a.MaxParticipants {
			return ErrCapacityReached
		}

		if existing != nil {
			existing.Status = ParticipantRegistered
			if err := s.participants.UpdateStatus(ctx, existing); err != nil {
				return err
			}
			enrolled = existing
		} else {
			p := &Participant{OrganizationID: orgID, ActivityID: activityID, ClientID: clientID, Status: ParticipantRegistered}
			if err := s.participants.Create(ctx, p); err != nil {
				return err
			}
			enrolled = p
		}
		return s.activities.AdjustParticipants(ctx, orgID, activityID, 1)
	})
	if err != nil {
		return nil, err
	}

	events.Emit(ctx, s.events, s.logger, events.New(events.ParticipantEnrolled, orgID, map[string]interface{}{
		"activity_id":    activityID,
		"participant_id": enrolled.ID,
		"client_id":      clientID,
	}))
	return enrolled, nil
}

// CancelParticipant frees the seat. Cancelling twice is a no-op.
func (s *Service) CancelParticipant(ctx context.Context, orgID, participantID uuid.UUID) (*Participant, error) {
	var updated *Participant
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.participants.GetByID(ctx, orgID, participantID)
		if err != nil {
			return err
		}
		if _, err := s.activities.GetForUpdate(ctx, orgID, p.ActivityID); err != nil {
			return err
		}
		updated = p
		if p.Status == ParticipantCancelled {
			return nil
		}
		wasCounted := p.counted()
		p.Status = ParticipantCancelled
		if err := s.participants.UpdateStatus(ctx, p); err != nil {
			return err
		}
		if wasCounted {
			return s.activities.AdjustParticipants(ctx, orgID, p.ActivityID, -1)
		}
		return nil
	})
	return updated, err
}

func (s *Service) MarkAttended(ctx context.Context, orgID, participantID uuid.UUID) (*Participant, error) {
	var updated *Participant
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.participants.GetByID(ctx, orgID, participantID)
		if err != nil {
			return err
		}
		if p.Status == ParticipantCancelled {
			return ErrParticipantCancelled
		}
		updated = p
		if p.Status == ParticipantAttended {
			return nil
		}
		p.Status = ParticipantAttended
		return s.participants.UpdateStatus(ctx, p)
	})
	return updated, err
}

func (s *Service) ListParticipants(ctx context.Context, orgID, activityID uuid.UUID) ([]*Participant, error) {
	if _, err := s.activities.GetByID(ctx, orgID, activityID); err != nil {
		return nil, err
	}
	return s.participants.ListByActivity(ctx, orgID, activityID)
}

// -- Reminders --

// SendDailyReminders notifies every client with an appointment on day, across
// all organizations. Each reminder is claimed before sending and released
// if delivery fails, so the next run retries it.
func (s *Service) SendDailyReminders(ctx context.Context, day time.Time) (*ReminderReport, error) {
	ctx = db.WithSystemScope(ctx)
	targets, err := s.appointments.DueReminders(ctx, day)
	if err != nil {
		return nil, err
	}

	report := &ReminderReport{}
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		log := s.logger.With().
			Str("organization_id", t.OrganizationID.String()).
			Str("appointment_id", t.AppointmentID.String()).
			Logger()

		claimed, err := s.appointments.ClaimReminder(ctx, t.AppointmentID, s.now())
		if err != nil {
			report.Failed++
			log.Error().Err(err).Msg("claim reminder failed")
			continue
		}
		if !claimed {
			report.Skipped++
			continue
		}

		channel, err := s.deliverReminder(db.WithOrganization(ctx, t.OrganizationID), t, log)
		if err != nil {
			report.Failed++
			log.Warn().Err(err).Msg("reminder not delivered")
			if err := s.appointments.ReleaseReminder(ctx, t.AppointmentID); err != nil {
				log.Error().Err(err).Msg("release reminder failed")
			}
			continue
		}
		report.Sent++
		if channel == channelWhatsApp {
			report.WhatsApp++
		} else {
			report.Email++
		}
	}

	s.logger.Info().
		Str("day", day.Format("2006-01-02")).
		Int("sent", report.Sent).
		Int("failed", report.Failed).
		Msg("daily reminders processed")
	return report, nil
}

func (s *Service) deliverReminder(ctx context.Context, t *ReminderTarget, log zerolog.Logger) (string, error) {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := t.StartsAt.In(loc)
	date, clock := local.Format("02/01/2006"), local.Format("15:04")

	if s.whatsapp != nil && t.ClientPhone != "" {
		active, err := s.whatsapp.HasActiveChannel(ctx, t.OrganizationID)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("whatsapp channel lookup failed")
		case active:
			params := []string{t.ClientName, t.Service, date, clock, t.OrganizationName}
			err := s.whatsapp.SendTemplateMessage(ctx, t.OrganizationID, t.ClientPhone, ReminderTemplate, params)
			if err == nil {
				return channelWhatsApp, nil
			}
			log.Warn().Err(err).Msg("whatsapp reminder failed, falling back to email")
		}
	}

	if t.ClientEmail == "" {
		return "", errNoReminderChannel
	}
	err = s.mailer.Send(ctx, notification.TemplateAppointmentReminder, t.ClientEmail, map[string]string{
		"client_name":  t.ClientName,
		"service":      t.Service,
		"date":         date,
		"time":         clock,
		"professional": t.ProfessionalName,
		"clinic":       t.OrganizationName,
	})
	if err != nil {
		return "", err
	}
	return channelEmail, nil
}
