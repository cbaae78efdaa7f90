package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ProfessionalRepository interface {
	Create(ctx context.Context, p *Professional) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*Professional, error)
	Update(ctx context.Context, p *Professional) error
	List(ctx context.Context, orgID uuid.UUID, activeOnly bool) ([]*Professional, error)
}

type ConsultationRepository interface {
	Create(ctx context.Context, c *Consultation) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*Consultation, error)
	Update(ctx context.Context, c *Consultation) error
	List(ctx context.Context, orgID uuid.UUID, activeOnly bool) ([]*Consultation, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	List(ctx context.Context, orgID uuid.UUID, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)

	// Overlapping returns the non-cancelled appointments of the professional
	// or the consultation that intersect [start, end).
	Overlapping(ctx context.Context, orgID uuid.UUID, start, end time.Time, professionalID, consultationID, exclude *uuid.UUID) ([]*Appointment, error)
	// BusyConsultations returns the consultations held by a non-cancelled
	// appointment that intersects [start, end).
	BusyConsultations(ctx context.Context, orgID uuid.UUID, start, end time.Time, exclude *uuid.UUID) ([]uuid.UUID, error)
	// Lock takes transaction-scoped advisory locks on the given keys.
	Lock(ctx context.Context, keys ...string) error
	// CancelSeriesFrom cancels the series occurrences starting at or after from.
	CancelSeriesFrom(ctx context.Context, orgID, seriesID uuid.UUID, from time.Time) (int, error)

	// DueReminders spans every organization. day is a calendar date compared
	// in each organization's own time zone.
	DueReminders(ctx context.Context, day time.Time) ([]*ReminderTarget, error)
	// ClaimReminder stamps reminder_sent_at if it is still unset.
	ClaimReminder(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ReleaseReminder(ctx context.Context, id uuid.UUID) error
}

type ActivityRepository interface {
	Create(ctx context.Context, a *GroupActivity) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*GroupActivity, error)
	// GetForUpdate locks the activity row until the transaction ends.
	GetForUpdate(ctx context.Context, orgID, id uuid.UUID) (*GroupActivity, error)
	Update(ctx context.Context, a *GroupActivity) error
	List(ctx context.Context, orgID uuid.UUID, from, to *time.Time, limit, offset int) ([]*GroupActivity, int, error)
	AdjustParticipants(ctx context.Context, orgID, id uuid.UUID, delta int) error
}

type ParticipantRepository interface {
	Create(ctx context.Context, p *Participant) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*Participant, error)
	// GetByActivityClient returns ErrParticipantNotFound when the client has
	// never enrolled.
	GetByActivityClient(ctx context.Context, orgID, activityID, clientID uuid.UUID) (*Participant, error)
	UpdateStatus(ctx context.Context, p *Participant) error
	ListByActivity(ctx context.Context, orgID, activityID uuid.UUID) ([]*Participant, error)
}
