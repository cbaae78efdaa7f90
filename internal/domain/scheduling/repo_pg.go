package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

// =========== Professional Repository ===========

type professionalRepoPG struct{ pool *pgxpool.Pool }

func NewProfessionalRepoPG(pool *pgxpool.Pool) ProfessionalRepository {
	return &professionalRepoPG{pool: pool}
}

const professionalCols = `id, organization_id, full_name, email, phone, color, active, created_at, updated_at`

func scanProfessional(row pgx.Row) (*Professional, error) {
	var p Professional
	err := row.Scan(&p.ID, &p.OrganizationID, &p.FullName, &p.Email, &p.Phone, &p.Color, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrProfessionalNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *professionalRepoPG) Create(ctx context.Context, p *Professional) error {
	p.ID = uuid.New()
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO professionals (id, organization_id, full_name, email, phone, color, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING created_at, updated_at`,
		p.ID, p.OrganizationID, p.FullName, p.Email, p.Phone, p.Color, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert professional: %w", err)
	}
	return nil
}

func (r *professionalRepoPG) GetByID(ctx context.Context, orgID, id uuid.UUID) (*Professional, error) {
	return scanProfessional(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+professionalCols+` FROM professionals WHERE organization_id = $1 AND id = $2`, orgID, id))
}

func (r *professionalRepoPG) Update(ctx context.Context, p *Professional) error {
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		UPDATE professionals SET full_name=$3, email=$4, phone=$5, color=$6, active=$7, updated_at=NOW()
		WHERE organization_id = $1 AND id = $2 RETURNING updated_at`,
		p.OrganizationID, p.ID, p.FullName, p.Email, p.Phone, p.Color, p.Active,
	).Scan(&p.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrProfessionalNotFound
	}
	if err != nil {
		return fmt.Errorf("update professional: %w", err)
	}
	return nil
}

func (r *professionalRepoPG) List(ctx context.Context, orgID uuid.UUID, activeOnly bool) ([]*Professional, error) {
	rows, err := db.Executor(ctx, r.pool).Query(ctx, `SELECT `+professionalCols+` FROM professionals
		WHERE organization_id = $1 AND (NOT $2 OR active) ORDER BY lower(full_name)`, orgID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list professionals: %w", err)
	}
	defer rows.Close()
	var out []*Professional
	for rows.Next() {
		p, err := scanProfessional(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =========== Consultation Repository ===========

type consultationRepoPG struct{ pool *pgxpool.Pool }

func NewConsultationRepoPG(pool *pgxpool.Pool) ConsultationRepository {
	return &consultationRepoPG{pool: pool}
}

const consultationCols = `id, organization_id, name, description, active, created_at, updated_at`

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	err := row.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Description, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrConsultationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *consultationRepoPG) Create(ctx context.Context, c *Consultation) error {
	c.ID = uuid.New()
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO consultations (id, organization_id, name, description, active)
		VALUES ($1,$2,$3,$4,$5) RETURNING created_at, updated_at`,
		c.ID, c.OrganizationID, c.Name, c.Description, c.Active,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert consultation: %w", err)
	}
	return nil
}

func (r *consultationRepoPG) GetByID(ctx context.Context, orgID, id uuid.UUID) (*Consultation, error) {
	return scanConsultation(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+consultationCols+` FROM consultations WHERE organization_id = $1 AND id = $2`, orgID, id))
}

func (r *consultationRepoPG) Update(ctx context.Context, c *Consultation) error {
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		UPDATE consultations SET name=$3, description=$4, active=$5, updated_at=NOW()
		WHERE organization_id = $1 AND id = $2 RETURNING updated_at`,
		c.OrganizationID, c.ID, c.Name, c.Description, c.Active,
	).Scan(&c.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrConsultationNotFound
	}
	if err != nil {
		return fmt.Errorf("update consultation: %w", err)
	}
	return nil
}

func (r *consultationRepoPG) List(ctx context.Context, orgID uuid.UUID, activeOnly bool) ([]*Consultation, error) {
	rows, err := db.Executor(ctx, r.pool).Query(ctx, `SELECT `+consultationCols+` FROM consultations
		WHERE organization_id = $1 AND (NOT $2 OR active) ORDER BY lower(name)`, orgID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list consultations: %w", err)
	}
	defer rows.Close()
	var out []*Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const appointmentCols = `id, organization_id, client_id, professional_id, consultation_id, service,
	starts_at, ends_at, status, notes, recurrence, series_id, reminder_sent_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var recurrence []byte
	err := row.Scan(&a.ID, &a.OrganizationID, &a.ClientID, &a.ProfessionalID, &a.ConsultationID, &a.Service,
		&a.StartsAt, &a.EndsAt, &a.Status, &a.Notes, &recurrence, &a.SeriesID, &a.ReminderSentAt,
		&a.CreatedAt, &a.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(recurrence) > 0 {
		a.Recurrence = &Recurrence{}
		if err := json.Unmarshal(recurrence, a.Recurrence); err != nil {
			return nil, fmt.Errorf("decode recurrence: %w", err)
		}
	}
	return &a, nil
}

func encodeRecurrence(r *Recurrence) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	recurrence, err := encodeRecurrence(a.Recurrence)
	if err != nil {
		return err
	}
	err = db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (id, organization_id, client_id, professional_id, consultation_id,
			service, starts_at, ends_at, status, notes, recurrence, series_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		a.ID, a.OrganizationID, a.ClientID, a.ProfessionalID, a.ConsultationID,
		a.Service, a.StartsAt, a.EndsAt, a.Status, a.Notes, recurrence, a.SeriesID,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsExclusionViolation(err) {
		return ErrSlotTaken
	}
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, orgID, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+appointmentCols+` FROM appointments WHERE organization_id = $1 AND id = $2`, orgID, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments SET client_id=$3, professional_id=$4, consultation_id=$5, service=$6,
			starts_at=$7, ends_at=$8, status=$9, notes=$10, reminder_sent_at=$11, updated_at=NOW()
		WHERE organization_id = $1 AND id = $2 RETURNING updated_at`,
		a.OrganizationID, a.ID, a.ClientID, a.ProfessionalID, a.ConsultationID, a.Service,
		a.StartsAt, a.EndsAt, a.Status, a.Notes, a.ReminderSentAt,
	).Scan(&a.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrAppointmentNotFound
	}
	if db.IsExclusionViolation(err) {
		return ErrSlotTaken
	}
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) List(ctx context.Context, orgID uuid.UUID, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	where := []string{"organization_id = $1"}
	args := []interface{}{orgID}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.From != nil {
		add("ends_at > $%d", *f.From)
	}
	if f.To != nil {
		add("starts_at < $%d", *f.To)
	}
	if f.ProfessionalID != nil {
		add("professional_id = $%d", *f.ProfessionalID)
	}
	if f.ConsultationID != nil {
		add("consultation_id = $%d", *f.ConsultationID)
	}
	if f.ClientID != nil {
		add("client_id = $%d", *f.ClientID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	clause := strings.Join(where, " AND ")

	q := db.Executor(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM appointments WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT `+appointmentCols+` FROM appointments WHERE %s
		ORDER BY starts_at, id LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *appointmentRepoPG) Overlapping(ctx context.Context, orgID uuid.UUID, start, end time.Time, professionalID, consultationID, exclude *uuid.UUID) ([]*Appointment, error) {
	rows, err := db.Executor(ctx, r.pool).Query(ctx, `SELECT `+appointmentCols+` FROM appointments
		WHERE organization_id = $1 AND status <> 'cancelled'
		  AND starts_at < $3 AND ends_at > $2
		  AND (($4::uuid IS NOT NULL AND professional_id = $4) OR ($5::uuid IS NOT NULL AND consultation_id = $5))
		  AND ($6::uuid IS NULL OR id <> $6)
		ORDER BY starts_at, id`,
		orgID, start, end, professionalID, consultationID, exclude)
	if err != nil {
		return nil, fmt.Errorf("query overlapping appointments: %w", err)
	}
	defer rows.Close()
	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query overlapping appointments: %w", err)
	}
	return out, nil
}

func (r *appointmentRepoPG) BusyConsultations(ctx context.Context, orgID uuid.UUID, start, end time.Time, exclude *uuid.UUID) ([]uuid.UUID, error) {
	rows, err := db.Executor(ctx, r.pool).Query(ctx, `SELECT DISTINCT consultation_id FROM appointments
		WHERE organization_id = $1 AND status <> 'cancelled' AND consultation_id IS NOT NULL
		  AND starts_at < $3 AND ends_at > $2
		  AND ($4::uuid IS NULL OR id <> $4)`,
		orgID, start, end, exclude)
	if err != nil {
		return nil, fmt.Errorf("query busy consultations: %w", err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query busy consultations: %w", err)
	}
	return out, nil
}

// Lock acquires keys in sorted order so two bookings never wait on each other.
func (r *appointmentRepoPG) Lock(ctx context.Context, keys ...string) error {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	q := db.Executor(ctx, r.pool)
	for _, k := range sorted {
		if err := db.AdvisoryXactLock(ctx, q, k); err != nil {
			return err
		}
	}
	return nil
}

func (r *appointmentRepoPG) CancelSeriesFrom(ctx context.Context, orgID, seriesID uuid.UUID, from time.Time) (int, error) {
	tag, err := db.Executor(ctx, r.pool).Exec(ctx, `
		UPDATE appointments SET status = 'cancelled', updated_at = NOW()
		WHERE organization_id = $1 AND series_id = $2 AND starts_at >= $3 AND status <> 'cancelled'`,
		orgID, seriesID, from)
	if err != nil {
		return 0, fmt.Errorf("cancel series: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *appointmentRepoPG) DueReminders(ctx context.Context, day time.Time) ([]*ReminderTarget, error) {
	rows, err := db.Executor(ctx, r.pool).Query(ctx, `
		SELECT a.id, a.organization_id, o.name, o.timezone, a.starts_at, a.service,
			trim(c.first_name || ' ' || c.last_name), c.email, c.phone, p.full_name
		FROM appointments a
		JOIN organizations o ON o.id = a.organization_id
		JOIN clients c ON c.id = a.client_id
		JOIN professionals p ON p.id = a.professional_id
		WHERE a.status <> 'cancelled' AND a.reminder_sent_at IS NULL
		  AND (a.starts_at AT TIME ZONE o.timezone)::date = $1::date
		ORDER BY a.organization_id, a.starts_at`,
		day.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	defer rows.Close()
	var out []*ReminderTarget
	for rows.Next() {
		var t ReminderTarget
		if err := rows.Scan(&t.AppointmentID, &t.OrganizationID, &t.OrganizationName, &t.Timezone,
			&t.StartsAt, &t.Service, &t.ClientName, &t.ClientEmail, &t.ClientPhone, &t.ProfessionalName); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *appointmentRepoPG) ClaimReminder(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := db.Executor(ctx, r.pool).Exec(ctx,
		`UPDATE appointments SET reminder_sent_at = $2 WHERE id = $1 AND reminder_sent_at IS NULL`, id, at)
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *appointmentRepoPG) ReleaseReminder(ctx context.Context, id uuid.UUID) error {
	_, err := db.Executor(ctx, r.pool).Exec(ctx,
		`UPDATE appointments SET reminder_sent_at = NULL WHERE id = $1`, id)
	return err
}

// =========== Group Activity Repository ===========

type activityRepoPG struct{ pool *pgxpool.Pool }

func NewActivityRepoPG(pool *pgxpool.Pool) ActivityRepository { return &activityRepoPG{pool: pool} }

const activityCols = `id, organization_id, name, description, professional_id, consultation_id,
	starts_at, ends_at, max_participants, current_participants, status, created_at, updated_at`

func scanActivity(row pgx.Row) (*GroupActivity, error) {
	var a GroupActivity
	err := row.Scan(&a.ID, &a.OrganizationID, &a.Name, &a.Description, &a.ProfessionalID, &a.ConsultationID,
		&a.StartsAt, &a.EndsAt, &a.MaxParticipants, &a.CurrentParticipants, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrActivityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *activityRepoPG) Create(ctx context.Context, a *GroupActivity) error {
	a.ID = uuid.New()
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO group_activities (id, organization_id, name, description, professional_id, consultation_id,
			starts_at, ends_at, max_participants, current_participants, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING created_at, updated_at`,
		a.ID, a.OrganizationID, a.Name, a.Description, a.ProfessionalID, a.ConsultationID,
		a.StartsAt, a.EndsAt, a.MaxParticipants, a.CurrentParticipants, a.Status,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert group activity: %w", err)
	}
	return nil
}

func (r *activityRepoPG) GetByID(ctx context.Context, orgID, id uuid.UUID) (*GroupActivity, error) {
	return scanActivity(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+activityCols+` FROM group_activities WHERE organization_id = $1 AND id = $2`, orgID, id))
}

func (r *activityRepoPG) GetForUpdate(ctx context.Context, orgID, id uuid.UUID) (*GroupActivity, error) {
	return scanActivity(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+activityCols+` FROM group_activities WHERE organization_id = $1 AND id = $2 FOR UPDATE`, orgID, id))
}

func (r *activityRepoPG) Update(ctx context.Context, a *GroupActivity) error {
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		UPDATE group_activities SET name=$3, description=$4, professional_id=$5, consultation_id=$6,
			starts_at=$7, ends_at=$8, max_participants=$9, status=$10, updated_at=NOW()
		WHERE organization_id = $1 AND id = $2 RETURNING updated_at`,
		a.OrganizationID, a.ID, a.Name, a.Description, a.ProfessionalID, a.ConsultationID,
		a.StartsAt, a.EndsAt, a.MaxParticipants, a.Status,
	).Scan(&a.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrActivityNotFound
	}
	if err != nil {
		return fmt.Errorf("update group activity: %w", err)
	}
	return nil
}

func (r *activityRepoPG) List(ctx context.Context, orgID uuid.UUID, from, to *time.Time, limit, offset int) ([]*GroupActivity, int, error) {
	q := db.Executor(ctx, r.pool)
	const where = `organization_id = $1 AND ($2::timestamptz IS NULL OR ends_at > $2)
		AND ($3::timestamptz IS NULL OR starts_at < $3)`
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM group_activities WHERE `+where, orgID, from, to).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count group activities: %w", err)
	}
	rows, err := q.Query(ctx, `SELECT `+activityCols+` FROM group_activities WHERE `+where+`
		ORDER BY starts_at, id LIMIT $4 OFFSET $5`, orgID, from, to, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list group activities: %w", err)
	}
	defer rows.Close()
	var out []*GroupActivity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *activityRepoPG) AdjustParticipants(ctx context.Context, orgID, id uuid.UUID, delta int) error {
	tag, err := db.Executor(ctx, r.pool).Exec(ctx, `
		UPDATE group_activities SET current_participants = current_participants + $3, updated_at = NOW()
		WHERE organization_id = $1 AND id = $2`, orgID, id, delta)
	if err != nil {
		return fmt.Errorf("adjust participants: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrActivityNotFound
	}
	return nil
}

// =========== Participant Repository ===========

type participantRepoPG struct{ pool *pgxpool.Pool }

func NewParticipantRepoPG(pool *pgxpool.Pool) ParticipantRepository {
	return &participantRepoPG{pool: pool}
}

const participantCols = `id, organization_id, activity_id, client_id, status, created_at, updated_at`

func scanParticipant(row pgx.Row) (*Participant, error) {
	var p Participant
	err := row.Scan(&p.ID, &p.OrganizationID, &p.ActivityID, &p.ClientID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *participantRepoPG) Create(ctx context.Context, p *Participant) error {
	p.ID = uuid.New()
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO group_activity_participants (id, organization_id, activity_id, client_id, status)
		VALUES ($1,$2,$3,$4,$5) RETURNING created_at, updated_at`,
		p.ID, p.OrganizationID, p.ActivityID, p.ClientID, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrAlreadyEnrolled
	}
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (r *participantRepoPG) GetByID(ctx context.Context, orgID, id uuid.UUID) (*Participant, error) {
	return scanParticipant(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+participantCols+` FROM group_activity_participants WHERE organization_id = $1 AND id = $2`, orgID, id))
}

func (r *participantRepoPG) GetByActivityClient(ctx context.Context, orgID, activityID, clientID uuid.UUID) (*Participant, error) {
	return scanParticipant(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+participantCols+` FROM group_activity_participants
		WHERE organization_id = $1 AND activity_id = $2 AND client_id = $3`, orgID, activityID, clientID))
}

func (r *participantRepoPG) UpdateStatus(ctx context.Context, p *Participant) error {
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		UPDATE group_activity_participants SET status = $3, updated_at = NOW()
		WHERE organization_id = $1 AND id = $2 RETURNING updated_at`,
		p.OrganizationID, p.ID, p.Status,
	).Scan(&p.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrParticipantNotFound
	}
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	return nil
}

func (r *participantRepoPG) ListByActivity(ctx context.Context, orgID, activityID uuid.UUID) ([]*Participant, error) {
	rows, err := db.Executor(ctx, r.pool).Query(ctx, `SELECT `+participantCols+` FROM group_activity_participants
		WHERE organization_id = $1 AND activity_id = $2 ORDER BY created_at, id`, orgID, activityID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()
	var out []*Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
