package messaging

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

// =========== Project Repository ===========

type projectRepoPG struct{ pool *pgxpool.Pool }

func NewProjectRepoPG(pool *pgxpool.Pool) ProjectRepository { return &projectRepoPG{pool: pool} }

const projectCols = `w.id, w.phone_number_id, w.business_account_id, w.access_token, w.display_phone,
	w.webhook_url, w.verify_token, w.status, w.completed_steps, w.last_error, w.created_at, w.updated_at`

func scanProject(row pgx.Row, extra ...interface{}) (*WabaProject, error) {
	var p WabaProject
	dest := []interface{}{&p.ID, &p.PhoneNumberID, &p.BusinessAccountID, &p.AccessToken, &p.DisplayPhone,
		&p.WebhookURL, &p.VerifyToken, &p.Status, &p.CompletedSteps, &p.LastError, &p.CreatedAt, &p.UpdatedAt}
	err := row.Scan(append(dest, extra...)...)
	if db.IsNoRows(err) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *projectRepoPG) GetByOrganization(ctx context.Context, orgID uuid.UUID) (*WabaProject, error) {
	return scanProject(db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT `+projectCols+`
		FROM waba w JOIN organization_waba ow ON ow.waba_id = w.id
		WHERE ow.organization_id = $1`, orgID))
}

func (r *projectRepoPG) GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*WabaProject, uuid.UUID, error) {
	var orgID uuid.UUID
	p, err := scanProject(db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT `+projectCols+`, ow.organization_id
		FROM waba w JOIN organization_waba ow ON ow.waba_id = w.id
		WHERE w.phone_number_id = $1`, phoneNumberID), &orgID)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return p, orgID, nil
}

func (r *projectRepoPG) Connect(ctx context.Context, orgID uuid.UUID, p *WabaProject) error {
	p.ID = uuid.New()
	q := db.Executor(ctx, r.pool)
	err := q.QueryRow(ctx, `
		INSERT INTO waba (id, phone_number_id, business_account_id, access_token, display_phone,
			webhook_url, verify_token, status, completed_steps, last_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		p.ID, p.PhoneNumberID, p.BusinessAccountID, p.AccessToken, p.DisplayPhone,
		p.WebhookURL, p.VerifyToken, p.Status, p.CompletedSteps, p.LastError,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrPhoneInUse
	}
	if err != nil {
		return fmt.Errorf("insert waba: %w", err)
	}
	if _, err := q.Exec(ctx,
		`INSERT INTO organization_waba (organization_id, waba_id) VALUES ($1, $2)`, orgID, p.ID); err != nil {
		if db.IsUniqueViolation(err) {
			return ErrAlreadyConnected
		}
		return fmt.Errorf("link waba: %w", err)
	}
	return nil
}

func (r *projectRepoPG) Update(ctx context.Context, p *WabaProject) error {
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		UPDATE waba SET phone_number_id = $2, business_account_id = $3, access_token = $4, display_phone = $5,
			webhook_url = $6, verify_token = $7, status = $8, completed_steps = $9, last_error = $10,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.PhoneNumberID, p.BusinessAccountID, p.AccessToken, p.DisplayPhone,
		p.WebhookURL, p.VerifyToken, p.Status, p.CompletedSteps, p.LastError,
	).Scan(&p.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrNotConnected
	}
	if db.IsUniqueViolation(err) {
		return ErrPhoneInUse
	}
	if err != nil {
		return fmt.Errorf("update waba: %w", err)
	}
	return nil
}

func (r *projectRepoPG) VerifyTokenExists(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	var ok bool
	err := db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM waba WHERE verify_token = $1)`, token).Scan(&ok)
	return ok, err
}

// =========== Message Repository ===========

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository { return &messageRepoPG{pool: pool} }

const messageCols = `id, organization_id, client_id, direction, wa_message_id, phone, kind, body,
	template_name, status, created_at`

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO whatsapp_messages (id, organization_id, client_id, direction, wa_message_id, phone, kind, body,
			template_name, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		m.ID, m.OrganizationID, m.ClientID, m.Direction, m.WAMessageID, m.Phone, m.Kind, m.Body,
		m.TemplateName, m.Status,
	).Scan(&m.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateMessage
	}
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *messageRepoPG) UpdateStatus(ctx context.Context, waMessageID, status string) error {
	_, err := db.Executor(ctx, r.pool).Exec(ctx,
		`UPDATE whatsapp_messages SET status = $2 WHERE wa_message_id = $1`, waMessageID, status)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	return nil
}

func (r *messageRepoPG) ListByClient(ctx context.Context, orgID, clientID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	q := db.Executor(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM whatsapp_messages WHERE organization_id = $1 AND client_id = $2`,
		orgID, clientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := q.Query(ctx, `SELECT `+messageCols+` FROM whatsapp_messages
		WHERE organization_id = $1 AND client_id = $2
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`, orgID, clientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.ClientID, &m.Direction, &m.WAMessageID, &m.Phone,
			&m.Kind, &m.Body, &m.TemplateName, &m.Status, &m.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &m)
	}
	return out, total, rows.Err()
}
