package consent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

// =========== Form Repository ===========

type formRepoPG struct{ pool *pgxpool.Pool }

func NewFormRepoPG(pool *pgxpool.Pool) FormRepository { return &formRepoPG{pool: pool} }

const formCols = `id, organization_id, title, body, version, active, created_at, updated_at`

func scanForm(row pgx.Row) (*Form, error) {
	var f Form
	err := row.Scan(&f.ID, &f.OrganizationID, &f.Title, &f.Body, &f.Version, &f.Active, &f.CreatedAt, &f.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrFormNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *formRepoPG) Create(ctx context.Context, f *Form) error {
	f.ID = uuid.New()
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO consent_forms (id, organization_id, title, body, version, active)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
		f.ID, f.OrganizationID, f.Title, f.Body, f.Version, f.Active,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert consent form: %w", err)
	}
	return nil
}

func (r *formRepoPG) GetByID(ctx context.Context, orgID, id uuid.UUID) (*Form, error) {
	return scanForm(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+formCols+` FROM consent_forms WHERE organization_id = $1 AND id = $2`, orgID, id))
}

func (r *formRepoPG) Update(ctx context.Context, f *Form) error {
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		UPDATE consent_forms SET title = $3, body = $4, version = $5, active = $6, updated_at = NOW()
		WHERE organization_id = $1 AND id = $2 RETURNING updated_at`,
		f.OrganizationID, f.ID, f.Title, f.Body, f.Version, f.Active,
	).Scan(&f.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrFormNotFound
	}
	if err != nil {
		return fmt.Errorf("update consent form: %w", err)
	}
	return nil
}

func (r *formRepoPG) List(ctx context.Context, orgID uuid.UUID, activeOnly bool) ([]*Form, error) {
	rows, err := db.Executor(ctx, r.pool).Query(ctx,
		`SELECT `+formCols+` FROM consent_forms WHERE organization_id = $1 AND (NOT $2 OR active)
		 ORDER BY title`, orgID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list consent forms: %w", err)
	}
	defer rows.Close()
	var out []*Form
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// =========== Token Repository ===========

type tokenRepoPG struct{ pool *pgxpool.Pool }

func NewTokenRepoPG(pool *pgxpool.Pool) TokenRepository { return &tokenRepoPG{pool: pool} }

const tokenCols = `id, organization_id, form_id, client_id, expires_at, used_at, created_at`

func scanToken(row pgx.Row) (*Token, error) {
	var t Token
	err := row.Scan(&t.ID, &t.OrganizationID, &t.FormID, &t.ClientID, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if db.IsNoRows(err) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tokenRepoPG) Create(ctx context.Context, t *Token) error {
	_, err := db.Executor(ctx, r.pool).Exec(ctx, `
		INSERT INTO consent_tokens (id, organization_id, form_id, client_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.OrganizationID, t.FormID, t.ClientID, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert consent token: %w", err)
	}
	return nil
}

func (r *tokenRepoPG) GetByID(ctx context.Context, orgID, id uuid.UUID) (*Token, error) {
	return scanToken(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+tokenCols+` FROM consent_tokens WHERE organization_id = $1 AND id = $2`, orgID, id))
}

func (r *tokenRepoPG) GetForUpdate(ctx context.Context, orgID, id uuid.UUID) (*Token, error) {
	return scanToken(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+tokenCols+` FROM consent_tokens WHERE organization_id = $1 AND id = $2 FOR UPDATE`, orgID, id))
}

func (r *tokenRepoPG) MarkUsed(ctx context.Context, orgID, id uuid.UUID, at time.Time) error {
	tag, err := db.Executor(ctx, r.pool).Exec(ctx,
		`UPDATE consent_tokens SET used_at = $3 WHERE organization_id = $1 AND id = $2 AND used_at IS NULL`,
		orgID, id, at)
	if err != nil {
		return fmt.Errorf("mark consent token used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLinkUsed
	}
	return nil
}

func (r *tokenRepoPG) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := db.Executor(ctx, r.pool).Exec(ctx,
		`DELETE FROM consent_tokens WHERE used_at IS NULL AND expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired consent tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// =========== Consent Repository ===========

type consentRepoPG struct{ pool *pgxpool.Pool }

func NewConsentRepoPG(pool *pgxpool.Pool) ConsentRepository { return &consentRepoPG{pool: pool} }

const consentCols = `id, organization_id, client_id, form_id, form_version, token_id, rendered_html,
	signature_image, signature_key, content_hash, signer_name, signer_ip, user_agent, signed_at,
	valid, revoked_at`

func scanConsent(row pgx.Row) (*PatientConsent, error) {
	var c PatientConsent
	err := row.Scan(&c.ID, &c.OrganizationID, &c.ClientID, &c.FormID, &c.FormVersion, &c.TokenID,
		&c.RenderedHTML, &c.SignatureImage, &c.SignatureKey, &c.ContentHash, &c.SignerName,
		&c.SignerIP, &c.UserAgent, &c.SignedAt, &c.Valid, &c.RevokedAt)
	if db.IsNoRows(err) {
		return nil, ErrConsentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *consentRepoPG) Create(ctx context.Context, c *PatientConsent) error {
	c.ID = uuid.New()
	_, err := db.Executor(ctx, r.pool).Exec(ctx, `
		INSERT INTO patient_consents (id, organization_id, client_id, form_id, form_version, token_id,
			rendered_html, signature_image, signature_key, content_hash, signer_name, signer_ip,
			user_agent, signed_at, valid)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		c.ID, c.OrganizationID, c.ClientID, c.FormID, c.FormVersion, c.TokenID,
		c.RenderedHTML, c.SignatureImage, c.SignatureKey, c.ContentHash, c.SignerName, c.SignerIP,
		c.UserAgent, c.SignedAt, c.Valid)
	if db.IsUniqueViolation(err) {
		return ErrLinkUsed
	}
	if err != nil {
		return fmt.Errorf("insert patient consent: %w", err)
	}
	return nil
}

func (r *consentRepoPG) GetByID(ctx context.Context, orgID, id uuid.UUID) (*PatientConsent, error) {
	return scanConsent(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+consentCols+` FROM patient_consents WHERE organization_id = $1 AND id = $2`, orgID, id))
}

func (r *consentRepoPG) ListByClient(ctx context.Context, orgID, clientID uuid.UUID) ([]*PatientConsent, error) {
	rows, err := db.Executor(ctx, r.pool).Query(ctx,
		`SELECT `+consentCols+` FROM patient_consents WHERE organization_id = $1 AND client_id = $2
		 ORDER BY signed_at DESC`, orgID, clientID)
	if err != nil {
		return nil, fmt.Errorf("list patient consents: %w", err)
	}
	defer rows.Close()
	var out []*PatientConsent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *consentRepoPG) Revoke(ctx context.Context, orgID, id uuid.UUID, at time.Time) error {
	tag, err := db.Executor(ctx, r.pool).Exec(ctx,
		`UPDATE patient_consents SET valid = FALSE, revoked_at = $3
		 WHERE organization_id = $1 AND id = $2 AND valid`, orgID, id, at)
	if err != nil {
		return fmt.Errorf("revoke patient consent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyRevoked
	}
	return nil
}
