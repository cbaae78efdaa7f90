package crm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

// =========== Client Repository ===========

type clientRepoPG struct{ pool *pgxpool.Pool }

func NewClientRepoPG(pool *pgxpool.Pool) ClientRepository { return &clientRepoPG{pool: pool} }

const clientCols = `c.id, c.organization_id, c.first_name, c.last_name, c.email, c.phone, c.tax_id,
	c.birth_date, c.address, c.notes, c.marketing_opt_in, c.created_at, c.updated_at,
	COALESCE((SELECT array_agg(t.name ORDER BY lower(t.name)) FROM client_tags ct
		JOIN tags t ON t.id = ct.tag_id WHERE ct.client_id = c.id), '{}')`

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.OrganizationID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.TaxID,
		&c.BirthDate, &c.Address, &c.Notes, &c.MarketingOptIn, &c.CreatedAt, &c.UpdatedAt, &c.Tags)
	if db.IsNoRows(err) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *clientRepoPG) Create(ctx context.Context, c *Client) error {
	c.ID = uuid.New()
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO clients (id, organization_id, first_name, last_name, email, phone, tax_id,
			birth_date, address, notes, marketing_opt_in)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		c.ID, c.OrganizationID, c.FirstName, c.LastName, c.Email, c.Phone, c.TaxID,
		c.BirthDate, c.Address, c.Notes, c.MarketingOptIn,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (r *clientRepoPG) GetByID(ctx context.Context, orgID, id uuid.UUID) (*Client, error) {
	return scanClient(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+clientCols+` FROM clients c WHERE c.organization_id = $1 AND c.id = $2`, orgID, id))
}

func (r *clientRepoPG) Update(ctx context.Context, c *Client) error {
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		UPDATE clients SET first_name=$3, last_name=$4, email=$5, phone=$6, tax_id=$7,
			birth_date=$8, address=$9, notes=$10, marketing_opt_in=$11, updated_at=NOW()
		WHERE organization_id = $1 AND id = $2
		RETURNING updated_at`,
		c.OrganizationID, c.ID, c.FirstName, c.LastName, c.Email, c.Phone, c.TaxID,
		c.BirthDate, c.Address, c.Notes, c.MarketingOptIn,
	).Scan(&c.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrClientNotFound
	}
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	return nil
}

func (r *clientRepoPG) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := db.Executor(ctx, r.pool).Exec(ctx,
		`DELETE FROM clients WHERE organization_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

func (r *clientRepoPG) List(ctx context.Context, orgID uuid.UUID, f ClientFilter, limit, offset int) ([]*Client, int, error) {
	where := []string{"c.organization_id = $1"}
	args := []interface{}{orgID}
	idx := 2

	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, fmt.Sprintf(`(c.first_name || ' ' || c.last_name ILIKE $%d OR c.email ILIKE $%d OR c.phone LIKE $%d)`, idx, idx, idx))
		args = append(args, "%"+q+"%")
		idx++
	}
	if f.Tag != "" {
		where = append(where, fmt.Sprintf(`EXISTS (SELECT 1 FROM client_tags ct JOIN tags t ON t.id = ct.tag_id
			WHERE ct.client_id = c.id AND lower(t.name) = lower($%d))`, idx))
		args = append(args, f.Tag)
		idx++
	}
	cond := strings.Join(where, " AND ")

	q := db.Executor(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM clients c WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count clients: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM clients c WHERE %s
		ORDER BY lower(c.last_name), lower(c.first_name) LIMIT $%d OFFSET $%d`, clientCols, cond, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var items []*Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *clientRepoPG) FindByPhone(ctx context.Context, orgID uuid.UUID, phone string) (*Client, error) {
	return scanClient(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+clientCols+` FROM clients c WHERE c.organization_id = $1 AND c.phone = $2
		ORDER BY c.created_at LIMIT 1`, orgID, phone))
}

func (r *clientRepoPG) ContactKeys(ctx context.Context, orgID uuid.UUID) (map[string]bool, map[string]bool, error) {
	rows, err := db.Executor(ctx, r.pool).Query(ctx,
		`SELECT lower(email), phone FROM clients WHERE organization_id = $1`, orgID)
	if err != nil {
		return nil, nil, fmt.Errorf("load contact keys: %w", err)
	}
	defer rows.Close()

	emails, phones := make(map[string]bool), make(map[string]bool)
	for rows.Next() {
		var email, phone string
		if err := rows.Scan(&email, &phone); err != nil {
			return nil, nil, err
		}
		if email != "" {
			emails[email] = true
		}
		if phone != "" {
			phones[phone] = true
		}
	}
	return emails, phones, rows.Err()
}

func (r *clientRepoPG) ReplaceTags(ctx context.Context, orgID, clientID uuid.UUID, tagIDs []uuid.UUID) error {
	q := db.Executor(ctx, r.pool)
	if _, err := q.Exec(ctx, `DELETE FROM client_tags WHERE organization_id = $1 AND client_id = $2`, orgID, clientID); err != nil {
		return fmt.Errorf("clear client tags: %w", err)
	}
	if len(tagIDs) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `
		INSERT INTO client_tags (organization_id, client_id, tag_id)
		SELECT $1, $2, unnest($3::uuid[])
		ON CONFLICT DO NOTHING`, orgID, clientID, tagIDs)
	if err != nil {
		return fmt.Errorf("insert client tags: %w", err)
	}
	return nil
}

// =========== Tag Repository ===========

type tagRepoPG struct{ pool *pgxpool.Pool }

func NewTagRepoPG(pool *pgxpool.Pool) TagRepository { return &tagRepoPG{pool: pool} }

const tagCols = `id, organization_id, name, color, created_at`

func scanTag(row pgx.Row) (*Tag, error) {
	var t Tag
	err := row.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.Color, &t.CreatedAt)
	if db.IsNoRows(err) {
		return nil, ErrTagNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tagRepoPG) Create(ctx context.Context, t *Tag) error {
	t.ID = uuid.New()
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO tags (id, organization_id, name, color) VALUES ($1,$2,$3,$4)
		RETURNING created_at`, t.ID, t.OrganizationID, t.Name, t.Color,
	).Scan(&t.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrTagExists
	}
	if err != nil {
		return fmt.Errorf("insert tag: %w", err)
	}
	return nil
}

func (r *tagRepoPG) GetByID(ctx context.Context, orgID, id uuid.UUID) (*Tag, error) {
	return scanTag(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+tagCols+` FROM tags WHERE organization_id = $1 AND id = $2`, orgID, id))
}

func (r *tagRepoPG) Update(ctx context.Context, t *Tag) error {
	tag, err := db.Executor(ctx, r.pool).Exec(ctx,
		`UPDATE tags SET name = $3, color = $4 WHERE organization_id = $1 AND id = $2`,
		t.OrganizationID, t.ID, t.Name, t.Color)
	if db.IsUniqueViolation(err) {
		return ErrTagExists
	}
	if err != nil {
		return fmt.Errorf("update tag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTagNotFound
	}
	return nil
}

func (r *tagRepoPG) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := db.Executor(ctx, r.pool).Exec(ctx, `DELETE FROM tags WHERE organization_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTagNotFound
	}
	return nil
}

func (r *tagRepoPG) List(ctx context.Context, orgID uuid.UUID) ([]*Tag, error) {
	return r.query(ctx, `SELECT `+tagCols+` FROM tags WHERE organization_id = $1 ORDER BY lower(name)`, orgID)
}

func (r *tagRepoPG) ByNames(ctx context.Context, orgID uuid.UUID, names []string) ([]*Tag, error) {
	lowered := make([]string, len(names))
	for i, n := range names {
		lowered[i] = strings.ToLower(n)
	}
	return r.query(ctx, `SELECT `+tagCols+` FROM tags WHERE organization_id = $1 AND lower(name) = ANY($2)`, orgID, lowered)
}

func (r *tagRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Tag, error) {
	rows, err := db.Executor(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var out []*Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
