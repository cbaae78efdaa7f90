package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const orgCols = `id, name, tax_id, address, email, phone, timezone, region, invoice_series, created_at, updated_at`

func scanOrganization(row pgx.Row) (*Organization, error) {
	var o Organization
	err := row.Scan(&o.ID, &o.Name, &o.TaxID, &o.Address, &o.Email, &o.Phone,
		&o.Timezone, &o.Region, &o.InvoiceSeries, &o.CreatedAt, &o.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrOrganizationNotFound
	}
	return &o, err
}

func (r *repoPG) CreateOrganization(ctx context.Context, o *Organization) error {
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO organizations (id, name, tax_id, address, email, phone, timezone, region, invoice_series)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		o.ID, o.Name, o.TaxID, o.Address, o.Email, o.Phone, o.Timezone, o.Region, o.InvoiceSeries,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

func (r *repoPG) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	return scanOrganization(db.Executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+orgCols+` FROM organizations WHERE id = $1`, id))
}

func (r *repoPG) UpdateOrganization(ctx context.Context, o *Organization) error {
	tag, err := db.Executor(ctx, r.pool).Exec(ctx, `
		UPDATE organizations SET name=$2, tax_id=$3, address=$4, email=$5, phone=$6,
			timezone=$7, region=$8, invoice_series=$9, updated_at=NOW()
		WHERE id = $1`,
		o.ID, o.Name, o.TaxID, o.Address, o.Email, o.Phone, o.Timezone, o.Region, o.InvoiceSeries)
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrganizationNotFound
	}
	return nil
}

func (r *repoPG) CreateUser(ctx context.Context, u *User) error {
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (id, email, full_name, password_hash) VALUES ($1,$2,$3,$4)
		RETURNING created_at`,
		u.ID, u.Email, u.FullName, u.PasswordHash,
	).Scan(&u.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *repoPG) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT id, email, full_name, password_hash, created_at FROM users WHERE lower(email) = lower($1)`,
		email,
	).Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.CreatedAt)
	if db.IsNoRows(err) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (r *repoPG) AddMembership(ctx context.Context, m *Membership) error {
	err := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO memberships (organization_id, user_id, role) VALUES ($1,$2,$3)
		RETURNING created_at`,
		m.OrganizationID, m.UserID, m.Role,
	).Scan(&m.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrAlreadyMember
	}
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

func (r *repoPG) MembershipsForUser(ctx context.Context, userID uuid.UUID) ([]*Membership, error) {
	rows, err := db.Executor(ctx, r.pool).Query(ctx, `
		SELECT organization_id, user_id, role, created_at FROM memberships
		WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var out []*Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *repoPG) ListMembers(ctx context.Context, orgID uuid.UUID) ([]*Member, error) {
	rows, err := db.Executor(ctx, r.pool).Query(ctx, `
		SELECT u.id, u.email, u.full_name, m.role, m.created_at
		FROM memberships m JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1 ORDER BY m.created_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []*Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.Email, &m.FullName, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
