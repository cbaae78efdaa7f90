package identity

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateOrganization(ctx context.Context, o *Organization) error
	GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error)
	UpdateOrganization(ctx context.Context, o *Organization) error

	CreateUser(ctx context.Context, u *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	AddMembership(ctx context.Context, m *Membership) error
	// MembershipsForUser returns the user's memberships, oldest first.
	MembershipsForUser(ctx context.Context, userID uuid.UUID) ([]*Membership, error)
	ListMembers(ctx context.Context, orgID uuid.UUID) ([]*Member, error)
}
