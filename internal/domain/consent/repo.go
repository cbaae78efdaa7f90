package consent

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type FormRepository interface {
	Create(ctx context.Context, f *Form) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*Form, error)
	Update(ctx context.Context, f *Form) error
	List(ctx context.Context, orgID uuid.UUID, activeOnly bool) ([]*Form, error)
}

type TokenRepository interface {
	Create(ctx context.Context, t *Token) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*Token, error)
	// GetForUpdate locks the token row until the transaction ends.
	GetForUpdate(ctx context.Context, orgID, id uuid.UUID) (*Token, error)
	MarkUsed(ctx context.Context, orgID, id uuid.UUID, at time.Time) error
	// DeleteExpired removes unused tokens of every organization that
	// expired before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type ConsentRepository interface {
	Create(ctx context.Context, c *PatientConsent) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*PatientConsent, error)
	ListByClient(ctx context.Context, orgID, clientID uuid.UUID) ([]*PatientConsent, error)
	Revoke(ctx context.Context, orgID, id uuid.UUID, at time.Time) error
}
