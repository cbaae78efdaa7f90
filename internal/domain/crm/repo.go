package crm

import (
	"context"

	"github.com/google/uuid"
)

type ClientRepository interface {
	Create(ctx context.Context, c *Client) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*Client, error)
	Update(ctx context.Context, c *Client) error
	Delete(ctx context.Context, orgID, id uuid.UUID) error
	List(ctx context.Context, orgID uuid.UUID, f ClientFilter, limit, offset int) ([]*Client, int, error)
	FindByPhone(ctx context.Context, orgID uuid.UUID, phone string) (*Client, error)
	// ContactKeys returns the lower-cased emails and E.164 phones already on
	// file, for import de-duplication.
	ContactKeys(ctx context.Context, orgID uuid.UUID) (emails, phones map[string]bool, err error)
	ReplaceTags(ctx context.Context, orgID, clientID uuid.UUID, tagIDs []uuid.UUID) error
}

type TagRepository interface {
	Create(ctx context.Context, t *Tag) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*Tag, error)
	Update(ctx context.Context, t *Tag) error
	Delete(ctx context.Context, orgID, id uuid.UUID) error
	List(ctx context.Context, orgID uuid.UUID) ([]*Tag, error)
	// ByNames returns existing tags matching names case-insensitively.
	ByNames(ctx context.Context, orgID uuid.UUID, names []string) ([]*Tag, error)
}
