package messaging

import (
	"context"

	"github.com/google/uuid"
)

type ProjectRepository interface {
	GetByOrganization(ctx context.Context, orgID uuid.UUID) (*WabaProject, error)
	// GetByPhoneNumberID resolves an inbound webhook to the project and the
	// organization it belongs to.
	GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*WabaProject, uuid.UUID, error)
	// Connect creates the project and links it to the organization.
	Connect(ctx context.Context, orgID uuid.UUID, p *WabaProject) error
	Update(ctx context.Context, p *WabaProject) error
	VerifyTokenExists(ctx context.Context, token string) (bool, error)
}

type MessageRepository interface {
	// Create stores a message. A provider message id seen before returns
	// ErrDuplicateMessage.
	Create(ctx context.Context, m *Message) error
	UpdateStatus(ctx context.Context, waMessageID, status string) error
	ListByClient(ctx context.Context, orgID, clientID uuid.UUID, limit, offset int) ([]*Message, int, error)
}
