package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/notification"
)

var (
	ErrOrganizationNotFound = apperr.New(apperr.ErrNotFound, "organization not found")
	ErrUserNotFound         = apperr.New(apperr.ErrNotFound, "user not found")
	ErrEmailTaken           = apperr.New(apperr.ErrConflict, "email is already registered")
	ErrAlreadyMember        = apperr.New(apperr.ErrConflict, "user is already a member of this organization")
	ErrNoMembership         = apperr.New(apperr.ErrForbidden, "user is not a member of this organization")
	// ErrInvalidCredentials deliberately does not say which half was wrong.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

type Service struct {
	repo   Repository
	tx     db.TxRunner
	issuer *auth.Issuer
	mailer *notification.Mailer

	defaultTimezone string
	logger          zerolog.Logger
}

func NewService(repo Repository, tx db.TxRunner, issuer *auth.Issuer, mailer *notification.Mailer, defaultTimezone string, logger zerolog.Logger) *Service {
	return &Service{repo: repo, tx: tx, issuer: issuer, mailer: mailer, defaultTimezone: defaultTimezone, logger: logger}
}

// Signup creates the organization, its owner and the owner membership in one
// transaction and returns a session for the owner.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*Session, *Organization, error) {
	org := &Organization{
		ID:            uuid.New(),
		Name:          strings.TrimSpace(in.OrganizationName),
		TaxID:         strings.TrimSpace(in.TaxID),
		Email:         normalizeEmail(in.Email),
		Timezone:      in.Timezone,
		Region:        strings.ToUpper(in.Region),
		InvoiceSeries: "F",
	}
	if org.Timezone == "" {
		org.Timezone = s.defaultTimezone
	}
	if org.Region == "" {
		org.Region = "ES"
	}

	v := &apperr.ValidationError{}
	if err := org.Validate(); err != nil {
		var ve *apperr.ValidationError
		if errors.As(err, &ve) {
			for f, m := range ve.Fields {
				v.Add(f, m)
			}
		}
	}
	if !validEmail(in.Email) {
		v.Add("email", "is not a valid address")
	}
	if strings.TrimSpace(in.FullName) == "" {
		v.Add("full_name", "is required")
	}
	if err := v.OrNil(); err != nil {
		return nil, nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, nil, apperr.Invalid("password", err.Error())
	}
	user := &User{ID: uuid.New(), Email: normalizeEmail(in.Email), FullName: strings.TrimSpace(in.FullName), PasswordHash: hash}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetUserByEmail(ctx, user.Email); err == nil {
			return ErrEmailTaken
		} else if !errors.Is(err, ErrUserNotFound) {
			return err
		}
		if err := s.repo.CreateOrganization(ctx, org); err != nil {
			return err
		}
		if err := s.repo.CreateUser(ctx, user); err != nil {
			return err
		}
		return s.repo.AddMembership(ctx, &Membership{OrganizationID: org.ID, UserID: user.ID, Role: auth.RoleOwner})
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info().Str("organization_id", org.ID.String()).Msg("organization created")

	sess, err := s.session(user.ID, org.ID, auth.RoleOwner)
	if err != nil {
		return nil, nil, err
	}
	return sess, org, nil
}

// Login checks the password and issues a session. Without an explicit
// organization the user's oldest membership is used.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	user, err := s.repo.GetUserByEmail(ctx, normalizeEmail(in.Email))
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(user.PasswordHash, in.Password) {
		return nil, ErrInvalidCredentials
	}

	memberships, err := s.repo.MembershipsForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return nil, ErrNoMembership
	}

	chosen := memberships[0]
	if in.OrganizationID != nil {
		chosen = nil
		for _, m := range memberships {
			if m.OrganizationID == *in.OrganizationID {
				chosen = m
				break
			}
		}
		if chosen == nil {
			return nil, ErrNoMembership
		}
	}
	return s.session(user.ID, chosen.OrganizationID, chosen.Role)
}

func (s *Service) session(userID, orgID uuid.UUID, role string) (*Session, error) {
	roles := []string{role}
	token, exp, err := s.issuer.Issue(userID, orgID, roles)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	return &Session{Token: token, ExpiresAt: exp, UserID: userID, OrganizationID: orgID, Roles: roles}, nil
}

func (s *Service) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	return s.repo.GetOrganization(ctx, id)
}

func (s *Service) UpdateOrganization(ctx context.Context, o *Organization) error {
	o.Region = strings.ToUpper(o.Region)
	o.InvoiceSeries = strings.ToUpper(strings.TrimSpace(o.InvoiceSeries))
	if err := o.Validate(); err != nil {
		return err
	}
	return s.repo.UpdateOrganization(ctx, o)
}

// Invite adds a member. An unknown email gets a new account with the given
// password; a known one just gains the membership.
func (s *Service) Invite(ctx context.Context, orgID uuid.UUID, in InviteInput) (*Member, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	email := normalizeEmail(in.Email)

	var (
		member *Member
		org    *Organization
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		org, err = s.repo.GetOrganization(ctx, orgID)
		if err != nil {
			return err
		}

		user, err := s.repo.GetUserByEmail(ctx, email)
		if errors.Is(err, ErrUserNotFound) {
			hash, herr := auth.HashPassword(in.Password)
			if herr != nil {
				return apperr.Invalid("password", herr.Error())
			}
			user = &User{ID: uuid.New(), Email: email, FullName: strings.TrimSpace(in.FullName), PasswordHash: hash}
			if err := s.repo.CreateUser(ctx, user); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		m := &Membership{OrganizationID: orgID, UserID: user.ID, Role: in.Role}
		if err := s.repo.AddMembership(ctx, m); err != nil {
			return err
		}
		member = &Member{UserID: user.ID, Email: user.Email, FullName: user.FullName, Role: m.Role, CreatedAt: m.CreatedAt}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.mailer != nil {
		err := s.mailer.Send(ctx, "member-invite", member.Email, map[string]string{
			"name":   member.FullName,
			"clinic": org.Name,
			"role":   member.Role,
			"email":  member.Email,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("organization_id", orgID.String()).Msg("invite email not sent")
		}
	}
	return member, nil
}

func (s *Service) ListMembers(ctx context.Context, orgID uuid.UUID) ([]*Member, error) {
	return s.repo.ListMembers(ctx, orgID)
}
