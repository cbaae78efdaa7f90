package consent

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type linkClaims struct {
	jwt.RegisteredClaims
	OrganizationID string `json:"org"`
}

// LinkSigner signs the HS256 tokens carried in consent links. The jti is the
// consent token id; the database row stays the authority on use and expiry.
type LinkSigner struct {
	key []byte
	now func() time.Time
}

func NewLinkSigner(key []byte) *LinkSigner {
	return &LinkSigner{key: key, now: time.Now}
}

func (s *LinkSigner) Sign(t *Token) (string, error) {
	if len(s.key) == 0 {
		return "", errors.New("consent signing key is not configured")
	}
	claims := linkClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        t.ID.String(),
			IssuedAt:  jwt.NewNumericDate(t.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(t.ExpiresAt),
		},
		OrganizationID: t.OrganizationID.String(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign consent link: %w", err)
	}
	return signed, nil
}

// Parse returns the organization and token id of a link token.
func (s *LinkSigner) Parse(raw string) (orgID, tokenID uuid.UUID, err error) {
	claims := &linkClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return uuid.Nil, uuid.Nil, ErrLinkExpired
	case err != nil:
		return uuid.Nil, uuid.Nil, ErrLinkInvalid
	}
	if orgID, err = uuid.Parse(claims.OrganizationID); err != nil {
		return uuid.Nil, uuid.Nil, ErrLinkInvalid
	}
	if tokenID, err = uuid.Parse(claims.ID); err != nil {
		return uuid.Nil, uuid.Nil, ErrLinkInvalid
	}
	return orgID, tokenID, nil
}
