package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string, handler echo.HandlerFunc) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, mw(handler)(c)
}

func ok(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d", code)
	}
	httpErr, isHTTP := err.(*echo.HTTPError)
	if !isHTTP {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runMiddleware(t, JWTMiddleware(NewIssuer(testSigningKey, time.Hour)), "", ok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, JWTMiddleware(NewIssuer(testSigningKey, time.Hour)), tt.header, ok)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidTokenSetsContext(t *testing.T) {
	issuer := NewIssuer(testSigningKey, time.Hour)
	userID, orgID := uuid.New(), uuid.New()
	tokenStr, _, err := issuer.Issue(userID, orgID, []string{RoleStaff})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var called bool
	c, err := runMiddleware(t, JWTMiddleware(issuer), "Bearer "+tokenStr, func(c echo.Context) error {
		called = true
		ctx := c.Request().Context()
		if got := UserIDFromContext(ctx); got != userID.String() {
			t.Errorf("expected user_id=%s, got %s", userID, got)
		}
		roles := RolesFromContext(ctx)
		if len(roles) != 1 || roles[0] != RoleStaff {
			t.Errorf("expected [staff], got %v", roles)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
	if got, _ := c.Get("jwt_org_id").(string); got != orgID.String() {
		t.Errorf("expected jwt_org_id=%s, got %s", orgID, got)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}, testSigningKey)

	_, err := runMiddleware(t, JWTMiddleware(NewIssuer(testSigningKey, time.Hour)), "Bearer "+tokenStr, ok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, []byte("another-key-another-key-another-key"))

	_, err := runMiddleware(t, JWTMiddleware(NewIssuer(testSigningKey, time.Hour)), "Bearer "+tokenStr, ok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_MissingExpiry(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-123"},
	}, testSigningKey)

	_, err := runMiddleware(t, JWTMiddleware(NewIssuer(testSigningKey, time.Hour)), "Bearer "+tokenStr, ok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestDevAuthMiddleware_DefaultsToAdmin(t *testing.T) {
	_, err := runMiddleware(t, DevAuthMiddleware(NewIssuer(testSigningKey, time.Hour)), "", func(c echo.Context) error {
		roles := RolesFromContext(c.Request().Context())
		if len(roles) != 1 || roles[0] != RoleAdmin {
			t.Errorf("expected [admin], got %v", roles)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_StillVerifiesTokens(t *testing.T) {
	_, err := runMiddleware(t, DevAuthMiddleware(NewIssuer(testSigningKey, time.Hour)), "Bearer garbage", ok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestIssuer_RejectsExpiredAtBoundary(t *testing.T) {
	issuer := NewIssuer(testSigningKey, time.Minute)
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return base }

	tokenStr, exp, err := issuer.Issue(uuid.New(), uuid.New(), nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	issuer.now = func() time.Time { return exp.Add(-time.Second) }
	if _, err := issuer.Parse(tokenStr); err != nil {
		t.Errorf("expected token valid one second before expiry, got %v", err)
	}

	issuer.now = func() time.Time { return exp }
	if _, err := issuer.Parse(tokenStr); err == nil {
		t.Error("expected token to be expired at exp")
	}
}

func TestIssuer_NoKey(t *testing.T) {
	if _, _, err := NewIssuer(nil, time.Hour).Issue(uuid.New(), uuid.New(), nil); err == nil {
		t.Fatal("expected error without signing key")
	}
}

func TestPassword(t *testing.T) {
	if _, err := HashPassword("short"); err == nil {
		t.Error("expected error for short password")
	}
	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "correct horse battery") {
		t.Error("expected password to match")
	}
	if CheckPassword(hash, "wrong password") {
		t.Error("expected mismatch for wrong password")
	}
}

func TestWebSocketToken(t *testing.T) {
	issuer := NewIssuer(testSigningKey, time.Hour)
	orgID := uuid.New()
	tokenStr, _, err := issuer.Issue(uuid.New(), orgID, []string{RoleStaff})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	tests := []struct {
		name     string
		target   string
		protocol string
	}{
		{"query parameter", "/api/v1/ws?access_token=" + tokenStr, ""},
		{"subprotocol", "/api/v1/ws", WebSocketProtocol + ", " + tokenStr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.protocol != "" {
				req.Header.Set("Sec-WebSocket-Protocol", tt.protocol)
			}
			c := echo.New().NewContext(req, httptest.NewRecorder())
			mw := func(next echo.HandlerFunc) echo.HandlerFunc {
				return WebSocketToken()(JWTMiddleware(issuer)(next))
			}
			if err := mw(ok)(c); err != nil {
				t.Fatalf("expected the handshake token to authenticate, got %v", err)
			}
			if got, _ := c.Get("jwt_org_id").(string); got != orgID.String() {
				t.Errorf("expected jwt_org_id=%s, got %s", orgID, got)
			}
			if c.Request().URL.Query().Has("access_token") {
				t.Error("expected the token to be removed from the query")
			}
		})
	}
}

func TestWebSocketToken_HeaderWins(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws?access_token=from-query", nil)
	req.Header.Set("Authorization", "Bearer from-header")
	c := echo.New().NewContext(req, httptest.NewRecorder())

	if err := WebSocketToken()(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Request().Header.Get("Authorization"); got != "Bearer from-header" {
		t.Errorf("expected the header token to be kept, got %q", got)
	}
}

func TestWebSocketToken_NoToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
	req.Header.Set("Sec-WebSocket-Protocol", WebSocketProtocol)
	c := echo.New().NewContext(req, httptest.NewRecorder())

	err := WebSocketToken()(JWTMiddleware(NewIssuer(testSigningKey, time.Hour))(ok))(c)
	expectStatus(t, err, http.StatusUnauthorized)
}
