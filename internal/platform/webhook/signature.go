// Package webhook verifies HMAC-SHA256 signed callbacks from third parties
// (the WhatsApp Cloud API sends X-Hub-Signature-256).
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	SignatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="

	// RawBodyKey holds the verified request body in the echo context.
	RawBodyKey = "webhook_raw_body"
)

// Sign returns the header value for payload: "sha256=" + hex HMAC.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether header is a valid signature of payload. The prefix
// is required and the comparison is constant time.
func Verify(payload []byte, secret, header string) bool {
	if secret == "" || !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// RequireSignature rejects requests whose body does not match the signature
// header. The raw body is kept under RawBodyKey and restored on the request.
func RequireSignature(secret string, maxBody int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBody))
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
			}
			if !Verify(body, secret, c.Request().Header.Get(SignatureHeader)) {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
			}
			c.Set(RawBodyKey, body)
			c.Request().Body = io.NopCloser(bytes.NewReader(body))
			return next(c)
		}
	}
}
