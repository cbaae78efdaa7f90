package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets the response headers for a JSON API. The public
// consent page is rendered HTML, so it gets a CSP that allows inline styles
// and data: images for the signature preview.
func SecurityHeaders(htmlPrefixes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			h.Set("Cache-Control", "no-store")

			csp := "default-src 'none'; frame-ancestors 'none'"
			for _, p := range htmlPrefixes {
				if strings.HasPrefix(c.Request().URL.Path, p) {
					csp = "default-src 'self'; img-src 'self' data:; style-src 'self' 'unsafe-inline'; frame-ancestors 'none'"
					break
				}
			}
			h.Set("Content-Security-Policy", csp)

			return next(c)
		}
	}
}
