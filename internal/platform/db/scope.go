package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type systemScopeKey struct{}

// ScopeSystem is the app.scope value that row-level security admits across
// organizations.
const ScopeSystem = "system"

// WithSystemScope marks ctx for work that spans organizations: scheduled jobs
// and provider webhooks that learn the organization from the payload.
// Without the marker or a pinned organization a statement sees no tenant rows.
func WithSystemScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, systemScopeKey{}, true)
}

// SystemScope reports whether ctx was marked by WithSystemScope.
func SystemScope(ctx context.Context) bool {
	on, _ := ctx.Value(systemScopeKey{}).(bool)
	return on
}

// connSettings returns the app.organization_id and app.scope values a pooled
// connection takes for a statement running under ctx.
func connSettings(ctx context.Context) (orgID, scope string) {
	if id, ok := OrganizationFromContext(ctx); ok {
		orgID = id.String()
	}
	if SystemScope(ctx) {
		scope = ScopeSystem
	}
	return orgID, scope
}

// pinScope runs on every pool checkout. Both settings are rewritten so a
// connection never carries the previous holder's scope.
func pinScope(ctx context.Context, conn *pgx.Conn) bool {
	orgID, scope := connSettings(ctx)
	_, err := conn.Exec(ctx,
		"SELECT set_config('app.organization_id', $1, false), set_config('app.scope', $2, false)",
		orgID, scope)
	return err == nil
}
