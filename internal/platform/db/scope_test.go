package db

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestConnSettings_Unscoped(t *testing.T) {
	org, scope := connSettings(context.Background())
	if org != "" || scope != "" {
		t.Errorf("expected empty settings, got %q and %q", org, scope)
	}
}

func TestConnSettings_Organization(t *testing.T) {
	id := uuid.New()
	org, scope := connSettings(WithOrganization(context.Background(), id))
	if org != id.String() {
		t.Errorf("expected %s, got %q", id, org)
	}
	if scope != "" {
		t.Errorf("expected no system scope, got %q", scope)
	}
}

func TestConnSettings_DetachedKeepsOrganization(t *testing.T) {
	id := uuid.New()
	ctx := Detached(WithOrganization(context.Background(), id))
	if org, _ := connSettings(ctx); org != id.String() {
		t.Errorf("expected detached work to stay pinned to %s, got %q", id, org)
	}
}

func TestConnSettings_SystemScope(t *testing.T) {
	ctx := WithSystemScope(context.Background())
	if !SystemScope(ctx) {
		t.Fatal("expected the marker to be set")
	}
	if _, scope := connSettings(ctx); scope != ScopeSystem {
		t.Errorf("expected %q, got %q", ScopeSystem, scope)
	}
	if SystemScope(context.Background()) {
		t.Error("expected a plain context to be unscoped")
	}
}
