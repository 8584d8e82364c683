package workspace

import (
	"context"
	"testing"
)

func TestWithWorkspaceRoundTrip(t *testing.T) {
	ctx := WithWorkspace(context.Background(), "ws_1")
	if got := ID(ctx); got != "ws_1" {
		t.Fatalf("got %q want ws_1", got)
	}
}

func TestWithActorBindsWorkspace(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{UserID: "u1", WorkspaceID: "ws_2", WorkspaceRole: "admin"})
	if got := ID(ctx); got != "ws_2" {
		t.Fatalf("got %q want ws_2", got)
	}
	a, ok := ActorFrom(ctx)
	if !ok || a.UserID != "u1" {
		t.Fatalf("expected actor u1, got %+v ok=%v", a, ok)
	}
	if IsSuperadmin(ctx) {
		t.Fatal("expected non-superadmin")
	}
}

func TestMustIDPanicsWhenUnbound(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	MustID(context.Background())
}

func TestWithWorkspacePreservesActor(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{UserID: "u1", WorkspaceID: "ws_1"})
	ctx = WithWorkspace(ctx, "ws_1")
	a, ok := ActorFrom(ctx)
	if !ok || a.UserID != "u1" {
		t.Fatalf("expected actor preserved, got %+v ok=%v", a, ok)
	}
}
