// Package workspace binds the current tenant (workspace_id) and actor to a
// request's context.Context. Stores and adapters take workspace_id as an
// explicit parameter; the command entry points (cmd/craftctl,
// cmd/craftworkerd) put the binding on the context, the same way the source
// runtime pushed a workspace onto a contextvar before dispatch.
package workspace

import (
	"context"
	"fmt"
)

type ctxKey struct{}

// Actor is the identity the auth boundary supplies to the core, per
// spec.md §5's Auth adapter: "the core consumes only these fields."
type Actor struct {
	UserID        string
	Email         string
	WorkspaceID   string
	WorkspaceRole string // admin | member | readonly | portal
	PlatformRole  string // standard | superadmin
}

type binding struct {
	workspaceID string
	actor       *Actor
}

// WithWorkspace pushes workspaceID onto ctx, returning a derived context.
func WithWorkspace(ctx context.Context, workspaceID string) context.Context {
	b := binding{workspaceID: workspaceID}
	if prev, ok := ctx.Value(ctxKey{}).(binding); ok {
		b.actor = prev.actor
	}
	return context.WithValue(ctx, ctxKey{}, b)
}

// WithActor pushes actor onto ctx, implicitly binding actor.WorkspaceID as
// the current workspace.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, binding{workspaceID: actor.WorkspaceID, actor: &actor})
}

// ID returns the workspace bound to ctx, or "" if none is bound.
func ID(ctx context.Context) string {
	if b, ok := ctx.Value(ctxKey{}).(binding); ok {
		return b.workspaceID
	}
	return ""
}

// MustID returns the bound workspace id, or panics when none is bound
// rather than falling back to a default tenant.
func MustID(ctx context.Context) string {
	id := ID(ctx)
	if id == "" {
		panic(fmt.Errorf("workspace: no workspace bound on context"))
	}
	return id
}

// ActorFrom returns the actor bound to ctx and whether one is present.
func ActorFrom(ctx context.Context) (Actor, bool) {
	if b, ok := ctx.Value(ctxKey{}).(binding); ok && b.actor != nil {
		return *b.actor, true
	}
	return Actor{}, false
}

// IsSuperadmin reports whether the bound actor has platform_role=superadmin.
func IsSuperadmin(ctx context.Context) bool {
	a, ok := ActorFrom(ctx)
	return ok && a.PlatformRole == "superadmin"
}
