package shared

import (
	"context"
	"fmt"
)

// Role enumerates actor roles known to the circulation engine.
type Role string

const (
	RoleMember    Role = "member"
	RoleLibrarian Role = "librarian"
	RoleAdmin     Role = "admin"
)

// Actor is the caller identity resolved by the session layer.
type Actor struct {
	ID   int64
	Role Role
}

// IsStaff reports whether the actor may perform desk operations.
func (a *Actor) IsStaff() bool {
	return a != nil && (a.Role == RoleLibrarian || a.Role == RoleAdmin)
}

// RequireActor returns the actor from context or ErrUnauthenticated.
func RequireActor(ctx context.Context) (*Actor, error) {
	actor := ActorFromContext(ctx)
	if actor == nil || actor.ID == 0 {
		return nil, fmt.Errorf("%w: no caller identity", ErrUnauthenticated)
	}
	return actor, nil
}

// RequireStaff returns the actor when it holds a staff role.
func RequireStaff(ctx context.Context) (*Actor, error) {
	actor, err := RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() {
		return nil, fmt.Errorf("%w: staff role required", ErrForbidden)
	}
	return actor, nil
}
