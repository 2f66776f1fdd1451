// Package principal carries the authenticated identity of one in-flight
// request through its context.
package principal

import (
	"context"
	"errors"

	"github.com/ovaphlow/docnet/internal/user/entity"
)

var (
	ErrUnauthenticated = errors.New("no authenticated principal")
	ErrForbidden       = errors.New("principal lacks required role")
)

// Principal is the resolved identity attached to a request.
type Principal struct {
	UserID      string
	Email       string
	Role        entity.Role
	Authorities []string
}

// FromUser derives a principal from a freshly loaded user record.
func FromUser(u *entity.User) *Principal {
	return &Principal{
		UserID:      u.ID,
		Email:       u.Email,
		Role:        u.Role,
		Authorities: []string{"ROLE_" + string(u.Role)},
	}
}

// HasRole reports whether p holds role.
func (p *Principal) HasRole(role entity.Role) bool {
	return p != nil && p.Role == role
}

type ctxKey struct{}

// With returns ctx carrying p. An existing principal is never replaced.
func With(ctx context.Context, p *Principal) context.Context {
	if From(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, p)
}

// From returns the principal in ctx or nil.
func From(ctx context.Context) *Principal {
	if ctx == nil {
		return nil
	}
	p, _ := ctx.Value(ctxKey{}).(*Principal)
	return p
}

// Require returns the principal in ctx if it holds role.
func Require(ctx context.Context, role entity.Role) (*Principal, error) {
	p := From(ctx)
	if p == nil {
		return nil, ErrUnauthenticated
	}
	if !p.HasRole(role) {
		return p, ErrForbidden
	}
	return p, nil
}
