package rest

import (
	"context"

	"github.com/baechuer/tablebook/internal/service"
)

type ctxKeyAuth struct{}

// AuthContext is the verified caller. UserID is already normalized and is
// the key memberships are stored under.
type AuthContext struct {
	UserID string
	Email  string
	Name   string
	Role   string
}

func (a AuthContext) Actor() service.Actor {
	return service.Actor{UserID: a.UserID, Name: a.Name, Email: a.Email, Role: a.Role}
}

func withAuth(ctx context.Context, a AuthContext) context.Context {
	return context.WithValue(ctx, ctxKeyAuth{}, a)
}

func GetAuth(ctx context.Context) (AuthContext, bool) {
	a, ok := ctx.Value(ctxKeyAuth{}).(AuthContext)
	if !ok || a.UserID == "" {
		return AuthContext{}, false
	}
	return a, true
}
