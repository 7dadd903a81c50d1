package auth

import (
	"context"

	"github.com/rpattn/csvmodels/internal/domain"
)

type contextKey string

const userKey contextKey = "user"

// ContextWithUser returns a new context that carries the authenticated operator.
func ContextWithUser(ctx context.Context, user domain.User) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext retrieves the authenticated operator from the context, if any.
func UserFromContext(ctx context.Context) (domain.User, bool) {
	if ctx == nil {
		return domain.User{}, false
	}
	user, ok := ctx.Value(userKey).(domain.User)
	if !ok {
		return domain.User{}, false
	}
	return user, true
}

// IsAuthenticated reports whether the request context carries an operator.
func IsAuthenticated(ctx context.Context) bool {
	_, ok := UserFromContext(ctx)
	return ok
}
