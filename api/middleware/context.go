package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookstore-backend/internal/cart"
)

type contextKey string

const (
	ctxUserID   contextKey = "user_id"
	ctxRoleID   contextKey = "role_id"
	ctxIdentity contextKey = "cart_identity"
)

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	v, ok := ctx.Value(ctxUserID).(uuid.UUID)
	return v, ok && v != uuid.Nil
}

func RoleIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	v, ok := ctx.Value(ctxRoleID).(uuid.UUID)
	return v, ok && v != uuid.Nil
}

// IdentityFromContext returns the cart identity of the caller: the user
// when authenticated, otherwise the guest session.
func IdentityFromContext(ctx context.Context) (cart.Identity, bool) {
	if ctx == nil {
		return cart.Identity{}, false
	}
	v, ok := ctx.Value(ctxIdentity).(cart.Identity)
	return v, ok
}

// WithUser injects the authenticated user into the context.
func WithUser(ctx context.Context, userID uuid.UUID, roleID *uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, userID)
	if roleID != nil {
		ctx = context.WithValue(ctx, ctxRoleID, *roleID)
	}
	return context.WithValue(ctx, ctxIdentity, cart.UserIdentity(userID))
}

// WithGuest injects a guest session identity into the context.
func WithGuest(ctx context.Context, sessionID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxIdentity, cart.GuestIdentity(sessionID))
}
