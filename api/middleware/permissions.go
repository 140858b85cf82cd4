package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookstore-backend/api/responses"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
)

type permissionChecker interface {
	Has(ctx context.Context, roleID uuid.UUID, permission string) (bool, error)
}

// RequirePermission admits users whose role carries permission in the
// permission cache.
func RequirePermission(checker permissionChecker, permission string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			roleID, ok := RoleIDFromContext(r.Context())
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role required"))
				return
			}
			granted, err := checker.Has(r.Context(), roleID, permission)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if !granted {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "permission required").
					WithDetails(map[string]any{"permission": permission}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
