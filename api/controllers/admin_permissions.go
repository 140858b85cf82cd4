package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/bookstore-backend/api/responses"
	"github.com/angelmondragon/bookstore-backend/api/validators"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
)

type permissionAdmin interface {
	Add(ctx context.Context, roleID uuid.UUID, permission string) error
	Remove(ctx context.Context, roleID uuid.UUID, permission string) error
	ReplaceAll(ctx context.Context, roleID uuid.UUID, permissions []string) error
	All(ctx context.Context, roleID uuid.UUID) ([]string, error)
	Clear(ctx context.Context, roleID uuid.UUID) error
	Sync(ctx context.Context, roleID uuid.UUID, force bool) ([]string, error)
	SyncAll(ctx context.Context, force bool) (int, error)
}

type rolePermissions struct {
	RoleID      uuid.UUID `json:"role_id"`
	Permissions []string  `json:"permissions"`
}

type grantPermissionRequest struct {
	Permission string `json:"permission" validate:"required,max=128,permission"`
}

type replacePermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"dive,required,max=128,permission"`
}

func AdminRolePermissions(svc permissionAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roleID, err := routeUUID(r, "roleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		perms, err := svc.All(r.Context(), roleID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeRolePermissions(w, roleID, perms)
	}
}

func AdminGrantPermission(svc permissionAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roleID, err := routeUUID(r, "roleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req grantPermissionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Add(r.Context(), roleID, req.Permission); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		respondWithPermissions(w, r, svc, roleID, logg)
	}
}

func AdminRevokePermission(svc permissionAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roleID, err := routeUUID(r, "roleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		permission := strings.TrimSpace(chi.URLParam(r, "permission"))
		if permission == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "permission is required"))
			return
		}
		if err := svc.Remove(r.Context(), roleID, permission); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		respondWithPermissions(w, r, svc, roleID, logg)
	}
}

// AdminReplacePermissions swaps the cached set; an empty list clears it.
func AdminReplacePermissions(svc permissionAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roleID, err := routeUUID(r, "roleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req replacePermissionsRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if len(req.Permissions) == 0 {
			err = svc.Clear(r.Context(), roleID)
		} else {
			err = svc.ReplaceAll(r.Context(), roleID, req.Permissions)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		respondWithPermissions(w, r, svc, roleID, logg)
	}
}

// AdminSyncRolePermissions reseeds one role from the database. The force
// query flag overwrites an existing cache entry.
func AdminSyncRolePermissions(svc permissionAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roleID, err := routeUUID(r, "roleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		force, err := validators.ParseQueryBool(r, "force", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		perms, err := svc.Sync(r.Context(), roleID, force)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeRolePermissions(w, roleID, perms)
	}
}

func AdminSyncAllPermissions(svc permissionAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force, err := validators.ParseQueryBool(r, "force", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		synced, err := svc.SyncAll(r.Context(), force)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int{"synced_roles": synced})
	}
}

func respondWithPermissions(w http.ResponseWriter, r *http.Request, svc permissionAdmin, roleID uuid.UUID, logg *logger.Logger) {
	perms, err := svc.All(r.Context(), roleID)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	writeRolePermissions(w, roleID, perms)
}

func writeRolePermissions(w http.ResponseWriter, roleID uuid.UUID, perms []string) {
	if perms == nil {
		perms = []string{}
	}
	responses.WriteSuccess(w, rolePermissions{RoleID: roleID, Permissions: perms})
}
