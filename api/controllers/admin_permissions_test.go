package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookstore-backend/internal/permissions"
	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
)

type emptyRoleSource struct{}

func (emptyRoleSource) FindRole(_ context.Context, id uuid.UUID) (*models.Role, error) {
	return &models.Role{ID: id, Name: "editor"}, nil
}

func (emptyRoleSource) ListRoles(context.Context) ([]models.Role, error) { return nil, nil }

func TestAdminPermissionLifecycle(t *testing.T) {
	cache, err := permissions.NewCache(kv.NewMemory(), emptyRoleSource{}, testLogg)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	roleID := uuid.New()

	call := func(h http.HandlerFunc, method, body string, params map[string]string) rolePermissions {
		t.Helper()
		req := newRequest(method, "/api/admin/v1/roles/"+roleID.String()+"/permissions", body)
		req = addRouteParam(req, "roleId", roleID.String())
		for k, v := range params {
			req = addRouteParam(req, k, v)
		}
		resp := httptest.NewRecorder()
		h(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
		}
		var out rolePermissions
		decodeData(t, resp, &out)
		return out
	}

	got := call(AdminReplacePermissions(cache, testLogg), http.MethodPut, `{"permissions":["books:read","books:write"]}`, nil)
	if len(got.Permissions) != 2 {
		t.Fatalf("expected two permissions, got %+v", got)
	}
	got = call(AdminGrantPermission(cache, testLogg), http.MethodPost, `{"permission":"imports:run"}`, nil)
	if len(got.Permissions) != 3 {
		t.Fatalf("expected three permissions, got %+v", got)
	}
	got = call(AdminRevokePermission(cache, testLogg), http.MethodDelete, "", map[string]string{"permission": "books:write"})
	if len(got.Permissions) != 2 {
		t.Fatalf("expected two permissions after revoke, got %+v", got)
	}
	got = call(AdminReplacePermissions(cache, testLogg), http.MethodPut, `{"permissions":[]}`, nil)
	if len(got.Permissions) != 0 {
		t.Fatalf("empty replace should clear, got %+v", got)
	}
}

func TestAdminSyncAllRejectsBadForce(t *testing.T) {
	cache, _ := permissions.NewCache(kv.NewMemory(), emptyRoleSource{}, testLogg)
	resp := httptest.NewRecorder()
	AdminSyncAllPermissions(cache, testLogg)(resp, newRequest(http.MethodPost, "/api/admin/v1/permissions/sync?force=maybe", ""))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
