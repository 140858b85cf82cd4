package permissions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookstore-backend/internal/repo"
	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
)

// Repository reads the durable role definitions used to seed the cache.
type Repository struct {
	repo.Base
}

// NewRepository binds the repository to the provided GORM handle.
func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(conn)}
}

// FindRole loads a role with its permissions.
func (r *Repository) FindRole(ctx context.Context, id uuid.UUID) (*models.Role, error) {
	var role models.Role
	if err := r.DB(ctx).
		Preload("Permissions").
		Where("id = ?", id).
		First(&role).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

// ListRoles returns every role with its permissions.
func (r *Repository) ListRoles(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := r.DB(ctx).
		Preload("Permissions").
		Order("name ASC").
		Find(&roles).Error; err != nil {
		return nil, err
	}
	return roles, nil
}

// UpsertRole creates the role if needed and replaces its permission rows.
// Callers run it inside a transaction.
func (r *Repository) UpsertRole(ctx context.Context, def RoleDefinition) (*models.Role, error) {
	role := models.Role{Name: def.Name}
	if err := r.DB(ctx).Where("name = ?", def.Name).FirstOrCreate(&role).Error; err != nil {
		return nil, err
	}
	if err := r.DB(ctx).Where("role_id = ?", role.ID).Delete(&models.RolePermission{}).Error; err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(def.Permissions))
	rows := make([]models.RolePermission, 0, len(def.Permissions))
	for _, p := range def.Permissions {
		perm, err := normalize(p)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[perm]; dup {
			continue
		}
		seen[perm] = struct{}{}
		rows = append(rows, models.RolePermission{RoleID: role.ID, Permission: perm})
	}
	if len(rows) > 0 {
		if err := r.DB(ctx).Create(&rows).Error; err != nil {
			return nil, err
		}
	}
	role.Permissions = rows
	return &role, nil
}
