package permissions

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/bookstore-backend/pkg/db"
	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
)

const granted = "1"

type roleSource interface {
	FindRole(ctx context.Context, id uuid.UUID) (*models.Role, error)
	ListRoles(ctx context.Context) ([]models.Role, error)
}

// Cache keeps one hash of permission fields per role. Entries never expire;
// they change only through explicit writes or a forced Sync.
type Cache interface {
	Has(ctx context.Context, roleID uuid.UUID, permission string) (bool, error)
	Add(ctx context.Context, roleID uuid.UUID, permission string) error
	Remove(ctx context.Context, roleID uuid.UUID, permission string) error
	ReplaceAll(ctx context.Context, roleID uuid.UUID, permissions []string) error
	All(ctx context.Context, roleID uuid.UUID) ([]string, error)
	Clear(ctx context.Context, roleID uuid.UUID) error
	Sync(ctx context.Context, roleID uuid.UUID, force bool) ([]string, error)
	SyncAll(ctx context.Context, force bool) (int, error)
}

type cache struct {
	store  kv.Store
	source roleSource
	logg   *logger.Logger
}

// NewCache builds a permission cache over the key-value store.
func NewCache(store kv.Store, source roleSource, logg *logger.Logger) (Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("kv store required")
	}
	if source == nil {
		return nil, fmt.Errorf("role source required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &cache{store: store, source: source, logg: logg}, nil
}

func roleKey(roleID uuid.UUID) string {
	return kv.Key("permissions", "role", roleID.String())
}

func normalize(permission string) (string, error) {
	p := strings.TrimSpace(permission)
	if p == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "permission is required")
	}
	return p, nil
}

func (c *cache) Has(ctx context.Context, roleID uuid.UUID, permission string) (bool, error) {
	p, err := normalize(permission)
	if err != nil {
		return false, err
	}
	ok, err := c.store.HExists(ctx, roleKey(roleID), p)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check permission")
	}
	return ok, nil
}

func (c *cache) Add(ctx context.Context, roleID uuid.UUID, permission string) error {
	p, err := normalize(permission)
	if err != nil {
		return err
	}
	if err := c.store.HSet(ctx, roleKey(roleID), map[string]string{p: granted}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "add permission")
	}
	return nil
}

func (c *cache) Remove(ctx context.Context, roleID uuid.UUID, permission string) error {
	p, err := normalize(permission)
	if err != nil {
		return err
	}
	if err := c.store.HDel(ctx, roleKey(roleID), p); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove permission")
	}
	return nil
}

// ReplaceAll deletes the role hash and then writes the new set. Readers
// between the two steps observe an empty set.
func (c *cache) ReplaceAll(ctx context.Context, roleID uuid.UUID, permissions []string) error {
	fields := make(map[string]string, len(permissions))
	for _, permission := range permissions {
		p, err := normalize(permission)
		if err != nil {
			return err
		}
		fields[p] = granted
	}
	key := roleKey(roleID)
	if err := c.store.Del(ctx, key); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear permissions")
	}
	if len(fields) == 0 {
		return nil
	}
	if err := c.store.HSet(ctx, key, fields); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write permissions")
	}
	return nil
}

// All returns the role's permissions sorted.
func (c *cache) All(ctx context.Context, roleID uuid.UUID) ([]string, error) {
	fields, err := c.store.HGetAll(ctx, roleKey(roleID))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list permissions")
	}
	out := make([]string, 0, len(fields))
	for p := range fields {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (c *cache) Clear(ctx context.Context, roleID uuid.UUID) error {
	if err := c.store.Del(ctx, roleKey(roleID)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear permissions")
	}
	return nil
}

// Sync seeds the role from the database when its hash is empty, or always
// when force is set. An empty hash cannot be told apart from a role that
// was never seeded, so roles without permissions are re-read every time.
func (c *cache) Sync(ctx context.Context, roleID uuid.UUID, force bool) ([]string, error) {
	if !force {
		current, err := c.All(ctx, roleID)
		if err != nil {
			return nil, err
		}
		if len(current) > 0 {
			return current, nil
		}
	}
	role, err := c.source.FindRole(ctx, roleID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "role not found").
				WithDetails(map[string]any{"role_id": roleID.String()})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load role")
	}
	return c.seed(ctx, *role)
}

// SyncAll walks every durable role and seeds the cache.
func (c *cache) SyncAll(ctx context.Context, force bool) (int, error) {
	roles, err := c.source.ListRoles(ctx)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list roles")
	}
	var errs error
	seeded := 0
	for _, role := range roles {
		if !force {
			current, err := c.All(ctx, role.ID)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if len(current) > 0 {
				continue
			}
		}
		if _, err := c.seed(ctx, role); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("role %s: %w", role.Name, err))
			continue
		}
		seeded++
	}
	return seeded, errs
}

func (c *cache) seed(ctx context.Context, role models.Role) ([]string, error) {
	perms := make([]string, 0, len(role.Permissions))
	for _, p := range role.Permissions {
		perms = append(perms, p.Permission)
	}
	sort.Strings(perms)
	if err := c.ReplaceAll(ctx, role.ID, perms); err != nil {
		return nil, err
	}
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"role":        role.Name,
		"permissions": len(perms),
	})
	c.logg.Info(logCtx, "role permissions seeded")
	return perms, nil
}
