package favorites

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
)

// Service manages the per-user set of favorited book ids. The set is not
// capped; the catalog size bounds it.
type Service interface {
	Add(ctx context.Context, userID, bookID uuid.UUID) error
	Remove(ctx context.Context, userID, bookID uuid.UUID) error
	Has(ctx context.Context, userID, bookID uuid.UUID) (bool, error)
	List(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	Toggle(ctx context.Context, userID, bookID uuid.UUID) (bool, error)
	Count(ctx context.Context, userID uuid.UUID) (int64, error)
	Clear(ctx context.Context, userID uuid.UUID) error
}

type service struct {
	store kv.Store
}

// NewService builds the favorites service over the key-value store.
func NewService(store kv.Store) (Service, error) {
	if store == nil {
		return nil, fmt.Errorf("kv store required")
	}
	return &service{store: store}, nil
}

func setKey(userID uuid.UUID) string {
	return kv.Key("favorites", userID.String())
}

func (s *service) Add(ctx context.Context, userID, bookID uuid.UUID) error {
	if err := s.store.SAdd(ctx, setKey(userID), bookID.String()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "add favorite")
	}
	return nil
}

func (s *service) Remove(ctx context.Context, userID, bookID uuid.UUID) error {
	if err := s.store.SRem(ctx, setKey(userID), bookID.String()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove favorite")
	}
	return nil
}

func (s *service) Has(ctx context.Context, userID, bookID uuid.UUID) (bool, error) {
	ok, err := s.store.SIsMember(ctx, setKey(userID), bookID.String())
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check favorite")
	}
	return ok, nil
}

// List returns the favorited ids in a stable order. Members that are not
// valid ids are skipped.
func (s *service) List(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	members, err := s.store.SMembers(ctx, setKey(userID))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list favorites")
	}
	sort.Strings(members)
	out := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// Toggle flips membership and reports whether the book is now a favorite.
func (s *service) Toggle(ctx context.Context, userID, bookID uuid.UUID) (bool, error) {
	ok, err := s.Has(ctx, userID, bookID)
	if err != nil {
		return false, err
	}
	if ok {
		return false, s.Remove(ctx, userID, bookID)
	}
	return true, s.Add(ctx, userID, bookID)
}

func (s *service) Count(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.store.SCard(ctx, setKey(userID))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count favorites")
	}
	return n, nil
}

func (s *service) Clear(ctx context.Context, userID uuid.UUID) error {
	if err := s.store.Del(ctx, setKey(userID)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear favorites")
	}
	return nil
}
