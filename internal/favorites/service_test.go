package favorites

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookstore-backend/pkg/kv"
)

func TestFavoritesLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(kv.NewMemory())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	user := uuid.New()
	a, b := uuid.New(), uuid.New()

	_ = svc.Add(ctx, user, a)
	_ = svc.Add(ctx, user, a)
	_ = svc.Add(ctx, user, b)

	if n, _ := svc.Count(ctx, user); n != 2 {
		t.Fatalf("set should dedupe, count=%d", n)
	}
	if ok, _ := svc.Has(ctx, user, a); !ok {
		t.Fatalf("expected favorite")
	}
	list, err := svc.List(ctx, user)
	if err != nil || len(list) != 2 {
		t.Fatalf("unexpected list %v (%v)", list, err)
	}

	_ = svc.Remove(ctx, user, a)
	if ok, _ := svc.Has(ctx, user, a); ok {
		t.Fatalf("expected removal")
	}
	if n, _ := svc.Count(ctx, uuid.New()); n != 0 {
		t.Fatalf("other users must be isolated")
	}
}

func TestToggle(t *testing.T) {
	ctx := context.Background()
	svc, _ := NewService(kv.NewMemory())
	user, book := uuid.New(), uuid.New()

	on, err := svc.Toggle(ctx, user, book)
	if err != nil || !on {
		t.Fatalf("first toggle should add: %v %v", on, err)
	}
	on, _ = svc.Toggle(ctx, user, book)
	if on {
		t.Fatalf("second toggle should remove")
	}
	if n, _ := svc.Count(ctx, user); n != 0 {
		t.Fatalf("expected empty set, got %d", n)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	svc, _ := NewService(store)
	user := uuid.New()

	_ = svc.Add(ctx, user, uuid.New())
	if err := svc.Clear(ctx, user); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if ok, _ := store.Exists(ctx, "favorites:"+user.String()); ok {
		t.Fatalf("key should be deleted")
	}
}
