package notifications

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookstore-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
	"github.com/angelmondragon/bookstore-backend/pkg/types"
)

func newTestStore(t *testing.T, max int64) (Store, *kv.Memory) {
	t.Helper()
	mem := kv.NewMemory()
	s, err := NewStore(mem, config.NotificationsConfig{MaxEntries: max})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.(*store).now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s, mem
}

func TestAddEvictsOldestAndTheirReadMarkers(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStore(t, 3)
	user := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		rec, err := s.Add(ctx, user, Input{Type: "order", Title: fmt.Sprintf("n%d", i)})
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		ids = append(ids, rec.ID)
	}
	_ = s.MarkRead(ctx, user, ids[0])
	_ = s.MarkRead(ctx, user, ids[2])

	for i := 3; i < 5; i++ {
		if _, err := s.Add(ctx, user, Input{Type: "order", Title: fmt.Sprintf("n%d", i)}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	list, _ := s.List(ctx, user, 0, 10)
	if len(list) != 3 || list[0].Title != "n4" || list[2].Title != "n2" {
		t.Fatalf("unexpected retained notifications %+v", list)
	}
	if !list[2].Read || list[0].Read {
		t.Fatalf("unexpected read flags %+v", list)
	}
	if n, _ := mem.SCard(ctx, "notifications:"+user.String()+":read"); n != 1 {
		t.Fatalf("evicted read marker leaked, read set size %d", n)
	}
	if n, _ := s.UnreadCount(ctx, user); n != 2 {
		t.Fatalf("expected 2 unread, got %d", n)
	}
}

func TestDeleteRemovesReadMarker(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStore(t, 10)
	user := uuid.New()

	rec, _ := s.Add(ctx, user, Input{Type: "promo", Title: "Sale", Data: types.Metadata{"discount": 10}})
	if rec.Data["discount"] != "10" {
		t.Fatalf("data should be normalized, got %v", rec.Data)
	}
	_ = s.MarkRead(ctx, user, rec.ID)

	if err := s.Delete(ctx, user, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := mem.SIsMember(ctx, "notifications:"+user.String()+":read", rec.ID.String()); ok {
		t.Fatalf("read marker should be removed with the notification")
	}
	if err := s.Delete(ctx, user, rec.ID); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.MarkRead(ctx, user, uuid.New()); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}
}

func TestMarkAllReadAndClear(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 10)
	user := uuid.New()

	for i := 0; i < 4; i++ {
		_, _ = s.Add(ctx, user, Input{Type: "system", Title: "hello"})
	}
	if n, _ := s.UnreadCount(ctx, user); n != 4 {
		t.Fatalf("expected 4 unread, got %d", n)
	}
	if err := s.MarkAllRead(ctx, user); err != nil {
		t.Fatalf("mark all: %v", err)
	}
	if n, _ := s.UnreadCount(ctx, user); n != 0 {
		t.Fatalf("expected 0 unread, got %d", n)
	}

	page, _ := s.List(ctx, user, 1, 2)
	if len(page) != 2 {
		t.Fatalf("expected offset page of 2, got %d", len(page))
	}

	_ = s.Clear(ctx, user)
	if list, _ := s.List(ctx, user, 0, 10); len(list) != 0 {
		t.Fatalf("expected empty list after clear")
	}
	if _, err := s.Add(ctx, user, Input{}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
