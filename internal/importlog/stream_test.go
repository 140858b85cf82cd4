package importlog

import (
	"context"
	"strings"
	"testing"

	"github.com/angelmondragon/bookstore-backend/pkg/config"
	"github.com/angelmondragon/bookstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
	"github.com/angelmondragon/bookstore-backend/pkg/types"
)

func seed(t *testing.T, s Stream, events ...Event) {
	t.Helper()
	for _, e := range events {
		if _, err := s.Append(context.Background(), e); err != nil {
			t.Fatalf("append %s: %v", e.Type, err)
		}
	}
}

func TestAppendNormalizesMetadata(t *testing.T) {
	ctx := context.Background()
	s, err := NewStream(kv.NewMemory(), config.ImportLogConfig{MaxFieldLength: 8})
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	seed(t, s, Event{
		Type:     enums.ImportLogTypePage,
		Status:   enums.ImportLogStatusSuccess,
		Message:  "page done",
		RunID:    "run-1",
		Metadata: types.Metadata{"page": 2, "counts": map[string]int{"new": 3}, "note": strings.Repeat("x", 20)},
	})

	entries, err := s.Recent(ctx, 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("unexpected entries %v (%v)", entries, err)
	}
	e := entries[0]
	if e.Type != enums.ImportLogTypePage || e.Status != enums.ImportLogStatusSuccess || e.RunID != "run-1" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.Message != "page don" {
		t.Fatalf("message should be truncated, got %q", e.Message)
	}
	if e.Metadata["page"] != "2" || e.Metadata["counts"] != `{"new":3}` || e.Metadata["note"] != "xxxxxxxx" {
		t.Fatalf("unexpected metadata %v", e.Metadata)
	}
	if e.CreatedAt.IsZero() {
		t.Fatalf("created_at should be parsed")
	}
}

func TestFiltersAndStats(t *testing.T) {
	ctx := context.Background()
	s, _ := NewStream(kv.NewMemory(), config.ImportLogConfig{})
	seed(t, s,
		Event{Type: enums.ImportLogTypeRunStarted},
		Event{Type: enums.ImportLogTypeBookFailed, Status: enums.ImportLogStatusError, Message: "b1"},
		Event{Type: enums.ImportLogTypePage, Status: enums.ImportLogStatusSuccess},
		Event{Type: enums.ImportLogTypeBookFailed, Status: enums.ImportLogStatusError, Message: "b2"},
		Event{Type: enums.ImportLogTypeRunCompleted, Status: enums.ImportLogStatusSuccess},
	)

	failed, _ := s.ByType(ctx, enums.ImportLogTypeBookFailed, 10)
	if len(failed) != 2 || failed[0].Message != "b2" {
		t.Fatalf("expected newest failure first, got %+v", failed)
	}
	limited, _ := s.ByStatus(ctx, enums.ImportLogStatusSuccess, 1)
	if len(limited) != 1 || limited[0].Type != enums.ImportLogTypeRunCompleted {
		t.Fatalf("unexpected status filter %+v", limited)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 5 || stats.ByType["book_failed"] != 2 || stats.ByStatus["info"] != 1 || stats.ByStatus["success"] != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestStreamIsBounded(t *testing.T) {
	ctx := context.Background()
	s, _ := NewStream(kv.NewMemory(), config.ImportLogConfig{MaxLen: 3})
	for i := 0; i < 10; i++ {
		seed(t, s, Event{Type: enums.ImportLogTypePage})
	}
	stats, _ := s.Stats(ctx)
	if stats.Total != 3 {
		t.Fatalf("expected bounded stream of 3, got %d", stats.Total)
	}
}

func TestAppendRejectsUnknownType(t *testing.T) {
	s, _ := NewStream(kv.NewMemory(), config.ImportLogConfig{})
	_, err := s.Append(context.Background(), Event{Type: "bogus"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
