package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookstore-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
	"github.com/angelmondragon/bookstore-backend/pkg/pagination"
	"github.com/angelmondragon/bookstore-backend/pkg/types"
)

const defaultMaxEntries = 100

// Record is one stored notification. Read is filled from the read set
// when listing.
type Record struct {
	ID        uuid.UUID         `json:"id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Read      bool              `json:"read"`
}

// Input is the caller-facing payload for Add.
type Input struct {
	Type    string
	Title   string
	Message string
	Data    types.Metadata
}

// Store keeps a per-user sorted set of notifications scored by creation
// time, capped with oldest-first eviction, plus a set of read ids.
type Store interface {
	Add(ctx context.Context, userID uuid.UUID, in Input) (*Record, error)
	List(ctx context.Context, userID uuid.UUID, offset, limit int) ([]Record, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) error
	UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	Clear(ctx context.Context, userID uuid.UUID) error
}

type store struct {
	kv         kv.Store
	maxEntries int64
	now        func() time.Time
}

// NewStore builds the notification store over the key-value store.
func NewStore(kvStore kv.Store, cfg config.NotificationsConfig) (Store, error) {
	if kvStore == nil {
		return nil, fmt.Errorf("kv store required")
	}
	max := cfg.MaxEntries
	if max <= 0 {
		max = defaultMaxEntries
	}
	return &store{kv: kvStore, maxEntries: max, now: time.Now}, nil
}

func listKey(userID uuid.UUID) string {
	return kv.Key("notifications", userID.String())
}

func readKey(userID uuid.UUID) string {
	return kv.Key("notifications", userID.String(), "read")
}

// Add inserts the notification and evicts the oldest entries past the cap
// in the same step. Read markers of evicted entries are dropped.
func (s *store) Add(ctx context.Context, userID uuid.UUID, in Input) (*Record, error) {
	if strings.TrimSpace(in.Type) == "" || strings.TrimSpace(in.Title) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notification type and title are required")
	}
	rec := Record{
		ID:        uuid.New(),
		Type:      strings.TrimSpace(in.Type),
		Title:     in.Title,
		Message:   in.Message,
		Data:      in.Data.Normalize(types.DefaultMetadataValueLength),
		CreatedAt: s.now().UTC(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode notification")
	}
	evicted, err := s.kv.ZAddCapped(ctx, listKey(userID), float64(rec.CreatedAt.UnixMilli()), string(raw), s.maxEntries)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "add notification")
	}
	if len(evicted) > 0 {
		ids := make([]string, 0, len(evicted))
		for _, member := range evicted {
			if old, ok := decode(member); ok {
				ids = append(ids, old.ID.String())
			}
		}
		if len(ids) > 0 {
			if err := s.kv.SRem(ctx, readKey(userID), ids...); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "drop evicted read markers")
			}
		}
	}
	return &rec, nil
}

// List returns a newest-first page with the read flag filled in.
func (s *store) List(ctx context.Context, userID uuid.UUID, offset, limit int) ([]Record, error) {
	start, stop := pagination.NewWindow(offset, limit).Range()
	members, err := s.kv.ZRevRange(ctx, listKey(userID), start, stop)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}
	read, err := s.kv.SMembers(ctx, readKey(userID))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list read markers")
	}
	readSet := make(map[string]struct{}, len(read))
	for _, id := range read {
		readSet[id] = struct{}{}
	}
	out := make([]Record, 0, len(members))
	for _, member := range members {
		rec, ok := decode(member)
		if !ok {
			continue
		}
		_, rec.Read = readSet[rec.ID.String()]
		out = append(out, rec)
	}
	return out, nil
}

func (s *store) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	if _, _, err := s.find(ctx, userID, id); err != nil {
		return err
	}
	if err := s.kv.SAdd(ctx, readKey(userID), id.String()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	return nil
}

func (s *store) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	all, err := s.all(ctx, userID)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return nil
	}
	ids := make([]string, 0, len(all))
	for _, rec := range all {
		ids = append(ids, rec.ID.String())
	}
	if err := s.kv.SAdd(ctx, readKey(userID), ids...); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return nil
}

// UnreadCount relies on the read set only holding ids that are still
// stored, which Add and Delete maintain.
func (s *store) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	total, err := s.kv.ZCard(ctx, listKey(userID))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count notifications")
	}
	read, err := s.kv.SCard(ctx, readKey(userID))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count read markers")
	}
	if read > total {
		return 0, nil
	}
	return total - read, nil
}

// Delete removes the notification and its read marker.
func (s *store) Delete(ctx context.Context, userID, id uuid.UUID) error {
	member, _, err := s.find(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.kv.ZRem(ctx, listKey(userID), member); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete notification")
	}
	if err := s.kv.SRem(ctx, readKey(userID), id.String()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete read marker")
	}
	return nil
}

func (s *store) Clear(ctx context.Context, userID uuid.UUID) error {
	if err := s.kv.Del(ctx, listKey(userID), readKey(userID)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear notifications")
	}
	return nil
}

// find scans the whole set; members are opaque blobs with no id index.
func (s *store) find(ctx context.Context, userID, id uuid.UUID) (string, Record, error) {
	members, err := s.kv.ZRange(ctx, listKey(userID), 0, -1)
	if err != nil {
		return "", Record{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan notifications")
	}
	for _, member := range members {
		if rec, ok := decode(member); ok && rec.ID == id {
			return member, rec, nil
		}
	}
	return "", Record{}, pkgerrors.New(pkgerrors.CodeNotFound, "notification not found").
		WithDetails(map[string]any{"notification_id": id.String()})
}

func (s *store) all(ctx context.Context, userID uuid.UUID) ([]Record, error) {
	members, err := s.kv.ZRange(ctx, listKey(userID), 0, -1)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan notifications")
	}
	out := make([]Record, 0, len(members))
	for _, member := range members {
		if rec, ok := decode(member); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func decode(member string) (Record, bool) {
	var rec Record
	if err := json.Unmarshal([]byte(member), &rec); err != nil {
		return Record{}, false
	}
	return rec, true
}
