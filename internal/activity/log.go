package activity

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

const defaultMaxEntries = 1000

// Record is one stored activity entry.
type Record struct {
	ID          uuid.UUID         `json:"id"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	IP          string            `json:"ip,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Entry is the caller-facing input for Log.
type Entry struct {
	Type        string
	Description string
	Metadata    types.Metadata
	IP          string
	UserAgent   string
}

// Log keeps a newest-first list per user capped at MaxEntries. The
// append and the trim happen in one atomic step.
type Log interface {
	Log(ctx context.Context, userID uuid.UUID, entry Entry) (*Record, error)
	List(ctx context.Context, userID uuid.UUID, offset, limit int) ([]Record, error)
	DeleteByID(ctx context.Context, userID, recordID uuid.UUID) (bool, error)
	Count(ctx context.Context, userID uuid.UUID) (int64, error)
	Clear(ctx context.Context, userID uuid.UUID) error
}

type activityLog struct {
	store      kv.Store
	maxEntries int64
	now        func() time.Time
}

// NewLog builds an activity log over the key-value store.
func NewLog(store kv.Store, cfg config.ActivityConfig) (Log, error) {
	if store == nil {
		return nil, fmt.Errorf("kv store required")
	}
	max := cfg.MaxEntries
	if max <= 0 {
		max = defaultMaxEntries
	}
	return &activityLog{store: store, maxEntries: max, now: time.Now}, nil
}

func listKey(userID uuid.UUID) string {
	return kv.Key("activity", userID.String())
}

func (l *activityLog) Log(ctx context.Context, userID uuid.UUID, entry Entry) (*Record, error) {
	kind := strings.TrimSpace(entry.Type)
	if kind == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "activity type is required")
	}
	record := Record{
		ID:          uuid.New(),
		Type:        kind,
		Description: entry.Description,
		Metadata:    entry.Metadata.Normalize(types.DefaultMetadataValueLength),
		IP:          entry.IP,
		UserAgent:   entry.UserAgent,
		CreatedAt:   l.now().UTC(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode activity")
	}
	if err := l.store.LPushTrim(ctx, listKey(userID), string(raw), l.maxEntries); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append activity")
	}
	return &record, nil
}

// List returns a newest-first page. Entries that fail to decode are skipped.
func (l *activityLog) List(ctx context.Context, userID uuid.UUID, offset, limit int) ([]Record, error) {
	start, stop := pagination.NewWindow(offset, limit).Range()
	raw, err := l.store.LRange(ctx, listKey(userID), start, stop)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list activity")
	}
	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteByID scans the whole list for the record; entries are opaque blobs
// so there is no index by id.
func (l *activityLog) DeleteByID(ctx context.Context, userID, recordID uuid.UUID) (bool, error) {
	key := listKey(userID)
	raw, err := l.store.LRange(ctx, key, 0, -1)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan activity")
	}
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil || rec.ID != recordID {
			continue
		}
		if err := l.store.LRem(ctx, key, 1, item); err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete activity")
		}
		return true, nil
	}
	return false, nil
}

func (l *activityLog) Count(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := l.store.LLen(ctx, listKey(userID))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count activity")
	}
	return n, nil
}

func (l *activityLog) Clear(ctx context.Context, userID uuid.UUID) error {
	if err := l.store.Del(ctx, listKey(userID)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear activity")
	}
	return nil
}
