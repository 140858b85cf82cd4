package importlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/bookstore-backend/pkg/config"
	"github.com/angelmondragon/bookstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
	"github.com/angelmondragon/bookstore-backend/pkg/types"
)

const (
	defaultStreamKey = "import:logs"
	defaultMaxLen    = 10000
	defaultCount     = 50

	fieldType      = "type"
	fieldStatus    = "status"
	fieldMessage   = "message"
	fieldRunID     = "run_id"
	fieldCreatedAt = "created_at"
	metaPrefix     = "meta."
)

// Event is what producers append.
type Event struct {
	Type     enums.ImportLogType
	Status   enums.ImportLogStatus
	Message  string
	RunID    string
	Metadata types.Metadata
}

// Entry is a decoded stream record.
type Entry struct {
	ID        string                `json:"id"`
	Type      enums.ImportLogType   `json:"type"`
	Status    enums.ImportLogStatus `json:"status"`
	Message   string                `json:"message"`
	RunID     string                `json:"run_id,omitempty"`
	Metadata  map[string]string     `json:"metadata,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// Stats aggregates the whole stream.
type Stats struct {
	Total    int64            `json:"total"`
	ByType   map[string]int64 `json:"by_type"`
	ByStatus map[string]int64 `json:"by_status"`
}

// Stream is an append-only, length-bounded log of import events. Type and
// status filters scan the full stream; nothing is indexed.
type Stream interface {
	Append(ctx context.Context, event Event) (string, error)
	Recent(ctx context.Context, count int) ([]Entry, error)
	ByType(ctx context.Context, logType enums.ImportLogType, count int) ([]Entry, error)
	ByStatus(ctx context.Context, status enums.ImportLogStatus, count int) ([]Entry, error)
	Stats(ctx context.Context) (Stats, error)
}

type stream struct {
	store          kv.Store
	key            string
	maxLen         int64
	maxFieldLength int
	now            func() time.Time
}

// NewStream builds the import log stream.
func NewStream(store kv.Store, cfg config.ImportLogConfig) (Stream, error) {
	if store == nil {
		return nil, fmt.Errorf("kv store required")
	}
	s := &stream{
		store:          store,
		key:            strings.TrimSpace(cfg.StreamKey),
		maxLen:         cfg.MaxLen,
		maxFieldLength: cfg.MaxFieldLength,
		now:            time.Now,
	}
	if s.key == "" {
		s.key = defaultStreamKey
	}
	if s.maxLen <= 0 {
		s.maxLen = defaultMaxLen
	}
	if s.maxFieldLength <= 0 {
		s.maxFieldLength = types.DefaultMetadataValueLength
	}
	return s, nil
}

// Append normalizes metadata to strings and writes one entry.
func (s *stream) Append(ctx context.Context, event Event) (string, error) {
	if !event.Type.IsValid() {
		return "", pkgerrors.Newf(pkgerrors.CodeValidation, "unknown log type %q", event.Type)
	}
	status := event.Status
	if status == "" {
		status = enums.ImportLogStatusInfo
	}
	if !status.IsValid() {
		return "", pkgerrors.Newf(pkgerrors.CodeValidation, "unknown log status %q", status)
	}

	fields := map[string]string{
		fieldType:      event.Type.String(),
		fieldStatus:    status.String(),
		fieldMessage:   types.Truncate(event.Message, s.maxFieldLength),
		fieldCreatedAt: s.now().UTC().Format(time.RFC3339Nano),
	}
	if event.RunID != "" {
		fields[fieldRunID] = event.RunID
	}
	for k, v := range event.Metadata.Normalize(s.maxFieldLength) {
		fields[metaPrefix+k] = v
	}

	id, err := s.store.XAdd(ctx, s.key, s.maxLen, fields)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append import log")
	}
	return id, nil
}

func (s *stream) Recent(ctx context.Context, count int) ([]Entry, error) {
	if count <= 0 {
		count = defaultCount
	}
	raw, err := s.store.XRevRange(ctx, s.key, int64(count))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read import log")
	}
	out := make([]Entry, 0, len(raw))
	for _, r := range raw {
		out = append(out, decode(r))
	}
	return out, nil
}

func (s *stream) ByType(ctx context.Context, logType enums.ImportLogType, count int) ([]Entry, error) {
	return s.filter(ctx, count, func(e Entry) bool { return e.Type == logType })
}

func (s *stream) ByStatus(ctx context.Context, status enums.ImportLogStatus, count int) ([]Entry, error) {
	return s.filter(ctx, count, func(e Entry) bool { return e.Status == status })
}

func (s *stream) Stats(ctx context.Context) (Stats, error) {
	raw, err := s.store.XRevRange(ctx, s.key, 0)
	if err != nil {
		return Stats{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan import log")
	}
	stats := Stats{ByType: map[string]int64{}, ByStatus: map[string]int64{}}
	for _, r := range raw {
		e := decode(r)
		stats.Total++
		stats.ByType[e.Type.String()]++
		stats.ByStatus[e.Status.String()]++
	}
	return stats, nil
}

func (s *stream) filter(ctx context.Context, count int, keep func(Entry) bool) ([]Entry, error) {
	if count <= 0 {
		count = defaultCount
	}
	raw, err := s.store.XRevRange(ctx, s.key, 0)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan import log")
	}
	out := make([]Entry, 0, count)
	for _, r := range raw {
		e := decode(r)
		if !keep(e) {
			continue
		}
		out = append(out, e)
		if len(out) == count {
			break
		}
	}
	return out, nil
}

func decode(raw kv.StreamEntry) Entry {
	e := Entry{
		ID:      raw.ID,
		Type:    enums.ImportLogType(raw.Fields[fieldType]),
		Status:  enums.ImportLogStatus(raw.Fields[fieldStatus]),
		Message: raw.Fields[fieldMessage],
		RunID:   raw.Fields[fieldRunID],
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw.Fields[fieldCreatedAt]); err == nil {
		e.CreatedAt = ts
	}
	for k, v := range raw.Fields {
		if name, ok := strings.CutPrefix(k, metaPrefix); ok {
			if e.Metadata == nil {
				e.Metadata = make(map[string]string)
			}
			e.Metadata[name] = v
		}
	}
	return e
}
