package kv

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNil is returned when a string key does not exist.
	ErrNil = errors.New("kv: nil")
	// ErrWrongType is returned when a command targets a key holding another data type.
	ErrWrongType = errors.New("kv: operation against a key holding the wrong kind of value")
)

// StreamEntry is a single append-only log record.
type StreamEntry struct {
	ID     string
	Fields map[string]string
}

// Store is the key-value surface shared by every stateful service. Each
// service owns a key prefix and holds a Store handle; nothing else is shared.
type Store interface {
	Ping(ctx context.Context) error

	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	HSet(ctx context.Context, key string, fields map[string]string) error
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HExists(ctx context.Context, key, field string) (bool, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZAddCapped inserts member and atomically evicts the lowest ranked
	// members beyond max, returning what was evicted.
	ZAddCapped(ctx context.Context, key string, score float64, member string, max int64) ([]string, error)
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) error
	ZCard(ctx context.Context, key string) (int64, error)

	// LPushTrim prepends value and trims the list to maxLen in one atomic step.
	LPushTrim(ctx context.Context, key, value string, maxLen int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LRem(ctx context.Context, key string, count int64, value string) error
	LLen(ctx context.Context, key string) (int64, error)

	// XAdd appends to a stream trimmed to roughly maxLen entries.
	XAdd(ctx context.Context, stream string, maxLen int64, fields map[string]string) (string, error)
	// XRevRange returns up to count entries newest first; count <= 0 returns all.
	XRevRange(ctx context.Context, stream string, count int64) ([]StreamEntry, error)
	XLen(ctx context.Context, stream string) (int64, error)
}

// Key joins non-empty parts with ':'.
func Key(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		clean = append(clean, part)
	}
	return strings.Join(clean, ":")
}
