package kv

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type kind uint8

const (
	kindString kind = iota + 1
	kindHash
	kindSet
	kindZSet
	kindList
	kindStream
)

// entry is immutable once stored; every mutation builds a fresh copy inside
// Compute so readers that loaded an older entry never observe partial writes.
type entry struct {
	kind     kind
	str      string
	hash     map[string]string
	set      map[string]struct{}
	zset     map[string]float64
	list     []string
	stream   []StreamEntry
	lastMs   int64
	lastSeq  int64
	expireAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// Memory is an in-process Store used by tests and single-node development
// setups.
type Memory struct {
	data *xsync.MapOf[string, *entry]
	now  func() time.Time
}

// MemoryOption customizes a Memory store.
type MemoryOption func(*Memory)

// WithClock overrides the clock used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		data: xsync.NewMapOf[string, *entry](),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) load(key string, want kind) (*entry, error) {
	e, ok := m.data.Load(key)
	if !ok || e.expired(m.now()) {
		return nil, nil
	}
	if e.kind != want {
		return nil, ErrWrongType
	}
	return e, nil
}

// mutate runs fn against the live entry for key. fn returns the replacement
// entry, or nil to delete the key.
func (m *Memory) mutate(key string, want kind, fn func(cur *entry) (*entry, error)) error {
	var fnErr error
	now := m.now()
	m.data.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		if loaded && old.expired(now) {
			old, loaded = nil, false
		}
		if loaded && want != 0 && old.kind != want {
			fnErr = ErrWrongType
			return old, false
		}
		next, err := fn(old)
		if err != nil {
			fnErr = err
			if old == nil {
				return nil, true
			}
			return old, false
		}
		if next == nil {
			return nil, true
		}
		return next, false
	})
	return fnErr
}

func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func keepExpiry(cur *entry) time.Time {
	if cur == nil {
		return time.Time{}
	}
	return cur.expireAt
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	e, err := m.load(key, kindString)
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", ErrNil
	}
	return e.str, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	now := m.now()
	return m.mutate(key, 0, func(*entry) (*entry, error) {
		return &entry{kind: kindString, str: value, expireAt: expiryFor(now, ttl)}, nil
	})
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := m.now()
	set := false
	err := m.mutate(key, 0, func(cur *entry) (*entry, error) {
		if cur != nil {
			return cur, nil
		}
		set = true
		return &entry{kind: kindString, str: value, expireAt: expiryFor(now, ttl)}, nil
	})
	return set, err
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.data.Delete(key)
	}
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	e, ok := m.data.Load(key)
	return ok && !e.expired(m.now()), nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	now := m.now()
	return m.mutate(key, 0, func(cur *entry) (*entry, error) {
		if cur == nil {
			return nil, nil
		}
		if ttl <= 0 {
			return nil, nil
		}
		next := *cur
		next.expireAt = now.Add(ttl)
		return &next, nil
	})
}

func (m *Memory) HSet(_ context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return m.mutate(key, kindHash, func(cur *entry) (*entry, error) {
		next := &entry{kind: kindHash, hash: make(map[string]string), expireAt: keepExpiry(cur)}
		if cur != nil {
			for k, v := range cur.hash {
				next.hash[k] = v
			}
		}
		for k, v := range fields {
			next.hash[k] = v
		}
		return next, nil
	})
}

func (m *Memory) HDel(_ context.Context, key string, fields ...string) error {
	return m.mutate(key, kindHash, func(cur *entry) (*entry, error) {
		if cur == nil {
			return nil, nil
		}
		next := &entry{kind: kindHash, hash: make(map[string]string, len(cur.hash)), expireAt: cur.expireAt}
		for k, v := range cur.hash {
			next.hash[k] = v
		}
		for _, f := range fields {
			delete(next.hash, f)
		}
		if len(next.hash) == 0 {
			return nil, nil
		}
		return next, nil
	})
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	e, err := m.load(key, kindHash)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if e == nil {
		return out, nil
	}
	for k, v := range e.hash {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) HExists(_ context.Context, key, field string) (bool, error) {
	e, err := m.load(key, kindHash)
	if err != nil || e == nil {
		return false, err
	}
	_, ok := e.hash[field]
	return ok, nil
}

func (m *Memory) SAdd(_ context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return m.mutate(key, kindSet, func(cur *entry) (*entry, error) {
		next := &entry{kind: kindSet, set: make(map[string]struct{}), expireAt: keepExpiry(cur)}
		if cur != nil {
			for k := range cur.set {
				next.set[k] = struct{}{}
			}
		}
		for _, member := range members {
			next.set[member] = struct{}{}
		}
		return next, nil
	})
}

func (m *Memory) SRem(_ context.Context, key string, members ...string) error {
	return m.mutate(key, kindSet, func(cur *entry) (*entry, error) {
		if cur == nil {
			return nil, nil
		}
		next := &entry{kind: kindSet, set: make(map[string]struct{}, len(cur.set)), expireAt: cur.expireAt}
		for k := range cur.set {
			next.set[k] = struct{}{}
		}
		for _, member := range members {
			delete(next.set, member)
		}
		if len(next.set) == 0 {
			return nil, nil
		}
		return next, nil
	})
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	e, err := m.load(key, kindSet)
	if err != nil || e == nil {
		return []string{}, err
	}
	out := make([]string, 0, len(e.set))
	for k := range e.set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) SIsMember(_ context.Context, key, member string) (bool, error) {
	e, err := m.load(key, kindSet)
	if err != nil || e == nil {
		return false, err
	}
	_, ok := e.set[member]
	return ok, nil
}

func (m *Memory) SCard(_ context.Context, key string) (int64, error) {
	e, err := m.load(key, kindSet)
	if err != nil || e == nil {
		return 0, err
	}
	return int64(len(e.set)), nil
}

func (m *Memory) ZAdd(ctx context.Context, key string, score float64, member string) error {
	_, err := m.ZAddCapped(ctx, key, score, member, 0)
	return err
}

func (m *Memory) ZAddCapped(_ context.Context, key string, score float64, member string, max int64) ([]string, error) {
	var evicted []string
	err := m.mutate(key, kindZSet, func(cur *entry) (*entry, error) {
		next := &entry{kind: kindZSet, zset: make(map[string]float64), expireAt: keepExpiry(cur)}
		if cur != nil {
			for k, v := range cur.zset {
				next.zset[k] = v
			}
		}
		next.zset[member] = score
		if max > 0 && int64(len(next.zset)) > max {
			ordered := sortedZ(next.zset, false)
			for _, victim := range ordered[:int64(len(ordered))-max] {
				delete(next.zset, victim)
				evicted = append(evicted, victim)
			}
		}
		return next, nil
	})
	return evicted, err
}

func (m *Memory) ZRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	return m.zrange(key, start, stop, false)
}

func (m *Memory) ZRevRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	return m.zrange(key, start, stop, true)
}

func (m *Memory) zrange(key string, start, stop int64, reverse bool) ([]string, error) {
	e, err := m.load(key, kindZSet)
	if err != nil || e == nil {
		return []string{}, err
	}
	ordered := sortedZ(e.zset, reverse)
	lo, hi, ok := bounds(start, stop, int64(len(ordered)))
	if !ok {
		return []string{}, nil
	}
	return append([]string{}, ordered[lo:hi+1]...), nil
}

func (m *Memory) ZRangeByScore(_ context.Context, key string, min, max float64, limit int64) ([]string, error) {
	e, err := m.load(key, kindZSet)
	if err != nil || e == nil {
		return []string{}, err
	}
	out := []string{}
	for _, member := range sortedZ(e.zset, false) {
		score := e.zset[member]
		if score < min || score > max {
			continue
		}
		out = append(out, member)
		if limit > 0 && int64(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ZRem(_ context.Context, key string, members ...string) error {
	return m.mutate(key, kindZSet, func(cur *entry) (*entry, error) {
		if cur == nil {
			return nil, nil
		}
		next := &entry{kind: kindZSet, zset: make(map[string]float64, len(cur.zset)), expireAt: cur.expireAt}
		for k, v := range cur.zset {
			next.zset[k] = v
		}
		for _, member := range members {
			delete(next.zset, member)
		}
		if len(next.zset) == 0 {
			return nil, nil
		}
		return next, nil
	})
}

func (m *Memory) ZCard(_ context.Context, key string) (int64, error) {
	e, err := m.load(key, kindZSet)
	if err != nil || e == nil {
		return 0, err
	}
	return int64(len(e.zset)), nil
}

func (m *Memory) LPushTrim(_ context.Context, key, value string, maxLen int64) error {
	return m.mutate(key, kindList, func(cur *entry) (*entry, error) {
		var existing []string
		if cur != nil {
			existing = cur.list
		}
		list := make([]string, 0, len(existing)+1)
		list = append(list, value)
		list = append(list, existing...)
		if maxLen > 0 && int64(len(list)) > maxLen {
			list = list[:maxLen]
		}
		return &entry{kind: kindList, list: list, expireAt: keepExpiry(cur)}, nil
	})
}

func (m *Memory) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	e, err := m.load(key, kindList)
	if err != nil || e == nil {
		return []string{}, err
	}
	lo, hi, ok := bounds(start, stop, int64(len(e.list)))
	if !ok {
		return []string{}, nil
	}
	return append([]string{}, e.list[lo:hi+1]...), nil
}

func (m *Memory) LRem(_ context.Context, key string, count int64, value string) error {
	return m.mutate(key, kindList, func(cur *entry) (*entry, error) {
		if cur == nil {
			return nil, nil
		}
		list := append([]string{}, cur.list...)
		limit := count
		if limit < 0 {
			limit = -limit
		}
		removed := int64(0)
		if count >= 0 {
			kept := list[:0]
			for _, item := range list {
				if item == value && (limit == 0 || removed < limit) {
					removed++
					continue
				}
				kept = append(kept, item)
			}
			list = kept
		} else {
			for i := len(list) - 1; i >= 0 && removed < limit; i-- {
				if list[i] == value {
					list = append(list[:i], list[i+1:]...)
					removed++
				}
			}
		}
		if len(list) == 0 {
			return nil, nil
		}
		return &entry{kind: kindList, list: list, expireAt: cur.expireAt}, nil
	})
}

func (m *Memory) LLen(_ context.Context, key string) (int64, error) {
	e, err := m.load(key, kindList)
	if err != nil || e == nil {
		return 0, err
	}
	return int64(len(e.list)), nil
}

func (m *Memory) XAdd(_ context.Context, stream string, maxLen int64, fields map[string]string) (string, error) {
	now := m.now()
	var id string
	err := m.mutate(stream, kindStream, func(cur *entry) (*entry, error) {
		next := &entry{kind: kindStream, expireAt: keepExpiry(cur)}
		if cur != nil {
			next.stream = append(next.stream, cur.stream...)
			next.lastMs, next.lastSeq = cur.lastMs, cur.lastSeq
		}
		ms := now.UnixMilli()
		if ms <= next.lastMs {
			ms = next.lastMs
			next.lastSeq++
		} else {
			next.lastSeq = 0
		}
		next.lastMs = ms
		id = strconv.FormatInt(ms, 10) + "-" + strconv.FormatInt(next.lastSeq, 10)

		copied := make(map[string]string, len(fields))
		for k, v := range fields {
			copied[k] = v
		}
		next.stream = append(next.stream, StreamEntry{ID: id, Fields: copied})
		if maxLen > 0 && int64(len(next.stream)) > maxLen {
			next.stream = next.stream[int64(len(next.stream))-maxLen:]
		}
		return next, nil
	})
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

func (m *Memory) XRevRange(_ context.Context, stream string, count int64) ([]StreamEntry, error) {
	e, err := m.load(stream, kindStream)
	if err != nil || e == nil {
		return []StreamEntry{}, err
	}
	n := int64(len(e.stream))
	if count <= 0 || count > n {
		count = n
	}
	out := make([]StreamEntry, 0, count)
	for i := n - 1; i >= n-count; i-- {
		out = append(out, e.stream[i])
	}
	return out, nil
}

func (m *Memory) XLen(_ context.Context, stream string) (int64, error) {
	e, err := m.load(stream, kindStream)
	if err != nil || e == nil {
		return 0, err
	}
	return int64(len(e.stream)), nil
}

// sortedZ orders members by score, breaking ties lexicographically.
func sortedZ(z map[string]float64, reverse bool) []string {
	out := make([]string, 0, len(z))
	for k := range z {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if z[a] != z[b] {
			if reverse {
				return z[a] > z[b]
			}
			return z[a] < z[b]
		}
		if reverse {
			return a > b
		}
		return a < b
	})
	return out
}

// bounds resolves inclusive range indexes the way range commands do,
// including negative offsets from the tail.
func bounds(start, stop, n int64) (int64, int64, bool) {
	if n == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}
