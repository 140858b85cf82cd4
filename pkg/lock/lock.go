package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/bookstore-backend/pkg/kv"
	"github.com/google/uuid"
)

const (
	keyPrefix  = "lock"
	defaultTTL = 25 * time.Hour
)

// Lock coordinates exclusive runs across processes.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Lease is a Lock whose holder can push its expiry forward while the
// guarded work is still running.
type Lease interface {
	Lock
	Extend(ctx context.Context) (bool, error)
	TTL() time.Duration
}

// store defines the operations used by Named.
type store interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Named is a mutual-exclusion lock backed by SETNX + TTL on a single key.
// Release only deletes the key while this instance still owns it.
type Named struct {
	client store
	key    string
	ttl    time.Duration
	owner  string
}

// New constructs a lock on lock:<name>.
func New(client store, name string, ttl time.Duration) (*Named, error) {
	if client == nil {
		return nil, errors.New("kv store required for lock")
	}
	if name == "" {
		return nil, errors.New("lock name is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Named{client: client, key: KeyFor(name), ttl: ttl}, nil
}

// KeyFor returns the storage key guarding the named lock.
func KeyFor(name string) string {
	return kv.Key(keyPrefix, name)
}

// Key returns the storage key guarding this lock.
func (l *Named) Key() string {
	return l.key
}

// Acquire tries to own the lock for the configured TTL.
func (l *Named) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// TTL is the lease length applied by Acquire and Extend.
func (l *Named) TTL() time.Duration {
	return l.ttl
}

// Extend resets the expiry to a full TTL while this instance still owns the
// key. It reports false once ownership was lost to expiry or another owner.
func (l *Named) Extend(ctx context.Context) (bool, error) {
	if l.owner == "" {
		return false, nil
	}
	value, err := l.client.Get(ctx, l.key)
	if errors.Is(err, kv.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read lock owner: %w", err)
	}
	if value != l.owner {
		return false, nil
	}
	if err := l.client.Expire(ctx, l.key, l.ttl); err != nil {
		return false, fmt.Errorf("extend lock: %w", err)
	}
	return true, nil
}

// Release frees the lock only if the owner value still matches.
func (l *Named) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	value, err := l.client.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, kv.ErrNil) {
			l.owner = ""
			return nil
		}
		return fmt.Errorf("read lock owner: %w", err)
	}
	if value != l.owner {
		l.owner = ""
		return nil
	}
	if err := l.client.Del(ctx, l.key); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	l.owner = ""
	return nil
}
