package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/bookstore-backend/pkg/config"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

var errNotInitialized = errors.New("redis client not initialized")

// Client adapts a go-redis connection to kv.Store, prefixing every key with
// the configured namespace.
type Client struct {
	store     redis.Cmdable
	raw       *redis.Client
	namespace string
}

var _ kv.Store = (*Client)(nil)

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// New bootstraps a Redis client with pooling/timeouts and verifies connectivity.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logg != nil {
		logg.Info(ctx, "redis connection established")
	}
	return &Client{store: raw, raw: raw, namespace: cfg.Namespace}, nil
}

func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	if cfg.URL == "" && cfg.Address == "" {
		return nil, errors.New("redis url or address is required")
	}
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	if opts.DB == 0 {
		opts.DB = cfg.DB
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

func mapErr(err error) error {
	if errors.Is(err, redis.Nil) {
		return kv.ErrNil
	}
	return err
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.store == nil {
		return "", errNotInitialized
	}
	v, err := c.store.Get(ctx, c.buildKey(key)).Result()
	return v, mapErr(err)
}

func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Set(ctx, c.buildKey(key), value, ttl).Err()
}

// SetNX sets a value only if the key does not exist yet.
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if c.store == nil {
		return false, errNotInitialized
	}
	return c.store.SetNX(ctx, c.buildKey(key), value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c.store == nil {
		return errNotInitialized
	}
	if len(keys) == 0 {
		return nil
	}
	return c.store.Del(ctx, c.buildKeys(keys)...).Err()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if c.store == nil {
		return false, errNotInitialized
	}
	n, err := c.store.Exists(ctx, c.buildKey(key)).Result()
	return n > 0, err
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Expire(ctx, c.buildKey(key), ttl).Err()
}

func (c *Client) HSet(ctx context.Context, key string, fields map[string]string) error {
	if c.store == nil {
		return errNotInitialized
	}
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return c.store.HSet(ctx, c.buildKey(key), args...).Err()
}

func (c *Client) HDel(ctx context.Context, key string, fields ...string) error {
	if c.store == nil {
		return errNotInitialized
	}
	if len(fields) == 0 {
		return nil
	}
	return c.store.HDel(ctx, c.buildKey(key), fields...).Err()
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if c.store == nil {
		return nil, errNotInitialized
	}
	return c.store.HGetAll(ctx, c.buildKey(key)).Result()
}

func (c *Client) HExists(ctx context.Context, key, field string) (bool, error) {
	if c.store == nil {
		return false, errNotInitialized
	}
	return c.store.HExists(ctx, c.buildKey(key), field).Result()
}

func (c *Client) SAdd(ctx context.Context, key string, members ...string) error {
	if c.store == nil {
		return errNotInitialized
	}
	if len(members) == 0 {
		return nil
	}
	return c.store.SAdd(ctx, c.buildKey(key), toAny(members)...).Err()
}

func (c *Client) SRem(ctx context.Context, key string, members ...string) error {
	if c.store == nil {
		return errNotInitialized
	}
	if len(members) == 0 {
		return nil
	}
	return c.store.SRem(ctx, c.buildKey(key), toAny(members)...).Err()
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	if c.store == nil {
		return nil, errNotInitialized
	}
	return c.store.SMembers(ctx, c.buildKey(key)).Result()
}

func (c *Client) SIsMember(ctx context.Context, key, member string) (bool, error) {
	if c.store == nil {
		return false, errNotInitialized
	}
	return c.store.SIsMember(ctx, c.buildKey(key), member).Result()
}

func (c *Client) SCard(ctx context.Context, key string) (int64, error) {
	if c.store == nil {
		return 0, errNotInitialized
	}
	return c.store.SCard(ctx, c.buildKey(key)).Result()
}

func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.ZAdd(ctx, c.buildKey(key), redis.Z{Score: score, Member: member}).Err()
}

// ZAddCapped runs ZADD, the eviction read and ZREMRANGEBYRANK inside one
// MULTI/EXEC so the cap holds under concurrent writers.
func (c *Client) ZAddCapped(ctx context.Context, key string, score float64, member string, max int64) ([]string, error) {
	if c.store == nil {
		return nil, errNotInitialized
	}
	k := c.buildKey(key)
	var victims *redis.StringSliceCmd
	_, err := c.store.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, k, redis.Z{Score: score, Member: member})
		if max > 0 {
			victims = p.ZRange(ctx, k, 0, -(max + 1))
			p.ZRemRangeByRank(ctx, k, 0, -(max + 1))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if victims == nil {
		return nil, nil
	}
	return victims.Val(), nil
}

func (c *Client) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if c.store == nil {
		return nil, errNotInitialized
	}
	return c.store.ZRange(ctx, c.buildKey(key), start, stop).Result()
}

func (c *Client) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if c.store == nil {
		return nil, errNotInitialized
	}
	return c.store.ZRevRange(ctx, c.buildKey(key), start, stop).Result()
}

func (c *Client) ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error) {
	if c.store == nil {
		return nil, errNotInitialized
	}
	return c.store.ZRangeByScore(ctx, c.buildKey(key), &redis.ZRangeBy{
		Min:   formatScore(min),
		Max:   formatScore(max),
		Count: limit,
	}).Result()
}

func (c *Client) ZRem(ctx context.Context, key string, members ...string) error {
	if c.store == nil {
		return errNotInitialized
	}
	if len(members) == 0 {
		return nil
	}
	return c.store.ZRem(ctx, c.buildKey(key), toAny(members)...).Err()
}

func (c *Client) ZCard(ctx context.Context, key string) (int64, error) {
	if c.store == nil {
		return 0, errNotInitialized
	}
	return c.store.ZCard(ctx, c.buildKey(key)).Result()
}

func (c *Client) LPushTrim(ctx context.Context, key, value string, maxLen int64) error {
	if c.store == nil {
		return errNotInitialized
	}
	k := c.buildKey(key)
	_, err := c.store.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, k, value)
		if maxLen > 0 {
			p.LTrim(ctx, k, 0, maxLen-1)
		}
		return nil
	})
	return err
}

func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if c.store == nil {
		return nil, errNotInitialized
	}
	return c.store.LRange(ctx, c.buildKey(key), start, stop).Result()
}

func (c *Client) LRem(ctx context.Context, key string, count int64, value string) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.LRem(ctx, c.buildKey(key), count, value).Err()
}

func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	if c.store == nil {
		return 0, errNotInitialized
	}
	return c.store.LLen(ctx, c.buildKey(key)).Result()
}

func (c *Client) XAdd(ctx context.Context, stream string, maxLen int64, fields map[string]string) (string, error) {
	if c.store == nil {
		return "", errNotInitialized
	}
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return c.store.XAdd(ctx, &redis.XAddArgs{
		Stream: c.buildKey(stream),
		MaxLen: maxLen,
		Approx: maxLen > 0,
		Values: values,
	}).Result()
}

func (c *Client) XRevRange(ctx context.Context, stream string, count int64) ([]kv.StreamEntry, error) {
	if c.store == nil {
		return nil, errNotInitialized
	}
	var (
		msgs []redis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = c.store.XRevRangeN(ctx, c.buildKey(stream), "+", "-", count).Result()
	} else {
		msgs, err = c.store.XRevRange(ctx, c.buildKey(stream), "+", "-").Result()
	}
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]kv.StreamEntry, 0, len(msgs))
	for _, msg := range msgs {
		fields := make(map[string]string, len(msg.Values))
		for k, v := range msg.Values {
			fields[k] = fmt.Sprint(v)
		}
		out = append(out, kv.StreamEntry{ID: msg.ID, Fields: fields})
	}
	return out, nil
}

func (c *Client) XLen(ctx context.Context, stream string) (int64, error) {
	if c.store == nil {
		return 0, errNotInitialized
	}
	return c.store.XLen(ctx, c.buildKey(stream)).Result()
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Ping(ctx).Err()
}

// Close shuts down the underlying client if available.
func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

func (c *Client) buildKey(key string) string {
	key = strings.TrimSpace(key)
	if c.namespace == "" {
		return key
	}
	return c.namespace + ":" + key
}

func (c *Client) buildKeys(keys []string) []string {
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = c.buildKey(key)
	}
	return out
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func formatScore(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+inf"
	case math.IsInf(v, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}
