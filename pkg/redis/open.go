package redis

import (
	"context"

	"github.com/angelmondragon/bookstore-backend/pkg/config"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
)

// Open returns the configured key-value store and a close func. The memory
// flag selects an in-process store for local runs and single-node demos.
func Open(ctx context.Context, cfg *config.Config, logg *logger.Logger) (kv.Store, func() error, error) {
	if cfg.FeatureFlags.MemoryKV {
		if logg != nil {
			logg.Warn(ctx, "using in-memory kv store; state is lost on restart")
		}
		return kv.NewMemory(), func() error { return nil }, nil
	}
	client, err := New(ctx, cfg.Redis, logg)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}
