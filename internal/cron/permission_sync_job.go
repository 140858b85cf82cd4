package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/bookstore-backend/pkg/logger"
)

const permissionSyncJobName = "permission-sync"

type permissionSyncer interface {
	SyncAll(ctx context.Context, force bool) (int, error)
}

// PermissionSyncJob seeds permission hashes for roles missing from the cache.
type PermissionSyncJob struct {
	cache    permissionSyncer
	logg     *logger.Logger
	interval time.Duration
}

func NewPermissionSyncJob(cache permissionSyncer, logg *logger.Logger, interval time.Duration) (*PermissionSyncJob, error) {
	if cache == nil {
		return nil, fmt.Errorf("permission cache required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &PermissionSyncJob{cache: cache, logg: logg, interval: interval}, nil
}

func (j *PermissionSyncJob) Name() string { return permissionSyncJobName }

func (j *PermissionSyncJob) Interval() time.Duration { return j.interval }

func (j *PermissionSyncJob) Run(ctx context.Context) error {
	seeded, err := j.cache.SyncAll(ctx, false)
	j.logg.Info(j.logg.WithField(ctx, "seeded_roles", seeded), "permission sync finished")
	return err
}
