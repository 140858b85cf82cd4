package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/bookstore-backend/pkg/logger"
)

const (
	cartAbandonJobName = "cart-abandon"
	maxAbandonRounds   = 20
)

type idleCartSweeper interface {
	AbandonIdle(ctx context.Context) (int, error)
}

// CartAbandonJob moves idle carts to the database in batches until a
// sweep finds nothing left to move.
type CartAbandonJob struct {
	carts    idleCartSweeper
	logg     *logger.Logger
	interval time.Duration
}

func NewCartAbandonJob(carts idleCartSweeper, logg *logger.Logger, interval time.Duration) (*CartAbandonJob, error) {
	if carts == nil {
		return nil, fmt.Errorf("cart engine required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &CartAbandonJob{carts: carts, logg: logg, interval: interval}, nil
}

func (j *CartAbandonJob) Name() string { return cartAbandonJobName }

func (j *CartAbandonJob) Interval() time.Duration { return j.interval }

func (j *CartAbandonJob) Run(ctx context.Context) error {
	total := 0
	for round := 0; round < maxAbandonRounds; round++ {
		moved, err := j.carts.AbandonIdle(ctx)
		total += moved
		if err != nil {
			return fmt.Errorf("abandon idle carts: %w", err)
		}
		if moved == 0 {
			break
		}
	}
	j.logg.Info(j.logg.WithField(ctx, "moved", total), "idle carts abandoned")
	return nil
}
