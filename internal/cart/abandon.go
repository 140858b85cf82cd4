package cart

import (
	"context"
	"math"

	"go.uber.org/multierr"

	"github.com/angelmondragon/bookstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
)

// AbandonIdle moves carts idle for longer than the abandonment threshold
// into the database with status abandoned and clears them. It handles at
// most one batch per call and returns how many carts were moved.
func (e *engine) AbandonIdle(ctx context.Context) (int, error) {
	cutoff := e.now().UTC().Add(-e.abandonAfter)
	members, err := e.store.ZRangeByScore(ctx, activityKey, math.Inf(-1), float64(cutoff.Unix()), int64(e.abandonBatch))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list idle carts")
	}

	var errs error
	moved := 0
	for _, member := range members {
		identity, err := ParseIdentity(member)
		if err != nil {
			errs = multierr.Append(errs, e.unindex(ctx, member))
			continue
		}
		state, err := e.load(ctx, identity)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if state.Empty() {
			// expired by TTL before the job got to it
			errs = multierr.Append(errs, e.unindex(ctx, member))
			continue
		}
		if state.LastActivity.After(cutoff) {
			continue
		}
		if err := e.persist(ctx, buildRecord(identity, state, enums.CartStatusAbandoned, false)); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := e.drop(ctx, identity); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		moved++
	}

	logCtx := e.logg.WithFields(ctx, map[string]any{
		"candidates": len(members),
		"moved":      moved,
	})
	e.logg.Info(logCtx, "idle cart sweep complete")
	return moved, errs
}

func (e *engine) unindex(ctx context.Context, member string) error {
	if err := e.store.ZRem(ctx, activityKey, member); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "unindex cart")
	}
	return nil
}
