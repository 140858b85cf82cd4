package importer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
)

type runner interface {
	Run(ctx context.Context, params Params, opts RunOptions) (*models.ImportRun, error)
}

// InFlight describes a run started by the dispatcher that has not returned.
type InFlight struct {
	RunID       uuid.UUID `json:"run_id"`
	Params      Params    `json:"params"`
	TriggeredBy string    `json:"triggered_by"`
	StartedAt   time.Time `json:"started_at"`
}

// Dispatcher runs imports on background goroutines detached from the
// caller's context.
type Dispatcher struct {
	runner   runner
	logg     *logger.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
	inFlight *xsync.MapOf[uuid.UUID, InFlight]
}

func NewDispatcher(r runner, logg *logger.Logger) (*Dispatcher, error) {
	if r == nil {
		return nil, fmt.Errorf("runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner:   r,
		logg:     logg,
		ctx:      ctx,
		cancel:   cancel,
		inFlight: xsync.NewMapOf[uuid.UUID, InFlight](),
	}, nil
}

// Dispatch validates params and starts the run. The returned id names the
// run record the runner will write.
func (d *Dispatcher) Dispatch(params Params, triggeredBy string) (uuid.UUID, error) {
	params, err := params.Normalize()
	if err != nil {
		return uuid.Nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeConflict, "import dispatcher is shutting down")
	}
	d.wg.Add(1)
	d.mu.Unlock()

	id := uuid.New()
	d.inFlight.Store(id, InFlight{RunID: id, Params: params, TriggeredBy: triggeredBy, StartedAt: time.Now().UTC()})
	go func() {
		defer d.wg.Done()
		defer d.inFlight.Delete(id)

		ctx := d.logg.WithRunID(d.ctx, id.String())
		run, err := d.runner.Run(ctx, params, RunOptions{RunID: id, TriggeredBy: triggeredBy})
		if err != nil {
			d.logg.Error(ctx, "dispatched import failed to run", err)
			return
		}
		d.logg.Info(d.logg.WithField(ctx, "status", string(run.Status)), "dispatched import returned")
	}()
	return id, nil
}

// InFlight lists dispatched runs that are still executing, oldest first.
func (d *Dispatcher) InFlight() []InFlight {
	out := make([]InFlight, 0, d.inFlight.Size())
	d.inFlight.Range(func(_ uuid.UUID, v InFlight) bool {
		out = append(out, v)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Shutdown stops accepting runs and waits for in-flight ones. If ctx ends
// first the runs are cancelled, which takes effect at their next page
// boundary, and ctx's error is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}
