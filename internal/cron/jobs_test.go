package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookstore-backend/internal/importer"
	"github.com/angelmondragon/bookstore-backend/pkg/config"
	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
	"github.com/angelmondragon/bookstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
)

type stubRunner struct {
	got    importer.Params
	opts   importer.RunOptions
	status enums.ImportRunStatus
}

func (s *stubRunner) Run(_ context.Context, params importer.Params, opts importer.RunOptions) (*models.ImportRun, error) {
	s.got = params
	s.opts = opts
	msg := "catalog down"
	return &models.ImportRun{ID: uuid.New(), Status: s.status, Attempts: 5, LastError: &msg}, nil
}

func TestImportJobUsesScheduledTuple(t *testing.T) {
	runner := &stubRunner{status: enums.ImportRunStatusSucceeded}
	job, err := NewImportJob(ImportJobParams{
		Runner: runner,
		Logger: testLogger(),
		Config: config.ImportConfig{ScheduleStartPage: 4, ScheduleMaxPages: 2, ScheduleBatchSize: 15, ScheduleInterval: 24 * time.Hour},
	})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if runner.got != (importer.Params{StartPage: 4, MaxPages: 2, BatchSize: 15}) || runner.opts.TriggeredBy != "cron" {
		t.Fatalf("unexpected trigger %+v %+v", runner.got, runner.opts)
	}
	if job.Interval() != 24*time.Hour {
		t.Fatalf("unexpected interval %s", job.Interval())
	}
}

func TestImportJobReportsPermanentFailure(t *testing.T) {
	job, _ := NewImportJob(ImportJobParams{
		Runner: &stubRunner{status: enums.ImportRunStatusFailedPermanently},
		Logger: testLogger(),
		Config: config.ImportConfig{ScheduleStartPage: 1, ScheduleMaxPages: 1, ScheduleBatchSize: 10},
	})
	if err := job.Run(context.Background()); !pkgerrors.IsCode(err, pkgerrors.CodeImportRun) {
		t.Fatalf("expected import run failure, got %v", err)
	}
}

func TestImportJobRejectsBadSchedule(t *testing.T) {
	_, err := NewImportJob(ImportJobParams{
		Runner: &stubRunner{},
		Logger: testLogger(),
		Config: config.ImportConfig{ScheduleBatchSize: 500},
	})
	if err == nil {
		t.Fatalf("expected invalid batch size to be rejected")
	}
}

type stubSyncer struct {
	force *bool
}

func (s *stubSyncer) SyncAll(_ context.Context, force bool) (int, error) {
	s.force = &force
	return 2, nil
}

func TestPermissionSyncJobDoesNotForce(t *testing.T) {
	syncer := &stubSyncer{}
	job, err := NewPermissionSyncJob(syncer, testLogger(), time.Hour)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if syncer.force == nil || *syncer.force {
		t.Fatalf("sync should only seed missing roles")
	}
}

type stubSweeper struct {
	batches []int
	err     error
	calls   int
}

func (s *stubSweeper) AbandonIdle(context.Context) (int, error) {
	if s.calls >= len(s.batches) {
		s.calls++
		return 0, s.err
	}
	n := s.batches[s.calls]
	s.calls++
	return n, nil
}

func TestCartAbandonJobDrainsBatches(t *testing.T) {
	sweeper := &stubSweeper{batches: []int{200, 200, 13}}
	job, _ := NewCartAbandonJob(sweeper, testLogger(), time.Hour)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sweeper.calls != 4 {
		t.Fatalf("expected sweeps until an empty batch, got %d calls", sweeper.calls)
	}

	failing := &stubSweeper{err: errors.New("redis down")}
	job, _ = NewCartAbandonJob(failing, testLogger(), time.Hour)
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected sweep error")
	}
}
