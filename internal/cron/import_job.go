package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/bookstore-backend/internal/importer"
	"github.com/angelmondragon/bookstore-backend/pkg/config"
	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
	"github.com/angelmondragon/bookstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
)

const importJobName = "catalog-import"

type importRunner interface {
	Run(ctx context.Context, params importer.Params, opts importer.RunOptions) (*models.ImportRun, error)
}

type ImportJobParams struct {
	Runner importRunner
	Logger *logger.Logger
	Config config.ImportConfig
}

// ImportJob triggers the scheduled catalog import with the configured tuple.
type ImportJob struct {
	runner   importRunner
	logg     *logger.Logger
	params   importer.Params
	interval time.Duration
}

func NewImportJob(params ImportJobParams) (*ImportJob, error) {
	if params.Runner == nil {
		return nil, fmt.Errorf("import runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	tuple, err := importer.Params{
		StartPage: params.Config.ScheduleStartPage,
		MaxPages:  params.Config.ScheduleMaxPages,
		BatchSize: params.Config.ScheduleBatchSize,
	}.Normalize()
	if err != nil {
		return nil, fmt.Errorf("scheduled import params: %w", err)
	}
	return &ImportJob{
		runner:   params.Runner,
		logg:     params.Logger,
		params:   tuple,
		interval: params.Config.ScheduleInterval,
	}, nil
}

func (j *ImportJob) Name() string { return importJobName }

func (j *ImportJob) Interval() time.Duration { return j.interval }

func (j *ImportJob) Run(ctx context.Context) error {
	run, err := j.runner.Run(ctx, j.params, importer.RunOptions{TriggeredBy: "cron"})
	if err != nil {
		return err
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"run_id":    run.ID.String(),
		"status":    string(run.Status),
		"new_books": run.NewBooks,
		"updated":   run.UpdatedBooks,
		"skipped":   run.SkippedCount,
		"failed":    run.FailedCount,
	})
	j.logg.Info(logCtx, "scheduled import finished")
	if run.Status == enums.ImportRunStatusFailedPermanently {
		details := map[string]any{"run_id": run.ID.String(), "attempts": run.Attempts}
		if run.LastError != nil {
			details["last_error"] = *run.LastError
		}
		return pkgerrors.New(pkgerrors.CodeImportRun, "scheduled import failed").WithDetails(details)
	}
	return nil
}
