package importer

import (
	"fmt"

	"github.com/angelmondragon/bookstore-backend/internal/importlog"
	"github.com/angelmondragon/bookstore-backend/pkg/config"
	"github.com/angelmondragon/bookstore-backend/pkg/gutendex"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
	"github.com/angelmondragon/bookstore-backend/pkg/metrics"
)

// StackParams carry the shared dependencies of every process that runs
// imports.
type StackParams struct {
	DB      database
	Store   kv.Store
	Events  importlog.Stream
	Logger  *logger.Logger
	Metrics *metrics.ImportMetrics
	Config  config.ImportConfig
}

// Stack is a runner wired to the live catalog plus the run repository it
// writes to.
type Stack struct {
	Runner *Runner
	Runs   *RunRepository
}

// NewStack builds the catalog client, pipeline and runner from config.
func NewStack(params StackParams) (*Stack, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("database required")
	}
	catalog := gutendex.NewClient(
		gutendex.WithBaseURL(params.Config.CatalogURL),
		gutendex.WithTimeout(params.Config.HTTPTimeout),
	)
	pipeline, err := NewPipeline(PipelineParams{
		Catalog: catalog,
		DB:      params.DB,
		Store:   params.Store,
		Events:  params.Events,
		Logger:  params.Logger,
		Metrics: params.Metrics,
		Config:  params.Config,
	})
	if err != nil {
		return nil, fmt.Errorf("import pipeline: %w", err)
	}
	runs := NewRunRepository(params.DB.DB())
	runner, err := NewRunner(RunnerParams{
		Pipeline: pipeline,
		Runs:     runs,
		Store:    params.Store,
		Events:   params.Events,
		Logger:   params.Logger,
		Metrics:  params.Metrics,
		Config:   params.Config,
	})
	if err != nil {
		return nil, fmt.Errorf("import runner: %w", err)
	}
	return &Stack{Runner: runner, Runs: runs}, nil
}
