package importer

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/bookstore-backend/internal/books"
	"github.com/angelmondragon/bookstore-backend/internal/importlog"
	"github.com/angelmondragon/bookstore-backend/pkg/config"
	"github.com/angelmondragon/bookstore-backend/pkg/db"
	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
	"github.com/angelmondragon/bookstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
	"github.com/angelmondragon/bookstore-backend/pkg/gutendex"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
	"github.com/angelmondragon/bookstore-backend/pkg/metrics"
)

// Phase is a step of the per-attempt state machine.
type Phase string

const (
	PhasePending     Phase = "pending"
	PhaseFetching    Phase = "fetching"
	PhaseProcessing  Phase = "processing"
	PhasePageAdvance Phase = "page_advance"
	PhaseCompleted   Phase = "completed"
	PhaseCancelled   Phase = "cancelled"
	PhaseFailed      Phase = "failed"
)

const (
	outcomeNew     = "new"
	outcomeUpdated = "updated"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

type catalogSource interface {
	FetchPage(ctx context.Context, page int) (*gutendex.Page, error)
}

type database interface {
	DB() *gorm.DB
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type bookStore interface {
	FindByGutendexID(ctx context.Context, gutendexID int) (*models.Book, error)
	AttachSentinelAuthor(ctx context.Context, book *models.Book) (bool, error)
	Upsert(ctx context.Context, in books.UpsertInput) (*models.Book, bool, error)
}

type bookStoreFactory func(tx *gorm.DB) bookStore

func defaultBookStore(tx *gorm.DB) bookStore {
	return books.NewRepository(tx)
}

// Summary counts what one attempt did.
type Summary struct {
	PagesProcessed int `json:"pages_processed"`
	TotalProcessed int `json:"total_processed"`
	SuccessCount   int `json:"success_count"`
	FailedCount    int `json:"failed_count"`
	SkippedCount   int `json:"skipped_books"`
	NewBooks       int `json:"new_books"`
	UpdatedBooks   int `json:"updated_books"`
}

func (s *Summary) record(outcome string) {
	s.TotalProcessed++
	switch outcome {
	case outcomeNew:
		s.SuccessCount++
		s.NewBooks++
	case outcomeUpdated:
		s.SuccessCount++
		s.UpdatedBooks++
	case outcomeSkipped:
		s.SkippedCount++
	default:
		s.FailedCount++
	}
}

func (s Summary) metadata() map[string]any {
	return map[string]any{
		"pages_processed": s.PagesProcessed,
		"total_processed": s.TotalProcessed,
		"success_count":   s.SuccessCount,
		"failed_count":    s.FailedCount,
		"skipped_books":   s.SkippedCount,
		"new_books":       s.NewBooks,
		"updated_books":   s.UpdatedBooks,
	}
}

type PipelineParams struct {
	Catalog          catalogSource
	DB               database
	Store            kv.Store
	Events           importlog.Stream
	Logger           *logger.Logger
	Metrics          *metrics.ImportMetrics
	Config           config.ImportConfig
	BookStoreFactory bookStoreFactory
	// Sleep blocks for rate-limit pauses; it is not a cancellation point.
	Sleep func(time.Duration)
	Now   func() time.Time
}

// Pipeline executes a single attempt of an import run.
type Pipeline struct {
	catalog    catalogSource
	db         database
	store      kv.Store
	events     importlog.Stream
	logg       *logger.Logger
	metrics    *metrics.ImportMetrics
	books      bookStoreFactory
	batchPause time.Duration
	pagePause  time.Duration
	freshness  time.Duration
	cfg        config.ImportConfig
	sleep      func(time.Duration)
	now        func() time.Time
}

func NewPipeline(params PipelineParams) (*Pipeline, error) {
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog client required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("database required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("kv store required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("import log stream required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	factory := params.BookStoreFactory
	if factory == nil {
		factory = defaultBookStore
	}
	sleep := params.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	freshness := params.Config.FreshnessWindow
	if freshness <= 0 {
		freshness = 7 * 24 * time.Hour
	}
	return &Pipeline{
		catalog:    params.Catalog,
		db:         params.DB,
		store:      params.Store,
		events:     params.Events,
		logg:       params.Logger,
		metrics:    params.Metrics,
		books:      factory,
		batchPause: params.Config.BatchPause,
		pagePause:  params.Config.PagePause,
		freshness:  freshness,
		cfg:        params.Config,
		sleep:      sleep,
		now:        now,
	}, nil
}

// Execute walks catalog pages from params.StartPage. It returns the final
// phase: completed, cancelled, or failed together with a CodeImportRun
// error. Page fetch failures end the walk without failing the attempt.
func (p *Pipeline) Execute(ctx context.Context, runID string, params Params) (summary Summary, phase Phase, err error) {
	logCtx := p.logg.WithRunID(ctx, runID)
	phase = PhasePending
	p.transition(logCtx, phase, 0)

	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.Newf(pkgerrors.CodeImportRun, "import attempt panicked: %v", r)
			phase = PhaseFailed
		}
	}()

	page := params.StartPage
	for {
		cancelled, err := p.cancelRequested(ctx, params)
		if err != nil {
			return summary, PhaseFailed, err
		}
		if cancelled {
			p.transition(logCtx, PhaseCancelled, page)
			return summary, PhaseCancelled, nil
		}

		p.transition(logCtx, PhaseFetching, page)
		result, err := p.catalog.FetchPage(ctx, page)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeUpstream) {
				warnCtx := p.logg.WithFields(logCtx, map[string]any{"page": page, "error": err.Error()})
				p.logg.Warn(warnCtx, "catalog page unavailable, treating as end of data")
				break
			}
			return summary, PhaseFailed, pkgerrors.Wrap(pkgerrors.CodeImportRun, err, "fetch catalog page").
				WithDetails(map[string]any{"page": page})
		}

		p.transition(logCtx, PhaseProcessing, page)
		p.processPage(ctx, runID, params, result.Results, &summary)
		summary.PagesProcessed++
		p.emit(ctx, importlog.Event{
			Type:    enums.ImportLogTypePage,
			Status:  enums.ImportLogStatusInfo,
			Message: fmt.Sprintf("page %d processed", page),
			RunID:   runID,
			Metadata: map[string]any{
				"page":  page,
				"books": len(result.Results),
			},
		})

		if !result.HasNext() {
			break
		}
		if !params.Unlimited() && summary.PagesProcessed >= params.MaxPages {
			break
		}
		p.transition(logCtx, PhasePageAdvance, page)
		p.sleep(p.pagePause)
		page++
	}

	p.transition(logCtx, PhaseCompleted, page)
	return summary, PhaseCompleted, nil
}

func (p *Pipeline) processPage(ctx context.Context, runID string, params Params, items []gutendex.BookSummary, summary *Summary) {
	for i, item := range items {
		outcome, err := p.processBook(ctx, item)
		if err != nil {
			outcome = outcomeFailed
			p.bookFailed(ctx, runID, item, err)
		}
		summary.record(outcome)
		p.metrics.AddBooks(outcome, 1)

		done := i + 1
		if done%params.BatchSize == 0 && done < len(items) {
			p.sleep(p.batchPause)
		}
	}
}

func (p *Pipeline) processBook(ctx context.Context, item gutendex.BookSummary) (string, error) {
	reader := p.books(p.db.DB())
	existing, err := reader.FindByGutendexID(ctx, item.ID)
	if err != nil && !db.IsNotFound(err) {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup book")
	}
	if err == nil && books.IsFresh(existing, p.now().Add(-p.freshness)) {
		if _, err := reader.AttachSentinelAuthor(ctx, existing); err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach sentinel author")
		}
		return outcomeSkipped, nil
	}

	var created bool
	if err := p.db.WithTx(ctx, func(tx *gorm.DB) error {
		_, isNew, err := p.books(tx).Upsert(ctx, p.upsertInput(item))
		created = isNew
		return err
	}); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert book")
	}
	if created {
		return outcomeNew, nil
	}
	return outcomeUpdated, nil
}

func (p *Pipeline) upsertInput(item gutendex.BookSummary) books.UpsertInput {
	authors := make([]books.AuthorInput, 0, len(item.Authors))
	for _, a := range item.Authors {
		authors = append(authors, books.AuthorInput{
			GutendexID: a.ID,
			Name:       a.Name,
			BirthYear:  a.BirthYear,
			DeathYear:  a.DeathYear,
		})
	}
	return books.UpsertInput{
		GutendexID:    item.ID,
		Title:         item.Title,
		CoverImage:    item.CoverImage(),
		Languages:     item.Languages,
		DownloadCount: item.DownloadCount,
		Authors:       authors,
		Subjects:      item.Subjects,
		DefaultPrice:  p.cfg.DefaultPriceDecimal(),
		DefaultStock:  p.cfg.DefaultStock,
	}
}

func (p *Pipeline) bookFailed(ctx context.Context, runID string, item gutendex.BookSummary, err error) {
	logCtx := p.logg.WithFields(ctx, map[string]any{
		"run_id":      runID,
		"gutendex_id": item.ID,
	})
	msg := pkgerrors.Describe(err)
	p.logg.Warn(logCtx, "book import failed: "+msg)
	p.emit(ctx, importlog.Event{
		Type:    enums.ImportLogTypeBookFailed,
		Status:  enums.ImportLogStatusError,
		Message: msg,
		RunID:   runID,
		Metadata: map[string]any{
			"gutendex_id": item.ID,
			"title":       item.Title,
		},
	})
}

func (p *Pipeline) cancelRequested(ctx context.Context, params Params) (bool, error) {
	if ctx.Err() != nil {
		return true, nil
	}
	ok, err := p.store.Exists(ctx, params.cancelKey())
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeImportRun, err, "check import cancellation")
	}
	return ok, nil
}

func (p *Pipeline) transition(ctx context.Context, phase Phase, page int) {
	logCtx := p.logg.WithFields(ctx, map[string]any{
		"phase": string(phase),
		"page":  page,
	})
	p.logg.Debug(logCtx, "import phase")
}

// emit never fails the run; a lost log line is only logged.
func (p *Pipeline) emit(ctx context.Context, event importlog.Event) {
	if _, err := p.events.Append(ctx, event); err != nil {
		p.logg.Error(ctx, "append import log", err)
	}
}
