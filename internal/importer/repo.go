package importer

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookstore-backend/internal/repo"
	"github.com/angelmondragon/bookstore-backend/pkg/db"
	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
	"github.com/angelmondragon/bookstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
	"github.com/angelmondragon/bookstore-backend/pkg/pagination"
)

const defaultListLimit = 20

// RunRepository persists import run records.
type RunRepository struct {
	repo.Base
}

// NewRunRepository binds the repository to the provided GORM handle.
func NewRunRepository(conn *gorm.DB) *RunRepository {
	return &RunRepository{Base: repo.NewBase(conn)}
}

func (r *RunRepository) Create(ctx context.Context, run *models.ImportRun) error {
	return r.DB(ctx).Create(run).Error
}

// Save writes every mutable column of the run.
func (r *RunRepository) Save(ctx context.Context, run *models.ImportRun) error {
	return r.DB(ctx).
		Model(&models.ImportRun{}).
		Where("id = ?", run.ID).
		Select("status", "attempts", "pages_processed", "total_processed", "success_count",
			"failed_count", "skipped_count", "new_books", "updated_books", "last_error", "started_at", "finished_at").
		Updates(run).Error
}

func (r *RunRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.ImportRun, error) {
	var run models.ImportRun
	if err := r.DB(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "import run not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load import run")
	}
	return &run, nil
}

// RunListParams filter and page the run history.
type RunListParams struct {
	Status *enums.ImportRunStatus
	Limit  int
	Cursor string
}

// RunPage is one page of runs, newest first. NextCursor is empty on the
// last page.
type RunPage struct {
	Items      []models.ImportRun `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// List pages through runs by (created_at, id) descending.
func (r *RunRepository) List(ctx context.Context, params RunListParams) (*RunPage, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = pagination.NormalizeLimit(limit)

	q := r.DB(ctx).Model(&models.ImportRun{})
	if params.Status != nil {
		q = q.Where("status = ?", *params.Status)
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if cursor != nil {
		// created_at is written in local time; compare in the same zone
		q = q.Where("(created_at, id) < (?, ?)", cursor.CreatedAt.Local(), cursor.ID)
	}

	var rows []models.ImportRun
	if err := q.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list import runs")
	}

	page := &RunPage{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		last := page.Items[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}
