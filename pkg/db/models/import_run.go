package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookstore-backend/pkg/enums"
)

// ImportRun records one triggered catalog import and its final counters.
type ImportRun struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	StartPage      int                   `gorm:"column:start_page;not null"`
	MaxPages       int                   `gorm:"column:max_pages;not null"`
	BatchSize      int                   `gorm:"column:batch_size;not null"`
	TriggeredBy    string                `gorm:"column:triggered_by;not null"`
	Status         enums.ImportRunStatus `gorm:"column:status;type:text;not null;index"`
	Attempts       int                   `gorm:"column:attempts;not null;default:0"`
	PagesProcessed int                   `gorm:"column:pages_processed;not null;default:0"`
	TotalProcessed int                   `gorm:"column:total_processed;not null;default:0"`
	SuccessCount   int                   `gorm:"column:success_count;not null;default:0"`
	FailedCount    int                   `gorm:"column:failed_count;not null;default:0"`
	SkippedCount   int                   `gorm:"column:skipped_count;not null;default:0"`
	NewBooks       int                   `gorm:"column:new_books;not null;default:0"`
	UpdatedBooks   int                   `gorm:"column:updated_books;not null;default:0"`
	LastError      *string               `gorm:"column:last_error"`
	StartedAt      *time.Time            `gorm:"column:started_at"`
	FinishedAt     *time.Time            `gorm:"column:finished_at"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *ImportRun) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}
