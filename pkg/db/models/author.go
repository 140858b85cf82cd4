package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UnknownAuthorName is attached to books the catalog lists without authors.
const UnknownAuthorName = "Unknown Author"

type Author struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	GutendexID *int      `gorm:"column:gutendex_id;uniqueIndex"`
	Name       string    `gorm:"column:name;not null;index"`
	BirthYear  *int      `gorm:"column:birth_year"`
	DeathYear  *int      `gorm:"column:death_year"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Author) BeforeCreate(*gorm.DB) error {
	assignID(&a.ID)
	return nil
}
