package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Book is a catalog entry keyed by its upstream gutendex id when imported.
type Book struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	GutendexID     *int            `gorm:"column:gutendex_id;uniqueIndex"`
	Title          string          `gorm:"column:title;not null"`
	CoverImage     *string         `gorm:"column:cover_image"`
	Price          decimal.Decimal `gorm:"column:price;type:numeric(10,2);not null;default:0"`
	DiscountAmount decimal.Decimal `gorm:"column:discount_amount;type:numeric(10,2);not null;default:0"`
	Stock          int             `gorm:"column:stock;not null;default:0"`
	DownloadCount  int             `gorm:"column:download_count;not null;default:0"`
	Languages      []string        `gorm:"column:languages;type:jsonb;serializer:json"`
	Authors        []Author        `gorm:"many2many:book_authors;constraint:OnDelete:CASCADE"`
	Categories     []Category      `gorm:"many2many:book_categories;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (b *Book) BeforeCreate(*gorm.DB) error {
	assignID(&b.ID)
	return nil
}

// AuthorNames lists author names in association order.
func (b Book) AuthorNames() []string {
	names := make([]string, 0, len(b.Authors))
	for _, a := range b.Authors {
		names = append(names, a.Name)
	}
	return names
}
