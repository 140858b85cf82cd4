package books

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
)

// Repository exposes catalog persistence for the cart and the importer.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to the provided GORM handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx scopes the repository to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindByID loads a book with its authors.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	var book models.Book
	if err := r.db.WithContext(ctx).
		Preload("Authors").
		Where("id = ?", id).
		First(&book).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

// FindByIDs loads the requested books with authors. Unknown ids are omitted.
func (r *Repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Book, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Book
	if err := r.db.WithContext(ctx).
		Preload("Authors").
		Where("id IN ?", ids).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindByGutendexID loads an imported book by its upstream id.
func (r *Repository) FindByGutendexID(ctx context.Context, gutendexID int) (*models.Book, error) {
	var book models.Book
	if err := r.db.WithContext(ctx).
		Preload("Authors").
		Where("gutendex_id = ?", gutendexID).
		First(&book).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

// DecrementStock removes qty units only when enough stock remains. It
// reports false when the guard rejected the update.
func (r *Repository) DecrementStock(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Book{}).
		Where("id = ? AND stock >= ?", id, qty).
		UpdateColumn("stock", gorm.Expr("stock - ?", qty))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// IsFresh reports whether the book was written after cutoff.
func IsFresh(book *models.Book, cutoff time.Time) bool {
	return book != nil && book.UpdatedAt.After(cutoff)
}

// AttachSentinelAuthor links the "Unknown Author" record to a book that has
// no authors. The join row is written directly so the book's updated_at is
// left untouched. It reports whether a link was added.
func (r *Repository) AttachSentinelAuthor(ctx context.Context, book *models.Book) (bool, error) {
	if book == nil || len(book.Authors) > 0 {
		return false, nil
	}
	var linked int64
	if err := r.db.WithContext(ctx).
		Table("book_authors").
		Where("book_id = ?", book.ID).
		Count(&linked).Error; err != nil {
		return false, err
	}
	if linked > 0 {
		return false, nil
	}
	sentinel, err := r.findOrCreateAuthor(ctx, AuthorInput{Name: models.UnknownAuthorName})
	if err != nil {
		return false, err
	}
	if err := r.linkAuthors(ctx, book.ID, []models.Author{*sentinel}); err != nil {
		return false, err
	}
	book.Authors = []models.Author{*sentinel}
	return true, nil
}

func (r *Repository) linkAuthors(ctx context.Context, bookID uuid.UUID, authors []models.Author) error {
	if len(authors) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(authors))
	for _, a := range authors {
		rows = append(rows, map[string]any{"book_id": bookID, "author_id": a.ID})
	}
	return r.db.WithContext(ctx).
		Table("book_authors").
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rows).Error
}

func (r *Repository) linkCategories(ctx context.Context, bookID uuid.UUID, categories []models.Category) error {
	if len(categories) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(categories))
	for _, c := range categories {
		rows = append(rows, map[string]any{"book_id": bookID, "category_id": c.ID})
	}
	return r.db.WithContext(ctx).
		Table("book_categories").
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rows).Error
}
