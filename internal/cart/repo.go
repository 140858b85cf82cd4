package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookstore-backend/internal/books"
	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
)

// Repository covers the durable writes made when a cart leaves the
// key-value store.
type Repository interface {
	CreateCart(ctx context.Context, record *models.Cart) error
	CreateOrder(ctx context.Context, order *models.Order) error
	FindBooks(ctx context.Context, ids []uuid.UUID) ([]models.Book, error)
	DecrementStock(ctx context.Context, bookID uuid.UUID, qty int) (bool, error)
}

type repositoryFactory func(tx *gorm.DB) Repository

func defaultRepository(tx *gorm.DB) Repository {
	return NewRepository(tx)
}

type gormRepository struct {
	db    *gorm.DB
	books *books.Repository
}

// NewRepository binds cart persistence to the provided GORM handle.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db, books: books.NewRepository(db)}
}

// CreateCart inserts the header and its items.
func (r *gormRepository) CreateCart(ctx context.Context, record *models.Cart) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// CreateOrder inserts the order header and its items.
func (r *gormRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *gormRepository) FindBooks(ctx context.Context, ids []uuid.UUID) ([]models.Book, error) {
	return r.books.FindByIDs(ctx, ids)
}

func (r *gormRepository) DecrementStock(ctx context.Context, bookID uuid.UUID, qty int) (bool, error) {
	return r.books.DecrementStock(ctx, bookID, qty)
}
