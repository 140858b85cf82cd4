package books

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/bookstore-backend/pkg/db"
	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
	"github.com/angelmondragon/bookstore-backend/pkg/types"
)

const maxCategoryNameLength = 255

// AuthorInput is an upstream author. Authors without a GutendexID are
// matched by name.
type AuthorInput struct {
	GutendexID *int
	Name       string
	BirthYear  *int
	DeathYear  *int
}

// UpsertInput carries the catalog fields the importer writes.
type UpsertInput struct {
	GutendexID    int
	Title         string
	CoverImage    string
	Languages     []string
	DownloadCount int
	Authors       []AuthorInput
	Subjects      []string

	// Applied only when the book is created.
	DefaultPrice decimal.Decimal
	DefaultStock int
}

// Upsert creates or updates the book keyed by GutendexID and replaces its
// author and category links. Books the catalog lists without authors get
// the sentinel author. Callers run it inside a transaction.
func (r *Repository) Upsert(ctx context.Context, in UpsertInput) (*models.Book, bool, error) {
	authors, err := r.resolveAuthors(ctx, in.Authors)
	if err != nil {
		return nil, false, err
	}
	categories, err := r.resolveCategories(ctx, in.Subjects)
	if err != nil {
		return nil, false, err
	}

	var cover *string
	if c := strings.TrimSpace(in.CoverImage); c != "" {
		cover = &c
	}

	existing, err := r.FindByGutendexID(ctx, in.GutendexID)
	switch {
	case err == nil:
		updates := models.Book{
			Title:         in.Title,
			CoverImage:    cover,
			DownloadCount: in.DownloadCount,
			Languages:     in.Languages,
		}
		if err := r.db.WithContext(ctx).
			Model(existing).
			Select("title", "cover_image", "download_count", "languages", "updated_at").
			Updates(&updates).Error; err != nil {
			return nil, false, err
		}
		if err := r.db.WithContext(ctx).Exec("DELETE FROM book_authors WHERE book_id = ?", existing.ID).Error; err != nil {
			return nil, false, err
		}
		if err := r.db.WithContext(ctx).Exec("DELETE FROM book_categories WHERE book_id = ?", existing.ID).Error; err != nil {
			return nil, false, err
		}
		existing.Title = in.Title
		existing.CoverImage = cover
		existing.DownloadCount = in.DownloadCount
		existing.Languages = in.Languages
		if err := r.linkAuthors(ctx, existing.ID, authors); err != nil {
			return nil, false, err
		}
		if err := r.linkCategories(ctx, existing.ID, categories); err != nil {
			return nil, false, err
		}
		existing.Authors = authors
		existing.Categories = categories
		return existing, false, nil
	case db.IsNotFound(err):
	default:
		return nil, false, err
	}

	gid := in.GutendexID
	book := &models.Book{
		GutendexID:    &gid,
		Title:         in.Title,
		CoverImage:    cover,
		Price:         in.DefaultPrice,
		Stock:         in.DefaultStock,
		DownloadCount: in.DownloadCount,
		Languages:     in.Languages,
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(book).Error; err != nil {
		return nil, false, err
	}
	if err := r.linkAuthors(ctx, book.ID, authors); err != nil {
		return nil, false, err
	}
	if err := r.linkCategories(ctx, book.ID, categories); err != nil {
		return nil, false, err
	}
	book.Authors = authors
	book.Categories = categories
	return book, true, nil
}

func (r *Repository) resolveAuthors(ctx context.Context, inputs []AuthorInput) ([]models.Author, error) {
	out := make([]models.Author, 0, len(inputs))
	seen := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		in.Name = strings.TrimSpace(in.Name)
		if in.Name == "" && in.GutendexID == nil {
			continue
		}
		author, err := r.findOrCreateAuthor(ctx, in)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[author.ID.String()]; dup {
			continue
		}
		seen[author.ID.String()] = struct{}{}
		out = append(out, *author)
	}
	if len(out) == 0 {
		sentinel, err := r.findOrCreateAuthor(ctx, AuthorInput{Name: models.UnknownAuthorName})
		if err != nil {
			return nil, err
		}
		out = append(out, *sentinel)
	}
	return out, nil
}

func (r *Repository) findOrCreateAuthor(ctx context.Context, in AuthorInput) (*models.Author, error) {
	lookup := func() (*models.Author, error) {
		var author models.Author
		q := r.db.WithContext(ctx)
		if in.GutendexID != nil {
			q = q.Where("gutendex_id = ?", *in.GutendexID)
		} else {
			q = q.Where("gutendex_id IS NULL AND name = ?", in.Name)
		}
		if err := q.First(&author).Error; err != nil {
			return nil, err
		}
		return &author, nil
	}

	author, err := lookup()
	if err == nil {
		return author, nil
	}
	if !db.IsNotFound(err) {
		return nil, err
	}

	name := in.Name
	if name == "" {
		name = models.UnknownAuthorName
	}
	author = &models.Author{
		GutendexID: in.GutendexID,
		Name:       name,
		BirthYear:  in.BirthYear,
		DeathYear:  in.DeathYear,
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(author)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// lost a race on the gutendex_id index
		return lookup()
	}
	return author, nil
}

func (r *Repository) resolveCategories(ctx context.Context, subjects []string) ([]models.Category, error) {
	out := make([]models.Category, 0, len(subjects))
	seen := make(map[string]struct{}, len(subjects))
	for _, subject := range subjects {
		name := types.Truncate(strings.TrimSpace(subject), maxCategoryNameLength)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		var category models.Category
		err := r.db.WithContext(ctx).Where("name = ?", name).First(&category).Error
		if db.IsNotFound(err) {
			category = models.Category{Name: name}
			res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&category)
			err = res.Error
			if err == nil && res.RowsAffected == 0 {
				err = r.db.WithContext(ctx).Where("name = ?", name).First(&category).Error
			}
		}
		if err != nil {
			return nil, err
		}
		out = append(out, category)
	}
	return out, nil
}
