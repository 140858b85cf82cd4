package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookstore-backend/api/responses"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
)

type favoritesService interface {
	Add(ctx context.Context, userID, bookID uuid.UUID) error
	Remove(ctx context.Context, userID, bookID uuid.UUID) error
	Has(ctx context.Context, userID, bookID uuid.UUID) (bool, error)
	List(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	Toggle(ctx context.Context, userID, bookID uuid.UUID) (bool, error)
	Count(ctx context.Context, userID uuid.UUID) (int64, error)
	Clear(ctx context.Context, userID uuid.UUID) error
}

type favoriteState struct {
	BookID    uuid.UUID `json:"book_id"`
	Favorited bool      `json:"favorited"`
}

func FavoritesList(svc favoritesService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		ids, err := svc.List(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if ids == nil {
			ids = []uuid.UUID{}
		}
		responses.WriteSuccess(w, map[string]any{"book_ids": ids, "count": len(ids)})
	}
}

func FavoritesCount(svc favoritesService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		count, err := svc.Count(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"count": count})
	}
}

func FavoriteCheck(svc favoritesService, logg *logger.Logger) http.HandlerFunc {
	return favoriteAction(logg, func(ctx context.Context, userID, bookID uuid.UUID) (bool, error) {
		return svc.Has(ctx, userID, bookID)
	})
}

func FavoriteAdd(svc favoritesService, logg *logger.Logger) http.HandlerFunc {
	return favoriteAction(logg, func(ctx context.Context, userID, bookID uuid.UUID) (bool, error) {
		return true, svc.Add(ctx, userID, bookID)
	})
}

func FavoriteRemove(svc favoritesService, logg *logger.Logger) http.HandlerFunc {
	return favoriteAction(logg, func(ctx context.Context, userID, bookID uuid.UUID) (bool, error) {
		return false, svc.Remove(ctx, userID, bookID)
	})
}

// FavoriteToggle flips membership and reports the resulting state.
func FavoriteToggle(svc favoritesService, logg *logger.Logger) http.HandlerFunc {
	return favoriteAction(logg, svc.Toggle)
}

func FavoritesClear(svc favoritesService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		if err := svc.Clear(r.Context(), userID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}

func favoriteAction(logg *logger.Logger, fn func(ctx context.Context, userID, bookID uuid.UUID) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		bookID, err := routeUUID(r, "bookId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		favorited, err := fn(r.Context(), userID, bookID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, favoriteState{BookID: bookID, Favorited: favorited})
	}
}
