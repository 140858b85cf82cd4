package controllers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookstore-backend/internal/favorites"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
)

func TestFavoriteToggleAndList(t *testing.T) {
	svc, err := favorites.NewService(kv.NewMemory())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	userID, bookID := uuid.New(), uuid.New()

	toggle := func() favoriteState {
		req := asUser(newRequest(http.MethodPost, "/api/v1/favorites/"+bookID.String()+"/toggle", ""), userID)
		req = addRouteParam(req, "bookId", bookID.String())
		resp := httptest.NewRecorder()
		FavoriteToggle(svc, testLogg)(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("unexpected status %d", resp.Code)
		}
		var state favoriteState
		decodeData(t, resp, &state)
		return state
	}

	if state := toggle(); !state.Favorited || state.BookID != bookID {
		t.Fatalf("first toggle should favorite, got %+v", state)
	}

	resp := httptest.NewRecorder()
	FavoritesList(svc, testLogg)(resp, asUser(newRequest(http.MethodGet, "/api/v1/favorites", ""), userID))
	var list struct {
		BookIDs []uuid.UUID `json:"book_ids"`
		Count   int         `json:"count"`
	}
	decodeData(t, resp, &list)
	if list.Count != 1 || list.BookIDs[0] != bookID {
		t.Fatalf("unexpected list %+v", list)
	}

	if state := toggle(); state.Favorited {
		t.Fatalf("second toggle should unfavorite")
	}
}

func TestFavoritesRejectGuestsAndBadIDs(t *testing.T) {
	svc, _ := favorites.NewService(kv.NewMemory())

	resp := httptest.NewRecorder()
	FavoritesList(svc, testLogg)(resp, asGuest(newRequest(http.MethodGet, "/api/v1/favorites", ""), uuid.New()))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for guests, got %d", resp.Code)
	}

	req := asUser(newRequest(http.MethodPut, "/api/v1/favorites/bad", ""), uuid.New())
	req = addRouteParam(req, "bookId", "bad")
	resp = httptest.NewRecorder()
	FavoriteAdd(svc, testLogg)(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad book id, got %d", resp.Code)
	}
}
