package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bookstore-backend/internal/cart"
	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
)

type testCartService struct {
	added    map[uuid.UUID]int
	updated  map[uuid.UUID]int
	merged   [2]cart.Identity
	cleared  bool
	details  cart.OrderDetails
	addErr   error
	identity cart.Identity
}

func newTestCartService() *testCartService {
	return &testCartService{added: map[uuid.UUID]int{}, updated: map[uuid.UUID]int{}}
}

func (s *testCartService) GetCart(_ context.Context, identity cart.Identity) (*cart.View, error) {
	s.identity = identity
	view := &cart.View{Identity: identity.String(), TotalAmount: decimal.Zero}
	for id, qty := range s.added {
		view.Items = append(view.Items, cart.ItemView{BookID: id, Quantity: qty})
		view.ItemCount += qty
	}
	return view, nil
}

func (s *testCartService) AddItem(_ context.Context, identity cart.Identity, bookID uuid.UUID, qty int) error {
	if s.addErr != nil {
		return s.addErr
	}
	s.identity = identity
	s.added[bookID] += qty
	return nil
}

func (s *testCartService) UpdateItem(_ context.Context, _ cart.Identity, bookID uuid.UUID, qty int) error {
	s.updated[bookID] = qty
	return nil
}

func (s *testCartService) Clear(context.Context, cart.Identity) error {
	s.cleared = true
	return nil
}

func (s *testCartService) MergeGuestCart(_ context.Context, guest, user cart.Identity) error {
	s.merged = [2]cart.Identity{guest, user}
	return nil
}

func (s *testCartService) ConvertToOrder(_ context.Context, identity cart.Identity, details cart.OrderDetails) (*models.Order, error) {
	s.details = details
	return &models.Order{ID: uuid.New(), TotalAmount: decimal.RequireFromString("19.98")}, nil
}

func TestCartAddItemForGuest(t *testing.T) {
	svc := newTestCartService()
	sessionID, bookID := uuid.New(), uuid.New()

	req := asGuest(newRequest(http.MethodPost, "/api/v1/cart/items", `{"book_id":"`+bookID.String()+`","quantity":2}`), sessionID)
	resp := httptest.NewRecorder()
	CartAddItem(svc, testLogg)(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	if svc.identity != cart.GuestIdentity(sessionID) || svc.added[bookID] != 2 {
		t.Fatalf("unexpected add %+v %+v", svc.identity, svc.added)
	}
	var view cart.View
	decodeData(t, resp, &view)
	if view.ItemCount != 2 || view.Identity != "guest:"+sessionID.String() {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestCartAddItemValidation(t *testing.T) {
	svc := newTestCartService()
	req := asGuest(newRequest(http.MethodPost, "/api/v1/cart/items", `{"book_id":"`+uuid.NewString()+`","quantity":0}`), uuid.New())
	resp := httptest.NewRecorder()
	CartAddItem(svc, testLogg)(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if len(svc.added) != 0 {
		t.Fatalf("service must not be called")
	}
}

func TestCartAddItemSurfacesStockError(t *testing.T) {
	svc := newTestCartService()
	svc.addErr = pkgerrors.New(pkgerrors.CodeValidation, "insufficient stock").WithDetails(map[string]any{"available": 1})
	req := asUser(newRequest(http.MethodPost, "/api/v1/cart/items", `{"book_id":"`+uuid.NewString()+`","quantity":5}`), uuid.New())
	resp := httptest.NewRecorder()
	CartAddItem(svc, testLogg)(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if apiErr := decodeError(t, resp); apiErr.Message != "insufficient stock" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestCartRequiresIdentity(t *testing.T) {
	resp := httptest.NewRecorder()
	CartFetch(newTestCartService(), testLogg)(resp, newRequest(http.MethodGet, "/api/v1/cart", ""))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestCartRemoveItemSetsZero(t *testing.T) {
	svc := newTestCartService()
	bookID := uuid.New()
	req := asUser(newRequest(http.MethodDelete, "/api/v1/cart/items/"+bookID.String(), ""), uuid.New())
	req = addRouteParam(req, "bookId", bookID.String())
	resp := httptest.NewRecorder()
	CartRemoveItem(svc, testLogg)(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if qty, ok := svc.updated[bookID]; !ok || qty != 0 {
		t.Fatalf("expected quantity 0 update, got %+v", svc.updated)
	}
}

func TestCartMergeRequiresUser(t *testing.T) {
	svc := newTestCartService()
	guestID := uuid.New()
	body := `{"guest_session_id":"` + guestID.String() + `"}`

	resp := httptest.NewRecorder()
	CartMerge(svc, testLogg)(resp, asGuest(newRequest(http.MethodPost, "/api/v1/cart/merge", body), uuid.New()))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("guests cannot merge, got %d", resp.Code)
	}

	userID := uuid.New()
	resp = httptest.NewRecorder()
	CartMerge(svc, testLogg)(resp, asUser(newRequest(http.MethodPost, "/api/v1/cart/merge", body), userID))
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if svc.merged[0] != cart.GuestIdentity(guestID) || svc.merged[1] != cart.UserIdentity(userID) {
		t.Fatalf("unexpected merge %+v", svc.merged)
	}
}

func TestCartCheckoutCreatesOrder(t *testing.T) {
	svc := newTestCartService()
	req := asUser(newRequest(http.MethodPost, "/api/v1/cart/checkout", `{"shipping_address":"1 Main St","payment_method":"card","notes":"leave at door"}`), uuid.New())
	resp := httptest.NewRecorder()
	CartCheckout(svc, testLogg)(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	if svc.details.ShippingAddress != "1 Main St" || svc.details.Notes == nil || *svc.details.Notes != "leave at door" {
		t.Fatalf("unexpected details %+v", svc.details)
	}
}

func TestCartClear(t *testing.T) {
	svc := newTestCartService()
	resp := httptest.NewRecorder()
	CartClear(svc, testLogg)(resp, asGuest(newRequest(http.MethodDelete, "/api/v1/cart", ""), uuid.New()))
	if resp.Code != http.StatusNoContent || !svc.cleared {
		t.Fatalf("expected cleared cart, status %d", resp.Code)
	}
}
