package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookstore-backend/api/responses"
	"github.com/angelmondragon/bookstore-backend/api/validators"
	"github.com/angelmondragon/bookstore-backend/internal/cart"
	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
)

type cartService interface {
	GetCart(ctx context.Context, identity cart.Identity) (*cart.View, error)
	AddItem(ctx context.Context, identity cart.Identity, bookID uuid.UUID, qty int) error
	UpdateItem(ctx context.Context, identity cart.Identity, bookID uuid.UUID, qty int) error
	Clear(ctx context.Context, identity cart.Identity) error
	MergeGuestCart(ctx context.Context, guest, user cart.Identity) error
	ConvertToOrder(ctx context.Context, identity cart.Identity, details cart.OrderDetails) (*models.Order, error)
}

type addCartItemRequest struct {
	BookID   uuid.UUID `json:"book_id" validate:"required"`
	Quantity int       `json:"quantity" validate:"required,min=1"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"min=0"`
}

type mergeCartRequest struct {
	GuestSessionID uuid.UUID `json:"guest_session_id" validate:"required"`
}

type checkoutRequest struct {
	ShippingAddress string  `json:"shipping_address" validate:"required,max=500"`
	PaymentMethod   string  `json:"payment_method" validate:"required,max=50"`
	Notes           *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// CartFetch returns the caller's cart joined with the catalog.
func CartFetch(svc cartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r, logg)
		if !ok {
			return
		}
		view, err := svc.GetCart(r.Context(), identity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func CartAddItem(svc cartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r, logg)
		if !ok {
			return
		}
		var req addCartItemRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.AddItem(r.Context(), identity, req.BookID, req.Quantity); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, r, svc, identity, logg)
	}
}

// CartUpdateItem sets a line quantity; zero removes the line.
func CartUpdateItem(svc cartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r, logg)
		if !ok {
			return
		}
		bookID, err := routeUUID(r, "bookId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req updateCartItemRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.UpdateItem(r.Context(), identity, bookID, req.Quantity); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, r, svc, identity, logg)
	}
}

func CartRemoveItem(svc cartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r, logg)
		if !ok {
			return
		}
		bookID, err := routeUUID(r, "bookId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.UpdateItem(r.Context(), identity, bookID, 0); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, r, svc, identity, logg)
	}
}

func CartClear(svc cartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r, logg)
		if !ok {
			return
		}
		if err := svc.Clear(r.Context(), identity); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}

// CartMerge folds a guest session cart into the authenticated user's cart.
func CartMerge(svc cartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		var req mergeCartRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		user := cart.UserIdentity(userID)
		if err := svc.MergeGuestCart(r.Context(), cart.GuestIdentity(req.GuestSessionID), user); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, r, svc, user, logg)
	}
}

// CartCheckout converts the caller's cart into an order.
func CartCheckout(svc cartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r, logg)
		if !ok {
			return
		}
		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.ConvertToOrder(r.Context(), identity, cart.OrderDetails{
			ShippingAddress: req.ShippingAddress,
			PaymentMethod:   req.PaymentMethod,
			Notes:           req.Notes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

func writeCart(w http.ResponseWriter, r *http.Request, svc cartService, identity cart.Identity, logg *logger.Logger) {
	view, err := svc.GetCart(r.Context(), identity)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, view)
}
