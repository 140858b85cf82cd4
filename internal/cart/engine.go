package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookstore-backend/pkg/config"
	"github.com/angelmondragon/bookstore-backend/pkg/db"
	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
	"github.com/angelmondragon/bookstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
)

const (
	keyPrefix = "cart"
	// activityKey scores every live cart identity by its last mutation.
	activityKey = "cart:activity"
	defaultTTL  = 7 * 24 * time.Hour
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type bookLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Book, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Book, error)
}

// Engine owns every cart key in the key-value store. Mutations of one
// identity are a full read-modify-write of the cart blob, so concurrent
// writers to the same cart are last-writer-wins.
type Engine interface {
	GetCart(ctx context.Context, identity Identity) (*View, error)
	AddItem(ctx context.Context, identity Identity, bookID uuid.UUID, qty int) error
	UpdateItem(ctx context.Context, identity Identity, bookID uuid.UUID, qty int) error
	Clear(ctx context.Context, identity Identity) error
	Exists(ctx context.Context, identity Identity) (bool, error)
	GetQuantity(ctx context.Context, identity Identity, bookID uuid.UUID) (int, error)
	MergeGuestCart(ctx context.Context, guest, user Identity) error
	TransferToDatabase(ctx context.Context, identity Identity, forceGuest bool) (*models.Cart, error)
	ConvertToOrder(ctx context.Context, identity Identity, details OrderDetails) (*models.Order, error)
	AbandonIdle(ctx context.Context) (int, error)
}

// EngineParams wires the cart engine.
type EngineParams struct {
	Store             kv.Store
	Books             bookLoader
	DB                txRunner
	Logger            *logger.Logger
	Config            config.CartConfig
	RepositoryFactory repositoryFactory
	Now               func() time.Time
}

type engine struct {
	store        kv.Store
	books        bookLoader
	db           txRunner
	logg         *logger.Logger
	ttl          time.Duration
	abandonAfter time.Duration
	abandonBatch int
	repoFactory  repositoryFactory
	now          func() time.Time
}

// NewEngine builds a cart engine backed by the provided stack.
func NewEngine(params EngineParams) (Engine, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("kv store required")
	}
	if params.Books == nil {
		return nil, fmt.Errorf("book loader required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	e := &engine{
		store:        params.Store,
		books:        params.Books,
		db:           params.DB,
		logg:         params.Logger,
		ttl:          params.Config.TTL,
		abandonAfter: params.Config.AbandonAfter,
		abandonBatch: params.Config.AbandonBatchMax,
		repoFactory:  params.RepositoryFactory,
		now:          params.Now,
	}
	if e.ttl <= 0 {
		e.ttl = defaultTTL
	}
	if e.abandonAfter <= 0 {
		e.abandonAfter = 72 * time.Hour
	}
	if e.abandonBatch <= 0 {
		e.abandonBatch = 200
	}
	if e.repoFactory == nil {
		e.repoFactory = defaultRepository
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// ItemView is a cart line joined against the current catalog.
type ItemView struct {
	BookID         uuid.UUID       `json:"book_id"`
	Title          string          `json:"title"`
	Authors        []string        `json:"authors"`
	CoverImage     *string         `json:"cover_image,omitempty"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	Stock          int             `json:"stock"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalPrice     decimal.Decimal `json:"final_price"`
	Subtotal       decimal.Decimal `json:"subtotal"`
}

// View is the read model returned by GetCart.
type View struct {
	Identity       string          `json:"identity"`
	Items          []ItemView      `json:"items"`
	ItemCount      int             `json:"item_count"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	LastActivity   *time.Time      `json:"last_activity,omitempty"`
}

// OrderDetails are the checkout fields supplied by the caller.
type OrderDetails struct {
	ShippingAddress string
	PaymentMethod   string
	Notes           *string
}

func (d OrderDetails) validate() error {
	if strings.TrimSpace(d.ShippingAddress) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipping address is required")
	}
	if strings.TrimSpace(d.PaymentMethod) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment method is required")
	}
	return nil
}

// GetCart joins the stored lines with the catalog. Lines whose book no
// longer exists are left out of the view and its totals.
func (e *engine) GetCart(ctx context.Context, identity Identity) (*View, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	state, err := e.load(ctx, identity)
	if err != nil {
		return nil, err
	}
	view := &View{Identity: identity.String(), Items: []ItemView{}}
	if state.Empty() {
		return view, nil
	}
	last := state.LastActivity
	view.LastActivity = &last

	ids := state.BookIDs()
	rows, err := e.books.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart books")
	}
	byID := make(map[uuid.UUID]models.Book, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	var totals Totals
	for _, id := range ids {
		book, ok := byID[id]
		if !ok {
			continue
		}
		line := state.Items[id]
		totals.add(line)
		view.Items = append(view.Items, ItemView{
			BookID:         id,
			Title:          book.Title,
			Authors:        book.AuthorNames(),
			CoverImage:     book.CoverImage,
			CurrentPrice:   book.Price,
			Stock:          book.Stock,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice,
			DiscountAmount: line.EffectiveDiscount(),
			FinalPrice:     line.FinalPrice(),
			Subtotal:       line.Subtotal(),
		})
	}
	view.ItemCount = totals.ItemCount
	view.TotalAmount = totals.TotalAmount
	view.DiscountAmount = totals.DiscountAmount
	view.FinalAmount = totals.FinalAmount
	return view, nil
}

// AddItem accumulates quantity on an existing line or snapshots the book's
// current price into a new one.
func (e *engine) AddItem(ctx context.Context, identity Identity, bookID uuid.UUID, qty int) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	if qty < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1").
			WithDetails(map[string]any{"book_id": bookID.String()})
	}
	state, err := e.load(ctx, identity)
	if err != nil {
		return err
	}

	if line, ok := state.Items[bookID]; ok {
		line.Quantity += qty
		state.Items[bookID] = line
		return e.save(ctx, identity, state)
	}

	book, err := e.books.FindByID(ctx, bookID)
	if err != nil {
		if db.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "book not found").
				WithDetails(map[string]any{"book_id": bookID.String()})
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load book")
	}
	state.Items[bookID] = Line{
		Quantity:       qty,
		UnitPrice:      book.Price,
		DiscountAmount: book.DiscountAmount,
		AddedAt:        e.now().UTC(),
	}
	return e.save(ctx, identity, state)
}

// UpdateItem replaces the quantity of an existing line; zero removes it.
func (e *engine) UpdateItem(ctx context.Context, identity Identity, bookID uuid.UUID, qty int) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	if qty < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative").
			WithDetails(map[string]any{"book_id": bookID.String()})
	}
	state, err := e.load(ctx, identity)
	if err != nil {
		return err
	}
	line, ok := state.Items[bookID]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found").
			WithDetails(map[string]any{"book_id": bookID.String()})
	}
	if qty == 0 {
		delete(state.Items, bookID)
	} else {
		line.Quantity = qty
		state.Items[bookID] = line
	}
	return e.save(ctx, identity, state)
}

func (e *engine) Clear(ctx context.Context, identity Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	return e.drop(ctx, identity)
}

func (e *engine) Exists(ctx context.Context, identity Identity) (bool, error) {
	if err := identity.Validate(); err != nil {
		return false, err
	}
	ok, err := e.store.Exists(ctx, identity.key())
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check cart")
	}
	return ok, nil
}

// GetQuantity returns 0 for books not in the cart.
func (e *engine) GetQuantity(ctx context.Context, identity Identity, bookID uuid.UUID) (int, error) {
	if err := identity.Validate(); err != nil {
		return 0, err
	}
	state, err := e.load(ctx, identity)
	if err != nil {
		return 0, err
	}
	return state.Items[bookID].Quantity, nil
}

// MergeGuestCart records the guest cart, replays its lines into the user
// cart through AddItem and removes the guest key. Merging an absent guest
// cart is a no-op. Each replayed line is removed from the guest cart as it
// lands, so a retry after a partial failure only carries the remainder; the
// retry writes its own merge record for those lines.
func (e *engine) MergeGuestCart(ctx context.Context, guest, user Identity) error {
	if err := guest.Validate(); err != nil {
		return err
	}
	if err := user.Validate(); err != nil {
		return err
	}
	if !guest.IsGuest() || user.IsGuest() {
		return pkgerrors.New(pkgerrors.CodeValidation, "merge requires a guest source and a user target")
	}

	state, err := e.load(ctx, guest)
	if err != nil {
		return err
	}
	if state.Empty() {
		return e.drop(ctx, guest)
	}

	record := buildRecord(guest, state, enums.CartStatusMerged, true)
	userID := user.ID
	record.UserID = &userID
	if err := e.persist(ctx, record); err != nil {
		return err
	}

	lines := len(state.Items)
	for _, bookID := range state.BookIDs() {
		line := state.Items[bookID]
		if err := e.AddItem(ctx, user, bookID, line.Quantity); err != nil {
			if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				return err
			}
			e.logg.Warn(e.logg.WithField(ctx, "book_id", bookID.String()), "skipping merged line for missing book")
		}
		delete(state.Items, bookID)
		if err := e.save(ctx, guest, state); err != nil {
			return err
		}
	}
	if err := e.drop(ctx, guest); err != nil {
		return err
	}

	logCtx := e.logg.WithFields(ctx, map[string]any{
		"guest":    guest.String(),
		"identity": user.String(),
		"lines":    lines,
	})
	e.logg.Info(logCtx, "guest cart merged")
	return nil
}

// TransferToDatabase persists the cart header and items in one
// transaction. An empty cart returns nil and writes nothing.
func (e *engine) TransferToDatabase(ctx context.Context, identity Identity, forceGuest bool) (*models.Cart, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	state, err := e.load(ctx, identity)
	if err != nil {
		return nil, err
	}
	if state.Empty() {
		return nil, nil
	}
	record := buildRecord(identity, state, enums.CartStatusSaved, forceGuest)
	if err := e.persist(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// ConvertToOrder re-validates stock, writes the order, decrements stock,
// records the converted cart and clears it, all in one transaction. The
// first line with insufficient stock aborts the conversion.
func (e *engine) ConvertToOrder(ctx context.Context, identity Identity, details OrderDetails) (*models.Order, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if err := details.validate(); err != nil {
		return nil, err
	}
	state, err := e.load(ctx, identity)
	if err != nil {
		return nil, err
	}
	if state.Empty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	ids := state.BookIDs()
	var order *models.Order
	err = e.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repoFactory(tx)
		rows, err := repo.FindBooks(ctx, ids)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order books")
		}
		byID := make(map[uuid.UUID]models.Book, len(rows))
		for _, row := range rows {
			byID[row.ID] = row
		}

		var totals Totals
		items := make([]models.OrderItem, 0, len(ids))
		for _, id := range ids {
			line := state.Items[id]
			book, ok := byID[id]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeValidation, "book is no longer available").
					WithDetails(map[string]any{"book_id": id.String()})
			}
			if book.Stock < line.Quantity {
				return insufficientStock(book, line.Quantity)
			}
			totals.add(line)
			items = append(items, models.OrderItem{
				BookID:         id,
				Title:          book.Title,
				Quantity:       line.Quantity,
				UnitPrice:      line.UnitPrice,
				DiscountAmount: line.EffectiveDiscount(),
				Subtotal:       line.Subtotal(),
			})
		}

		order = &models.Order{
			Status:          enums.OrderStatusPending,
			ShippingAddress: strings.TrimSpace(details.ShippingAddress),
			PaymentMethod:   strings.TrimSpace(details.PaymentMethod),
			Notes:           details.Notes,
			TotalAmount:     totals.TotalAmount,
			DiscountAmount:  totals.DiscountAmount,
			FinalAmount:     totals.FinalAmount,
			Items:           items,
		}
		setOwner(identity, &order.UserID, &order.SessionID)
		if err := repo.CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		for _, id := range ids {
			ok, err := repo.DecrementStock(ctx, id, state.Items[id].Quantity)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement stock")
			}
			if !ok {
				return insufficientStock(byID[id], state.Items[id].Quantity)
			}
		}

		if err := repo.CreateCart(ctx, buildRecord(identity, state, enums.CartStatusConverted, false)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record converted cart")
		}
		// last step so a store failure still rolls the order back
		return e.drop(ctx, identity)
	})
	if err != nil {
		return nil, err
	}

	logCtx := e.logg.WithFields(ctx, map[string]any{
		"identity": identity.String(),
		"order_id": order.ID.String(),
		"items":    len(order.Items),
	})
	e.logg.Info(logCtx, "cart converted to order")
	return order, nil
}

func insufficientStock(book models.Book, requested int) error {
	return pkgerrors.Newf(pkgerrors.CodeValidation, "insufficient stock for %q", book.Title).
		WithDetails(map[string]any{
			"book_id":   book.ID.String(),
			"requested": requested,
			"available": book.Stock,
		})
}

func (e *engine) persist(ctx context.Context, record *models.Cart) error {
	return e.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := e.repoFactory(tx).CreateCart(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist cart")
		}
		return nil
	})
}

// buildRecord sums totals from the snapshot lines rather than re-reading
// the store, so concurrent mutations cannot skew header and items.
func buildRecord(identity Identity, state *State, status enums.CartStatus, forceGuest bool) *models.Cart {
	var totals Totals
	items := make([]models.CartItem, 0, len(state.Items))
	for _, id := range state.BookIDs() {
		line := state.Items[id]
		totals.add(line)
		items = append(items, models.CartItem{
			BookID:         id,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice,
			DiscountAmount: line.EffectiveDiscount(),
			FinalPrice:     line.FinalPrice(),
			Subtotal:       line.Subtotal(),
		})
	}
	record := &models.Cart{
		IsGuest:        identity.IsGuest() || forceGuest,
		Status:         status,
		TotalAmount:    totals.TotalAmount,
		DiscountAmount: totals.DiscountAmount,
		FinalAmount:    totals.FinalAmount,
		ItemCount:      totals.ItemCount,
		Items:          items,
	}
	setOwner(identity, &record.UserID, &record.SessionID)
	return record
}

func setOwner(identity Identity, userID **uuid.UUID, sessionID **string) {
	if identity.IsGuest() {
		session := identity.ID.String()
		*sessionID = &session
		return
	}
	id := identity.ID
	*userID = &id
}

func (e *engine) load(ctx context.Context, identity Identity) (*State, error) {
	raw, err := e.store.Get(ctx, identity.key())
	if errors.Is(err, kv.ErrNil) {
		return newState(), nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	state := newState()
	if err := json.Unmarshal([]byte(raw), state); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode cart")
	}
	if state.Items == nil {
		state.Items = make(map[uuid.UUID]Line)
	}
	return state, nil
}

// save rewrites the blob with a fresh TTL and bumps the activity index.
func (e *engine) save(ctx context.Context, identity Identity, state *State) error {
	if state.Empty() {
		return e.drop(ctx, identity)
	}
	state.LastActivity = e.now().UTC()
	raw, err := json.Marshal(state)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode cart")
	}
	if err := e.store.Set(ctx, identity.key(), string(raw), e.ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart")
	}
	if err := e.store.ZAdd(ctx, activityKey, float64(state.LastActivity.Unix()), identity.String()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "index cart activity")
	}
	return nil
}

func (e *engine) drop(ctx context.Context, identity Identity) error {
	if err := e.store.Del(ctx, identity.key()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart")
	}
	if err := e.store.ZRem(ctx, activityKey, identity.String()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "unindex cart")
	}
	return nil
}
