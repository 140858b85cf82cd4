package cart

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookstore-backend/internal/books"
	"github.com/angelmondragon/bookstore-backend/pkg/config"
	"github.com/angelmondragon/bookstore-backend/pkg/db"
	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
	"github.com/angelmondragon/bookstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	conn   *gorm.DB
	store  *kv.Memory
	clock  *testClock
	engine Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:cart_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := kv.NewMemory(kv.WithClock(clock.Now))
	engine, err := NewEngine(EngineParams{
		Store:  store,
		Books:  books.NewRepository(conn),
		DB:     db.Wrap(conn),
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Config: config.CartConfig{TTL: 7 * 24 * time.Hour, AbandonAfter: 72 * time.Hour, AbandonBatchMax: 10},
		Now:    clock.Now,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &fixture{conn: conn, store: store, clock: clock, engine: engine}
}

func (f *fixture) book(t *testing.T, title, price, discount string, stock int) models.Book {
	t.Helper()
	book := models.Book{
		Title:          title,
		Price:          decimal.RequireFromString(price),
		DiscountAmount: decimal.RequireFromString(discount),
		Stock:          stock,
	}
	if err := f.conn.Create(&book).Error; err != nil {
		t.Fatalf("create book: %v", err)
	}
	return book
}

func mustEqual(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s: expected %s, got %s", label, want, got)
	}
}

func TestGetCartComputesTotals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b1 := f.book(t, "Moby Dick", "10.00", "0", 5)
	b2 := f.book(t, "Emma", "5.00", "1.00", 5)
	user := UserIdentity(uuid.New())

	if err := f.engine.AddItem(ctx, user, b1.ID, 2); err != nil {
		t.Fatalf("add b1: %v", err)
	}
	f.clock.Advance(time.Second)
	if err := f.engine.AddItem(ctx, user, b2.ID, 1); err != nil {
		t.Fatalf("add b2: %v", err)
	}

	view, err := f.engine.GetCart(ctx, user)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	mustEqual(t, "total", view.TotalAmount, "25.00")
	mustEqual(t, "discount", view.DiscountAmount, "1.00")
	mustEqual(t, "final", view.FinalAmount, "24.00")
	if view.ItemCount != 3 || len(view.Items) != 2 {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Items[0].BookID != b1.ID || view.Items[0].Title != "Moby Dick" {
		t.Fatalf("items should keep add order: %+v", view.Items)
	}
	mustEqual(t, "b2 final", view.Items[1].FinalPrice, "4.00")
}

func TestAddItemAccumulatesAndKeepsSnapshotPrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, "Dracula", "8.00", "0", 10)
	user := UserIdentity(uuid.New())

	_ = f.engine.AddItem(ctx, user, b.ID, 1)
	if err := f.conn.Model(&models.Book{}).Where("id = ?", b.ID).Update("price", decimal.RequireFromString("12.00")).Error; err != nil {
		t.Fatalf("reprice: %v", err)
	}
	_ = f.engine.AddItem(ctx, user, b.ID, 2)

	qty, err := f.engine.GetQuantity(ctx, user, b.ID)
	if err != nil || qty != 3 {
		t.Fatalf("expected quantity 3, got %d (%v)", qty, err)
	}
	view, _ := f.engine.GetCart(ctx, user)
	mustEqual(t, "unit", view.Items[0].UnitPrice, "8.00")
	mustEqual(t, "current", view.Items[0].CurrentPrice, "12.00")
	mustEqual(t, "total", view.TotalAmount, "24.00")
}

func TestAddItemRejectsUnknownBookAndZeroQuantity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := UserIdentity(uuid.New())

	err := f.engine.AddItem(ctx, user, uuid.New(), 1)
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	err = f.engine.AddItem(ctx, user, uuid.New(), 0)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation, got %v", err)
	}
}

func TestUpdateItemReplacesAndZeroRemoves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b1 := f.book(t, "Ulysses", "15.00", "0", 5)
	b2 := f.book(t, "Walden", "6.00", "0", 5)
	guest := GuestIdentity(uuid.New())

	_ = f.engine.AddItem(ctx, guest, b1.ID, 4)
	_ = f.engine.AddItem(ctx, guest, b2.ID, 1)

	if err := f.engine.UpdateItem(ctx, guest, b1.ID, 2); err != nil {
		t.Fatalf("update: %v", err)
	}
	if qty, _ := f.engine.GetQuantity(ctx, guest, b1.ID); qty != 2 {
		t.Fatalf("update must replace, got %d", qty)
	}

	if err := f.engine.UpdateItem(ctx, guest, b1.ID, 0); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if qty, _ := f.engine.GetQuantity(ctx, guest, b1.ID); qty != 0 {
		t.Fatalf("expected removal, got %d", qty)
	}
	view, _ := f.engine.GetCart(ctx, guest)
	if len(view.Items) != 1 || view.Items[0].BookID != b2.ID {
		t.Fatalf("removed item still visible: %+v", view.Items)
	}

	err := f.engine.UpdateItem(ctx, guest, b1.ID, 1)
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for absent item, got %v", err)
	}

	_ = f.engine.UpdateItem(ctx, guest, b2.ID, 0)
	if ok, _ := f.engine.Exists(ctx, guest); ok {
		t.Fatalf("emptied cart should be deleted")
	}
}

func TestGetCartSkipsDeletedBooks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	keep := f.book(t, "Beowulf", "3.00", "0", 5)
	gone := f.book(t, "Lost", "99.00", "0", 5)
	user := UserIdentity(uuid.New())

	_ = f.engine.AddItem(ctx, user, keep.ID, 1)
	_ = f.engine.AddItem(ctx, user, gone.ID, 1)
	if err := f.conn.Delete(&models.Book{}, "id = ?", gone.ID).Error; err != nil {
		t.Fatalf("delete book: %v", err)
	}

	view, err := f.engine.GetCart(ctx, user)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(view.Items) != 1 {
		t.Fatalf("expected deleted book to be excluded, got %+v", view.Items)
	}
	mustEqual(t, "total", view.TotalAmount, "3.00")
}

func TestCartExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, "Ivanhoe", "2.00", "0", 5)
	user := UserIdentity(uuid.New())

	_ = f.engine.AddItem(ctx, user, b.ID, 1)
	f.clock.Advance(6 * 24 * time.Hour)
	_ = f.engine.AddItem(ctx, user, b.ID, 1)
	f.clock.Advance(6 * 24 * time.Hour)

	if qty, _ := f.engine.GetQuantity(ctx, user, b.ID); qty != 2 {
		t.Fatalf("mutation should have refreshed the ttl, qty=%d", qty)
	}
	f.clock.Advance(2 * 24 * time.Hour)
	if ok, _ := f.engine.Exists(ctx, user); ok {
		t.Fatalf("cart should have expired")
	}
}

func TestMergeGuestCartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	shared := f.book(t, "Persuasion", "7.00", "0", 10)
	guestOnly := f.book(t, "Middlemarch", "9.00", "0", 10)
	guest := GuestIdentity(uuid.New())
	user := UserIdentity(uuid.New())

	_ = f.engine.AddItem(ctx, user, shared.ID, 2)
	_ = f.engine.AddItem(ctx, guest, shared.ID, 1)
	_ = f.engine.AddItem(ctx, guest, guestOnly.ID, 1)

	if err := f.engine.MergeGuestCart(ctx, guest, user); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if qty, _ := f.engine.GetQuantity(ctx, user, shared.ID); qty != 3 {
		t.Fatalf("merge should accumulate, got %d", qty)
	}
	if qty, _ := f.engine.GetQuantity(ctx, user, guestOnly.ID); qty != 1 {
		t.Fatalf("guest line missing, got %d", qty)
	}
	if ok, _ := f.engine.Exists(ctx, guest); ok {
		t.Fatalf("guest cart should be deleted")
	}

	var records []models.Cart
	f.conn.Preload("Items").Find(&records)
	if len(records) != 1 || !records[0].IsGuest || records[0].Status != enums.CartStatusMerged || len(records[0].Items) != 2 {
		t.Fatalf("unexpected merge record %+v", records)
	}

	if err := f.engine.MergeGuestCart(ctx, guest, user); err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if qty, _ := f.engine.GetQuantity(ctx, user, shared.ID); qty != 3 {
		t.Fatalf("second merge changed the user cart: %d", qty)
	}
	var count int64
	f.conn.Model(&models.Cart{}).Count(&count)
	if count != 1 {
		t.Fatalf("second merge wrote records: %d", count)
	}
}

func TestMergeGuestCartRetryAfterPartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	shared := f.book(t, "Persuasion", "7.00", "0", 10)
	guestOnly := f.book(t, "Middlemarch", "9.00", "0", 10)
	guest := GuestIdentity(uuid.New())
	user := UserIdentity(uuid.New())

	_ = f.engine.AddItem(ctx, user, shared.ID, 2)
	_ = f.engine.AddItem(ctx, guest, shared.ID, 1)
	f.clock.Advance(time.Second)
	_ = f.engine.AddItem(ctx, guest, guestOnly.ID, 1)

	// the catalog goes away after the first line: guestOnly needs a lookup
	if err := f.conn.Migrator().DropTable(&models.Book{}); err != nil {
		t.Fatalf("drop books: %v", err)
	}
	if err := f.engine.MergeGuestCart(ctx, guest, user); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if qty, _ := f.engine.GetQuantity(ctx, guest, shared.ID); qty != 0 {
		t.Fatalf("merged line should leave the guest cart, got %d", qty)
	}
	if qty, _ := f.engine.GetQuantity(ctx, guest, guestOnly.ID); qty != 1 {
		t.Fatalf("unmerged line should stay, got %d", qty)
	}

	if err := f.conn.AutoMigrate(&models.Book{}); err != nil {
		t.Fatalf("restore books: %v", err)
	}
	if err := f.conn.Create(&guestOnly).Error; err != nil {
		t.Fatalf("restore book: %v", err)
	}
	if err := f.engine.MergeGuestCart(ctx, guest, user); err != nil {
		t.Fatalf("retry merge: %v", err)
	}
	if qty, _ := f.engine.GetQuantity(ctx, user, shared.ID); qty != 3 {
		t.Fatalf("retry must not re-add merged lines, got %d", qty)
	}
	if qty, _ := f.engine.GetQuantity(ctx, user, guestOnly.ID); qty != 1 {
		t.Fatalf("retry should carry the remainder, got %d", qty)
	}
	if ok, _ := f.engine.Exists(ctx, guest); ok {
		t.Fatalf("guest cart should be gone after the retry")
	}
}

func TestMergeGuestCartRejectsSwappedIdentities(t *testing.T) {
	f := newFixture(t)
	err := f.engine.MergeGuestCart(context.Background(), UserIdentity(uuid.New()), GuestIdentity(uuid.New()))
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTransferToDatabaseEmptyCart(t *testing.T) {
	f := newFixture(t)
	record, err := f.engine.TransferToDatabase(context.Background(), UserIdentity(uuid.New()), false)
	if err != nil || record != nil {
		t.Fatalf("expected nil record, got %+v (%v)", record, err)
	}
	var count int64
	f.conn.Model(&models.Cart{}).Count(&count)
	if count != 0 {
		t.Fatalf("empty transfer wrote %d rows", count)
	}
}

func TestTransferToDatabaseSumsItems(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b1 := f.book(t, "Hamlet", "10.00", "0", 5)
	b2 := f.book(t, "Macbeth", "5.00", "1.00", 5)
	guest := GuestIdentity(uuid.New())
	_ = f.engine.AddItem(ctx, guest, b1.ID, 2)
	_ = f.engine.AddItem(ctx, guest, b2.ID, 1)

	record, err := f.engine.TransferToDatabase(ctx, guest, false)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !record.IsGuest || record.SessionID == nil || *record.SessionID != guest.ID.String() || record.UserID != nil {
		t.Fatalf("unexpected owner fields %+v", record)
	}
	mustEqual(t, "total", record.TotalAmount, "25.00")
	mustEqual(t, "final", record.FinalAmount, "24.00")
	if record.ItemCount != 3 {
		t.Fatalf("unexpected item count %d", record.ItemCount)
	}

	var items int64
	f.conn.Model(&models.CartItem{}).Where("cart_id = ?", record.ID).Count(&items)
	if items != 2 {
		t.Fatalf("expected 2 item rows, got %d", items)
	}
	if ok, _ := f.engine.Exists(ctx, guest); !ok {
		t.Fatalf("transfer must not clear the live cart")
	}
}

func TestConvertToOrderInsufficientStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	plenty := f.book(t, "Odyssey", "4.00", "0", 10)
	scarce := f.book(t, "Iliad", "4.00", "0", 1)
	user := UserIdentity(uuid.New())
	_ = f.engine.AddItem(ctx, user, plenty.ID, 1)
	_ = f.engine.AddItem(ctx, user, scarce.ID, 2)

	_, err := f.engine.ConvertToOrder(ctx, user, OrderDetails{ShippingAddress: "1 Main St", PaymentMethod: "card"})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, _ := typed.Details().(map[string]any)
	if details["book_id"] != scarce.ID.String() {
		t.Fatalf("error should name the scarce book, got %v", typed.Details())
	}

	var orders, records int64
	f.conn.Model(&models.Order{}).Count(&orders)
	f.conn.Model(&models.Cart{}).Count(&records)
	if orders != 0 || records != 0 {
		t.Fatalf("failed conversion wrote rows: orders=%d carts=%d", orders, records)
	}
	var reloaded models.Book
	f.conn.First(&reloaded, "id = ?", plenty.ID)
	if reloaded.Stock != 10 {
		t.Fatalf("stock changed on failed conversion: %d", reloaded.Stock)
	}
	if ok, _ := f.engine.Exists(ctx, user); !ok {
		t.Fatalf("cart must survive a failed conversion")
	}
}

func TestConvertToOrderWritesOrderAndClearsCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, "Candide", "6.00", "1.00", 4)
	user := UserIdentity(uuid.New())
	_ = f.engine.AddItem(ctx, user, b.ID, 3)

	order, err := f.engine.ConvertToOrder(ctx, user, OrderDetails{ShippingAddress: "1 Main St", PaymentMethod: "card"})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if order.Status != enums.OrderStatusPending || order.UserID == nil || *order.UserID != user.ID {
		t.Fatalf("unexpected order %+v", order)
	}
	mustEqual(t, "order total", order.TotalAmount, "18.00")
	mustEqual(t, "order final", order.FinalAmount, "15.00")
	if len(order.Items) != 1 || order.Items[0].Title != "Candide" {
		t.Fatalf("unexpected order items %+v", order.Items)
	}

	var reloaded models.Book
	f.conn.First(&reloaded, "id = ?", b.ID)
	if reloaded.Stock != 1 {
		t.Fatalf("expected stock 1, got %d", reloaded.Stock)
	}
	if ok, _ := f.engine.Exists(ctx, user); ok {
		t.Fatalf("cart should be cleared")
	}
	var converted int64
	f.conn.Model(&models.Cart{}).Where("status = ?", enums.CartStatusConverted).Count(&converted)
	if converted != 1 {
		t.Fatalf("expected converted cart record, got %d", converted)
	}
}

func TestConvertToOrderRejectsEmptyCart(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ConvertToOrder(context.Background(), UserIdentity(uuid.New()), OrderDetails{ShippingAddress: "x", PaymentMethod: "card"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAbandonIdleMovesStaleCarts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, "Kim", "5.00", "0", 5)
	stale := UserIdentity(uuid.New())
	fresh := GuestIdentity(uuid.New())

	_ = f.engine.AddItem(ctx, stale, b.ID, 1)
	f.clock.Advance(80 * time.Hour)
	_ = f.engine.AddItem(ctx, fresh, b.ID, 1)

	moved, err := f.engine.AbandonIdle(ctx)
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected one abandoned cart, got %d", moved)
	}
	if ok, _ := f.engine.Exists(ctx, stale); ok {
		t.Fatalf("stale cart should be cleared")
	}
	if ok, _ := f.engine.Exists(ctx, fresh); !ok {
		t.Fatalf("fresh cart should remain")
	}
	var abandoned models.Cart
	if err := f.conn.Where("status = ?", enums.CartStatusAbandoned).First(&abandoned).Error; err != nil {
		t.Fatalf("abandoned record missing: %v", err)
	}
	if abandoned.UserID == nil || *abandoned.UserID != stale.ID {
		t.Fatalf("unexpected abandoned record %+v", abandoned)
	}
}

type failingStore struct {
	kv.Store
}

func (failingStore) Get(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func TestStoreFailuresSurfaceAsDependencyErrors(t *testing.T) {
	engine, err := NewEngine(EngineParams{
		Store:  failingStore{},
		Books:  books.NewRepository(nil),
		DB:     db.Wrap(nil),
		Logger: logger.New(logger.Options{Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	_, err = engine.GetCart(context.Background(), UserIdentity(uuid.New()))
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	if _, err := NewEngine(EngineParams{}); err == nil {
		t.Fatalf("expected error without store")
	}
}

func TestParseIdentity(t *testing.T) {
	id := uuid.New()
	parsed, err := ParseIdentity("guest:" + id.String())
	if err != nil || !parsed.IsGuest() || parsed.ID != id {
		t.Fatalf("unexpected identity %+v (%v)", parsed, err)
	}
	if parsed.String() != "guest:"+id.String() {
		t.Fatalf("unexpected string %s", parsed)
	}
	for _, raw := range []string{"", "user", "admin:" + id.String(), "user:not-a-uuid", "user:" + uuid.Nil.String()} {
		if _, err := ParseIdentity(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestLineClampsDiscountToUnitPrice(t *testing.T) {
	line := Line{Quantity: 2, UnitPrice: decimal.RequireFromString("3.00"), DiscountAmount: decimal.RequireFromString("5.00")}
	mustEqual(t, "final", line.FinalPrice(), "0")
	mustEqual(t, "subtotal", line.Subtotal(), "0")

	line.DiscountAmount = decimal.RequireFromString("-1")
	mustEqual(t, "negative discount ignored", line.FinalPrice(), "3.00")
}
