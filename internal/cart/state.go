package cart

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Line is one cart entry with the prices captured when the book was first
// added. Later catalog price changes are not applied.
type Line struct {
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	AddedAt        time.Time       `json:"added_at"`
}

// EffectiveDiscount clamps the discount to [0, unit price].
func (l Line) EffectiveDiscount() decimal.Decimal {
	d := l.DiscountAmount
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(l.UnitPrice) {
		return l.UnitPrice
	}
	return d
}

// FinalPrice is the unit price after discount. It is never negative.
func (l Line) FinalPrice() decimal.Decimal {
	return l.UnitPrice.Sub(l.EffectiveDiscount())
}

// Subtotal is FinalPrice times quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.FinalPrice().Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// State is the blob stored under a cart key.
type State struct {
	Items        map[uuid.UUID]Line `json:"items"`
	LastActivity time.Time          `json:"last_activity"`
}

func newState() *State {
	return &State{Items: make(map[uuid.UUID]Line)}
}

func (s *State) Empty() bool {
	return s == nil || len(s.Items) == 0
}

// BookIDs returns item ids ordered by add time, then id.
func (s *State) BookIDs() []uuid.UUID {
	if s == nil {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(s.Items))
	for id := range s.Items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool {
		la, lb := s.Items[ids[a]], s.Items[ids[b]]
		if !la.AddedAt.Equal(lb.AddedAt) {
			return la.AddedAt.Before(lb.AddedAt)
		}
		return ids[a].String() < ids[b].String()
	})
	return ids
}

// Totals are summed over the given lines.
type Totals struct {
	TotalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	ItemCount      int
}

func (t *Totals) add(l Line) {
	qty := decimal.NewFromInt(int64(l.Quantity))
	t.TotalAmount = t.TotalAmount.Add(l.UnitPrice.Mul(qty))
	t.DiscountAmount = t.DiscountAmount.Add(l.EffectiveDiscount().Mul(qty))
	t.FinalAmount = t.TotalAmount.Sub(t.DiscountAmount)
	t.ItemCount += l.Quantity
}
