package cart

import (
	"context"
	"errors"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
)

var (
	ErrEmpty           = errors.New("cart: cart is empty")
	ErrInvalidQuantity = errors.New("cart: quantity must be greater than zero")
)

// Line is one cart row priced at the moment it was read.
type Line struct {
	ID               string
	ProductID        string
	VariantID        string
	ProductName      string
	VariantName      string
	Quantity         int
	UnitPrice        int64
	VariantSurcharge int64
}

func (l Line) Unit() inventory.Unit {
	return inventory.Unit{ProductID: l.ProductID, VariantID: l.VariantID}
}

func (l Line) Total() int64 {
	return (l.UnitPrice + l.VariantSurcharge) * int64(l.Quantity)
}

// Snapshot is the immutable set of lines frozen at checkout.
type Snapshot struct {
	UserID  string
	TakenAt time.Time
	lines   []Line
}

func Freeze(userID string, lines []Line, at time.Time) Snapshot {
	return Snapshot{UserID: userID, TakenAt: at, lines: append([]Line(nil), lines...)}
}

// Lines returns a copy; callers cannot change the snapshot.
func (s Snapshot) Lines() []Line { return append([]Line(nil), s.lines...) }

func (s Snapshot) Empty() bool { return len(s.lines) == 0 }

func (s Snapshot) Subtotal() int64 {
	var total int64
	for _, l := range s.lines {
		total += l.Total()
	}
	return total
}

// Requests converts the snapshot into ledger requests, one per line.
func (s Snapshot) Requests() []inventory.Request {
	out := make([]inventory.Request, 0, len(s.lines))
	for _, l := range s.lines {
		out = append(out, inventory.Request{Unit: l.Unit(), ProductName: l.ProductName, Quantity: l.Quantity})
	}
	return out
}

// Item is an add-to-cart request.
type Item struct {
	UserID    string
	ProductID string
	VariantID string
	Quantity  int
}

type Repository interface {
	// Snapshot reads the user's cart with live catalog prices.
	Snapshot(ctx context.Context, userID string, at time.Time) (Snapshot, error)
	// AddItem inserts the item or adds to the quantity of an existing row.
	AddItem(ctx context.Context, item Item) error
	Clear(ctx context.Context, userID string) error
}
