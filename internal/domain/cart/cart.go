// Package cart implements the session shopping cart as a plain value.
//
// Every mutation is a pure function of (cart, args) returning a new Cart;
// the input cart is never modified. Persisting the result is the caller's
// job. Totals are derived on every read and never stored.
package cart

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// Line is one product's presence in a cart. ProductName, UnitPrice and Image
// are a snapshot of the catalog taken when the line was added or last
// reconciled, and may drift from the live catalog until then.
type Line struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Image       string          `json:"image,omitempty"`
	Quantity    int             `json:"quantity"`
}

// Total returns UnitPrice × Quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is an ordered collection of lines with at most one line per product.
type Cart struct {
	Lines []Line `json:"lines"`
}

// Snapshot carries the catalog fields copied into a new line.
type Snapshot struct {
	ProductID string
	Name      string
	Price     decimal.Decimal
	Image     string
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Find returns the line for productID.
func (c Cart) Find(productID string) (Line, bool) {
	i := c.index(productID)
	if i < 0 {
		return Line{}, false
	}
	return c.Lines[i], true
}

// Clone returns a deep copy of the cart.
func (c Cart) Clone() Cart {
	if c.Lines == nil {
		return Cart{}
	}
	return Cart{Lines: slices.Clone(c.Lines)}
}

// Validate checks the structural invariants of a cart loaded from storage:
// positive quantities, non-empty product IDs, no duplicate products.
func (c Cart) Validate() error {
	seen := make(map[string]struct{}, len(c.Lines))
	for _, l := range c.Lines {
		if l.ProductID == "" {
			return fmt.Errorf("line without product id")
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("product %s has non-positive quantity %d", l.ProductID, l.Quantity)
		}
		if _, dup := seen[l.ProductID]; dup {
			return fmt.Errorf("product %s appears more than once", l.ProductID)
		}
		seen[l.ProductID] = struct{}{}
	}
	return nil
}

func (c Cart) index(productID string) int {
	return slices.IndexFunc(c.Lines, func(l Line) bool {
		return l.ProductID == productID
	})
}

// Add merges quantity units of the snapshot's product into the cart. An
// existing line is incremented without any upper bound (stock is enforced
// at reconciliation); otherwise a new line is appended. Non-positive
// quantities are coerced to 1.
func Add(c Cart, snap Snapshot, quantity int) Cart {
	if quantity <= 0 {
		quantity = 1
	}

	out := c.Clone()
	if i := out.index(snap.ProductID); i >= 0 {
		out.Lines[i].Quantity += quantity
		return out
	}

	out.Lines = append(out.Lines, Line{
		ProductID:   snap.ProductID,
		ProductName: snap.Name,
		UnitPrice:   snap.Price,
		Image:       snap.Image,
		Quantity:    quantity,
	})
	return out
}

// SetQuantity sets the quantity of productID's line. A quantity ≤ 0 removes
// the line. Absent products are a no-op.
func SetQuantity(c Cart, productID string, quantity int) Cart {
	if quantity <= 0 {
		return Remove(c, productID)
	}

	out := c.Clone()
	if i := out.index(productID); i >= 0 {
		out.Lines[i].Quantity = quantity
	}
	return out
}

// Remove deletes productID's line if present.
func Remove(c Cart, productID string) Cart {
	out := c.Clone()
	out.Lines = slices.DeleteFunc(out.Lines, func(l Line) bool {
		return l.ProductID == productID
	})
	if len(out.Lines) == 0 {
		out.Lines = nil
	}
	return out
}

// Summary holds the derived totals of a cart.
type Summary struct {
	Subtotal  decimal.Decimal
	ItemCount int
}

// Totals computes the subtotal and item count from the cart's lines.
func Totals(c Cart) Summary {
	s := Summary{Subtotal: decimal.Zero}
	for _, l := range c.Lines {
		s.Subtotal = s.Subtotal.Add(l.Total())
		s.ItemCount += l.Quantity
	}
	return s
}
