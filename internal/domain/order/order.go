package order

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Sentinel errors reported by order stores.
var (
	ErrNotFound                = errors.New("order not found")
	ErrDuplicateNumber         = errors.New("duplicate order number")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInvalidTransition       = errors.New("invalid status transition")
)

// InsufficientStockError indicates that committing an order would oversell
// a product. It matches ErrInsufficientStock with errors.Is.
type InsufficientStockError struct {
	ProductID string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s", e.ProductID)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// Customer holds the contact fields captured at checkout.
type Customer struct {
	Name            string
	Email           string
	Phone           string
	ShippingAddress string
}

// Item is an immutable copy of a cart line inside an order.
type Item struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"price"`
	Image       string          `json:"image,omitempty"`
}

// Total returns UnitPrice × Quantity.
func (i Item) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Draft is the proposed order handed to a Repository. It is never mutated
// after construction; WithNumber returns a copy.
type Draft struct {
	Number         string
	IdempotencyKey string
	Customer       Customer
	PaymentMethod  PaymentMethod
	Notes          string
	Items          []Item
	Subtotal       decimal.Decimal
	Currency       currency.Unit
}

// WithNumber returns a copy of the draft carrying the given order number.
func (d *Draft) WithNumber(number string) *Draft {
	out := *d
	out.Items = slices.Clone(d.Items)
	out.Number = number
	return &out
}

// TotalItems returns the number of units in the draft.
func (d *Draft) TotalItems() int {
	return totalItems(d.Items)
}

// Order is a persisted customer order.
type Order struct {
	ID             string
	Number         string
	IdempotencyKey string
	Status         Status
	Customer       Customer
	PaymentMethod  PaymentMethod
	Notes          string
	Items          []Item
	Total          decimal.Decimal
	Currency       currency.Unit
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TotalItems returns the number of units in the order.
func (o *Order) TotalItems() int {
	return totalItems(o.Items)
}

// FromDraft builds a Pending order from a draft.
func FromDraft(id string, d *Draft) *Order {
	return &Order{
		ID:             id,
		Number:         d.Number,
		IdempotencyKey: d.IdempotencyKey,
		Status:         StatusPending,
		Customer:       d.Customer,
		PaymentMethod:  d.PaymentMethod,
		Notes:          d.Notes,
		Items:          slices.Clone(d.Items),
		Total:          d.Subtotal,
		Currency:       d.Currency,
	}
}

func totalItems(items []Item) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

// Repository persists orders.
//
// Create is the atomic commit point of a checkout: it stores the order in
// StatusPending and decrements stock for every item, or does nothing. It
// reports ErrDuplicateNumber or ErrDuplicateIdempotencyKey on unique
// constraint violations and *InsufficientStockError when any item would
// oversell.
//
// UpdateStatus changes the status only while it still equals from and
// reports ErrInvalidTransition otherwise.
type Repository interface {
	Create(ctx context.Context, d *Draft) (*Order, error)
	GetByID(ctx context.Context, id string) (*Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, from, to Status) (*Order, error)
}
