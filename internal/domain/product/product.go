package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// DefaultImage is used for products stored without an image.
const DefaultImage = "/images/default-product.jpg"

// Product represents a catalog item available for purchase. The catalog is
// the authoritative source of price and stock; carts only hold snapshots.
type Product struct {
	ID          string
	Name        string
	Price       decimal.Decimal
	Category    string
	Image       string
	Description string
	Stock       int
	Featured    bool
}

// InStock reports whether quantity units can currently be supplied.
func (p *Product) InStock(quantity int) bool {
	return p.Stock >= quantity
}

// ImageOrDefault returns the product image or DefaultImage when unset.
func (p *Product) ImageOrDefault() string {
	if p.Image == "" {
		return DefaultImage
	}
	return p.Image
}

// Catalog is the read-only view of the product catalog used by carts and
// checkout.
type Catalog interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	CheckStock(ctx context.Context, id string, quantity int) (bool, error)
}

// Repository defines read operations for the product catalog.
type Repository interface {
	Catalog
	List(ctx context.Context) ([]Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
