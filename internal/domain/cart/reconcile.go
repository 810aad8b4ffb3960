package cart

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-storefront/internal/domain/product"
)

// IssueKind classifies a discrepancy between a cart line and the catalog.
type IssueKind string

const (
	// IssueNotFound means the product no longer exists; the line is dropped.
	IssueNotFound IssueKind = "NotFound"
	// IssueOutOfStock means stock is below the line quantity; the line is dropped.
	IssueOutOfStock IssueKind = "OutOfStock"
	// IssuePriceChanged means the catalog price differs; the line is repriced.
	IssuePriceChanged IssueKind = "PriceChanged"
	// IssueUnavailable means the catalog lookup failed; the line is kept as is.
	IssueUnavailable IssueKind = "Unavailable"
)

// Issue reports one discrepancy found by Reconcile.
type Issue struct {
	ProductID string
	Kind      IssueKind
	Detail    string
}

// Reconciliation is the result of checking a cart against the catalog.
type Reconciliation struct {
	Cart   Cart
	Issues []Issue
}

// Clean reports whether reconciliation found nothing to review.
func (r Reconciliation) Clean() bool {
	return len(r.Issues) == 0
}

// Lookup resolves a product by ID, returning product.ErrNotFound when the
// product does not exist.
type Lookup interface {
	GetByID(ctx context.Context, id string) (*product.Product, error)
}

// DefaultConcurrency bounds parallel catalog lookups per reconciliation.
const DefaultConcurrency = 8

// Reconciler checks carts against a catalog.
type Reconciler struct {
	lookup      Lookup
	concurrency int
}

// NewReconciler returns a Reconciler issuing at most concurrency catalog
// lookups at a time. Values below 1 use DefaultConcurrency.
func NewReconciler(lookup Lookup, concurrency int) *Reconciler {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Reconciler{lookup: lookup, concurrency: concurrency}
}

// Reconcile checks c against lookup with DefaultConcurrency.
func Reconcile(ctx context.Context, c Cart, lookup Lookup) Reconciliation {
	return NewReconciler(lookup, DefaultConcurrency).Reconcile(ctx, c)
}

type lookupResult struct {
	product *product.Product
	err     error
}

// Reconcile makes the cart's snapshots consistent with the catalog and
// reports every discrepancy. Lines are processed independently and keep
// their order; a failed lookup for one line never affects another.
func (r *Reconciler) Reconcile(ctx context.Context, c Cart) Reconciliation {
	results := make([]lookupResult, len(c.Lines))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, line := range c.Lines {
		g.Go(func() error {
			p, err := r.lookup.GetByID(ctx, line.ProductID)
			results[i] = lookupResult{product: p, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var out Reconciliation
	for i, line := range c.Lines {
		res := results[i]
		switch {
		case errors.Is(res.err, product.ErrNotFound) || (res.err == nil && res.product == nil):
			out.Issues = append(out.Issues, Issue{
				ProductID: line.ProductID,
				Kind:      IssueNotFound,
				Detail:    fmt.Sprintf("%s is no longer available", line.ProductName),
			})
		case res.err != nil:
			out.Cart.Lines = append(out.Cart.Lines, line)
			out.Issues = append(out.Issues, Issue{
				ProductID: line.ProductID,
				Kind:      IssueUnavailable,
				Detail:    fmt.Sprintf("%s could not be checked: %v", line.ProductName, res.err),
			})
		case !res.product.InStock(line.Quantity):
			out.Issues = append(out.Issues, Issue{
				ProductID: line.ProductID,
				Kind:      IssueOutOfStock,
				Detail:    fmt.Sprintf("%s only has %d items in stock", line.ProductName, res.product.Stock),
			})
		case !res.product.Price.Equal(line.UnitPrice):
			line.UnitPrice = res.product.Price
			out.Cart.Lines = append(out.Cart.Lines, line)
			out.Issues = append(out.Issues, Issue{
				ProductID: line.ProductID,
				Kind:      IssuePriceChanged,
				Detail:    fmt.Sprintf("Price for %s has been updated", line.ProductName),
			})
		default:
			out.Cart.Lines = append(out.Cart.Lines, line)
		}
	}
	return out
}
