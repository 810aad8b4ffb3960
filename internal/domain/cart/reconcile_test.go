package cart

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xenking/kart-storefront/internal/domain/product"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- Mock implementations ---

type mockCatalog struct {
	mu       sync.Mutex
	products map[string]product.Product
	errs     map[string]error
	calls    int
}

func newCatalog(products ...product.Product) *mockCatalog {
	m := &mockCatalog{
		products: make(map[string]product.Product, len(products)),
		errs:     make(map[string]error),
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *mockCatalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if err, ok := m.errs[id]; ok {
		return nil, err
	}
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func catalogProduct(id, price string, stock int) product.Product {
	return product.Product{
		ID:    id,
		Name:  "Product " + id,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	}
}

func line(id, price string, qty int) Line {
	return Line{
		ProductID:   id,
		ProductName: "Product " + id,
		UnitPrice:   decimal.RequireFromString(price),
		Quantity:    qty,
	}
}

// --- Tests ---

func TestReconcile_PriceChanged(t *testing.T) {
	c := Cart{Lines: []Line{line("P1", "10", 2)}}
	catalog := newCatalog(catalogProduct("P1", "12", 100))

	rec := Reconcile(context.Background(), c, catalog)

	require.Len(t, rec.Cart.Lines, 1)
	assert.True(t, decimal.NewFromInt(12).Equal(rec.Cart.Lines[0].UnitPrice))
	assert.Equal(t, 2, rec.Cart.Lines[0].Quantity)
	require.Len(t, rec.Issues, 1)
	assert.Equal(t, "P1", rec.Issues[0].ProductID)
	assert.Equal(t, IssuePriceChanged, rec.Issues[0].Kind)

	// The input cart keeps its stale snapshot.
	assert.True(t, decimal.NewFromInt(10).Equal(c.Lines[0].UnitPrice))
}

func TestReconcile_OutOfStock(t *testing.T) {
	c := Cart{Lines: []Line{line("P2", "5", 5)}}
	catalog := newCatalog(catalogProduct("P2", "5", 3))

	rec := Reconcile(context.Background(), c, catalog)

	assert.Empty(t, rec.Cart.Lines)
	require.Len(t, rec.Issues, 1)
	assert.Equal(t, IssueOutOfStock, rec.Issues[0].Kind)
	assert.Equal(t, "Product P2 only has 3 items in stock", rec.Issues[0].Detail)
}

func TestReconcile_NotFound(t *testing.T) {
	c := Cart{Lines: []Line{line("gone", "5", 1)}}

	rec := Reconcile(context.Background(), c, newCatalog())

	assert.Empty(t, rec.Cart.Lines)
	require.Len(t, rec.Issues, 1)
	assert.Equal(t, IssueNotFound, rec.Issues[0].Kind)
	assert.Equal(t, "Product gone is no longer available", rec.Issues[0].Detail)
}

func TestReconcile_StockEqualToQuantityIsEnough(t *testing.T) {
	c := Cart{Lines: []Line{line("p1", "5", 3)}}

	rec := Reconcile(context.Background(), c, newCatalog(catalogProduct("p1", "5", 3)))

	assert.True(t, rec.Clean())
	assert.Len(t, rec.Cart.Lines, 1)
}

func TestReconcile_PriceComparisonIgnoresScale(t *testing.T) {
	c := Cart{Lines: []Line{line("p1", "12.50", 1)}}

	rec := Reconcile(context.Background(), c, newCatalog(catalogProduct("p1", "12.5", 10)))

	assert.True(t, rec.Clean())
}

func TestReconcile_MixedPreservesOrder(t *testing.T) {
	c := Cart{Lines: []Line{
		line("a", "1.00", 1),
		line("b", "2.00", 9),
		line("c", "3.00", 1),
		line("d", "4.00", 2),
		line("e", "5.00", 1),
	}}
	catalog := newCatalog(
		catalogProduct("a", "1.00", 10),
		catalogProduct("b", "2.00", 1),
		catalogProduct("d", "4.50", 10),
		catalogProduct("e", "5.00", 10),
	)

	rec := Reconcile(context.Background(), c, catalog)

	ids := make([]string, len(rec.Cart.Lines))
	for i, l := range rec.Cart.Lines {
		ids[i] = l.ProductID
	}
	assert.Equal(t, []string{"a", "d", "e"}, ids)

	kinds := make([]IssueKind, len(rec.Issues))
	for i, is := range rec.Issues {
		kinds[i] = is.Kind
	}
	assert.Equal(t, []IssueKind{IssueOutOfStock, IssueNotFound, IssuePriceChanged}, kinds)
}

func TestReconcile_LookupFailureIsIsolated(t *testing.T) {
	c := Cart{Lines: []Line{
		line("broken", "1.00", 1),
		line("ok", "2.00", 1),
		line("repriced", "3.00", 1),
	}}
	catalog := newCatalog(
		catalogProduct("ok", "2.00", 5),
		catalogProduct("repriced", "3.25", 5),
	)
	catalog.errs["broken"] = errors.New("connection reset")

	rec := Reconcile(context.Background(), c, catalog)

	require.Len(t, rec.Cart.Lines, 3, "failed lookups keep their line")
	assert.Equal(t, "broken", rec.Cart.Lines[0].ProductID)
	assert.True(t, decimal.RequireFromString("3.25").Equal(rec.Cart.Lines[2].UnitPrice))

	require.Len(t, rec.Issues, 2)
	assert.Equal(t, IssueUnavailable, rec.Issues[0].Kind)
	assert.Contains(t, rec.Issues[0].Detail, "connection reset")
	assert.Equal(t, IssuePriceChanged, rec.Issues[1].Kind)
	assert.Equal(t, 3, catalog.calls)
}

func TestReconcile_Idempotent(t *testing.T) {
	c := Cart{Lines: []Line{
		line("a", "1.00", 1),
		line("b", "2.00", 4),
		line("c", "3.00", 1),
		line("gone", "9.00", 1),
	}}
	catalog := newCatalog(
		catalogProduct("a", "1.10", 10),
		catalogProduct("b", "2.00", 2),
		catalogProduct("c", "3.00", 1),
	)

	first := Reconcile(context.Background(), c, catalog)
	require.False(t, first.Clean())

	second := Reconcile(context.Background(), first.Cart, catalog)
	assert.Empty(t, second.Issues)
	if diff := cmp.Diff(first.Cart, second.Cart, decimalComparer); diff != "" {
		t.Errorf("second reconciliation changed cart (-first +second):\n%s", diff)
	}
}

func TestReconcile_EmptyCart(t *testing.T) {
	catalog := newCatalog()

	rec := NewReconciler(catalog, 0).Reconcile(context.Background(), Cart{})

	assert.True(t, rec.Clean())
	assert.True(t, rec.Cart.IsEmpty())
	assert.Zero(t, catalog.calls)
}

func TestReconcile_ConcurrencyLimitOfOne(t *testing.T) {
	var lines []Line
	products := make([]product.Product, 0, 20)
	for i := range 20 {
		id := string(rune('a' + i))
		lines = append(lines, line(id, "1.00", 1))
		products = append(products, catalogProduct(id, "1.00", 1))
	}

	rec := NewReconciler(newCatalog(products...), 1).Reconcile(context.Background(), Cart{Lines: lines})

	assert.True(t, rec.Clean())
	assert.Len(t, rec.Cart.Lines, 20)
}
