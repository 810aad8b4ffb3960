package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/kart-storefront/internal/domain/checkout"
	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/internal/session"
	"github.com/xenking/kart-storefront/pkg/httpmiddleware"
)

// --- Mock implementations ---

type mockProducts struct {
	mu   sync.Mutex
	byID map[string]*product.Product
	err  error
}

func (m *mockProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockProducts) CheckStock(ctx context.Context, id string, quantity int) (bool, error) {
	p, err := m.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return p.InStock(quantity), nil
}

func (m *mockProducts) List(_ context.Context) ([]product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]product.Product, 0, len(m.byID))
	for _, id := range []string{"p1", "p2"} {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockProducts) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, err := m.GetByID(ctx, id); err == nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockProducts) setPrice(id, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].Price = decimal.RequireFromString(price)
}

type mockOrders struct {
	mu        sync.Mutex
	byID      map[string]*order.Order
	createErr error
	created   int
}

func (m *mockOrders) Create(_ context.Context, d *order.Draft) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	for _, o := range m.byID {
		if d.IdempotencyKey != "" && o.IdempotencyKey == d.IdempotencyKey {
			return nil, order.ErrDuplicateIdempotencyKey
		}
	}
	m.created++
	o := order.FromDraft("9b2f6f0e-8f7c-4a43-9d3e-6f0a1c2b3d4e", d)
	o.CreatedAt = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	o.UpdatedAt = o.CreatedAt
	m.byID[o.ID] = o
	return o, nil
}

func (m *mockOrders) GetByID(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrders) FindByIdempotencyKey(_ context.Context, key string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if key != "" && o.IdempotencyKey == key {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *mockOrders) UpdateStatus(_ context.Context, id string, from, to order.Status) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.Status != from {
		return nil, order.ErrInvalidTransition
	}
	o.Status = to
	cp := *o
	return &cp, nil
}

type fixedNumber string

func (n fixedNumber) Next() string { return string(n) }

// --- Helpers ---

type fixture struct {
	server   *httptest.Server
	client   *http.Client
	products *mockProducts
	orders   *mockOrders
	logs     *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	products := &mockProducts{byID: map[string]*product.Product{
		"p1": {ID: "p1", Name: "Waffle", Price: decimal.RequireFromString("6.50"), Category: "Waffle", Image: "/img/waffle.jpg", Stock: 10, Featured: true},
		"p2": {ID: "p2", Name: "Macaron", Price: decimal.RequireFromString("5.00"), Category: "Macaron", Stock: 1},
	}}
	orders := &mockOrders{byID: map[string]*order.Order{}}

	svc, err := checkout.NewService(checkout.Config{}, session.NewMemoryStore(time.Hour), products, orders,
		checkout.WithNumberGenerator(fixedNumber("ORD-240501-1234")),
	)
	require.NoError(t, err)

	h := New(Config{CookieTTL: time.Hour, ImageBaseURL: "https://cdn.example.com"}, svc, order.NewService(orders), products)
	core, logs := observer.New(zapcore.InfoLevel)
	srv := httptest.NewServer(httpmiddleware.Wrap(h.Routes(), httpmiddleware.InjectLogger(zap.New(core))))
	t.Cleanup(srv.Close)

	return &fixture{
		server:   srv,
		client:   &http.Client{Jar: newJar(t)},
		products: products,
		orders:   orders,
		logs:     logs,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) (int, *value) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	if buf.Len() == 0 {
		return resp.StatusCode, nil
	}
	v, err := parse(jx.DecodeBytes(buf.Bytes()))
	require.NoError(t, err, buf.String())
	return resp.StatusCode, v
}

// value is a decoded JSON tree used for assertions.
type value struct {
	obj map[string]*value
	arr []*value
	str string
	num string
	b   bool
}

func parse(d *jx.Decoder) (*value, error) {
	v := &value{}
	switch d.Next() {
	case jx.Object:
		v.obj = map[string]*value{}
		return v, d.Obj(func(d *jx.Decoder, key string) error {
			child, err := parse(d)
			v.obj[key] = child
			return err
		})
	case jx.Array:
		return v, d.Arr(func(d *jx.Decoder) error {
			child, err := parse(d)
			v.arr = append(v.arr, child)
			return err
		})
	case jx.String:
		s, err := d.Str()
		v.str = s
		return v, err
	case jx.Number:
		n, err := d.Num()
		v.num = string(n)
		return v, err
	case jx.Bool:
		b, err := d.Bool()
		v.b = b
		return v, err
	default:
		return v, d.Skip()
	}
}

func (v *value) get(path ...string) *value {
	cur := v
	for _, p := range path {
		if cur == nil || cur.obj == nil {
			return nil
		}
		cur = cur.obj[p]
	}
	return cur
}

func (v *value) text(path ...string) string {
	if x := v.get(path...); x != nil {
		if x.str != "" {
			return x.str
		}
		return x.num
	}
	return ""
}

func newJar(t *testing.T) http.CookieJar {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return jar
}

// --- Tests ---

func TestCartLifecycle(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/api/cart", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body.get("items").arr)
	assert.Equal(t, "0.00", body.text("subtotal"))
	assert.Equal(t, "USD", body.text("currency"))

	code, body = f.do(t, http.MethodPost, "/api/cart/items", `{"productId":"p1","quantity":"2"}`)
	require.Equal(t, http.StatusOK, code)
	items := body.get("items").arr
	require.Len(t, items, 1)
	assert.Equal(t, "p1", items[0].text("productId"))
	assert.Equal(t, "6.50", items[0].text("price"))
	assert.Equal(t, "13.00", items[0].text("total"))
	assert.Equal(t, "https://cdn.example.com/img/waffle.jpg", items[0].text("image"))
	assert.Equal(t, "13.00", body.text("subtotal"))
	assert.Equal(t, "2", body.text("itemCount"))

	code, body = f.do(t, http.MethodPost, "/api/cart/items", `{"productId":"p1","quantity":-4}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "3", body.text("itemCount"), "non-positive quantity is coerced to 1")

	code, body = f.do(t, http.MethodPut, "/api/cart/items/p1", `{"quantity":5}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "5", body.text("itemCount"))

	code, body = f.do(t, http.MethodPut, "/api/cart/items/p1", `{"quantity":0}`)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body.get("items").arr)

	_, _ = f.do(t, http.MethodPost, "/api/cart/items", `{"productId":"p2"}`)
	code, body = f.do(t, http.MethodDelete, "/api/cart/items/p2", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body.get("items").arr)
}

func TestSessionsAreIsolated(t *testing.T) {
	f := newFixture(t)
	_, _ = f.do(t, http.MethodPost, "/api/cart/items", `{"productId":"p1"}`)

	other := &http.Client{Jar: newJar(t)}
	resp, err := other.Get(f.server.URL + "/api/cart")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	v, err := parse(jx.DecodeBytes(buf.Bytes()))
	require.NoError(t, err)
	assert.Empty(t, v.get("items").arr)
}

func TestSessionCookie(t *testing.T) {
	f := newFixture(t)
	h := New(Config{CookieTTL: time.Hour}, nil, nil, f.products)

	var seen string
	mw := h.sessions(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = SessionID(r.Context())
	}))

	w := httptest.NewRecorder()
	mw.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DefaultCookieName, cookies[0].Name)
	assert.Equal(t, seen, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: seen})
	mw.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, cookies[0].Value, seen, "valid cookie is reused")

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "not-a-uuid"})
	mw.ServeHTTP(httptest.NewRecorder(), req)
	assert.NotEqual(t, "not-a-uuid", seen)
}

func TestAddItem_Errors(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/cart/items", `{"productId":"missing"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "product not found", body.text("message"))

	code, _ = f.do(t, http.MethodPost, "/api/cart/items", `{"quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/cart/items", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

const validCheckout = `{"customerName":"Ada Lovelace","customerEmail":"ada@example.com","paymentMethod":"PayPal"}`

func TestCheckout_Success(t *testing.T) {
	f := newFixture(t)
	_, _ = f.do(t, http.MethodPost, "/api/cart/items", `{"productId":"p1","quantity":2}`)

	code, body := f.do(t, http.MethodPost, "/api/checkout", validCheckout)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "ORD-240501-1234", body.text("orderNumber"))
	assert.Equal(t, "Pending", body.text("status"))
	assert.Equal(t, "13.00", body.text("subtotal"))
	assert.Equal(t, "2", body.text("itemCount"))
	assert.Equal(t, "2024-05-01T10:00:00Z", body.text("createdAt"))

	_, cartBody := f.do(t, http.MethodGet, "/api/cart", "")
	assert.Empty(t, cartBody.get("items").arr, "cart is cleared after checkout")

	code, orderBody := f.do(t, http.MethodGet, "/api/orders/"+body.text("orderId"), "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "PayPal", orderBody.text("paymentMethod"))
	assert.Equal(t, "13.00", orderBody.text("total"))

	placed := f.logs.FilterMessage("Order placed").All()
	require.Len(t, placed, 1, "one log line per placed order")
	assert.Equal(t, "ORD-240501-1234", placed[0].ContextMap()["order_number"])
	assert.NotEmpty(t, placed[0].ContextMap()["session_id"])
}

func TestCheckout_EmptyCart(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/checkout", validCheckout)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "cart is empty", body.text("message"))
	assert.Zero(t, f.orders.created)
}

func TestCheckout_InvalidCustomer(t *testing.T) {
	f := newFixture(t)
	_, _ = f.do(t, http.MethodPost, "/api/cart/items", `{"productId":"p1"}`)

	code, body := f.do(t, http.MethodPost, "/api/checkout", `{"customerName":"A","customerEmail":"nope","paymentMethod":"Bitcoin"}`)
	require.Equal(t, http.StatusUnprocessableEntity, code)

	var fields []string
	for _, fe := range body.get("fields").arr {
		fields = append(fields, fe.text("field"))
	}
	assert.ElementsMatch(t, []string{"customerName", "customerEmail", "paymentMethod"}, fields)
}

func TestCheckout_NeedsReview(t *testing.T) {
	f := newFixture(t)
	_, _ = f.do(t, http.MethodPost, "/api/cart/items", `{"productId":"p1"}`)
	_, _ = f.do(t, http.MethodPost, "/api/cart/items", `{"productId":"p2","quantity":3}`)
	f.products.setPrice("p1", "7.25")

	code, body := f.do(t, http.MethodPost, "/api/checkout", validCheckout)
	require.Equal(t, http.StatusConflict, code)

	kinds := map[string]string{}
	for _, is := range body.get("issues").arr {
		kinds[is.text("productId")] = is.text("kind")
	}
	assert.Equal(t, map[string]string{"p1": "PriceChanged", "p2": "OutOfStock"}, kinds)

	items := body.get("cart", "items").arr
	require.Len(t, items, 1)
	assert.Equal(t, "7.25", items[0].text("price"))
	assert.Equal(t, "7.25", body.text("cart", "subtotal"))
	assert.Zero(t, f.orders.created)

	code, _ = f.do(t, http.MethodPost, "/api/checkout", validCheckout)
	assert.Equal(t, http.StatusCreated, code, "second attempt on the corrected cart succeeds")
}

func TestCheckout_IdempotencyKey(t *testing.T) {
	f := newFixture(t)
	_, _ = f.do(t, http.MethodPost, "/api/cart/items", `{"productId":"p1"}`)

	code, first := f.do(t, http.MethodPost, "/api/checkout", validCheckout, IdempotencyKeyHeader, "key-1")
	require.Equal(t, http.StatusCreated, code)

	_, _ = f.do(t, http.MethodPost, "/api/cart/items", `{"productId":"p1"}`)
	code, second := f.do(t, http.MethodPost, "/api/checkout", validCheckout, IdempotencyKeyHeader, "key-1")
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, first.text("orderId"), second.text("orderId"))
	assert.Equal(t, 1, f.orders.created)
}

func TestCheckout_PersistenceFailed(t *testing.T) {
	f := newFixture(t)
	_, _ = f.do(t, http.MethodPost, "/api/cart/items", `{"productId":"p1"}`)
	f.orders.createErr = errors.New("connection reset")

	code, body := f.do(t, http.MethodPost, "/api/checkout", validCheckout)
	require.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, body.get("unknownOutcome").b)

	_, cartBody := f.do(t, http.MethodGet, "/api/cart", "")
	assert.Len(t, cartBody.get("items").arr, 1, "cart survives a failed checkout")
}

func TestCheckout_InsufficientStockAtCommit(t *testing.T) {
	f := newFixture(t)
	_, _ = f.do(t, http.MethodPost, "/api/cart/items", `{"productId":"p1"}`)
	f.orders.createErr = &order.InsufficientStockError{ProductID: "p1"}

	code, _ := f.do(t, http.MethodPost, "/api/checkout", validCheckout)
	assert.Equal(t, http.StatusConflict, code)
}

func TestProducts(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/api/products", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body.arr, 2)
	assert.Equal(t, "p1", body.arr[0].text("id"))
	assert.Equal(t, "6.50", body.arr[0].text("price"))
	assert.True(t, body.arr[0].get("featured").b)
	assert.Equal(t, "https://cdn.example.com"+product.DefaultImage, body.arr[1].text("image"))

	code, body = f.do(t, http.MethodGet, "/api/products/p2", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Macaron", body.text("name"))

	code, _ = f.do(t, http.MethodGet, "/api/products/nope", "")
	assert.Equal(t, http.StatusNotFound, code)

	f.products.err = errors.New("db down")
	code, body = f.do(t, http.MethodGet, "/api/products", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal server error", body.text("message"))
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	_, _ = f.do(t, http.MethodPost, "/api/cart/items", `{"productId":"p1"}`)
	_, receipt := f.do(t, http.MethodPost, "/api/checkout", validCheckout)
	path := "/api/orders/" + receipt.text("orderId")

	code, body := f.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Pending", body.text("status"))
	for _, field := range []string{"customerName", "customerEmail", "customerPhone", "shippingAddress"} {
		assert.Nil(t, body.get(field), field)
	}

	// Lifecycle transitions are not exposed over HTTP.
	code, _ = f.do(t, http.MethodPut, path+"/status", `{"status":"Cancelled"}`)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodPut, path, `{"status":"Cancelled"}`)
	assert.Equal(t, http.StatusMethodNotAllowed, code)

	_, body = f.do(t, http.MethodGet, path, "")
	assert.Equal(t, "Pending", body.text("status"))

	code, _ = f.do(t, http.MethodGet, "/api/orders/unknown", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRouting(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.True(t, strings.Contains(body.text("message"), "not found"))

	code, _ = f.do(t, http.MethodPatch, "/api/cart", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}
