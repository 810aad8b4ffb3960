// Package checkout implements the caller-facing cart and checkout engine:
// session cart mutations, catalog reconciliation and the one-shot
// transition from cart to a persisted order.
package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/text/currency"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/product"
)

// CartStore holds one cart per session. Load of an unknown session returns
// an empty cart.
type CartStore interface {
	Load(ctx context.Context, sessionID string) (cart.Cart, error)
	Save(ctx context.Context, sessionID string, c cart.Cart) error
	Clear(ctx context.Context, sessionID string) error
}

// NumberGenerator yields candidate order numbers.
type NumberGenerator interface {
	Next() string
}

// Publisher announces committed orders.
type Publisher interface {
	OrderPlaced(ctx context.Context, o *order.Order) error
}

// Config controls checkout behaviour.
type Config struct {
	// MaxNumberAttempts bounds order-number regeneration on collisions.
	MaxNumberAttempts int
	// PersistTimeout bounds a single order commit. Zero disables it.
	PersistTimeout time.Duration
	// LookupConcurrency limits parallel catalog lookups per reconciliation.
	LookupConcurrency int
	Currency          currency.Unit
}

const defaultMaxNumberAttempts = 3

func (c Config) withDefaults() Config {
	if c.MaxNumberAttempts <= 0 {
		c.MaxNumberAttempts = defaultMaxNumberAttempts
	}
	if c.LookupConcurrency <= 0 {
		c.LookupConcurrency = cart.DefaultConcurrency
	}
	if c.Currency == (currency.Unit{}) {
		c.Currency = currency.USD
	}
	return c
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithPublisher sets the publisher notified after each committed order.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithNumberGenerator overrides the order number generator.
func WithNumberGenerator(g NumberGenerator) Option {
	return func(s *Service) { s.numbers = g }
}

// WithMeterProvider sets the meter provider for checkout metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider for checkout spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// AddItemRequest adds quantity units of a product to the cart.
type AddItemRequest struct {
	ProductID string
	Quantity  int
}

// SetQuantityRequest replaces the quantity of a cart line. A non-positive
// quantity removes the line.
type SetQuantityRequest struct {
	ProductID string
	Quantity  int
}

// View is a cart together with its derived totals.
type View struct {
	Cart     cart.Cart
	Summary  cart.Summary
	Currency currency.Unit
}

// Receipt confirms a committed order.
type Receipt struct {
	OrderID     string
	OrderNumber string
	Status      order.Status
	Subtotal    decimal.Decimal
	ItemCount   int
	Currency    currency.Unit
	CreatedAt   time.Time
}

// Service is the cart and checkout engine.
type Service struct {
	cfg        Config
	carts      CartStore
	catalog    product.Catalog
	orders     order.Repository
	reconciler *cart.Reconciler
	numbers    NumberGenerator
	publisher  Publisher

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metrics        *metrics
	tracer         trace.Tracer
}

// NewService creates a checkout Service.
func NewService(
	cfg Config,
	carts CartStore,
	catalog product.Catalog,
	orders order.Repository,
	opts ...Option,
) (*Service, error) {
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:            cfg,
		carts:          carts,
		catalog:        catalog,
		orders:         orders,
		reconciler:     cart.NewReconciler(catalog, cfg.LookupConcurrency),
		numbers:        order.NewNumberGenerator(),
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	for _, opt := range opts {
		opt(s)
	}

	m, err := newMetrics(s.meterProvider)
	if err != nil {
		return nil, errors.Wrap(err, "init metrics")
	}
	s.metrics = m
	s.tracer = s.tracerProvider.Tracer(instrumentationName)

	return s, nil
}

// ViewCart returns the session cart and its totals.
func (s *Service) ViewCart(ctx context.Context, sessionID string) (*View, error) {
	c, err := s.carts.Load(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	return s.view(c), nil
}

// AddItem snapshots the product from the catalog and merges it into the
// session cart. Stock is checked at checkout, not here.
func (s *Service) AddItem(ctx context.Context, sessionID string, req AddItemRequest) (*View, error) {
	p, err := s.catalog.GetByID(ctx, req.ProductID)
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}

	return s.mutate(ctx, sessionID, func(c cart.Cart) cart.Cart {
		return cart.Add(c, cart.Snapshot{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Image:     p.ImageOrDefault(),
		}, req.Quantity)
	})
}

// SetQuantity replaces the quantity of a line; absent products are ignored.
func (s *Service) SetQuantity(ctx context.Context, sessionID string, req SetQuantityRequest) (*View, error) {
	return s.mutate(ctx, sessionID, func(c cart.Cart) cart.Cart {
		return cart.SetQuantity(c, req.ProductID, req.Quantity)
	})
}

// RemoveItem drops a line from the cart; absent products are ignored.
func (s *Service) RemoveItem(ctx context.Context, sessionID, productID string) (*View, error) {
	return s.mutate(ctx, sessionID, func(c cart.Cart) cart.Cart {
		return cart.Remove(c, productID)
	})
}

func (s *Service) mutate(ctx context.Context, sessionID string, fn func(cart.Cart) cart.Cart) (*View, error) {
	c, err := s.carts.Load(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	c = fn(c)
	if err := s.carts.Save(ctx, sessionID, c); err != nil {
		return nil, errors.Wrap(err, "save cart")
	}
	return s.view(c), nil
}

// Currency returns the currency carts and orders are priced in.
func (s *Service) Currency() currency.Unit {
	return s.cfg.Currency
}

func (s *Service) view(c cart.Cart) *View {
	return &View{
		Cart:     c,
		Summary:  cart.Totals(c),
		Currency: s.cfg.Currency,
	}
}

// attempt tracks the state of a single checkout for logging and metrics.
type attempt struct {
	lg    *zap.Logger
	state State
}

func (a *attempt) enter(st State) {
	a.lg.Debug("Checkout state", zap.String("from", string(a.state)), zap.String("to", string(st)))
	a.state = st
}

// Checkout turns the session cart into an order.
//
// The cart is reconciled against the catalog first; any change returns a
// *NeedsReviewError and saves the corrected cart for the user to confirm.
// A clean cart is committed through the order store in a single atomic
// step, after which the cart is cleared. On failure the cart is left as is.
//
// With an idempotency key, an order already stored under that key is
// returned as is, both before reconciling and before a corrected cart is
// saved, so a resubmission racing the first commit never refills the
// cleared cart.
func (s *Service) Checkout(ctx context.Context, sessionID string, req CheckoutRequest) (_ *Receipt, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Checkout",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	lg := zctx.From(ctx).With(zap.String("session_id", sessionID))
	att := &attempt{lg: lg}
	att.enter(StateValidating)
	defer func() {
		if rerr != nil && !att.state.Terminal() {
			att.enter(StateFailed)
		}
		span.SetAttributes(attribute.String("checkout.state", string(att.state)))
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		s.metrics.recordAttempt(ctx, att.state)
	}()

	c, err := s.carts.Load(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}
	if err := c.Validate(); err != nil {
		return nil, &InvalidCartError{Err: err}
	}
	customer, pm, err := validateCustomer(req)
	if err != nil {
		return nil, err
	}

	if o, err := s.replayed(ctx, req.IdempotencyKey); err != nil || o != nil {
		if err != nil {
			return nil, err
		}
		return s.complete(ctx, att, sessionID, o, true), nil
	}

	att.enter(StateReconciling)
	rec := s.reconciler.Reconcile(ctx, c)
	if !rec.Clean() {
		// A commit under the same key may have landed during reconciliation.
		if o, err := s.replayed(ctx, req.IdempotencyKey); err != nil || o != nil {
			if err != nil {
				return nil, err
			}
			return s.complete(ctx, att, sessionID, o, true), nil
		}
		att.enter(StateNeedsReview)
		s.metrics.recordIssues(ctx, rec.Issues)
		if err := s.carts.Save(ctx, sessionID, rec.Cart); err != nil {
			lg.Warn("Failed to save reconciled cart", zap.Error(err))
		}
		lg.Info("Cart needs review", zap.Int("issues", len(rec.Issues)))
		return nil, &NeedsReviewError{Cart: rec.Cart, Issues: rec.Issues}
	}

	att.enter(StateAssembling)
	summary := cart.Totals(rec.Cart)
	draft := &order.Draft{
		IdempotencyKey: req.IdempotencyKey,
		Customer:       customer,
		PaymentMethod:  pm,
		Notes:          req.Notes,
		Items:          orderItems(rec.Cart),
		Subtotal:       summary.Subtotal,
		Currency:       s.cfg.Currency,
	}

	att.enter(StatePersisting)
	o, replayed, err := s.persist(ctx, draft)
	if err != nil {
		att.enter(StateFailed)
		lg.Error("Checkout failed", zap.Error(err))
		return nil, err
	}
	return s.complete(ctx, att, sessionID, o, replayed), nil
}

// complete finishes a committed checkout: the cart is cleared and, unless
// the order was replayed, the placement is announced.
func (s *Service) complete(ctx context.Context, att *attempt, sessionID string, o *order.Order, replayed bool) *Receipt {
	lg := att.lg
	att.enter(StateCommitted)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("order.number", o.Number))

	if err := s.carts.Clear(ctx, sessionID); err != nil {
		lg.Warn("Failed to clear cart after checkout", zap.String("order_number", o.Number), zap.Error(err))
	}
	if replayed {
		lg.Info("Checkout replayed", zap.String("order_number", o.Number))
		return newReceipt(o)
	}

	lg.Info("Order placed",
		zap.String("order_number", o.Number),
		zap.String("total", o.Total.StringFixed(2)),
		zap.Int("items", o.TotalItems()),
	)
	if s.publisher != nil {
		if err := s.publisher.OrderPlaced(ctx, o); err != nil {
			lg.Warn("Failed to publish order event", zap.String("order_number", o.Number), zap.Error(err))
		}
	}
	return newReceipt(o)
}

// replayed returns the order stored under key, or nil when there is none.
func (s *Service) replayed(ctx context.Context, key string) (*order.Order, error) {
	if key == "" {
		return nil, nil
	}
	o, err := s.orders.FindByIdempotencyKey(ctx, key)
	switch {
	case err == nil:
		return o, nil
	case errors.Is(err, order.ErrNotFound):
		return nil, nil
	default:
		return nil, &PersistenceFailedError{Err: errors.Wrap(err, "look up idempotency key")}
	}
}

// persist commits the draft, regenerating the order number on collisions.
// It reports replayed when the idempotency key matched an existing order.
func (s *Service) persist(ctx context.Context, draft *order.Draft) (_ *order.Order, replayed bool, _ error) {
	lg := zctx.From(ctx)

	var lastErr error
	for n := 1; n <= s.cfg.MaxNumberAttempts; n++ {
		d := draft.WithNumber(s.numbers.Next())
		o, err := s.create(ctx, d)
		switch {
		case err == nil:
			return o, false, nil
		case errors.Is(err, order.ErrDuplicateNumber):
			lg.Debug("Order number collision", zap.String("number", d.Number), zap.Int("attempt", n))
			lastErr = err
		case errors.Is(err, order.ErrDuplicateIdempotencyKey):
			existing, ferr := s.orders.FindByIdempotencyKey(ctx, d.IdempotencyKey)
			if ferr != nil {
				return nil, false, &PersistenceFailedError{Err: errors.Wrap(ferr, "load replayed order"), Attempts: n}
			}
			return existing, true, nil
		case isTimeout(err):
			if existing, ok := s.recheck(ctx, d.IdempotencyKey); ok {
				return existing, false, nil
			}
			return nil, false, &PersistenceFailedError{Err: err, Attempts: n, UnknownOutcome: true}
		default:
			return nil, false, &PersistenceFailedError{Err: err, Attempts: n}
		}
	}

	return nil, false, &PersistenceFailedError{
		Err:      errors.Wrap(lastErr, "order numbers exhausted"),
		Attempts: s.cfg.MaxNumberAttempts,
	}
}

func (s *Service) create(ctx context.Context, d *order.Draft) (*order.Order, error) {
	if s.cfg.PersistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PersistTimeout)
		defer cancel()
	}
	return s.orders.Create(ctx, d)
}

// recheck looks the order up by idempotency key after a commit whose
// outcome is unknown. It runs detached from the caller's cancellation.
func (s *Service) recheck(ctx context.Context, key string) (*order.Order, bool) {
	if key == "" {
		return nil, false
	}
	lookupCtx := context.WithoutCancel(ctx)
	if s.cfg.PersistTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(lookupCtx, s.cfg.PersistTimeout)
		defer cancel()
	}

	o, err := s.orders.FindByIdempotencyKey(lookupCtx, key)
	if err != nil {
		if !errors.Is(err, order.ErrNotFound) {
			zctx.From(ctx).Warn("Idempotency recheck failed", zap.Error(err))
		}
		return nil, false
	}
	return o, true
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func orderItems(c cart.Cart) []order.Item {
	items := make([]order.Item, len(c.Lines))
	for i, l := range c.Lines {
		items[i] = order.Item{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Image:       l.Image,
		}
	}
	return items
}

func newReceipt(o *order.Order) *Receipt {
	return &Receipt{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		Status:      o.Status,
		Subtotal:    o.Total,
		ItemCount:   o.TotalItems(),
		Currency:    o.Currency,
		CreatedAt:   o.CreatedAt,
	}
}
