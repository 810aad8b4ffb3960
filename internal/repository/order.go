package repository

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/currency"

	"github.com/xenking/kart-storefront/internal/domain/order"
)

const (
	orderColumns = `id, number, idempotency_key, customer_name, customer_email, customer_phone,
		shipping_address, payment_method, notes, items, total, currency, status, created_at, updated_at`

	decrementStockSQL = `UPDATE products SET stock = stock - $2, updated_at = now()
	WHERE id = $1 AND stock >= $2`

	insertOrderSQL = `INSERT INTO orders (id, number, idempotency_key, customer_name, customer_email,
		customer_phone, shipping_address, payment_method, notes, items, total, currency, status)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING created_at, updated_at`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByIdempotencyKeySQL = `SELECT ` + orderColumns + ` FROM orders WHERE idempotency_key = $1`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = now()
	WHERE id = $1 AND status = $2
	RETURNING ` + orderColumns

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

const (
	uniqueViolation = "23505"

	numberConstraint         = "orders_number_key"
	idempotencyKeyConstraint = "orders_idempotency_key_key"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order and decrements stock for every item in one
// transaction. The insert goes first so a duplicate number or idempotency
// key is reported even when stock has since run out. Items are serialized
// to JSON for the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, d *order.Draft) (*order.Order, error) {
	itemsJSON, err := json.Marshal(d.Items)
	if err != nil {
		return nil, fmt.Errorf("marshaling order items: %w", err)
	}

	// Lock rows in a stable order so concurrent checkouts cannot deadlock.
	items := slices.SortedFunc(slices.Values(d.Items), func(a, b order.Item) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})

	return withTx(ctx, r.pool, func(tx pgx.Tx) (*order.Order, error) {
		o := order.FromDraft(uuid.NewString(), d)
		err := tx.QueryRow(ctx, insertOrderSQL,
			o.ID, o.Number, nullText(o.IdempotencyKey),
			o.Customer.Name, o.Customer.Email, o.Customer.Phone, o.Customer.ShippingAddress,
			string(o.PaymentMethod), o.Notes, itemsJSON, o.Total, o.Currency.String(), string(o.Status),
		).Scan(&o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return nil, mapInsertError(err)
		}

		for _, it := range items {
			tag, err := tx.Exec(ctx, decrementStockSQL, it.ProductID, it.Quantity)
			if err != nil {
				return nil, fmt.Errorf("decrementing stock for %q: %w", it.ProductID, err)
			}
			if tag.RowsAffected() == 0 {
				return nil, &order.InsufficientStockError{ProductID: it.ProductID}
			}
		}
		return o, nil
	})
}

// GetByID returns the order with the given ID.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	if uuid.Validate(id) != nil {
		return nil, order.ErrNotFound
	}
	return r.queryOne(ctx, getOrderByIDSQL, id)
}

// FindByIdempotencyKey returns the order created with the given key.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	if key == "" {
		return nil, order.ErrNotFound
	}
	return r.queryOne(ctx, getOrderByIdempotencyKeySQL, key)
}

// UpdateStatus moves the order from one status to another. The update only
// applies while the stored status still equals from.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) (*order.Order, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%s to %s: %w", from, to, order.ErrInvalidTransition)
	}
	if uuid.Validate(id) != nil {
		return nil, order.ErrNotFound
	}

	o, err := r.queryOne(ctx, updateOrderStatusSQL, id, string(from), string(to))
	if !errors.Is(err, order.ErrNotFound) {
		return o, err
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking order %q: %w", id, err)
	}
	if exists {
		return nil, fmt.Errorf("order %q is no longer %s: %w", id, from, order.ErrInvalidTransition)
	}
	return nil, order.ErrNotFound
}

// Ping checks connectivity for readiness probes.
func (r *OrderRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *OrderRepository) queryOne(ctx context.Context, sql string, args ...any) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("scanning order: %w", err)
	}
	return o, nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o         order.Order
		key       pgtype.Text
		payment   string
		status    string
		itemsJSON []byte
		code      string
	)
	err := row.Scan(
		&o.ID, &o.Number, &key, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.Customer.ShippingAddress, &payment, &o.Notes, &itemsJSON, &o.Total, &code, &status,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.IdempotencyKey = key.String
	o.PaymentMethod = order.PaymentMethod(payment)
	if o.Status, err = order.ParseStatus(status); err != nil {
		return nil, err
	}
	if o.Currency, err = currency.ParseISO(code); err != nil {
		return nil, fmt.Errorf("parsing currency %q: %w", code, err)
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling order items: %w", err)
	}
	return &o, nil
}

func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case numberConstraint:
			return fmt.Errorf("inserting order: %w", order.ErrDuplicateNumber)
		case idempotencyKeyConstraint:
			return fmt.Errorf("inserting order: %w", order.ErrDuplicateIdempotencyKey)
		}
	}
	return fmt.Errorf("inserting order: %w", err)
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
