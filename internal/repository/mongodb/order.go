package mongodb

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/text/currency"

	"github.com/xenking/kart-storefront/internal/domain/order"
)

const (
	numberIndex         = "orders_number_key"
	idempotencyKeyIndex = "orders_idempotency_key_key"
)

type itemDoc struct {
	ProductID   string               `bson:"product_id"`
	ProductName string               `bson:"product_name"`
	Quantity    int                  `bson:"quantity"`
	Price       primitive.Decimal128 `bson:"price"`
	Image       string               `bson:"image,omitempty"`
}

type orderDoc struct {
	ID              string               `bson:"_id"`
	Number          string               `bson:"number"`
	IdempotencyKey  string               `bson:"idempotency_key,omitempty"`
	CustomerName    string               `bson:"customer_name"`
	CustomerEmail   string               `bson:"customer_email"`
	CustomerPhone   string               `bson:"customer_phone,omitempty"`
	ShippingAddress string               `bson:"shipping_address,omitempty"`
	PaymentMethod   string               `bson:"payment_method"`
	Notes           string               `bson:"notes,omitempty"`
	Items           []itemDoc            `bson:"items"`
	Total           primitive.Decimal128 `bson:"total"`
	Currency        string               `bson:"currency"`
	Status          string               `bson:"status"`
	CreatedAt       time.Time            `bson:"created_at"`
	UpdatedAt       time.Time            `bson:"updated_at"`
}

func newOrderDoc(o *order.Order) (orderDoc, error) {
	total, err := toDecimal128(o.Total)
	if err != nil {
		return orderDoc{}, err
	}
	items := make([]itemDoc, len(o.Items))
	for i, it := range o.Items {
		price, err := toDecimal128(it.UnitPrice)
		if err != nil {
			return orderDoc{}, err
		}
		items[i] = itemDoc{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       price,
			Image:       it.Image,
		}
	}

	return orderDoc{
		ID:              o.ID,
		Number:          o.Number,
		IdempotencyKey:  o.IdempotencyKey,
		CustomerName:    o.Customer.Name,
		CustomerEmail:   o.Customer.Email,
		CustomerPhone:   o.Customer.Phone,
		ShippingAddress: o.Customer.ShippingAddress,
		PaymentMethod:   string(o.PaymentMethod),
		Notes:           o.Notes,
		Items:           items,
		Total:           total,
		Currency:        o.Currency.String(),
		Status:          string(o.Status),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}, nil
}

func (d orderDoc) toDomain() (*order.Order, error) {
	total, err := fromDecimal128(d.Total)
	if err != nil {
		return nil, err
	}
	status, err := order.ParseStatus(d.Status)
	if err != nil {
		return nil, err
	}
	unit, err := currency.ParseISO(d.Currency)
	if err != nil {
		return nil, fmt.Errorf("parsing currency %q: %w", d.Currency, err)
	}

	items := make([]order.Item, len(d.Items))
	for i, it := range d.Items {
		price, err := fromDecimal128(it.Price)
		if err != nil {
			return nil, err
		}
		items[i] = order.Item{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   price,
			Image:       it.Image,
		}
	}

	return &order.Order{
		ID:             d.ID,
		Number:         d.Number,
		IdempotencyKey: d.IdempotencyKey,
		Status:         status,
		Customer: order.Customer{
			Name:            d.CustomerName,
			Email:           d.CustomerEmail,
			Phone:           d.CustomerPhone,
			ShippingAddress: d.ShippingAddress,
		},
		PaymentMethod: order.PaymentMethod(d.PaymentMethod),
		Notes:         d.Notes,
		Items:         items,
		Total:         total,
		Currency:      unit,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}, nil
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by MongoDB.
type OrderRepository struct {
	client   *mongo.Client
	orders   *mongo.Collection
	products *mongo.Collection
	now      func() time.Time
}

// NewOrderRepository returns an OrderRepository over db.
func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{
		client:   db.Client(),
		orders:   db.Collection(ordersCollection),
		products: db.Collection(productsCollection),
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// Create inserts the order and decrements stock for every item in a single
// transaction. The insert goes first so a duplicate number or idempotency
// key is reported even when stock has since run out.
func (r *OrderRepository) Create(ctx context.Context, d *order.Draft) (*order.Order, error) {
	o := order.FromDraft(uuid.NewString(), d)
	o.CreatedAt = r.now()
	o.UpdatedAt = o.CreatedAt

	doc, err := newOrderDoc(o)
	if err != nil {
		return nil, err
	}

	items := slices.SortedFunc(slices.Values(d.Items), func(a, b order.Item) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})

	sess, err := r.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		if _, err := r.orders.InsertOne(sc, doc); err != nil {
			return nil, mapInsertError(err)
		}

		for _, it := range items {
			res, err := r.products.UpdateOne(sc,
				bson.M{"_id": it.ProductID, "stock": bson.M{"$gte": it.Quantity}},
				bson.M{"$inc": bson.M{"stock": -it.Quantity}},
			)
			if err != nil {
				return nil, fmt.Errorf("decrementing stock for %q: %w", it.ProductID, err)
			}
			if res.MatchedCount == 0 {
				return nil, &order.InsufficientStockError{ProductID: it.ProductID}
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// GetByID returns the order with the given ID.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindByIdempotencyKey returns the order created with the given key.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	if key == "" {
		return nil, order.ErrNotFound
	}
	return r.findOne(ctx, bson.M{"idempotency_key": key})
}

// UpdateStatus moves the order from one status to another. The update only
// applies while the stored status still equals from.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) (*order.Order, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%s to %s: %w", from, to, order.ErrInvalidTransition)
	}

	var doc orderDoc
	err := r.orders.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to), "updated_at": r.now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.toDomain()
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("updating order %q: %w", id, err)
	}

	n, err := r.orders.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, fmt.Errorf("checking order %q: %w", id, err)
	}
	if n > 0 {
		return nil, fmt.Errorf("order %q is no longer %s: %w", id, from, order.ErrInvalidTransition)
	}
	return nil, order.ErrNotFound
}

func (r *OrderRepository) findOne(ctx context.Context, filter bson.M) (*order.Order, error) {
	var doc orderDoc
	if err := r.orders.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order: %w", err)
	}
	return doc.toDomain()
}

func mapInsertError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		switch msg := err.Error(); {
		case strings.Contains(msg, numberIndex):
			return fmt.Errorf("inserting order: %w", order.ErrDuplicateNumber)
		case strings.Contains(msg, idempotencyKeyIndex):
			return fmt.Errorf("inserting order: %w", order.ErrDuplicateIdempotencyKey)
		}
	}
	return fmt.Errorf("inserting order: %w", err)
}
