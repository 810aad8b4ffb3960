package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/internal/repository"
	"github.com/xenking/kart-storefront/internal/repository/mongodb"
)

type productJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	Image       string          `json:"image"`
	Description string          `json:"description"`
	Stock       *int            `json:"stock"`
	Featured    bool            `json:"featured"`
}

type upserter interface {
	Upsert(ctx context.Context, p product.Product) error
}

const defaultStock = 10

func main() {
	var (
		driver        string
		databaseURL   string
		mongoURI      string
		mongoDatabase string
		productsFile  string
	)

	flag.StringVar(&driver, "driver", "postgres", "target store: postgres or mongo")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&mongoURI, "mongo-uri", "", "MongoDB connection URI (or SHOP_MONGO_URI env)")
	flag.StringVar(&mongoDatabase, "mongo-database", "storefront", "MongoDB database name")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file, optionally gzipped (.gz)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if mongoURI == "" {
		mongoURI = os.Getenv("SHOP_MONGO_URI")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	store, closeStore, err := open(ctx, driver, databaseURL, mongoURI, mongoDatabase)
	if err != nil {
		slog.Error("open store failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeStore()

	if err := seedProducts(ctx, store, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func open(ctx context.Context, driver, databaseURL, mongoURI, mongoDatabase string) (upserter, func(), error) {
	switch driver {
	case "postgres":
		if databaseURL == "" {
			return nil, nil, errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		slog.Info("connecting to postgres")
		pool, err := repository.NewPool(ctx, databaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect to database")
		}
		slog.Info("running migrations")
		if err := repository.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		return repository.NewProductRepository(pool), pool.Close, nil
	case "mongo":
		if mongoURI == "" {
			return nil, nil, errors.New("mongo URI is required: set --mongo-uri or SHOP_MONGO_URI")
		}
		slog.Info("connecting to mongo")
		db, err := mongodb.Connect(ctx, mongoURI, mongoDatabase)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect to mongo")
		}
		disconnect := func() { _ = db.Client().Disconnect(context.WithoutCancel(ctx)) }
		if err := mongodb.EnsureIndexes(ctx, db); err != nil {
			disconnect()
			return nil, nil, errors.Wrap(err, "ensure indexes")
		}
		return mongodb.NewProductRepository(db), disconnect, nil
	default:
		return nil, nil, errors.Errorf("unknown driver %q", driver)
	}
}

func seedProducts(ctx context.Context, store upserter, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	products, err := readProducts(productsFile)
	if err != nil {
		return err
	}

	slog.Info("upserting products", slog.Int("count", len(products)))
	for _, p := range products {
		if err := store.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}
	return nil
}

func readProducts(path string) ([]product.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open products file")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	return decodeProducts(r)
}

func decodeProducts(r io.Reader) ([]product.Product, error) {
	var raw []productJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}

	out := make([]product.Product, 0, len(raw))
	for _, p := range raw {
		if p.ID == "" || p.Name == "" {
			return nil, errors.Errorf("product %q: id and name are required", p.ID)
		}
		if p.Price.IsNegative() {
			return nil, errors.Errorf("product %q: negative price", p.ID)
		}
		stock := defaultStock
		if p.Stock != nil {
			stock = *p.Stock
		}
		out = append(out, product.Product{
			ID:          p.ID,
			Name:        p.Name,
			Price:       p.Price,
			Category:    p.Category,
			Image:       p.Image,
			Description: p.Description,
			Stock:       stock,
			Featured:    p.Featured,
		})
	}
	return out, nil
}
