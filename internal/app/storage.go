package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/xenking/kart-storefront/internal/domain/checkout"
	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/internal/repository"
	"github.com/xenking/kart-storefront/internal/repository/mongodb"
	"github.com/xenking/kart-storefront/internal/session"
	"github.com/xenking/kart-storefront/pkg/health"
	"github.com/xenking/kart-storefront/pkg/httpmiddleware"
)

// stores bundles the storage backends selected by configuration.
type stores struct {
	products product.Repository
	orders   order.Repository
	carts    checkout.CartStore
	limiter  httpmiddleware.Limiter
	checks   []health.Check
	closers  []func(context.Context) error
}

func (s *stores) Close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i](ctx)
	}
}

// openStores connects the order store selected by Storage.Driver and the
// session store. On error everything opened so far is closed.
func openStores(ctx context.Context, lg *zap.Logger, cfg *Config) (_ *stores, rerr error) {
	s := &stores{}
	defer func() {
		if rerr != nil {
			s.Close(context.WithoutCancel(ctx))
		}
	}()

	switch cfg.Storage.Driver {
	case DriverPostgres:
		pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		s.closers = append(s.closers, func(context.Context) error { pool.Close(); return nil })

		if err := repository.RunMigrations(ctx, pool); err != nil {
			return nil, errors.Wrap(err, "run migrations")
		}

		products := repository.NewProductRepository(pool)
		s.products = products
		s.orders = repository.NewOrderRepository(pool)
		s.checks = append(s.checks, health.Check{
			Name: "postgres",
			Kind: health.Readiness,
			Func: health.PingCheck("postgres", products),
		})
	case DriverMongo:
		db, err := mongodb.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, errors.Wrap(err, "connect mongo")
		}
		s.closers = append(s.closers, db.Client().Disconnect)

		if err := mongodb.EnsureIndexes(ctx, db); err != nil {
			return nil, errors.Wrap(err, "ensure indexes")
		}

		s.products = mongodb.NewProductRepository(db)
		s.orders = mongodb.NewOrderRepository(db)
		s.checks = append(s.checks, health.Check{
			Name: "mongo",
			Kind: health.Readiness,
			Func: func(ctx context.Context) error {
				return db.Client().Ping(ctx, readpref.Primary())
			},
		})
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	lg.Info("Order store ready", zap.String("driver", cfg.Storage.Driver))

	if cfg.Redis.Addr == "" {
		lg.Warn("Redis not configured, carts are kept in memory")
		s.carts = session.NewMemoryStore(cfg.Session.TTL)
		return s, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	s.closers = append(s.closers, func(context.Context) error { return client.Close() })

	carts := session.NewRedisStore(client, cfg.Session.TTL)
	if err := carts.Ping(ctx); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}
	s.carts = carts
	s.limiter = httpmiddleware.NewRedisWindow(client, cfg.RateLimit.Max, cfg.RateLimit.Window, "ratelimit:checkout:")
	s.checks = append(s.checks, health.Check{
		Name: "redis",
		Kind: health.Readiness,
		Func: health.PingCheck("redis", carts),
	})
	return s, nil
}
