package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"

	"github.com/xenking/kart-store/db/seed"
	"github.com/xenking/kart-store/internal/domain/auth"
	"github.com/xenking/kart-store/internal/domain/order"
	"github.com/xenking/kart-store/internal/domain/product"
	"github.com/xenking/kart-store/internal/repository"
	"github.com/xenking/kart-store/internal/storage/memory"
	"github.com/xenking/kart-store/pkg/health"
)

// storage is the persistence backing the services.
type storage struct {
	products product.Repository
	orders   order.Repository
	apikeys  auth.Repository
	close    func()
}

const (
	providerSandbox = "sandbox"
	providerStripe  = "stripe"
)

// openStorage connects to PostgreSQL when a database URL is configured and
// falls back to a seeded in-memory store otherwise.
func openStorage(ctx context.Context, cfg *Config, hs *health.Health) (*storage, error) {
	lg := zctx.From(ctx)
	if cfg.DatabaseURL == "" {
		lg.Warn("No database configured, using in-memory store")
		return openMemory(cfg)
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := repository.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	hs.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	lg.Info("Connected to PostgreSQL")

	return &storage{
		products: repository.NewProductRepository(pool),
		orders:   repository.NewOrderRepository(pool, cfg.Orders.LockTimeout),
		apikeys:  repository.NewAPIKeyRepository(pool),
		close:    pool.Close,
	}, nil
}

func openMemory(cfg *Config) (*storage, error) {
	store := memory.New(memory.WithLockTimeout(cfg.Orders.LockTimeout))
	products, err := seed.Products()
	if err != nil {
		return nil, errors.Wrap(err, "seed catalog")
	}
	for _, p := range products {
		store.PutProduct(p)
	}

	pepper := []byte(cfg.APIKeyPepper)
	if cfg.Memory.AdminKey != "" {
		store.PutAPIKey(auth.APIKeyInfo{
			ID:      "admin",
			KeyHash: auth.HashKey(pepper, cfg.Memory.AdminKey),
			Name:    "Admin key",
			Scopes:  []string{auth.ScopeAdmin},
		})
	}
	if cfg.Memory.PaymentsKey != "" {
		store.PutAPIKey(auth.APIKeyInfo{
			ID:      "payments",
			KeyHash: auth.HashKey(pepper, cfg.Memory.PaymentsKey),
			Name:    "Payment gateway callbacks",
			Scopes:  []string{auth.ScopePayments},
		})
	}

	return &storage{
		products: store.Catalog(),
		orders:   store.Orders(),
		apikeys:  store,
		close:    func() {},
	}, nil
}
