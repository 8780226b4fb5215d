// Command seed-db applies the schema and seeds the catalog and API keys.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-store/db/seed"
	"github.com/xenking/kart-store/internal/domain/auth"
	"github.com/xenking/kart-store/internal/domain/product"
	"github.com/xenking/kart-store/internal/repository"
)

type options struct {
	databaseURL  string
	productsFile string
	adminKey     string
	paymentsKey  string
	pepper       string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.productsFile, "products-file", "", "path to a products JSON file (embedded demo catalog when empty)")
	flag.StringVar(&opts.adminKey, "admin-key", "", "admin API key to seed (or KART_SEED_ADMIN_KEY env)")
	flag.StringVar(&opts.paymentsKey, "payments-key", "", "payment callback API key to seed (or KART_SEED_PAYMENTS_KEY env)")
	flag.StringVar(&opts.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or KART_API_KEY_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	opts.fromEnv()
	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.adminKey == "" {
		lg.Fatal("Admin key is required: set --admin-key or KART_SEED_ADMIN_KEY")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func (o *options) fromEnv() {
	for _, v := range []struct {
		dst *string
		env string
	}{
		{&o.databaseURL, "DATABASE_URL"},
		{&o.adminKey, "KART_SEED_ADMIN_KEY"},
		{&o.paymentsKey, "KART_SEED_PAYMENTS_KEY"},
		{&o.pepper, "KART_API_KEY_PEPPER"},
	} {
		if *v.dst == "" {
			*v.dst = os.Getenv(v.env)
		}
	}
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	pool, err := repository.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products, err := loadProducts(opts.productsFile)
	if err != nil {
		return err
	}
	productRepo := repository.NewProductRepository(pool)
	for _, p := range products {
		if err := productRepo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		lg.Info("Upserted product", zap.String("id", p.ID), zap.String("name", p.Name), zap.Int("stock", p.StockQuantity))
	}

	keys := []auth.APIKeyInfo{{
		ID:      "admin",
		KeyHash: auth.HashKey([]byte(opts.pepper), opts.adminKey),
		Name:    "Admin key",
		Scopes:  []string{auth.ScopeAdmin},
	}}
	if opts.paymentsKey != "" {
		keys = append(keys, auth.APIKeyInfo{
			ID:      "payments",
			KeyHash: auth.HashKey([]byte(opts.pepper), opts.paymentsKey),
			Name:    "Payment gateway callbacks",
			Scopes:  []string{auth.ScopePayments},
		})
	}
	keyRepo := repository.NewAPIKeyRepository(pool)
	for _, k := range keys {
		if err := keyRepo.Upsert(ctx, k); err != nil {
			return errors.Wrapf(err, "upsert api key %s", k.ID)
		}
		lg.Info("Upserted API key", zap.String("id", k.ID), zap.Strings("scopes", k.Scopes))
	}
	return nil
}

func loadProducts(path string) ([]product.Product, error) {
	if path == "" {
		return seed.Products()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read products file")
	}
	return seed.DecodeProducts(data)
}
