package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-store/internal/domain/order"
	"github.com/xenking/kart-store/internal/domain/payment"
	"github.com/xenking/kart-store/internal/events"
	"github.com/xenking/kart-store/internal/idempotency"
	"github.com/xenking/kart-store/internal/payments"
	"github.com/xenking/kart-store/pkg/health"
)

// newPaymentAdapter builds the configured gateway wrapped in the retry and
// timeout guard.
func newPaymentAdapter(cfg PaymentsConfig) (payment.Adapter, error) {
	var next payment.Adapter
	switch cfg.Provider {
	case providerStripe:
		s, err := payments.NewStripe(payments.StripeConfig{
			APIKey:   cfg.StripeKey,
			Currency: cfg.Currency,
		})
		if err != nil {
			return nil, errors.Wrap(err, "create stripe adapter")
		}
		next = s
	default:
		next = payments.NewSandbox(payments.SandboxConfig{})
	}
	return payment.NewGuard(next, payment.GuardConfig{
		Timeout:        cfg.Timeout,
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.Backoff,
	}), nil
}

// newIdempotencyStore uses Redis when configured, so replays are detected
// across replicas.
func newIdempotencyStore(ctx context.Context, cfg RedisConfig, hs *health.Health) (idempotency.Store, func(), error) {
	if cfg.Addr == "" {
		return idempotency.NewMemory(cfg.KeyTTL), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, errors.Wrap(err, "ping redis")
	}
	hs.AddReadinessCheck("redis", 2*time.Second, health.ErrCheck(func(ctx context.Context) *redis.StatusCmd {
		return rdb.Ping(ctx)
	}))
	closeFn := func() {
		if err := rdb.Close(); err != nil {
			zctx.From(ctx).Warn("Close redis", zap.Error(err))
		}
	}
	return idempotency.NewRedis(rdb, cfg.KeyTTL), closeFn, nil
}

// newPublisher returns the Kafka publisher, or nil when no brokers are set.
func newPublisher(ctx context.Context, cfg KafkaConfig) (order.Publisher, func()) {
	if len(cfg.Brokers) == 0 {
		return nil, func() {}
	}
	k := events.NewKafka(cfg.Brokers, cfg.Topic)
	return k, func() {
		if err := k.Close(); err != nil {
			zctx.From(ctx).Warn("Close kafka writer", zap.Error(err))
		}
	}
}
