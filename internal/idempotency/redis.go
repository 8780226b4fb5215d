package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

const (
	keyCheckout = "idem:checkout:%s"
	// pendingMarker is stored while the first request is running.
	pendingMarker = "\x00pending"
	// claimTTL bounds a claim left behind by a crashed request.
	claimTTL = 2 * time.Minute
)

// Redis is a Store shared between api-server replicas.
type Redis struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

var _ Store = (*Redis)(nil)

// NewRedis creates a Redis store. ttl <= 0 selects DefaultTTL.
func NewRedis(rdb redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

func (r *Redis) Claim(ctx context.Context, key string) (string, bool, error) {
	k := fmt.Sprintf(keyCheckout, key)
	ok, err := r.rdb.SetNX(ctx, k, pendingMarker, claimTTL).Result()
	if err != nil {
		return "", false, errors.Wrap(err, "claim key")
	}
	if ok {
		return "", true, nil
	}

	v, err := r.rdb.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired or abandoned between SETNX and GET.
		return r.Claim(ctx, key)
	case err != nil:
		return "", false, errors.Wrap(err, "get key")
	case v == pendingMarker:
		return "", false, ErrInProgress
	default:
		return v, false, nil
	}
}

func (r *Redis) Complete(ctx context.Context, key, result string) error {
	if err := r.rdb.Set(ctx, fmt.Sprintf(keyCheckout, key), result, r.ttl).Err(); err != nil {
		return errors.Wrap(err, "complete key")
	}
	return nil
}

func (r *Redis) Abandon(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, fmt.Sprintf(keyCheckout, key)).Err(); err != nil {
		return errors.Wrap(err, "abandon key")
	}
	return nil
}
