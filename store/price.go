package store

import (
	"context"
	"errors"
	"math/big"

	"github.com/redis/go-redis/v9"

	x402 "github.com/becomeliminal/x402-gate"
)

// PriceStore reads per-resource price overrides from redis. The key is the
// resource path itself, the value a decimal amount such as "0.005". Nothing is
// cached locally, so a changed override applies to the next request.
type PriceStore struct {
	client redis.Cmdable
	prefix string
}

var _ x402.PriceStore = (*PriceStore)(nil)

// PriceOption configures a PriceStore.
type PriceOption func(*PriceStore)

// WithKeyPrefix namespaces override keys, e.g. "price:" makes /v1/data
// read from "price:/v1/data".
func WithKeyPrefix(prefix string) PriceOption {
	return func(s *PriceStore) {
		s.prefix = prefix
	}
}

// NewPriceStore creates a price store on client.
func NewPriceStore(client redis.Cmdable, opts ...PriceOption) *PriceStore {
	s := &PriceStore{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve returns the override for resourcePath, or static when there is
// none. A missing key is not an error; unreachable redis and unparseable or
// non-positive overrides return static together with the error.
func (s *PriceStore) Resolve(ctx context.Context, resourcePath string, static *big.Rat) (*big.Rat, error) {
	val, err := s.client.Get(ctx, s.prefix+resourcePath).Result()
	if errors.Is(err, redis.Nil) {
		return static, nil
	}
	if err != nil {
		return static, unavailable("price lookup failed", err)
	}

	amount, err := x402.ParseAmount(val)
	if err != nil {
		return static, unavailable("invalid price override for "+resourcePath, err)
	}
	if amount.Sign() <= 0 {
		return static, unavailable("price override for "+resourcePath+" must be positive", nil)
	}
	return amount, nil
}

// Set writes an override. Used by operators and tests.
func (s *PriceStore) Set(ctx context.Context, resourcePath, amount string) error {
	if _, err := x402.ParseAmount(amount); err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+resourcePath, amount, 0).Err()
}
