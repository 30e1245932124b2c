package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	x402 "github.com/becomeliminal/x402-gate"
)

const pingTimeout = 2 * time.Second

type backend struct {
	client *redis.Client
	replay *ReplayCache
	prices *PriceStore
}

// Registry owns one redis client per distinct store URL. It is built once
// at startup and read-only afterwards.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*backend
	logger   *zap.Logger
}

var _ x402.Stores = (*Registry)(nil)

// Open connects to every URL in urls. A malformed URL is a config error; an
// unreachable server is only logged, since the gate degrades to static prices
// and unchecked replays while it is down.
func Open(ctx context.Context, urls []string, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		backends: make(map[string]*backend),
		logger:   logger,
	}

	for _, url := range urls {
		if url == "" {
			continue
		}
		if _, ok := r.backends[url]; ok {
			continue
		}

		opts, err := redis.ParseURL(url)
		if err != nil {
			r.Close()
			return nil, x402.NewGateError(x402.KindConfig, "invalid store url", err)
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("store unreachable at startup, continuing in degraded mode",
				zap.String("addr", opts.Addr), zap.Error(err))
		} else {
			logger.Info("connected to store", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
		}
		cancel()

		r.backends[url] = newBackend(client)
	}
	return r, nil
}

// NewRegistry wraps existing clients keyed by store URL.
func NewRegistry(clients map[string]*redis.Client) *Registry {
	r := &Registry{
		backends: make(map[string]*backend, len(clients)),
		logger:   zap.NewNop(),
	}
	for url, client := range clients {
		r.backends[url] = newBackend(client)
	}
	return r
}

func newBackend(client *redis.Client) *backend {
	return &backend{
		client: client,
		replay: NewReplayCache(client),
		prices: NewPriceStore(client),
	}
}

// Lookup implements x402.Stores. Unknown and empty URLs yield no stores.
func (r *Registry) Lookup(storeURL string) (x402.ReplayCache, x402.PriceStore) {
	if storeURL == "" {
		return nil, nil
	}
	r.mu.RLock()
	b, ok := r.backends[storeURL]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return b.replay, b.prices
}

// Prices returns the price store behind storeURL, if any.
func (r *Registry) Prices(storeURL string) (*PriceStore, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[storeURL]
	if !ok {
		return nil, false
	}
	return b.prices, true
}

// Ping checks every backend and returns the joined errors.
func (r *Registry) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for _, b := range r.backends {
		if err := b.client.Ping(ctx).Err(); err != nil {
			errs = append(errs, unavailable("store ping failed", err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every client.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for url, b := range r.backends {
		if err := b.client.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.backends, url)
	}
	return errors.Join(errs...)
}
