package cache

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/cropdoc/internal/resilience"
)

// Shared is the cross-process cache tier. store.CacheStore satisfies it.
type Shared interface {
	GetCached(ctx context.Context, key string, now time.Time) (payload []byte, expiresAt time.Time, found bool, err error)
	SetCached(ctx context.Context, key string, payload []byte, expiresAt time.Time) error
}

// TTLPolicy picks how long a computed value stays cached. A non-positive
// duration skips caching.
type TTLPolicy[V any] func(v V) time.Duration

// FixedTTL caches every value for d.
func FixedTTL[V any](d time.Duration) TTLPolicy[V] {
	return func(V) time.Duration { return d }
}

// Options configures a Tiered cache.
type Options struct {
	// ComputeTimeout bounds a single-flight computation. Default: 30s.
	ComputeTimeout time.Duration
	// SharedTimeout bounds each shared-tier call. Default: 2s.
	SharedTimeout time.Duration
	// Breaker guards the shared tier. Nil builds a default breaker.
	Breaker *resilience.CircuitBreaker
}

// Tiered reads local, then shared, then computes, writing through both
// tiers. Concurrent misses for one key share a single computation.
type Tiered[V any] struct {
	local   *Local[V]
	shared  Shared
	codec   Codec[V]
	breaker *resilience.CircuitBreaker
	group   singleflight.Group

	computeTimeout time.Duration
	sharedTimeout  time.Duration

	now func() time.Time
	log *zap.Logger
}

// NewTiered builds a Tiered cache. shared may be nil for local-only use.
func NewTiered[V any](local *Local[V], shared Shared, codec Codec[V], opts Options) *Tiered[V] {
	if opts.ComputeTimeout <= 0 {
		opts.ComputeTimeout = 30 * time.Second
	}
	if opts.SharedTimeout <= 0 {
		opts.SharedTimeout = 2 * time.Second
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewCircuitBreaker(resilience.BreakerConfig("shared-cache", 0, 0))
	}
	if codec == nil {
		codec = JSONZstd[V]{}
	}
	return &Tiered[V]{
		local:          local,
		shared:         shared,
		codec:          codec,
		breaker:        opts.Breaker,
		computeTimeout: opts.ComputeTimeout,
		sharedTimeout:  opts.SharedTimeout,
		now:            time.Now,
		log:            zap.L().With(zap.String("component", "cache")),
	}
}

// GetOrCompute returns the cached value for key or computes, caches and
// returns it. If ctx ends first the caller gets ctx.Err() while the
// computation keeps running on a detached context and still fills the
// cache. Compute errors are returned and never cached. Shared-tier
// failures only degrade to local-only operation.
func (t *Tiered[V]) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) (V, error), policy TTLPolicy[V]) (V, error) {
	var zero V

	if v, ok := t.local.Get(key); ok {
		return v, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := t.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(flightCtx, t.computeTimeout)
		defer cancel()
		return t.fill(fctx, key, compute, policy)
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

func (t *Tiered[V]) fill(ctx context.Context, key string, compute func(ctx context.Context) (V, error), policy TTLPolicy[V]) (V, error) {
	// A previous flight may have finished between the local miss and now.
	if v, ok := t.local.peek(key); ok {
		return v, nil
	}

	if v, expiresAt, ok := t.getShared(ctx, key); ok {
		t.local.Set(key, v, expiresAt)
		return v, nil
	}

	v, err := compute(ctx)
	if err != nil {
		return v, err
	}

	ttl := time.Duration(0)
	if policy != nil {
		ttl = policy(v)
	}
	if ttl <= 0 {
		return v, nil
	}

	expiresAt := t.now().Add(ttl)
	t.local.Set(key, v, expiresAt)
	t.setShared(ctx, key, v, expiresAt)
	return v, nil
}

func (t *Tiered[V]) getShared(ctx context.Context, key string) (V, time.Time, bool) {
	var zero V
	if t.shared == nil {
		return zero, time.Time{}, false
	}

	type hit struct {
		payload   []byte
		expiresAt time.Time
		found     bool
	}
	h, err := resilience.ExecuteVal(ctx, t.breaker, func(ctx context.Context) (hit, error) {
		sctx, cancel := context.WithTimeout(ctx, t.sharedTimeout)
		defer cancel()
		payload, expiresAt, found, err := t.shared.GetCached(sctx, key, t.now())
		return hit{payload: payload, expiresAt: expiresAt, found: found}, err
	})
	if err != nil {
		t.warn("get", key, err)
		return zero, time.Time{}, false
	}
	if !h.found {
		return zero, time.Time{}, false
	}

	v, err := t.codec.Decode(h.payload)
	if err != nil {
		t.warn("decode", key, err)
		return zero, time.Time{}, false
	}
	return v, h.expiresAt, true
}

func (t *Tiered[V]) setShared(ctx context.Context, key string, v V, expiresAt time.Time) {
	if t.shared == nil {
		return
	}
	payload, err := t.codec.Encode(v)
	if err != nil {
		t.warn("encode", key, err)
		return
	}
	err = t.breaker.Execute(ctx, func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, t.sharedTimeout)
		defer cancel()
		return t.shared.SetCached(sctx, key, payload, expiresAt)
	})
	if err != nil {
		t.warn("set", key, err)
	}
}

func (t *Tiered[V]) warn(op, key string, err error) {
	t.log.Warn("shared cache degraded, using local tier",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)
}

type expiredPurger interface {
	DeleteExpiredCache(ctx context.Context, now time.Time) (int64, error)
}

// Purge drops expired entries from the local tier and, when the shared tier
// supports it, from the shared tier.
func (t *Tiered[V]) Purge(ctx context.Context) (local int, shared int64, err error) {
	local = t.local.Purge()
	p, ok := t.shared.(expiredPurger)
	if !ok {
		return local, 0, nil
	}
	shared, err = p.DeleteExpiredCache(ctx, t.now())
	if err != nil {
		return local, 0, eris.Wrap(err, "cache: purge shared tier")
	}
	return local, shared, nil
}

// Local returns the process-local tier.
func (t *Tiered[V]) Local() *Local[V] {
	return t.local
}
