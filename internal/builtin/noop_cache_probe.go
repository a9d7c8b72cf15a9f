package builtin

import (
	"context"
	"time"

	"github.com/flowkit/connector/internal/cache"
	"github.com/flowkit/connector/internal/component"
	"github.com/flowkit/connector/internal/message"
)

// NoopCacheProbe exercises the shared cache service directly: on each
// invoke it looks up cache_key, returns the cached value if present
// (without touching data), otherwise stores data under that key with
// ttl_ms, owned by this component, and passes data through unchanged.
// It implements component.CacheExpiryHandler so an owner-keyed
// CACHE_EXPIRY event for its own key reaches it.
type NoopCacheProbe struct {
	store cache.Store
	owner string
	key   string
	ttl   time.Duration
}

func newNoopCacheProbe(cfg map[string]any, services component.RuntimeServices) (component.Handler, error) {
	key, _ := cfg["cache_key"].(string)
	if key == "" {
		key = "noop_probe"
	}
	ttlMs, _ := cfg["ttl_ms"].(int)
	if ttlMs == 0 {
		if f, ok := cfg["ttl_ms"].(float64); ok {
			ttlMs = int(f)
		}
	}
	return &NoopCacheProbe{
		store: services.Cache,
		owner: services.ComponentName,
		key:   key,
		ttl:   time.Duration(ttlMs) * time.Millisecond,
	}, nil
}

func (p *NoopCacheProbe) Invoke(_ context.Context, _ *message.Message, data any) (any, error) {
	if p.store == nil {
		return data, nil
	}
	if cached, ok, err := p.store.Get(p.key); err != nil {
		return nil, err
	} else if ok {
		return cached, nil
	}
	if err := p.store.Set(p.key, data, p.ttl, map[string]any{"probe_key": p.key}, p.owner); err != nil {
		return nil, err
	}
	return data, nil
}

// HandleCacheExpiry implements component.CacheExpiryHandler. The probe
// has no state of its own to react to; the next Invoke simply
// repopulates the cache.
func (p *NoopCacheProbe) HandleCacheExpiry(context.Context, component.CacheExpiryEvent) error {
	return nil
}
