// Package secret resolves credential references of the form
// scheme://path (env://DALLE_API_KEY, vault://secret/data/dalle#api_key).
// Plain strings without a scheme pass through unchanged, so configuration
// may carry either literals or references.
package secret

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Source retrieves secrets from one backend.
type Source interface {
	// Get retrieves the secret value for the given path. The path has
	// already been stripped of its scheme prefix.
	Get(ctx context.Context, path string) (string, error)

	// Close releases any resources held by the source.
	Close() error
}

// Resolver routes references to registered sources by scheme. The env
// scheme is always available.
type Resolver struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewResolver creates a resolver with the env source pre-registered.
func NewResolver() *Resolver {
	r := &Resolver{sources: make(map[string]Source)}
	r.Register("env", EnvSource{})
	return r
}

// Register installs a source for a scheme, replacing any previous one.
func (r *Resolver) Register(scheme string, src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[scheme] = src
}

// Resolve returns the secret a reference points at. References without
// a scheme are returned verbatim.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, path, ok := strings.Cut(ref, "://")
	if !ok {
		return ref, nil
	}

	r.mu.RLock()
	src, found := r.sources[scheme]
	r.mu.RUnlock()
	if !found {
		return "", fmt.Errorf("no secret source registered for scheme %q", scheme)
	}

	return src.Get(ctx, path)
}

// Close closes all registered sources.
func (r *Resolver) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []string
	for scheme, src := range r.sources {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", scheme, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close secret sources: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Cached decorates a source with expiring in-memory caching, keeping
// hot-path lookups away from remote backends like Vault.
type Cached struct {
	inner Source
	cache *cache.Cache
}

// NewCached wraps a source with the given TTL.
func NewCached(inner Source, ttl time.Duration) *Cached {
	return &Cached{
		inner: inner,
		cache: cache.New(ttl, ttl*2),
	}
}

// Get returns the cached value or delegates to the inner source.
func (c *Cached) Get(ctx context.Context, path string) (string, error) {
	if val, found := c.cache.Get(path); found {
		if s, ok := val.(string); ok {
			return s, nil
		}
	}

	val, err := c.inner.Get(ctx, path)
	if err != nil {
		return "", err
	}
	c.cache.Set(path, val, cache.DefaultExpiration)
	return val, nil
}

// Close closes the inner source.
func (c *Cached) Close() error {
	return c.inner.Close()
}
