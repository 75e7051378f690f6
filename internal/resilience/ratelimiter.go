// Package resilience provides per-provider request pacing so the
// gateway stays inside each provider's published rate limits.
package resilience

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// ProviderRateLimiter paces outgoing calls per provider using token
// buckets. Providers without an explicit limit share a default.
type ProviderRateLimiter struct {
	mu           sync.RWMutex
	limiters     map[string]*rate.Limiter
	rpm          map[string]int
	defaultRPM   int
	defaultBurst int
}

// ProviderRateLimiterConfig contains limiter configuration.
type ProviderRateLimiterConfig struct {
	DefaultRPM   int            // Default requests per minute per provider
	DefaultBurst int            // Default burst size
	ProviderRPM  map[string]int // Per-provider overrides
}

// NewProviderRateLimiter creates a limiter with the given configuration.
func NewProviderRateLimiter(cfg ProviderRateLimiterConfig) *ProviderRateLimiter {
	if cfg.DefaultRPM <= 0 {
		cfg.DefaultRPM = 60
	}
	if cfg.DefaultBurst <= 0 {
		cfg.DefaultBurst = 5
	}
	l := &ProviderRateLimiter{
		limiters:     make(map[string]*rate.Limiter),
		rpm:          make(map[string]int, len(cfg.ProviderRPM)),
		defaultRPM:   cfg.DefaultRPM,
		defaultBurst: cfg.DefaultBurst,
	}
	for name, rpm := range cfg.ProviderRPM {
		if rpm > 0 {
			l.rpm[name] = rpm
		}
	}
	return l
}

// Wait blocks until the provider's token bucket admits a request or
// the context expires.
func (l *ProviderRateLimiter) Wait(ctx context.Context, providerName string) error {
	return l.limiter(providerName).Wait(ctx)
}

// Allow reports whether a request may proceed without blocking.
func (l *ProviderRateLimiter) Allow(providerName string) bool {
	return l.limiter(providerName).Allow()
}

func (l *ProviderRateLimiter) limiter(providerName string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[providerName]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.limiters[providerName]; ok {
		return lim
	}

	rpm := l.defaultRPM
	if override, ok := l.rpm[providerName]; ok {
		rpm = override
	}
	lim = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), l.defaultBurst)
	l.limiters[providerName] = lim
	return lim
}
