package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Config struct {
	RPS    float64
	Burst  int
	MaxAge time.Duration
}

func DefaultConfig() Config {
	return Config{
		RPS:    1.0,
		Burst:  5,
		MaxAge: 10 * time.Minute,
	}
}

// Keyed keeps one token bucket per key (a webhook host, a tenant) and forgets keys
// that have not been used for MaxAge.
type Keyed struct {
	cfg      Config
	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

func NewKeyed(cfg Config) *Keyed {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultConfig().MaxAge
	}
	return &Keyed{
		cfg:      cfg,
		limiters: make(map[string]*limiterEntry),
	}
}

func (k *Keyed) get(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry, ok := k.limiters[key]
	if !ok {
		limit := rate.Inf
		if k.cfg.RPS > 0 {
			limit = rate.Limit(k.cfg.RPS)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(limit, k.cfg.Burst)}
		k.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// Allow reports whether an event for key may happen now without waiting.
func (k *Keyed) Allow(key string) bool {
	return k.get(key).Allow()
}

// Wait blocks until key has a token or ctx is done.
func (k *Keyed) Wait(ctx context.Context, key string) error {
	return k.get(key).Wait(ctx)
}

// Evict drops limiters idle for longer than MaxAge and returns how many were removed.
func (k *Keyed) Evict() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	cutoff := time.Now().Add(-k.cfg.MaxAge)
	removed := 0
	for key, entry := range k.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(k.limiters, key)
			removed++
		}
	}
	return removed
}

func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

// StartEviction runs Evict every interval until ctx is done.
func (k *Keyed) StartEviction(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			k.Evict()
		case <-ctx.Done():
			return
		}
	}
}
