package dedup

import (
	"context"
	"strings"
	"sync"
	"time"

	"relay/internal/constants"
	"relay/internal/logger"
	"relay/pkg/metrics"
	"relay/pkg/tracing"
)

const (
	DefaultTTL           = 60 * time.Second
	DefaultSweepInterval = 30 * time.Second
)

type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// Deduplicator suppresses repeated deliveries of the same CRM change within TTL.
// Events without a correlation id or entity id are never suppressed.
type Deduplicator struct {
	store  Store
	cfg    Config
	logger logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDeduplicator(store Store, cfg Config, log logger.Logger) *Deduplicator {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Deduplicator{
		store:  store,
		cfg:    cfg,
		logger: log,
	}
}

// Key builds the dedup key, or "" when the event cannot be deduplicated.
func Key(correlationID, entityID, eventType string) string {
	if correlationID == "" || entityID == "" {
		return ""
	}
	return constants.CacheKeyPrefixDedup + strings.Join([]string{correlationID, entityID, eventType}, "|")
}

// ShouldProcess reports whether the event has not been seen within TTL.
func (d *Deduplicator) ShouldProcess(ctx context.Context, correlationID, entityID, eventType string) bool {
	key := Key(correlationID, entityID, eventType)
	if key == "" {
		metrics.IncDedup("passthrough")
		return true
	}

	seen, err := d.store.Exists(ctx, key)
	if err != nil {
		d.failOpen(ctx, "exists", err)
		return true
	}
	if seen {
		metrics.IncDedup("duplicate")
		return false
	}
	metrics.IncDedup("unique")
	return true
}

// MarkProcessed records the event so repeats within TTL are suppressed.
func (d *Deduplicator) MarkProcessed(ctx context.Context, correlationID, entityID, eventType string) {
	key := Key(correlationID, entityID, eventType)
	if key == "" {
		return
	}
	if err := d.store.Set(ctx, key, d.cfg.TTL); err != nil {
		d.failOpen(ctx, "set", err)
	}
}

// TryMark checks and records the event in one step. It returns false only when another
// caller already claimed the same key within TTL.
func (d *Deduplicator) TryMark(ctx context.Context, correlationID, entityID, eventType string) bool {
	ctx, span := tracing.StartStage(ctx, "dedup.try_mark")
	defer span.End()

	key := Key(correlationID, entityID, eventType)
	if key == "" {
		metrics.IncDedup("passthrough")
		return true
	}

	claimed, err := d.store.SetNX(ctx, key, d.cfg.TTL)
	if err != nil {
		d.failOpen(ctx, "setnx", err)
		return true
	}
	if !claimed {
		metrics.IncDedup("duplicate")
		return false
	}
	metrics.IncDedup("unique")
	return true
}

// Release drops a claimed key so the event can be processed again. Callers release after
// a failed attempt that the sender is expected to retry.
func (d *Deduplicator) Release(ctx context.Context, correlationID, entityID, eventType string) {
	key := Key(correlationID, entityID, eventType)
	if key == "" {
		return
	}
	if err := d.store.Delete(ctx, key); err != nil {
		metrics.IncDedup("error")
		d.logger.WarnwCtx(ctx, "Failed to release dedup key, retries within TTL will be suppressed",
			"error", err,
		)
		return
	}
	metrics.IncDedup("released")
}

func (d *Deduplicator) failOpen(ctx context.Context, op string, err error) {
	metrics.IncDedup("error")
	metrics.FallbackUsageTotal.WithLabelValues("dedup", "allow_on_error", op).Inc()
	d.logger.WarnwCtx(ctx, "Dedup store error, allowing event",
		"operation", op,
		"error", err,
	)
}

// Start runs the periodic sweep and cache size metric until Stop or ctx is done.
func (d *Deduplicator) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.run(ctx, d.done)
}

func (d *Deduplicator) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (d *Deduplicator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.sweep(ctx, now)
		}
	}
}

func (d *Deduplicator) sweep(ctx context.Context, now time.Time) {
	if sweeper, ok := d.store.(Sweeper); ok {
		if removed := sweeper.Sweep(now); removed > 0 {
			d.logger.Debugw("Swept expired dedup keys", "removed", removed)
		}
	}

	size, err := d.store.Size(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warnw("Failed to read dedup cache size", "error", err)
		}
		return
	}
	metrics.SetDedupCacheSize(size)
}
