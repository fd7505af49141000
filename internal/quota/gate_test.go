package quota

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/logger"
	apperrors "relay/pkg/errors"
	"relay/pkg/models"
)

type memStore struct {
	mu       sync.Mutex
	counters map[string]*models.QuotaCounter
	err      error
}

func newMemStore(counters ...models.QuotaCounter) *memStore {
	s := &memStore{counters: make(map[string]*models.QuotaCounter)}
	for i := range counters {
		c := counters[i]
		s.counters[c.TenantID] = &c
	}
	return s
}

func (s *memStore) GetCounter(ctx context.Context, tenantID string) (*models.QuotaCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	c, ok := s.counters[tenantID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) Increment(ctx context.Context, tenantID string, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[tenantID]
	if !ok {
		return apperrors.ErrNotFound
	}
	c.PeriodUsage += n
	return nil
}

func TestGate_CheckQuota(t *testing.T) {
	tests := []struct {
		name        string
		usage       int64
		limit       int64
		requested   int64
		wantAllowed bool
		wantLevel   Level
	}{
		{name: "empty budget", usage: 0, limit: 100, requested: 1, wantAllowed: true, wantLevel: LevelNormal},
		{name: "below warning", usage: 74, limit: 100, requested: 1, wantAllowed: true, wantLevel: LevelNormal},
		{name: "at warning", usage: 75, limit: 100, requested: 1, wantAllowed: true, wantLevel: LevelWarning},
		{name: "at critical", usage: 90, limit: 100, requested: 1, wantAllowed: true, wantLevel: LevelCritical},
		{name: "last slot", usage: 99, limit: 100, requested: 1, wantAllowed: true, wantLevel: LevelCritical},
		{name: "exhausted", usage: 100, limit: 100, requested: 1, wantAllowed: false, wantLevel: LevelCritical},
		{name: "batch does not fit", usage: 98, limit: 100, requested: 3, wantAllowed: false, wantLevel: LevelCritical},
		{name: "batch fits exactly", usage: 97, limit: 100, requested: 3, wantAllowed: true, wantLevel: LevelCritical},
		{name: "over limit", usage: 150, limit: 100, requested: 1, wantAllowed: false, wantLevel: LevelCritical},
		{name: "zero limit", usage: 0, limit: 0, requested: 1, wantAllowed: false, wantLevel: LevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(models.QuotaCounter{TenantID: "t-1", PeriodUsage: tt.usage, PeriodLimit: tt.limit})
			g := NewGate(store, Config{}, logger.NopLogger())

			d, err := g.CheckQuota(context.Background(), "t-1", tt.requested)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, d.Allowed)
			assert.Equal(t, tt.wantLevel, d.Level)
			assert.Equal(t, tt.usage, d.Usage)
			assert.Equal(t, tt.limit, d.Limit)
		})
	}
}

func TestGate_AllowedIsMonotonicInUsage(t *testing.T) {
	const limit = 50
	for requested := int64(1); requested <= 5; requested++ {
		denied := false
		for usage := int64(0); usage <= limit+5; usage++ {
			store := newMemStore(models.QuotaCounter{TenantID: "t-1", PeriodUsage: usage, PeriodLimit: limit})
			d, err := NewGate(store, Config{}, logger.NopLogger()).CheckQuota(context.Background(), "t-1", requested)
			require.NoError(t, err)

			if denied {
				assert.False(t, d.Allowed, "usage %d requested %d allowed after an earlier denial", usage, requested)
			}
			if !d.Allowed {
				denied = true
			}
		}
		assert.True(t, denied)
	}
}

func TestGate_LookupFailureDenies(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	g := NewGate(store, Config{}, logger.NopLogger())

	d, err := g.CheckQuota(context.Background(), "t-1", 1)
	require.Error(t, err)
	assert.False(t, d.Allowed)

	store.err = nil
	d, err = g.CheckQuota(context.Background(), "unknown", 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.False(t, d.Allowed)
}

func TestGate_TrackUsage(t *testing.T) {
	store := newMemStore(models.QuotaCounter{TenantID: "t-1", PeriodUsage: 99, PeriodLimit: 100})
	g := NewGate(store, Config{}, logger.NopLogger())
	ctx := context.Background()

	require.NoError(t, g.TrackUsage(ctx, "t-1", 1))

	d, err := g.CheckQuota(ctx, "t-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), d.Usage)
	assert.False(t, d.Allowed)

	assert.Error(t, g.TrackUsage(ctx, "t-1", 0))
	assert.Error(t, g.TrackUsage(ctx, "missing", 1))
}
