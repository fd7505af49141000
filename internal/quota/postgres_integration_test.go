//go:build integration

package quota

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/logger"
	"relay/internal/testinfra"
)

func TestPostgresStore_ConcurrentIncrementsAreNotLost(t *testing.T) {
	db := testinfra.Postgres(t)
	testinfra.SeedTenant(t, db, "t-1", "c-1", 0, 1000)

	gate := NewGate(NewPostgresStore(db), Config{}, logger.NopLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, gate.TrackUsage(ctx, "t-1", 1))
		}()
	}
	wg.Wait()

	d, err := gate.CheckQuota(ctx, "t-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(40), d.Usage)
}
