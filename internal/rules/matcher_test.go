package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/logger"
	"relay/pkg/models"
)

type fakeStore struct {
	byPattern map[string][]models.Rule
	calls     []string
	err       error
}

func (f *fakeStore) GetRulesForEvent(ctx context.Context, tenantID, pattern string) ([]models.Rule, error) {
	f.calls = append(f.calls, pattern)
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Rule
	for _, r := range f.byPattern[pattern] {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func rule(id, pattern string, priority int, enabled bool) models.Rule {
	return models.Rule{ID: id, TenantID: "t-1", EventPattern: pattern, Priority: priority, Enabled: enabled}
}

func ids(rules []models.Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.ID
	}
	return out
}

func TestMatcher_Widening(t *testing.T) {
	tests := []struct {
		name      string
		byPattern map[string][]models.Rule
		eventType string
		wantIDs   []string
		wantPass  MatchPass
		wantCalls []string
	}{
		{
			name: "exact wins over wildcard",
			byPattern: map[string][]models.Rule{
				"deal.updated": {rule("r-exact", "deal.updated", 1, true)},
				"deal.*":       {rule("r-wild", "deal.*", 10, true)},
			},
			eventType: "deal.updated",
			wantIDs:   []string{"r-exact"},
			wantPass:  PassExact,
			wantCalls: []string{"deal.updated"},
		},
		{
			name: "wildcard when no exact",
			byPattern: map[string][]models.Rule{
				"deal.*": {rule("r-wild", "deal.*", 1, true)},
				"deal":   {rule("r-bare", "deal", 1, true)},
			},
			eventType: "deal.updated",
			wantIDs:   []string{"r-wild"},
			wantPass:  PassEntityWildcard,
			wantCalls: []string{"deal.updated", "deal.*"},
		},
		{
			name: "bare entity last",
			byPattern: map[string][]models.Rule{
				"deal": {rule("r-bare", "deal", 1, true)},
			},
			eventType: "deal.updated",
			wantIDs:   []string{"r-bare"},
			wantPass:  PassBareEntity,
			wantCalls: []string{"deal.updated", "deal.*", "deal"},
		},
		{
			name: "disabled rules do not stop widening",
			byPattern: map[string][]models.Rule{
				"deal.updated": {rule("r-off", "deal.updated", 1, false)},
				"deal.*":       {rule("r-wild", "deal.*", 1, true)},
			},
			eventType: "deal.updated",
			wantIDs:   []string{"r-wild"},
			wantPass:  PassEntityWildcard,
			wantCalls: []string{"deal.updated", "deal.*"},
		},
		{
			name: "priority descending and stable",
			byPattern: map[string][]models.Rule{
				"deal.updated": {
					rule("r-low", "deal.updated", 1, true),
					rule("r-high-a", "deal.updated", 5, true),
					rule("r-high-b", "deal.updated", 5, true),
				},
			},
			eventType: "deal.updated",
			wantIDs:   []string{"r-high-a", "r-high-b", "r-low"},
			wantPass:  PassExact,
			wantCalls: []string{"deal.updated"},
		},
		{
			name:      "bare event type skips duplicate pattern",
			byPattern: map[string][]models.Rule{},
			eventType: "deal",
			wantPass:  PassNone,
			wantCalls: []string{"deal", "deal.*"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{byPattern: tt.byPattern}
			m := NewMatcher(store, logger.NopLogger())

			got, pass, err := m.MatchRules(context.Background(), "t-1", tt.eventType)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPass, pass)
			if tt.wantIDs == nil {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tt.wantIDs, ids(got))
			}
			assert.Equal(t, tt.wantCalls, store.calls)
		})
	}
}

func TestMatcher_StoreError(t *testing.T) {
	m := NewMatcher(&fakeStore{err: errors.New("db down")}, logger.NopLogger())
	_, pass, err := m.MatchRules(context.Background(), "t-1", "deal.updated")
	require.Error(t, err)
	assert.Equal(t, PassNone, pass)
}

func TestCachedStore(t *testing.T) {
	inner := &fakeStore{byPattern: map[string][]models.Rule{
		"deal.updated": {rule("r-1", "deal.updated", 1, true)},
	}}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCachedStore(inner, time.Minute)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := cache.GetRulesForEvent(ctx, "t-1", "deal.updated")
		require.NoError(t, err)
		assert.Len(t, got, 1)
	}
	assert.Len(t, inner.calls, 1)

	cache.Invalidate("t-1")
	_, _ = cache.GetRulesForEvent(ctx, "t-1", "deal.updated")
	assert.Len(t, inner.calls, 2)

	now = now.Add(2 * time.Minute)
	_, _ = cache.GetRulesForEvent(ctx, "t-1", "deal.updated")
	assert.Len(t, inner.calls, 3)

	cache.InvalidateAll()
	_, _ = cache.GetRulesForEvent(ctx, "t-1", "deal.updated")
	assert.Len(t, inner.calls, 4)
}
