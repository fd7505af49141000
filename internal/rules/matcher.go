package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"relay/internal/logger"
	"relay/pkg/metrics"
	"relay/pkg/models"
	"relay/pkg/tracing"
)

// MatchPass names the pattern pass that produced the rules.
type MatchPass string

const (
	PassExact          MatchPass = "exact"
	PassEntityWildcard MatchPass = "entity_wildcard"
	PassBareEntity     MatchPass = "bare_entity"
	PassNone           MatchPass = "none"
)

type Matcher struct {
	store  Store
	logger logger.Logger
}

func NewMatcher(store Store, log logger.Logger) *Matcher {
	return &Matcher{store: store, logger: log}
}

// MatchRules looks up rules for the event type, widening from the exact type to
// "entity.*" and then to the bare entity. The first pass that yields an enabled rule
// wins; its rules are returned highest priority first.
func (m *Matcher) MatchRules(ctx context.Context, tenantID, eventType string) ([]models.Rule, MatchPass, error) {
	ctx, span := tracing.StartStage(ctx, "rules.match")
	defer span.End()

	seen := make(map[string]bool, 3)
	for _, p := range passes(eventType) {
		if p.pattern == "" || seen[p.pattern] {
			continue
		}
		seen[p.pattern] = true

		found, err := m.store.GetRulesForEvent(ctx, tenantID, p.pattern)
		if err != nil {
			tracing.RecordError(span, err)
			return nil, PassNone, fmt.Errorf("match rules for %q: %w", p.pattern, err)
		}

		enabled := make([]models.Rule, 0, len(found))
		for _, r := range found {
			if r.Enabled {
				enabled = append(enabled, r)
			}
		}
		if len(enabled) == 0 {
			continue
		}

		sort.SliceStable(enabled, func(i, j int) bool {
			return enabled[i].Priority > enabled[j].Priority
		})

		metrics.IncRuleMatch(string(p.pass))
		m.logger.DebugwCtx(ctx, "Rules matched",
			"pass", p.pass,
			"pattern", p.pattern,
			"count", len(enabled),
		)
		return enabled, p.pass, nil
	}

	metrics.IncRuleMatch(string(PassNone))
	return nil, PassNone, nil
}

type pass struct {
	pass    MatchPass
	pattern string
}

func passes(eventType string) []pass {
	entity, _, _ := strings.Cut(eventType, ".")
	if entity == "" {
		return []pass{{pass: PassExact, pattern: eventType}}
	}
	return []pass{
		{pass: PassExact, pattern: eventType},
		{pass: PassEntityWildcard, pattern: entity + ".*"},
		{pass: PassBareEntity, pattern: entity},
	}
}
