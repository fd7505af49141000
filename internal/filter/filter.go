package filter

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"relay/internal/logger"
	"relay/pkg/cel"
	"relay/pkg/metrics"
	"relay/pkg/models"
)

const (
	keyValueMin       = "value_min"
	keyValueMax       = "value_max"
	keyProbabilityMin = "probability_min"
	keyProbabilityMax = "probability_max"
	keyStageName      = "stage_name"
	keyStages         = "stages"
	keyPipeline       = "pipeline"
	keyPipelines      = "pipelines"
	keyOwner          = "owner"
	keyOwners         = "owners"
	keyCurrency       = "currency"
	keyCurrencies     = "currencies"
	keyLabels         = "labels"
	keyMatchType      = "match_type"
	keyBusinessHours  = "business_hours"
	keyExpression     = "expression"
)

var (
	valueFields       = []string{"value", "amount"}
	probabilityFields = []string{"probability"}
	stageFields       = []string{"stage_name", "stage_id", "stage"}
	pipelineFields    = []string{"pipeline_name", "pipeline_id", "pipeline"}
	ownerFields       = []string{"owner_name", "owner_id", "user_id", "owner"}
	currencyFields    = []string{"currency"}
	labelFields       = []string{"labels", "label"}
)

var setKeys = map[string][]string{
	keyStageName:  stageFields,
	keyStages:     stageFields,
	keyPipeline:   pipelineFields,
	keyPipelines:  pipelineFields,
	keyOwner:      ownerFields,
	keyOwners:     ownerFields,
	keyCurrency:   currencyFields,
	keyCurrencies: currencyFields,
}

var defaultWeekdays = []int{1, 2, 3, 4, 5}

// Filter is a compiled rule filter. All predicates must pass.
type Filter struct {
	predicates []Predicate
}

// Matches evaluates the predicates in key order and stops at the first failure. An
// empty filter matches every event.
func (f *Filter) Matches(evt *models.InboundEvent, now time.Time) bool {
	_, ok := f.FirstFailing(evt, now)
	return ok
}

// FirstFailing returns the key of the first predicate that rejects the event.
func (f *Filter) FirstFailing(evt *models.InboundEvent, now time.Time) (string, bool) {
	if f == nil {
		return "", true
	}
	for _, p := range f.predicates {
		if !p.Match(evt, now) {
			return p.Key(), false
		}
	}
	return "", true
}

// Keys lists the compiled predicate keys, including ignored ones.
func (f *Filter) Keys() []string {
	keys := make([]string, len(f.predicates))
	for i, p := range f.predicates {
		keys[i] = p.Key()
	}
	return keys
}

type Options struct {
	Evaluator *cel.Evaluator
	Logger    logger.Logger
}

// Compile turns a rule's filter spec into predicates. It never fails: unknown keys are
// ignored and malformed constraints compile to a predicate that rejects every event.
func Compile(spec map[string]interface{}, opts Options) *Filter {
	log := opts.Logger
	if log == nil {
		log = logger.NopLogger()
	}

	keys := make([]string, 0, len(spec))
	for k := range spec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	f := &Filter{predicates: make([]Predicate, 0, len(keys))}
	for _, key := range keys {
		p := compileKey(key, spec, opts.Evaluator)
		switch v := p.(type) {
		case nil:
			continue
		case ignoredPredicate:
			log.Debugw("Ignoring unknown filter key", "key", key)
		case rejectPredicate:
			log.Warnw("Invalid filter constraint, rule will never match", "key", key, "reason", v.reason)
		}
		f.predicates = append(f.predicates, p)
	}
	return f
}

func compileKey(key string, spec map[string]interface{}, evaluator *cel.Evaluator) Predicate {
	raw := spec[key]

	switch key {
	case keyValueMin, keyValueMax:
		return compileRange(key, raw, valueFields, key == keyValueMin)
	case keyProbabilityMin, keyProbabilityMax:
		return compileRange(key, raw, probabilityFields, key == keyProbabilityMin)
	case keyLabels:
		return compileLabels(raw, spec[keyMatchType])
	case keyMatchType:
		// Consumed by labels.
		return nil
	case keyBusinessHours:
		return compileBusinessHours(raw)
	case keyExpression:
		return compileExpression(raw, evaluator)
	}

	if fields, ok := setKeys[key]; ok {
		allowed := toStringSet(raw)
		if len(allowed) == 0 {
			return rejectPredicate{key: key, reason: "empty value set"}
		}
		return setPredicate{key: key, fields: fields, allowed: allowed}
	}

	return ignoredPredicate{key: key}
}

func compileRange(key string, raw interface{}, fields []string, isMin bool) Predicate {
	bound, ok := toFloat64(raw)
	if !ok {
		return rejectPredicate{key: key, reason: fmt.Sprintf("not a number: %v", raw)}
	}
	return rangePredicate{key: key, fields: fields, bound: bound, isMin: isMin}
}

func compileLabels(raw, matchType interface{}) Predicate {
	want := toStringSet(raw)
	if len(want) == 0 {
		return rejectPredicate{key: keyLabels, reason: "empty label set"}
	}

	mode, _ := matchType.(string)
	switch strings.ToLower(mode) {
	case "", "any":
		return labelsPredicate{want: want}
	case "all":
		return labelsPredicate{want: want, all: true}
	default:
		return rejectPredicate{key: keyLabels, reason: fmt.Sprintf("unknown match_type %q", mode)}
	}
}

// compileBusinessHours accepts true (weekdays 09:00-17:00 UTC), false (no constraint)
// or {start, end, weekdays, timezone}.
func compileBusinessHours(raw interface{}) Predicate {
	p := businessHoursPredicate{start: 9 * 60, end: 17 * 60, loc: time.UTC}

	if enabled, ok := raw.(bool); ok {
		if !enabled {
			return nil
		}
		p.weekdays = weekdaySet(defaultWeekdays)
		return p
	}

	cfg, ok := raw.(map[string]interface{})
	if !ok {
		return rejectPredicate{key: keyBusinessHours, reason: fmt.Sprintf("unsupported value %v", raw)}
	}
	if s, ok := cfg["start"].(string); ok {
		m, err := ParseClock(s)
		if err != nil {
			return rejectPredicate{key: keyBusinessHours, reason: err.Error()}
		}
		p.start = m
	}
	if s, ok := cfg["end"].(string); ok {
		m, err := ParseClock(s)
		if err != nil {
			return rejectPredicate{key: keyBusinessHours, reason: err.Error()}
		}
		p.end = m
	}
	if tz, ok := cfg["timezone"].(string); ok && tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return rejectPredicate{key: keyBusinessHours, reason: err.Error()}
		}
		p.loc = loc
	}

	days := defaultWeekdays
	if list, ok := cfg["weekdays"].([]interface{}); ok {
		days = make([]int, 0, len(list))
		for _, d := range list {
			n, ok := toFloat64(d)
			if !ok || n < 1 || n > 7 {
				return rejectPredicate{key: keyBusinessHours, reason: fmt.Sprintf("invalid weekday %v", d)}
			}
			days = append(days, int(n))
		}
	}
	p.weekdays = weekdaySet(days)
	return p
}

func weekdaySet(days []int) map[int]bool {
	set := make(map[int]bool, len(days))
	for _, d := range days {
		set[d] = true
	}
	return set
}

func compileExpression(raw interface{}, evaluator *cel.Evaluator) Predicate {
	expr, ok := raw.(string)
	if !ok || strings.TrimSpace(expr) == "" {
		return rejectPredicate{key: keyExpression, reason: "expression must be a non-empty string"}
	}
	if evaluator == nil {
		return rejectPredicate{key: keyExpression, reason: "expression support disabled"}
	}
	program, err := evaluator.CompileFilter(expr)
	if err != nil {
		return rejectPredicate{key: keyExpression, reason: err.Error()}
	}
	return expressionPredicate{program: program}
}

// Compiler caches compiled filters per rule version so each rule is compiled once per
// load rather than once per event.
type Compiler struct {
	opts Options

	mu    sync.RWMutex
	cache map[string]compiled
}

type compiled struct {
	updatedAt time.Time
	filter    *Filter
}

func NewCompiler(opts Options) *Compiler {
	return &Compiler{opts: opts, cache: make(map[string]compiled)}
}

func (c *Compiler) ForRule(rule models.Rule) *Filter {
	c.mu.RLock()
	entry, ok := c.cache[rule.ID]
	c.mu.RUnlock()
	if ok && entry.updatedAt.Equal(rule.UpdatedAt) {
		return entry.filter
	}

	f := Compile(rule.Filter, c.opts)

	c.mu.Lock()
	c.cache[rule.ID] = compiled{updatedAt: rule.UpdatedAt, filter: f}
	c.mu.Unlock()
	return f
}

// Evaluate runs the rule's filter and records the outcome.
func (c *Compiler) Evaluate(rule models.Rule, evt *models.InboundEvent, now time.Time) (string, bool) {
	failed, ok := c.ForRule(rule).FirstFailing(evt, now)
	if ok {
		metrics.IncFilterEvaluation("matched")
	} else {
		metrics.IncFilterEvaluation("rejected")
	}
	return failed, ok
}
