package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"relay/pkg/cel"
	"relay/pkg/models"
)

// Predicate is one compiled filter constraint.
type Predicate interface {
	Key() string
	Match(evt *models.InboundEvent, now time.Time) bool
}

func firstField(evt *models.InboundEvent, fields []string) (interface{}, bool) {
	for _, f := range fields {
		if v, ok := evt.CurrentField(f); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// rangePredicate compares a numeric field against a bound. A missing or non-numeric
// field counts as 0.
type rangePredicate struct {
	key    string
	fields []string
	bound  float64
	isMin  bool
}

func (p rangePredicate) Key() string { return p.key }

func (p rangePredicate) Match(evt *models.InboundEvent, _ time.Time) bool {
	var value float64
	if raw, ok := firstField(evt, p.fields); ok {
		if f, ok := toFloat64(raw); ok {
			value = f
		}
	}
	if p.isMin {
		return value >= p.bound
	}
	return value <= p.bound
}

// setPredicate requires the event's field value to be one of the allowed values.
type setPredicate struct {
	key     string
	fields  []string
	allowed map[string]struct{}
}

func (p setPredicate) Key() string { return p.key }

func (p setPredicate) Match(evt *models.InboundEvent, _ time.Time) bool {
	for _, f := range p.fields {
		raw, ok := evt.CurrentField(f)
		if !ok || raw == nil {
			continue
		}
		if _, ok := p.allowed[normalize(raw)]; ok {
			return true
		}
	}
	return false
}

// labelsPredicate matches the event's labels against the rule's. With all=false any
// shared label is enough; with all=true the event must carry every rule label.
type labelsPredicate struct {
	want map[string]struct{}
	all  bool
}

func (p labelsPredicate) Key() string { return keyLabels }

func (p labelsPredicate) Match(evt *models.InboundEvent, _ time.Time) bool {
	raw, _ := firstField(evt, labelFields)
	have := toStringSet(raw)

	if p.all {
		for l := range p.want {
			if _, ok := have[l]; !ok {
				return false
			}
		}
		return true
	}

	for l := range p.want {
		if _, ok := have[l]; ok {
			return true
		}
	}
	return false
}

// businessHoursPredicate passes when the processing time falls inside the window.
type businessHoursPredicate struct {
	start    int // minutes since midnight
	end      int
	weekdays map[int]bool // Mon=1 .. Sun=7
	loc      *time.Location
}

func (p businessHoursPredicate) Key() string { return keyBusinessHours }

func (p businessHoursPredicate) Match(_ *models.InboundEvent, now time.Time) bool {
	local := now.In(p.loc)
	if !p.weekdays[isoWeekday(local.Weekday())] {
		return false
	}
	return inWindow(local.Hour()*60+local.Minute(), p.start, p.end)
}

func isoWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

// inWindow reports whether minute lies in [start, end). Windows with start > end wrap
// past midnight; start == end is an empty window.
func inWindow(minute, start, end int) bool {
	switch {
	case start == end:
		return false
	case start < end:
		return minute >= start && minute < end
	default:
		return minute >= start || minute < end
	}
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour*60 + minute, nil
}

// expressionPredicate evaluates a CEL expression. Evaluation errors reject.
type expressionPredicate struct {
	program *cel.Program
}

func (p expressionPredicate) Key() string { return keyExpression }

func (p expressionPredicate) Match(evt *models.InboundEvent, _ time.Time) bool {
	ok, err := p.program.Eval(evt)
	return err == nil && ok
}

// rejectPredicate stands in for a constraint that could not be compiled.
type rejectPredicate struct {
	key    string
	reason string
}

func (p rejectPredicate) Key() string { return p.key }

func (p rejectPredicate) Match(*models.InboundEvent, time.Time) bool { return false }

// ignoredPredicate stands in for an unrecognised key.
type ignoredPredicate struct {
	key string
}

func (p ignoredPredicate) Key() string { return p.key }

func (p ignoredPredicate) Match(*models.InboundEvent, time.Time) bool { return true }
