package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// toFloat64 coerces JSON and Go numeric values, including numeric strings.
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// normalize turns a scalar into the lower-cased string used for set membership.
// Whole floats print without a fraction so 5.0 from JSON equals "5".
func normalize(v interface{}) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(n))
	case float64:
		if n == float64(int64(n)) {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	case map[string]interface{}:
		// CRM APIs often expand references into objects; match on their id.
		if id, ok := n["id"]; ok {
			return normalize(id)
		}
		if name, ok := n["name"]; ok {
			return normalize(name)
		}
		return ""
	default:
		return strings.ToLower(fmt.Sprintf("%v", n))
	}
}

// toStringSet accepts a single value, a comma separated string or a list.
func toStringSet(v interface{}) map[string]struct{} {
	set := make(map[string]struct{})
	add := func(x interface{}) {
		if s := normalize(x); s != "" {
			set[s] = struct{}{}
		}
	}

	switch t := v.(type) {
	case nil:
	case []interface{}:
		for _, x := range t {
			add(x)
		}
	case []string:
		for _, x := range t {
			add(x)
		}
	case string:
		for _, part := range strings.Split(t, ",") {
			add(part)
		}
	default:
		add(t)
	}
	return set
}
