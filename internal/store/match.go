package store

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Matches reports whether props satisfy every condition and the time range of q.
func Matches(props Properties, q Query) bool {
	for _, c := range q.Where {
		if !Equal(props[c.Field], c.Value) {
			return false
		}
	}
	if r := q.Range; r != nil {
		t, ok := TimeValue(props[r.Field])
		if !ok && r.Fallback != "" {
			t, ok = TimeValue(props[r.Fallback])
		}
		if !ok {
			return false
		}
		if !r.From.IsZero() && t.Before(r.From) {
			return false
		}
		if !r.To.IsZero() && !t.Before(r.To) {
			return false
		}
	}
	return true
}

// Equal compares two property values the way the document service does:
// numbers by value regardless of their Go type, everything else by string form.
// A nil condition value matches a missing or empty property.
func Equal(a, b any) bool {
	if isEmpty(b) {
		return isEmpty(a)
	}
	if fa, ok := Number(a); ok {
		if fb, ok := Number(b); ok {
			return fa == fb
		}
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ba == bb
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	return okA && okB && sa == sb
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	}
	return false
}

// Number converts the numeric representations produced by JSON decoding,
// gorm and Go callers into a float64.
func Number(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// TimeValue parses a timestamp property. The document service sends RFC 3339
// strings; date-only values are accepted for legacy records.
func TimeValue(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, !x.IsZero()
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// FormatTime is the canonical wire form of timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
