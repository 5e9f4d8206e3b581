package memory

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"storefront/internal/backend"
)

// normalize gives v the shape it would have after a JSON round trip, which is
// how stored rows are held.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func matchAll(row map[string]any, filters []backend.Filter) (bool, error) {
	for _, f := range filters {
		ok, err := match(row, f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func match(row map[string]any, f backend.Filter) (bool, error) {
	if f.Op == backend.OpOr {
		subs, ok := f.Value.([]backend.Filter)
		if !ok {
			return false, fmt.Errorf("or filter needs []Filter")
		}
		for _, s := range subs {
			ok, err := match(row, s)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	got := row[f.Column]
	switch f.Op {
	case backend.OpIs:
		if f.Value == nil {
			return got == nil, nil
		}
		return got == f.Value, nil
	case backend.OpIn:
		values, ok := f.Value.([]string)
		if !ok {
			return false, fmt.Errorf("in filter on %s needs []string", f.Column)
		}
		s := stringify(got)
		for _, v := range values {
			if got != nil && v == s {
				return true, nil
			}
		}
		return false, nil
	case backend.OpILike:
		pattern, ok := f.Value.(string)
		if !ok {
			return false, fmt.Errorf("ilike filter on %s needs a string", f.Column)
		}
		if got == nil {
			return false, nil
		}
		return likeRegexp(pattern).MatchString(stringify(got)), nil
	}

	c, comparable := compare(got, normalize(f.Value))
	switch f.Op {
	case backend.OpEq:
		return comparable && c == 0, nil
	case backend.OpNeq:
		return comparable && c != 0, nil
	case backend.OpGt:
		return comparable && c > 0, nil
	case backend.OpGte:
		return comparable && c >= 0, nil
	case backend.OpLt:
		return comparable && c < 0, nil
	case backend.OpLte:
		return comparable && c <= 0, nil
	}
	return false, fmt.Errorf("unsupported filter op %q", f.Op)
}

func likeRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// compare orders two stored values. comparable is false when either side is
// null or the kinds cannot be ordered against each other.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if ba == bb {
			return 0, true
		}
		if !ba {
			return -1, true
		}
		return 1, true
	}

	sa, sb := stringify(a), stringify(b)
	if ta, err := time.Parse(time.RFC3339Nano, sa); err == nil {
		if tb, err := time.Parse(time.RFC3339Nano, sb); err == nil {
			return ta.Compare(tb), true
		}
	}
	return strings.Compare(sa, sb), true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}
