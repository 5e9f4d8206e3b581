package rest

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"storefront/internal/backend"
)

func encodeFilters(filters []backend.Filter) (url.Values, error) {
	params := url.Values{}
	for _, f := range filters {
		if f.Op == backend.OpOr {
			expr, err := encodeOr(f)
			if err != nil {
				return nil, err
			}
			params.Add("or", expr)
			continue
		}
		v, err := encodeCondition(f)
		if err != nil {
			return nil, err
		}
		params.Add(f.Column, v)
	}
	return params, nil
}

// encodeCondition renders the right hand side of col=op.value.
func encodeCondition(f backend.Filter) (string, error) {
	if f.Column == "" {
		return "", fmt.Errorf("filter column is required")
	}
	switch f.Op {
	case backend.OpEq, backend.OpNeq, backend.OpGt, backend.OpGte, backend.OpLt, backend.OpLte:
		return string(f.Op) + "." + formatValue(f.Value), nil
	case backend.OpILike:
		pattern := formatValue(f.Value)
		return "ilike." + strings.ReplaceAll(pattern, "%", "*"), nil
	case backend.OpIs:
		switch f.Value {
		case nil:
			return "is.null", nil
		case true:
			return "is.true", nil
		case false:
			return "is.false", nil
		}
		return "", fmt.Errorf("unsupported is value %v", f.Value)
	case backend.OpIn:
		values, ok := f.Value.([]string)
		if !ok {
			return "", fmt.Errorf("in filter on %s needs []string", f.Column)
		}
		quoted := make([]string, len(values))
		for i, v := range values {
			quoted[i] = quoteListValue(v)
		}
		return "in.(" + strings.Join(quoted, ",") + ")", nil
	}
	return "", fmt.Errorf("unsupported filter op %q", f.Op)
}

func encodeOr(f backend.Filter) (string, error) {
	subs, ok := f.Value.([]backend.Filter)
	if !ok || len(subs) == 0 {
		return "", fmt.Errorf("or filter needs at least one condition")
	}
	parts := make([]string, 0, len(subs))
	for _, s := range subs {
		if s.Op == backend.OpOr {
			return "", fmt.Errorf("nested or filters are not supported")
		}
		v, err := encodeCondition(s)
		if err != nil {
			return "", err
		}
		parts = append(parts, s.Column+"."+v)
	}
	return "(" + strings.Join(parts, ",") + ")", nil
}

func encodeOrder(orders []backend.Order) string {
	parts := make([]string, len(orders))
	for i, o := range orders {
		dir := "asc"
		if o.Descending {
			dir = "desc"
		}
		parts[i] = o.Column + "." + dir
	}
	return strings.Join(parts, ",")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if x == nil {
			return "null"
		}
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

// quoteListValue wraps values that would break PostgREST list syntax.
func quoteListValue(v string) string {
	if strings.ContainsAny(v, ",()\" ") {
		return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return v
}
