package store

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"storefront/internal/backend"
	"storefront/internal/models"
)

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// tables exposed through the data service. auth_users is reachable only
// through the auth methods.
var tables = map[string]bool{
	models.TableProfiles:        true,
	models.TableCategories:      true,
	models.TableProducts:        true,
	models.TableReviews:         true,
	models.TableOrders:          true,
	models.TableOrderItems:      true,
	models.TableCartItems:       true,
	models.TableHomepageContent: true,
}

func checkTable(table string) error {
	if !tables[table] {
		return badRequest("unknown table %q", table)
	}
	return nil
}

func column(name string) (string, error) {
	if !identifier.MatchString(name) {
		return "", badRequest("invalid column %q", name)
	}
	return pq.QuoteIdentifier(name), nil
}

// args collects positional parameters.
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

// where renders filters as a WHERE clause. An empty filter list renders "".
func where(filters []backend.Filter, a *args) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		cond, err := condition(f, a, true)
		if err != nil {
			return "", err
		}
		parts = append(parts, cond)
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

func condition(f backend.Filter, a *args, allowOr bool) (string, error) {
	if f.Op == backend.OpOr {
		if !allowOr {
			return "", badRequest("nested or filters are not supported")
		}
		subs, ok := f.Value.([]backend.Filter)
		if !ok || len(subs) == 0 {
			return "", badRequest("or filter needs sub-filters")
		}
		parts := make([]string, 0, len(subs))
		for _, sub := range subs {
			cond, err := condition(sub, a, false)
			if err != nil {
				return "", err
			}
			parts = append(parts, cond)
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil
	}

	col, err := column(f.Column)
	if err != nil {
		return "", err
	}

	switch f.Op {
	case backend.OpEq:
		return col + " = " + a.add(f.Value), nil
	case backend.OpNeq:
		return col + " <> " + a.add(f.Value), nil
	case backend.OpGt:
		return col + " > " + a.add(f.Value), nil
	case backend.OpGte:
		return col + " >= " + a.add(f.Value), nil
	case backend.OpLt:
		return col + " < " + a.add(f.Value), nil
	case backend.OpLte:
		return col + " <= " + a.add(f.Value), nil
	case backend.OpILike:
		return col + " ILIKE " + a.add(f.Value), nil
	case backend.OpIn:
		values, ok := f.Value.([]string)
		if !ok {
			return "", badRequest("in filter on %s needs a list of strings", f.Column)
		}
		return col + "::text = ANY(" + a.add(pq.Array(values)) + ")", nil
	case backend.OpIs:
		switch f.Value {
		case nil:
			return col + " IS NULL", nil
		case true:
			return col + " IS TRUE", nil
		case false:
			return col + " IS FALSE", nil
		}
		return "", badRequest("is filter on %s needs null, true or false", f.Column)
	}
	return "", badRequest("unsupported operator %q", f.Op)
}

func orderBy(order []backend.Order) (string, error) {
	if len(order) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(order))
	for _, o := range order {
		col, err := column(o.Column)
		if err != nil {
			return "", err
		}
		if o.Descending {
			parts = append(parts, col+" DESC NULLS LAST")
		} else {
			parts = append(parts, col+" ASC NULLS LAST")
		}
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// columnsOf returns the sorted union of keys across rows, quoted.
func columnsOf(rows []map[string]any) ([]string, error) {
	seen := map[string]bool{}
	for _, r := range rows {
		for k := range r {
			seen[k] = true
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)

	cols := make([]string, len(names))
	for i, n := range names {
		col, err := column(n)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return cols, nil
}

func selectSQL(q backend.Query, a *args) (string, error) {
	if err := checkTable(q.Table); err != nil {
		return "", err
	}
	w, err := where(q.Filters, a)
	if err != nil {
		return "", err
	}
	o, err := orderBy(q.Order)
	if err != nil {
		return "", err
	}
	query := "SELECT to_jsonb(t)::text FROM " + pq.QuoteIdentifier(q.Table) + " t" + w + o
	if q.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(q.Limit)
	}
	return query, nil
}

func insertSQL(table string, cols []string) string {
	list := strings.Join(cols, ", ")
	quoted := pq.QuoteIdentifier(table)
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM jsonb_populate_recordset(NULL::%s, $1) RETURNING to_jsonb(%s.*)::text",
		quoted, list, list, quoted, quoted)
}

func updateSQL(table string, cols []string, filters []backend.Filter) (string, args, error) {
	a := args{nil}
	w, err := where(filters, &a)
	if err != nil {
		return "", nil, err
	}
	list := strings.Join(cols, ", ")
	target := "(" + list + ")"
	if len(cols) == 1 {
		target = list
	}
	quoted := pq.QuoteIdentifier(table)
	query := fmt.Sprintf("UPDATE %s SET %s = (SELECT %s FROM jsonb_populate_record(NULL::%s, $1))%s",
		quoted, target, list, quoted, w)
	return query, a, nil
}

func deleteSQL(table string, filters []backend.Filter) (string, args, error) {
	var a args
	w, err := where(filters, &a)
	if err != nil {
		return "", nil, err
	}
	return "DELETE FROM " + pq.QuoteIdentifier(table) + w, a, nil
}

func badRequest(format string, v ...any) error {
	return backend.NewError(400, backend.CodeBadRequest, fmt.Sprintf(format, v...))
}
