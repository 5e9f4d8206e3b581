// Package memory is an in-process backend holding every table in memory. It
// applies the same row-level rules as the hosted backend and is used for local
// development and tests.
package memory

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront/internal/backend"
)

// uniqueKeys lists the column sets that must be unique per table.
var uniqueKeys = map[string][][]string{
	"cart_items": {{"user_id", "product_id"}},
	"orders":     {{"order_number"}},
	"profiles":   {{"email"}},
	"products":   {{"slug"}},
	"categories": {{"slug"}},
}

type fault struct {
	op    string
	table string
	err   error
}

// Backend is safe for concurrent use.
type Backend struct {
	mu     sync.Mutex
	tables map[string][]map[string]any
	users  map[string]*account // by email
	tokens map[string]string   // access token -> user id
	faults []fault
	calls  map[string]int
	now    func() time.Time
	last   time.Time
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{
		tables: make(map[string][]map[string]any),
		users:  make(map[string]*account),
		tokens: make(map[string]string),
		calls:  make(map[string]int),
		now:    time.Now,
	}
}

// Seed writes rows without applying row-level rules or defaults.
func (b *Backend) Seed(table string, rows any) error {
	normalized, err := backend.ToRows(rows)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tables[table] = append(b.tables[table], normalized...)
	return nil
}

// Patch updates matching rows without applying row-level rules.
func (b *Backend) Patch(table string, patch map[string]any, filters ...backend.Filter) error {
	normalized, err := backend.ToRows(patch)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.tables[table] {
		matched, err := matchAll(r, filters)
		if err != nil {
			return err
		}
		if matched {
			for k, v := range normalized[0] {
				r[k] = v
			}
		}
	}
	return nil
}

// Rows returns a copy of every row in table.
func (b *Backend) Rows(table string) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]map[string]any, len(b.tables[table]))
	for i, r := range b.tables[table] {
		out[i] = copyRow(r)
	}
	return out
}

// Fail makes every subsequent op ("select", "insert", "update", "delete") on
// table return err until Heal is called.
func (b *Backend) Fail(op, table string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults = append(b.faults, fault{op: op, table: table, err: err})
}

// Heal removes every injected fault.
func (b *Backend) Heal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults = nil
}

// Calls reports how many times op ran against table, failed calls included.
func (b *Backend) Calls(op, table string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op+":"+table]
}

// WithToken returns a data service acting as the token's user.
func (b *Backend) WithToken(accessToken string) backend.DataService {
	return &view{b: b, token: accessToken}
}

// Service returns a data service that bypasses row-level rules, for
// background jobs.
func (b *Backend) Service() backend.DataService {
	return &view{b: b, service: true}
}

func (b *Backend) Select(ctx context.Context, q backend.Query, dest any) error {
	return (&view{b: b}).Select(ctx, q, dest)
}

func (b *Backend) Insert(ctx context.Context, table string, rows any, dest any) error {
	return (&view{b: b}).Insert(ctx, table, rows, dest)
}

func (b *Backend) Update(ctx context.Context, table string, patch map[string]any, filters []backend.Filter) error {
	return (&view{b: b}).Update(ctx, table, patch, filters)
}

func (b *Backend) Delete(ctx context.Context, table string, filters []backend.Filter) error {
	return (&view{b: b}).Delete(ctx, table, filters)
}

// enter records the call and returns any injected fault. Caller holds mu.
func (b *Backend) enter(op, table string) error {
	b.calls[op+":"+table]++
	for _, f := range b.faults {
		if f.op == op && f.table == table {
			return f.err
		}
	}
	return nil
}

// stamp returns a strictly increasing timestamp so insertion order survives
// ordering by created_at. Caller holds mu.
func (b *Backend) stamp() string {
	t := b.now().UTC()
	if !t.After(b.last) {
		t = b.last.Add(time.Microsecond)
	}
	b.last = t
	return t.Format(time.RFC3339Nano)
}

// principal resolves token to the acting user. Caller holds mu.
func (b *Backend) principal(token string) (*backend.Principal, error) {
	if token == "" {
		return nil, nil
	}
	userID, ok := b.tokens[token]
	if !ok {
		return nil, backend.NewError(http.StatusUnauthorized, backend.CodeInvalidToken, "JWT expired or invalid")
	}
	p := &backend.Principal{UserID: userID}
	for _, r := range b.tables["profiles"] {
		if r["id"] == userID {
			p.Admin = r["role"] == "admin"
			break
		}
	}
	return p, nil
}

type view struct {
	b       *Backend
	token   string
	service bool
}

func (v *view) principal() (*backend.Principal, error) {
	if v.service {
		return &backend.Principal{Admin: true}, nil
	}
	return v.b.principal(v.token)
}

func (v *view) Select(ctx context.Context, q backend.Query, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := v.b
	b.mu.Lock()
	if err := b.enter("select", q.Table); err != nil {
		b.mu.Unlock()
		return err
	}
	p, err := v.principal()
	if err != nil {
		b.mu.Unlock()
		return err
	}

	var out []map[string]any
	if filters, ok := backend.ScopeRead(q.Table, p, q.Filters); ok {
		for _, r := range b.tables[q.Table] {
			matched, err := matchAll(r, filters)
			if err != nil {
				b.mu.Unlock()
				return backend.NewError(http.StatusBadRequest, backend.CodeBadRequest, err.Error())
			}
			if matched {
				out = append(out, copyRow(r))
			}
		}
	}
	b.mu.Unlock()

	sortRows(out, q.Order)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	if out == nil {
		out = []map[string]any{}
	}
	return backend.Decode(out, dest)
}

func (v *view) Insert(ctx context.Context, table string, rows any, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	normalized, err := backend.ToRows(rows)
	if err != nil {
		return err
	}

	b := v.b
	b.mu.Lock()
	if err := b.enter("insert", table); err != nil {
		b.mu.Unlock()
		return err
	}
	p, err := v.principal()
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if err := backend.CheckInsert(table, p, normalized); err != nil {
		b.mu.Unlock()
		return err
	}

	now := b.stamp()
	for _, r := range normalized {
		if id, _ := r["id"].(string); id == "" {
			r["id"] = uuid.New().String()
		}
		for _, col := range []string{"created_at", "updated_at"} {
			if unset(r[col]) {
				r[col] = now
			}
		}
	}

	candidate := append(append([]map[string]any(nil), b.tables[table]...), normalized...)
	if err := checkUnique(table, candidate); err != nil {
		b.mu.Unlock()
		return err
	}
	b.tables[table] = candidate

	created := make([]map[string]any, len(normalized))
	for i, r := range normalized {
		created[i] = copyRow(r)
	}
	b.mu.Unlock()

	if dest == nil {
		return nil
	}
	return backend.Decode(created, dest)
}

func (v *view) Update(ctx context.Context, table string, patch map[string]any, filters []backend.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	normalizedPatch, err := backend.ToRows(patch)
	if err != nil {
		return err
	}
	changes := normalizedPatch[0]

	b := v.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("update", table); err != nil {
		return err
	}
	p, err := v.principal()
	if err != nil {
		return err
	}
	scoped, err := backend.ScopeWrite(table, p, filters)
	if err != nil {
		return err
	}

	now := b.stamp()
	next := make([]map[string]any, len(b.tables[table]))
	for i, r := range b.tables[table] {
		matched, err := matchAll(r, scoped)
		if err != nil {
			return backend.NewError(http.StatusBadRequest, backend.CodeBadRequest, err.Error())
		}
		if !matched {
			next[i] = r
			continue
		}
		updated := copyRow(r)
		for k, val := range changes {
			if k == "id" {
				continue
			}
			updated[k] = val
		}
		if _, ok := changes["updated_at"]; !ok {
			updated["updated_at"] = now
		}
		next[i] = updated
	}
	if err := checkUnique(table, next); err != nil {
		return err
	}
	b.tables[table] = next
	return nil
}

func (v *view) Delete(ctx context.Context, table string, filters []backend.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := v.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("delete", table); err != nil {
		return err
	}
	p, err := v.principal()
	if err != nil {
		return err
	}
	scoped, err := backend.ScopeWrite(table, p, filters)
	if err != nil {
		return err
	}

	kept := b.tables[table][:0:0]
	for _, r := range b.tables[table] {
		matched, err := matchAll(r, scoped)
		if err != nil {
			return backend.NewError(http.StatusBadRequest, backend.CodeBadRequest, err.Error())
		}
		if !matched {
			kept = append(kept, r)
		}
	}
	b.tables[table] = kept
	return nil
}

func checkUnique(table string, rows []map[string]any) error {
	for _, cols := range uniqueKeys[table] {
		seen := make(map[string]bool, len(rows))
	rowLoop:
		for _, r := range rows {
			parts := make([]string, len(cols))
			for i, c := range cols {
				if r[c] == nil {
					continue rowLoop
				}
				parts[i] = stringify(r[c])
			}
			key := strings.Join(parts, "\x00")
			if seen[key] {
				return &backend.Error{
					Status:  http.StatusConflict,
					Code:    "23505",
					Message: fmt.Sprintf("duplicate key value violates unique constraint on %s(%s)", table, strings.Join(cols, ", ")),
				}
			}
			seen[key] = true
		}
	}
	return nil
}

// sortRows orders rows by the given columns, nulls last.
func sortRows(rows []map[string]any, order []backend.Order) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range order {
			a, b := rows[i][o.Column], rows[j][o.Column]
			switch {
			case a == nil && b == nil:
				continue
			case a == nil:
				return false
			case b == nil:
				return true
			}
			c, _ := compare(a, b)
			if c == 0 {
				continue
			}
			if o.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// unset treats null and the zero time as absent.
func unset(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, "0001-01-01T00:00:00")
}

func copyRow(r map[string]any) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

var _ backend.Client = (*Backend)(nil)
