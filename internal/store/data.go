package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lib/pq"

	"storefront/internal/backend"
	"storefront/internal/util"
)

// stamped lists tables with an updated_at column maintained on update.
var stamped = map[string]bool{
	"profiles":         true,
	"categories":       true,
	"products":         true,
	"cart_items":       true,
	"orders":           true,
	"homepage_content": true,
}

type view struct {
	s       *Store
	token   string
	service bool
}

func (v *view) principal() (*backend.Principal, error) {
	if v.service {
		return &backend.Principal{Admin: true}, nil
	}
	if v.token == "" {
		return nil, nil
	}
	c, err := v.s.parse(v.token)
	if err != nil {
		return nil, err
	}
	return &backend.Principal{UserID: c.Subject, Admin: c.Role == "admin"}, nil
}

func (v *view) Select(ctx context.Context, q backend.Query, dest any) (err error) {
	ctx, done := observe(ctx, "select", q.Table)
	defer func() { done(err) }()

	if err := checkTable(q.Table); err != nil {
		return err
	}
	p, err := v.principal()
	if err != nil {
		return err
	}
	filters, ok := backend.ScopeRead(q.Table, p, q.Filters)
	if !ok {
		return backend.DecodeJSON([]byte("[]"), dest)
	}
	q.Filters = filters

	var a args
	query, err := selectSQL(q, &a)
	if err != nil {
		return err
	}
	var docs []string
	if err := v.s.db.SelectContext(ctx, &docs, query, a...); err != nil {
		return mapError(err)
	}
	return backend.DecodeJSON(joinDocs(docs), dest)
}

func (v *view) Insert(ctx context.Context, table string, rows any, dest any) (err error) {
	ctx, done := observe(ctx, "insert", table)
	defer func() { done(err) }()

	if err := checkTable(table); err != nil {
		return err
	}
	normalized, err := backend.ToRows(rows)
	if err != nil {
		return err
	}
	if len(normalized) == 0 {
		return backend.DecodeJSON([]byte("[]"), dest)
	}
	p, err := v.principal()
	if err != nil {
		return err
	}
	if err := backend.CheckInsert(table, p, normalized); err != nil {
		return err
	}

	cols, err := columnsOf(normalized)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("marshal rows: %w", err)
	}

	var docs []string
	if err := v.s.db.SelectContext(ctx, &docs, insertSQL(table, cols), string(payload)); err != nil {
		return mapError(err)
	}
	if dest == nil {
		return nil
	}
	return backend.DecodeJSON(joinDocs(docs), dest)
}

func (v *view) Update(ctx context.Context, table string, patch map[string]any, filters []backend.Filter) (err error) {
	ctx, done := observe(ctx, "update", table)
	defer func() { done(err) }()

	if err := checkTable(table); err != nil {
		return err
	}
	if len(filters) == 0 {
		return badRequest("update on %s requires at least one filter", table)
	}
	p, err := v.principal()
	if err != nil {
		return err
	}
	scoped, err := backend.ScopeWrite(table, p, filters)
	if err != nil {
		return err
	}

	rows, err := backend.ToRows(patch)
	if err != nil {
		return err
	}
	changes := rows[0]
	delete(changes, "id")
	if _, ok := changes["updated_at"]; !ok && stamped[table] {
		changes["updated_at"] = v.s.now().UTC().Format(time.RFC3339Nano)
	}
	if len(changes) == 0 {
		return nil
	}

	cols, err := columnsOf([]map[string]any{changes})
	if err != nil {
		return err
	}
	query, a, err := updateSQL(table, cols, scoped)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}
	a[0] = string(payload)

	if _, err := v.s.db.ExecContext(ctx, query, a...); err != nil {
		return mapError(err)
	}
	return nil
}

func (v *view) Delete(ctx context.Context, table string, filters []backend.Filter) (err error) {
	ctx, done := observe(ctx, "delete", table)
	defer func() { done(err) }()

	if err := checkTable(table); err != nil {
		return err
	}
	if len(filters) == 0 {
		return badRequest("delete on %s requires at least one filter", table)
	}
	p, err := v.principal()
	if err != nil {
		return err
	}
	scoped, err := backend.ScopeWrite(table, p, filters)
	if err != nil {
		return err
	}
	query, a, err := deleteSQL(table, scoped)
	if err != nil {
		return err
	}
	if _, err := v.s.db.ExecContext(ctx, query, a...); err != nil {
		return mapError(err)
	}
	return nil
}

// observe starts a span and returns a func recording the call's outcome.
func observe(ctx context.Context, op, table string) (context.Context, func(error)) {
	ctx, span := util.StartSpan(ctx, "Store."+op)
	start := time.Now()
	return ctx, func(err error) {
		util.BackendRequestDuration.WithLabelValues(op, table).Observe(time.Since(start).Seconds())
		if err != nil {
			util.BackendErrorsTotal.WithLabelValues(op, table).Inc()
		}
		util.EndSpan(span, err)
	}
}

func joinDocs(docs []string) []byte {
	return []byte("[" + strings.Join(docs, ",") + "]")
}

// mapError turns Postgres errors into backend errors with the same codes the
// hosted data service reports.
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	be := &backend.Error{
		Code:    string(pqErr.Code),
		Message: pqErr.Message,
		Details: pqErr.Detail,
		Hint:    pqErr.Hint,
	}
	switch pqErr.Code.Class() {
	case "23":
		be.Status = http.StatusConflict
	case "22", "42":
		be.Status = http.StatusBadRequest
	default:
		be.Status = http.StatusInternalServerError
	}
	if pqErr.Code == "42501" {
		be.Status = http.StatusForbidden
	}
	return be
}
