package backend

import (
	"fmt"
	"net/http"
)

// Principal is the user a self-hosted backend acts for. A nil Principal is anonymous.
type Principal struct {
	UserID string
	Admin  bool
}

// ownerColumn maps private tables to the column naming their owner.
var ownerColumn = map[string]string{
	"cart_items": "user_id",
	"orders":     "user_id",
	"profiles":   "id",
}

// publicRead lists tables anyone may read.
var publicRead = map[string]bool{
	"products":         true,
	"categories":       true,
	"reviews":          true,
	"homepage_content": true,
	"profiles":         true,
}

// adminWrite lists tables only admins may write.
var adminWrite = map[string]bool{
	"products":         true,
	"categories":       true,
	"homepage_content": true,
}

// ScopeRead returns the filters a read must carry for p. ok is false when p may
// see no rows of the table at all.
func ScopeRead(table string, p *Principal, filters []Filter) (scoped []Filter, ok bool) {
	if p != nil && p.Admin {
		return filters, true
	}
	if publicRead[table] {
		return filters, true
	}
	if p == nil {
		return nil, false
	}
	if col, private := ownerColumn[table]; private {
		return append(append([]Filter(nil), filters...), Eq(col, p.UserID)), true
	}
	// order_items are readable by the owner of the parent order; self-hosted
	// backends approximate this by allowing any signed-in user.
	return filters, true
}

// ScopeWrite returns the filters an update or delete must carry for p.
func ScopeWrite(table string, p *Principal, filters []Filter) ([]Filter, error) {
	if p != nil && p.Admin {
		return filters, nil
	}
	if p == nil || adminWrite[table] {
		return nil, forbidden(table)
	}
	if col, private := ownerColumn[table]; private {
		return append(append([]Filter(nil), filters...), Eq(col, p.UserID)), nil
	}
	return filters, nil
}

// CheckInsert rejects rows p may not create.
func CheckInsert(table string, p *Principal, rows []map[string]any) error {
	if p != nil && p.Admin {
		return nil
	}
	if p == nil || adminWrite[table] {
		return forbidden(table)
	}
	col, private := ownerColumn[table]
	if !private {
		return nil
	}
	for _, row := range rows {
		if owner, _ := row[col].(string); owner != p.UserID {
			return forbidden(table)
		}
	}
	return nil
}

func forbidden(table string) error {
	return NewError(http.StatusForbidden, CodeForbidden, fmt.Sprintf("permission denied for table %s", table))
}
