// Package backend defines the contract of the remote data service the storefront
// delegates to: row-oriented tables with filter/sort/select/insert/update/delete
// and an authentication subsystem issuing session tokens.
package backend

import (
	"context"
	"time"
)

// Op is a filter operator.
type Op string

const (
	OpEq    Op = "eq"
	OpNeq   Op = "neq"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpIn    Op = "in"
	OpILike Op = "ilike"
	OpIs    Op = "is"
	OpOr    Op = "or"
)

// Filter restricts the rows a query touches.
// For OpIn, Value is a []string. For OpOr, Value is a []Filter.
// For OpIs, Value is nil, true or false. OpILike patterns use % as the wildcard.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

func Eq(column string, value any) Filter  { return Filter{Column: column, Op: OpEq, Value: value} }
func Neq(column string, value any) Filter { return Filter{Column: column, Op: OpNeq, Value: value} }
func Gt(column string, value any) Filter  { return Filter{Column: column, Op: OpGt, Value: value} }
func Gte(column string, value any) Filter { return Filter{Column: column, Op: OpGte, Value: value} }
func Lt(column string, value any) Filter  { return Filter{Column: column, Op: OpLt, Value: value} }
func Lte(column string, value any) Filter { return Filter{Column: column, Op: OpLte, Value: value} }
func Is(column string, value any) Filter  { return Filter{Column: column, Op: OpIs, Value: value} }

func In(column string, values []string) Filter {
	return Filter{Column: column, Op: OpIn, Value: values}
}

func ILike(column, pattern string) Filter {
	return Filter{Column: column, Op: OpILike, Value: pattern}
}

// Or matches rows satisfying any of the given filters.
func Or(filters ...Filter) Filter {
	return Filter{Op: OpOr, Value: filters}
}

// Order sorts query results.
type Order struct {
	Column     string
	Descending bool
}

func Asc(column string) Order  { return Order{Column: column} }
func Desc(column string) Order { return Order{Column: column, Descending: true} }

// Query describes a select against one table. Limit <= 0 means no limit.
type Query struct {
	Table   string
	Filters []Filter
	Order   []Order
	Limit   int
}

// DataService is the row-level CRUD surface of the backend.
type DataService interface {
	// Select decodes matching rows into dest, which must point to a slice.
	Select(ctx context.Context, q Query, dest any) error
	// Insert writes one row (struct or map) or a slice of rows. When dest is
	// non-nil the created rows are decoded into it.
	Insert(ctx context.Context, table string, rows any, dest any) error
	Update(ctx context.Context, table string, patch map[string]any, filters []Filter) error
	Delete(ctx context.Context, table string, filters []Filter) error
}

// Credentials authenticate a user by email and password.
// FullName is only used at sign-up.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

// User is the backend's auth record.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is issued by a successful sign-in.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Authenticator is the auth subsystem of the backend.
type Authenticator interface {
	SignIn(ctx context.Context, creds Credentials) (*Session, error)
	SignUp(ctx context.Context, creds Credentials) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*User, error)
}

// Client is a complete backend. Calls made directly on the client run with
// anonymous privileges; WithToken returns a view acting as the token's user,
// which the backend's row-level security applies to.
type Client interface {
	DataService
	Authenticator
	WithToken(accessToken string) DataService
}
