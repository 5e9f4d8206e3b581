package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/backend"
	"storefront/internal/models"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T, matchers ...sqlmock.QueryMatcher) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	var db *sql.DB
	var mock sqlmock.Sqlmock
	var err error
	if len(matchers) > 0 {
		db, mock, err = sqlmock.New(sqlmock.QueryMatcherOption(matchers[len(matchers)-1]))
	} else {
		db, mock, err = sqlmock.New()
	}
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewStoreWithDB(sqlx.NewDb(db, "postgres"), "test-secret", zap.NewNop())
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func exact() sqlmock.QueryMatcher {
	return sqlmock.QueryMatcherEqual
}

func token(t *testing.T, s *Store, userID string, role models.Role) string {
	t.Helper()
	session, err := s.issue(authUser{ID: userID, Email: userID + "@example.com", Role: string(role)})
	require.NoError(t, err)
	return session.AccessToken
}

func status(err error) int {
	var be *backend.Error
	if errors.As(err, &be) {
		return be.Status
	}
	return 0
}

func TestSelectBuildsFilteredQuery(t *testing.T) {
	s, mock := newMockStore(t, exact())

	mock.ExpectQuery(`SELECT to_jsonb(t)::text FROM "products" t WHERE "is_active" = $1 AND "id"::text = ANY($2) AND ("name" ILIKE $3 OR "description" ILIKE $4) ORDER BY "created_at" DESC NULLS LAST LIMIT 5`).
		WithArgs(true, sqlmock.AnyArg(), "%cup%", "%cup%").
		WillReturnRows(sqlmock.NewRows([]string{"to_jsonb"}).
			AddRow(`{"id":"a","name":"Cup","price":12.50,"stock":3,"is_active":true}`).
			AddRow(`{"id":"b","name":"Big Cup","price":20,"stock":1,"is_active":true}`))

	var products []models.Product
	err := s.Select(context.Background(), backend.Query{
		Table: models.TableProducts,
		Filters: []backend.Filter{
			backend.Eq("is_active", true),
			backend.In("id", []string{"a", "b"}),
			backend.Or(backend.ILike("name", "%cup%"), backend.ILike("description", "%cup%")),
		},
		Order: []backend.Order{backend.Desc("created_at")},
		Limit: 5,
	}, &products)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "a", products[0].ID)
	assert.Equal(t, "12.5", products[0].Price.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectRejectsUnknownTableAndColumn(t *testing.T) {
	s, mock := newMockStore(t, exact())
	var rows []map[string]any

	err := s.Select(context.Background(), backend.Query{Table: "auth_users"}, &rows)
	assert.Equal(t, 400, status(err))

	err = s.Select(context.Background(), backend.Query{
		Table:   models.TableProducts,
		Filters: []backend.Filter{backend.Eq("name; drop table x", 1)},
	}, &rows)
	assert.Equal(t, 400, status(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnonymousCannotSeePrivateRows(t *testing.T) {
	s, mock := newMockStore(t, exact())

	var items []models.CartItem
	require.NoError(t, s.Select(context.Background(), backend.Query{Table: models.TableCartItems}, &items))
	assert.Empty(t, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectScopesToTokenUser(t *testing.T) {
	s, mock := newMockStore(t, exact())
	data := s.WithToken(token(t, s, "u1", models.RoleCustomer))

	mock.ExpectQuery(`SELECT to_jsonb(t)::text FROM "cart_items" t WHERE "product_id" = $1 AND "user_id" = $2 ORDER BY "created_at" ASC NULLS LAST, "id" ASC NULLS LAST`).
		WithArgs("p1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"to_jsonb"}).
			AddRow(`{"id":"c1","user_id":"u1","product_id":"p1","quantity":2,"created_at":"2024-05-01T12:00:00.123456+00:00"}`))

	var items []models.CartItem
	err := data.Select(context.Background(), backend.Query{
		Table:   models.TableCartItems,
		Filters: []backend.Filter{backend.Eq("product_id", "p1")},
		Order:   []backend.Order{backend.Asc("created_at"), backend.Asc("id")},
	}, &items)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, 2024, items[0].CreatedAt.Year())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReturnsCreatedRows(t *testing.T) {
	s, mock := newMockStore(t, exact())
	data := s.WithToken(token(t, s, "u1", models.RoleCustomer))

	mock.ExpectQuery(`INSERT INTO "cart_items" ("product_id", "quantity", "user_id") SELECT "product_id", "quantity", "user_id" FROM jsonb_populate_recordset(NULL::"cart_items", $1) RETURNING to_jsonb("cart_items".*)::text`).
		WithArgs(`[{"product_id":"p1","quantity":2,"user_id":"u1"}]`).
		WillReturnRows(sqlmock.NewRows([]string{"to_jsonb"}).
			AddRow(`{"id":"c1","user_id":"u1","product_id":"p1","quantity":2}`))

	var created []models.CartItem
	err := data.Insert(context.Background(), models.TableCartItems,
		map[string]any{"user_id": "u1", "product_id": "p1", "quantity": 2}, &created)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "c1", created[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertForAnotherUserIsForbidden(t *testing.T) {
	s, mock := newMockStore(t, exact())
	data := s.WithToken(token(t, s, "u1", models.RoleCustomer))

	err := data.Insert(context.Background(), models.TableCartItems,
		map[string]any{"user_id": "u2", "product_id": "p1", "quantity": 1}, nil)
	assert.Equal(t, 403, status(err))

	err = s.Insert(context.Background(), models.TableOrders, map[string]any{"order_number": "x"}, nil)
	assert.Equal(t, 403, status(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertUniqueViolationIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	data := s.WithToken(token(t, s, "u1", models.RoleCustomer))

	mock.ExpectQuery(`INSERT INTO "cart_items"`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := data.Insert(context.Background(), models.TableCartItems,
		map[string]any{"user_id": "u1", "product_id": "p1", "quantity": 1}, nil)
	assert.True(t, backend.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStampsUpdatedAt(t *testing.T) {
	s, mock := newMockStore(t, exact())
	data := s.WithToken(token(t, s, "admin", models.RoleAdmin))

	mock.ExpectExec(`UPDATE "orders" SET ("status", "updated_at") = (SELECT "status", "updated_at" FROM jsonb_populate_record(NULL::"orders", $1)) WHERE "id" = $2`).
		WithArgs(`{"status":"shipped","updated_at":"2024-05-01T12:00:00Z"}`, "o1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := data.Update(context.Background(), models.TableOrders,
		map[string]any{"status": models.OrderStatusShipped},
		[]backend.Filter{backend.Eq("id", "o1")})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSingleColumnOwnRows(t *testing.T) {
	s, mock := newMockStore(t, exact())
	data := s.WithToken(token(t, s, "u1", models.RoleCustomer))

	mock.ExpectExec(`UPDATE "order_items" SET "quantity" = (SELECT "quantity" FROM jsonb_populate_record(NULL::"order_items", $1)) WHERE "id" = $2`).
		WithArgs(`{"quantity":3}`, "i1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := data.Update(context.Background(), models.TableOrderItems,
		map[string]any{"quantity": 3}, []backend.Filter{backend.Eq("id", "i1")})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAndDeleteRequireFilters(t *testing.T) {
	s, mock := newMockStore(t, exact())
	data := s.WithToken(token(t, s, "u1", models.RoleCustomer))
	ctx := context.Background()

	assert.Equal(t, 400, status(data.Update(ctx, models.TableCartItems, map[string]any{"quantity": 1}, nil)))
	assert.Equal(t, 400, status(data.Delete(ctx, models.TableCartItems, nil)))
	assert.Equal(t, 403, status(s.Delete(ctx, models.TableCartItems, []backend.Filter{backend.Eq("id", "c1")})))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteScopesToOwner(t *testing.T) {
	s, mock := newMockStore(t, exact())
	data := s.WithToken(token(t, s, "u1", models.RoleCustomer))

	mock.ExpectExec(`DELETE FROM "cart_items" WHERE "id" = $1 AND "user_id" = $2`).
		WithArgs("c1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, data.Delete(context.Background(), models.TableCartItems, []backend.Filter{backend.Eq("id", "c1")}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestServiceViewBypassesRules(t *testing.T) {
	s, mock := newMockStore(t, exact())

	mock.ExpectQuery(`SELECT to_jsonb(t)::text FROM "orders" t WHERE "status" = $1 AND "created_at" < $2`).
		WithArgs("pending", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"to_jsonb"}))

	var orders []models.Order
	err := s.Service().Select(context.Background(), backend.Query{
		Table:   models.TableOrders,
		Filters: []backend.Filter{backend.Eq("status", models.OrderStatusPending), backend.Lt("created_at", fixedNow)},
	}, &orders)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidAndExpiredTokens(t *testing.T) {
	s, _ := newMockStore(t, exact())
	var rows []models.Product

	err := s.WithToken("garbage").Select(context.Background(), backend.Query{Table: models.TableProducts}, &rows)
	assert.True(t, backend.IsAuth(err))

	expired := token(t, s, "u1", models.RoleCustomer)
	s.now = func() time.Time { return fixedNow.Add(2 * time.Hour) }
	err = s.WithToken(expired).Select(context.Background(), backend.Query{Table: models.TableProducts}, &rows)
	assert.True(t, backend.IsAuth(err))

	other := NewStoreWithDB(s.db, "another-secret", zap.NewNop())
	other.now = s.now
	_, err = other.parse(token(t, s, "u1", models.RoleCustomer))
	assert.True(t, backend.IsAuth(err))
}

func TestSignUpCreatesProfile(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO auth_users`).
		WithArgs("ann@example.com", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u1"))
	mock.ExpectExec(`INSERT INTO profiles`).
		WithArgs("u1", "ann@example.com", "Ann", "customer").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	session, err := s.SignUp(context.Background(), backend.Credentials{Email: " Ann@Example.com ", Password: "pw", FullName: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "u1", session.User.ID)
	assert.Equal(t, fixedNow.Add(time.Hour), session.ExpiresAt)

	c, err := s.parse(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.Subject)
	assert.Equal(t, "customer", c.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignUpDuplicateEmail(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO auth_users`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})
	mock.ExpectRollback()

	_, err := s.SignUp(context.Background(), backend.Credentials{Email: "ann@example.com", Password: "pw"})
	var be *backend.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "user_already_exists", be.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignIn(t *testing.T) {
	s, mock := newMockStore(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	userRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "email", "password_hash", "role"}).
			AddRow("u1", "boss@example.com", string(hash), "admin")
	}
	mock.ExpectQuery(`SELECT u.id, u.email, u.password_hash`).WithArgs("boss@example.com").WillReturnRows(userRows())
	mock.ExpectQuery(`SELECT u.id, u.email, u.password_hash`).WithArgs("boss@example.com").WillReturnRows(userRows())
	mock.ExpectQuery(`SELECT u.id, u.email, u.password_hash`).WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "role"}))

	ctx := context.Background()
	session, err := s.SignIn(ctx, backend.Credentials{Email: "Boss@example.com", Password: "secret"})
	require.NoError(t, err)
	c, err := s.parse(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", c.Role)

	_, err = s.SignIn(ctx, backend.Credentials{Email: "boss@example.com", Password: "wrong"})
	assert.True(t, backend.IsAuth(err))

	_, err = s.SignIn(ctx, backend.Credentials{Email: "nobody@example.com", Password: "secret"})
	assert.True(t, backend.IsAuth(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserAndSignOut(t *testing.T) {
	s, mock := newMockStore(t)
	tok := token(t, s, "u1", models.RoleCustomer)

	mock.ExpectQuery(`SELECT email FROM auth_users WHERE id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("u1@example.com"))

	user, err := s.GetUser(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", user.Email)

	assert.NoError(t, s.SignOut(context.Background(), tok))
	assert.True(t, backend.IsAuth(s.SignOut(context.Background(), "garbage")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapError(t *testing.T) {
	assert.Equal(t, 409, status(mapError(&pq.Error{Code: "23503"})))
	assert.Equal(t, 400, status(mapError(&pq.Error{Code: "22P02"})))
	assert.Equal(t, 403, status(mapError(&pq.Error{Code: "42501"})))
	assert.Equal(t, 500, status(mapError(&pq.Error{Code: "53300"})))

	plain := errors.New("connection refused")
	assert.Equal(t, plain, mapError(plain))
}

func TestMigrationsAreEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
