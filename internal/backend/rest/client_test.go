package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront/internal/backend"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: srv.URL, AnonKey: "anon"})
	require.NoError(t, err)
	return c
}

func TestSelectEncodesQuery(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = w.Write([]byte(`[{"id":"a","quantity":2}]`))
	})

	var rows []row
	err := c.WithToken("user-token").Select(context.Background(), backend.Query{
		Table: "cart_items",
		Filters: []backend.Filter{
			backend.Eq("user_id", "u1"),
			backend.In("product_id", []string{"p1", "p2"}),
			backend.Or(backend.ILike("name", "%shoe%"), backend.ILike("description", "%shoe%")),
		},
		Order: []backend.Order{backend.Asc("created_at"), backend.Desc("id")},
		Limit: 5,
	}, &rows)
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "/rest/v1/cart_items", got.URL.Path)
	q := got.URL.Query()
	assert.Equal(t, "eq.u1", q.Get("user_id"))
	assert.Equal(t, "in.(p1,p2)", q.Get("product_id"))
	assert.Equal(t, "(name.ilike.*shoe*,description.ilike.*shoe*)", q.Get("or"))
	assert.Equal(t, "created_at.asc,id.desc", q.Get("order"))
	assert.Equal(t, "5", q.Get("limit"))
	assert.Equal(t, "anon", got.Header.Get("apikey"))
	assert.Equal(t, "Bearer user-token", got.Header.Get("Authorization"))

	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Quantity)
}

func TestSelectAnonymousUsesAnonKey(t *testing.T) {
	var auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	})

	var rows []row
	require.NoError(t, c.Select(context.Background(), backend.Query{Table: "products"}, &rows))
	assert.Equal(t, "Bearer anon", auth)
	assert.Empty(t, rows)
}

func TestInsertReturnsRepresentation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))

		body, _ := io.ReadAll(r.Body)
		var in map[string]any
		require.NoError(t, json.Unmarshal(body, &in))
		assert.Equal(t, "ORD-1", in["order_number"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id":"o1","order_number":"ORD-1"}]`))
	})

	var created struct {
		ID          string `json:"id"`
		OrderNumber string `json:"order_number"`
	}
	err := c.Insert(context.Background(), "orders", map[string]any{"order_number": "ORD-1"}, &created)
	require.NoError(t, err)
	assert.Equal(t, "o1", created.ID)
}

func TestUpdateAndDeleteRequireFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request %s", r.Method)
	})

	ctx := context.Background()
	assert.Error(t, c.Update(ctx, "cart_items", map[string]any{"quantity": 1}, nil))
	assert.Error(t, c.Delete(ctx, "cart_items", nil))
}

func TestDeleteSendsFilters(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.Delete(context.Background(), "cart_items", []backend.Filter{backend.Eq("id", "c1")})
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, got.Method)
	assert.Equal(t, "eq.c1", got.URL.Query().Get("id"))
}

func TestErrorParsing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"23505","message":"duplicate key value"}`))
	})

	err := c.Insert(context.Background(), "cart_items", map[string]any{"id": "x"}, nil)
	require.Error(t, err)

	var be *backend.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "23505", be.Code)
	assert.Equal(t, "duplicate key value", be.Message)
	assert.True(t, backend.IsConflict(err))
}

func TestSignIn(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600,"user":{"id":"u1","email":"a@b.co"}}`))
	})

	s, err := c.SignIn(context.Background(), backend.Credentials{Email: "a@b.co", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "tok", s.AccessToken)
	assert.Equal(t, "u1", s.User.ID)
	assert.False(t, s.ExpiresAt.IsZero())
}

func TestSignInInvalidCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
	})

	_, err := c.SignIn(context.Background(), backend.Credentials{Email: "a@b.co", Password: "bad"})
	require.Error(t, err)
	assert.True(t, backend.IsAuth(err))
	assert.Contains(t, err.Error(), "Invalid login credentials")
}

func TestSignUpPendingConfirmation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/signup", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"u2","email":"new@b.co"}`))
	})

	s, err := c.SignUp(context.Background(), backend.Credentials{Email: "new@b.co", Password: "pw"})
	require.NoError(t, err)
	assert.Empty(t, s.AccessToken)
	assert.Equal(t, "u2", s.User.ID)
}

func TestGetUserSendsToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"u1","email":"a@b.co"}`))
	})

	u, err := c.GetUser(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", u.Email)
}

func TestTimeFiltersUseISO8601(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = w.Write([]byte(`[]`))
	})

	cutoff := time.Date(2026, 10, 14, 14, 0, 0, 123456789, time.FixedZone("CEST", 2*60*60))
	var rows []row
	err := c.Select(context.Background(), backend.Query{
		Table:   "orders",
		Filters: []backend.Filter{backend.Lt("created_at", cutoff), backend.Gte("updated_at", &cutoff)},
	}, &rows)
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "lt.2026-10-14T12:00:00.123456789Z", got.URL.Query().Get("created_at"))
	assert.Equal(t, "gte.2026-10-14T12:00:00.123456789Z", got.URL.Query().Get("updated_at"))
}
