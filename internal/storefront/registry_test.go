package storefront

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront/internal/backend"
	"storefront/internal/backend/memory"
	"storefront/internal/checkout"
	"storefront/internal/models"
	"storefront/internal/redisclient"
)

type brokenTokens struct{ *MemoryTokenStore }

func (brokenTokens) LoadSession(context.Context, string) (string, error) {
	return "", errors.New("redis down")
}

func newRegistry(t *testing.T) (*Registry, *memory.Backend, *MemoryTokenStore) {
	t.Helper()
	b := memory.New()
	require.NoError(t, b.Seed(models.TableProducts, models.Product{
		ID: "mug", Name: "Mug", Slug: "mug", Price: decimal.RequireFromString("10.00"), Stock: 5, IsActive: true,
	}))
	tokens := NewMemoryTokenStore()
	return NewRegistry(b, tokens, time.Hour, zap.NewNop()), b, tokens
}

func shipping() models.ShippingInfo {
	return models.ShippingInfo{
		FullName: "Sam", Email: "sam@example.com", Address: "1 Main St",
		City: "Springfield", PostalCode: "12345", Country: "US",
	}
}

func TestSignUpThenShop(t *testing.T) {
	r, b, _ := newRegistry(t)
	ctx := context.Background()

	id, front, err := r.SignUp(ctx, backend.Credentials{Email: "sam@example.com", Password: "pw"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, r.Len())

	require.NoError(t, front.Cart.Add(ctx, "mug", 2))
	number, err := front.Checkout.Submit(ctx, shipping())
	require.NoError(t, err)
	assert.Contains(t, number, "ORD-")
	assert.Equal(t, checkout.StateDone, front.Checkout.State())
	assert.Zero(t, front.Cart.Count())
	assert.Len(t, b.Rows(models.TableOrderItems), 1)

	same, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Same(t, front, same)
}

func TestGetRestoresFromTokenStore(t *testing.T) {
	r, b, tokens := newRegistry(t)
	ctx := context.Background()

	id, front, err := r.SignUp(ctx, backend.Credentials{Email: "sam@example.com", Password: "pw"})
	require.NoError(t, err)
	require.NoError(t, front.Cart.Add(ctx, "mug", 1))

	// another instance sharing the token store
	other := NewRegistry(b, tokens, time.Hour, zap.NewNop())
	restored, err := other.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, restored.Session.CurrentIdentity())
	assert.Equal(t, "sam@example.com", restored.Session.CurrentIdentity().Email)
	assert.Equal(t, 1, restored.Cart.Count())
}

func TestGetUnknownSession(t *testing.T) {
	r, _, _ := newRegistry(t)

	_, err := r.Get(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
	_, err = r.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
}

func TestGetWithRevokedTokenForgetsSession(t *testing.T) {
	r, _, tokens := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, tokens.SaveSession(ctx, "stale", "not-a-token", time.Hour))

	_, err := r.Get(ctx, "stale")
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
	_, err = tokens.LoadSession(ctx, "stale")
	assert.ErrorIs(t, err, redisclient.ErrSessionNotFound)
}

func TestGetTokenStoreFailure(t *testing.T) {
	b := memory.New()
	r := NewRegistry(b, brokenTokens{NewMemoryTokenStore()}, time.Hour, zap.NewNop())

	_, err := r.Get(context.Background(), "any")
	assert.ErrorIs(t, err, models.ErrRemote)
}

func TestSignInFailureLeavesNoSession(t *testing.T) {
	r, _, _ := newRegistry(t)

	_, _, err := r.SignIn(context.Background(), backend.Credentials{Email: "ghost@example.com", Password: "pw"})
	assert.ErrorIs(t, err, models.ErrRemote)
	assert.Zero(t, r.Len())
}

func TestSignOutForgetsSession(t *testing.T) {
	r, _, tokens := newRegistry(t)
	ctx := context.Background()

	id, front, err := r.SignUp(ctx, backend.Credentials{Email: "sam@example.com", Password: "pw"})
	require.NoError(t, err)

	require.NoError(t, r.SignOut(ctx, id))
	assert.Nil(t, front.Session.CurrentIdentity())
	assert.Zero(t, r.Len())
	_, err = tokens.LoadSession(ctx, id)
	assert.ErrorIs(t, err, redisclient.ErrSessionNotFound)

	assert.ErrorIs(t, r.SignOut(ctx, id), models.ErrUnauthenticated)
}

func TestPruneDropsIdleStorefronts(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()
	now := time.Now()
	r.now = func() time.Time { return now }

	id, _, err := r.SignUp(ctx, backend.Credentials{Email: "sam@example.com", Password: "pw"})
	require.NoError(t, err)

	assert.Zero(t, r.Prune())
	r.now = func() time.Time { return now.Add(2 * time.Hour) }
	assert.Equal(t, 1, r.Prune())
	assert.Zero(t, r.Len())

	// still restorable while the token lives
	_, err = r.Get(ctx, id)
	require.NoError(t, err)
}

func TestMemoryTokenStoreExpiry(t *testing.T) {
	store := NewMemoryTokenStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.SaveSession(ctx, "s1", "tok", time.Minute))
	got, err := store.LoadSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "tok", got)

	store.now = func() time.Time { return now.Add(time.Minute) }
	_, err = store.LoadSession(ctx, "s1")
	assert.ErrorIs(t, err, redisclient.ErrSessionNotFound)
}

func TestCloseDetachesCart(t *testing.T) {
	b := memory.New()
	front := New(b, zap.NewNop())
	front.Close()
	front.Close()

	_, err := front.Session.SignUp(context.Background(), backend.Credentials{Email: "a@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Empty(t, front.Cart.Snapshot().UserID)
}

func TestActiveSessionKeepsTokenAlive(t *testing.T) {
	r, _, tokens := newRegistry(t)
	ctx := context.Background()
	start := time.Now()
	clock := start
	r.now = func() time.Time { return clock }
	tokens.now = func() time.Time { return clock }

	id, _, err := r.SignUp(ctx, backend.Credentials{Email: "sam@example.com", Password: "pw"})
	require.NoError(t, err)

	clock = start.Add(50 * time.Minute)
	_, err = r.Get(ctx, id)
	require.NoError(t, err)

	// Past the original hour the token is still there because it was used.
	clock = start.Add(90 * time.Minute)
	_, err = tokens.LoadSession(ctx, id)
	require.NoError(t, err)
}

func TestSessionEndedElsewhereIsDropped(t *testing.T) {
	r, _, tokens := newRegistry(t)
	ctx := context.Background()
	start := time.Now()
	r.now = func() time.Time { return start }

	id, _, err := r.SignUp(ctx, backend.Credentials{Email: "sam@example.com", Password: "pw"})
	require.NoError(t, err)

	// another instance signed the session out
	require.NoError(t, tokens.DeleteSession(ctx, id))

	_, err = r.Get(ctx, id)
	require.NoError(t, err, "within the refresh interval the live storefront is reused")

	r.now = func() time.Time { return start.Add(2 * touchInterval) }
	_, err = r.Get(ctx, id)
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
	assert.Zero(t, r.Len())
}

func TestCheckoutOrdersLinesAddedOnAnotherInstance(t *testing.T) {
	r, b, tokens := newRegistry(t)
	require.NoError(t, b.Seed(models.TableProducts, models.Product{
		ID: "cup", Name: "Cup", Slug: "cup", Price: decimal.RequireFromString("7.00"), Stock: 5, IsActive: true,
	}))
	ctx := context.Background()

	id, front, err := r.SignUp(ctx, backend.Credentials{Email: "sam@example.com", Password: "pw"})
	require.NoError(t, err)
	require.NoError(t, front.Cart.Add(ctx, "mug", 1))

	other := NewRegistry(b, tokens, time.Hour, zap.NewNop())
	elsewhere, err := other.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, elsewhere.Cart.Add(ctx, "cup", 2))
	require.Len(t, b.Rows(models.TableCartItems), 2)

	_, err = front.Checkout.Submit(ctx, shipping())
	require.NoError(t, err)

	orders := b.Rows(models.TableOrders)
	require.Len(t, orders, 1)
	total, err := decimal.NewFromString(orders[0]["total_amount"].(string))
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("24.00")), "total was %s", total)
	assert.Len(t, b.Rows(models.TableOrderItems), 2)
	assert.Empty(t, b.Rows(models.TableCartItems))
}
