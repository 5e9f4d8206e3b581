package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront/internal/backend/memory"
	"storefront/internal/models"
)

func strPtr(s string) *string { return &s }

func seeded(t *testing.T) (*memory.Backend, *Service) {
	t.Helper()
	b := memory.New()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	kitchen := "cat-kitchen"

	require.NoError(t, b.Seed(models.TableProducts, []models.Product{
		{ID: "p1", Name: "Espresso Cup", Description: strPtr("small ceramic cup"), CategoryID: &kitchen,
			Price: decimal.RequireFromString("12.50"), Stock: 4, IsActive: true, IsFeatured: true, CreatedAt: base},
		{ID: "p2", Name: "Teapot", Description: strPtr("cast iron"), CategoryID: &kitchen,
			Price: decimal.RequireFromString("50.00"), Stock: 2, IsActive: true, CreatedAt: base.Add(time.Hour)},
		{ID: "p3", Name: "Armchair", Description: strPtr("velvet, holds a cup of tea"),
			Price: decimal.RequireFromString("240.00"), Stock: 1, IsActive: true, IsFeatured: true, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "p4", Name: "Retired Cup", Price: decimal.RequireFromString("3.00"), IsActive: false, CreatedAt: base},
	}))
	require.NoError(t, b.Seed(models.TableCategories, []models.Category{
		{ID: "cat-living", Name: "Living", Slug: "living", DisplayOrder: 2},
		{ID: kitchen, Name: "Kitchen", Slug: "kitchen", DisplayOrder: 1},
	}))
	return b, NewService(b, zap.NewNop())
}

func ids(products []models.Product) []string {
	out := make([]string, len(products))
	for i, p := range products {
		out[i] = p.ID
	}
	return out
}

func TestListProducts(t *testing.T) {
	_, svc := seeded(t)
	ctx := context.Background()

	all, err := svc.ListProducts(ctx, ProductFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"p3", "p2", "p1"}, ids(all))

	byCategory, err := svc.ListProducts(ctx, ProductFilter{CategoryID: "cat-kitchen", Sort: SortPriceLow})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, ids(byCategory))

	search, err := svc.ListProducts(ctx, ProductFilter{Search: "CUP", Sort: SortName})
	require.NoError(t, err)
	assert.Equal(t, []string{"p3", "p1"}, ids(search))

	expensive, err := svc.ListProducts(ctx, ProductFilter{Sort: SortPriceHigh, PriceRange: PriceOver100})
	require.NoError(t, err)
	assert.Equal(t, []string{"p3"}, ids(expensive))
}

func TestPriceBands(t *testing.T) {
	products := []models.Product{
		{ID: "a", Price: decimal.RequireFromString("24.99")},
		{ID: "b", Price: decimal.RequireFromString("25")},
		{ID: "c", Price: decimal.RequireFromString("50")},
		{ID: "d", Price: decimal.RequireFromString("100")},
		{ID: "e", Price: decimal.RequireFromString("100.01")},
	}
	assert.Equal(t, []string{"a"}, ids(inPriceRange(products, PriceUnder25)))
	assert.Equal(t, []string{"b", "c"}, ids(inPriceRange(products, Price25To50)))
	assert.Equal(t, []string{"c", "d"}, ids(inPriceRange(products, Price50To100)))
	assert.Equal(t, []string{"e"}, ids(inPriceRange(products, PriceOver100)))
	assert.Len(t, inPriceRange(products, PriceAll), 5)
}

func TestGetProduct(t *testing.T) {
	_, svc := seeded(t)

	p, err := svc.GetProduct(context.Background(), "p2")
	require.NoError(t, err)
	assert.Equal(t, "Teapot", p.Name)

	_, err = svc.GetProduct(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestProductReviewsWithAuthors(t *testing.T) {
	b, svc := seeded(t)
	now := time.Now().UTC()
	require.NoError(t, b.Seed(models.TableProfiles, []models.Profile{
		{ID: "u1", Email: "ann@example.com", FullName: strPtr("Ann")},
	}))
	require.NoError(t, b.Seed(models.TableReviews, []models.Review{
		{ID: "r1", ProductID: "p1", UserID: "u1", Rating: 4, CreatedAt: now.Add(-time.Hour)},
		{ID: "r2", ProductID: "p1", UserID: "u1", Rating: 5, CreatedAt: now},
		{ID: "r3", ProductID: "p2", UserID: "u1", Rating: 1, CreatedAt: now},
	}))

	reviews, err := svc.ProductReviews(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, "r2", reviews[0].ID)
	require.NotNil(t, reviews[0].User)
	assert.Equal(t, "Ann", *reviews[0].User.FullName)
	assert.InDelta(t, 4.5, AverageRating(reviews), 0.0001)
	assert.Zero(t, AverageRating(nil))
}

func TestHome(t *testing.T) {
	b, svc := seeded(t)
	ctx := context.Background()

	home, err := svc.Home(ctx)
	require.NoError(t, err)
	assert.Nil(t, home.Hero)
	assert.ElementsMatch(t, []string{"p1", "p3"}, ids(home.Featured))
	require.Len(t, home.Categories, 2)
	assert.Equal(t, "cat-kitchen", home.Categories[0].ID)

	require.NoError(t, b.Seed(models.TableHomepageContent, models.HomepageContent{
		ID: "h1", Section: models.SectionHero, Title: strPtr("Spring sale"), IsActive: true,
	}))
	home, err = svc.Home(ctx)
	require.NoError(t, err)
	require.NotNil(t, home.Hero)
	assert.Equal(t, "Spring sale", *home.Hero.Title)
}

func TestRemoteFailure(t *testing.T) {
	b, svc := seeded(t)
	b.Fail("select", models.TableCategories, errors.New("down"))

	_, err := svc.ListCategories(context.Background(), 0)
	assert.ErrorIs(t, err, models.ErrRemote)
}
