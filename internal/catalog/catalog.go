// Package catalog reads products, categories, reviews and home page content.
package catalog

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront/internal/backend"
	"storefront/internal/models"
	"storefront/internal/util"
)

// Sort orders for product listings
const (
	SortNewest    = "newest"
	SortPriceLow  = "price-low"
	SortPriceHigh = "price-high"
	SortName      = "name"
)

// Price bands for product listings
const (
	PriceAll     = "all"
	PriceUnder25 = "under-25"
	Price25To50  = "25-50"
	Price50To100 = "50-100"
	PriceOver100 = "over-100"
)

const (
	featuredLimit  = 8
	homeCategories = 4
)

// ProductFilter narrows a product listing. Zero values mean no restriction.
type ProductFilter struct {
	CategoryID string `form:"category"`
	Search     string `form:"search"`
	PriceRange string `form:"price"`
	Sort       string `form:"sort"`
}

// Home is everything the landing page shows.
type Home struct {
	Hero       *models.HomepageContent `json:"hero"`
	Featured   []models.Product        `json:"featured"`
	Categories []models.Category       `json:"categories"`
}

type Service struct {
	data   backend.DataService
	logger *zap.Logger
}

func NewService(data backend.DataService, logger *zap.Logger) *Service {
	return &Service{
		data:   data,
		logger: logger,
	}
}

// ListProducts returns active products matching f.
func (s *Service) ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListProducts")
	defer span.End()

	filters := []backend.Filter{backend.Eq("is_active", true)}
	if f.CategoryID != "" {
		filters = append(filters, backend.Eq("category_id", f.CategoryID))
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		pattern := "%" + escapeLike(term) + "%"
		filters = append(filters, backend.Or(
			backend.ILike("name", pattern),
			backend.ILike("description", pattern),
		))
	}

	var products []models.Product
	err := s.data.Select(ctx, backend.Query{
		Table:   models.TableProducts,
		Filters: filters,
		Order:   sortOrder(f.Sort),
	}, &products)
	if err != nil {
		return nil, &models.RemoteError{Op: "list products", Err: err}
	}
	return inPriceRange(products, f.PriceRange), nil
}

// GetProduct returns one product by id.
func (s *Service) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetProduct")
	defer span.End()

	var products []models.Product
	err := s.data.Select(ctx, backend.Query{
		Table:   models.TableProducts,
		Filters: []backend.Filter{backend.Eq("id", id)},
		Limit:   1,
	}, &products)
	if err != nil {
		return nil, &models.RemoteError{Op: "get product", Err: err}
	}
	if len(products) == 0 {
		return nil, models.ErrNotFound
	}
	return &products[0], nil
}

// ProductReviews returns the reviews of a product, newest first, each with its author.
func (s *Service) ProductReviews(ctx context.Context, productID string) ([]models.Review, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ProductReviews")
	defer span.End()

	var reviews []models.Review
	err := s.data.Select(ctx, backend.Query{
		Table:   models.TableReviews,
		Filters: []backend.Filter{backend.Eq("product_id", productID)},
		Order:   []backend.Order{backend.Desc("created_at")},
	}, &reviews)
	if err != nil {
		return nil, &models.RemoteError{Op: "list reviews", Err: err}
	}
	if len(reviews) == 0 {
		return reviews, nil
	}

	ids := make([]string, 0, len(reviews))
	seen := make(map[string]bool)
	for _, r := range reviews {
		if !seen[r.UserID] {
			seen[r.UserID] = true
			ids = append(ids, r.UserID)
		}
	}

	var authors []models.Profile
	err = s.data.Select(ctx, backend.Query{
		Table:   models.TableProfiles,
		Filters: []backend.Filter{backend.In("id", ids)},
	}, &authors)
	if err != nil {
		// Reviews are still worth showing without names.
		s.logger.Warn("failed to load review authors", zap.String("product_id", productID), zap.Error(err))
		return reviews, nil
	}
	byID := make(map[string]*models.ReviewAuthor, len(authors))
	for _, a := range authors {
		byID[a.ID] = &models.ReviewAuthor{FullName: a.FullName, Email: a.Email}
	}
	for i := range reviews {
		reviews[i].User = byID[reviews[i].UserID]
	}
	return reviews, nil
}

// AverageRating is the mean rating, zero when there are no reviews.
func AverageRating(reviews []models.Review) float64 {
	if len(reviews) == 0 {
		return 0
	}
	sum := 0
	for _, r := range reviews {
		sum += r.Rating
	}
	return float64(sum) / float64(len(reviews))
}

// ListCategories returns categories by display order. limit <= 0 returns all.
func (s *Service) ListCategories(ctx context.Context, limit int) ([]models.Category, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListCategories")
	defer span.End()

	var categories []models.Category
	err := s.data.Select(ctx, backend.Query{
		Table: models.TableCategories,
		Order: []backend.Order{backend.Asc("display_order")},
		Limit: limit,
	}, &categories)
	if err != nil {
		return nil, &models.RemoteError{Op: "list categories", Err: err}
	}
	return categories, nil
}

// HeroContent returns the hero section, or nil when none was saved yet.
func (s *Service) HeroContent(ctx context.Context) (*models.HomepageContent, error) {
	var rows []models.HomepageContent
	err := s.data.Select(ctx, backend.Query{
		Table:   models.TableHomepageContent,
		Filters: []backend.Filter{backend.Eq("section", models.SectionHero)},
		Limit:   1,
	}, &rows)
	if err != nil {
		return nil, &models.RemoteError{Op: "load hero content", Err: err}
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *Service) Home(ctx context.Context) (*Home, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Home")
	defer span.End()

	hero, err := s.HeroContent(ctx)
	if err != nil {
		return nil, err
	}

	var featured []models.Product
	err = s.data.Select(ctx, backend.Query{
		Table:   models.TableProducts,
		Filters: []backend.Filter{backend.Eq("is_featured", true), backend.Eq("is_active", true)},
		Limit:   featuredLimit,
	}, &featured)
	if err != nil {
		return nil, &models.RemoteError{Op: "list featured products", Err: err}
	}

	categories, err := s.ListCategories(ctx, homeCategories)
	if err != nil {
		return nil, err
	}
	return &Home{Hero: hero, Featured: featured, Categories: categories}, nil
}

func sortOrder(sort string) []backend.Order {
	switch sort {
	case SortPriceLow:
		return []backend.Order{backend.Asc("price")}
	case SortPriceHigh:
		return []backend.Order{backend.Desc("price")}
	case SortName:
		return []backend.Order{backend.Asc("name")}
	}
	return []backend.Order{backend.Desc("created_at")}
}

var (
	twentyFive = decimal.NewFromInt(25)
	fifty      = decimal.NewFromInt(50)
	hundred    = decimal.NewFromInt(100)
)

// inPriceRange keeps the products inside band. The 25-50 and 50-100 bands
// both include 50.
func inPriceRange(products []models.Product, band string) []models.Product {
	keep := func(p decimal.Decimal) bool { return true }
	switch band {
	case PriceUnder25:
		keep = func(p decimal.Decimal) bool { return p.LessThan(twentyFive) }
	case Price25To50:
		keep = func(p decimal.Decimal) bool { return p.GreaterThanOrEqual(twentyFive) && p.LessThanOrEqual(fifty) }
	case Price50To100:
		keep = func(p decimal.Decimal) bool { return p.GreaterThanOrEqual(fifty) && p.LessThanOrEqual(hundred) }
	case PriceOver100:
		keep = func(p decimal.Decimal) bool { return p.GreaterThan(hundred) }
	}

	out := make([]models.Product, 0, len(products))
	for _, p := range products {
		if keep(p.Price) {
			out = append(out, p)
		}
	}
	return out
}

// escapeLike neutralises the wildcard characters of a user search term.
func escapeLike(term string) string {
	r := strings.NewReplacer("%", "", "_", "", ",", " ", "(", " ", ")", " ")
	return r.Replace(term)
}
