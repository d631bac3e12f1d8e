package service

import (
	"context"
	"strings"

	"isla-market/internal/models"
	"isla-market/internal/store"
	"isla-market/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	relatedProductsLimit = 4
	maxPageSize          = 100
	defaultPageSize      = 20
	countConcurrency     = 8
)

// CatalogService serves products, variants, attributes and categories
type CatalogService struct {
	repo   store.Repository
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(repo store.Repository) *CatalogService {
	return &CatalogService{repo: repo, logger: util.GetLogger()}
}

// ProductQuery narrows a product listing
type ProductQuery struct {
	CategoryID      *int64
	Search          string
	Page            int
	PageSize        int
	IncludeInactive bool
}

// ProductPage is one page of a product listing
type ProductPage struct {
	Products []ProductView `json:"products"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

func clampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

// ListProducts returns a page of products with display pricing
func (s *CatalogService) ListProducts(ctx context.Context, q ProductQuery) (*ProductPage, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListProducts")
	defer span.End()

	page, size := clampPage(q.Page, q.PageSize)
	products, err := s.repo.ListProducts(ctx, store.ProductFilter{
		CategoryID:      q.CategoryID,
		Search:          strings.TrimSpace(q.Search),
		IncludeInactive: q.IncludeInactive,
		Limit:           size,
		Offset:          (page - 1) * size,
	})
	if err != nil {
		return nil, Internal("failed to list products", err)
	}

	views, err := s.withPricing(ctx, products, false)
	if err != nil {
		return nil, err
	}
	return &ProductPage{Products: views, Page: page, PageSize: size}, nil
}

// GetProduct returns a product with its variants and their attribute values.
// Inactive products are only visible when includeInactive is set.
func (s *CatalogService) GetProduct(ctx context.Context, id int64, includeInactive bool) (*ProductView, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetProduct")
	defer span.End()

	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, fromStore(err, "product not found", "")
	}
	if !product.IsActive && !includeInactive {
		return nil, NotFound("product not found")
	}

	variants, err := s.repo.ListVariants(ctx, []int64{id}, !includeInactive)
	if err != nil {
		return nil, Internal("failed to load variants", err)
	}
	if err := s.attachAttributeValues(ctx, variants); err != nil {
		return nil, err
	}

	views := buildViews([]models.Product{*product}, variants, true)
	return &views[0], nil
}

// RelatedProducts returns up to four other active products of the same category
func (s *CatalogService) RelatedProducts(ctx context.Context, id int64) ([]ProductView, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, fromStore(err, "product not found", "")
	}
	if product.CategoryID == nil {
		return []ProductView{}, nil
	}

	products, err := s.repo.ListProducts(ctx, store.ProductFilter{
		CategoryID: product.CategoryID,
		ExcludeID:  product.ID,
		Limit:      relatedProductsLimit,
	})
	if err != nil {
		return nil, Internal("failed to list related products", err)
	}
	return s.withPricing(ctx, products, false)
}

func (s *CatalogService) withPricing(ctx context.Context, products []models.Product, withVariants bool) ([]ProductView, error) {
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		if p.HasVariants {
			ids = append(ids, p.ID)
		}
	}

	var variants []models.ProductVariant
	if len(ids) > 0 {
		var err error
		variants, err = s.repo.ListVariants(ctx, ids, true)
		if err != nil {
			return nil, Internal("failed to load variants", err)
		}
	}
	return buildViews(products, variants, withVariants), nil
}

func (s *CatalogService) attachAttributeValues(ctx context.Context, variants []models.ProductVariant) error {
	if len(variants) == 0 {
		return nil
	}
	ids := make([]int64, len(variants))
	for i, v := range variants {
		ids[i] = v.ID
	}

	values, err := s.repo.ListVariantAttributeValues(ctx, ids)
	if err != nil {
		return Internal("failed to load variant attributes", err)
	}
	byVariant := make(map[int64][]models.VariantAttribute)
	for _, v := range values {
		byVariant[v.VariantID] = append(byVariant[v.VariantID], v)
	}
	for i := range variants {
		variants[i].AttributeValues = byVariant[variants[i].ID]
	}
	return nil
}

// CategoryWithCount is a category with its number of active products
type CategoryWithCount struct {
	models.Category
	ProductCount int `json:"product_count"`
}

// ListCategories returns every category with its active product count.
// Counts are fetched concurrently and written at the category's index.
func (s *CatalogService) ListCategories(ctx context.Context) ([]CategoryWithCount, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListCategories")
	defer span.End()

	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, Internal("failed to list categories", err)
	}

	out := make([]CategoryWithCount, len(categories))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(countConcurrency)
	for i := range categories {
		i := i
		out[i].Category = categories[i]
		g.Go(func() error {
			n, err := s.repo.CountProductsInCategory(gctx, categories[i].ID, true)
			if err != nil {
				return err
			}
			out[i].ProductCount = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Internal("failed to count category products", err)
	}
	return out, nil
}

// CategoryProducts lists a category's active products by category id or slug
func (s *CatalogService) CategoryProducts(ctx context.Context, idOrSlug string, page, size int) (*models.Category, *ProductPage, error) {
	category, err := s.resolveCategory(ctx, idOrSlug)
	if err != nil {
		return nil, nil, err
	}

	products, err := s.ListProducts(ctx, ProductQuery{CategoryID: &category.ID, Page: page, PageSize: size})
	if err != nil {
		return nil, nil, err
	}
	return category, products, nil
}

func (s *CatalogService) resolveCategory(ctx context.Context, idOrSlug string) (*models.Category, error) {
	if id, ok := parseID(idOrSlug); ok {
		category, err := s.repo.GetCategory(ctx, id)
		if err == nil {
			return category, nil
		}
	}
	category, err := s.repo.GetCategoryBySlug(ctx, idOrSlug)
	return category, fromStore(err, "category not found", "")
}
