package service

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"isla-market/internal/models"
	"isla-market/internal/store"

	"go.uber.org/zap"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil && id > 0
}

// ProductInput is the body of a product creation
type ProductInput struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Price         int64   `json:"price"`
	StockQuantity int     `json:"stock_quantity"`
	IsActive      *bool   `json:"is_active"`
	HasVariants   bool    `json:"has_variants"`
	CategoryID    *int64  `json:"category_id"`
	ImageURL      *string `json:"image_url"`
}

// DeleteResult tells whether a delete removed the row or only deactivated it
type DeleteResult struct {
	ID   int64  `json:"id"`
	Mode string `json:"mode"`
}

// Delete modes
const (
	DeleteHard = "hard"
	DeleteSoft = "soft"
)

func (s *CatalogService) checkCategory(ctx context.Context, id *int64) error {
	if id == nil {
		return nil
	}
	if _, err := s.repo.GetCategory(ctx, *id); err != nil {
		if KindOf(fromStore(err, "", "")) == KindNotFound {
			return Validation("category does not exist")
		}
		return Internal("failed to load category", err)
	}
	return nil
}

// CreateProduct validates and inserts a product
func (s *CatalogService) CreateProduct(ctx context.Context, in ProductInput) (*models.Product, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, Validation("name is required")
	}
	if in.Price < 0 {
		return nil, Validation("price must not be negative")
	}
	if in.StockQuantity < 0 {
		return nil, Validation("stock_quantity must not be negative")
	}
	if err := s.checkCategory(ctx, in.CategoryID); err != nil {
		return nil, err
	}

	product := &models.Product{
		Name:          in.Name,
		Description:   in.Description,
		Price:         in.Price,
		StockQuantity: in.StockQuantity,
		IsActive:      in.IsActive == nil || *in.IsActive,
		HasVariants:   in.HasVariants,
		CategoryID:    in.CategoryID,
		ImageURL:      in.ImageURL,
	}
	if err := s.repo.CreateProduct(ctx, product); err != nil {
		return nil, fromStore(err, "", "product conflicts with existing data")
	}

	s.logger.Info("Product created", zap.Int64("product_id", product.ID))
	return product, nil
}

// UpdateProduct applies only the fields present in patch
func (s *CatalogService) UpdateProduct(ctx context.Context, id int64, patch models.ProductPatch) (*models.Product, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, Validation("name must not be empty")
	}
	if patch.Price != nil && *patch.Price < 0 {
		return nil, Validation("price must not be negative")
	}
	if patch.StockQuantity != nil && *patch.StockQuantity < 0 {
		return nil, Validation("stock_quantity must not be negative")
	}
	if err := s.checkCategory(ctx, patch.CategoryID); err != nil {
		return nil, err
	}

	product, err := s.repo.UpdateProduct(ctx, id, patch)
	return product, fromStore(err, "product not found", "product conflicts with existing data")
}

// DeleteProduct deactivates a product that appears on orders, otherwise removes it
func (s *CatalogService) DeleteProduct(ctx context.Context, id int64) (*DeleteResult, error) {
	if _, err := s.repo.GetProduct(ctx, id); err != nil {
		return nil, fromStore(err, "product not found", "")
	}

	n, err := s.repo.CountOrderItemsForProduct(ctx, id)
	if err != nil {
		return nil, Internal("failed to check product usage", err)
	}

	if n > 0 {
		inactive := false
		if _, err := s.repo.UpdateProduct(ctx, id, models.ProductPatch{IsActive: &inactive}); err != nil {
			return nil, fromStore(err, "product not found", "")
		}
		s.logger.Info("Product deactivated", zap.Int64("product_id", id), zap.Int("order_items", n))
		return &DeleteResult{ID: id, Mode: DeleteSoft}, nil
	}

	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return nil, fromStore(err, "product not found", "product is still referenced")
	}
	s.logger.Info("Product deleted", zap.Int64("product_id", id))
	return &DeleteResult{ID: id, Mode: DeleteHard}, nil
}

// VariantInput is the body of a variant creation
type VariantInput struct {
	Name              string  `json:"name"`
	SKU               *string `json:"sku"`
	Price             int64   `json:"price"`
	StockQuantity     int     `json:"stock_quantity"`
	IsActive          *bool   `json:"is_active"`
	AttributeValueIDs []int64 `json:"attribute_value_ids"`
}

// CreateVariant adds a variant with its attribute values and flags the product as having variants
func (s *CatalogService) CreateVariant(ctx context.Context, productID int64, in VariantInput) (*models.ProductVariant, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, Validation("name is required")
	}
	if in.Price < 0 || in.StockQuantity < 0 {
		return nil, Validation("price and stock_quantity must not be negative")
	}

	variant := &models.ProductVariant{
		ProductID:     productID,
		Name:          in.Name,
		SKU:           in.SKU,
		Price:         in.Price,
		StockQuantity: in.StockQuantity,
		IsActive:      in.IsActive == nil || *in.IsActive,
	}

	err := s.repo.InTx(ctx, func(q store.Querier) error {
		product, err := q.GetProduct(ctx, productID)
		if err != nil {
			return fromStore(err, "product not found", "")
		}
		if err := q.CreateVariant(ctx, variant); err != nil {
			return fromStore(err, "", "variant conflicts with existing data")
		}
		if err := s.setAttributeValues(ctx, q, variant.ID, in.AttributeValueIDs); err != nil {
			return err
		}
		if !product.HasVariants {
			flag := true
			if _, err := q.UpdateProduct(ctx, productID, models.ProductPatch{HasVariants: &flag}); err != nil {
				return fromStore(err, "product not found", "")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	variants := []models.ProductVariant{*variant}
	if err := s.attachAttributeValues(ctx, variants); err != nil {
		return nil, err
	}
	return &variants[0], nil
}

func (s *CatalogService) setAttributeValues(ctx context.Context, q store.Querier, variantID int64, valueIDs []int64) error {
	for _, id := range valueIDs {
		if _, err := q.GetAttributeValue(ctx, id); err != nil {
			if KindOf(fromStore(err, "", "")) == KindNotFound {
				return Validation("unknown attribute value " + strconv.FormatInt(id, 10))
			}
			return Internal("failed to load attribute value", err)
		}
	}
	if err := q.SetVariantAttributeValues(ctx, variantID, valueIDs); err != nil {
		return fromStore(err, "", "attribute values conflict")
	}
	return nil
}

// UpdateVariant applies a variant patch; attribute values are replaced when present
func (s *CatalogService) UpdateVariant(ctx context.Context, id int64, patch models.VariantPatch) (*models.ProductVariant, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, Validation("name must not be empty")
	}
	if (patch.Price != nil && *patch.Price < 0) || (patch.StockQuantity != nil && *patch.StockQuantity < 0) {
		return nil, Validation("price and stock_quantity must not be negative")
	}

	var variant *models.ProductVariant
	err := s.repo.InTx(ctx, func(q store.Querier) error {
		var err error
		variant, err = q.UpdateVariant(ctx, id, patch)
		if err != nil {
			return fromStore(err, "variant not found", "variant conflicts with existing data")
		}
		if patch.AttributeValueIDs != nil {
			return s.setAttributeValues(ctx, q, id, patch.AttributeValueIDs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	variants := []models.ProductVariant{*variant}
	if err := s.attachAttributeValues(ctx, variants); err != nil {
		return nil, err
	}
	return &variants[0], nil
}

// DeleteVariant deactivates a variant that appears on orders, otherwise removes it
func (s *CatalogService) DeleteVariant(ctx context.Context, id int64) (*DeleteResult, error) {
	if _, err := s.repo.GetVariant(ctx, id); err != nil {
		return nil, fromStore(err, "variant not found", "")
	}

	n, err := s.repo.CountOrderItemsForVariant(ctx, id)
	if err != nil {
		return nil, Internal("failed to check variant usage", err)
	}
	if n > 0 {
		inactive := false
		if _, err := s.repo.UpdateVariant(ctx, id, models.VariantPatch{IsActive: &inactive}); err != nil {
			return nil, fromStore(err, "variant not found", "")
		}
		return &DeleteResult{ID: id, Mode: DeleteSoft}, nil
	}

	if err := s.repo.DeleteVariant(ctx, id); err != nil {
		return nil, fromStore(err, "variant not found", "variant is still referenced")
	}
	return &DeleteResult{ID: id, Mode: DeleteHard}, nil
}

// ListAttributes returns attribute definitions with their values
func (s *CatalogService) ListAttributes(ctx context.Context) ([]models.ProductAttribute, error) {
	attrs, err := s.repo.ListAttributes(ctx)
	if err != nil {
		return nil, Internal("failed to list attributes", err)
	}
	values, err := s.repo.ListAttributeValues(ctx)
	if err != nil {
		return nil, Internal("failed to list attribute values", err)
	}

	byAttr := make(map[int64][]models.ProductAttributeValue)
	for _, v := range values {
		byAttr[v.AttributeID] = append(byAttr[v.AttributeID], v)
	}
	for i := range attrs {
		attrs[i].Values = byAttr[attrs[i].ID]
	}
	return attrs, nil
}

// CreateAttribute inserts an attribute definition; names are unique
func (s *CatalogService) CreateAttribute(ctx context.Context, name string) (*models.ProductAttribute, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, Validation("name is required")
	}

	attr := &models.ProductAttribute{Name: name}
	if err := s.repo.CreateAttribute(ctx, attr); err != nil {
		return nil, fromStore(err, "", "attribute already exists")
	}
	return attr, nil
}

// DeleteAttribute removes an attribute that has no values
func (s *CatalogService) DeleteAttribute(ctx context.Context, id int64) error {
	if _, err := s.repo.GetAttribute(ctx, id); err != nil {
		return fromStore(err, "attribute not found", "")
	}
	n, err := s.repo.CountAttributeValues(ctx, id)
	if err != nil {
		return Internal("failed to count attribute values", err)
	}
	if n > 0 {
		return Conflict("attribute still has values", nil).With("value_count", n)
	}
	return fromStore(s.repo.DeleteAttribute(ctx, id), "attribute not found", "attribute still has values")
}

// CreateAttributeValue adds a value to an attribute; values are unique per attribute
func (s *CatalogService) CreateAttributeValue(ctx context.Context, attributeID int64, value string) (*models.ProductAttributeValue, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, Validation("value is required")
	}
	if _, err := s.repo.GetAttribute(ctx, attributeID); err != nil {
		return nil, fromStore(err, "attribute not found", "")
	}

	v := &models.ProductAttributeValue{AttributeID: attributeID, Value: value}
	if err := s.repo.CreateAttributeValue(ctx, v); err != nil {
		return nil, fromStore(err, "", "attribute value already exists")
	}
	return v, nil
}

// DeleteAttributeValue removes a value no variant references
func (s *CatalogService) DeleteAttributeValue(ctx context.Context, id int64) error {
	if _, err := s.repo.GetAttributeValue(ctx, id); err != nil {
		return fromStore(err, "attribute value not found", "")
	}
	n, err := s.repo.CountVariantsUsingValue(ctx, id)
	if err != nil {
		return Internal("failed to count variants", err)
	}
	if n > 0 {
		return Conflict("attribute value is used by variants", nil).With("variant_count", n)
	}
	return fromStore(s.repo.DeleteAttributeValue(ctx, id), "attribute value not found", "attribute value is used by variants")
}

// CategoryInput is the body of a category creation
type CategoryInput struct {
	Name        string  `json:"name"`
	Slug        string  `json:"slug"`
	Description string  `json:"description"`
	ImageURL    *string `json:"image_url"`
}

// CreateCategory inserts a category; the slug is supplied by the caller
func (s *CatalogService) CreateCategory(ctx context.Context, in CategoryInput) (*models.Category, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Slug = strings.TrimSpace(in.Slug)
	if in.Name == "" {
		return nil, Validation("name is required")
	}
	if !slugPattern.MatchString(in.Slug) {
		return nil, Validation("slug must be lowercase letters, digits and dashes")
	}

	category := &models.Category{Name: in.Name, Slug: in.Slug, Description: in.Description, ImageURL: in.ImageURL}
	if err := s.repo.CreateCategory(ctx, category); err != nil {
		return nil, fromStore(err, "", "category slug already exists")
	}
	return category, nil
}

// UpdateCategory applies a category patch
func (s *CatalogService) UpdateCategory(ctx context.Context, id int64, patch models.CategoryPatch) (*models.Category, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, Validation("name must not be empty")
	}
	if patch.Slug != nil && !slugPattern.MatchString(*patch.Slug) {
		return nil, Validation("slug must be lowercase letters, digits and dashes")
	}
	category, err := s.repo.UpdateCategory(ctx, id, patch)
	return category, fromStore(err, "category not found", "category slug already exists")
}

// DeleteCategory removes a category no product references
func (s *CatalogService) DeleteCategory(ctx context.Context, id int64) error {
	if _, err := s.repo.GetCategory(ctx, id); err != nil {
		return fromStore(err, "category not found", "")
	}
	n, err := s.repo.CountProductsInCategory(ctx, id, false)
	if err != nil {
		return Internal("failed to count category products", err)
	}
	if n > 0 {
		return Conflict("category still has products", nil).With("product_count", n)
	}
	return fromStore(s.repo.DeleteCategory(ctx, id), "category not found", "category still has products")
}
