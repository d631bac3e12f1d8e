package store

import (
	"context"
	"fmt"
	"strings"

	"isla-market/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ListCategories retrieves all categories by name
func (q *Queries) ListCategories(ctx context.Context) ([]models.Category, error) {
	var categories []models.Category
	err := sqlx.SelectContext(ctx, q.db, &categories, "SELECT * FROM categories ORDER BY name")
	return categories, err
}

// GetCategory retrieves a category by ID
func (q *Queries) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	var category models.Category
	err := sqlx.GetContext(ctx, q.db, &category, "SELECT * FROM categories WHERE id = $1", id)
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("category %d", id))
	}
	return &category, nil
}

// GetCategoryBySlug retrieves a category by slug
func (q *Queries) GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	var category models.Category
	err := sqlx.GetContext(ctx, q.db, &category, "SELECT * FROM categories WHERE slug = $1", slug)
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("category %q", slug))
	}
	return &category, nil
}

// CreateCategory creates a category; the slug is supplied by the caller
func (q *Queries) CreateCategory(ctx context.Context, category *models.Category) error {
	query := `
		INSERT INTO categories (name, slug, description, image_url)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := sqlx.GetContext(ctx, q.db, category, query,
		category.Name, category.Slug, category.Description, category.ImageURL)
	return mapErr(err, "create category")
}

// UpdateCategory applies a category patch
func (q *Queries) UpdateCategory(ctx context.Context, id int64, patch models.CategoryPatch) (*models.Category, error) {
	var b updateBuilder
	if patch.Name != nil {
		b.set("name", *patch.Name)
	}
	if patch.Slug != nil {
		b.set("slug", *patch.Slug)
	}
	if patch.Description != nil {
		b.set("description", *patch.Description)
	}
	if patch.ImageURL != nil {
		b.set("image_url", *patch.ImageURL)
	}
	if b.empty() {
		return q.GetCategory(ctx, id)
	}

	query := fmt.Sprintf("UPDATE categories SET %s WHERE id = %s RETURNING *", joinSets(b.sets), b.where(id))

	var category models.Category
	if err := sqlx.GetContext(ctx, q.db, &category, query, b.args...); err != nil {
		return nil, mapErr(err, fmt.Sprintf("category %d", id))
	}
	return &category, nil
}

// DeleteCategory removes a category
func (q *Queries) DeleteCategory(ctx context.Context, id int64) error {
	ok, err := affected(q.db.ExecContext(ctx, "DELETE FROM categories WHERE id = $1", id))
	if err != nil {
		return mapErr(err, fmt.Sprintf("delete category %d", id))
	}
	if !ok {
		return fmt.Errorf("category %d: %w", id, ErrNotFound)
	}
	return nil
}

// CountProductsInCategory counts products assigned to a category
func (q *Queries) CountProductsInCategory(ctx context.Context, categoryID int64, activeOnly bool) (int, error) {
	query := "SELECT COUNT(*) FROM products WHERE category_id = $1"
	if activeOnly {
		query += " AND is_active = TRUE"
	}

	var n int
	err := sqlx.GetContext(ctx, q.db, &n, query, categoryID)
	return n, err
}

// ListProducts retrieves products matching filter, newest first
func (q *Queries) ListProducts(ctx context.Context, filter ProductFilter) ([]models.Product, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.IncludeInactive {
		where = append(where, "is_active = TRUE")
	}
	if filter.CategoryID != nil {
		where = append(where, "category_id = "+arg(*filter.CategoryID))
	}
	if filter.Search != "" {
		where = append(where, "name ILIKE "+arg("%"+filter.Search+"%"))
	}
	if filter.ExcludeID != 0 {
		where = append(where, "id <> "+arg(filter.ExcludeID))
	}

	query := "SELECT * FROM products"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	var products []models.Product
	err := sqlx.SelectContext(ctx, q.db, &products, query, args...)
	return products, err
}

// GetProduct retrieves a product by ID
func (q *Queries) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, q.db, &product, "SELECT * FROM products WHERE id = $1", id)
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("product %d", id))
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (q *Queries) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = q.db.Rebind(query)

	var products []models.Product
	err = sqlx.SelectContext(ctx, q.db, &products, query, args...)
	return products, err
}

// CreateProduct inserts a product
func (q *Queries) CreateProduct(ctx context.Context, product *models.Product) error {
	query := `
		INSERT INTO products
			(name, description, price, stock_quantity, is_active, has_variants, category_id, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err := sqlx.GetContext(ctx, q.db, product, query,
		product.Name, product.Description, product.Price, product.StockQuantity,
		product.IsActive, product.HasVariants, product.CategoryID, product.ImageURL)
	return mapErr(err, "create product")
}

// UpdateProduct applies a product patch
func (q *Queries) UpdateProduct(ctx context.Context, id int64, patch models.ProductPatch) (*models.Product, error) {
	var b updateBuilder
	if patch.Name != nil {
		b.set("name", *patch.Name)
	}
	if patch.Description != nil {
		b.set("description", *patch.Description)
	}
	if patch.Price != nil {
		b.set("price", *patch.Price)
	}
	if patch.StockQuantity != nil {
		b.set("stock_quantity", *patch.StockQuantity)
	}
	if patch.IsActive != nil {
		b.set("is_active", *patch.IsActive)
	}
	if patch.HasVariants != nil {
		b.set("has_variants", *patch.HasVariants)
	}
	if patch.CategoryID != nil {
		b.set("category_id", *patch.CategoryID)
	}
	if patch.ImageURL != nil {
		b.set("image_url", *patch.ImageURL)
	}
	if b.empty() {
		return q.GetProduct(ctx, id)
	}

	query := fmt.Sprintf("UPDATE products SET %s, updated_at = NOW() WHERE id = %s RETURNING *",
		joinSets(b.sets), b.where(id))

	var product models.Product
	if err := sqlx.GetContext(ctx, q.db, &product, query, b.args...); err != nil {
		return nil, mapErr(err, fmt.Sprintf("product %d", id))
	}
	return &product, nil
}

// DeleteProduct hard-deletes a product and its variants
func (q *Queries) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM product_variants WHERE product_id = $1", id); err != nil {
		return mapErr(err, fmt.Sprintf("delete variants of product %d", id))
	}
	ok, err := affected(q.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id))
	if err != nil {
		return mapErr(err, fmt.Sprintf("delete product %d", id))
	}
	if !ok {
		return fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return nil
}

// CountOrderItemsForProduct counts order items referencing a product
func (q *Queries) CountOrderItemsForProduct(ctx context.Context, productID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q.db, &n, "SELECT COUNT(*) FROM order_items WHERE product_id = $1", productID)
	return n, err
}

// DecrementProductStock atomically takes quantity from stock.
// Returns false, leaving stock untouched, when stock is insufficient.
func (q *Queries) DecrementProductStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	return affected(q.db.ExecContext(ctx, `
		UPDATE products SET stock_quantity = stock_quantity - $1, updated_at = NOW()
		WHERE id = $2 AND stock_quantity >= $1`, quantity, productID))
}

// IncrementProductStock atomically returns quantity to stock
func (q *Queries) IncrementProductStock(ctx context.Context, productID int64, quantity int) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE products SET stock_quantity = stock_quantity + $1, updated_at = NOW()
		WHERE id = $2`, quantity, productID)
	return err
}

// CountLowStockProducts counts active products below threshold
func (q *Queries) CountLowStockProducts(ctx context.Context, threshold int) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q.db, &n,
		"SELECT COUNT(*) FROM products WHERE is_active = TRUE AND stock_quantity < $1", threshold)
	return n, err
}

// ListVariants retrieves the variants of the given products
func (q *Queries) ListVariants(ctx context.Context, productIDs []int64, activeOnly bool) ([]models.ProductVariant, error) {
	if len(productIDs) == 0 {
		return []models.ProductVariant{}, nil
	}

	query := "SELECT * FROM product_variants WHERE product_id = ANY($1)"
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY product_id, price, id"

	var variants []models.ProductVariant
	err := sqlx.SelectContext(ctx, q.db, &variants, query, pq.Int64Array(productIDs))
	return variants, err
}

// GetVariant retrieves a variant by ID
func (q *Queries) GetVariant(ctx context.Context, id int64) (*models.ProductVariant, error) {
	var variant models.ProductVariant
	err := sqlx.GetContext(ctx, q.db, &variant, "SELECT * FROM product_variants WHERE id = $1", id)
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("variant %d", id))
	}
	return &variant, nil
}

// CreateVariant inserts a variant
func (q *Queries) CreateVariant(ctx context.Context, variant *models.ProductVariant) error {
	query := `
		INSERT INTO product_variants (product_id, name, sku, price, stock_quantity, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := sqlx.GetContext(ctx, q.db, variant, query,
		variant.ProductID, variant.Name, variant.SKU, variant.Price, variant.StockQuantity, variant.IsActive)
	return mapErr(err, "create variant")
}

// UpdateVariant applies a variant patch
func (q *Queries) UpdateVariant(ctx context.Context, id int64, patch models.VariantPatch) (*models.ProductVariant, error) {
	var b updateBuilder
	if patch.Name != nil {
		b.set("name", *patch.Name)
	}
	if patch.SKU != nil {
		b.set("sku", *patch.SKU)
	}
	if patch.Price != nil {
		b.set("price", *patch.Price)
	}
	if patch.StockQuantity != nil {
		b.set("stock_quantity", *patch.StockQuantity)
	}
	if patch.IsActive != nil {
		b.set("is_active", *patch.IsActive)
	}
	if b.empty() {
		return q.GetVariant(ctx, id)
	}

	query := fmt.Sprintf("UPDATE product_variants SET %s WHERE id = %s RETURNING *", joinSets(b.sets), b.where(id))

	var variant models.ProductVariant
	if err := sqlx.GetContext(ctx, q.db, &variant, query, b.args...); err != nil {
		return nil, mapErr(err, fmt.Sprintf("variant %d", id))
	}
	return &variant, nil
}

// DeleteVariant hard-deletes a variant and its attribute associations
func (q *Queries) DeleteVariant(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM variant_attribute_values WHERE variant_id = $1", id); err != nil {
		return mapErr(err, fmt.Sprintf("delete attribute values of variant %d", id))
	}
	ok, err := affected(q.db.ExecContext(ctx, "DELETE FROM product_variants WHERE id = $1", id))
	if err != nil {
		return mapErr(err, fmt.Sprintf("delete variant %d", id))
	}
	if !ok {
		return fmt.Errorf("variant %d: %w", id, ErrNotFound)
	}
	return nil
}

// CountOrderItemsForVariant counts order items referencing a variant
func (q *Queries) CountOrderItemsForVariant(ctx context.Context, variantID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q.db, &n, "SELECT COUNT(*) FROM order_items WHERE variant_id = $1", variantID)
	return n, err
}

// DecrementVariantStock atomically takes quantity from a variant's stock
func (q *Queries) DecrementVariantStock(ctx context.Context, variantID int64, quantity int) (bool, error) {
	return affected(q.db.ExecContext(ctx, `
		UPDATE product_variants SET stock_quantity = stock_quantity - $1
		WHERE id = $2 AND stock_quantity >= $1`, quantity, variantID))
}

// IncrementVariantStock atomically returns quantity to a variant's stock
func (q *Queries) IncrementVariantStock(ctx context.Context, variantID int64, quantity int) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE product_variants SET stock_quantity = stock_quantity + $1 WHERE id = $2", quantity, variantID)
	return err
}

// SetVariantAttributeValues replaces the attribute values of a variant
func (q *Queries) SetVariantAttributeValues(ctx context.Context, variantID int64, valueIDs []int64) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM variant_attribute_values WHERE variant_id = $1", variantID); err != nil {
		return mapErr(err, "clear variant attribute values")
	}
	for _, valueID := range valueIDs {
		_, err := q.db.ExecContext(ctx,
			"INSERT INTO variant_attribute_values (variant_id, value_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			variantID, valueID)
		if err != nil {
			return mapErr(err, fmt.Sprintf("attach value %d", valueID))
		}
	}
	return nil
}

// ListVariantAttributeValues retrieves attribute values for the given variants
func (q *Queries) ListVariantAttributeValues(ctx context.Context, variantIDs []int64) ([]models.VariantAttribute, error) {
	if len(variantIDs) == 0 {
		return []models.VariantAttribute{}, nil
	}

	var values []models.VariantAttribute
	err := sqlx.SelectContext(ctx, q.db, &values, `
		SELECT vav.variant_id, v.id AS value_id, a.id AS attribute_id, a.name AS attribute_name, v.value
		FROM variant_attribute_values vav
		JOIN product_attribute_values v ON v.id = vav.value_id
		JOIN product_attributes a ON a.id = v.attribute_id
		WHERE vav.variant_id = ANY($1)
		ORDER BY vav.variant_id, a.name`, pq.Int64Array(variantIDs))
	return values, err
}

// ListAttributes retrieves attribute definitions by name
func (q *Queries) ListAttributes(ctx context.Context) ([]models.ProductAttribute, error) {
	var attrs []models.ProductAttribute
	err := sqlx.SelectContext(ctx, q.db, &attrs, "SELECT * FROM product_attributes ORDER BY name")
	return attrs, err
}

// ListAttributeValues retrieves every attribute value
func (q *Queries) ListAttributeValues(ctx context.Context) ([]models.ProductAttributeValue, error) {
	var values []models.ProductAttributeValue
	err := sqlx.SelectContext(ctx, q.db, &values,
		"SELECT * FROM product_attribute_values ORDER BY attribute_id, value")
	return values, err
}

// GetAttribute retrieves an attribute by ID
func (q *Queries) GetAttribute(ctx context.Context, id int64) (*models.ProductAttribute, error) {
	var attr models.ProductAttribute
	err := sqlx.GetContext(ctx, q.db, &attr, "SELECT * FROM product_attributes WHERE id = $1", id)
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("attribute %d", id))
	}
	return &attr, nil
}

// CreateAttribute inserts an attribute; names are unique
func (q *Queries) CreateAttribute(ctx context.Context, attr *models.ProductAttribute) error {
	err := sqlx.GetContext(ctx, q.db, attr,
		"INSERT INTO product_attributes (name) VALUES ($1) RETURNING id, created_at", attr.Name)
	return mapErr(err, "create attribute")
}

// DeleteAttribute removes an attribute
func (q *Queries) DeleteAttribute(ctx context.Context, id int64) error {
	ok, err := affected(q.db.ExecContext(ctx, "DELETE FROM product_attributes WHERE id = $1", id))
	if err != nil {
		return mapErr(err, fmt.Sprintf("delete attribute %d", id))
	}
	if !ok {
		return fmt.Errorf("attribute %d: %w", id, ErrNotFound)
	}
	return nil
}

// CountAttributeValues counts the values of an attribute
func (q *Queries) CountAttributeValues(ctx context.Context, attributeID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q.db, &n,
		"SELECT COUNT(*) FROM product_attribute_values WHERE attribute_id = $1", attributeID)
	return n, err
}

// GetAttributeValue retrieves an attribute value by ID
func (q *Queries) GetAttributeValue(ctx context.Context, id int64) (*models.ProductAttributeValue, error) {
	var value models.ProductAttributeValue
	err := sqlx.GetContext(ctx, q.db, &value, "SELECT * FROM product_attribute_values WHERE id = $1", id)
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("attribute value %d", id))
	}
	return &value, nil
}

// CreateAttributeValue inserts a value; values are unique per attribute
func (q *Queries) CreateAttributeValue(ctx context.Context, value *models.ProductAttributeValue) error {
	err := sqlx.GetContext(ctx, q.db, value, `
		INSERT INTO product_attribute_values (attribute_id, value)
		VALUES ($1, $2)
		RETURNING id, created_at`, value.AttributeID, value.Value)
	return mapErr(err, "create attribute value")
}

// DeleteAttributeValue removes an attribute value
func (q *Queries) DeleteAttributeValue(ctx context.Context, id int64) error {
	ok, err := affected(q.db.ExecContext(ctx, "DELETE FROM product_attribute_values WHERE id = $1", id))
	if err != nil {
		return mapErr(err, fmt.Sprintf("delete attribute value %d", id))
	}
	if !ok {
		return fmt.Errorf("attribute value %d: %w", id, ErrNotFound)
	}
	return nil
}

// CountVariantsUsingValue counts variants associated with an attribute value
func (q *Queries) CountVariantsUsingValue(ctx context.Context, valueID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q.db, &n,
		"SELECT COUNT(*) FROM variant_attribute_values WHERE value_id = $1", valueID)
	return n, err
}
