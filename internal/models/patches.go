package models

// Patch types carry only the fields a client sent; nil means "leave as is".

// ProductPatch is a partial update of a product
type ProductPatch struct {
	Name          *string `json:"name"`
	Description   *string `json:"description"`
	Price         *int64  `json:"price"`
	StockQuantity *int    `json:"stock_quantity"`
	IsActive      *bool   `json:"is_active"`
	HasVariants   *bool   `json:"has_variants"`
	CategoryID    *int64  `json:"category_id"`
	ImageURL      *string `json:"image_url"`
}

// ApplyTo copies the present fields onto p
func (patch ProductPatch) ApplyTo(p *Product) {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.StockQuantity != nil {
		p.StockQuantity = *patch.StockQuantity
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}
	if patch.HasVariants != nil {
		p.HasVariants = *patch.HasVariants
	}
	if patch.CategoryID != nil {
		id := *patch.CategoryID
		p.CategoryID = &id
	}
	if patch.ImageURL != nil {
		url := *patch.ImageURL
		p.ImageURL = &url
	}
}

// VariantPatch is a partial update of a product variant
type VariantPatch struct {
	Name          *string `json:"name"`
	SKU           *string `json:"sku"`
	Price         *int64  `json:"price"`
	StockQuantity *int    `json:"stock_quantity"`
	IsActive      *bool   `json:"is_active"`
	// AttributeValueIDs replaces the variant's attribute values when non-nil
	AttributeValueIDs []int64 `json:"attribute_value_ids"`
}

// ApplyTo copies the present fields onto v. Attribute values are stored separately.
func (patch VariantPatch) ApplyTo(v *ProductVariant) {
	if patch.Name != nil {
		v.Name = *patch.Name
	}
	if patch.SKU != nil {
		sku := *patch.SKU
		v.SKU = &sku
	}
	if patch.Price != nil {
		v.Price = *patch.Price
	}
	if patch.StockQuantity != nil {
		v.StockQuantity = *patch.StockQuantity
	}
	if patch.IsActive != nil {
		v.IsActive = *patch.IsActive
	}
}

// CategoryPatch is a partial update of a category
type CategoryPatch struct {
	Name        *string `json:"name"`
	Slug        *string `json:"slug"`
	Description *string `json:"description"`
	ImageURL    *string `json:"image_url"`
}

// ApplyTo copies the present fields onto c
func (patch CategoryPatch) ApplyTo(c *Category) {
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Slug != nil {
		c.Slug = *patch.Slug
	}
	if patch.Description != nil {
		c.Description = *patch.Description
	}
	if patch.ImageURL != nil {
		url := *patch.ImageURL
		c.ImageURL = &url
	}
}

// ReferrerPatch is an admin update of a referrer's program terms
type ReferrerPatch struct {
	CommissionRate *float64 `json:"commission_rate"`
	DurationMonths *int     `json:"duration_months"`
	IsActive       *bool    `json:"is_active"`
}

// ApplyTo copies the present fields onto r
func (patch ReferrerPatch) ApplyTo(r *Referrer) {
	if patch.CommissionRate != nil {
		r.CommissionRate = *patch.CommissionRate
	}
	if patch.DurationMonths != nil {
		r.DurationMonths = *patch.DurationMonths
	}
	if patch.IsActive != nil {
		r.IsActive = *patch.IsActive
	}
}

// ProfilePatch is the part of a profile a user may edit
type ProfilePatch struct {
	FullName *string `json:"full_name"`
	Phone    *string `json:"phone"`
}

// ApplyTo copies the present fields onto u
func (patch ProfilePatch) ApplyTo(u *User) {
	if patch.FullName != nil {
		u.FullName = *patch.FullName
	}
	if patch.Phone != nil {
		phone := *patch.Phone
		u.Phone = &phone
	}
}
