package service

import "isla-market/internal/models"

// Pricing is what a storefront shows for a product
type Pricing struct {
	DisplayPrice int64 `json:"display_price"`
	DisplayStock int   `json:"display_stock"`
}

// DisplayPricing applies the variant display rule: a product with variants
// shows the lowest active-variant price and the summed active-variant stock.
// Without active variants the product's own price and stock are used.
func DisplayPricing(product models.Product, variants []models.ProductVariant) Pricing {
	pricing := Pricing{DisplayPrice: product.Price, DisplayStock: product.StockQuantity}
	if !product.HasVariants {
		return pricing
	}

	found := false
	stock := 0
	var lowest int64
	for _, v := range variants {
		if !v.IsActive || v.ProductID != product.ID {
			continue
		}
		if !found || v.Price < lowest {
			lowest = v.Price
		}
		found = true
		stock += v.StockQuantity
	}
	if !found {
		return pricing
	}

	return Pricing{DisplayPrice: lowest, DisplayStock: stock}
}

// ProductView is a product with its display pricing and, on detail views, its variants
type ProductView struct {
	models.Product
	Pricing
	Variants []models.ProductVariant `json:"variants,omitempty"`
}

// buildViews attaches display pricing to each product, index-aligned with products
func buildViews(products []models.Product, variants []models.ProductVariant, withVariants bool) []ProductView {
	byProduct := make(map[int64][]models.ProductVariant)
	for _, v := range variants {
		byProduct[v.ProductID] = append(byProduct[v.ProductID], v)
	}

	views := make([]ProductView, len(products))
	for i, p := range products {
		views[i] = ProductView{Product: p, Pricing: DisplayPricing(p, byProduct[p.ID])}
		if withVariants {
			views[i].Variants = byProduct[p.ID]
		}
	}
	return views
}
