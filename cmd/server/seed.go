package main

import (
	"context"

	"isla-market/internal/models"
	"isla-market/internal/store"
	"isla-market/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// seedMemory loads a small demo catalog into the in-memory store and grants
// adminUserID the admin role when it is a valid uuid
func seedMemory(mem *store.MemoryStore, adminUserID string) {
	ctx := context.Background()
	logger := util.GetLogger()

	if id, err := uuid.Parse(adminUserID); err == nil {
		mem.PutUser(models.User{ID: id, Email: "admin@localhost", FullName: "Admin", Role: models.RoleAdmin})
		logger.Info("Seeded admin user", zap.String("user_id", id.String()))
	}

	catalog := []struct {
		category models.Category
		products []models.Product
	}{
		{
			category: models.Category{Name: "Café", Slug: "cafe", Description: "Café de la isla"},
			products: []models.Product{
				{Name: "Café Yauco Selecto", Price: 1899, StockQuantity: 40, IsActive: true},
				{Name: "Café Alto Grande", Price: 2299, StockQuantity: 25, IsActive: true},
			},
		},
		{
			category: models.Category{Name: "Artesanías", Slug: "artesanias", Description: "Hecho a mano"},
			products: []models.Product{
				{Name: "Vejigante de Loíza", Price: 4500, StockQuantity: 6, IsActive: true},
				{Name: "Hamaca de algodón", Price: 7900, StockQuantity: 3, IsActive: true},
			},
		},
	}

	for _, entry := range catalog {
		category, products := entry.category, entry.products
		if err := mem.CreateCategory(ctx, &category); err != nil {
			logger.Warn("Failed to seed category", zap.String("slug", category.Slug), zap.Error(err))
			continue
		}
		for _, product := range products {
			product := product
			product.CategoryID = &category.ID
			if err := mem.CreateProduct(ctx, &product); err != nil {
				logger.Warn("Failed to seed product", zap.String("name", product.Name), zap.Error(err))
			}
		}
	}
	logger.Info("Seeded demo catalog", zap.Int("categories", len(catalog)))
}
