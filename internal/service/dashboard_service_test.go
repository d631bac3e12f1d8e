package service

import (
	"context"
	"testing"
	"time"

	"isla-market/internal/models"
	"isla-market/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDashboardStats(t *testing.T) {
	now := time.Date(2024, time.May, 10, 15, 0, 0, 0, time.UTC)
	mem := store.NewMemoryStore()
	ctx := context.Background()
	user := addUser(t, mem, "ana", models.RoleCustomer)
	coffee := addProduct(t, mem, "Coffee", 1000, 3)
	mug := addProduct(t, mem, "Mug", 500, 50)

	seed := []struct {
		status models.OrderStatus
		at     time.Time
		items  map[int64]int
	}{
		{models.OrderStatusPaid, now.Add(-time.Hour), map[int64]int{coffee.ID: 2}},
		{models.OrderStatus("entregado"), now.AddDate(0, 0, -1), map[int64]int{coffee.ID: 1, mug.ID: 1}},
		{models.OrderStatusPending, now.AddDate(0, 0, -2), map[int64]int{mug.ID: 4}},
		{models.OrderStatusCancelled, now.AddDate(0, 0, -2), map[int64]int{coffee.ID: 10}},
		{models.OrderStatusPaid, now.AddDate(0, 0, -40), map[int64]int{coffee.ID: 7}},
	}
	products := map[int64]*models.Product{coffee.ID: coffee, mug.ID: mug}
	for _, s := range seed {
		var total int64
		for id, qty := range s.items {
			total += products[id].Price * int64(qty)
		}
		order := placeOrder(t, mem, user, total, s.at, s.status)
		for id, qty := range s.items {
			require.NoError(t, mem.CreateOrderItem(ctx, &models.OrderItem{
				OrderID: order.ID, ProductID: id, ProductName: "old name", Quantity: qty,
				UnitPrice: products[id].Price, TotalPrice: products[id].Price * int64(qty),
			}))
		}
	}

	svc := NewDashboardService(mem, 5)
	svc.now = fixedClock(now)

	stats, err := svc.Stats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 30, stats.Days)
	assert.Equal(t, 4, stats.TotalOrders)
	assert.Equal(t, int64(2000+1500), stats.ConfirmedSales)
	// projected sales include the cancelled order
	assert.Equal(t, int64(2000+1500+2000+10000), stats.ProjectedSales)
	assert.Equal(t, map[models.OrderStatus]int{
		models.OrderStatusPending:   1,
		models.OrderStatusPaid:      1,
		models.OrderStatusDelivered: 1,
		models.OrderStatusCancelled: 1,
	}, stats.OrdersByStatus)

	require.Len(t, stats.Daily, 30)
	today := stats.Daily[29]
	assert.Equal(t, "2024-05-10", today.Date)
	assert.Equal(t, int64(2000), today.Sales)
	assert.Equal(t, 1, today.Orders)
	assert.Equal(t, "2024-04-11", stats.Daily[0].Date)
	twoDaysAgo := stats.Daily[27]
	assert.Equal(t, "2024-05-08", twoDaysAgo.Date)
	assert.Equal(t, int64(2000+10000), twoDaysAgo.Sales)
	assert.Equal(t, 2, twoDaysAgo.Orders)

	require.Len(t, stats.TopProducts, 2)
	assert.Equal(t, TopProduct{ProductID: coffee.ID, Name: "Coffee", Quantity: 13, Revenue: 13000}, stats.TopProducts[0])
	assert.Equal(t, TopProduct{ProductID: mug.ID, Name: "Mug", Quantity: 5, Revenue: 2500}, stats.TopProducts[1])

	assert.Equal(t, 1, stats.LowStockCount)
}

func TestDashboardEmptyWindow(t *testing.T) {
	svc := NewDashboardService(store.NewMemoryStore(), 5)
	stats, err := svc.Stats(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, 365, stats.Days)
	assert.Zero(t, stats.TotalOrders)
	assert.Empty(t, stats.TopProducts)
	assert.NotNil(t, stats.TopProducts)
}
