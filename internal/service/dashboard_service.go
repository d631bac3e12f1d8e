package service

import (
	"context"
	"sort"
	"time"

	"isla-market/internal/models"
	"isla-market/internal/store"
	"isla-market/internal/util"
)

const (
	defaultDashboardDays = 30
	maxDashboardDays     = 365
	topProductsLimit     = 10
	dayLayout            = "2006-01-02"
)

// DashboardService reduces orders, items and products into back-office statistics
type DashboardService struct {
	repo              store.Querier
	lowStockThreshold int
	now               func() time.Time
}

// NewDashboardService creates a new dashboard service
func NewDashboardService(repo store.Querier, lowStockThreshold int) *DashboardService {
	return &DashboardService{repo: repo, lowStockThreshold: lowStockThreshold, now: time.Now}
}

// DailySales is one point of the per-day series
type DailySales struct {
	Date   string `json:"date"`
	Sales  int64  `json:"sales"`
	Orders int    `json:"orders"`
}

// TopProduct is a best seller by quantity
type TopProduct struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Revenue   int64  `json:"revenue"`
}

// DashboardStats summarizes a trailing window of days
type DashboardStats struct {
	Days           int                        `json:"days"`
	ConfirmedSales int64                      `json:"confirmed_sales"`
	ProjectedSales int64                      `json:"projected_sales"`
	TotalOrders    int                        `json:"total_orders"`
	OrdersByStatus map[models.OrderStatus]int `json:"orders_by_status"`
	Daily          []DailySales               `json:"daily"`
	TopProducts    []TopProduct               `json:"top_products"`
	LowStockCount  int                        `json:"low_stock_count"`
}

func clampDays(days int) int {
	if days <= 0 {
		return defaultDashboardDays
	}
	if days > maxDashboardDays {
		return maxDashboardDays
	}
	return days
}

// windowStart is midnight UTC of the first day of a window of days ending today
func windowStart(now time.Time, days int) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))
}

// Stats computes the dashboard for the trailing days. Confirmed sales count
// paid and delivered orders; projected sales count every order in the window.
func (s *DashboardService) Stats(ctx context.Context, days int) (*DashboardStats, error) {
	ctx, span := util.StartSpan(ctx, "DashboardService.Stats")
	defer span.End()

	days = clampDays(days)
	start := windowStart(s.now(), days)

	orders, err := s.repo.ListOrdersSince(ctx, start)
	if err != nil {
		return nil, Internal("failed to load orders", err)
	}

	stats := &DashboardStats{
		Days:           days,
		TotalOrders:    len(orders),
		OrdersByStatus: map[models.OrderStatus]int{},
		Daily:          make([]DailySales, days),
	}
	for _, status := range []models.OrderStatus{
		models.OrderStatusPending, models.OrderStatusPaid, models.OrderStatusDelivered, models.OrderStatusCancelled,
	} {
		stats.OrdersByStatus[status] = 0
	}

	for i := range stats.Daily {
		stats.Daily[i].Date = start.AddDate(0, 0, i).Format(dayLayout)
	}

	for _, o := range orders {
		status := o.Status.Normalized()
		stats.OrdersByStatus[status]++
		stats.ProjectedSales += o.TotalAmount
		if status.IsConfirmedSale() {
			stats.ConfirmedSales += o.TotalAmount
		}

		day := o.CreatedAt.UTC().Format(dayLayout)
		for i := range stats.Daily {
			if stats.Daily[i].Date == day {
				stats.Daily[i].Sales += o.TotalAmount
				stats.Daily[i].Orders++
				break
			}
		}
	}

	stats.TopProducts, err = s.topProducts(ctx, orders)
	if err != nil {
		return nil, err
	}

	stats.LowStockCount, err = s.repo.CountLowStockProducts(ctx, s.lowStockThreshold)
	if err != nil {
		return nil, Internal("failed to count low stock products", err)
	}
	return stats, nil
}

// TopProducts returns the best sellers of the trailing days
func (s *DashboardService) TopProducts(ctx context.Context, days int) ([]TopProduct, error) {
	orders, err := s.repo.ListOrdersSince(ctx, windowStart(s.now(), clampDays(days)))
	if err != nil {
		return nil, Internal("failed to load orders", err)
	}
	return s.topProducts(ctx, orders)
}

// topProducts sums item quantities per product over the given orders
func (s *DashboardService) topProducts(ctx context.Context, orders []models.Order) ([]TopProduct, error) {
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	if len(ids) == 0 {
		return []TopProduct{}, nil
	}

	items, err := s.repo.ListOrderItems(ctx, ids)
	if err != nil {
		return nil, Internal("failed to load order items", err)
	}

	totals := make(map[int64]*TopProduct)
	for _, item := range items {
		t, ok := totals[item.ProductID]
		if !ok {
			t = &TopProduct{ProductID: item.ProductID, Name: item.ProductName}
			totals[item.ProductID] = t
		}
		t.Quantity += item.Quantity
		t.Revenue += item.TotalPrice
	}

	productIDs := make([]int64, 0, len(totals))
	for id := range totals {
		productIDs = append(productIDs, id)
	}
	products, err := s.repo.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, Internal("failed to load products", err)
	}
	for _, p := range products {
		totals[p.ID].Name = p.Name
	}

	top := make([]TopProduct, 0, len(totals))
	for _, t := range totals {
		top = append(top, *t)
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Quantity != top[j].Quantity {
			return top[i].Quantity > top[j].Quantity
		}
		return top[i].ProductID < top[j].ProductID
	})
	if len(top) > topProductsLimit {
		top = top[:topProductsLimit]
	}
	return top, nil
}
