package store

import (
	"context"
	"fmt"
	"time"

	"isla-market/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// CreateOrder creates a new order
func (q *Queries) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, shipping_address_id, status, total_amount, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := sqlx.GetContext(ctx, q.db, order, query,
		order.UserID, order.ShippingAddressID, order.Status, order.TotalAmount, order.Notes)
	return mapErr(err, "create order")
}

// CreateOrderItem creates a new order item
func (q *Queries) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items
			(order_id, product_id, variant_id, product_name, quantity, unit_price, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := sqlx.GetContext(ctx, q.db, &item.ID, query,
		item.OrderID, item.ProductID, item.VariantID, item.ProductName,
		item.Quantity, item.UnitPrice, item.TotalPrice)
	return mapErr(err, "create order item")
}

// GetOrderByID retrieves an order by ID
func (q *Queries) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q.db, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("order %d", id))
	}
	order.Status = order.Status.Normalized()
	return &order, nil
}

// GetOrderForUser retrieves an order only if it belongs to userID
func (q *Queries) GetOrderForUser(ctx context.Context, id int64, userID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q.db, &order,
		"SELECT * FROM orders WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("order %d", id))
	}
	order.Status = order.Status.Normalized()
	return &order, nil
}

// ListOrdersByUser retrieves orders for a user
func (q *Queries) ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := sqlx.SelectContext(ctx, q.db, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return normalizeOrders(orders), err
}

// ListOrders retrieves orders for the back-office, newest first
func (q *Queries) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := "SELECT * FROM orders"
	args := []interface{}{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += " WHERE status = $1"
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var orders []models.Order
	err := sqlx.SelectContext(ctx, q.db, &orders, query, args...)
	return normalizeOrders(orders), err
}

// ListOrdersSince retrieves every order created at or after since
func (q *Queries) ListOrdersSince(ctx context.Context, since time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := sqlx.SelectContext(ctx, q.db, &orders,
		"SELECT * FROM orders WHERE created_at >= $1 ORDER BY created_at", since)
	return normalizeOrders(orders), err
}

// ListOrderItems retrieves all items for the given orders
func (q *Queries) ListOrderItems(ctx context.Context, orderIDs []int64) ([]models.OrderItem, error) {
	if len(orderIDs) == 0 {
		return []models.OrderItem{}, nil
	}

	var items []models.OrderItem
	err := sqlx.SelectContext(ctx, q.db, &items,
		"SELECT * FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, id", pq.Int64Array(orderIDs))
	return items, err
}

// TransitionOrderStatus moves an order to status `to` only if its current
// status is one of `from`. Returns false when the guard did not match.
func (q *Queries) TransitionOrderStatus(ctx context.Context, id int64, from []models.OrderStatus, to models.OrderStatus) (bool, error) {
	allowed := make(pq.StringArray, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	return affected(q.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)`, to, id, allowed))
}

func normalizeOrders(orders []models.Order) []models.Order {
	for i := range orders {
		orders[i].Status = orders[i].Status.Normalized()
	}
	return orders
}
