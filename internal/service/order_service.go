package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"isla-market/internal/models"
	"isla-market/internal/store"
	"isla-market/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService handles order business logic
type OrderService struct {
	repo           store.Repository
	idempotency    IdempotencyStore
	idempotencyTTL time.Duration
	eventPublisher EventPublisher
	logger         *zap.Logger
}

// NewOrderService creates a new order service. idempotency may be nil.
func NewOrderService(
	repo store.Repository,
	idempotency IdempotencyStore,
	idempotencyTTL time.Duration,
	eventPublisher EventPublisher,
) *OrderService {
	return &OrderService{
		repo:           repo,
		idempotency:    idempotency,
		idempotencyTTL: idempotencyTTL,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	Items           []OrderItemRequest `json:"items"`
	ShippingAddress *AddressInput      `json:"shipping_address"`
	Notes           *string            `json:"notes,omitempty"`
}

// OrderItemRequest represents an item in an order. PriceAtTime is the price
// the client displayed; it is only compared against the authoritative price.
type OrderItemRequest struct {
	ProductID   int64  `json:"product_id"`
	VariantID   *int64 `json:"variant_id,omitempty"`
	Quantity    int    `json:"quantity"`
	PriceAtTime *int64 `json:"price_at_time,omitempty"`
}

// AddressInput references an existing address by ID or describes a new one
type AddressInput struct {
	ID           *int64 `json:"id,omitempty"`
	FullName     string `json:"full_name"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
}

// CreateOrderResponse represents the response after creating an order
type CreateOrderResponse struct {
	ID          int64              `json:"id"`
	Status      models.OrderStatus `json:"status"`
	TotalAmount int64              `json:"total_amount"`
	CreatedAt   time.Time          `json:"created_at"`
}

// OrderDetail is an order with its items and shipping address
type OrderDetail struct {
	models.Order
	Items           []models.OrderItem      `json:"items"`
	ShippingAddress *models.ShippingAddress `json:"shipping_address,omitempty"`
}

// pricedItem is a validated cart line with its authoritative price
type pricedItem struct {
	OrderItemRequest
	name      string
	unitPrice int64
}

// CreateOrder creates an order, its items and adjusts stock in one transaction
func (s *OrderService) CreateOrder(ctx context.Context, user *models.User, req *CreateOrderRequest, idempotencyKey string) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if user == nil {
		return nil, Unauthorized("authentication required")
	}
	if req == nil || len(req.Items) == 0 {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, Validation("order must contain at least one item")
	}
	if req.ShippingAddress == nil {
		util.OrdersFailedTotal.WithLabelValues("missing_address").Inc()
		return nil, Validation("shipping address is required")
	}

	if existing := s.replay(ctx, user.ID, idempotencyKey); existing != nil {
		return existing, nil
	}

	items, err := s.priceItems(ctx, req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	var total int64
	for _, item := range items {
		total += item.unitPrice * int64(item.Quantity)
	}

	order := &models.Order{
		UserID:      user.ID,
		Status:      models.OrderStatusPending,
		TotalAmount: total,
		Notes:       req.Notes,
	}
	var persisted []models.OrderItem

	start := time.Now()
	err = s.repo.InTx(ctx, func(q store.Querier) error {
		addressID, err := s.resolveAddress(ctx, q, user.ID, req.ShippingAddress)
		if err != nil {
			return err
		}
		order.ShippingAddressID = addressID

		if err := q.CreateOrder(ctx, order); err != nil {
			return fromStore(err, "", "order conflicts with existing data")
		}

		persisted = make([]models.OrderItem, 0, len(items))
		for _, item := range items {
			row := models.OrderItem{
				OrderID:     order.ID,
				ProductID:   item.ProductID,
				VariantID:   item.VariantID,
				ProductName: item.name,
				Quantity:    item.Quantity,
				UnitPrice:   item.unitPrice,
				TotalPrice:  item.unitPrice * int64(item.Quantity),
			}
			if err := q.CreateOrderItem(ctx, &row); err != nil {
				return fromStore(err, "", "order item conflicts with existing data")
			}
			persisted = append(persisted, row)

			if err := s.takeStock(ctx, q, order.ID, row); err != nil {
				return err
			}
		}
		return nil
	})
	util.StockAdjustLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fromStore(err, "shipping address not found", "order conflicts with existing data")
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("user_id", user.ID.String()),
		zap.Int64("total_amount", order.TotalAmount))

	s.remember(ctx, user.ID, idempotencyKey, order.ID)

	event := &models.OrderCreatedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:       order.ID,
		UserID:        user.ID,
		CustomerEmail: user.Email,
		CustomerName:  user.FullName,
		TotalAmount:   order.TotalAmount,
		Items:         itemData(persisted),
	}
	publishAsync(event.EventType, func(ctx context.Context) error {
		return s.eventPublisher.PublishOrderCreated(ctx, event)
	})

	return &CreateOrderResponse{
		ID:          order.ID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		CreatedAt:   order.CreatedAt,
	}, nil
}

// priceItems validates cart lines and re-reads every price server-side
func (s *OrderService) priceItems(ctx context.Context, reqItems []OrderItemRequest) ([]pricedItem, error) {
	productIDs := make([]int64, 0, len(reqItems))
	for i, item := range reqItems {
		if item.ProductID <= 0 {
			return nil, Validation(fmt.Sprintf("item %d: product_id is required", i))
		}
		if item.Quantity <= 0 {
			return nil, Validation(fmt.Sprintf("item %d: quantity must be positive", i))
		}
		productIDs = append(productIDs, item.ProductID)
	}

	products, err := s.repo.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, Internal("failed to load products", err)
	}
	productMap := make(map[int64]*models.Product, len(products))
	for i := range products {
		productMap[products[i].ID] = &products[i]
	}

	items := make([]pricedItem, 0, len(reqItems))
	for i, item := range reqItems {
		product, ok := productMap[item.ProductID]
		if !ok || !product.IsActive {
			return nil, Validation(fmt.Sprintf("item %d: product %d is not available", i, item.ProductID))
		}

		priced := pricedItem{OrderItemRequest: item, name: product.Name, unitPrice: product.Price}
		switch {
		case item.VariantID != nil:
			variant, err := s.repo.GetVariant(ctx, *item.VariantID)
			if err != nil || variant.ProductID != product.ID || !variant.IsActive {
				return nil, Validation(fmt.Sprintf("item %d: variant %d is not available for product %d", i, *item.VariantID, product.ID))
			}
			priced.unitPrice = variant.Price
			priced.name = product.Name + " - " + variant.Name
		case product.HasVariants:
			return nil, Validation(fmt.Sprintf("item %d: product %d requires a variant", i, product.ID))
		}

		if item.PriceAtTime != nil && *item.PriceAtTime != priced.unitPrice {
			s.logger.Warn("Client price differs from catalog price",
				zap.Int64("product_id", product.ID),
				zap.Int64("client_price", *item.PriceAtTime),
				zap.Int64("catalog_price", priced.unitPrice))
		}
		items = append(items, priced)
	}
	return items, nil
}

// resolveAddress reuses an owned address or inserts a new one
func (s *OrderService) resolveAddress(ctx context.Context, q store.Querier, userID uuid.UUID, in *AddressInput) (int64, error) {
	if in.ID != nil {
		addr, err := q.GetShippingAddress(ctx, *in.ID)
		if err != nil {
			return 0, fromStore(err, "shipping address not found", "")
		}
		if addr.UserID != userID {
			return 0, NotFound("shipping address not found")
		}
		return addr.ID, nil
	}

	if strings.TrimSpace(in.FullName) == "" || strings.TrimSpace(in.AddressLine1) == "" || strings.TrimSpace(in.City) == "" {
		return 0, Validation("shipping address requires full_name, address_line1 and city")
	}

	addr := &models.ShippingAddress{
		UserID:       userID,
		FullName:     strings.TrimSpace(in.FullName),
		Phone:        in.Phone,
		AddressLine1: strings.TrimSpace(in.AddressLine1),
		AddressLine2: in.AddressLine2,
		City:         strings.TrimSpace(in.City),
		State:        in.State,
		PostalCode:   in.PostalCode,
		Country:      in.Country,
	}
	if err := q.CreateShippingAddress(ctx, addr); err != nil {
		return 0, fromStore(err, "", "shipping address conflicts with existing data")
	}
	return addr.ID, nil
}

// takeStock decrements stock when enough is available. A shortfall is
// recorded and the order proceeds.
func (s *OrderService) takeStock(ctx context.Context, q store.Querier, orderID int64, item models.OrderItem) error {
	var (
		ok   bool
		err  error
		kind = "product"
	)
	if item.VariantID != nil {
		kind = "variant"
		ok, err = q.DecrementVariantStock(ctx, *item.VariantID, item.Quantity)
	} else {
		ok, err = q.DecrementProductStock(ctx, item.ProductID, item.Quantity)
	}
	if err != nil {
		return Internal("failed to adjust stock", err)
	}

	if !ok {
		util.StockShortfallTotal.WithLabelValues(kind).Inc()
		s.logger.Warn("Insufficient stock, order proceeds without decrement",
			zap.Int64("order_id", orderID),
			zap.Int64("product_id", item.ProductID),
			zap.Int("quantity", item.Quantity))
	}
	return nil
}

// restoreStock returns every item's quantity to its variant or product
func restoreStock(ctx context.Context, q store.Querier, items []models.OrderItem) error {
	for _, item := range items {
		var err error
		if item.VariantID != nil {
			err = q.IncrementVariantStock(ctx, *item.VariantID, item.Quantity)
		} else {
			err = q.IncrementProductStock(ctx, item.ProductID, item.Quantity)
		}
		if err != nil {
			return Internal(fmt.Sprintf("failed to restore stock for product %d", item.ProductID), err)
		}
	}
	return nil
}

func orderIdempotencyKey(userID uuid.UUID, key string) string {
	return "order:" + userID.String() + ":" + key
}

// replay returns the order previously created with the same key, if any
func (s *OrderService) replay(ctx context.Context, userID uuid.UUID, key string) *CreateOrderResponse {
	if s.idempotency == nil || key == "" {
		return nil
	}

	value, found, err := s.idempotency.GetIdempotencyKey(ctx, orderIdempotencyKey(userID, key))
	if err != nil {
		s.logger.Warn("Idempotency lookup failed", zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}

	orderID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil
	}
	order, err := s.repo.GetOrderForUser(ctx, orderID, userID)
	if err != nil {
		return nil
	}

	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", order.ID))
	return &CreateOrderResponse{ID: order.ID, Status: order.Status, TotalAmount: order.TotalAmount, CreatedAt: order.CreatedAt}
}

func (s *OrderService) remember(ctx context.Context, userID uuid.UUID, key string, orderID int64) {
	if s.idempotency == nil || key == "" {
		return
	}
	if err := s.idempotency.SetIdempotencyKey(ctx, orderIdempotencyKey(userID, key), orderID, s.idempotencyTTL); err != nil {
		s.logger.Warn("Failed to store idempotency key", zap.Error(err))
	}
}

func itemData(items []models.OrderItem) []models.OrderItemData {
	out := make([]models.OrderItemData, len(items))
	for i, item := range items {
		out[i] = models.OrderItemData{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		}
	}
	return out
}

// CancelOrder cancels a pending order of userID and restores its stock.
// Orders of other users are reported as not found.
func (s *OrderService) CancelOrder(ctx context.Context, userID uuid.UUID, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	var (
		order *models.Order
		items []models.OrderItem
	)
	err := s.repo.InTx(ctx, func(q store.Querier) error {
		var err error
		order, err = q.GetOrderForUser(ctx, orderID, userID)
		if err != nil {
			return fromStore(err, "order not found", "")
		}
		if order.Status != models.OrderStatusPending {
			return Validation("only pending orders can be cancelled").With("current_status", order.Status)
		}

		ok, err := q.TransitionOrderStatus(ctx, orderID, []models.OrderStatus{models.OrderStatusPending}, models.OrderStatusCancelled)
		if err != nil {
			return Internal("failed to update order status", err)
		}
		if !ok {
			current, err := q.GetOrderByID(ctx, orderID)
			if err != nil {
				return fromStore(err, "order not found", "")
			}
			return Validation("only pending orders can be cancelled").With("current_status", current.Status)
		}

		items, err = q.ListOrderItems(ctx, []int64{orderID})
		if err != nil {
			return Internal("failed to load order items", err)
		}
		return restoreStock(ctx, q, items)
	})
	if err != nil {
		return nil, err
	}

	order.Status = models.OrderStatusCancelled
	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled", zap.Int64("order_id", orderID), zap.String("user_id", userID.String()))

	s.publishCancelled(ctx, order, "cancelled by customer")
	return order, nil
}

func (s *OrderService) publishCancelled(ctx context.Context, order *models.Order, reason string) {
	email := ""
	if user, err := s.repo.GetUserByID(ctx, order.UserID); err == nil {
		email = user.Email
	}

	event := &models.OrderCancelledEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeOrderCancelled),
		OrderID:       order.ID,
		UserID:        order.UserID,
		CustomerEmail: email,
		TotalAmount:   order.TotalAmount,
		Reason:        reason,
	}
	publishAsync(event.EventType, func(ctx context.Context) error {
		return s.eventPublisher.PublishOrderCancelled(ctx, event)
	})
}

func (s *OrderService) publishPaid(order *models.Order, source string) {
	event := &models.OrderPaidEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderPaid),
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		Source:      source,
	}
	publishAsync(event.EventType, func(ctx context.Context) error {
		return s.eventPublisher.PublishOrderPaid(ctx, event)
	})
}

// GetOrder retrieves an order of userID with items and shipping address
func (s *OrderService) GetOrder(ctx context.Context, userID uuid.UUID, orderID int64) (*OrderDetail, error) {
	order, err := s.repo.GetOrderForUser(ctx, orderID, userID)
	if err != nil {
		return nil, fromStore(err, "order not found", "")
	}
	return s.detail(ctx, order)
}

// GetOrderAdmin retrieves any order with items and shipping address
func (s *OrderService) GetOrderAdmin(ctx context.Context, orderID int64) (*OrderDetail, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fromStore(err, "order not found", "")
	}
	return s.detail(ctx, order)
}

func (s *OrderService) detail(ctx context.Context, order *models.Order) (*OrderDetail, error) {
	items, err := s.repo.ListOrderItems(ctx, []int64{order.ID})
	if err != nil {
		return nil, Internal("failed to load order items", err)
	}

	detail := &OrderDetail{Order: *order, Items: items}
	if order.ShippingAddressID != 0 {
		addr, err := s.repo.GetShippingAddress(ctx, order.ShippingAddressID)
		if err == nil {
			detail.ShippingAddress = addr
		}
	}
	return detail, nil
}

// ListMyOrders returns the orders of userID, newest first, with their items
func (s *OrderService) ListMyOrders(ctx context.Context, userID uuid.UUID) ([]OrderDetail, error) {
	orders, err := s.repo.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, Internal("failed to list orders", err)
	}
	return s.withItems(ctx, orders)
}

// ListOrders returns orders for the back-office, optionally filtered by status
func (s *OrderService) ListOrders(ctx context.Context, status string, page, size int) ([]OrderDetail, error) {
	filter := store.OrderFilter{}
	if status != "" {
		parsed, ok := models.ParseOrderStatus(status)
		if !ok {
			return nil, Validation("unknown status " + strconv.Quote(status))
		}
		filter.Status = parsed
	}
	page, size = clampPage(page, size)
	filter.Limit = size
	filter.Offset = (page - 1) * size

	orders, err := s.repo.ListOrders(ctx, filter)
	if err != nil {
		return nil, Internal("failed to list orders", err)
	}
	return s.withItems(ctx, orders)
}

func (s *OrderService) withItems(ctx context.Context, orders []models.Order) ([]OrderDetail, error) {
	ids := make([]int64, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := s.repo.ListOrderItems(ctx, ids)
	if err != nil {
		return nil, Internal("failed to load order items", err)
	}

	byOrder := make(map[int64][]models.OrderItem)
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}

	out := make([]OrderDetail, len(orders))
	for i, o := range orders {
		out[i] = OrderDetail{Order: o, Items: byOrder[o.ID]}
		if out[i].Items == nil {
			out[i].Items = []models.OrderItem{}
		}
	}
	return out, nil
}

// allowedTransitions maps a target status to the statuses it may be reached from
var allowedTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPaid:      {models.OrderStatusPending},
	models.OrderStatusDelivered: {models.OrderStatusPaid},
	models.OrderStatusCancelled: {models.OrderStatusPending, models.OrderStatusPaid},
}

// UpdateStatus applies a back-office status transition. Cancelling restores
// stock; moving to paid publishes order.paid.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, status string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	target, ok := models.ParseOrderStatus(status)
	if !ok {
		return nil, Validation("unknown status " + strconv.Quote(status))
	}
	from, ok := allowedTransitions[target]
	if !ok {
		return nil, Validation("orders cannot be moved to " + string(target))
	}

	var order *models.Order
	err := s.repo.InTx(ctx, func(q store.Querier) error {
		var err error
		order, err = q.GetOrderByID(ctx, orderID)
		if err != nil {
			return fromStore(err, "order not found", "")
		}

		moved, err := q.TransitionOrderStatus(ctx, orderID, from, target)
		if err != nil {
			return Internal("failed to update order status", err)
		}
		if !moved {
			return Validation(fmt.Sprintf("cannot move order from %s to %s", order.Status, target)).
				With("current_status", order.Status)
		}

		if target == models.OrderStatusCancelled {
			items, err := q.ListOrderItems(ctx, []int64{orderID})
			if err != nil {
				return Internal("failed to load order items", err)
			}
			return restoreStock(ctx, q, items)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order.Status = target
	s.logger.Info("Order status updated", zap.Int64("order_id", orderID), zap.String("status", string(target)))

	switch target {
	case models.OrderStatusPaid:
		util.OrdersPaidTotal.Inc()
		s.publishPaid(order, "admin")
	case models.OrderStatusCancelled:
		util.OrdersCancelledTotal.Inc()
		s.publishCancelled(ctx, order, "cancelled by admin")
	}
	return order, nil
}

// MarkPaid moves a pending order to paid after a confirmed payment.
// Orders already paid or delivered are left unchanged and reported as not moved.
func (s *OrderService) MarkPaid(ctx context.Context, orderID int64, source string) (bool, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.MarkPaid")
	defer span.End()

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return false, fromStore(err, "order not found", "")
	}

	moved, err := s.repo.TransitionOrderStatus(ctx, orderID, []models.OrderStatus{models.OrderStatusPending}, models.OrderStatusPaid)
	if err != nil {
		return false, Internal("failed to update order status", err)
	}
	if !moved {
		s.logger.Info("Payment confirmation for non-pending order ignored",
			zap.Int64("order_id", orderID),
			zap.String("status", string(order.Status)))
		return false, nil
	}

	order.Status = models.OrderStatusPaid
	util.OrdersPaidTotal.Inc()
	s.logger.Info("Order paid", zap.Int64("order_id", orderID), zap.String("source", source))
	s.publishPaid(order, source)
	return true, nil
}
