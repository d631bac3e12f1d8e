package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"isla-market/internal/models"
	"isla-market/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderFixture struct {
	mem       *store.MemoryStore
	svc       *OrderService
	publisher *recordingPublisher
	customer  models.User
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	mem := store.NewMemoryStore()
	pub := &recordingPublisher{}
	return &orderFixture{
		mem:       mem,
		svc:       NewOrderService(mem, nil, time.Hour, pub),
		publisher: pub,
		customer:  addUser(t, mem, "ana", models.RoleCustomer),
	}
}

func (f *orderFixture) stock(t *testing.T, productID int64) int {
	t.Helper()
	p, err := f.mem.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.StockQuantity
}

func TestCreateAndCancelOrderAdjustsStock(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	p := addProduct(t, f.mem, "Coffee", 1500, 5)

	first, err := f.svc.CreateOrder(ctx, &f.customer, &CreateOrderRequest{
		Items:           []OrderItemRequest{{ProductID: p.ID, Quantity: 2}},
		ShippingAddress: newAddress(),
	}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, f.stock(t, p.ID))

	_, err = f.svc.CreateOrder(ctx, &f.customer, &CreateOrderRequest{
		Items:           []OrderItemRequest{{ProductID: p.ID, Quantity: 1}},
		ShippingAddress: newAddress(),
	}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.stock(t, p.ID))

	cancelled, err := f.svc.CancelOrder(ctx, f.customer.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 4, f.stock(t, p.ID))

	assert.Eventually(t, func() bool {
		created, cancelled, _ := f.publisher.counts()
		return created == 2 && cancelled == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCreateOrderUsesCatalogPrices(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	coffee := addProduct(t, f.mem, "Coffee", 1500, 10)
	mug := addProduct(t, f.mem, "Mug", 800, 10)

	clientPrice := int64(1)
	resp, err := f.svc.CreateOrder(ctx, &f.customer, &CreateOrderRequest{
		Items: []OrderItemRequest{
			{ProductID: coffee.ID, Quantity: 2, PriceAtTime: &clientPrice},
			{ProductID: mug.ID, Quantity: 3},
		},
		ShippingAddress: newAddress(),
	}, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, resp.Status)
	assert.Equal(t, int64(2*1500+3*800), resp.TotalAmount)

	detail, err := f.svc.GetOrder(ctx, f.customer.ID, resp.ID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 2)
	var sum int64
	for _, item := range detail.Items {
		assert.Equal(t, item.UnitPrice*int64(item.Quantity), item.TotalPrice)
		sum += item.TotalPrice
	}
	assert.Equal(t, detail.TotalAmount, sum)
	require.NotNil(t, detail.ShippingAddress)
	assert.Equal(t, "Calle 1", detail.ShippingAddress.AddressLine1)
}

func TestCreateOrderWithVariant(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	shirt := addProduct(t, f.mem, "Shirt", 2000, 0)
	large := addVariant(t, f.mem, shirt.ID, "L", 2500, 4, true)

	_, err := f.svc.CreateOrder(ctx, &f.customer, &CreateOrderRequest{
		Items:           []OrderItemRequest{{ProductID: shirt.ID, Quantity: 1}},
		ShippingAddress: newAddress(),
	}, "")
	requireKind(t, err, KindValidation)

	resp, err := f.svc.CreateOrder(ctx, &f.customer, &CreateOrderRequest{
		Items:           []OrderItemRequest{{ProductID: shirt.ID, VariantID: &large.ID, Quantity: 2}},
		ShippingAddress: newAddress(),
	}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), resp.TotalAmount)

	v, err := f.mem.GetVariant(ctx, large.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, v.StockQuantity)

	detail, err := f.svc.GetOrder(ctx, f.customer.ID, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "Shirt - L", detail.Items[0].ProductName)
}

func TestCreateOrderShortfallStillCreatesOrder(t *testing.T) {
	f := newOrderFixture(t)
	p := addProduct(t, f.mem, "Honey", 900, 1)

	resp, err := f.svc.CreateOrder(context.Background(), &f.customer, &CreateOrderRequest{
		Items:           []OrderItemRequest{{ProductID: p.ID, Quantity: 3}},
		ShippingAddress: newAddress(),
	}, "")
	require.NoError(t, err)
	assert.NotZero(t, resp.ID)
	assert.Equal(t, 1, f.stock(t, p.ID))
}

func TestCreateOrderValidation(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	p := addProduct(t, f.mem, "Coffee", 1500, 5)
	inactive := addProduct(t, f.mem, "Old", 100, 5)
	off := false
	_, err := f.mem.UpdateProduct(ctx, inactive.ID, models.ProductPatch{IsActive: &off})
	require.NoError(t, err)

	tests := []struct {
		name string
		user *models.User
		req  *CreateOrderRequest
		kind Kind
	}{
		{"anonymous", nil, &CreateOrderRequest{Items: []OrderItemRequest{{ProductID: p.ID, Quantity: 1}}, ShippingAddress: newAddress()}, KindUnauthorized},
		{"no items", &f.customer, &CreateOrderRequest{ShippingAddress: newAddress()}, KindValidation},
		{"no address", &f.customer, &CreateOrderRequest{Items: []OrderItemRequest{{ProductID: p.ID, Quantity: 1}}}, KindValidation},
		{"zero quantity", &f.customer, &CreateOrderRequest{Items: []OrderItemRequest{{ProductID: p.ID}}, ShippingAddress: newAddress()}, KindValidation},
		{"unknown product", &f.customer, &CreateOrderRequest{Items: []OrderItemRequest{{ProductID: 999, Quantity: 1}}, ShippingAddress: newAddress()}, KindValidation},
		{"inactive product", &f.customer, &CreateOrderRequest{Items: []OrderItemRequest{{ProductID: inactive.ID, Quantity: 1}}, ShippingAddress: newAddress()}, KindValidation},
		{"incomplete address", &f.customer, &CreateOrderRequest{Items: []OrderItemRequest{{ProductID: p.ID, Quantity: 1}}, ShippingAddress: &AddressInput{FullName: "Ana"}}, KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(ctx, tt.user, tt.req, "")
			requireKind(t, err, tt.kind)
		})
	}
	assert.Equal(t, 5, f.stock(t, p.ID))
}

func TestCreateOrderRejectsForeignAddress(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	p := addProduct(t, f.mem, "Coffee", 1500, 5)
	other := addUser(t, f.mem, "luis", models.RoleCustomer)

	addr := &models.ShippingAddress{UserID: other.ID, FullName: "Luis", AddressLine1: "Calle 2", City: "Ponce"}
	require.NoError(t, f.mem.CreateShippingAddress(ctx, addr))

	_, err := f.svc.CreateOrder(ctx, &f.customer, &CreateOrderRequest{
		Items:           []OrderItemRequest{{ProductID: p.ID, Quantity: 1}},
		ShippingAddress: &AddressInput{ID: &addr.ID},
	}, "")
	requireKind(t, err, KindNotFound)
}

func TestCreateOrderIdempotencyKeyReplays(t *testing.T) {
	mem := store.NewMemoryStore()
	idem := &memoryIdempotency{}
	svc := NewOrderService(mem, idem, time.Hour, &recordingPublisher{})
	user := addUser(t, mem, "ana", models.RoleCustomer)
	p := addProduct(t, mem, "Coffee", 1500, 5)
	ctx := context.Background()

	req := &CreateOrderRequest{Items: []OrderItemRequest{{ProductID: p.ID, Quantity: 1}}, ShippingAddress: newAddress()}
	first, err := svc.CreateOrder(ctx, &user, req, "key-1")
	require.NoError(t, err)
	second, err := svc.CreateOrder(ctx, &user, req, "key-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got, err := mem.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.StockQuantity)

	third, err := svc.CreateOrder(ctx, &user, req, "key-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestCancelOrderRules(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	p := addProduct(t, f.mem, "Coffee", 1500, 5)

	resp, err := f.svc.CreateOrder(ctx, &f.customer, &CreateOrderRequest{
		Items:           []OrderItemRequest{{ProductID: p.ID, Quantity: 2}},
		ShippingAddress: newAddress(),
	}, "")
	require.NoError(t, err)

	t.Run("other user sees not found", func(t *testing.T) {
		other := addUser(t, f.mem, "luis", models.RoleCustomer)
		_, err := f.svc.CancelOrder(ctx, other.ID, resp.ID)
		requireKind(t, err, KindNotFound)
	})

	t.Run("non pending order is rejected", func(t *testing.T) {
		moved, err := f.svc.MarkPaid(ctx, resp.ID, "test")
		require.NoError(t, err)
		require.True(t, moved)

		_, err = f.svc.CancelOrder(ctx, f.customer.ID, resp.ID)
		requireKind(t, err, KindValidation)
		var svcErr *Error
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, models.OrderStatusPaid, svcErr.Fields["current_status"])

		order, err := f.mem.GetOrderByID(ctx, resp.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPaid, order.Status)
		assert.Equal(t, 3, f.stock(t, p.ID))
	})
}

func TestUpdateStatusTransitions(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	p := addProduct(t, f.mem, "Coffee", 1500, 5)

	resp, err := f.svc.CreateOrder(ctx, &f.customer, &CreateOrderRequest{
		Items:           []OrderItemRequest{{ProductID: p.ID, Quantity: 2}},
		ShippingAddress: newAddress(),
	}, "")
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, resp.ID, "delivered")
	requireKind(t, err, KindValidation)

	_, err = f.svc.UpdateStatus(ctx, resp.ID, "shipped")
	requireKind(t, err, KindValidation)

	_, err = f.svc.UpdateStatus(ctx, 999, "paid")
	requireKind(t, err, KindNotFound)

	order, err := f.svc.UpdateStatus(ctx, resp.ID, "pagado")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, order.Status)

	order, err = f.svc.UpdateStatus(ctx, resp.ID, "cancelled")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	assert.Equal(t, 5, f.stock(t, p.ID))

	assert.Eventually(t, func() bool {
		_, cancelled, paid := f.publisher.counts()
		return cancelled == 1 && paid == 1
	}, time.Second, 10*time.Millisecond)
}

func TestMarkPaidOnlyMovesPendingOrders(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	p := addProduct(t, f.mem, "Coffee", 1500, 5)

	resp, err := f.svc.CreateOrder(ctx, &f.customer, &CreateOrderRequest{
		Items:           []OrderItemRequest{{ProductID: p.ID, Quantity: 1}},
		ShippingAddress: newAddress(),
	}, "")
	require.NoError(t, err)

	moved, err := f.svc.MarkPaid(ctx, resp.ID, "stripe")
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = f.svc.MarkPaid(ctx, resp.ID, "stripe")
	require.NoError(t, err)
	assert.False(t, moved)

	_, err = f.svc.MarkPaid(ctx, 999, "stripe")
	requireKind(t, err, KindNotFound)
}

func TestListOrders(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	p := addProduct(t, f.mem, "Coffee", 1500, 50)

	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateOrder(ctx, &f.customer, &CreateOrderRequest{
			Items:           []OrderItemRequest{{ProductID: p.ID, Quantity: 1}},
			ShippingAddress: newAddress(),
		}, "")
		require.NoError(t, err)
	}

	mine, err := f.svc.ListMyOrders(ctx, f.customer.ID)
	require.NoError(t, err)
	require.Len(t, mine, 3)
	for _, o := range mine {
		assert.Len(t, o.Items, 1)
	}

	_, err = f.svc.MarkPaid(ctx, mine[0].ID, "test")
	require.NoError(t, err)

	paid, err := f.svc.ListOrders(ctx, "paid", 1, 20)
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, mine[0].ID, paid[0].ID)

	_, err = f.svc.ListOrders(ctx, "bogus", 1, 20)
	requireKind(t, err, KindValidation)
}

// failingItems fails the nth order item insert inside a transaction
type failingItems struct {
	*store.MemoryStore
	failAt int
}

func (f *failingItems) InTx(ctx context.Context, fn func(q store.Querier) error) error {
	calls := 0
	return f.MemoryStore.InTx(ctx, func(q store.Querier) error {
		return fn(failingItemsQuerier{Querier: q, calls: &calls, failAt: f.failAt})
	})
}

type failingItemsQuerier struct {
	store.Querier
	calls  *int
	failAt int
}

func (q failingItemsQuerier) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	*q.calls++
	if *q.calls == q.failAt {
		return fmt.Errorf("create order item: %w", store.ErrConflict)
	}
	return q.Querier.CreateOrderItem(ctx, item)
}

func TestCreateOrderLeavesNothingBehindWhenAnItemFails(t *testing.T) {
	mem := store.NewMemoryStore()
	pub := &recordingPublisher{}
	svc := NewOrderService(&failingItems{MemoryStore: mem, failAt: 2}, nil, time.Hour, pub)
	customer := addUser(t, mem, "ana", models.RoleCustomer)
	coffee := addProduct(t, mem, "Coffee", 1500, 5)
	mug := addProduct(t, mem, "Mug", 800, 5)
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, &customer, &CreateOrderRequest{
		Items: []OrderItemRequest{
			{ProductID: coffee.ID, Quantity: 2},
			{ProductID: mug.ID, Quantity: 1},
		},
		ShippingAddress: newAddress(),
	}, "")
	requireKind(t, err, KindConflict)

	orders, err := mem.ListOrdersByUser(ctx, customer.ID)
	require.NoError(t, err)
	assert.Empty(t, orders)
	addrs, err := mem.ListShippingAddresses(ctx, customer.ID)
	require.NoError(t, err)
	assert.Empty(t, addrs)

	got, err := mem.GetProduct(ctx, coffee.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.StockQuantity)

	created, _, _ := pub.counts()
	assert.Zero(t, created)
}
