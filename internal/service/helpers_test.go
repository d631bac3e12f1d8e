package service

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"isla-market/internal/models"
	"isla-market/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu        sync.Mutex
	created   []*models.OrderCreatedEvent
	cancelled []*models.OrderCancelledEvent
	paid      []*models.OrderPaidEvent
}

func (p *recordingPublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *recordingPublisher) PublishOrderCancelled(ctx context.Context, e *models.OrderCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, e)
	return nil
}

func (p *recordingPublisher) PublishOrderPaid(ctx context.Context, e *models.OrderPaidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid = append(p.paid, e)
	return nil
}

func (p *recordingPublisher) counts() (created, cancelled, paid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.created), len(p.cancelled), len(p.paid)
}

type memoryIdempotency struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memoryIdempotency) GetIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memoryIdempotency) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	switch v := value.(type) {
	case int64:
		m.values[key] = strconv.FormatInt(v, 10)
	case string:
		m.values[key] = v
	}
	return nil
}

func addUser(t *testing.T, m *store.MemoryStore, name, role string) models.User {
	t.Helper()
	u := models.User{ID: uuid.New(), Email: name + "@example.com", FullName: name, Role: role}
	m.PutUser(u)
	return u
}

func addProduct(t *testing.T, m *store.MemoryStore, name string, price int64, stock int) *models.Product {
	t.Helper()
	p := &models.Product{Name: name, Price: price, StockQuantity: stock, IsActive: true}
	require.NoError(t, m.CreateProduct(context.Background(), p))
	return p
}

func addVariant(t *testing.T, m *store.MemoryStore, productID int64, name string, price int64, stock int, active bool) *models.ProductVariant {
	t.Helper()
	ctx := context.Background()
	v := &models.ProductVariant{ProductID: productID, Name: name, Price: price, StockQuantity: stock, IsActive: active}
	require.NoError(t, m.CreateVariant(ctx, v))
	flag := true
	_, err := m.UpdateProduct(ctx, productID, models.ProductPatch{HasVariants: &flag})
	require.NoError(t, err)
	return v
}

func newAddress() *AddressInput {
	return &AddressInput{FullName: "Ana Ruiz", AddressLine1: "Calle 1", City: "San Juan", Country: "PR"}
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), "error: %v", err)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
