package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"isla-market/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHandlerRoutesByType(t *testing.T) {
	h := NewEventHandler()
	var created, cancelled, paid []int64
	h.OnOrderCreated(func(ctx context.Context, e *models.OrderCreatedEvent) error {
		created = append(created, e.OrderID)
		return nil
	})
	h.OnOrderCancelled(func(ctx context.Context, e *models.OrderCancelledEvent) error {
		cancelled = append(cancelled, e.OrderID)
		assert.Equal(t, "cancelled by customer", e.Reason)
		return nil
	})
	h.OnOrderPaid(func(ctx context.Context, e *models.OrderPaidEvent) error {
		paid = append(paid, e.OrderID)
		assert.Equal(t, int64(500), e.TotalAmount)
		return nil
	})

	loop := NewLoopback()
	loop.Subscribe(h.HandleMessage)
	pub := NewEventPublisher(loop)
	ctx := context.Background()

	require.NoError(t, pub.PublishOrderCreated(ctx, &models.OrderCreatedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderCreated), OrderID: 1,
	}))
	require.NoError(t, pub.PublishOrderCancelled(ctx, &models.OrderCancelledEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderCancelled), OrderID: 2, Reason: "cancelled by customer",
	}))
	require.NoError(t, pub.PublishOrderPaid(ctx, &models.OrderPaidEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderPaid), OrderID: 3, TotalAmount: 500,
	}))

	assert.Equal(t, []int64{1}, created)
	assert.Equal(t, []int64{2}, cancelled)
	assert.Equal(t, []int64{3}, paid)
}

func TestEventHandlerSkipsUnknownAndUnregistered(t *testing.T) {
	h := NewEventHandler()
	ctx := context.Background()

	unknown, err := json.Marshal(models.NewBaseEvent("SOMETHING_ELSE"))
	require.NoError(t, err)
	assert.NoError(t, h.HandleMessage(ctx, kafka.Message{Value: unknown}))

	paid, err := json.Marshal(models.OrderPaidEvent{BaseEvent: models.NewBaseEvent(models.EventTypeOrderPaid)})
	require.NoError(t, err)
	assert.NoError(t, h.HandleMessage(ctx, kafka.Message{Value: paid}))

	assert.Error(t, h.HandleMessage(ctx, kafka.Message{Value: []byte("not json")}))
}

func TestLoopbackKeysAndIsolatesHandlerErrors(t *testing.T) {
	loop := NewLoopback()
	var keys []string
	loop.Subscribe(func(ctx context.Context, msg kafka.Message) error {
		return errors.New("boom")
	})
	loop.Subscribe(func(ctx context.Context, msg kafka.Message) error {
		keys = append(keys, string(msg.Key))
		return nil
	})

	err := NewEventPublisher(loop).PublishOrderPaid(context.Background(), &models.OrderPaidEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderPaid), OrderID: 12,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"order-12"}, keys)
}
