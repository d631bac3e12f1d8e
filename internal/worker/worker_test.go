package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"isla-market/internal/broker"
	"isla-market/internal/models"
	"isla-market/internal/notify"
	"isla-market/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []notify.Email
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, email notify.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, email)
	return nil
}

type fakeRecorder struct {
	orders []int64
	err    error
}

func (f *fakeRecorder) RecordCommission(ctx context.Context, orderID int64) (*models.ReferralCommission, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.orders = append(f.orders, orderID)
	return &models.ReferralCommission{OrderID: orderID}, nil
}

func createdEvent(orderID int64) *models.OrderCreatedEvent {
	return &models.OrderCreatedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:       orderID,
		CustomerEmail: "ana@example.com",
		CustomerName:  "Ana",
		TotalAmount:   1500,
		Items:         []models.OrderItemData{{ProductID: 1, ProductName: "Coffee", Quantity: 1, UnitPrice: 1500}},
	}
}

func TestNotificationWorkerSendsConfirmationOnce(t *testing.T) {
	mailer := &fakeMailer{}
	w := NewNotificationWorker(nil, mailer, store.NewMemoryStore(), "admin@example.com")

	loop := broker.NewLoopback()
	loop.Subscribe(w.Handler())
	pub := broker.NewEventPublisher(loop)

	event := createdEvent(42)
	ctx := context.Background()
	require.NoError(t, pub.PublishOrderCreated(ctx, event))
	require.NoError(t, pub.PublishOrderCreated(ctx, event))

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"ana@example.com"}, mailer.sent[0].To)
	assert.Contains(t, mailer.sent[0].Subject, "#42")
}

func TestNotificationWorkerCancellation(t *testing.T) {
	mailer := &fakeMailer{}
	w := NewNotificationWorker(nil, mailer, store.NewMemoryStore(), "admin@example.com")
	ctx := context.Background()

	err := w.handleOrderCancelled(ctx, &models.OrderCancelledEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeOrderCancelled),
		OrderID:       9,
		CustomerEmail: "ana@example.com",
		TotalAmount:   1500,
	})
	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"admin@example.com"}, mailer.sent[0].To)

	silent := NewNotificationWorker(nil, mailer, store.NewMemoryStore(), "")
	err = silent.handleOrderCancelled(ctx, &models.OrderCancelledEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderCancelled),
		OrderID:   10,
	})
	require.NoError(t, err)
	assert.Len(t, mailer.sent, 1)
}

func TestNotificationWorkerRetriesFailedSend(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("smtp down")}
	events := store.NewMemoryStore()
	w := NewNotificationWorker(nil, mailer, events, "")
	ctx := context.Background()
	event := createdEvent(5)

	require.Error(t, w.handleOrderCreated(ctx, event))
	done, err := events.IsEventProcessed(ctx, "notification:"+event.EventID)
	require.NoError(t, err)
	assert.False(t, done)

	mailer.err = nil
	require.NoError(t, w.handleOrderCreated(ctx, event))
	assert.Len(t, mailer.sent, 1)
}

func TestCommissionWorker(t *testing.T) {
	recorder := &fakeRecorder{}
	w := NewCommissionWorker(nil, recorder, store.NewMemoryStore())

	loop := broker.NewLoopback()
	loop.Subscribe(w.Handler())
	pub := broker.NewEventPublisher(loop)
	ctx := context.Background()

	paid := &models.OrderPaidEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderPaid),
		OrderID:     77,
		TotalAmount: 12345,
		Source:      "stripe",
	}
	require.NoError(t, pub.PublishOrderPaid(ctx, paid))
	require.NoError(t, pub.PublishOrderPaid(ctx, paid))
	require.NoError(t, pub.PublishOrderCreated(ctx, createdEvent(78)))

	assert.Equal(t, []int64{77}, recorder.orders)
}

func TestWorkersShareEventLogWithoutClashing(t *testing.T) {
	events := store.NewMemoryStore()
	mailer := &fakeMailer{}
	recorder := &fakeRecorder{}
	notifications := NewNotificationWorker(nil, mailer, events, "")
	commissions := NewCommissionWorker(nil, recorder, events)

	base := models.NewBaseEvent(models.EventTypeOrderPaid)
	ctx := context.Background()
	require.NoError(t, once(ctx, events, "notification", base, func() error { return nil }))
	require.NoError(t, commissions.handleOrderPaid(ctx, &models.OrderPaidEvent{BaseEvent: base, OrderID: 3}))

	assert.Equal(t, []int64{3}, recorder.orders)
	assert.NoError(t, notifications.Start(ctx))
	assert.NoError(t, commissions.Stop())
}
