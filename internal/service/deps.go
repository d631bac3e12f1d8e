package service

import (
	"context"
	"sync"
	"time"

	"isla-market/internal/models"
	"isla-market/internal/util"

	"go.uber.org/zap"
)

// Locker hands out short-lived named locks
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// IdempotencyStore remembers the result of a keyed request
type IdempotencyStore interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// EventPublisher publishes order domain events
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
}

// LocalLocker is a process-local Locker for memory mode and tests
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

// NewLocalLocker creates an empty LocalLocker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]time.Time)}
}

// AcquireLock takes lockKey unless another holder's ttl has not yet lapsed
func (l *LocalLocker) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if until, held := l.locks[lockKey]; held && now.Before(until) {
		return false, nil
	}
	l.locks[lockKey] = now.Add(ttl)
	return true, nil
}

// ReleaseLock frees lockKey
func (l *LocalLocker) ReleaseLock(ctx context.Context, lockKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, lockKey)
	return nil
}

// publishAsync hands an event to the publisher without blocking the caller.
// Failures are logged; they never affect the request.
func publishAsync(what string, publish func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := publish(ctx); err != nil {
			util.GetLogger().Warn("Failed to publish event", zap.String("event", what), zap.Error(err))
		}
	}()
}
