package entitlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoPendingPayment is returned when confirming or cancelling a payment for
// a user who has none in flight.
var ErrNoPendingPayment = errors.New("entitlement: no pending payment")

// PendingPayment is a payment a user has initiated but an admin has not yet
// confirmed. Each user carries at most one; starting a new one replaces it.
type PendingPayment struct {
	UserID       int64
	DurationCode string
	Price        float64
	StartedAt    time.Time
}

// PaymentTracker holds in-flight payments until an admin confirms they were
// received out of band.
type PaymentTracker struct {
	engine *Engine
	logger *zap.Logger

	mu      sync.Mutex
	pending map[int64]PendingPayment
}

func NewPaymentTracker(engine *Engine, logger *zap.Logger) *PaymentTracker {
	return &PaymentTracker{
		engine:  engine,
		logger:  logger,
		pending: make(map[int64]PendingPayment),
	}
}

// Begin records a pending payment for the user at the current discounted
// price. An unrecognized duration code is rejected before anything is stored.
func (t *PaymentTracker) Begin(userID int64, durationCode string) (PendingPayment, error) {
	price, err := t.engine.PriceFor(durationCode)
	if err != nil {
		return PendingPayment{}, err
	}

	payment := PendingPayment{
		UserID:       userID,
		DurationCode: durationCode,
		Price:        price,
		StartedAt:    t.engine.now(),
	}

	t.mu.Lock()
	t.pending[userID] = payment
	t.mu.Unlock()

	t.logger.Info("Payment started",
		zap.Int64("user_id", userID),
		zap.String("duration", durationCode),
		zap.Float64("price", price))
	return payment, nil
}

// Pending returns the user's in-flight payment, if any.
func (t *PaymentTracker) Pending(userID int64) (PendingPayment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	payment, ok := t.pending[userID]
	return payment, ok
}

// Confirm promotes the user for the pending payment's duration and clears the
// entry. The entry survives a failed promotion so confirmation can be retried.
func (t *PaymentTracker) Confirm(ctx context.Context, userID int64) (PendingPayment, error) {
	t.mu.Lock()
	payment, ok := t.pending[userID]
	t.mu.Unlock()
	if !ok {
		return PendingPayment{}, ErrNoPendingPayment
	}

	if err := t.engine.Promote(ctx, userID, payment.DurationCode); err != nil {
		return PendingPayment{}, err
	}

	t.mu.Lock()
	delete(t.pending, userID)
	t.mu.Unlock()

	t.logger.Info("Payment confirmed",
		zap.Int64("user_id", userID),
		zap.String("duration", payment.DurationCode))
	return payment, nil
}

// Cancel drops the user's pending payment without granting anything.
func (t *PaymentTracker) Cancel(userID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[userID]; !ok {
		return ErrNoPendingPayment
	}
	delete(t.pending, userID)
	return nil
}
