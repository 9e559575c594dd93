package entitlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Royal-Captain/ai-telegram-bot/internal/models"
	"github.com/Royal-Captain/ai-telegram-bot/internal/storage"
)

var (
	// ErrInvalidDuration is returned for an unrecognized subscription duration code.
	ErrInvalidDuration = errors.New("entitlement: invalid duration code")
	// ErrDuplicateReferral is returned when the referred user was already
	// credited to a referrer.
	ErrDuplicateReferral = errors.New("entitlement: referral already credited")
)

// Duration codes accepted by Promote, PriceFor and SetDiscount.
const (
	OneMonth     = "1_month"
	ThreeMonths  = "3_months"
	SixMonths    = "6_months"
	TwelveMonths = "12_months"
)

var durationMonths = map[string]int{
	OneMonth:     1,
	ThreeMonths:  3,
	SixMonths:    6,
	TwelveMonths: 12,
}

// Price is one entry of the shared pricing table.
type Price struct {
	Base     float64
	Discount float64 // percent, clamped to [0,100]
}

// Engine owns subscription state transitions, the pricing table and referral
// crediting. Durable reads and writes go through the storage gateway.
type Engine struct {
	store  storage.Storage
	logger *zap.Logger

	mu     sync.Mutex // guards prices
	prices map[string]Price

	// referral count -> reward in premium days, granted on exact match only
	rewards map[int]int

	normalLimits  models.Limits
	premiumLimits models.Limits

	now func() time.Time
}

func NewEngine(store storage.Storage, prices map[string]Price, normal, premium models.Limits, logger *zap.Logger) *Engine {
	table := make(map[string]Price, len(prices))
	for code, price := range prices {
		table[code] = price
	}
	return &Engine{
		store:  store,
		logger: logger,
		prices: table,
		rewards: map[int]int{
			1:  3,
			5:  7,
			10: 15,
			25: 30,
		},
		normalLimits:  normal,
		premiumLimits: premium,
		now:           time.Now,
	}
}

// IsActive reports whether the user's premium entitlement is active right now.
// Unknown users are not active.
func (e *Engine) IsActive(ctx context.Context, userID int64) bool {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.logger.Error("Premium status check failed",
				zap.Error(err), zap.Int64("user_id", userID))
		}
		return false
	}
	return user.PremiumActive(e.now())
}

// IsBanned is the overriding gate checked by the transport layer before it
// drives the core for a user.
func (e *Engine) IsBanned(ctx context.Context, userID int64) bool {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return false
	}
	return user.Banned
}

// LimitsFor resolves the user's tier and returns the matching limits record.
func (e *Engine) LimitsFor(ctx context.Context, userID int64) models.Limits {
	if e.IsActive(ctx, userID) {
		return e.premiumLimits
	}
	return e.normalLimits
}

// Promote grants premium for the given duration code starting now. Durations
// are approximated as 30 days per month.
func (e *Engine) Promote(ctx context.Context, userID int64, durationCode string) error {
	months, ok := durationMonths[durationCode]
	if !ok {
		return ErrInvalidDuration
	}

	expiry := e.now().Add(time.Duration(30*months) * 24 * time.Hour)
	if err := e.store.UpdatePremiumStatus(ctx, userID, true, expiry); err != nil {
		e.logger.Error("Premium promotion failed",
			zap.Error(err), zap.Int64("user_id", userID), zap.String("duration", durationCode))
		return fmt.Errorf("promoting user %d: %w", userID, err)
	}
	e.logger.Info("User promoted to premium",
		zap.Int64("user_id", userID),
		zap.String("duration", durationCode),
		zap.Time("expiry", expiry))
	return nil
}

// Extend adds days to the user's entitlement. A lapsed entitlement restarts
// from now rather than stacking onto the expired date; an active one keeps its
// unused remainder.
func (e *Engine) Extend(ctx context.Context, userID int64, days int) error {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("extending premium for user %d: %w", userID, err)
	}

	now := e.now()
	baseline := now
	if user.PremiumActive(now) {
		baseline = *user.PremiumExpiry
	}
	expiry := baseline.Add(time.Duration(days) * 24 * time.Hour)

	if err := e.store.UpdatePremiumStatus(ctx, userID, true, expiry); err != nil {
		e.logger.Error("Premium extension failed",
			zap.Error(err), zap.Int64("user_id", userID), zap.Int("days", days))
		return fmt.Errorf("extending premium for user %d: %w", userID, err)
	}
	e.logger.Info("Premium extended",
		zap.Int64("user_id", userID),
		zap.Int("days", days),
		zap.Time("expiry", expiry))
	return nil
}

// SetDiscount updates the shared pricing table entry for a duration code.
// The percentage is clamped to [0,100].
func (e *Engine) SetDiscount(durationCode string, percent float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	price, ok := e.prices[durationCode]
	if !ok {
		return ErrInvalidDuration
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	price.Discount = percent
	e.prices[durationCode] = price
	e.logger.Info("Discount updated",
		zap.String("duration", durationCode), zap.Float64("percent", percent))
	return nil
}

// PriceFor returns the discounted price for a duration code.
func (e *Engine) PriceFor(durationCode string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price, ok := e.prices[durationCode]
	if !ok {
		return 0, ErrInvalidDuration
	}
	return price.Base * (1 - price.Discount/100), nil
}

// CreditReferral links referredID to referrerID and grants a premium reward
// when the referrer's post-increment count lands exactly on a threshold.
// Crediting the same referred user twice fails, whoever the referrer is.
func (e *Engine) CreditReferral(ctx context.Context, referrerID, referredID int64) error {
	if err := e.store.AddReferral(ctx, referrerID, referredID); err != nil {
		if errors.Is(err, storage.ErrDuplicateReferral) {
			return ErrDuplicateReferral
		}
		return fmt.Errorf("crediting referral: %w", err)
	}

	count, err := e.store.GetReferralCount(ctx, referrerID)
	if err != nil {
		e.logger.Error("Referral count lookup failed",
			zap.Error(err), zap.Int64("user_id", referrerID))
		return fmt.Errorf("crediting referral: %w", err)
	}

	// rewards fire only when the count equals a threshold exactly
	days, ok := e.rewards[count]
	if !ok {
		return nil
	}
	if err := e.Extend(ctx, referrerID, days); err != nil {
		return err
	}
	e.logger.Info("Referral reward granted",
		zap.Int64("user_id", referrerID),
		zap.Int("referrals", count),
		zap.Int("reward_days", days))
	return nil
}

// RewardFor returns the premium days granted at the given referral count, if
// that count is a reward threshold.
func (e *Engine) RewardFor(count int) (int, bool) {
	days, ok := e.rewards[count]
	return days, ok
}
