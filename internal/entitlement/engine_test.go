package entitlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Royal-Captain/ai-telegram-bot/internal/models"
	"github.com/Royal-Captain/ai-telegram-bot/internal/storage"
)

var (
	testPrices = map[string]Price{
		OneMonth:     {Base: 10, Discount: 0},
		ThreeMonths:  {Base: 25, Discount: 15},
		SixMonths:    {Base: 45, Discount: 25},
		TwelveMonths: {Base: 80, Discount: 35},
	}
	normalLimits = models.Limits{
		Tier:                    models.TierNormal,
		MessagesPerConversation: 15,
		ConversationsPerWeek:    20,
		SavedConversations:      5,
	}
	premiumLimits = models.Limits{
		Tier:                    models.TierPremium,
		MessagesPerConversation: models.UnlimitedMessages,
		ConversationsPerWeek:    100,
		SavedConversations:      20,
	}
)

func newTestEngine(t *testing.T) (*Engine, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	engine := NewEngine(store, testPrices, normalLimits, premiumLimits, zap.NewNop())
	return engine, store
}

func addUser(t *testing.T, store *storage.MemoryStorage, id int64) {
	t.Helper()
	require.NoError(t, store.AddUser(context.Background(), &models.User{ID: id}))
}

func TestPromoteSetsExpiry(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	addUser(t, store, 1)

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	require.NoError(t, engine.Promote(ctx, 1, ThreeMonths))

	user, err := store.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, user.Premium)
	require.NotNil(t, user.PremiumExpiry)
	assert.Equal(t, now.Add(90*24*time.Hour), *user.PremiumExpiry)
	assert.True(t, engine.IsActive(ctx, 1))
}

func TestPromoteInvalidDuration(t *testing.T) {
	engine, store := newTestEngine(t)
	addUser(t, store, 1)

	err := engine.Promote(context.Background(), 1, "2_weeks")
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestExtendActiveKeepsRemainder(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	addUser(t, store, 1)

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	expiry := now.Add(10 * 24 * time.Hour)
	require.NoError(t, store.UpdatePremiumStatus(ctx, 1, true, expiry))

	require.NoError(t, engine.Extend(ctx, 1, 7))

	user, err := store.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, expiry.Add(7*24*time.Hour), *user.PremiumExpiry)
}

func TestExtendLapsedStartsFromNow(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	addUser(t, store, 1)

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	// entitlement lapsed a month ago; the dead time must not count
	require.NoError(t, store.UpdatePremiumStatus(ctx, 1, true, now.Add(-30*24*time.Hour)))

	require.NoError(t, engine.Extend(ctx, 1, 7))

	user, err := store.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, now.Add(7*24*time.Hour), *user.PremiumExpiry)
}

func TestIsActiveExpiryBoundary(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	addUser(t, store, 1)

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	// expiry exactly at now is not active: strictly-after semantics
	require.NoError(t, store.UpdatePremiumStatus(ctx, 1, true, now))
	assert.False(t, engine.IsActive(ctx, 1))

	require.NoError(t, store.UpdatePremiumStatus(ctx, 1, true, now.Add(time.Second)))
	assert.True(t, engine.IsActive(ctx, 1))
}

func TestLimitsForResolvesTier(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	addUser(t, store, 1)

	assert.Equal(t, normalLimits, engine.LimitsFor(ctx, 1))

	require.NoError(t, engine.Promote(ctx, 1, OneMonth))
	assert.Equal(t, premiumLimits, engine.LimitsFor(ctx, 1))

	// unknown users fall back to normal limits
	assert.Equal(t, normalLimits, engine.LimitsFor(ctx, 999))
}

func TestPriceForAppliesDiscount(t *testing.T) {
	engine, _ := newTestEngine(t)

	price, err := engine.PriceFor(ThreeMonths)
	require.NoError(t, err)
	assert.InDelta(t, 21.25, price, 1e-9)

	_, err = engine.PriceFor("forever")
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestSetDiscountClamps(t *testing.T) {
	engine, _ := newTestEngine(t)

	require.NoError(t, engine.SetDiscount(OneMonth, 150))
	price, err := engine.PriceFor(OneMonth)
	require.NoError(t, err)
	assert.Equal(t, 0.0, price)

	require.NoError(t, engine.SetDiscount(OneMonth, -10))
	price, err = engine.PriceFor(OneMonth)
	require.NoError(t, err)
	assert.Equal(t, 10.0, price)

	assert.ErrorIs(t, engine.SetDiscount("forever", 50), ErrInvalidDuration)
}

func TestCreditReferralExactThresholds(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	addUser(t, store, 1)

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	// referrals 1..6: rewards fire at counts 1 and 5 only (3 + 7 days)
	for referred := int64(100); referred < 106; referred++ {
		require.NoError(t, engine.CreditReferral(ctx, 1, referred))
	}

	user, err := store.GetUser(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, user.PremiumExpiry)
	assert.Equal(t, now.Add(10*24*time.Hour), *user.PremiumExpiry)
}

func TestCreditReferralDuplicate(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	addUser(t, store, 1)
	addUser(t, store, 2)

	require.NoError(t, engine.CreditReferral(ctx, 1, 100))
	assert.ErrorIs(t, engine.CreditReferral(ctx, 1, 100), ErrDuplicateReferral)
	// a different referrer cannot claim the same referred user either
	assert.ErrorIs(t, engine.CreditReferral(ctx, 2, 100), ErrDuplicateReferral)

	count, err := store.GetReferralCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
