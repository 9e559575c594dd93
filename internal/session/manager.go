package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Royal-Captain/ai-telegram-bot/internal/models"
	"github.com/Royal-Captain/ai-telegram-bot/internal/storage"
)

var (
	// ErrRateLimited signals that the sliding-window ceiling was hit.
	ErrRateLimited = errors.New("session: rate limited")
	// ErrQuotaExceeded signals that a tier limit (messages per conversation or
	// conversations per week) was reached.
	ErrQuotaExceeded = errors.New("session: quota exceeded")
	// ErrMessageQuota is the per-conversation message limit; wraps ErrQuotaExceeded.
	ErrMessageQuota = fmt.Errorf("%w: message limit per conversation", ErrQuotaExceeded)
	// ErrWeeklyQuota is the rolling-week conversation limit; wraps ErrQuotaExceeded.
	ErrWeeklyQuota = fmt.Errorf("%w: conversation limit per week", ErrQuotaExceeded)
	// ErrNoActiveSession signals an operation that requires an active session.
	ErrNoActiveSession = errors.New("session: no active session")
	// ErrPendingSave signals that a session is already active and the user
	// must save or discard it first.
	ErrPendingSave = errors.New("session: active session pending save")
)

// LimitsProvider resolves the tier limits applying to a user.
type LimitsProvider interface {
	LimitsFor(ctx context.Context, userID int64) models.Limits
}

type Config struct {
	// RateCeiling is the maximum number of accepted actions per window (default 60).
	RateCeiling int
	// RateWindow is the trailing interval of the rate limiter (default 1m).
	RateWindow time.Duration
}

// Manager owns the in-memory lifecycle of each user's active conversation and
// the per-user rate limiter. Events for the same user are serialized by a
// per-user mutex; different users proceed in parallel.
type Manager struct {
	store   storage.Storage
	limits  LimitsProvider
	rate    *SlidingWindow
	weekly  *SlidingWindow
	ceiling int
	logger  *zap.Logger

	// onPendingSave notifies the transport that the user must choose to save
	// or discard their active session. The transport renders the choice.
	onPendingSave func(userID int64)

	mu       sync.Mutex
	sessions map[int64]*models.Conversation
	locks    map[int64]*sync.Mutex
}

func NewManager(store storage.Storage, limits LimitsProvider, cfg Config, logger *zap.Logger) *Manager {
	if cfg.RateCeiling <= 0 {
		cfg.RateCeiling = 60
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	return &Manager{
		store:    store,
		limits:   limits,
		rate:     NewSlidingWindow(cfg.RateWindow),
		weekly:   NewSlidingWindow(7 * 24 * time.Hour),
		ceiling:  cfg.RateCeiling,
		logger:   logger,
		sessions: make(map[int64]*models.Conversation),
		locks:    make(map[int64]*sync.Mutex),
	}
}

// SetPendingSaveHook installs the transport notification for the save-or-
// discard prompt.
func (m *Manager) SetPendingSaveHook(fn func(userID int64)) {
	m.onPendingSave = fn
}

// userLock returns the mutex serializing all session mutation for one user.
func (m *Manager) userLock(userID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[userID] = lock
	}
	return lock
}

// CheckRateLimit records the action when it fits under the ceiling and
// reports whether it was allowed.
func (m *Manager) CheckRateLimit(userID int64, now time.Time) bool {
	return m.rate.Allow(userID, m.ceiling, now)
}

// StartSession creates a fresh conversation for the user. When one is already
// active the pending-save hook fires and ErrPendingSave is returned: the
// existing session is never silently overwritten. The tier's weekly session
// quota is enforced.
func (m *Manager) StartSession(ctx context.Context, userID int64, now time.Time) (*models.Conversation, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	return m.startLocked(ctx, userID, now)
}

func (m *Manager) startLocked(ctx context.Context, userID int64, now time.Time) (*models.Conversation, error) {
	if m.active(userID) != nil {
		m.promptSaveOrDiscard(userID)
		return nil, ErrPendingSave
	}

	limits := m.limits.LimitsFor(ctx, userID)
	if !m.weekly.Allow(userID, limits.ConversationsPerWeek, now) {
		return nil, fmt.Errorf("%w (%d)", ErrWeeklyQuota, limits.ConversationsPerWeek)
	}

	conv := &models.Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		StartedAt: now,
	}
	m.mu.Lock()
	m.sessions[userID] = conv
	m.mu.Unlock()

	m.logger.Debug("Session started",
		zap.Int64("user_id", userID), zap.String("conversation_id", conv.ID))
	return conv, nil
}

// AppendTurn adds a turn to the user's active session, enforcing the tier's
// per-conversation message limit.
func (m *Manager) AppendTurn(ctx context.Context, userID int64, role models.Role, text string, now time.Time) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	return m.appendLocked(ctx, userID, role, text, now)
}

func (m *Manager) appendLocked(ctx context.Context, userID int64, role models.Role, text string, now time.Time) error {
	conv := m.active(userID)
	if conv == nil {
		return ErrNoActiveSession
	}

	// the per-conversation cap meters user messages; assistant turns ride along
	if role == models.RoleUser {
		limits := m.limits.LimitsFor(ctx, userID)
		if !limits.AllowsMessage(conv.MessageCount) {
			return fmt.Errorf("%w (%d)", ErrMessageQuota, limits.MessagesPerConversation)
		}
		conv.MessageCount++
	}

	conv.Turns = append(conv.Turns, models.Turn{Role: role, Text: text, Timestamp: now})
	return nil
}

/// HandleIncoming is the entry point for user-triggered activity: rate check,
// session creation on demand, then turn append. The returned error is nil for
// accepted turns, ErrRateLimited or ErrQuotaExceeded otherwise.
func (m *Manager) HandleIncoming(ctx context.Context, userID int64, text string, now time.Time) error {
	if !m.CheckRateLimit(userID, now) {
		return ErrRateLimited
	}

	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if m.active(userID) == nil {
		if _, err := m.startLocked(ctx, userID, now); err != nil {
			return err
		}
	}
	if err := m.appendLocked(ctx, userID, models.RoleUser, text, now); err != nil {
		return err
	}

	// usage tracking rides along with the accepted turn; unregistered users
	// simply have nothing to update yet
	if err := m.store.RecordActivity(ctx, userID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.logger.Error("Failed to record user activity",
			zap.Error(err), zap.Int64("user_id", userID))
	}
	return nil
}

// SaveSession persists the active session under the given title (or a
// generated one) and clears it. The session stays active when persistence
/// fails: no partial state. Saved history beyond the tier's retention limit is
// pruned oldest-first.
func (m *Manager) SaveSession(ctx context.Context, userID int64, title string) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	conv := m.active(userID)
	if conv == nil {
		return ErrNoActiveSession
	}

	if title == "" {
		title = "Chat " + time.Now().Format("2006-01-02 15:04")
	}
	if err := m.store.SaveConversation(ctx, userID, title, conv); err != nil {
		m.logger.Error("Failed to save conversation",
			zap.Error(err),
			zap.Int64("user_id", userID),
			zap.String("conversation_id", conv.ID))
		return fmt.Errorf("saving conversation: %w", err)
	}

	limits := m.limits.LimitsFor(ctx, userID)
	if err := m.store.PruneConversations(ctx, userID, limits.SavedConversations); err != nil {
		m.logger.Error("Failed to prune saved conversations",
			zap.Error(err), zap.Int64("user_id", userID))
	}

	m.clear(userID)
	m.logger.Info("Conversation saved",
		zap.Int64("user_id", userID),
		zap.String("title", title),
		zap.Int("messages", conv.MessageCount))
	return nil
}

// DiscardSession clears the active session without persistence and reports
// whether one existed.
func (m *Manager) DiscardSession(userID int64) bool {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if m.active(userID) == nil {
		return false
	}
	m.clear(userID)
	m.logger.Debug("Conversation discarded", zap.Int64("user_id", userID))
	return true
}

// ActiveSession returns a snapshot of the user's active conversation.
func (m *Manager) ActiveSession(userID int64) (models.Conversation, bool) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	conv := m.active(userID)
	if conv == nil {
		return models.Conversation{}, false
	}
	snapshot := *conv
	snapshot.Turns = append([]models.Turn(nil), conv.Turns...)
	return snapshot, true
}

// promptSaveOrDiscard exposes the save-or-discard need to the transport.
func (m *Manager) promptSaveOrDiscard(userID int64) {
	if m.onPendingSave != nil {
		m.onPendingSave(userID)
	}
}

func (m *Manager) active(userID int64) *models.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[userID]
}

func (m *Manager) clear(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}
