package storage

import (
	"context"
	"sync"
	"time"

	"github.com/Royal-Captain/ai-telegram-bot/internal/models"
)

// MemoryStorage keeps everything in process memory. It backs tests and the
// use_in_memory configuration mode.
type MemoryStorage struct {
	mu            sync.RWMutex
	users         map[int64]*models.User
	conversations map[int64][]*models.Conversation
	referrers     map[int64]int64 // referred id -> referrer id
	referrals     map[int64][]int64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:         make(map[int64]*models.User),
		conversations: make(map[int64][]*models.Conversation),
		referrers:     make(map[int64]int64),
		referrals:     make(map[int64][]int64),
	}
}

func (s *MemoryStorage) UserExists(ctx context.Context, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.users[id]
	return exists, nil
}

// cloneUser copies a user including the settings map and expiry pointer, so
// neither side of the store boundary can write through to the other.
func cloneUser(user *models.User) *models.User {
	copied := *user
	if user.PremiumExpiry != nil {
		expiry := *user.PremiumExpiry
		copied.PremiumExpiry = &expiry
	}
	if user.Settings != nil {
		copied.Settings = make(map[string]string, len(user.Settings))
		for k, v := range user.Settings {
			copied.Settings[k] = v
		}
	}
	return &copied
}

func (s *MemoryStorage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneUser(user), nil
}

func (s *MemoryStorage) AddUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := cloneUser(user)
	if copied.JoinedAt.IsZero() {
		copied.JoinedAt = time.Now()
	}
	s.users[user.ID] = copied
	return nil
}

func (s *MemoryStorage) UpdateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; !exists {
		return ErrNotFound
	}
	copied := cloneUser(user)
	copied.LastActivity = time.Now()
	s.users[user.ID] = copied
	return nil
}

func (s *MemoryStorage) DeleteUser(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[id]; !exists {
		return ErrNotFound
	}
	delete(s.users, id)
	delete(s.conversations, id)
	return nil
}

func (s *MemoryStorage) UpdatePremiumStatus(ctx context.Context, id int64, premium bool, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[id]
	if !exists {
		return ErrNotFound
	}
	user.Premium = premium
	if premium {
		user.PremiumExpiry = &expiry
	} else {
		user.PremiumExpiry = nil
	}
	return nil
}

func (s *MemoryStorage) UpdateBanStatus(ctx context.Context, id int64, banned bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[id]
	if !exists {
		return ErrNotFound
	}
	user.Banned = banned
	user.BanReason = reason
	return nil
}

func (s *MemoryStorage) RecordActivity(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[id]
	if !exists {
		return ErrNotFound
	}
	user.MessageCount++
	user.LastActivity = time.Now()
	return nil
}

func (s *MemoryStorage) SaveConversation(ctx context.Context, id int64, title string, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *conv
	copied.UserID = id
	copied.Title = title
	copied.SavedAt = time.Now()
	copied.Turns = append([]models.Turn(nil), conv.Turns...)
	s.conversations[id] = append(s.conversations[id], &copied)
	return nil
}

func (s *MemoryStorage) GetConversations(ctx context.Context, id int64, limit int) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	saved := s.conversations[id]
	// newest first
	result := make([]*models.Conversation, 0, len(saved))
	for i := len(saved) - 1; i >= 0; i-- {
		result = append(result, saved[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStorage) PruneConversations(ctx context.Context, id int64, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.conversations[id]
	if keep <= 0 || len(saved) <= keep {
		return nil
	}
	// drop the oldest entries, keep the tail
	s.conversations[id] = append([]*models.Conversation(nil), saved[len(saved)-keep:]...)
	return nil
}

func (s *MemoryStorage) GetReferralCount(ctx context.Context, id int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.referrals[id]), nil
}

func (s *MemoryStorage) AddReferral(ctx context.Context, referrerID, referredID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.referrers[referredID]; exists {
		return ErrDuplicateReferral
	}
	s.referrers[referredID] = referrerID
	s.referrals[referrerID] = append(s.referrals[referrerID], referredID)
	if user, exists := s.users[referrerID]; exists {
		user.ReferralCount = len(s.referrals[referrerID])
	}
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
