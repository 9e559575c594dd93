package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Royal-Captain/ai-telegram-bot/internal/models"
)

var (
	// ErrNotFound is returned when an operation targets a user that does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicateReferral is returned when the referred user is already linked
	// to a referrer.
	ErrDuplicateReferral = errors.New("storage: referral already credited")
)

// Storage is the durable gateway for users, saved conversations and referrals.
type Storage interface {
	UserExists(ctx context.Context, id int64) (bool, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	AddUser(ctx context.Context, user *models.User) error
	UpdateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, id int64) error
	UpdatePremiumStatus(ctx context.Context, id int64, premium bool, expiry time.Time) error
	UpdateBanStatus(ctx context.Context, id int64, banned bool, reason string) error
	RecordActivity(ctx context.Context, id int64) error

	SaveConversation(ctx context.Context, id int64, title string, conv *models.Conversation) error
	GetConversations(ctx context.Context, id int64, limit int) ([]*models.Conversation, error)
	PruneConversations(ctx context.Context, id int64, keep int) error

	GetReferralCount(ctx context.Context, id int64) (int, error)
	AddReferral(ctx context.Context, referrerID, referredID int64) error

	Close() error
}
