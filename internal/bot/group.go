package bot

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Verdict is the moderation outcome for one group message.
type Verdict int

const (
	VerdictOK Verdict = iota
	VerdictWarn
	VerdictMute
)

const muteDuration = 24 * time.Hour

// Moderator tracks per-user warnings inside group chats and decides when a
// user has earned a mute. It holds no Telegram state, so the decision logic
// is testable without the API.
type Moderator struct {
	logger      *zap.Logger
	keywords    []string
	maxWarnings int

	mu       sync.Mutex
	warnings map[warnKey]int
}

type warnKey struct {
	chatID int64
	userID int64
}

func NewModerator(logger *zap.Logger) *Moderator {
	return &Moderator{
		logger:      logger,
		keywords:    []string{"spam", "abuse", "hate"},
		maxWarnings: 3,
		warnings:    make(map[warnKey]int),
	}
}

// Check inspects one message. A flagged message raises the sender's warning
// count; hitting the limit yields a mute verdict and resets the counter.
// The returned count is the warnings accumulated so far in this chat.
func (m *Moderator) Check(chatID, userID int64, text string) (Verdict, int) {
	if !m.flagged(text) {
		return VerdictOK, m.Warnings(chatID, userID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := warnKey{chatID: chatID, userID: userID}
	m.warnings[key]++
	count := m.warnings[key]
	if count >= m.maxWarnings {
		delete(m.warnings, key)
		return VerdictMute, count
	}
	return VerdictWarn, count
}

// Warnings returns the user's current warning count in a chat.
func (m *Moderator) Warnings(chatID, userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warnings[warnKey{chatID: chatID, userID: userID}]
}

func (m *Moderator) flagged(text string) bool {
	lowered := strings.ToLower(text)
	for _, word := range m.keywords {
		if strings.Contains(lowered, word) {
			return true
		}
	}
	return false
}

// moderateGroupMessage applies the moderator's verdict to a group message:
// a warning notice for flagged content, a timed mute once the limit is hit.
func (b *Bot) moderateGroupMessage(message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID

	verdict, count := b.moderator.Check(chatID, userID, message.Text)
	switch verdict {
	case VerdictWarn:
		b.logger.Warn("Group message flagged",
			zap.Int64("chat_id", chatID),
			zap.Int64("user_id", userID),
			zap.Int("warnings", count))
		b.sendMessage(chatID, fmt.Sprintf("⚠️ %s, please keep it civil. Warning %d of %d.",
			message.From.FirstName, count, b.moderator.maxWarnings))

	case VerdictMute:
		until := time.Now().Add(muteDuration)
		restrict := tgbotapi.RestrictChatMemberConfig{
			ChatMemberConfig: tgbotapi.ChatMemberConfig{
				ChatID: chatID,
				UserID: userID,
			},
			UntilDate:   until.Unix(),
			Permissions: &tgbotapi.ChatPermissions{CanSendMessages: false},
		}
		if _, err := b.api.Request(restrict); err != nil {
			b.logger.Error("Failed to mute user",
				zap.Error(err),
				zap.Int64("chat_id", chatID),
				zap.Int64("user_id", userID))
			return
		}
		b.logger.Warn("User muted in group",
			zap.Int64("chat_id", chatID),
			zap.Int64("user_id", userID),
			zap.Time("until", until))
		b.sendMessage(chatID, fmt.Sprintf("🔇 %s has been muted for 24 hours after repeated warnings.",
			message.From.FirstName))
	}
}
