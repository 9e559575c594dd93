package models

// Tier is the derived entitlement level of a user.
type Tier string

const (
	TierNormal  Tier = "normal"
	TierPremium Tier = "premium"
)

// UnlimitedMessages marks a tier with no per-conversation message cap.
const UnlimitedMessages = 0

// Limits holds the usage ceilings attached to a tier.
type Limits struct {
	Tier                    Tier `json:"tier"`
	MessagesPerConversation int  `json:"messages_per_conversation"` // UnlimitedMessages = no cap
	ConversationsPerWeek    int  `json:"conversations_per_week"`
	SavedConversations      int  `json:"saved_conversations"`
}

// AllowsMessage reports whether a conversation holding count messages may
// accept one more under these limits.
func (l Limits) AllowsMessage(count int) bool {
	return l.MessagesPerConversation == UnlimitedMessages || count < l.MessagesPerConversation
}
