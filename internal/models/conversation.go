package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message inside a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is one dialogue for a single user. While active it lives only
// in the session manager; on save it is persisted under a title.
type Conversation struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"user_id"`
	Title        string    `json:"title,omitempty"`
	Turns        []Turn    `json:"turns"`
	StartedAt    time.Time `json:"started_at"`
	MessageCount int       `json:"message_count"`
	SavedAt      time.Time `json:"saved_at,omitempty"`
}
