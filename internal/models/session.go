package models

import "time"

// Role identifies who produced a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one message in a session window
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationSummary describes a session window
type ConversationSummary struct {
	SessionID         string   `json:"session_id"`
	MessageCount      int      `json:"message_count"`
	UserMessages      int      `json:"user_messages"`
	AssistantMessages int      `json:"assistant_messages"`
	RecentTopics      []string `json:"recent_topics"`
}

// SessionStore defines conversation state access
type SessionStore interface {
	Append(sessionID string, turn ConversationTurn)
	Turns(sessionID string) []ConversationTurn
	Recent(sessionID string, n int) []ConversationTurn
	Reset(sessionID string)
	Summary(sessionID string, topics func(string) []string) ConversationSummary
}
