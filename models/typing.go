package models

import "time"

// TypingStaleAfter is how long a typing indicator survives without a refresh.
const TypingStaleAfter = 60 * time.Second

// TypingIndicator is ephemeral presence for (conversationId, userId).
type TypingIndicator struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	IsTyping       bool      `json:"isTyping"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Stale reports whether the indicator is older than the staleness window.
func (t TypingIndicator) Stale(now time.Time, window time.Duration) bool {
	return now.Sub(t.UpdatedAt) > window
}
