package models

import "time"

// Match is the canonical record that two users are matched. ID and
// ConversationID are derived from the sorted pair, and UserAID < UserBID.
type Match struct {
	PK             string    `dynamodbav:"PK" json:"-"` // "MATCH#<id>"
	MatchID        string    `dynamodbav:"matchId" json:"id"`
	UserAID        string    `dynamodbav:"userAId" json:"userAId"`
	UserBID        string    `dynamodbav:"userBId" json:"userBId"`
	Status         string    `dynamodbav:"status" json:"status"` // matched
	ConversationID string    `dynamodbav:"conversationId" json:"conversationId"`
	CreatedAt      time.Time `dynamodbav:"createdAt" json:"createdAt"`
}

// Includes reports whether userID is one of the two matched users.
func (m *Match) Includes(userID string) bool {
	return m.UserAID == userID || m.UserBID == userID
}

// Other returns the counterpart of userID.
func (m *Match) Other(userID string) string {
	if m.UserAID == userID {
		return m.UserBID
	}
	return m.UserAID
}

// MatchesTable is the DynamoDB table name for user matches
const MatchesTable = "Matches"

// ✅ GSIs used for match lookups
const (
	MatchUserAIndex        = "userAId-index"
	MatchUserBIndex        = "userBId-index"
	MatchConversationIndex = "conversationId-index"
)
