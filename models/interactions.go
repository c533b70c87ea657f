package models

import "time"

// Interest is one directed edge "from is interested in to". The ordered pair
// (FromUserID, ToUserID) is the natural key.
type Interest struct {
	PK         string    `dynamodbav:"PK" json:"-"` // ✅ Partition Key: "USER#from"
	SK         string    `dynamodbav:"SK" json:"-"` // ✅ Sort Key: "INTEREST#to"
	FromUserID string    `dynamodbav:"fromUserId" json:"fromUserId"`
	ToUserID   string    `dynamodbav:"toUserId" json:"toUserId"` // ✅ Used in GSI
	Status     string    `dynamodbav:"status" json:"status"`
	MatchID    *string   `dynamodbav:"matchId,omitempty" json:"matchId,omitempty"`
	CreatedAt  time.Time `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time `dynamodbav:"updatedAt" json:"updatedAt"`
}

// InterestTransition is one append-only audit record of an edge changing status.
// FromStatus is empty when the edge was (re)created.
type InterestTransition struct {
	PK         string    `dynamodbav:"PK" json:"-"` // "USER#from"
	SK         string    `dynamodbav:"SK" json:"-"` // "HISTORY#to#<at>#<id>"
	FromUserID string    `dynamodbav:"fromUserId" json:"fromUserId"`
	ToUserID   string    `dynamodbav:"toUserId" json:"toUserId"`
	FromStatus string    `dynamodbav:"fromStatus,omitempty" json:"fromStatus,omitempty"`
	ToStatus   string    `dynamodbav:"toStatus" json:"toStatus"`
	Actor      string    `dynamodbav:"actor" json:"actor"` // user, system
	At         time.Time `dynamodbav:"at" json:"at"`
}

// InterestKey builds the DynamoDB key pair for an edge.
func InterestKey(from, to string) (pk, sk string) {
	return "USER#" + from, "INTEREST#" + to
}

// ✅ Define table name
const InterestsTable = "Interests"

// ✅ GSI for querying interests where the user is the receiver
const ToUserIndex = "toUserId-index" // PK: toUserId
