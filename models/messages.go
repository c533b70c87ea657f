package models

import "time"

// Message is immutable except for ReadAt and IsDelivered, which only ever go
// from unset to set.
type Message struct {
	ConversationID string     `dynamodbav:"conversationId" json:"conversationId"`
	MessageID      string     `dynamodbav:"messageId" json:"id"`
	FromUserID     string     `dynamodbav:"fromUserId" json:"fromUserId"`
	ToUserID       string     `dynamodbav:"toUserId" json:"toUserId"`
	Text           string     `dynamodbav:"text" json:"text"`
	Type           string     `dynamodbav:"type" json:"type"` // text, voice, image
	CreatedAt      time.Time  `dynamodbav:"createdAt" json:"createdAt"`
	CreatedAtKey   string     `dynamodbav:"createdAtKey,omitempty" json:"-"` // fixed-width createdAt, the LSI range key
	ReadAt         *time.Time `dynamodbav:"readAt,omitempty" json:"readAt,omitempty"`
	IsDelivered    bool       `dynamodbav:"isDelivered" json:"isDelivered"`
}

// MessagesTable is the DynamoDB table name for user messages
const MessagesTable = "Message"

// ✅ LSI on createdAtKey so a conversation can be read in order
const MessageCreatedAtIndex = "createdAtKey-index"
