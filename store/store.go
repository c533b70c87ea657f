// Package store holds the persistence contracts for interests, matches and
// messages, and their DynamoDB, Postgres and in-memory implementations.
package store

import (
	"context"
	"errors"
	"time"

	"vibin_realtime/models"
)

var (
	// ErrNotFound is returned when a keyed lookup finds nothing.
	ErrNotFound = errors.New("item not found")
	// ErrConditionFailed is returned when a conditional write loses to a concurrent writer.
	ErrConditionFailed = errors.New("conditional write failed")
)

// InterestStore persists interest edges and their audit trail.
type InterestStore interface {
	GetInterest(ctx context.Context, from, to string) (*models.Interest, error)
	// PutInterest writes the edge only if the stored edge currently has
	// expectedStatus, or does not exist when expectedStatus is empty.
	PutInterest(ctx context.Context, interest models.Interest, expectedStatus string) error
	ListOutgoing(ctx context.Context, from string) ([]models.Interest, error)
	ListIncoming(ctx context.Context, to string) ([]models.Interest, error)
	AppendTransition(ctx context.Context, transition models.InterestTransition) error
	ListTransitions(ctx context.Context, from, to string) ([]models.InterestTransition, error)
}

// MatchStore persists matches.
type MatchStore interface {
	// CreateMatchIfAbsent atomically inserts match unless a match with the same
	// id exists. It returns the stored match and whether this call created it.
	CreateMatchIfAbsent(ctx context.Context, match models.Match) (*models.Match, bool, error)
	GetMatch(ctx context.Context, matchID string) (*models.Match, error)
	GetMatchByConversation(ctx context.Context, conversationID string) (*models.Match, error)
	ListMatches(ctx context.Context, userID string) ([]models.Match, error)
}

// MessageStore persists conversation messages.
type MessageStore interface {
	SaveMessage(ctx context.Context, message models.Message) error
	// ListMessages returns up to limit of the most recent messages, oldest first.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	GetMessage(ctx context.Context, conversationID, messageID string) (*models.Message, error)
	// MarkDelivered sets isDelivered if unset and returns the stored message.
	MarkDelivered(ctx context.Context, conversationID, messageID string) (*models.Message, error)
	// MarkRead sets readAt if unset and returns the stored message.
	MarkRead(ctx context.Context, conversationID, messageID string, at time.Time) (*models.Message, error)
	// MarkConversationRead sets readAt on every unread message addressed to
	// userID and returns the messages it changed.
	MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) ([]models.Message, error)
}

// Store is everything the services need.
type Store interface {
	InterestStore
	MatchStore
	MessageStore
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*DynamoStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
