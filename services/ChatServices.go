package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vibin_realtime/models"
	"vibin_realtime/store"
)

const maxMessageLength = 4000

// ChatService is the durable message store: every message, delivery and read
// receipt goes through it before it is fanned out.
type ChatService struct {
	Store   store.MessageStore
	Matches *MatchService
	Now     func() time.Time
}

func NewChatService(s store.MessageStore, matches *MatchService) *ChatService {
	return &ChatService{Store: s, Matches: matches, Now: time.Now}
}

// SendMessage validates and stores a new message from sender. The recipient is
// the other side of the conversation's match.
func (s *ChatService) SendMessage(ctx context.Context, sender string, payload models.SendMessagePayload) (*models.Message, error) {
	text := strings.TrimSpace(payload.Text)
	if text == "" || len(text) > maxMessageLength {
		return nil, fmt.Errorf("%w: text must be 1-%d characters", ErrInvalidMessage, maxMessageLength)
	}
	messageType := payload.Type
	if messageType == "" {
		messageType = models.MessageTypeText
	}
	if !models.ValidMessageType(messageType) {
		return nil, fmt.Errorf("%w: unsupported type %q", ErrInvalidMessage, messageType)
	}

	match, err := s.Matches.ParticipantOf(ctx, payload.ConversationID, sender)
	if err != nil {
		return nil, err
	}
	recipient := match.Other(sender)
	if payload.ToUserID != "" && payload.ToUserID != recipient {
		return nil, fmt.Errorf("%w: %s is not the other participant", ErrInvalidMessage, payload.ToUserID)
	}

	message := models.Message{
		ConversationID: payload.ConversationID,
		MessageID:      uuid.New().String(),
		FromUserID:     sender,
		ToUserID:       recipient,
		Text:           text,
		Type:           messageType,
		CreatedAt:      s.now(),
	}
	if err := s.Store.SaveMessage(ctx, message); err != nil {
		zap.S().Errorf("❌ Failed to store message: %v", err)
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	zap.S().Debugf("📩 Stored message %s in conversation %s", message.MessageID, message.ConversationID)
	return &message, nil
}

// GetMessages fetches the latest messages of a conversation, oldest first.
func (s *ChatService) GetMessages(ctx context.Context, conversationID, userID string, limit int) ([]models.Message, error) {
	if _, err := s.Matches.ParticipantOf(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	messages, err := s.Store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, nil
}

// MarkDelivered records that the message reached its recipient.
func (s *ChatService) MarkDelivered(ctx context.Context, conversationID, messageID string) (*models.Message, error) {
	message, err := s.Store.MarkDelivered(ctx, conversationID, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark delivered: %w", err)
	}
	return message, nil
}

// MarkMessageRead records the recipient reading one message. An existing
// receipt is kept as it is.
func (s *ChatService) MarkMessageRead(ctx context.Context, conversationID, messageID, userID string) (*models.Message, error) {
	message, err := s.Store.GetMessage(ctx, conversationID, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	if message.ToUserID != userID {
		return nil, ErrNotRecipient
	}
	if message.ReadAt != nil {
		return message, nil
	}

	message, err = s.Store.MarkRead(ctx, conversationID, messageID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to mark read: %w", err)
	}
	return message, nil
}

// MarkConversationAsRead marks only the messages received by userID as read and
// returns the ones that changed.
func (s *ChatService) MarkConversationAsRead(ctx context.Context, conversationID, userID string) ([]models.Message, error) {
	if _, err := s.Matches.ParticipantOf(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	changed, err := s.Store.MarkConversationRead(ctx, conversationID, userID, s.now())
	if err != nil {
		zap.S().Errorf("❌ Failed to mark conversation %s read for %s: %v", conversationID, userID, err)
		return nil, fmt.Errorf("failed to mark conversation read: %w", err)
	}
	zap.S().Infof("✅ Marked %d messages as read in %s for %s", len(changed), conversationID, userID)
	return changed, nil
}

func (s *ChatService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}
