package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client -> server envelope types
const (
	EnvelopeJoin        = "join:conversation"
	EnvelopeLeave       = "leave:conversation"
	EnvelopeMessageSend = "message:send"
	EnvelopeMarkRead    = "message:markRead"
	EnvelopeTypingStart = "typing:start"
	EnvelopeTypingStop  = "typing:stop"
)

// Server -> client frame types
const (
	FrameMessageNew       = "message:new"
	FrameMessageDelivered = "message:delivered"
	FrameMessageRead      = "message:read"
	FrameTypingStart      = "typing:start"
	FrameTypingStop       = "typing:stop"
	FrameError            = "error"
)

// Envelope is a unit of work a client sends over the transport.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Frame is a unit the server pushes to clients.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload under the given discriminator.
func NewEnvelope(envelopeType string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", envelopeType, err)
	}
	return Envelope{Type: envelopeType, Payload: raw}, nil
}

// NewFrame marshals payload under the given discriminator.
func NewFrame(frameType string, payload interface{}) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal %s payload: %w", frameType, err)
	}
	return Frame{Type: frameType, Payload: raw}, nil
}

// ConversationPayload is carried by join:conversation and leave:conversation.
type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// SendMessagePayload is carried by message:send.
type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	ToUserID       string `json:"toUserId"`
	Text           string `json:"text"`
	Type           string `json:"type"`
}

// ReceiptPayload is carried by message:markRead, message:delivered and message:read.
type ReceiptPayload struct {
	ConversationID string     `json:"conversationId"`
	MessageID      string     `json:"messageId"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
}

// TypingPayload is carried by typing:start and typing:stop in both directions.
// FromUserID is filled in by the server when relaying.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	FromUserID     string `json:"fromUserId,omitempty"`
}

// ErrorPayload tells a client why one of its envelopes was refused.
type ErrorPayload struct {
	Envelope string `json:"envelope"`
	Message  string `json:"message"`
}
