package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vibin_realtime/middleware"
	"vibin_realtime/models"
	"vibin_realtime/services"
)

const envelopeTimeout = 10 * time.Second

// Hub fans conversation events out to the websocket clients that joined them.
type Hub struct {
	chat     *services.ChatService
	matches  *services.MatchService
	presence services.PresenceStore
	verifier *middleware.TokenVerifier
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*Client]bool // userId -> live clients
	rooms   map[string]map[*Client]bool // conversationId -> joined clients
}

// NewHub initializes the websocket hub
func NewHub(chat *services.ChatService, matches *services.MatchService, presence services.PresenceStore, verifier *middleware.TokenVerifier) *Hub {
	return &Hub{
		chat:     chat,
		matches:  matches,
		presence: presence,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// CORS for the REST API is handled by rs/cors; the token is the gate here
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]map[*Client]bool),
		rooms:   make(map[string]map[*Client]bool),
	}
}

// ServeWS authenticates the ?token= credential and upgrades the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token, err := middleware.TokenFromRequest(r)
	if err != nil {
		http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
		return
	}
	claims, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Errorf("❌ Websocket upgrade failed: %v", err)
		return
	}

	client := newClient(h, claims.Principal(), conn)
	h.register(client)
	zap.S().Infof("✅ Socket connected: %s (user %s)", client.ID, client.userID)

	go client.writePump()
	go client.readPump()
}

// Members is the number of clients joined to a conversation.
func (h *Hub) Members(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// Online reports whether userID has at least one live connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// PublishMessage fans out a message persisted outside the socket, such as one
// sent through the REST API.
func (h *Hub) PublishMessage(ctx context.Context, message *models.Message) {
	if err := h.fanOut(ctx, message, nil); err != nil {
		zap.S().Errorf("❌ Failed to publish message %s: %v", message.MessageID, err)
	}
}

// PublishRead sends message:read for receipts recorded outside the socket,
// such as the REST mark-as-read endpoint.
func (h *Hub) PublishRead(messages []models.Message) {
	for _, message := range messages {
		if message.ReadAt == nil {
			continue
		}
		frame, err := models.NewFrame(models.FrameMessageRead, models.ReceiptPayload{
			ConversationID: message.ConversationID,
			MessageID:      message.MessageID,
			ReadAt:         message.ReadAt,
		})
		if err != nil {
			continue
		}
		h.broadcast(message.ConversationID, frame, nil)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*Client]bool)
	}
	h.clients[c.userID][c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients[c.userID], c)
	if len(h.clients[c.userID]) == 0 {
		delete(h.clients, c.userID)
	}
	var left []string
	for conversationID := range c.rooms {
		h.leaveLocked(c, conversationID)
		left = append(left, conversationID)
	}
	h.mu.Unlock()

	// a dropped connection cannot send typing:stop, so clear it here
	ctx, cancel := context.WithTimeout(context.Background(), envelopeTimeout)
	defer cancel()
	for _, conversationID := range left {
		h.stopTyping(ctx, c, conversationID)
	}
	zap.S().Infof("❌ Socket disconnected: %s (user %s)", c.ID, c.userID)
}

func (h *Hub) leaveLocked(c *Client, conversationID string) {
	delete(h.rooms[conversationID], c)
	if len(h.rooms[conversationID]) == 0 {
		delete(h.rooms, conversationID)
	}
	delete(c.rooms, conversationID)
}

// broadcast sends frame to every client in the room, plus extra if it is not
// in the room.
func (h *Hub) broadcast(conversationID string, frame models.Frame, extra *Client) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[conversationID])+1)
	for c := range h.rooms[conversationID] {
		targets = append(targets, c)
	}
	if extra != nil && !h.rooms[conversationID][extra] {
		targets = append(targets, extra)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.send(frame)
	}
}

// handleEnvelope processes one client envelope. Failures go back to the
// client as an error frame; the connection stays up.
func (h *Hub) handleEnvelope(c *Client, env models.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), envelopeTimeout)
	defer cancel()

	var err error
	switch env.Type {
	case models.EnvelopeJoin:
		err = h.handleJoin(ctx, c, env.Payload)
	case models.EnvelopeLeave:
		err = h.handleLeave(ctx, c, env.Payload)
	case models.EnvelopeMessageSend:
		err = h.handleSend(ctx, c, env.Payload)
	case models.EnvelopeMarkRead:
		err = h.handleMarkRead(ctx, c, env.Payload)
	case models.EnvelopeTypingStart, models.EnvelopeTypingStop:
		err = h.handleTyping(ctx, c, env.Type, env.Payload)
	default:
		err = errUnknownEnvelope
	}
	if err != nil {
		zap.S().Warnf("⚠️ Rejected %s from %s: %v", env.Type, c.userID, err)
		c.sendError(env.Type, err)
	}
}

var (
	errUnknownEnvelope = errors.New("unknown envelope type")
	errBadPayload      = errors.New("invalid payload")
	errNotJoined       = errors.New("join the conversation first")
)

func decode(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return errBadPayload
	}
	return nil
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, raw json.RawMessage) error {
	var payload models.ConversationPayload
	if err := decode(raw, &payload); err != nil {
		return err
	}
	if _, err := h.matches.ParticipantOf(ctx, payload.ConversationID, c.userID); err != nil {
		return err
	}

	h.mu.Lock()
	if h.rooms[payload.ConversationID] == nil {
		h.rooms[payload.ConversationID] = make(map[*Client]bool)
	}
	h.rooms[payload.ConversationID][c] = true
	c.rooms[payload.ConversationID] = true
	h.mu.Unlock()

	zap.S().Infof("👥 User %s joined conversation %s", c.userID, payload.ConversationID)
	return nil
}

func (h *Hub) handleLeave(ctx context.Context, c *Client, raw json.RawMessage) error {
	var payload models.ConversationPayload
	if err := decode(raw, &payload); err != nil {
		return err
	}
	h.mu.Lock()
	joined := c.rooms[payload.ConversationID]
	h.leaveLocked(c, payload.ConversationID)
	h.mu.Unlock()

	if joined {
		h.stopTyping(ctx, c, payload.ConversationID)
	}
	return nil
}

func (h *Hub) handleSend(ctx context.Context, c *Client, raw json.RawMessage) error {
	var payload models.SendMessagePayload
	if err := decode(raw, &payload); err != nil {
		return err
	}
	message, err := h.chat.SendMessage(ctx, c.userID, payload)
	if err != nil {
		return err
	}
	return h.fanOut(ctx, message, c)
}

// fanOut sends message:new to the room (and extra), then marks the message
// delivered if the recipient is in the room to see it.
func (h *Hub) fanOut(ctx context.Context, message *models.Message, extra *Client) error {
	frame, err := models.NewFrame(models.FrameMessageNew, message)
	if err != nil {
		return err
	}
	h.broadcast(message.ConversationID, frame, extra)

	if !h.recipientJoined(message.ConversationID, message.ToUserID) {
		return nil
	}
	delivered, err := h.chat.MarkDelivered(ctx, message.ConversationID, message.MessageID)
	if err != nil {
		zap.S().Errorf("❌ Failed to mark %s delivered: %v", message.MessageID, err)
		return nil
	}
	frame, err = models.NewFrame(models.FrameMessageDelivered, models.ReceiptPayload{
		ConversationID: delivered.ConversationID,
		MessageID:      delivered.MessageID,
	})
	if err != nil {
		return err
	}
	h.broadcast(message.ConversationID, frame, extra)
	return nil
}

func (h *Hub) recipientJoined(conversationID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[conversationID] {
		if c.userID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, raw json.RawMessage) error {
	var payload models.ReceiptPayload
	if err := decode(raw, &payload); err != nil {
		return err
	}
	message, err := h.chat.MarkMessageRead(ctx, payload.ConversationID, payload.MessageID, c.userID)
	if err != nil {
		return err
	}
	frame, err := models.NewFrame(models.FrameMessageRead, models.ReceiptPayload{
		ConversationID: message.ConversationID,
		MessageID:      message.MessageID,
		ReadAt:         message.ReadAt,
	})
	if err != nil {
		return err
	}
	h.broadcast(message.ConversationID, frame, c)
	return nil
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, envelopeType string, raw json.RawMessage) error {
	var payload models.TypingPayload
	if err := decode(raw, &payload); err != nil {
		return err
	}
	h.mu.RLock()
	joined := c.rooms[payload.ConversationID]
	h.mu.RUnlock()
	if !joined {
		return errNotJoined
	}

	typing := envelopeType == models.EnvelopeTypingStart
	if err := h.presence.SetTyping(ctx, payload.ConversationID, c.userID, typing); err != nil {
		// presence is advisory; still relay the event
		zap.S().Warnf("⚠️ Failed to store typing state: %v", err)
	}
	frameType := models.FrameTypingStop
	if typing {
		frameType = models.FrameTypingStart
	}
	h.relayTyping(c, payload.ConversationID, frameType)
	return nil
}

func (h *Hub) stopTyping(ctx context.Context, c *Client, conversationID string) {
	if err := h.presence.SetTyping(ctx, conversationID, c.userID, false); err != nil {
		zap.S().Warnf("⚠️ Failed to clear typing state: %v", err)
	}
	h.relayTyping(c, conversationID, models.FrameTypingStop)
}

// relayTyping sends a typing frame to the room members other than the typist.
func (h *Hub) relayTyping(c *Client, conversationID, frameType string) {
	frame, err := models.NewFrame(frameType, models.TypingPayload{ConversationID: conversationID, FromUserID: c.userID})
	if err != nil {
		return
	}
	h.mu.RLock()
	var targets []*Client
	for member := range h.rooms[conversationID] {
		if member.userID != c.userID {
			targets = append(targets, member)
		}
	}
	h.mu.RUnlock()
	for _, member := range targets {
		member.send(frame)
	}
}

// clientMessage maps an error to what the client is told. Storage failures
// stay on the server.
func clientMessage(err error) string {
	for _, known := range []error{
		errUnknownEnvelope, errBadPayload, errNotJoined,
		services.ErrNotParticipant, services.ErrNotRecipient, services.ErrInvalidMessage,
		services.ErrMessageNotFound, services.ErrInvalidPair,
	} {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	return "internal error"
}
