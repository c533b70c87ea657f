package controllers

import (
	"context"
	"net/http"
	"strconv"

	"vibin_realtime/models"
	"vibin_realtime/services"
)

// ChatNotifier pushes REST-side changes to live websocket clients.
type ChatNotifier interface {
	PublishMessage(ctx context.Context, message *models.Message)
	PublishRead(messages []models.Message)
}

// ChatController struct
type ChatController struct {
	ChatService *services.ChatService
	Presence    services.PresenceStore
	Notifier    ChatNotifier
}

// NewChatController initializes the chat controller. notifier may be nil.
func NewChatController(service *services.ChatService, presence services.PresenceStore, notifier ChatNotifier) *ChatController {
	return &ChatController{ChatService: service, Presence: presence, Notifier: notifier}
}

// HandleGetMessages - Fetch messages of ?conversationId= (optional ?limit=)
func (c *ChatController) HandleGetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	conversationID := r.URL.Query().Get("conversationId")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "Missing conversationId parameter")
		return
	}
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = parsed
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	messages, err := c.ChatService.GetMessages(ctx, conversationID, userID, limit)
	if err != nil {
		writeServiceError(w, "fetch messages", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, messages)
}

// HandleSendMessage stores a message sent over REST and fans it out.
func (c *ChatController) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	var request models.SendMessagePayload
	if !decodeBody(w, r, &request) {
		return
	}
	if request.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "Missing conversationId")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	message, err := c.ChatService.SendMessage(ctx, userID, request)
	if err != nil {
		writeServiceError(w, "send message", err)
		return
	}
	if c.Notifier != nil {
		c.Notifier.PublishMessage(ctx, message)
	}
	writeJSONResponse(w, http.StatusCreated, message)
}

// HandleMarkMessagesAsRead marks every message the caller received in the
// conversation as read.
func (c *ChatController) HandleMarkMessagesAsRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	var request struct {
		ConversationID string `json:"conversationId"`
		UserID         string `json:"userId"`
	}
	if !decodeBody(w, r, &request) {
		return
	}
	if request.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "Missing conversationId")
		return
	}
	if request.UserID != "" && request.UserID != userID {
		writeError(w, http.StatusForbidden, "userId does not match the token")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	changed, err := c.ChatService.MarkConversationAsRead(ctx, request.ConversationID, userID)
	if err != nil {
		writeServiceError(w, "mark messages as read", err)
		return
	}
	if c.Notifier != nil {
		c.Notifier.PublishRead(changed)
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"message": "Messages marked as read",
		"updated": len(changed),
	})
}

// HandleGetTyping lists who else is typing in ?conversationId=.
func (c *ChatController) HandleGetTyping(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	conversationID := r.URL.Query().Get("conversationId")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "Missing conversationId parameter")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if _, err := c.ChatService.Matches.ParticipantOf(ctx, conversationID, userID); err != nil {
		writeServiceError(w, "fetch typing users", err)
		return
	}
	users, err := c.Presence.TypingUsers(ctx, conversationID)
	if err != nil {
		writeServiceError(w, "fetch typing users", err)
		return
	}
	others := make([]string, 0, len(users))
	for _, u := range users {
		if u != userID {
			others = append(others, u)
		}
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"conversationId": conversationID,
		"typing":         others,
	})
}
