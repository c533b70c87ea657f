package socket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibin_realtime/middleware"
	"vibin_realtime/models"
	"vibin_realtime/services"
	"vibin_realtime/store"
)

type fixture struct {
	hub      *Hub
	server   *httptest.Server
	verifier *middleware.TokenVerifier
	chat     *services.ChatService
	presence *services.MemoryPresence
	conv     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	blocks := services.NewMemoryBlockList()
	matches := services.NewMatchService(s, blocks)
	chat := services.NewChatService(s, matches)
	presence := services.NewMemoryPresence(0, nil)
	verifier := middleware.NewTokenVerifier("test-secret", "")

	match, _, err := matches.FormMatch(context.Background(), "u1", "u2")
	require.NoError(t, err)

	hub := NewHub(chat, matches, presence, verifier)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return &fixture{hub: hub, server: server, verifier: verifier, chat: chat, presence: presence, conv: match.ConversationID}
}

func (f *fixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := f.verifier.Issue(userID, time.Hour)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, envelopeType string, payload interface{}) {
	t.Helper()
	env, err := models.NewEnvelope(envelopeType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

func next(t *testing.T, conn *websocket.Conn) models.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame models.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func (f *fixture) join(t *testing.T, conn *websocket.Conn, members int) {
	t.Helper()
	send(t, conn, models.EnvelopeJoin, models.ConversationPayload{ConversationID: f.conv})
	require.Eventually(t, func() bool { return f.hub.Members(f.conv) == members }, 2*time.Second, 5*time.Millisecond)
}

func TestRejectsMissingOrBadToken(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=nope", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMessageFlowWithDeliveryAndRead(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "u1")
	bob := f.dial(t, "u2")
	f.join(t, alice, 1)
	f.join(t, bob, 2)

	send(t, alice, models.EnvelopeMessageSend, models.SendMessagePayload{ConversationID: f.conv, Text: "hi bob"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := next(t, conn)
		require.Equal(t, models.FrameMessageNew, frame.Type)
		var message models.Message
		require.NoError(t, decode(frame.Payload, &message))
		assert.Equal(t, "hi bob", message.Text)
		assert.Equal(t, "u2", message.ToUserID)

		frame = next(t, conn)
		assert.Equal(t, models.FrameMessageDelivered, frame.Type)
	}

	stored, err := f.chat.GetMessages(context.Background(), f.conv, "u1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].IsDelivered)

	send(t, bob, models.EnvelopeMarkRead, models.ReceiptPayload{ConversationID: f.conv, MessageID: stored[0].MessageID})
	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := next(t, conn)
		require.Equal(t, models.FrameMessageRead, frame.Type)
		var receipt models.ReceiptPayload
		require.NoError(t, decode(frame.Payload, &receipt))
		assert.Equal(t, stored[0].MessageID, receipt.MessageID)
		assert.NotNil(t, receipt.ReadAt)
	}
}

func TestMessageNotDeliveredWhileRecipientAway(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "u1")
	f.join(t, alice, 1)

	send(t, alice, models.EnvelopeMessageSend, models.SendMessagePayload{ConversationID: f.conv, Text: "anyone?"})
	frame := next(t, alice)
	require.Equal(t, models.FrameMessageNew, frame.Type)

	stored, err := f.chat.GetMessages(context.Background(), f.conv, "u1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.False(t, stored[0].IsDelivered)
}

func TestNonParticipantCannotJoin(t *testing.T) {
	f := newFixture(t)
	eve := f.dial(t, "u3")

	send(t, eve, models.EnvelopeJoin, models.ConversationPayload{ConversationID: f.conv})
	frame := next(t, eve)
	require.Equal(t, models.FrameError, frame.Type)
	var payload models.ErrorPayload
	require.NoError(t, decode(frame.Payload, &payload))
	assert.Equal(t, models.EnvelopeJoin, payload.Envelope)
	assert.Equal(t, services.ErrNotParticipant.Error(), payload.Message)
	assert.Zero(t, f.hub.Members(f.conv))

	// the connection survives the rejection
	send(t, eve, "presence:online", nil)
	frame = next(t, eve)
	assert.Equal(t, models.FrameError, frame.Type)
}

func TestTypingRelayedToOthersAndClearedOnDisconnect(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "u1")
	bob := f.dial(t, "u2")
	f.join(t, alice, 1)
	f.join(t, bob, 2)

	send(t, alice, models.EnvelopeTypingStart, models.TypingPayload{ConversationID: f.conv})
	frame := next(t, bob)
	require.Equal(t, models.FrameTypingStart, frame.Type)
	var payload models.TypingPayload
	require.NoError(t, decode(frame.Payload, &payload))
	assert.Equal(t, "u1", payload.FromUserID)

	users, err := f.presence.TypingUsers(context.Background(), f.conv)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)

	require.NoError(t, alice.Close())
	frame = next(t, bob)
	assert.Equal(t, models.FrameTypingStop, frame.Type)
	require.Eventually(t, func() bool { return !f.hub.Online("u1") }, 2*time.Second, 5*time.Millisecond)

	users, err = f.presence.TypingUsers(context.Background(), f.conv)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestPublishReadReachesRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "u1")
	f.join(t, alice, 1)

	readAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f.hub.PublishRead([]models.Message{
		{ConversationID: f.conv, MessageID: "m1", ReadAt: &readAt},
		{ConversationID: f.conv, MessageID: "m2"},
	})

	frame := next(t, alice)
	require.Equal(t, models.FrameMessageRead, frame.Type)
	var receipt models.ReceiptPayload
	require.NoError(t, decode(frame.Payload, &receipt))
	assert.Equal(t, "m1", receipt.MessageID)
}

func TestPublishMessageFromRESTIsDelivered(t *testing.T) {
	f := newFixture(t)
	bob := f.dial(t, "u2")
	f.join(t, bob, 1)

	ctx := context.Background()
	message, err := f.chat.SendMessage(ctx, "u1", models.SendMessagePayload{ConversationID: f.conv, Text: "via rest"})
	require.NoError(t, err)
	f.hub.PublishMessage(ctx, message)

	frame := next(t, bob)
	require.Equal(t, models.FrameMessageNew, frame.Type)
	frame = next(t, bob)
	assert.Equal(t, models.FrameMessageDelivered, frame.Type)

	stored, err := f.chat.GetMessages(ctx, f.conv, "u2", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].IsDelivered)
}
