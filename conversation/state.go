package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"vibin_realtime/models"
)

// Sender is the outbound side of the transport session.
type Sender interface {
	SendPayload(envelopeType string, payload interface{}) error
}

// ReadAcknowledger is the durable store's read-receipt path.
type ReadAcknowledger interface {
	MarkConversationAsRead(ctx context.Context, conversationID, userID string) error
}

var ErrInvalidInput = errors.New("invalid input")

// Receipts for messages not seen yet are parked for at most parkedReceiptTTL,
// and at most maxParkedReceipts per conversation.
const (
	parkedReceiptTTL  = 5 * time.Minute
	maxParkedReceipts = 256
)

type receipt struct {
	delivered bool
	readAt    *time.Time
	parkedAt  time.Time
}

// State is the client's view of its conversations, built only from frames the
// server sent. Local sends never touch the log; the server's message:new echo
// is the one authoritative copy.
type State struct {
	userID     string
	sender     Sender
	acks       ReadAcknowledger
	now        func() time.Time
	staleAfter time.Duration

	mu       sync.RWMutex
	logs     map[string][]models.Message
	seen     map[string]map[string]bool
	pending  map[string]map[string]receipt
	typing   map[string]map[string]models.TypingIndicator
	joined   map[string]bool
	onChange func(conversationID string)
}

// New builds the state for userID. acks may be nil, in which case
// MarkMessageAsRead only has the realtime path.
func New(userID string, sender Sender, acks ReadAcknowledger) *State {
	return &State{
		userID:     userID,
		sender:     sender,
		acks:       acks,
		now:        time.Now,
		staleAfter: models.TypingStaleAfter,
		logs:       make(map[string][]models.Message),
		seen:       make(map[string]map[string]bool),
		pending:    make(map[string]map[string]receipt),
		typing:     make(map[string]map[string]models.TypingIndicator),
		joined:     make(map[string]bool),
	}
}

// SetClock replaces the time source. Tests use it to drive typing staleness.
func (s *State) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// OnChange registers a callback run after any inbound frame changed a
// conversation. It runs outside the state lock.
func (s *State) OnChange(fn func(conversationID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *State) JoinConversation(conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("%w: conversation id is required", ErrInvalidInput)
	}
	s.mu.Lock()
	s.joined[conversationID] = true
	s.mu.Unlock()
	return s.sender.SendPayload(models.EnvelopeJoin, models.ConversationPayload{ConversationID: conversationID})
}

func (s *State) LeaveConversation(conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("%w: conversation id is required", ErrInvalidInput)
	}
	s.mu.Lock()
	delete(s.joined, conversationID)
	delete(s.typing, conversationID)
	s.mu.Unlock()
	return s.sender.SendPayload(models.EnvelopeLeave, models.ConversationPayload{ConversationID: conversationID})
}

// SendMessage hands a message:send envelope to the transport and returns. The
// message shows up in GetMessages once the server echoes it back.
func (s *State) SendMessage(conversationID, toUserID, text, messageType string) error {
	if conversationID == "" || strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: conversation id and text are required", ErrInvalidInput)
	}
	if messageType == "" {
		messageType = models.MessageTypeText
	}
	if !models.ValidMessageType(messageType) {
		return fmt.Errorf("%w: unsupported message type %q", ErrInvalidInput, messageType)
	}
	return s.sender.SendPayload(models.EnvelopeMessageSend, models.SendMessagePayload{
		ConversationID: conversationID,
		ToUserID:       toUserID,
		Text:           text,
		Type:           messageType,
	})
}

// MarkMessageAsRead sends message:markRead and, independently, acknowledges
// the conversation through the durable store. It reports whether the durable
// acknowledgement succeeded; the realtime envelope is queued either way.
func (s *State) MarkMessageAsRead(ctx context.Context, messageID, conversationID string) bool {
	if err := s.sender.SendPayload(models.EnvelopeMarkRead, models.ReceiptPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
	}); err != nil {
		zap.S().Warnf("⚠️ Failed to send read receipt for %s: %v", messageID, err)
	}

	if s.acks == nil {
		return false
	}
	if err := s.acks.MarkConversationAsRead(ctx, conversationID, s.userID); err != nil {
		zap.S().Warnf("⚠️ Durable read acknowledgement failed for %s: %v", conversationID, err)
		return false
	}

	// the durable store has recorded it, so the local copy may reflect it
	s.mu.Lock()
	now := s.now().UTC()
	changed := s.applyReceiptLocked(conversationID, messageID, receipt{delivered: true, readAt: &now})
	s.mu.Unlock()
	if changed {
		s.notify(conversationID)
	}
	return true
}

func (s *State) StartTyping(conversationID string) error {
	return s.sender.SendPayload(models.EnvelopeTypingStart, models.TypingPayload{ConversationID: conversationID})
}

func (s *State) StopTyping(conversationID string) error {
	return s.sender.SendPayload(models.EnvelopeTypingStop, models.TypingPayload{ConversationID: conversationID})
}

// IsUserTyping reports a fresh typing indicator for userID. Stale entries read
// as not typing even before the sweeper removes them.
func (s *State) IsUserTyping(conversationID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	indicator, ok := s.typing[conversationID][userID]
	return ok && indicator.IsTyping && !indicator.Stale(s.now(), s.staleAfter)
}

// GetMessages returns a copy of the conversation log, oldest first.
func (s *State) GetMessages(conversationID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[conversationID]
	out := make([]models.Message, len(log))
	for i, message := range log {
		out[i] = message
		if message.ReadAt != nil {
			readAt := *message.ReadAt
			out[i].ReadAt = &readAt
		}
	}
	return out
}

// ClearMessages drops the local log of one conversation, or of all of them when
// conversationID is empty.
func (s *State) ClearMessages(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conversationID == "" {
		s.logs = make(map[string][]models.Message)
		s.seen = make(map[string]map[string]bool)
		s.pending = make(map[string]map[string]receipt)
		return
	}
	delete(s.logs, conversationID)
	delete(s.seen, conversationID)
	delete(s.pending, conversationID)
}

// HandleFrame applies one inbound frame. Frames with bad payloads are logged
// and dropped.
func (s *State) HandleFrame(frame models.Frame) {
	var (
		conversationID string
		changed        bool
		err            error
	)
	switch frame.Type {
	case models.FrameMessageNew:
		conversationID, changed, err = s.handleMessage(frame.Payload)
	case models.FrameMessageDelivered:
		conversationID, changed, err = s.handleReceipt(frame.Payload, false)
	case models.FrameMessageRead:
		conversationID, changed, err = s.handleReceipt(frame.Payload, true)
	case models.FrameTypingStart:
		conversationID, changed, err = s.handleTyping(frame.Payload, true)
	case models.FrameTypingStop:
		conversationID, changed, err = s.handleTyping(frame.Payload, false)
	case models.FrameError:
		var payload models.ErrorPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			zap.S().Warnf("⚠️ Server rejected an envelope: %s", string(frame.Payload))
			return
		}
		zap.S().Warnf("⚠️ Server rejected %s: %s", payload.Envelope, payload.Message)
		return
	default:
		zap.S().Debugf("ℹ️ Ignoring frame %s", frame.Type)
		return
	}
	if err != nil {
		zap.S().Warnf("⚠️ Dropping %s frame: %v", frame.Type, err)
		return
	}
	if changed {
		s.notify(conversationID)
	}
}

// ResumeEnvelopes returns a join for every joined conversation, in a stable
// order. The server forgets room membership with the old connection, so wire
// it to the session's resume hook, which sends these ahead of anything queued
// while offline.
func (s *State) ResumeEnvelopes() []models.Envelope {
	s.mu.RLock()
	conversations := make([]string, 0, len(s.joined))
	for conversationID := range s.joined {
		conversations = append(conversations, conversationID)
	}
	s.mu.RUnlock()

	sort.Strings(conversations)
	envs := make([]models.Envelope, 0, len(conversations))
	for _, conversationID := range conversations {
		env, err := models.NewEnvelope(models.EnvelopeJoin, models.ConversationPayload{ConversationID: conversationID})
		if err != nil {
			zap.S().Warnf("⚠️ Failed to build re-join for %s: %v", conversationID, err)
			continue
		}
		envs = append(envs, env)
	}
	return envs
}

// SweepTyping removes indicators older than the staleness window and returns
// how many it removed. Expired parked receipts go in the same pass.
func (s *State) SweepTyping() int {
	s.mu.Lock()
	now := s.now()
	s.expireParkedLocked(now)
	removed := 0
	var touched []string
	for conversationID, users := range s.typing {
		before := removed
		for userID, indicator := range users {
			if indicator.Stale(now, s.staleAfter) {
				delete(users, userID)
				removed++
			}
		}
		if removed > before {
			touched = append(touched, conversationID)
		}
		if len(users) == 0 {
			delete(s.typing, conversationID)
		}
	}
	s.mu.Unlock()

	for _, conversationID := range touched {
		s.notify(conversationID)
	}
	return removed
}

func (s *State) expireParkedLocked(now time.Time) {
	for conversationID, parked := range s.pending {
		for messageID, r := range parked {
			if now.Sub(r.parkedAt) > parkedReceiptTTL {
				delete(parked, messageID)
			}
		}
		if len(parked) == 0 {
			delete(s.pending, conversationID)
		}
	}
}

// RunTypingSweeper sweeps every interval until ctx is done.
func (s *State) RunTypingSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepTyping(); n > 0 {
				zap.S().Debugf("🧹 Cleared %d stale typing indicators", n)
			}
		}
	}
}

func (s *State) handleMessage(raw json.RawMessage) (string, bool, error) {
	var message models.Message
	if err := json.Unmarshal(raw, &message); err != nil {
		return "", false, err
	}
	if message.MessageID == "" || message.ConversationID == "" {
		return "", false, errors.New("message without id or conversation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conversationID := message.ConversationID
	if s.seen[conversationID][message.MessageID] {
		return conversationID, false, nil
	}
	if s.seen[conversationID] == nil {
		s.seen[conversationID] = make(map[string]bool)
	}
	s.seen[conversationID][message.MessageID] = true

	// a retried delivery of the server's copy never carries less than we know,
	// and receipts that raced ahead of the message are applied now
	if parked, ok := s.pending[conversationID][message.MessageID]; ok {
		delete(s.pending[conversationID], message.MessageID)
		message.IsDelivered = message.IsDelivered || parked.delivered
		if message.ReadAt == nil {
			message.ReadAt = parked.readAt
		}
	}

	log := s.logs[conversationID]
	at := sort.Search(len(log), func(i int) bool {
		return log[i].CreatedAt.After(message.CreatedAt)
	})
	log = append(log, models.Message{})
	copy(log[at+1:], log[at:])
	log[at] = message
	s.logs[conversationID] = log
	return conversationID, true, nil
}

func (s *State) handleReceipt(raw json.RawMessage, read bool) (string, bool, error) {
	var payload models.ReceiptPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", false, err
	}
	if payload.MessageID == "" || payload.ConversationID == "" {
		return "", false, errors.New("receipt without message or conversation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	update := receipt{delivered: true}
	if read {
		readAt := s.now().UTC()
		if payload.ReadAt != nil {
			readAt = *payload.ReadAt
		}
		update.readAt = &readAt
	}
	return payload.ConversationID, s.applyReceiptLocked(payload.ConversationID, payload.MessageID, update), nil
}

// applyReceiptLocked sets IsDelivered and ReadAt only where they are unset. A
// receipt for a message we have not seen yet is parked until it arrives or expires.
func (s *State) applyReceiptLocked(conversationID, messageID string, update receipt) bool {
	log := s.logs[conversationID]
	for i := range log {
		if log[i].MessageID != messageID {
			continue
		}
		changed := false
		if update.delivered && !log[i].IsDelivered {
			log[i].IsDelivered = true
			changed = true
		}
		if update.readAt != nil && log[i].ReadAt == nil {
			readAt := *update.readAt
			log[i].ReadAt = &readAt
			changed = true
		}
		return changed
	}

	if messageID == "" {
		return false
	}
	if s.pending[conversationID] == nil {
		s.pending[conversationID] = make(map[string]receipt)
	}
	parked, ok := s.pending[conversationID][messageID]
	if !ok {
		if len(s.pending[conversationID]) >= maxParkedReceipts {
			zap.S().Debugf("ℹ️ Dropping receipt for unseen message %s, %s has too many parked", messageID, conversationID)
			return false
		}
		parked.parkedAt = s.now()
	}
	parked.delivered = parked.delivered || update.delivered
	if parked.readAt == nil {
		parked.readAt = update.readAt
	}
	s.pending[conversationID][messageID] = parked
	return false
}

func (s *State) handleTyping(raw json.RawMessage, typing bool) (string, bool, error) {
	var payload models.TypingPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", false, err
	}
	if payload.ConversationID == "" || payload.FromUserID == "" {
		return "", false, errors.New("typing frame without conversation or user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	users := s.typing[payload.ConversationID]
	if !typing {
		if _, ok := users[payload.FromUserID]; !ok {
			return payload.ConversationID, false, nil
		}
		delete(users, payload.FromUserID)
		return payload.ConversationID, true, nil
	}
	if users == nil {
		users = make(map[string]models.TypingIndicator)
		s.typing[payload.ConversationID] = users
	}
	users[payload.FromUserID] = models.TypingIndicator{
		ConversationID: payload.ConversationID,
		UserID:         payload.FromUserID,
		IsTyping:       true,
		UpdatedAt:      s.now(),
	}
	return payload.ConversationID, true, nil
}

func (s *State) notify(conversationID string) {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn(conversationID)
	}
}
