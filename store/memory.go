package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"vibin_realtime/models"
)

type edgeKey struct{ from, to string }

// MemoryStore keeps everything in process. Every method holds one mutex, so
// conditional writes are atomic.
type MemoryStore struct {
	mu          sync.Mutex
	interests   map[edgeKey]models.Interest
	transitions map[edgeKey][]models.InterestTransition
	matches     map[string]models.Match
	messages    map[string][]models.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		interests:   make(map[edgeKey]models.Interest),
		transitions: make(map[edgeKey][]models.InterestTransition),
		matches:     make(map[string]models.Match),
		messages:    make(map[string][]models.Message),
	}
}

func (s *MemoryStore) GetInterest(ctx context.Context, from, to string) (*models.Interest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.interests[edgeKey{from, to}]
	if !ok {
		return nil, ErrNotFound
	}
	return &in, nil
}

func (s *MemoryStore) PutInterest(ctx context.Context, interest models.Interest, expectedStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := edgeKey{interest.FromUserID, interest.ToUserID}
	current, exists := s.interests[key]
	if expectedStatus == "" && exists {
		return ErrConditionFailed
	}
	if expectedStatus != "" && (!exists || current.Status != expectedStatus) {
		return ErrConditionFailed
	}
	s.interests[key] = interest
	return nil
}

func (s *MemoryStore) ListOutgoing(ctx context.Context, from string) ([]models.Interest, error) {
	return s.listInterests(func(k edgeKey) bool { return k.from == from }), nil
}

func (s *MemoryStore) ListIncoming(ctx context.Context, to string) ([]models.Interest, error) {
	return s.listInterests(func(k edgeKey) bool { return k.to == to }), nil
}

func (s *MemoryStore) listInterests(keep func(edgeKey) bool) []models.Interest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Interest{}
	for k, in := range s.interests {
		if keep(k) {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) AppendTransition(ctx context.Context, transition models.InterestTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := edgeKey{transition.FromUserID, transition.ToUserID}
	s.transitions[key] = append(s.transitions[key], transition)
	return nil
}

func (s *MemoryStore) ListTransitions(ctx context.Context, from, to string) ([]models.InterestTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.transitions[edgeKey{from, to}]
	out := make([]models.InterestTransition, len(history))
	copy(out, history)
	return out, nil
}

func (s *MemoryStore) CreateMatchIfAbsent(ctx context.Context, match models.Match) (*models.Match, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.matches[match.MatchID]; ok {
		return &existing, false, nil
	}
	s.matches[match.MatchID] = match
	return &match, true, nil
}

func (s *MemoryStore) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *MemoryStore) GetMatchByConversation(ctx context.Context, conversationID string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.matches {
		if m.ConversationID == conversationID {
			m := m
			return &m, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListMatches(ctx context.Context, userID string) ([]models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Match{}
	for _, m := range s.matches {
		if m.Includes(userID) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SaveMessage(ctx context.Context, message models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.messages[message.ConversationID]
	for _, m := range log {
		if m.MessageID == message.MessageID {
			return ErrConditionFailed
		}
	}
	// keep createdAt order, ties by insertion
	i := sort.Search(len(log), func(i int) bool { return log[i].CreatedAt.After(message.CreatedAt) })
	log = append(log, models.Message{})
	copy(log[i+1:], log[i:])
	log[i] = message
	s.messages[message.ConversationID] = log
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.messages[conversationID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]models.Message, len(log))
	copy(out, log)
	return out, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, conversationID, messageID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.findMessage(conversationID, messageID)
	if m == nil {
		return nil, ErrNotFound
	}
	out := *m
	return &out, nil
}

func (s *MemoryStore) MarkDelivered(ctx context.Context, conversationID, messageID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.findMessage(conversationID, messageID)
	if m == nil {
		return nil, ErrNotFound
	}
	m.IsDelivered = true
	out := *m
	return &out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, conversationID, messageID string, at time.Time) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.findMessage(conversationID, messageID)
	if m == nil {
		return nil, ErrNotFound
	}
	if m.ReadAt == nil {
		readAt := at
		m.ReadAt = &readAt
	}
	out := *m
	return &out, nil
}

func (s *MemoryStore) MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := []models.Message{}
	log := s.messages[conversationID]
	for i := range log {
		if log[i].ToUserID == userID && log[i].ReadAt == nil {
			readAt := at
			log[i].ReadAt = &readAt
			changed = append(changed, log[i])
		}
	}
	return changed, nil
}

// findMessage must be called with s.mu held.
func (s *MemoryStore) findMessage(conversationID, messageID string) *models.Message {
	log := s.messages[conversationID]
	for i := range log {
		if log[i].MessageID == messageID {
			return &log[i]
		}
	}
	return nil
}
