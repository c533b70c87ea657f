package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vibin_realtime/models"
	"vibin_realtime/store"
)

// Namespaces for the name-based ids. Changing either one re-keys every match.
var (
	matchNamespace        = uuid.MustParse("6f1c2b8e-2f5a-4a43-9f5e-8d3c1a7b9e01")
	conversationNamespace = uuid.MustParse("b9d4e7a2-5c13-4e8f-a6b0-3f2d9c8e1a47")
)

// SortedPair orders two distinct, non-empty user ids.
func SortedPair(a, b string) (string, string, error) {
	if a == "" || b == "" || a == b {
		return "", "", fmt.Errorf("%w: %q and %q", ErrInvalidPair, a, b)
	}
	if a > b {
		a, b = b, a
	}
	return a, b, nil
}

func pairName(a, b string) ([]byte, error) {
	lo, hi, err := SortedPair(a, b)
	if err != nil {
		return nil, err
	}
	return []byte(lo + "\x00" + hi), nil
}

// MatchID is the same for (a, b) and (b, a).
func MatchID(a, b string) (string, error) {
	name, err := pairName(a, b)
	if err != nil {
		return "", err
	}
	return uuid.NewSHA1(matchNamespace, name).String(), nil
}

// ConversationID is the same for (a, b) and (b, a), so either client can
// address the conversation before the match record exists.
func ConversationID(a, b string) (string, error) {
	name, err := pairName(a, b)
	if err != nil {
		return "", err
	}
	return uuid.NewSHA1(conversationNamespace, name).String(), nil
}

// MatchService struct
type MatchService struct {
	Store  store.MatchStore
	Blocks BlockChecker
	Now    func() time.Time
}

func NewMatchService(s store.MatchStore, blocks BlockChecker) *MatchService {
	return &MatchService{Store: s, Blocks: blocks, Now: time.Now}
}

// FormMatch creates the match for the pair unless it already exists. Two
// concurrent callers for the same pair both succeed; exactly one gets created=true.
func (s *MatchService) FormMatch(ctx context.Context, a, b string) (*models.Match, bool, error) {
	lo, hi, err := SortedPair(a, b)
	if err != nil {
		return nil, false, err
	}
	if s.Blocks != nil {
		blocked, err := s.Blocks.IsBlocked(ctx, lo, hi)
		if err != nil {
			return nil, false, err
		}
		if blocked {
			return nil, false, ErrBlocked
		}
	}

	matchID, _ := MatchID(lo, hi)
	conversationID, _ := ConversationID(lo, hi)
	match := models.Match{
		MatchID:        matchID,
		UserAID:        lo,
		UserBID:        hi,
		Status:         models.MatchStatusMatched,
		ConversationID: conversationID,
		CreatedAt:      s.now(),
	}

	stored, created, err := s.Store.CreateMatchIfAbsent(ctx, match)
	if err != nil {
		zap.S().Errorf("❌ Failed to create match %s: %v", matchID, err)
		return nil, false, fmt.Errorf("failed to create match: %w", err)
	}
	if created {
		zap.S().Infof("💞 Match %s formed between %s and %s", matchID, lo, hi)
	}
	return stored, created, nil
}

// MatchesForUser retrieves every match the user is part of
func (s *MatchService) MatchesForUser(ctx context.Context, userID string) ([]models.Match, error) {
	matches, err := s.Store.ListMatches(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch matches: %w", err)
	}
	return matches, nil
}

// ParticipantOf returns the match behind conversationID if userID is one of its users.
func (s *MatchService) ParticipantOf(ctx context.Context, conversationID, userID string) (*models.Match, error) {
	match, err := s.Store.GetMatchByConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotParticipant
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up conversation: %w", err)
	}
	if !match.Includes(userID) {
		return nil, ErrNotParticipant
	}
	return match, nil
}

func (s *MatchService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}
