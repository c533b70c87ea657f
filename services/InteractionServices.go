package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vibin_realtime/models"
	"vibin_realtime/store"
)

// maxTransitionAttempts bounds how often a compare-and-set on one edge is
// retried after losing to a concurrent writer.
const maxTransitionAttempts = 5

// InterestService is the interest ledger: it records directed interest edges,
// detects reciprocity and hands reciprocated pairs to the MatchService.
type InterestService struct {
	Store   store.InterestStore
	Matches *MatchService
	Blocks  BlockChecker
	// ImplicitMutualAccept treats expressing interest toward someone whose
	// interest is still pending as accepting it.
	ImplicitMutualAccept bool
	Now                  func() time.Time
}

func NewInterestService(s store.InterestStore, matches *MatchService, blocks BlockChecker) *InterestService {
	return &InterestService{
		Store:                s,
		Matches:              matches,
		Blocks:               blocks,
		ImplicitMutualAccept: true,
		Now:                  time.Now,
	}
}

// Outcome is what a ledger write produced.
type Outcome struct {
	Interest     *models.Interest `json:"interest"`
	Match        *models.Match    `json:"match,omitempty"`
	MatchCreated bool             `json:"matchCreated"`
}

// edgeChange decides the next state of an edge from its current one (nil if
// absent). Returning a nil edge means nothing needs writing.
type edgeChange func(current *models.Interest) (*models.Interest, error)

// ExpressInterest records from's interest in to.
func (s *InterestService) ExpressInterest(ctx context.Context, from, to string) (*Outcome, error) {
	zap.S().Infof("🔄 Processing interest from %s -> %s", from, to)
	if err := s.checkPair(ctx, from, to); err != nil {
		return nil, err
	}

	edge, err := s.applyTransition(ctx, from, to, models.ActorUser, func(current *models.Interest) (*models.Interest, error) {
		switch {
		case current == nil, current.Status == models.InterestWithdrawn:
			// re-expressing after a withdrawal starts a fresh edge
			return s.freshEdge(from, to, models.InterestPending), nil
		case current.Status == models.InterestRejected:
			return nil, fmt.Errorf("%w: %s already rejected this interest", ErrInvalidTransition, to)
		default:
			return nil, nil
		}
	})
	if err != nil {
		return nil, err
	}

	if s.ImplicitMutualAccept && edge.Status == models.InterestPending {
		reverse, err := s.getInterest(ctx, to, from)
		if err != nil {
			return nil, err
		}
		if reverse != nil && (reverse.Status == models.InterestPending || reverse.Status == models.InterestAccepted) {
			zap.S().Infof("💫 %s and %s expressed interest in each other", from, to)
			if _, err := s.promote(ctx, to, from); err != nil {
				return nil, err
			}
			if edge, err = s.promote(ctx, from, to); err != nil {
				return nil, err
			}
		}
	}

	return s.settle(ctx, edge, from, to)
}

// AcceptInterest is acceptor accepting the pending interest from→acceptor. The
// acceptor's own edge toward from is recorded as accepted too.
func (s *InterestService) AcceptInterest(ctx context.Context, acceptor, from string) (*Outcome, error) {
	zap.S().Infof("🔄 %s accepting interest from %s", acceptor, from)
	if err := s.checkPair(ctx, acceptor, from); err != nil {
		return nil, err
	}

	incoming, err := s.getInterest(ctx, from, acceptor)
	if err != nil {
		return nil, err
	}
	if incoming == nil {
		return nil, ErrInterestNotFound
	}
	if !models.IsOpenInterest(incoming.Status) {
		return nil, fmt.Errorf("%w: cannot accept a %s interest", ErrInvalidTransition, incoming.Status)
	}

	if _, err := s.promote(ctx, from, acceptor); err != nil {
		return nil, err
	}

	own, err := s.applyTransition(ctx, acceptor, from, models.ActorUser, func(current *models.Interest) (*models.Interest, error) {
		switch {
		case current == nil, current.Status == models.InterestWithdrawn, current.Status == models.InterestRejected:
			return s.freshEdge(acceptor, from, models.InterestAccepted), nil
		case current.Status == models.InterestPending:
			return s.withStatus(current, models.InterestAccepted), nil
		default:
			return nil, nil
		}
	})
	if err != nil {
		return nil, err
	}

	return s.settle(ctx, own, acceptor, from)
}

// RejectInterest is rejector declining the interest from→rejector.
func (s *InterestService) RejectInterest(ctx context.Context, rejector, from string) (*models.Interest, error) {
	zap.S().Infof("🔄 %s rejecting interest from %s", rejector, from)
	if _, _, err := SortedPair(rejector, from); err != nil {
		return nil, err
	}
	edge, err := s.applyTransition(ctx, from, rejector, models.ActorUser, func(current *models.Interest) (*models.Interest, error) {
		switch {
		case current == nil:
			return nil, ErrInterestNotFound
		case current.Status == models.InterestPending, current.Status == models.InterestAccepted:
			return s.withStatus(current, models.InterestRejected), nil
		case current.Status == models.InterestRejected:
			return nil, nil
		default:
			return nil, fmt.Errorf("%w: cannot reject a %s interest", ErrInvalidTransition, current.Status)
		}
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// WithdrawInterest is from taking back an interest that has not been reciprocated.
func (s *InterestService) WithdrawInterest(ctx context.Context, from, to string) (*models.Interest, error) {
	zap.S().Infof("🔄 %s withdrawing interest in %s", from, to)
	if _, _, err := SortedPair(from, to); err != nil {
		return nil, err
	}
	edge, err := s.applyTransition(ctx, from, to, models.ActorUser, func(current *models.Interest) (*models.Interest, error) {
		switch {
		case current == nil:
			return nil, ErrInterestNotFound
		case current.Status == models.InterestPending, current.Status == models.InterestAccepted:
			return s.withStatus(current, models.InterestWithdrawn), nil
		case current.Status == models.InterestWithdrawn:
			return nil, nil
		default:
			return nil, fmt.Errorf("%w: cannot withdraw a %s interest", ErrInvalidTransition, current.Status)
		}
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// HandleBlock rejects, on the system's behalf, any open edge between the two
// users. Reciprocated edges are left alone.
func (s *InterestService) HandleBlock(ctx context.Context, blocker, blocked string) error {
	if _, _, err := SortedPair(blocker, blocked); err != nil {
		return err
	}
	for _, pair := range [][2]string{{blocker, blocked}, {blocked, blocker}} {
		_, err := s.applyTransition(ctx, pair[0], pair[1], models.ActorSystem, func(current *models.Interest) (*models.Interest, error) {
			if current != nil && (current.Status == models.InterestPending || current.Status == models.InterestAccepted) {
				return s.withStatus(current, models.InterestRejected), nil
			}
			return nil, nil
		})
		if err != nil {
			return fmt.Errorf("failed to reject %s -> %s after block: %w", pair[0], pair[1], err)
		}
	}
	zap.S().Infof("🚫 %s blocked %s, open interests rejected", blocker, blocked)
	return nil
}

// GetInterest retrieves the edge from -> to.
func (s *InterestService) GetInterest(ctx context.Context, from, to string) (*models.Interest, error) {
	edge, err := s.getInterest(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if edge == nil {
		return nil, ErrInterestNotFound
	}
	return edge, nil
}

// ListOutgoing fetches every edge the user expressed.
func (s *InterestService) ListOutgoing(ctx context.Context, userID string) ([]models.Interest, error) {
	interests, err := s.Store.ListOutgoing(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch interests: %w", err)
	}
	return interests, nil
}

// ListIncoming fetches every edge pointing at the user.
func (s *InterestService) ListIncoming(ctx context.Context, userID string) ([]models.Interest, error) {
	interests, err := s.Store.ListIncoming(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch interests: %w", err)
	}
	return interests, nil
}

// History returns every recorded transition of the edge from -> to, oldest first.
func (s *InterestService) History(ctx context.Context, from, to string) ([]models.InterestTransition, error) {
	transitions, err := s.Store.ListTransitions(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch interest history: %w", err)
	}
	return transitions, nil
}

func (s *InterestService) checkPair(ctx context.Context, a, b string) error {
	if _, _, err := SortedPair(a, b); err != nil {
		return err
	}
	if s.Blocks == nil {
		return nil
	}
	blocked, err := s.Blocks.IsBlocked(ctx, a, b)
	if err != nil {
		return err
	}
	if blocked {
		return ErrBlocked
	}
	return nil
}

// promote moves a pending edge to accepted; other states are left as they are.
func (s *InterestService) promote(ctx context.Context, from, to string) (*models.Interest, error) {
	return s.applyTransition(ctx, from, to, models.ActorUser, func(current *models.Interest) (*models.Interest, error) {
		if current != nil && current.Status == models.InterestPending {
			return s.withStatus(current, models.InterestAccepted), nil
		}
		return nil, nil
	})
}

// settle runs the reciprocity check after a write to a -> b and forms the
// match when both edges are accepted.
func (s *InterestService) settle(ctx context.Context, edge *models.Interest, a, b string) (*Outcome, error) {
	outcome := &Outcome{Interest: edge}

	ab, err := s.getInterest(ctx, a, b)
	if err != nil {
		return nil, err
	}
	ba, err := s.getInterest(ctx, b, a)
	if err != nil {
		return nil, err
	}
	if ab == nil || ba == nil || !models.IsAcceptedInterest(ab.Status) || !models.IsAcceptedInterest(ba.Status) {
		return outcome, nil
	}

	match, created, err := s.Matches.FormMatch(ctx, a, b)
	if err != nil {
		return nil, err
	}
	outcome.Match, outcome.MatchCreated = match, created

	for _, pair := range [][2]string{{a, b}, {b, a}} {
		reciprocated, err := s.applyTransition(ctx, pair[0], pair[1], models.ActorSystem, func(current *models.Interest) (*models.Interest, error) {
			if current == nil || current.Status != models.InterestAccepted {
				return nil, nil
			}
			next := s.withStatus(current, models.InterestReciprocated)
			next.MatchID = &match.MatchID
			return next, nil
		})
		if err != nil {
			return nil, err
		}
		if pair[0] == a {
			outcome.Interest = reciprocated
		}
	}
	return outcome, nil
}

// applyTransition reads the edge, asks change for its next state and writes it
// conditioned on the status it read. A lost race is retried from a fresh read.
func (s *InterestService) applyTransition(ctx context.Context, from, to, actor string, change edgeChange) (*models.Interest, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		current, err := s.getInterest(ctx, from, to)
		if err != nil {
			return nil, err
		}
		next, err := change(current)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return current, nil
		}

		expected := ""
		if current != nil {
			expected = current.Status
		}
		err = s.Store.PutInterest(ctx, *next, expected)
		if errors.Is(err, store.ErrConditionFailed) {
			zap.S().Debugf("ℹ️ Interest %s -> %s changed underneath us, retrying", from, to)
			continue
		}
		if err != nil {
			zap.S().Errorf("❌ Error writing interest %s -> %s: %v", from, to, err)
			return nil, fmt.Errorf("failed to write interest: %w", err)
		}

		s.recordTransition(ctx, current, next, actor)
		return next, nil
	}
	return nil, fmt.Errorf("interest %s -> %s kept changing: %w", from, to, store.ErrConditionFailed)
}

func (s *InterestService) recordTransition(ctx context.Context, previous, next *models.Interest, actor string) {
	transition := models.InterestTransition{
		FromUserID: next.FromUserID,
		ToUserID:   next.ToUserID,
		ToStatus:   next.Status,
		Actor:      actor,
		At:         next.UpdatedAt,
	}
	if previous != nil {
		transition.FromStatus = previous.Status
	}
	if err := s.Store.AppendTransition(ctx, transition); err != nil {
		zap.S().Errorf("❌ Failed to record interest transition %s -> %s (%s): %v", next.FromUserID, next.ToUserID, next.Status, err)
	}
}

func (s *InterestService) getInterest(ctx context.Context, from, to string) (*models.Interest, error) {
	edge, err := s.Store.GetInterest(ctx, from, to)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read interest %s -> %s: %w", from, to, err)
	}
	return edge, nil
}

func (s *InterestService) freshEdge(from, to, status string) *models.Interest {
	now := s.now()
	return &models.Interest{
		FromUserID: from,
		ToUserID:   to,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (s *InterestService) withStatus(current *models.Interest, status string) *models.Interest {
	next := *current
	next.Status = status
	next.UpdatedAt = s.now()
	return &next
}

func (s *InterestService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}
