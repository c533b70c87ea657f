package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibin_realtime/models"
)

func TestInterestThenAcceptFormsOneMatch(t *testing.T) {
	l := newLedger()
	ctx := context.Background()

	outcome, err := l.interest.ExpressInterest(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, models.InterestPending, outcome.Interest.Status)
	assert.Nil(t, outcome.Match)

	matches, err := l.matches.MatchesForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, matches)

	outcome, err = l.interest.AcceptInterest(ctx, "u2", "u1")
	require.NoError(t, err)
	require.NotNil(t, outcome.Match)
	assert.True(t, outcome.MatchCreated)

	wantID, _ := MatchID("u1", "u2")
	assert.Equal(t, wantID, outcome.Match.MatchID)

	// a duplicate acceptance event is a no-op
	again, err := l.interest.AcceptInterest(ctx, "u2", "u1")
	require.NoError(t, err)
	require.NotNil(t, again.Match)
	assert.False(t, again.MatchCreated)
	assert.Equal(t, wantID, again.Match.MatchID)

	matches, err = l.matches.MatchesForUser(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	for _, pair := range [][2]string{{"u1", "u2"}, {"u2", "u1"}} {
		edge, err := l.interest.GetInterest(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.Equal(t, models.InterestReciprocated, edge.Status)
		require.NotNil(t, edge.MatchID)
		assert.Equal(t, wantID, *edge.MatchID)
	}
}

func TestImplicitMutualAccept(t *testing.T) {
	l := newLedger()
	ctx := context.Background()

	_, err := l.interest.ExpressInterest(ctx, "u1", "u2")
	require.NoError(t, err)
	outcome, err := l.interest.ExpressInterest(ctx, "u2", "u1")
	require.NoError(t, err)

	require.NotNil(t, outcome.Match)
	assert.True(t, outcome.MatchCreated)
	assert.Equal(t, models.InterestReciprocated, outcome.Interest.Status)
}

func TestWithoutImplicitAcceptBothPendingDoesNotMatch(t *testing.T) {
	l := newLedger()
	l.interest.ImplicitMutualAccept = false
	ctx := context.Background()

	_, err := l.interest.ExpressInterest(ctx, "u1", "u2")
	require.NoError(t, err)
	outcome, err := l.interest.ExpressInterest(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.Nil(t, outcome.Match)

	outcome, err = l.interest.AcceptInterest(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.NotNil(t, outcome.Match)
}

func TestReciprocityCompletenessUnderConcurrency(t *testing.T) {
	for i := 0; i < 20; i++ {
		t.Run(fmt.Sprintf("round-%d", i), func(t *testing.T) {
			l := newLedger()
			ctx := context.Background()

			var wg sync.WaitGroup
			for _, pair := range [][2]string{{"u1", "u2"}, {"u2", "u1"}} {
				wg.Add(1)
				go func(from, to string) {
					defer wg.Done()
					_, err := l.interest.ExpressInterest(ctx, from, to)
					assert.NoError(t, err)
				}(pair[0], pair[1])
			}
			wg.Wait()

			matches, err := l.matches.MatchesForUser(ctx, "u1")
			require.NoError(t, err)
			assert.Len(t, matches, 1)
		})
	}
}

func TestConcurrentAcceptancesFormOneMatch(t *testing.T) {
	l := newLedger()
	l.interest.ImplicitMutualAccept = false
	ctx := context.Background()
	_, err := l.interest.ExpressInterest(ctx, "u1", "u2")
	require.NoError(t, err)
	_, err = l.interest.ExpressInterest(ctx, "u2", "u1")
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for _, pair := range [][2]string{{"u1", "u2"}, {"u2", "u1"}, {"u1", "u2"}, {"u2", "u1"}} {
		wg.Add(1)
		go func(acceptor, from string) {
			defer wg.Done()
			outcome, err := l.interest.AcceptInterest(ctx, acceptor, from)
			if !assert.NoError(t, err) {
				return
			}
			if outcome.MatchCreated {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(pair[0], pair[1])
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	matches, err := l.matches.MatchesForUser(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestWithdrawAndReExpressKeepsHistory(t *testing.T) {
	l := newLedger()
	ctx := context.Background()

	first, err := l.interest.ExpressInterest(ctx, "u1", "u2")
	require.NoError(t, err)
	_, err = l.interest.WithdrawInterest(ctx, "u1", "u2")
	require.NoError(t, err)
	second, err := l.interest.ExpressInterest(ctx, "u1", "u2")
	require.NoError(t, err)

	assert.Equal(t, models.InterestPending, second.Interest.Status)
	assert.True(t, second.Interest.CreatedAt.After(first.Interest.CreatedAt))

	history, err := l.interest.History(ctx, "u1", "u2")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "", history[0].FromStatus)
	assert.Equal(t, models.InterestPending, history[0].ToStatus)
	assert.Equal(t, models.InterestWithdrawn, history[1].ToStatus)
	assert.Equal(t, models.InterestWithdrawn, history[2].FromStatus)
	assert.Equal(t, models.InterestPending, history[2].ToStatus)

	outgoing, err := l.interest.ListOutgoing(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, outgoing, 1)
}

func TestExpressingTwiceIsIdempotent(t *testing.T) {
	l := newLedger()
	ctx := context.Background()

	_, err := l.interest.ExpressInterest(ctx, "u1", "u2")
	require.NoError(t, err)
	_, err = l.interest.ExpressInterest(ctx, "u1", "u2")
	require.NoError(t, err)

	history, err := l.interest.History(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRejectedInterestCannotBeReExpressedOrAccepted(t *testing.T) {
	l := newLedger()
	ctx := context.Background()

	_, err := l.interest.ExpressInterest(ctx, "u1", "u2")
	require.NoError(t, err)
	rejected, err := l.interest.RejectInterest(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, models.InterestRejected, rejected.Status)

	_, err = l.interest.ExpressInterest(ctx, "u1", "u2")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = l.interest.AcceptInterest(ctx, "u2", "u1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReciprocatedInterestCannotBeWithdrawn(t *testing.T) {
	l := newLedger()
	ctx := context.Background()
	_, err := l.interest.ExpressInterest(ctx, "u1", "u2")
	require.NoError(t, err)
	_, err = l.interest.AcceptInterest(ctx, "u2", "u1")
	require.NoError(t, err)

	_, err = l.interest.WithdrawInterest(ctx, "u1", "u2")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = l.interest.RejectInterest(ctx, "u2", "u1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAcceptWithoutInterestFails(t *testing.T) {
	l := newLedger()
	_, err := l.interest.AcceptInterest(context.Background(), "u2", "u1")
	assert.ErrorIs(t, err, ErrInterestNotFound)
}

func TestBlockPreventsInterestAndRejectsOpenEdges(t *testing.T) {
	l := newLedger()
	ctx := context.Background()
	_, err := l.interest.ExpressInterest(ctx, "u1", "u2")
	require.NoError(t, err)

	require.NoError(t, l.blocks.Block(ctx, "u2", "u1"))
	require.NoError(t, l.interest.HandleBlock(ctx, "u2", "u1"))

	edge, err := l.interest.GetInterest(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, models.InterestRejected, edge.Status)

	history, err := l.interest.History(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, models.ActorSystem, history[len(history)-1].Actor)

	_, err = l.interest.ExpressInterest(ctx, "u3", "u2")
	require.NoError(t, err)
	_, err = l.interest.ExpressInterest(ctx, "u1", "u2")
	assert.ErrorIs(t, err, ErrBlocked)
	_, err = l.interest.AcceptInterest(ctx, "u1", "u2")
	assert.ErrorIs(t, err, ErrBlocked)
}

func TestSelfInterestIsInvalid(t *testing.T) {
	l := newLedger()
	_, err := l.interest.ExpressInterest(context.Background(), "u1", "u1")
	assert.ErrorIs(t, err, ErrInvalidPair)
}

func TestListIncoming(t *testing.T) {
	l := newLedger()
	ctx := context.Background()
	for _, from := range []string{"u1", "u3"} {
		_, err := l.interest.ExpressInterest(ctx, from, "u2")
		require.NoError(t, err)
	}

	incoming, err := l.interest.ListIncoming(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, incoming, 2)
	assert.Equal(t, "u1", incoming[0].FromUserID)
	assert.Equal(t, "u3", incoming[1].FromUserID)
}
