package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchIDIsOrderIndependent(t *testing.T) {
	pairs := [][2]string{{"u1", "u2"}, {"alice", "bob"}, {"z", "a"}, {"user-10", "user-9"}}
	for _, p := range pairs {
		ab, err := MatchID(p[0], p[1])
		require.NoError(t, err)
		ba, err := MatchID(p[1], p[0])
		require.NoError(t, err)
		assert.Equal(t, ab, ba, "pair %v", p)

		convAB, err := ConversationID(p[0], p[1])
		require.NoError(t, err)
		convBA, err := ConversationID(p[1], p[0])
		require.NoError(t, err)
		assert.Equal(t, convAB, convBA)
		assert.NotEqual(t, ab, convAB)
	}
}

func TestMatchIDSeparatesPairs(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not collide
	one, err := MatchID("ab", "c")
	require.NoError(t, err)
	two, err := MatchID("a", "bc")
	require.NoError(t, err)
	assert.NotEqual(t, one, two)
}

func TestMatchIDRejectsInvalidPairs(t *testing.T) {
	for _, p := range [][2]string{{"u1", "u1"}, {"", "u2"}, {"u1", ""}} {
		_, err := MatchID(p[0], p[1])
		assert.ErrorIs(t, err, ErrInvalidPair)
	}
}

func TestFormMatchIsIdempotentAcrossOrder(t *testing.T) {
	l := newLedger()
	ctx := context.Background()

	first, created, err := l.matches.FormMatch(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "u1", first.UserAID)
	assert.Equal(t, "u2", first.UserBID)

	second, created, err := l.matches.FormMatch(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.MatchID, second.MatchID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	matches, err := l.matches.MatchesForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestFormMatchConcurrentCallersCreateOnce(t *testing.T) {
	l := newLedger()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "u1", "u2"
			if i%2 == 0 {
				a, b = b, a
			}
			_, ok, err := l.matches.FormMatch(ctx, a, b)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestFormMatchRefusesBlockedPair(t *testing.T) {
	l := newLedger()
	ctx := context.Background()
	require.NoError(t, l.blocks.Block(ctx, "u2", "u1"))

	_, _, err := l.matches.FormMatch(ctx, "u1", "u2")
	assert.ErrorIs(t, err, ErrBlocked)
}

func TestParticipantOf(t *testing.T) {
	l := newLedger()
	ctx := context.Background()
	match, _, err := l.matches.FormMatch(ctx, "u1", "u2")
	require.NoError(t, err)

	got, err := l.matches.ParticipantOf(ctx, match.ConversationID, "u2")
	require.NoError(t, err)
	assert.Equal(t, match.MatchID, got.MatchID)

	_, err = l.matches.ParticipantOf(ctx, match.ConversationID, "u3")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = l.matches.ParticipantOf(ctx, fmt.Sprintf("%s-x", match.ConversationID), "u1")
	assert.ErrorIs(t, err, ErrNotParticipant)
}
