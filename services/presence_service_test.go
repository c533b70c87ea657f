package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPresenceExpiresWithoutStop(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p := NewMemoryPresence(time.Minute, func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, p.SetTyping(ctx, "c", "u1", true))
	require.NoError(t, p.SetTyping(ctx, "c", "u2", true))
	require.NoError(t, p.SetTyping(ctx, "c", "u2", false))

	users, err := p.TypingUsers(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)

	now = now.Add(61 * time.Second)
	users, err = p.TypingUsers(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestMemoryBlockListIsSymmetric(t *testing.T) {
	b := NewMemoryBlockList()
	ctx := context.Background()
	require.NoError(t, b.Block(ctx, "u1", "u2"))

	for _, pair := range [][2]string{{"u1", "u2"}, {"u2", "u1"}} {
		blocked, err := b.IsBlocked(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.True(t, blocked)
	}
	blocked, err := b.IsBlocked(ctx, "u1", "u3")
	require.NoError(t, err)
	assert.False(t, blocked)
}
