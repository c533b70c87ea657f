package services

import (
	"sync"
	"time"

	"vibin_realtime/store"
)

// tickingClock returns a strictly increasing time on every call.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickingClock() *tickingClock {
	return &tickingClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type ledger struct {
	store    *store.MemoryStore
	blocks   *MemoryBlockList
	matches  *MatchService
	interest *InterestService
	chat     *ChatService
}

func newLedger() *ledger {
	clock := newTickingClock()
	s := store.NewMemoryStore()
	blocks := NewMemoryBlockList()
	matches := NewMatchService(s, blocks)
	matches.Now = clock.Now
	interest := NewInterestService(s, matches, blocks)
	interest.Now = clock.Now
	chat := NewChatService(s, matches)
	chat.Now = clock.Now
	return &ledger{store: s, blocks: blocks, matches: matches, interest: interest, chat: chat}
}
