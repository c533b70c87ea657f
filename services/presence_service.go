package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"vibin_realtime/models"
)

// PresenceStore keeps server-side typing indicators. Entries expire on their
// own after the staleness window, so a lost typing:stop cannot leave one stuck.
type PresenceStore interface {
	SetTyping(ctx context.Context, conversationID, userID string, typing bool) error
	TypingUsers(ctx context.Context, conversationID string) ([]string, error)
}

const typingPrefix = "typing:" // typing:{conversationId} - zset of userId scored by expiry

// RedisPresence stores one sorted set per conversation, scored by expiry time.
type RedisPresence struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewRedisPresence(rdb *redis.Client, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = models.TypingStaleAfter
	}
	return &RedisPresence{rdb: rdb, ttl: ttl, now: time.Now}
}

func (p *RedisPresence) SetTyping(ctx context.Context, conversationID, userID string, typing bool) error {
	key := typingPrefix + conversationID
	if !typing {
		if err := p.rdb.ZRem(ctx, key, userID).Err(); err != nil {
			return fmt.Errorf("failed to clear typing: %w", err)
		}
		return nil
	}

	expiresAt := p.now().Add(p.ttl).UnixMilli()
	pipe := p.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiresAt), Member: userID})
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set typing: %w", err)
	}
	return nil
}

func (p *RedisPresence) TypingUsers(ctx context.Context, conversationID string) ([]string, error) {
	key := typingPrefix + conversationID
	now := strconv.FormatInt(p.now().UnixMilli(), 10)

	pipe := p.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", now)
	users := pipe.ZRange(ctx, key, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read typing users: %w", err)
	}
	return users.Val(), nil
}

// MemoryPresence is the in-process PresenceStore used without Redis.
type MemoryPresence struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	typing map[string]map[string]time.Time
}

func NewMemoryPresence(ttl time.Duration, now func() time.Time) *MemoryPresence {
	if ttl <= 0 {
		ttl = models.TypingStaleAfter
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryPresence{ttl: ttl, now: now, typing: make(map[string]map[string]time.Time)}
}

func (p *MemoryPresence) SetTyping(ctx context.Context, conversationID, userID string, typing bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !typing {
		delete(p.typing[conversationID], userID)
		return nil
	}
	if p.typing[conversationID] == nil {
		p.typing[conversationID] = make(map[string]time.Time)
	}
	p.typing[conversationID][userID] = p.now()
	return nil
}

func (p *MemoryPresence) TypingUsers(ctx context.Context, conversationID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	users := []string{}
	for userID, updatedAt := range p.typing[conversationID] {
		if now.Sub(updatedAt) > p.ttl {
			delete(p.typing[conversationID], userID)
			continue
		}
		users = append(users, userID)
	}
	sort.Strings(users)
	return users, nil
}
