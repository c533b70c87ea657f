package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// BlockChecker answers whether either user has blocked the other.
type BlockChecker interface {
	IsBlocked(ctx context.Context, userA, userB string) (bool, error)
}

// BlockList is a BlockChecker that can also record blocks.
type BlockList interface {
	BlockChecker
	Block(ctx context.Context, blocker, blocked string) error
}

const blocksPrefix = "blocks:" // blocks:{userId} - set of user ids this user blocked

// RedisBlockList keeps one Redis set per blocker.
type RedisBlockList struct {
	rdb *redis.Client
}

func NewRedisBlockList(rdb *redis.Client) *RedisBlockList {
	return &RedisBlockList{rdb: rdb}
}

func (b *RedisBlockList) Block(ctx context.Context, blocker, blocked string) error {
	if err := b.rdb.SAdd(ctx, blocksPrefix+blocker, blocked).Err(); err != nil {
		return fmt.Errorf("failed to record block: %w", err)
	}
	return nil
}

func (b *RedisBlockList) IsBlocked(ctx context.Context, userA, userB string) (bool, error) {
	pipe := b.rdb.Pipeline()
	ab := pipe.SIsMember(ctx, blocksPrefix+userA, userB)
	ba := pipe.SIsMember(ctx, blocksPrefix+userB, userA)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to check blocks: %w", err)
	}
	return ab.Val() || ba.Val(), nil
}

// MemoryBlockList is the in-process BlockList used without Redis.
type MemoryBlockList struct {
	mu      sync.RWMutex
	blocked map[string]map[string]bool
}

func NewMemoryBlockList() *MemoryBlockList {
	return &MemoryBlockList{blocked: make(map[string]map[string]bool)}
}

func (b *MemoryBlockList) Block(ctx context.Context, blocker, blocked string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.blocked[blocker] == nil {
		b.blocked[blocker] = make(map[string]bool)
	}
	b.blocked[blocker][blocked] = true
	return nil
}

func (b *MemoryBlockList) IsBlocked(ctx context.Context, userA, userB string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.blocked[userA][userB] || b.blocked[userB][userA], nil
}
