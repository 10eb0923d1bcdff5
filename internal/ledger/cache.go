package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "educhain:ledger:fact:"

// RedisCache keeps resolved facts in Redis as JSON.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, documentID string) (Fact, bool, error) {
	raw, err := c.client.Get(ctx, cacheKeyPrefix+documentID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Fact{}, false, nil
	}
	if err != nil {
		return Fact{}, false, fmt.Errorf("redis get: %w", err)
	}
	var fact Fact
	if err := json.Unmarshal(raw, &fact); err != nil {
		return Fact{}, false, fmt.Errorf("decode cached fact: %w", err)
	}
	return fact, true, nil
}

func (c *RedisCache) Set(ctx context.Context, fact Fact) error {
	raw, err := json.Marshal(fact)
	if err != nil {
		return fmt.Errorf("encode fact: %w", err)
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+fact.DocumentID, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// MemoryCache is a TTL map used when Redis is not configured.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	fact      Fact
	expiresAt time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryCache{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, documentID string) (Fact, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[documentID]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		return Fact{}, false, nil
	}
	return e.fact, true, nil
}

func (c *MemoryCache) Set(_ context.Context, fact Fact) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fact.DocumentID] = memoryEntry{fact: fact, expiresAt: c.now().Add(c.ttl)}
	return nil
}

var (
	_ Cache = (*RedisCache)(nil)
	_ Cache = (*MemoryCache)(nil)
)
