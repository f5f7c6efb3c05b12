package services

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// InboundDedupTTL is how long a provider message id is remembered
const InboundDedupTTL = time.Hour

// InboundDeduper drops provider redeliveries of the same inbound message
type InboundDeduper interface {
	FirstSeen(ctx context.Context, messageID string) (bool, error)
}

// RedisInboundDeduper marks message ids with SETNX
type RedisInboundDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisInboundDeduper(client *redis.Client) *RedisInboundDeduper {
	return &RedisInboundDeduper{client: client, ttl: InboundDedupTTL}
}

func (d *RedisInboundDeduper) FirstSeen(ctx context.Context, messageID string) (bool, error) {
	return d.client.SetNX(ctx, "sms:inbound:"+messageID, 1, d.ttl).Result()
}

// MemoryInboundDeduper is the single-process deduper used without redis
type MemoryInboundDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryInboundDeduper() *MemoryInboundDeduper {
	return &MemoryInboundDeduper{
		seen: make(map[string]time.Time),
		ttl:  InboundDedupTTL,
		now:  time.Now,
	}
}

func (d *MemoryInboundDeduper) FirstSeen(ctx context.Context, messageID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if expires, ok := d.seen[messageID]; ok && now.Before(expires) {
		return false, nil
	}
	// Prune lazily so the map stays bounded by the TTL.
	if len(d.seen) > 10000 {
		for id, expires := range d.seen {
			if !now.Before(expires) {
				delete(d.seen, id)
			}
		}
	}
	d.seen[messageID] = now.Add(d.ttl)
	return true, nil
}
