package services

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ContactLockTTL bounds how long one inbound message may hold a contact
const ContactLockTTL = 30 * time.Second

// ContactLocker serializes message processing per contact. Acquire returns
// ErrLockHeld when another holder owns the key; any other error means the
// lock backend is unavailable.
type ContactLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisContactLocker holds per-contact locks in redis so they apply across processes
type RedisContactLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisContactLocker(client *redis.Client) *RedisContactLocker {
	return &RedisContactLocker{client: client, prefix: "lock:contact:"}
}

func (l *RedisContactLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	redisKey := l.prefix + key

	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func() {
		// Release must run even when the request context is already done.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
	}, nil
}

// MemoryContactLocker is the single-process locker used without redis
type MemoryContactLocker struct {
	mu   sync.Mutex
	held map[string]memoryLease
	now  func() time.Time
}

type memoryLease struct {
	token   uuid.UUID
	expires time.Time
}

func NewMemoryContactLocker() *MemoryContactLocker {
	return &MemoryContactLocker{
		held: make(map[string]memoryLease),
		now:  time.Now,
	}
}

func (l *MemoryContactLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if lease, ok := l.held[key]; ok && now.Before(lease.expires) {
		return nil, ErrLockHeld
	}
	token := uuid.New()
	l.held[key] = memoryLease{token: token, expires: now.Add(ttl)}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lease, ok := l.held[key]; ok && lease.token == token {
			delete(l.held, key)
		}
	}, nil
}
