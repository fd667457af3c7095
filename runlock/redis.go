package runlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisTTL bounds how long a crashed holder keeps the lock
const DefaultRedisTTL = time.Hour

// releaseScript deletes the key only if it still carries our token
const releaseScript = `
local v = redis.call("GET", KEYS[1])
if v == false then return 0 end
if string.find(v, ARGV[1], 1, true) then return redis.call("DEL", KEYS[1]) end
return 0
`

// redisCommands is the subset of *redis.Client the locker uses
type redisCommands interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLocker holds the run lock as a Redis key, for runs scheduled on
// more than one host
type RedisLocker struct {
	client redisCommands
	key    string
	ttl    time.Duration
}

// NewRedisLocker creates a locker on key with the given TTL
func NewRedisLocker(client redisCommands, key string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisLocker{client: client, key: key, ttl: ttl}
}

// Name returns the lock key
func (l *RedisLocker) Name() string { return "redis:" + l.key }

// Acquire runs SET NX with the TTL
func (l *RedisLocker) Acquire(ctx context.Context) (Lease, error) {
	holder := newHolder()
	value, err := json.Marshal(holder)
	if err != nil {
		return nil, fmt.Errorf("encode lock holder: %w", err)
	}

	ok, err := l.client.SetNX(ctx, l.key, string(value), l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire redis lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, alreadyRunning(l.Name(), l.currentHolder(ctx))
	}

	return &redisLease{client: l.client, key: l.key, holder: holder}, nil
}

func (l *RedisLocker) currentHolder(ctx context.Context) *Holder {
	raw, err := l.client.Get(ctx, l.key).Result()
	if err != nil {
		return nil
	}
	var h Holder
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil
	}
	return &h
}

type redisLease struct {
	client redisCommands
	key    string
	holder Holder
	once   sync.Once
	err    error
}

func (l *redisLease) Token() string { return l.holder.Token }

// Release deletes the key if this lease still owns it. The caller's
// context may already be cancelled on abnormal exits, so a fresh bounded
// context is used.
func (l *redisLease) Release(_ context.Context) error {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.holder.Token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			l.err = fmt.Errorf("release redis lock %s: %w", l.key, err)
		}
	})
	return l.err
}
