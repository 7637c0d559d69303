package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another process owns the listener lock.
var ErrLockHeld = errors.New("mailbox listener already running elsewhere")

// ErrLockLost is returned by Refresh when the lock expired or was taken over.
var ErrLockLost = errors.New("mailbox listener lock lost")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// LockClient is the part of a Redis client the lock needs.
type LockClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisLock keeps a single listener per mailbox account.
type RedisLock struct {
	client LockClient
	key    string
	token  string
	ttl    time.Duration
}

// LockKey is the Redis key guarding the listener for username.
func LockKey(username string) string {
	return "mailbox:listener:" + username
}

func NewRedisLock(client LockClient, username string, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, key: LockKey(username), token: uuid.NewString(), ttl: ttl}
}

func (l *RedisLock) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

func (l *RedisLock) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to refresh lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// Release deletes the lock only if this process still owns it.
func (l *RedisLock) Release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}

// KeepAlive refreshes the lock every ttl/3 until ctx ends. It calls lost and
// returns if the lock cannot be kept.
func (l *RedisLock) KeepAlive(ctx context.Context, lost func(error)) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				lost(err)
				return
			}
		}
	}
}
