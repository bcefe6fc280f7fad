package cache

import (
	"context"
	"sync"
	"time"

	"crm-sync/infrastructure/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "crm:lock:"

var releaseScript = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RecordLocker serializes work per key. With Redis the lock holds across
// server instances; without it, across goroutines of this process.
type RecordLocker struct {
	client *redis.Client
	retry  time.Duration

	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewRecordLocker(client *redis.Client) *RecordLocker {
	return &RecordLocker{client: client, retry: 50 * time.Millisecond, held: map[string]chan struct{}{}}
}

// Lock blocks until the key is free or ctx is done. The ttl bounds how long a
// crashed holder can keep a Redis lock.
func (l *RecordLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.client == nil {
		return l.lockLocal(ctx, key)
	}
	token := uuid.NewString()
	redisKey := lockKeyPrefix + key
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				if err := releaseScript.Run(context.Background(), l.client, []string{redisKey}, token).Err(); err != nil {
					logger.GetLogger().WithField("key", key).WithField("error", err).Warn("Error while releasing record lock")
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

func (l *RecordLocker) lockLocal(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}
