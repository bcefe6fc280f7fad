package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const nonceKeyPrefix = "crm:oauth-state:"

// StateNonceStore records consumed OAuth state nonces so a state token can be
// redeemed once. Without Redis the set lives in memory and is pruned on use.
type StateNonceStore struct {
	client *redis.Client
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewStateNonceStore(client *redis.Client) *StateNonceStore {
	return &StateNonceStore{client: client, now: time.Now, seen: map[string]time.Time{}}
}

func (s *StateNonceStore) Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	if s.client != nil {
		return s.client.SetNX(ctx, nonceKeyPrefix+nonce, 1, ttl).Result()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, exp := range s.seen {
		if now.After(exp) {
			delete(s.seen, k)
		}
	}
	if _, used := s.seen[nonce]; used {
		return false, nil
	}
	s.seen[nonce] = now.Add(ttl)
	return true, nil
}
