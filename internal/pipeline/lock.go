package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"eloquent/internal/redis"
)

// TurnLock serializes turns per conversation. With redis it is an advisory
// SETNX lock shared across processes; without it a process-local map keeps
// the same single-turn guarantee for a single instance. The pipeline itself
// never interleaves two turns on one conversation; this lock is what
// enforces that against concurrent callers.
type TurnLock struct {
	cache *redis.Client
	ttl   time.Duration

	mu   sync.Mutex
	held map[int64]struct{}
}

// NewTurnLock builds the lock. ttl bounds how long a crashed holder can
// block a conversation when redis backs the lock.
func NewTurnLock(cache *redis.Client, ttl time.Duration) *TurnLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TurnLock{
		cache: cache,
		ttl:   ttl,
		held:  make(map[int64]struct{}),
	}
}

// Acquire takes the conversation's lock, returning ErrTurnInFlight when it
// is already held. The returned release must be called exactly once.
func (l *TurnLock) Acquire(ctx context.Context, conversationID int64) (func(), error) {
	if l.cache.Available() {
		key := lockKey(conversationID)
		ok, err := l.cache.SetNX(ctx, key, "1", l.ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire turn lock: %w", err)
		}
		if !ok {
			return nil, ErrTurnInFlight
		}
		return func() {
			_ = l.cache.Del(context.Background(), key)
		}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[conversationID]; taken {
		return nil, ErrTurnInFlight
	}
	l.held[conversationID] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.held, conversationID)
		l.mu.Unlock()
	}, nil
}

func lockKey(conversationID int64) string {
	return fmt.Sprintf("turnlock:%d", conversationID)
}
