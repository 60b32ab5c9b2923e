package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"eloquent/internal/redis"
)

// CachedRetriever memoizes query results in redis. Cache failures are
// logged and treated as misses; retrieval never fails because of the cache.
type CachedRetriever struct {
	inner  Retriever
	cache  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedRetriever wraps a retriever with the redis query cache.
func NewCachedRetriever(inner Retriever, cache *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedRetriever{inner: inner, cache: cache, ttl: ttl, logger: logger}
}

// Query checks the cache before delegating. Empty results are cached too;
// a zero-match query is a valid answer worth remembering.
func (r *CachedRetriever) Query(ctx context.Context, text string, topK int) (string, error) {
	key := cacheKey(text, topK)
	if cached, err := r.cache.Get(ctx, key); err == nil {
		return cached, nil
	} else if !errors.Is(err, redis.ErrCacheMiss) {
		r.logger.Warn("retrieval cache read failed", zap.Error(err))
	}

	result, err := r.inner.Query(ctx, text, topK)
	if err != nil {
		return "", err
	}
	if err := r.cache.Set(ctx, key, result, r.ttl); err != nil {
		r.logger.Warn("retrieval cache write failed", zap.Error(err))
	}
	return result, nil
}

func cacheKey(text string, topK int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", topK, text)))
	return "retrieval:" + hex.EncodeToString(sum[:])
}
