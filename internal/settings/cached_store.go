package settings

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheTTL = 5 * time.Minute

// CachedStore is a read-through Redis cache in front of another Store.
// Settings are read on nearly every bot message but change rarely, so a
// short TTL plus invalidation on write keeps the database off the hot
// path. Cache failures degrade to the underlying store, never to an
// error.
type CachedStore struct {
	inner Store
	cache *redis.Client
}

func NewCachedStore(inner Store, cache *redis.Client) Store {
	return &CachedStore{inner: inner, cache: cache}
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("settings:%d", userID)
}

func (s *CachedStore) Get(ctx context.Context, userID int64) (*Settings, error) {
	key := cacheKey(userID)

	var cached Settings
	err := s.cache.Get(ctx, key).Scan(&cached)
	if err == nil {
		return &cached, nil
	}
	if err != redis.Nil {
		log.Printf("settings: redis error: %v", err)
	}

	st, err := s.inner.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	_ = s.cache.Set(ctx, key, st, cacheTTL).Err()
	return st, nil
}

func (s *CachedStore) Insert(ctx context.Context, st *Settings) error {
	if err := s.inner.Insert(ctx, st); err != nil {
		return err
	}
	_ = s.cache.Del(ctx, cacheKey(st.UserID)).Err()
	return nil
}

func (s *CachedStore) UpdateModel(ctx context.Context, userID int64, modelName string, lastUpdate time.Time) error {
	if err := s.inner.UpdateModel(ctx, userID, modelName, lastUpdate); err != nil {
		return err
	}
	_ = s.cache.Del(ctx, cacheKey(userID)).Err()
	return nil
}

func (s *CachedStore) UpdateBrain(ctx context.Context, userID int64, brain string, lastUpdate time.Time) error {
	if err := s.inner.UpdateBrain(ctx, userID, brain, lastUpdate); err != nil {
		return err
	}
	_ = s.cache.Del(ctx, cacheKey(userID)).Err()
	return nil
}
