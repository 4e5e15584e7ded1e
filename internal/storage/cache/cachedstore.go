package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-scheduler/pkg/push"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or an error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

// CacheEntry is what CachedStore keeps under a subscription key. A deleted
// subscription leaves a tombstone so a concurrent read-aside fill cannot
// resurrect it.
type CacheEntry struct {
	Subscription *push.Subscription `json:"subscription,omitempty"`
	Deleted      bool               `json:"deleted,omitempty"`
}

// CachedStore is a decorator that adds read-aside caching of single
// subscription lookups to any SubscriptionStore. Targeted dispatches hit
// Get; broadcasts always read the source of truth.
type CachedStore struct {
	realStore push.SubscriptionStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

func NewCachedStore(realStore push.SubscriptionStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedStore {
	return &CachedStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedStore"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedStore) Get(ctx context.Context, id string) (push.Subscription, error) {
	key := s.cacheKey(id)

	var cached CacheEntry
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		if cached.Deleted {
			return push.Subscription{}, push.ErrSubscriptionNotFound
		}
		if cached.Subscription != nil {
			return *cached.Subscription, nil
		}
	}

	fresh, err := s.realStore.Get(ctx, id)
	if err != nil {
		return push.Subscription{}, err
	}

	// SETNX loses to a tombstone written by a Delete that ran after our read.
	// A Redis outage just means we read the store.
	_, _ = s.cache.SetNX(ctx, key, CacheEntry{Subscription: &fresh}, s.ttl)
	return fresh, nil
}

func (s *CachedStore) List(ctx context.Context) ([]push.Subscription, error) {
	return s.realStore.List(ctx)
}

func (s *CachedStore) Count(ctx context.Context) (int, error) {
	return s.realStore.Count(ctx)
}

// --- WRITE PATHS ---

// Put stores first; the subscription is durable even if the cache cannot be cleared.
func (s *CachedStore) Put(ctx context.Context, sub push.Subscription) error {
	if err := s.realStore.Put(ctx, sub); err != nil {
		return err
	}
	if err := s.cache.Del(ctx, s.cacheKey(sub.ID)); err != nil {
		s.logger.Warn("Failed to invalidate cached subscription", "subscription_id", sub.ID, "err", err)
	}
	return nil
}

// Delete replaces any cached copy with a tombstone that lives as long as a
// cached subscription would, so an evicted endpoint is never served again.
func (s *CachedStore) Delete(ctx context.Context, id string) error {
	if err := s.realStore.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.cache.Set(ctx, s.cacheKey(id), CacheEntry{Deleted: true}, s.ttl); err != nil {
		return fmt.Errorf("failed to tombstone cached subscription %s: %w", id, err)
	}
	return nil
}

func (s *CachedStore) cacheKey(id string) string {
	return fmt.Sprintf("push:subscription:%s", id)
}
