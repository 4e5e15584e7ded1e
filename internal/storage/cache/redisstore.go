package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/tinywideclouds/go-push-scheduler/pkg/push"
)

// DefaultHashKey holds every subscription as one hash field per ID.
const DefaultHashKey = "push:subscriptions"

// RedisStore is a SubscriptionStore kept in a single Redis hash, so
// subscriptions survive a restart of the service.
type RedisStore struct {
	rdb    *redis.Client
	key    string
	logger *slog.Logger
}

func NewRedisStore(client *RedisClient, key string, logger *slog.Logger) *RedisStore {
	if key == "" {
		key = DefaultHashKey
	}
	return &RedisStore{
		rdb:    client.rdb,
		key:    key,
		logger: logger.With("component", "RedisStore"),
	}
}

func (s *RedisStore) Put(ctx context.Context, sub push.Subscription) error {
	b, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}
	return s.rdb.HSet(ctx, s.key, sub.ID, b).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (push.Subscription, error) {
	b, err := s.rdb.HGet(ctx, s.key, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return push.Subscription{}, push.ErrSubscriptionNotFound
		}
		return push.Subscription{}, err
	}
	var sub push.Subscription
	if err := json.Unmarshal(b, &sub); err != nil {
		return push.Subscription{}, fmt.Errorf("corrupt subscription %s: %w", id, err)
	}
	return sub, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.rdb.HDel(ctx, s.key, id).Err()
}

// List skips fields that no longer decode rather than failing the whole broadcast.
func (s *RedisStore) List(ctx context.Context) ([]push.Subscription, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]push.Subscription, 0, len(fields))
	for id, raw := range fields {
		var sub push.Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			s.logger.Warn("Skipping corrupt subscription", "subscription_id", id, "err", err)
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.rdb.HLen(ctx, s.key).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
