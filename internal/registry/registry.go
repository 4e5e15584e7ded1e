// Package registry owns the set of live push endpoints.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-push-scheduler/pkg/push"
)

// Registry generates subscription IDs and delegates storage to a SubscriptionStore.
type Registry struct {
	store  push.SubscriptionStore
	now    func() time.Time
	logger *slog.Logger
}

func New(store push.SubscriptionStore, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		now:    time.Now,
		logger: logger.With("component", "SubscriptionRegistry"),
	}
}

// Add stores the endpoint under a fresh UUIDv7 and returns the ID.
// The endpoint is stored as given; a malformed one fails later at delivery.
func (r *Registry) Add(ctx context.Context, endpoint push.Endpoint) (string, error) {
	uid, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate subscription id: %w", err)
	}
	sub := push.Subscription{
		ID:        uid.String(),
		Endpoint:  endpoint,
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.Put(ctx, sub); err != nil {
		return "", fmt.Errorf("failed to store subscription: %w", err)
	}
	r.logger.Info("Subscription added", "subscription_id", sub.ID, "platform", endpoint.PlatformOrDefault())
	return sub.ID, nil
}

// Remove deletes the subscription. Unknown ids are ignored so racing evictions are harmless.
func (r *Registry) Remove(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to remove subscription %s: %w", id, err)
	}
	r.logger.Debug("Subscription removed", "subscription_id", id)
	return nil
}

// Get returns push.ErrSubscriptionNotFound for unknown ids.
func (r *Registry) Get(ctx context.Context, id string) (push.Endpoint, error) {
	sub, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, push.ErrSubscriptionNotFound) {
			return push.Endpoint{}, err
		}
		return push.Endpoint{}, fmt.Errorf("failed to get subscription %s: %w", id, err)
	}
	return sub.Endpoint, nil
}

func (r *Registry) ListAll(ctx context.Context) ([]push.Subscription, error) {
	subs, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

func (r *Registry) Count(ctx context.Context) (int, error) {
	n, err := r.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	return n, nil
}
