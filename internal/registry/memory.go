package registry

import (
	"context"
	"sync"

	"github.com/tinywideclouds/go-push-scheduler/pkg/push"
)

// MemoryStore is the default process-lifetime SubscriptionStore.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]push.Subscription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]push.Subscription)}
}

func (s *MemoryStore) Put(_ context.Context, sub push.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (push.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return push.Subscription{}, push.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
	return nil
}

// List copies the map under the read lock so callers iterate a stable snapshot.
func (s *MemoryStore) List(_ context.Context) ([]push.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]push.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs), nil
}
