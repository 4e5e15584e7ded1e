package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-scheduler/pkg/push"
)

// DefaultCollection is the root collection holding one document per subscription.
const DefaultCollection = "subscriptions"

// Store implements push.SubscriptionStore using Google Cloud Firestore.
// Document IDs are the subscription IDs.
type Store struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

func NewStore(client *firestore.Client, collection string, logger *slog.Logger) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{
		client:     client,
		collection: collection,
		logger:     logger.With("component", "FirestoreStore"),
	}
}

func (s *Store) Put(ctx context.Context, sub push.Subscription) error {
	_, err := s.subscriptions().Doc(sub.ID).Set(ctx, sub)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (push.Subscription, error) {
	doc, err := s.subscriptions().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return push.Subscription{}, push.ErrSubscriptionNotFound
		}
		return push.Subscription{}, err
	}
	var sub push.Subscription
	if err := doc.DataTo(&sub); err != nil {
		return push.Subscription{}, fmt.Errorf("corrupt subscription %s: %w", id, err)
	}
	return sub, nil
}

// Delete of a missing document succeeds in Firestore.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.subscriptions().Doc(id).Delete(ctx)
	return err
}

func (s *Store) List(ctx context.Context) ([]push.Subscription, error) {
	iter := s.subscriptions().Documents(ctx)
	defer iter.Stop()

	out := make([]push.Subscription, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var sub push.Subscription
		if err := doc.DataTo(&sub); err != nil {
			s.logger.Warn("Skipping corrupt subscription", "doc_id", doc.Ref.ID, "err", err)
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.subscriptions().NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("firestore count failed: %w", err)
	}
	v, ok := res["all"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("unexpected count result type %T", res["all"])
	}
	return int(v.GetIntegerValue()), nil
}

func (s *Store) subscriptions() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}
