// --- File: pkg/push/interfaces.go ---
package push

import (
	"context"
)

// Transport defines the contract for a component that can deliver a payload
// to a single endpoint on one platform (Web Push, FCM, APNs).
type Transport interface {
	// Deliver attempts one delivery and classifies the result.
	// The returned error carries the failure detail for logging and is nil
	// when the outcome is Delivered.
	Deliver(ctx context.Context, endpoint Endpoint, payload []byte) (Outcome, error)
}

// SubscriptionStore defines the contract for the backing storage of the
// subscription registry. It allows the service to remember "where" to send
// notifications.
type SubscriptionStore interface {
	// Put stores the subscription under its ID.
	Put(ctx context.Context, sub Subscription) error

	// Get returns ErrSubscriptionNotFound when the id is unknown.
	Get(ctx context.Context, id string) (Subscription, error)

	// Delete removes the subscription. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// List returns a point-in-time snapshot of every stored subscription.
	List(ctx context.Context) ([]Subscription, error)

	// Count returns the number of stored subscriptions.
	Count(ctx context.Context) (int, error)
}
