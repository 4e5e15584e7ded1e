// Package push contains the public domain models and interfaces shared by the
// registry, the dispatch engine and the scheduler.
package push

import (
	"time"
)

// Platform names the transport an Endpoint is addressed through.
type Platform string

const (
	PlatformWeb  Platform = "web"
	PlatformFCM  Platform = "fcm"
	PlatformAPNS Platform = "apns"
)

// Keys holds the browser-generated encryption material of a Web Push subscription.
type Keys struct {
	P256dh string `json:"p256dh" firestore:"p256dh"`
	Auth   string `json:"auth" firestore:"auth"`
}

// Endpoint is the transport-specific address of one client.
// For web clients it mirrors PushSubscription.toJSON(); native clients carry a
// device token instead.
type Endpoint struct {
	Platform Platform `json:"platform,omitempty" firestore:"platform,omitempty"`
	URL      string   `json:"endpoint,omitempty" firestore:"endpoint,omitempty"`
	// ExpirationTime is the browser-reported expiry in Unix milliseconds, if any.
	ExpirationTime *float64 `json:"expirationTime,omitempty" firestore:"expiration_time,omitempty"`
	Keys           Keys     `json:"keys" firestore:"keys"`
	Token          string   `json:"token,omitempty" firestore:"token,omitempty"`
}

// PlatformOrDefault treats an unset platform as Web Push.
func (e Endpoint) PlatformOrDefault() Platform {
	if e.Platform == "" {
		return PlatformWeb
	}
	return e.Platform
}

// Expired reports whether the browser-declared expiry has passed.
func (e Endpoint) Expired(now time.Time) bool {
	if e.ExpirationTime == nil || *e.ExpirationTime <= 0 {
		return false
	}
	return now.UnixMilli() >= int64(*e.ExpirationTime)
}

// Subscription is an Endpoint registered under a generated ID.
type Subscription struct {
	ID        string    `json:"id" firestore:"id"`
	Endpoint  Endpoint  `json:"subscription" firestore:"endpoint"`
	CreatedAt time.Time `json:"created_at" firestore:"created_at"`
}

// Kind distinguishes immediate pushes from scheduled ones; each has its own defaults.
type Kind string

const (
	KindImmediate Kind = "immediate"
	KindScheduled Kind = "scheduled"
)

// Request asks the dispatch engine to deliver one notification.
// An empty TargetID broadcasts to every registered subscription.
type Request struct {
	Title    string
	Body     string
	TargetID string
	Kind     Kind
}

// Payload is the JSON body handed to the transport.
type Payload struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
}

// Outcome classifies a single delivery attempt.
type Outcome int

const (
	Delivered Outcome = iota
	// TransientFailure leaves the endpoint registered.
	TransientFailure
	// PermanentFailure means the endpoint is gone and must be evicted.
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case TransientFailure:
		return "transient_failure"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Result aggregates the outcomes of one dispatch.
// Sent+Failed always equals the size of the resolved target set.
type Result struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Evicted int `json:"-"`
}

// Task is a pending scheduled push.
type Task struct {
	ID        string
	FiresAt   time.Time
	Title     string
	Body      string
	TargetID  string
	CreatedAt time.Time
}
