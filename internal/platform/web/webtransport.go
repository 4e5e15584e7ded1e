package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-push-scheduler/pkg/push"
	"github.com/tinywideclouds/go-push-scheduler/pushservice/config"
)

type Transport struct {
	subscriber string
	privateKey string
	publicKey  string
	ttl        int
	logger     *slog.Logger
	httpClient *http.Client
	now        func() time.Time
}

func NewTransport(cfg config.VapidConfig, logger *slog.Logger) *Transport {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 60
	}
	return &Transport{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		ttl:        ttl,
		logger:     logger.With("component", "WebPushTransport"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
}

// Deliver sends one encrypted Web Push message.
// 404 and 410 mean the push service has dropped the subscription; anything
// else that is not a 2xx is treated as transient.
func (t *Transport) Deliver(ctx context.Context, endpoint push.Endpoint, payload []byte) (push.Outcome, error) {
	if endpoint.URL == "" {
		return push.PermanentFailure, errors.New("subscription has no endpoint url")
	}
	if endpoint.Expired(t.now()) {
		return push.PermanentFailure, errors.New("subscription expired")
	}

	// 1. Build the VAPID Subscription
	s := &webpush.Subscription{
		Endpoint: endpoint.URL,
		Keys: webpush.Keys{
			P256dh: endpoint.Keys.P256dh,
			Auth:   endpoint.Keys.Auth,
		},
	}

	// 2. Send via webpush-go
	resp, err := webpush.SendNotificationWithContext(ctx, payload, s, &webpush.Options{
		Subscriber:      t.subscriber,
		VAPIDPublicKey:  t.publicKey,
		VAPIDPrivateKey: t.privateKey,
		TTL:             t.ttl,
		HTTPClient:      t.httpClient,
	})
	if err != nil {
		// Transport error (DNS, timeout, bad key material) - keep the subscription
		t.logger.Error("WebPush transport error", "endpoint", endpoint.URL, "err", err)
		return push.TransientFailure, fmt.Errorf("webpush send failed: %w", err)
	}
	defer resp.Body.Close()

	// 3. Handle Response Codes
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return push.Delivered, nil
	case http.StatusGone, http.StatusNotFound:
		return push.PermanentFailure, fmt.Errorf("push service reports subscription gone (status %d)", resp.StatusCode)
	default:
		t.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", endpoint.URL)
		return push.TransientFailure, fmt.Errorf("push service rejected message (status %d)", resp.StatusCode)
	}
}

// GenerateKeys creates a fresh VAPID key pair.
func GenerateKeys() (privateKey, publicKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate vapid keys: %w", err)
	}
	return privateKey, publicKey, nil
}
