// --- File: internal/platform/apns/apnstransport.go ---
// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-push-scheduler/pkg/push"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Transport struct {
	client APNSClient
	topic  string // The App Bundle ID (e.g. com.tinywide.messenger)
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	Sandbox      bool
}

// NewTransport creates a configured APNs transport.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewTransport(cfg Config, logger *slog.Logger) (*Transport, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return &Transport{
		client: client,
		topic:  cfg.BundleID,
		logger: logger.With("component", "APNSTransport"),
	}, nil
}

// Deliver sends to one device token.
// The APNs HTTP/2 API is unary, so the engine's fan-out provides the parallelism.
func (t *Transport) Deliver(ctx context.Context, endpoint push.Endpoint, body []byte) (push.Outcome, error) {
	if endpoint.Token == "" {
		return push.PermanentFailure, errors.New("apns endpoint has no device token")
	}

	var p push.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return push.TransientFailure, fmt.Errorf("failed to decode payload: %w", err)
	}

	builder := payload.NewPayload().
		AlertTitle(p.Title).
		AlertBody(p.Body).
		Sound("default").
		Custom("timestamp", p.Timestamp)

	notification := &apns2.Notification{
		DeviceToken: endpoint.Token,
		Topic:       t.topic,
		Payload:     builder,
	}

	res, err := t.client.PushWithContext(ctx, notification)
	if err != nil {
		// Network/Transport Failure
		t.logger.Error("APNs transport failed", "token", endpoint.Token, "err", err)
		return push.TransientFailure, fmt.Errorf("apns transport failed: %w", err)
	}

	if res.Sent() {
		return push.Delivered, nil
	}

	// See: https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
	switch {
	case res.StatusCode == http.StatusGone,
		res.Reason == apns2.ReasonBadDeviceToken,
		res.Reason == apns2.ReasonUnregistered,
		res.Reason == apns2.ReasonDeviceTokenNotForTopic:
		return push.PermanentFailure, fmt.Errorf("apns rejected device token: %s", res.Reason)
	default:
		// TopicDisallowed, PayloadEmpty etc. point at our configuration, not the token.
		t.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		return push.TransientFailure, fmt.Errorf("apns rejected notification: %d %s", res.StatusCode, res.Reason)
	}
}
