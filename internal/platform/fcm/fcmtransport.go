// --- File: internal/platform/fcm/fcmtransport.go ---
package fcm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-scheduler/pkg/push"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// sendErrors classifies Send failures. Only errors about the token itself are
// permanent; INVALID_ARGUMENT also covers a bad message (an oversized payload,
// say) and must not evict a healthy token.
type sendErrors struct {
	unregistered    func(error) bool
	senderMismatch  func(error) bool
	invalidArgument func(error) bool
}

var fcmSendErrors = sendErrors{
	unregistered:    messaging.IsRegistrationTokenNotRegistered,
	senderMismatch:  messaging.IsSenderIDMismatch,
	invalidArgument: messaging.IsInvalidArgument,
}

func (c sendErrors) outcome(err error) push.Outcome {
	if c.unregistered(err) || c.senderMismatch(err) {
		return push.PermanentFailure
	}
	return push.TransientFailure
}

type Transport struct {
	client   MessagingClient
	sendErrs sendErrors
	icon     string
	logger   *slog.Logger
}

// NewTransport accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewTransport(client MessagingClient, logger *slog.Logger) *Transport {
	return &Transport{
		client:   client,
		sendErrs: fcmSendErrors,
		icon:     "/assets/icons/icon-192x192.png",
		logger:   logger.With("component", "FCMTransport"),
	}
}

// Deliver sends to a single registration token.
func (t *Transport) Deliver(ctx context.Context, endpoint push.Endpoint, payload []byte) (push.Outcome, error) {
	if endpoint.Token == "" {
		return push.PermanentFailure, errors.New("fcm endpoint has no registration token")
	}

	var p push.Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return push.TransientFailure, fmt.Errorf("failed to decode payload: %w", err)
	}

	msg := &messaging.Message{
		Token: endpoint.Token,
		Data: map[string]string{
			"title":     p.Title,
			"body":      p.Body,
			"timestamp": strconv.FormatInt(p.Timestamp, 10),
		},
		Notification: &messaging.Notification{
			Title: p.Title,
			Body:  p.Body,
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: p.Title,
				Body:  p.Body,
				Icon:  t.icon,
			},
		},
	}

	messageID, err := t.client.Send(ctx, msg)
	if err != nil {
		if t.sendErrs.outcome(err) == push.PermanentFailure {
			return push.PermanentFailure, fmt.Errorf("fcm rejected token: %w", err)
		}
		if t.sendErrs.invalidArgument(err) {
			t.logger.Warn("FCM rejected message", "err", err)
			return push.TransientFailure, fmt.Errorf("fcm rejected message: %w", err)
		}
		t.logger.Warn("FCM send failed", "err", err)
		return push.TransientFailure, fmt.Errorf("fcm transport failed: %w", err)
	}

	t.logger.Debug("FCM delivered", "message_id", messageID)
	return push.Delivered, nil
}
