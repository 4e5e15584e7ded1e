// --- File: internal/platform/apns/transport_internal_test.go ---
package apns

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-scheduler/pkg/push"
)

type MockAPNSClient struct {
	mock.Mock
}

func (m *MockAPNSClient) PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apns2.Response), args.Error(1)
}

func TestDeliver_Internal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	body := []byte(`{"title":"Hello iOS","body":"Body","timestamp":1}`)
	endpoint := push.Endpoint{Platform: push.PlatformAPNS, Token: "token-1"}

	newTransport := func(client APNSClient) *Transport {
		return &Transport{client: client, topic: "com.test.app", logger: logger}
	}

	t.Run("Happy Path - Success", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		mockClient.On("PushWithContext", ctx, mock.MatchedBy(func(n *apns2.Notification) bool {
			return n.DeviceToken == "token-1" && n.Topic == "com.test.app"
		})).Return(&apns2.Response{StatusCode: http.StatusOK}, nil)

		outcome, err := newTransport(mockClient).Deliver(ctx, endpoint, body)

		require.NoError(t, err)
		assert.Equal(t, push.Delivered, outcome)
		mockClient.AssertExpectations(t)
	})

	t.Run("Bad Device Token is permanent", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		mockClient.On("PushWithContext", mock.Anything, mock.Anything).Return(&apns2.Response{
			StatusCode: http.StatusBadRequest,
			Reason:     apns2.ReasonBadDeviceToken,
		}, nil)

		outcome, err := newTransport(mockClient).Deliver(ctx, endpoint, body)

		require.Error(t, err)
		assert.Equal(t, push.PermanentFailure, outcome)
	})

	t.Run("410 Unregistered is permanent", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		mockClient.On("PushWithContext", mock.Anything, mock.Anything).Return(&apns2.Response{
			StatusCode: http.StatusGone,
			Reason:     apns2.ReasonUnregistered,
		}, nil)

		outcome, _ := newTransport(mockClient).Deliver(ctx, endpoint, body)

		assert.Equal(t, push.PermanentFailure, outcome)
	})

	t.Run("Configuration rejection is transient", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		mockClient.On("PushWithContext", mock.Anything, mock.Anything).Return(&apns2.Response{
			StatusCode: http.StatusBadRequest,
			Reason:     apns2.ReasonTopicDisallowed,
		}, nil)

		outcome, err := newTransport(mockClient).Deliver(ctx, endpoint, body)

		require.Error(t, err)
		assert.Equal(t, push.TransientFailure, outcome)
	})

	t.Run("Transport Failure - Transient", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		mockClient.On("PushWithContext", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

		outcome, err := newTransport(mockClient).Deliver(ctx, endpoint, body)

		require.Error(t, err)
		assert.Equal(t, push.TransientFailure, outcome)
	})

	t.Run("Caller deadline reaches the client", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		deadlineCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		mockClient.On("PushWithContext", mock.MatchedBy(func(c apns2.Context) bool {
			_, ok := c.Deadline()
			return ok && c == deadlineCtx
		}), mock.Anything).Return(&apns2.Response{StatusCode: http.StatusOK}, nil)

		outcome, err := newTransport(mockClient).Deliver(deadlineCtx, endpoint, body)

		require.NoError(t, err)
		assert.Equal(t, push.Delivered, outcome)
		mockClient.AssertExpectations(t)
	})
}
