// Package platform routes deliveries to the transport that serves an endpoint's platform.
package platform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-scheduler/pkg/push"
)

// Router is a push.Transport that picks the concrete transport per endpoint.
type Router struct {
	transports map[push.Platform]push.Transport
	logger     *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		transports: make(map[push.Platform]push.Transport),
		logger:     logger.With("component", "TransportRouter"),
	}
}

// Register is not safe to call once the router is delivering.
func (r *Router) Register(p push.Platform, t push.Transport) {
	r.transports[p] = t
	r.logger.Info("Transport registered", "platform", p)
}

// Deliver forwards to the registered transport.
// A known platform without a configured transport is transient, since the
// endpoint itself may be fine; an unrecognised platform can never be delivered.
func (r *Router) Deliver(ctx context.Context, endpoint push.Endpoint, payload []byte) (push.Outcome, error) {
	p := endpoint.PlatformOrDefault()
	t, ok := r.transports[p]
	if ok {
		return t.Deliver(ctx, endpoint, payload)
	}

	switch p {
	case push.PlatformWeb, push.PlatformFCM, push.PlatformAPNS:
		return push.TransientFailure, fmt.Errorf("no transport configured for platform %q", p)
	default:
		return push.PermanentFailure, fmt.Errorf("unsupported platform %q", p)
	}
}
