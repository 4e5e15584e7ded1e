// Package pipeline turns queued push requests into immediate dispatches or scheduled tasks.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

// PushMessage is the queue payload. A nil ScheduledTime means push now.
type PushMessage struct {
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	SubscriptionID string     `json:"subscriptionId,omitempty"`
	ScheduledTime  *time.Time `json:"scheduledTime,omitempty"`
}

// PushMessageTransformer is a dataflow Transformer that unmarshals a raw
// message payload into a PushMessage. scheduledTime must be RFC 3339.
func PushMessageTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*PushMessage, bool, error) {
	var req PushMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		// skip=true lets the StreamingService handle the Nack/DLQ logic.
		return nil, true, fmt.Errorf("failed to unmarshal push request from message %s: %w", msg.ID, err)
	}
	return &req, false, nil
}
