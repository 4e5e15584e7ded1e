package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-scheduler/pkg/push"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, req push.Request) (push.Result, error)
}

type Scheduler interface {
	Schedule(ctx context.Context, firesAt time.Time, title, body, targetID string) (push.Task, time.Duration, error)
}

// NewProcessor routes each queued message to the engine or the scheduler.
// Returning an error nacks the message; requests that can never succeed are
// logged and acked instead.
func NewProcessor(
	dispatcher Dispatcher,
	scheduler Scheduler,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[PushMessage] {

	return func(ctx context.Context, original messagepipeline.Message, msg *PushMessage) error {
		procLogger := logger.With(
			"pubsub_msg_id", original.ID,
			"target_id", msg.SubscriptionID,
		)

		// Path A: scheduled
		if msg.ScheduledTime != nil {
			task, delay, err := scheduler.Schedule(ctx, *msg.ScheduledTime, msg.Title, msg.Body, msg.SubscriptionID)
			if err != nil {
				if errors.Is(err, push.ErrPastTime) {
					procLogger.Warn("Dropping scheduled push with a past fire time", "scheduled_time", *msg.ScheduledTime)
					return nil
				}
				procLogger.Error("Failed to schedule push", "err", err)
				return err
			}
			procLogger.Info("Push scheduled from queue", "task_id", task.ID, "delay", delay)
			return nil
		}

		// Path B: immediate
		result, err := dispatcher.Dispatch(ctx, push.Request{
			Title:    msg.Title,
			Body:     msg.Body,
			TargetID: msg.SubscriptionID,
			Kind:     push.KindImmediate,
		})
		if err != nil {
			procLogger.Error("Dispatch failed", "err", err)
			return err // Retryable
		}
		procLogger.Info("Queued push dispatched", "sent", result.Sent, "failed", result.Failed)
		return nil
	}
}
