package push

import "errors"

var (
	// ErrPastTime rejects a schedule request whose fire time is not strictly in the future.
	ErrPastTime = errors.New("push: scheduled time must be in the future")

	ErrSubscriptionNotFound = errors.New("push: subscription not found")
	ErrTaskNotFound         = errors.New("push: scheduled task not found")

	ErrSchedulerStopped = errors.New("push: scheduler stopped")
)
