// Package scheduler holds pending scheduled pushes and fires them through the
// dispatch engine when their timers expire.
//
// A task moves Pending -> Fired or Pending -> Cancelled exactly once. Both
// transitions remove the entry from the pending set under the same lock, so
// whichever of the timer and Cancel gets there first wins and the other
// observes "not found".
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-scheduler/internal/telemetry"
	"github.com/tinywideclouds/go-push-scheduler/pkg/push"
)

// Dispatcher is satisfied by *engine.Engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, req push.Request) (push.Result, error)
}

type entry struct {
	task  push.Task
	timer *clock.Timer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithDispatchTimeout bounds how long a fired task may spend delivering.
// Non-positive values keep the default.
func WithDispatchTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

type Scheduler struct {
	dispatcher Dispatcher
	clock      clock.Clock
	timeout    time.Duration
	metrics    *telemetry.Metrics
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]*entry
	stopped bool

	inflight sync.WaitGroup
	baseCtx  context.Context
	cancel   context.CancelFunc
}

func New(dispatcher Dispatcher, logger *slog.Logger, opts ...Option) *Scheduler {
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		dispatcher: dispatcher,
		clock:      clock.New(),
		timeout:    30 * time.Second,
		logger:     logger.With("component", "Scheduler"),
		pending:    make(map[string]*entry),
		baseCtx:    baseCtx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = telemetry.New()
	}
	return s
}

// Schedule arms a timer for firesAt and returns the pending task with the computed delay.
// firesAt must be strictly after now; otherwise push.ErrPastTime is returned and nothing is armed.
func (s *Scheduler) Schedule(ctx context.Context, firesAt time.Time, title, body, targetID string) (push.Task, time.Duration, error) {
	now := s.clock.Now()
	delay := firesAt.Sub(now)
	if delay <= 0 {
		return push.Task{}, 0, push.ErrPastTime
	}

	uid, err := uuid.NewV7()
	if err != nil {
		return push.Task{}, 0, fmt.Errorf("failed to generate task id: %w", err)
	}
	task := push.Task{
		ID:        uid.String(),
		FiresAt:   firesAt,
		Title:     title,
		Body:      body,
		TargetID:  targetID,
		CreatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return push.Task{}, 0, push.ErrSchedulerStopped
	}
	// fire needs s.mu, so it cannot observe the map before the entry is stored.
	e := &entry{task: task}
	e.timer = s.clock.AfterFunc(delay, func() { s.fire(task.ID) })
	s.pending[task.ID] = e

	s.metrics.RecordTask(ctx, telemetry.TaskScheduled)
	s.logger.Info("Scheduled push created", "task_id", task.ID, "fires_at", firesAt, "delay", delay, "target_id", targetID)
	return task, delay, nil
}

// Cancel stops a pending task. Already fired, cancelled or unknown ids
// report push.ErrTaskNotFound.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	s.mu.Lock()
	e, ok := s.pending[taskID]
	if !ok {
		s.mu.Unlock()
		return push.ErrTaskNotFound
	}
	e.timer.Stop()
	delete(s.pending, taskID)
	s.mu.Unlock()

	s.metrics.RecordTask(ctx, telemetry.TaskCancelled)
	s.logger.Info("Scheduled push cancelled", "task_id", taskID)
	return nil
}

// List returns a snapshot of the pending tasks ordered by fire time.
func (s *Scheduler) List() []push.Task {
	s.mu.Lock()
	tasks := make([]push.Task, 0, len(s.pending))
	for _, e := range s.pending {
		tasks = append(tasks, e.task)
	}
	s.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].FiresAt.Equal(tasks[j].FiresAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].FiresAt.Before(tasks[j].FiresAt)
	})
	return tasks
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop disarms every pending timer, refuses new tasks and waits for fired
// tasks that are still delivering. Pending tasks are dropped.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	dropped := len(s.pending)
	for id, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn("Scheduler stopped with pending tasks; they will not fire", "dropped", dropped)
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	defer s.cancel()
	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// fire runs on the timer goroutine.
func (s *Scheduler) fire(taskID string) {
	s.mu.Lock()
	e, ok := s.pending[taskID]
	if ok {
		delete(s.pending, taskID)
		s.inflight.Add(1)
	}
	s.mu.Unlock()
	if !ok {
		// Cancel or Stop won the race.
		return
	}
	defer s.inflight.Done()

	task := e.task
	log := s.logger.With("task_id", task.ID, "target_id", task.TargetID)

	log.Info("Scheduled push firing")
	ctx, cancel := context.WithTimeout(s.baseCtx, s.timeout)
	defer cancel()

	result, err := s.dispatcher.Dispatch(ctx, push.Request{
		Title:    task.Title,
		Body:     task.Body,
		TargetID: task.TargetID,
		Kind:     push.KindScheduled,
	})
	s.metrics.RecordTask(ctx, telemetry.TaskFired)
	if err != nil {
		log.Error("Scheduled push failed", "err", err)
		return
	}
	log.Info("Scheduled push delivered", "sent", result.Sent, "failed", result.Failed)
}
