// Package engine resolves a push request to its target endpoints, fans the
// delivery out concurrently and folds the outcomes into a push.Result.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-push-scheduler/internal/telemetry"
	"github.com/tinywideclouds/go-push-scheduler/pkg/push"
)

// Registry is the subset of the subscription registry the engine reads and evicts from.
type Registry interface {
	Get(ctx context.Context, id string) (push.Endpoint, error)
	ListAll(ctx context.Context) ([]push.Subscription, error)
	Remove(ctx context.Context, id string) error
}

// Defaults fill in an empty title or body.
type Defaults struct {
	Title string
	Body  string
}

type Config struct {
	// Concurrency caps in-flight deliveries per dispatch.
	Concurrency int
	Immediate   Defaults
	Scheduled   Defaults
}

type Engine struct {
	registry  Registry
	transport push.Transport
	metrics   *telemetry.Metrics
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
}

func New(registry Registry, transport push.Transport, metrics *telemetry.Metrics, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if metrics == nil {
		metrics = telemetry.New()
	}
	return &Engine{
		registry:  registry,
		transport: transport,
		metrics:   metrics,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With("component", "DispatchEngine"),
	}
}

// Dispatch delivers req to its resolved targets. Delivery failures never
// surface as errors; the returned error only reports a registry lookup failure.
func (e *Engine) Dispatch(ctx context.Context, req push.Request) (push.Result, error) {
	if req.Kind == "" {
		req.Kind = push.KindImmediate
	}
	log := e.logger.With("kind", req.Kind, "target_id", req.TargetID)

	// 1. Resolve
	targets, err := e.resolve(ctx, req.TargetID)
	if err != nil {
		log.Error("Failed to resolve targets", "err", err)
		return push.Result{}, err
	}
	if len(targets) == 0 {
		log.Info("No subscriptions to deliver to")
		return push.Result{}, nil
	}

	// 2. Serialize once
	body, err := json.Marshal(e.payload(req))
	if err != nil {
		return push.Result{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	// 3. Fan-out; every delivery writes only its own slot
	outcomes := make([]push.Outcome, len(targets))
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, target := range targets {
		g.Go(func() error {
			// A transport panic counts as a transient failure.
			defer func() {
				if r := recover(); r != nil {
					log.Error("Delivery panicked", "subscription_id", target.ID, "panic", r)
					outcomes[i] = push.TransientFailure
				}
			}()
			outcome, err := e.transport.Deliver(ctx, target.Endpoint, body)
			if err != nil {
				log.Warn("Delivery failed", "subscription_id", target.ID, "outcome", outcome.String(), "err", err)
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	// 4. Aggregate and evict
	var result push.Result
	for i, outcome := range outcomes {
		e.metrics.RecordDelivery(ctx, req.Kind, outcome)
		switch outcome {
		case push.Delivered:
			result.Sent++
		case push.PermanentFailure:
			result.Failed++
			if err := e.registry.Remove(ctx, targets[i].ID); err != nil {
				log.Warn("Failed to evict subscription", "subscription_id", targets[i].ID, "err", err)
				continue
			}
			result.Evicted++
		default:
			result.Failed++
		}
	}
	e.metrics.RecordEvictions(ctx, result.Evicted)

	log.Info("Dispatch complete", "sent", result.Sent, "failed", result.Failed, "evicted", result.Evicted)
	return result, nil
}

func (e *Engine) resolve(ctx context.Context, targetID string) ([]push.Subscription, error) {
	if targetID == "" {
		return e.registry.ListAll(ctx)
	}

	endpoint, err := e.registry.Get(ctx, targetID)
	if err != nil {
		// The subscription may have been evicted between schedule and fire time.
		if errors.Is(err, push.ErrSubscriptionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return []push.Subscription{{ID: targetID, Endpoint: endpoint}}, nil
}

func (e *Engine) payload(req push.Request) push.Payload {
	defaults := e.cfg.Immediate
	if req.Kind == push.KindScheduled {
		defaults = e.cfg.Scheduled
	}

	p := push.Payload{
		Title:     req.Title,
		Body:      req.Body,
		Timestamp: e.now().UnixMilli(),
	}
	if p.Title == "" {
		p.Title = defaults.Title
	}
	if p.Body == "" {
		p.Body = defaults.Body
	}
	return p
}
