// Package pushservice assembles the push scheduler: subscription registry,
// dispatch engine, scheduler, HTTP API and the optional queue pipeline.
package pushservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-scheduler/internal/api"
	"github.com/tinywideclouds/go-push-scheduler/internal/engine"
	"github.com/tinywideclouds/go-push-scheduler/internal/pipeline"
	"github.com/tinywideclouds/go-push-scheduler/internal/registry"
	"github.com/tinywideclouds/go-push-scheduler/internal/scheduler"
	"github.com/tinywideclouds/go-push-scheduler/internal/telemetry"
	"github.com/tinywideclouds/go-push-scheduler/pkg/push"
	"github.com/tinywideclouds/go-push-scheduler/pushservice/config"
)

type Wrapper struct {
	*microservice.BaseServer
	scheduler       *scheduler.Scheduler
	pipelineService *messagepipeline.StreamingService[pipeline.PushMessage]
	logger          *slog.Logger
}

// New assembles the service. consumer may be nil, in which case queue
// ingestion is disabled and only the HTTP API accepts requests.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	transport push.Transport,
	store push.SubscriptionStore,
	publicKey string,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Core
	metrics := telemetry.New()
	reg := registry.New(store, logger)
	eng := engine.New(reg, transport, metrics, engine.Config{
		Concurrency: cfg.Dispatch.Concurrency,
		Immediate:   engine.Defaults(cfg.Immediate),
		Scheduled:   engine.Defaults(cfg.Scheduled),
	}, logger)
	sched := scheduler.New(eng, logger,
		scheduler.WithDispatchTimeout(cfg.Dispatch.Timeout),
		scheduler.WithMetrics(metrics),
	)

	// 3. Pipeline (optional)
	var streamingService *messagepipeline.StreamingService[pipeline.PushMessage]
	if consumer != nil {
		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.PushMessageTransformer,
			pipeline.NewProcessor(eng, sched, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 4. API
	pushAPI := api.NewPushAPI(reg, eng, sched, publicKey, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(handlerFunc))
	}

	handle("GET /{$}", pushAPI.Index)
	handle("GET /api/health", pushAPI.Health)
	handle("GET /api/vapid-public-key", pushAPI.GetPublicKey)

	handle("POST /api/subscribe", pushAPI.Subscribe)
	handle("DELETE /api/subscribe/{id}", pushAPI.Unsubscribe)

	handle("POST /api/push", pushAPI.PushNow)
	handle("POST /api/schedule-push", pushAPI.SchedulePush)
	handle("GET /api/scheduled", pushAPI.ListScheduled)
	handle("DELETE /api/scheduled/{id}", pushAPI.CancelScheduled)

	// CORS preflight; the middleware writes the headers.
	mux.Handle("OPTIONS /api/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	return &Wrapper{
		BaseServer:      baseServer,
		scheduler:       sched,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Queue ingestion pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

// Shutdown stops intake first, then the scheduler, then drains HTTP.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.scheduler.Stop(ctx); err != nil {
		w.logger.Error("Scheduler shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
