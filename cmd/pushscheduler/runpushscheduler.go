package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-scheduler/internal/platform"
	"github.com/tinywideclouds/go-push-scheduler/internal/platform/apns"
	"github.com/tinywideclouds/go-push-scheduler/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-scheduler/internal/platform/web"
	"github.com/tinywideclouds/go-push-scheduler/internal/registry"
	"github.com/tinywideclouds/go-push-scheduler/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-scheduler/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-scheduler/pkg/push"

	"github.com/tinywideclouds/go-push-scheduler/pushservice"
	"github.com/tinywideclouds/go-push-scheduler/pushservice/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-scheduler")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Failed to map yaml config", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- VAPID ---
	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		privateKey, publicKey, err := web.GenerateKeys()
		if err != nil {
			logger.Error("Failed to generate VAPID keys", "err", err)
			os.Exit(1)
		}
		cfg.Vapid.PrivateKey, cfg.Vapid.PublicKey = privateKey, publicKey
		logger.Warn("VAPID keys missing in configuration; generated a process-lifetime pair. Browsers must resubscribe after a restart.",
			"public_key", publicKey)
	}

	// --- Transports ---
	router := platform.NewRouter(logger)
	router.Register(push.PlatformWeb, web.NewTransport(cfg.Vapid, logger))

	if cfg.FCM.Enabled {
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			logger.Error("Failed to initialize Firebase App", "err", err)
			os.Exit(1)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			logger.Error("Failed to create FCM messaging client", "err", err)
			os.Exit(1)
		}
		router.Register(push.PlatformFCM, fcm.NewTransport(fcmMessaging, logger))
	}

	if cfg.APNS.Enabled() {
		apnsTransport, err := apns.NewTransport(apns.Config(cfg.APNS), logger)
		if err != nil {
			logger.Error("Failed to create APNs transport", "err", err)
			os.Exit(1)
		}
		router.Register(push.PlatformAPNS, apnsTransport)
	}

	// --- Subscription Store ---
	store, closeStore, err := newSubscriptionStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Subscription store failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	// --- Consumer (optional) ---
	var consumer messagepipeline.MessageConsumer
	if cfg.PipelineEnabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("PubSub consumer failed", "err", err)
			os.Exit(1)
		}
	}

	// --- Service ---
	service, err := pushservice.New(cfg, consumer, router, store, cfg.Vapid.PublicKey, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr, "registry", cfg.RegistryBackend)
		errCh <- service.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Service shutdown with error", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", "err", err)
			os.Exit(1)
		}
	}
}

// newSubscriptionStore returns the configured store and a func releasing its clients.
func newSubscriptionStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (push.SubscriptionStore, func(), error) {
	switch cfg.RegistryBackend {
	case config.BackendRedis:
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("SubscriptionStore initialized", "type", "redis", "addr", cfg.Redis.Addr)
		return cache.NewRedisStore(redisClient, "", logger), func() { _ = redisClient.Close() }, nil

	case config.BackendFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client failed: %w", err)
		}
		var store push.SubscriptionStore = fsStore.NewStore(fsClient, cfg.FirestoreCollection, logger)
		logger.Info("SubscriptionStore initialized", "type", "firestore")

		if !cfg.Redis.Enabled {
			return store, func() { _ = fsClient.Close() }, nil
		}

		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			_ = fsClient.Close()
			return nil, nil, err
		}
		logger.Info("SubscriptionStore upgraded", "type", "redis_cached_firestore", "ttl", cfg.Redis.CacheTTL)
		return cache.NewCachedStore(store, redisClient, cfg.Redis.CacheTTL, logger), func() {
			_ = redisClient.Close()
			_ = fsClient.Close()
		}, nil

	default:
		logger.Info("SubscriptionStore initialized", "type", "memory")
		return registry.NewMemoryStore(), func() {}, nil
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(cfg.PubsubConsumerConfig, psClient, logger)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
