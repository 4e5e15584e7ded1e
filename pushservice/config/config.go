package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

// Registry backends.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
)

const (
	defaultListenAddr      = ":3000"
	defaultConcurrency     = 16
	defaultDispatchTimeout = 30 * time.Second
	defaultCacheTTL        = time.Hour
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	// CacheTTL applies when Redis fronts the Firestore registry.
	CacheTTL time.Duration
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	// TTL is how long, in seconds, the push service keeps an undelivered message.
	TTL int
}

type DispatchConfig struct {
	Concurrency int
	// Timeout bounds a scheduled dispatch once its timer fires.
	Timeout time.Duration
}

// Defaults fill an empty title or body.
type Defaults struct {
	Title string
	Body  string
}

type FCMConfig struct {
	Enabled bool
}

type APNSConfig struct {
	KeyID        string
	TeamID       string
	BundleID     string
	P8KeyContent string
	Sandbox      bool
}

// Enabled reports whether enough credentials are present to build a client.
func (c APNSConfig) Enabled() bool {
	return c.P8KeyContent != "" && c.KeyID != "" && c.TeamID != ""
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID  string
	ListenAddr string

	RegistryBackend     string
	FirestoreCollection string

	// Queue ingestion is enabled when SubscriptionID is set.
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	Dispatch   DispatchConfig
	Immediate  Defaults
	Scheduled  Defaults
	FCM        FCMConfig
	APNS       APNSConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// PipelineEnabled reports whether a Pub/Sub subscription is configured.
func (c *Config) PipelineEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "TOPIC_ID", "source", "env")
		cfg.TopicID = val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Registry Overrides
	if val := os.Getenv("REGISTRY_BACKEND"); val != "" {
		logger.Debug("Overriding config value", "key", "REGISTRY_BACKEND", "source", "env")
		cfg.RegistryBackend = strings.ToLower(val)
	}
	if val := os.Getenv("FIRESTORE_ENABLED"); val != "" {
		if enabled, _ := strconv.ParseBool(val); enabled {
			logger.Debug("Overriding config value", "key", "FIRESTORE_ENABLED", "source", "env")
			cfg.RegistryBackend = BackendFirestore
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}
	if val := os.Getenv("DELIVERY_TTL"); val != "" {
		if ttl, err := strconv.Atoi(val); err == nil && ttl > 0 {
			logger.Debug("Overriding config value", "key", "DELIVERY_TTL", "source", "env")
			cfg.Vapid.TTL = ttl
		}
	}

	// Dispatch Overrides
	if val := os.Getenv("DISPATCH_CONCURRENCY"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_CONCURRENCY %q: %w", val, err)
		}
		cfg.Dispatch.Concurrency = n
	}
	if val := os.Getenv("DISPATCH_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_TIMEOUT %q: %w", val, err)
		}
		cfg.Dispatch.Timeout = d
	}

	// Native platform Overrides
	if val := os.Getenv("FCM_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.FCM.Enabled = enabled
	}
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		cfg.APNS.P8KeyContent = val
	}
	if val := os.Getenv("APNS_SANDBOX"); val != "" {
		sandbox, _ := strconv.ParseBool(val)
		cfg.APNS.Sandbox = sandbox
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.RegistryBackend == "" {
		cfg.RegistryBackend = BackendMemory
	}
	if cfg.Dispatch.Concurrency == 0 {
		cfg.Dispatch.Concurrency = defaultConcurrency
	}
	if cfg.Dispatch.Timeout == 0 {
		cfg.Dispatch.Timeout = defaultDispatchTimeout
	}
	if cfg.Redis.CacheTTL <= 0 {
		cfg.Redis.CacheTTL = defaultCacheTTL
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}

	// 3. Final Validation
	if cfg.Dispatch.Concurrency < 1 {
		return nil, fmt.Errorf("dispatch concurrency must be at least 1, got %d", cfg.Dispatch.Concurrency)
	}
	if cfg.Dispatch.Timeout < 0 {
		return nil, fmt.Errorf("dispatch timeout must be positive, got %s", cfg.Dispatch.Timeout)
	}
	switch cfg.RegistryBackend {
	case BackendMemory:
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("registry backend %q requires redis addr (set via YAML or REDIS_ADDR env var)", BackendRedis)
		}
	case BackendFirestore:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("registry backend %q requires project_id (set via YAML or PROJECT_ID env var)", BackendFirestore)
		}
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.RegistryBackend)
	}
	if cfg.FCM.Enabled && cfg.ProjectID == "" {
		return nil, fmt.Errorf("fcm requires project_id (set via YAML or PROJECT_ID env var)")
	}
	if cfg.PipelineEnabled() {
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required when subscription_id is set")
		}
		if cfg.PubsubConsumerConfig == nil {
			cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
		}
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
