package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	CacheTTL string `yaml:"cache_ttl"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
	TTL             int    `yaml:"ttl"`
}

type YamlDispatchConfig struct {
	Concurrency int    `yaml:"concurrency"`
	Timeout     string `yaml:"timeout"`
}

type YamlDefaults struct {
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

type YamlRegistryConfig struct {
	Backend             string `yaml:"backend"`
	FirestoreCollection string `yaml:"firestore_collection"`
}

type YamlAPNSConfig struct {
	KeyID    string `yaml:"key_id"`
	TeamID   string `yaml:"team_id"`
	BundleID string `yaml:"bundle_id"`
	Sandbox  bool   `yaml:"sandbox"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string             `yaml:"project_id"`
	ListenAddr             string             `yaml:"listen_addr"`
	TopicID                string             `yaml:"topic_id"`
	SubscriptionID         string             `yaml:"subscription_id"`
	SubscriptionDLQTopicID string             `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int                `yaml:"num_pipeline_workers"`
	Registry               YamlRegistryConfig `yaml:"registry"`
	CorsConfig             YamlCorsConfig     `yaml:"cors"`
	RedisConfig            YamlRedisConfig    `yaml:"redis"`
	VapidConfig            YamlVapidConfig    `yaml:"vapid"`
	Dispatch               YamlDispatchConfig `yaml:"dispatch"`
	ImmediateDefaults      YamlDefaults       `yaml:"immediate_defaults"`
	ScheduledDefaults      YamlDefaults       `yaml:"scheduled_defaults"`
	FCMEnabled             bool               `yaml:"fcm_enabled"`
	APNS                   YamlAPNSConfig     `yaml:"apns"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
// The APNs signing key is never read from YAML; it arrives via APNS_P8_KEY.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	timeout, err := parseOptionalDuration("dispatch.timeout", baseCfg.Dispatch.Timeout)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseOptionalDuration("redis.cache_ttl", baseCfg.RedisConfig.CacheTTL)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectID:           baseCfg.ProjectID,
		ListenAddr:          baseCfg.ListenAddr,
		TopicID:             baseCfg.TopicID,
		SubscriptionID:      baseCfg.SubscriptionID,
		RegistryBackend:     baseCfg.Registry.Backend,
		FirestoreCollection: baseCfg.Registry.FirestoreCollection,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			CacheTTL: cacheTTL,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
			TTL:             baseCfg.VapidConfig.TTL,
		},
		Dispatch: DispatchConfig{
			Concurrency: baseCfg.Dispatch.Concurrency,
			Timeout:     timeout,
		},
		Immediate: Defaults(baseCfg.ImmediateDefaults),
		Scheduled: Defaults(baseCfg.ScheduledDefaults),
		FCM:       FCMConfig{Enabled: baseCfg.FCMEnabled},
		APNS: APNSConfig{
			KeyID:    baseCfg.APNS.KeyID,
			TeamID:   baseCfg.APNS.TeamID,
			BundleID: baseCfg.APNS.BundleID,
			Sandbox:  baseCfg.APNS.Sandbox,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"registry_backend", cfg.RegistryBackend,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}

func parseOptionalDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	return d, nil
}
