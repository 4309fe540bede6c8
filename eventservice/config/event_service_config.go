package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// RelayTypeRedis and RelayTypePubSub are the supported cross-process
// relay backends.
const (
	RelayTypeRedis  = "redis"
	RelayTypePubSub = "pubsub"
)

type RedisInstanceConfig struct {
	ID     string
	Addr   string
	Weight int
}

type BalancerConfig struct {
	ErrorThreshold int
	CheckInterval  time.Duration
	OpTimeout      time.Duration
}

type HistoryConfig struct {
	Key       string
	MaxEvents int64
}

type ConnectionsConfig struct {
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	SendBuffer        int
	IdleMultiplier    int
}

type RateLimitConfig struct {
	Window     time.Duration
	MaxPerUser int64
	MaxPerType int64
}

type RelayConfig struct {
	Type           string
	Channel        string
	TopicID        string
	SubscriptionID string
}

type ThrottleConfig struct {
	EventsPerSecond float64
	Burst           int
}

// AppConfig is the canonical, validated configuration object used
// throughout the application. It is created by NewConfigFromYaml
// (Stage 1) and finalized by UpdateConfigWithEnvOverrides (Stage 2).
type AppConfig struct {
	ProjectID     string
	RunMode       string
	APIPort       string
	WebSocketPort string
	Redis         []RedisInstanceConfig
	Balancer      BalancerConfig
	History       HistoryConfig
	Connections   ConnectionsConfig
	RateLimit     RateLimitConfig
	Relay         RelayConfig
	Throttle      ThrottleConfig
}

// UpdateConfigWithEnvOverrides takes the base configuration (created
// from YAML) and completes it by applying environment variables and
// final validation. This completes Stage 2 of configuration loading.
func UpdateConfigWithEnvOverrides(cfg *AppConfig, logger zerolog.Logger) (*AppConfig, error) {
	logger.Debug().Msg("Applying environment variable overrides...")

	if port := os.Getenv("API_PORT"); port != "" {
		logger.Debug().Str("key", "API_PORT").Str("source", "env").Msg("Overriding config value")
		cfg.APIPort = port
	}
	if port := os.Getenv("WEBSOCKET_PORT"); port != "" {
		logger.Debug().Str("key", "WEBSOCKET_PORT").Str("source", "env").Msg("Overriding config value")
		cfg.WebSocketPort = port
	}
	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		logger.Debug().Str("key", "GCP_PROJECT_ID").Str("source", "env").Msg("Overriding config value")
		cfg.ProjectID = projectID
	}
	if relayType := os.Getenv("RELAY_TYPE"); relayType != "" {
		logger.Debug().Str("key", "RELAY_TYPE").Str("source", "env").Msg("Overriding config value")
		cfg.Relay.Type = relayType
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		// A single env-provided address replaces the instance list.
		logger.Debug().Str("key", "REDIS_ADDR").Str("source", "env").Msg("Overriding config value")
		cfg.Redis = []RedisInstanceConfig{{ID: "redis-0", Addr: redisAddr, Weight: 1}}
	}
	if maxEvents := os.Getenv("HISTORY_MAX_EVENTS"); maxEvents != "" {
		n, err := strconv.ParseInt(maxEvents, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid HISTORY_MAX_EVENTS: %w", err)
		}
		logger.Debug().Str("key", "HISTORY_MAX_EVENTS").Str("source", "env").Msg("Overriding config value")
		cfg.History.MaxEvents = n
	}

	// Final validation.
	if cfg.APIPort == "" {
		return nil, fmt.Errorf("api_port is not set in config or env var")
	}
	if cfg.WebSocketPort == "" {
		return nil, fmt.Errorf("websocket_port is not set in config or env var")
	}
	if len(cfg.Redis) == 0 {
		return nil, fmt.Errorf("at least one redis instance must be configured")
	}
	for i, inst := range cfg.Redis {
		if inst.Addr == "" {
			return nil, fmt.Errorf("redis instance %d has no addr", i)
		}
	}
	if cfg.History.Key == "" {
		cfg.History.Key = "events:history"
	}
	if cfg.History.MaxEvents <= 0 {
		cfg.History.MaxEvents = 100
	}
	switch cfg.Relay.Type {
	case RelayTypeRedis, "":
		cfg.Relay.Type = RelayTypeRedis
		if cfg.Relay.Channel == "" {
			cfg.Relay.Channel = "events:relay"
		}
	case RelayTypePubSub:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required for the pubsub relay")
		}
		if cfg.Relay.TopicID == "" || cfg.Relay.SubscriptionID == "" {
			return nil, fmt.Errorf("relay.pubsub.topic_id and subscription_id are required for the pubsub relay")
		}
	default:
		return nil, fmt.Errorf("unknown relay type %q", cfg.Relay.Type)
	}

	logger.Debug().Msg("Configuration finalized and validated successfully")
	return cfg, nil
}
