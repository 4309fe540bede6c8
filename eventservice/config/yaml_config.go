package config

import (
	"fmt"
	"time"
)

// --- YAML-Specific Structs ---

type YamlRedisInstanceConfig struct {
	ID     string `yaml:"id"`
	Addr   string `yaml:"addr"`
	Weight int    `yaml:"weight"`
}

type YamlBalancerConfig struct {
	ErrorThreshold int    `yaml:"error_threshold"`
	CheckInterval  string `yaml:"check_interval"`
	OpTimeout      string `yaml:"op_timeout"`
}

type YamlHistoryConfig struct {
	Key       string `yaml:"key"`
	MaxEvents int64  `yaml:"max_events"`
}

type YamlConnectionsConfig struct {
	HeartbeatInterval string `yaml:"heartbeat_interval"`
	WriteTimeout      string `yaml:"write_timeout"`
	SendBuffer        int    `yaml:"send_buffer"`
	IdleMultiplier    int    `yaml:"idle_multiplier"`
}

type YamlRateLimitConfig struct {
	Window     string `yaml:"window"`
	MaxPerUser int64  `yaml:"max_per_user"`
	MaxPerType int64  `yaml:"max_per_type"`
}

type YamlPubSubConfig struct {
	TopicID        string `yaml:"topic_id"`
	SubscriptionID string `yaml:"subscription_id"`
}

// YamlRelayConfig selects the cross-process relay backend.
type YamlRelayConfig struct {
	Type    string           `yaml:"type"` // "redis" or "pubsub"
	Channel string           `yaml:"channel"`
	PubSub  YamlPubSubConfig `yaml:"pubsub"`
}

type YamlThrottleConfig struct {
	EventsPerSecond float64 `yaml:"events_per_second"`
	Burst           int     `yaml:"burst"`
}

// YamlConfig defines the structure for unmarshaling the embedded config.yaml file.
type YamlConfig struct {
	ProjectID     string                    `yaml:"project_id"`
	RunMode       string                    `yaml:"run_mode"`
	APIPort       string                    `yaml:"api_port"`
	WebSocketPort string                    `yaml:"websocket_port"`
	Redis         []YamlRedisInstanceConfig `yaml:"redis"`
	Balancer      YamlBalancerConfig        `yaml:"balancer"`
	History       YamlHistoryConfig         `yaml:"history"`
	Connections   YamlConnectionsConfig     `yaml:"connections"`
	RateLimit     YamlRateLimitConfig       `yaml:"rate_limit"`
	Relay         YamlRelayConfig           `yaml:"relay"`
	Throttle      YamlThrottleConfig        `yaml:"throttle"`
}

// --- Stage 1 Function ---

// NewConfigFromYaml converts the raw unmarshaled data (YamlConfig) into a
// clean, base AppConfig struct. Durations are parsed here; environment
// overrides and final validation happen in Stage 2.
func NewConfigFromYaml(yamlCfg *YamlConfig) (*AppConfig, error) {
	appCfg := &AppConfig{
		ProjectID:     yamlCfg.ProjectID,
		RunMode:       yamlCfg.RunMode,
		APIPort:       yamlCfg.APIPort,
		WebSocketPort: yamlCfg.WebSocketPort,
		History: HistoryConfig{
			Key:       yamlCfg.History.Key,
			MaxEvents: yamlCfg.History.MaxEvents,
		},
		Balancer: BalancerConfig{
			ErrorThreshold: yamlCfg.Balancer.ErrorThreshold,
		},
		Connections: ConnectionsConfig{
			SendBuffer:     yamlCfg.Connections.SendBuffer,
			IdleMultiplier: yamlCfg.Connections.IdleMultiplier,
		},
		RateLimit: RateLimitConfig{
			MaxPerUser: yamlCfg.RateLimit.MaxPerUser,
			MaxPerType: yamlCfg.RateLimit.MaxPerType,
		},
		Relay: RelayConfig{
			Type:           yamlCfg.Relay.Type,
			Channel:        yamlCfg.Relay.Channel,
			TopicID:        yamlCfg.Relay.PubSub.TopicID,
			SubscriptionID: yamlCfg.Relay.PubSub.SubscriptionID,
		},
		Throttle: ThrottleConfig{
			EventsPerSecond: yamlCfg.Throttle.EventsPerSecond,
			Burst:           yamlCfg.Throttle.Burst,
		},
	}

	for _, inst := range yamlCfg.Redis {
		appCfg.Redis = append(appCfg.Redis, RedisInstanceConfig{
			ID:     inst.ID,
			Addr:   inst.Addr,
			Weight: inst.Weight,
		})
	}

	var err error
	if appCfg.Balancer.CheckInterval, err = parseDuration("balancer.check_interval", yamlCfg.Balancer.CheckInterval); err != nil {
		return nil, err
	}
	if appCfg.Balancer.OpTimeout, err = parseDuration("balancer.op_timeout", yamlCfg.Balancer.OpTimeout); err != nil {
		return nil, err
	}
	if appCfg.Connections.HeartbeatInterval, err = parseDuration("connections.heartbeat_interval", yamlCfg.Connections.HeartbeatInterval); err != nil {
		return nil, err
	}
	if appCfg.Connections.WriteTimeout, err = parseDuration("connections.write_timeout", yamlCfg.Connections.WriteTimeout); err != nil {
		return nil, err
	}
	if appCfg.RateLimit.Window, err = parseDuration("rate_limit.window", yamlCfg.RateLimit.Window); err != nil {
		return nil, err
	}

	return appCfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}
