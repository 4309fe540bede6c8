package main

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/parkkyonghun0510/lc-opd-daily-sub004/cmd"
	"github.com/parkkyonghun0510/lc-opd-daily-sub004/eventservice"
	"github.com/parkkyonghun0510/lc-opd-daily-sub004/eventservice/config"
	"github.com/parkkyonghun0510/lc-opd-daily-sub004/internal/api"
	"github.com/parkkyonghun0510/lc-opd-daily-sub004/internal/app"
	"github.com/parkkyonghun0510/lc-opd-daily-sub004/internal/platform/balancer"
	"github.com/parkkyonghun0510/lc-opd-daily-sub004/internal/platform/ratelimit"
	"github.com/parkkyonghun0510/lc-opd-daily-sub004/internal/platform/relay"
	"github.com/parkkyonghun0510/lc-opd-daily-sub004/internal/platform/store"
	"github.com/parkkyonghun0510/lc-opd-daily-sub004/internal/realtime"
	"github.com/parkkyonghun0510/lc-opd-daily-sub004/pkg/event"
)

func main() {
	// 1. Setup structured logging.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		if level, err := zerolog.ParseLevel(levelStr); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}
	logger := log.With().Str("service", "event-service").Logger()

	// 2. Load config.yaml and apply env overrides.
	cfg, err := cmd.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg, err = config.UpdateConfigWithEnvOverrides(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to finalize configuration")
	}
	logger.Info().Str("run_mode", cfg.RunMode).Msg("Configuration loaded")

	ctx := context.Background()
	instanceID := uuid.NewString()

	// 3. Create platform dependencies.
	deps, lb, err := newDependencies(ctx, cfg, instanceID, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize dependencies")
	}
	lb.Start(ctx)
	defer lb.Stop()

	// 4. Create the two main services.
	broadcaster := realtime.NewLocalBroadcaster(logger)

	connManager, err := realtime.NewConnectionManager(
		cfg.WebSocketPort,
		instanceID,
		api.RequireIdentity,
		broadcaster,
		realtime.Config{
			HeartbeatInterval: cfg.Connections.HeartbeatInterval,
			WriteTimeout:      cfg.Connections.WriteTimeout,
			SendBuffer:        cfg.Connections.SendBuffer,
			IdleMultiplier:    cfg.Connections.IdleMultiplier,
		},
		logger.With().Str("component", "ConnManager").Logger(),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Connection Manager")
	}

	apiService, err := eventservice.New(
		cfg,
		deps,
		broadcaster,
		connManager,
		api.RequireIdentity,
		logger.With().Str("component", "ApiService").Logger(),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create API service")
	}

	// 5. Run the application.
	app.Run(ctx, logger, apiService, connManager)
}

// newDependencies builds the balanced Redis stack and the configured
// relay backend.
func newDependencies(ctx context.Context, cfg *config.AppConfig, instanceID string, logger zerolog.Logger) (event.ServiceDependencies, *balancer.LoadBalancer, error) {
	var deps event.ServiceDependencies

	instances := make([]*balancer.Instance, 0, len(cfg.Redis))
	for _, ic := range cfg.Redis {
		rdb := redis.NewClient(&redis.Options{Addr: ic.Addr})
		id := ic.ID
		if id == "" {
			id = ic.Addr
		}
		instances = append(instances, balancer.NewInstance(id, ic.Weight, rdb))
		logger.Info().Str("instance", id).Str("addr", ic.Addr).Int("weight", ic.Weight).
			Msg("Registered Redis instance")
	}

	lbCfg := balancer.DefaultConfig()
	if cfg.Balancer.ErrorThreshold > 0 {
		lbCfg.ErrorThreshold = cfg.Balancer.ErrorThreshold
	}
	if cfg.Balancer.CheckInterval > 0 {
		lbCfg.CheckInterval = cfg.Balancer.CheckInterval
	}
	if cfg.Balancer.OpTimeout > 0 {
		lbCfg.OpTimeout = cfg.Balancer.OpTimeout
	}
	lb, err := balancer.New(instances, lbCfg, logger)
	if err != nil {
		return deps, nil, fmt.Errorf("failed to create load balancer: %w", err)
	}
	routed := balancer.NewRoutedClient(lb)

	eventStore, err := store.NewRedisEventStore(routed, cfg.History.Key, int(cfg.History.MaxEvents), logger)
	if err != nil {
		return deps, nil, fmt.Errorf("failed to create event store: %w", err)
	}

	limiter, err := ratelimit.NewRedisLimiter(routed, ratelimit.Config{
		Window:     cfg.RateLimit.Window,
		MaxPerUser: int(cfg.RateLimit.MaxPerUser),
		MaxPerType: int(cfg.RateLimit.MaxPerType),
	}, logger)
	if err != nil {
		return deps, nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	eventRelay, err := newRelay(ctx, cfg, instanceID, routed, logger)
	if err != nil {
		return deps, nil, err
	}

	deps = event.ServiceDependencies{
		Store:   eventStore,
		Limiter: limiter,
		Relay:   eventRelay,
	}
	return deps, lb, nil
}

// newRelay creates the pluggable cross-process relay based on config.
func newRelay(ctx context.Context, cfg *config.AppConfig, instanceID string, routed *balancer.RoutedClient, logger zerolog.Logger) (event.Relay, error) {
	logger.Info().Str("type", cfg.Relay.Type).Msg("Initializing cross-process relay...")

	switch cfg.Relay.Type {
	case config.RelayTypeRedis:
		// Subscriptions hold a dedicated connection; they cannot route
		// through the balancer. Publishes still do.
		subClient := redis.NewClient(&redis.Options{Addr: cfg.Redis[0].Addr})
		var sub *redis.PubSub
		if err := subClient.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis[0].Addr).
				Msg("Relay subscription endpoint unreachable. Running in local-only mode.")
		} else {
			sub = subClient.Subscribe(ctx, cfg.Relay.Channel)
		}
		if sub == nil {
			return relay.NewRedisRelay(routed, nil, cfg.Relay.Channel, instanceID, logger)
		}
		return relay.NewRedisRelay(routed, sub, cfg.Relay.Channel, instanceID, logger)

	case config.RelayTypePubSub:
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to pubsub: %w", err)
		}
		return relay.NewPubSubRelay(
			psClient.Publisher(cfg.Relay.TopicID),
			psClient.Subscriber(cfg.Relay.SubscriptionID),
			instanceID,
			logger,
		)

	default:
		return nil, fmt.Errorf("invalid relay type: %s", cfg.Relay.Type)
	}
}
