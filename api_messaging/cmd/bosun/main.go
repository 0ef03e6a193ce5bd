package main

import (
	"context"
	"time"

	"frameworks/api_messaging/internal/channels"
	appconfig "frameworks/api_messaging/internal/config"
	"frameworks/api_messaging/internal/dispatch"
	"frameworks/api_messaging/internal/events"
	"frameworks/api_messaging/internal/handlers"
	"frameworks/api_messaging/internal/inbound"
	"frameworks/api_messaging/internal/ledger"
	"frameworks/api_messaging/internal/messages"
	"frameworks/api_messaging/internal/transport"
	"frameworks/pkg/config"
	"frameworks/pkg/crypto"
	"frameworks/pkg/database"
	"frameworks/pkg/kafka"
	"frameworks/pkg/logging"
	"frameworks/pkg/monitoring"
	"frameworks/pkg/redis"
	"frameworks/pkg/server"
	"frameworks/pkg/version"
)

const serviceName = "bosun"

func main() {
	logger := logging.NewLoggerWithService(serviceName)
	config.LoadEnv(logger)

	cfg, err := appconfig.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	logger.WithFields(logging.Fields{
		"version": version.Version,
		"commit":  version.GetShortCommit(),
		"fee":     cfg.Fee.String(),
	}).Info("Starting Bosun (billing ledger and message dispatch)")

	healthChecker := monitoring.NewHealthChecker(serviceName, version.Version)
	metricsCollector := monitoring.NewMetricsCollector(serviceName, version.Version, version.GitCommit)
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"SERVICE_TOKEN":         cfg.ServiceToken,
		"MESSAGING_GATEWAY_URL": cfg.GatewayURL,
	}))
	healthChecker.AddCheck("messaging_gateway", monitoring.HTTPServiceHealthCheck("messaging_gateway", cfg.GatewayURL+"/health", true))

	var (
		ledgerStore  ledger.Store
		registry     channels.Registry
		messageStore messages.Store
	)
	if cfg.UsesMemory() {
		logger.Warn("DATABASE_URL not set, using in-memory storage; balances are lost on restart")
		ledgerStore = ledger.NewMemoryStore()
		registry = channels.NewMemoryRegistry()
		messageStore = messages.NewMemoryStore()
	} else {
		dbConfig := database.DefaultConfig()
		dbConfig.URL = cfg.DatabaseURL
		db := database.MustConnect(dbConfig, logger)
		defer db.Close()

		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := database.Migrate(migrateCtx, db, logger); err != nil {
			cancel()
			logger.WithError(err).Fatal("Failed to apply schema")
		}
		cancel()

		sealer, err := crypto.NewSealer([]byte(cfg.CredentialsSecret), channels.CredentialPurpose)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialise credential sealing")
		}
		ledgerStore = ledger.NewPostgresStore(db, logger)
		registry = channels.NewPostgresRegistry(db, sealer, logger)
		messageStore = messages.NewPostgresStore(db, logger)
		healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, serviceName, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		publisher = events.NewKafkaPublisher(producer, cfg.EventsTopic, logger)
		healthChecker.AddCheck("kafka", monitoring.PingHealthCheck("kafka", monitoring.PingerFunc(producer.HealthCheck), true))
	} else {
		logger.Info("KAFKA_BROKERS not set, billing events are not published")
	}

	var deduper inbound.Deduper
	if cfg.RedisURL != "" {
		connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err := redis.Connect(connectCtx, cfg.RedisURL)
		cancel()
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer client.Close()
		deduper = inbound.NewRedisDeduper(client, cfg.DedupeWindow)
		healthChecker.AddCheck("redis", monitoring.PingHealthCheck("redis", monitoring.PingerFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}), true))
	}

	sender := transport.NewHTTPSender(transport.HTTPSenderConfig{
		BaseURL:      cfg.GatewayURL,
		ServiceToken: cfg.GatewayToken,
		Timeout:      cfg.SendTimeout,
		Logger:       logger,
	})

	orchestrator, err := dispatch.New(dispatch.Deps{
		Ledger:    ledgerStore,
		Channels:  registry,
		Sender:    sender,
		Messages:  messageStore,
		Publisher: publisher,
		Metrics:   dispatch.NewMetrics(metricsCollector),
		Logger:    logger,
	}, dispatch.Config{
		Fee:             cfg.Fee,
		SendTimeout:     cfg.SendTimeout,
		MaxRetries:      cfg.SendMaxRetries,
		RetryDelay:      cfg.SendRetryDelay,
		FinalizeTimeout: cfg.FinalizeTimeout,
	})
	if err != nil {
		logger.WithError(err).Fatal("Invalid dispatch configuration")
	}
	router := inbound.NewRouter(registry, messageStore, deduper, inbound.NewMetrics(metricsCollector), logger)

	handlers.Init(handlers.Dependencies{
		Ledger:             ledgerStore,
		Channels:           registry,
		Orchestrator:       orchestrator,
		Router:             router,
		Publisher:          publisher,
		Logger:             logger,
		WebhookSecret:      cfg.WebhookSecret,
		WebhookVerifyToken: cfg.WebhookVerifyToken,
	})
	if cfg.WebhookSecret == "" {
		logger.Warn("WEBHOOK_APP_SECRET not set, webhook signatures are not verified")
	}

	app := server.SetupServiceRouter(logger, serviceName, healthChecker, metricsCollector)
	handlers.RegisterRoutes(app, cfg.ServiceToken)

	serverConfig := server.DefaultConfig(serviceName, cfg.Port)
	if err := server.Start(serverConfig, app, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
