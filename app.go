package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"crm-sync/domain/repository"
	"crm-sync/infrastructure/cache"
	"crm-sync/infrastructure/clients/crm"
	"crm-sync/infrastructure/configuration"
	"crm-sync/infrastructure/logger"
	"crm-sync/infrastructure/persistence"
	"crm-sync/infrastructure/pubsub"
	"crm-sync/infrastructure/queue"
	"crm-sync/infrastructure/servicebus"
	"crm-sync/usecase"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const pushQueueSize = 256

// app holds every long-lived dependency built from one Config.
type app struct {
	cfg       *configuration.Config
	db        *sql.DB
	redis     *redis.Client
	mongo     *mongo.Client
	pushQueue repository.IPushQueue

	oauth      usecase.IOAuthUsecase
	sync       usecase.ISyncUsecase
	push       usecase.IPushUsecase
	webhooks   usecase.IWebhookUsecase
	recipients usecase.IRecipientUsecase
}

func loadConfig() (*configuration.Config, error) {
	loaded := configuration.LoadEnvFromFile("config.env", ".env")
	cfg, err := configuration.Load()
	if err != nil {
		return nil, err
	}
	logger.Configure(cfg.Logger.Level, cfg.Logger.Format)
	logger.GetLogger().WithField("env_files", loaded).Debug("Environment files loaded")
	return cfg, nil
}

func openDatabase(cfg *configuration.Config) (*sql.DB, error) {
	db, err := persistence.NewPostgreSQLDB(cfg.Database.Psql)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	logger.GetLogger().WithField("host", cfg.Database.Psql.Host).WithField("database", cfg.Database.Psql.Name).Info("Database connected.")
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	if err := persistence.EnsureCRMSchema(ctx, db); err != nil {
		return fmt.Errorf("ensuring crm schema: %w", err)
	}
	gormDB, err := persistence.NewGormPostgres(db)
	if err != nil {
		return err
	}
	if err := persistence.NewSyncLogRepository(gormDB).Migrate(ctx); err != nil {
		return fmt.Errorf("migrating sync logs: %w", err)
	}
	logger.GetLogger().Info("Schema is up to date")
	return nil
}

func newApp(ctx context.Context, cfg *configuration.Config) (*app, error) {
	a := &app{cfg: cfg}
	var err error
	if a.db, err = openDatabase(cfg); err != nil {
		return nil, err
	}
	gormDB, err := persistence.NewGormPostgres(a.db)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.redis, err = cache.NewCache(ctx, cfg.RedisClient.Host, cfg.RedisClient.Port, cfg.RedisClient.Username, cfg.RedisClient.Password)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("Redis not available - record locks and state nonces stay in process")
		a.redis = nil
	}
	a.mongo, err = persistence.NewMongoDb(ctx, cfg.Database.Mongo)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("MongoDB not available - continuing without webhook archive")
		a.mongo = nil
	}

	registry, err := crm.NewRegistry(cfg.CRM.RegistryConfig())
	if err != nil {
		a.Close()
		return nil, err
	}
	signer, err := usecase.NewStateSigner(cfg.CRM.EffectiveStateSecret(cfg.App), cfg.CRM.StateTTL(), cache.NewStateNonceStore(a.redis))
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.pushQueue, err = newPushQueue(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	integrations := persistence.NewIntegrationRepository(a.db)
	recipients := persistence.NewRecipientRepository(a.db, cfg.CRM.Push.PendingTimeout())
	syncLogs := persistence.NewSyncLogRepository(gormDB)
	handlers := usecase.NewEntityHandlers(recipients)
	locker := cache.NewRecordLocker(a.redis)

	a.oauth = usecase.NewOAuthUsecase(usecase.OAuthConfig{
		BaseURL:        cfg.App.BaseURL,
		WebhookSecrets: cfg.CRM.WebhookSecrets(),
	}, registry, integrations, signer)
	a.sync = usecase.NewSyncUsecase(usecase.SyncConfig{
		PageSize: cfg.CRM.PageSize,
		MaxPages: cfg.CRM.MaxPages,
		DemoMode: cfg.CRM.DemoMode,
	}, registry, a.oauth, integrations, syncLogs, handlers)
	a.push = usecase.NewPushUsecase(registry, a.oauth, integrations, recipients, syncLogs, locker, cfg.CRM.HTTPTimeout())
	a.webhooks = usecase.NewWebhookUsecase(usecase.WebhookConfig{Concurrency: cfg.CRM.WebhookConcurrency},
		registry, a.oauth, integrations, recipients, syncLogs, handlers,
		locker, persistence.NewWebhookArchive(a.mongo, cfg.Database.Mongo.Name))
	a.recipients = usecase.NewRecipientUsecase(recipients, a.pushQueue)

	logger.GetLogger().
		WithField("providers", registry.Providers()).
		WithField("demo_mode", cfg.CRM.DemoMode).
		WithField("push_backend", cfg.CRM.Push.Backend).
		Info("CRM sync initialized")
	return a, nil
}

func newPushQueue(ctx context.Context, cfg *configuration.Config) (repository.IPushQueue, error) {
	switch strings.ToLower(cfg.CRM.Push.Backend) {
	case "", "memory":
		return queue.NewMemoryQueue(pushQueueSize, cfg.CRM.Push.Workers), nil
	case "pubsub":
		client, err := pubsub.NewPubSub(ctx, cfg.Pubsub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("connecting to pubsub: %w", err)
		}
		if client == nil {
			return nil, fmt.Errorf("push backend pubsub requires pubsub.projectID")
		}
		return pubsub.NewPushQueue(client, cfg.Pubsub.Topic, cfg.Pubsub.Subscription), nil
	case "servicebus":
		client, err := servicebus.NewServiceBus(ctx, cfg.ServiceBus.Namespace)
		if err != nil {
			return nil, fmt.Errorf("connecting to service bus: %w", err)
		}
		if client == nil {
			return nil, fmt.Errorf("push backend servicebus requires serviceBus.namespace")
		}
		return servicebus.NewPushQueue(client, cfg.ServiceBus.Queue), nil
	}
	return nil, fmt.Errorf("unknown push backend %q", cfg.CRM.Push.Backend)
}

func (a *app) Close() {
	if a.mongo != nil {
		_ = a.mongo.Disconnect(context.Background())
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
