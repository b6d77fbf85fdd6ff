package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/deskwise/deskwise/internal/api"
	"github.com/deskwise/deskwise/internal/app"
	"github.com/deskwise/deskwise/internal/app/maintenance"
	iauth "github.com/deskwise/deskwise/internal/auth"
	"github.com/deskwise/deskwise/internal/cache"
	"github.com/deskwise/deskwise/internal/database"
	"github.com/deskwise/deskwise/internal/middleware"
	"github.com/deskwise/deskwise/internal/monitoring"
	"github.com/deskwise/deskwise/internal/monitoring/checks"
	"github.com/deskwise/deskwise/internal/notifications"
	"github.com/deskwise/deskwise/internal/realtime"
	"github.com/deskwise/deskwise/internal/services"
	"github.com/deskwise/deskwise/pkg/logger"
)

// runtimeStack bundles the long-lived pipeline services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Redis      cache.Store
	Hub        *realtime.Hub
	Sender     *notifications.WebPushSender
	Dispatcher *notifications.Dispatcher
	Cleaner    *maintenance.Cleaner
	RateStore  middleware.RateStore
	Monitoring *monitoring.Module
	Router     *gin.Engine
}

// bootstrapRuntime initialises the database, caches, the notification
// pipeline and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.Monitoring, err = buildMonitoring(cfg, stack)
	if err != nil {
		return nil, fmt.Errorf("initialise monitoring: %w", err)
	}

	if err := app.ValidateVAPIDKeys(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey); err != nil {
		return nil, err
	}

	subscriptions, err := services.NewPushSubscriptionService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise push subscription registry: %w", err)
	}

	stack.Hub = realtime.NewHub()
	stack.Sender = notifications.NewWebPushSender(subscriptions, cfg.Push.WebPushConfig())
	stack.Dispatcher = notifications.NewDispatcher(stack.Hub, stack.Sender, subscriptions)

	cacheStore := cache.Store(dbStore)
	if stack.Redis != nil {
		cacheStore = stack.Redis
	}
	unread := notifications.NewUnreadCache(cacheStore)

	cleanerOpts, err := cfg.Retention.CleanerOptions()
	if err != nil {
		return nil, err
	}
	stack.Cleaner = maintenance.NewCleaner(stack.DB, cleanerOpts...)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start retention cleanup: %w", err)
	}

	stack.RateStore = middleware.NewStoreRateStore(cacheStore)

	stack.Router, err = api.NewRouter(stack.DB, jwtSvc, cfg, api.Deps{
		Hub:        stack.Hub,
		Sender:     stack.Sender,
		Dispatcher: stack.Dispatcher,
		Unread:     unread,
		RateStore:  stack.RateStore,
		Monitoring: stack.Monitoring,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// buildMonitoring wires the monitoring module and its readiness probes. The
// module also backs the instrumentation helpers, so it is registered globally.
func buildMonitoring(cfg *app.Config, stack *runtimeStack) (*monitoring.Module, error) {
	module, err := monitoring.NewModule(monitoring.Options{})
	if err != nil {
		return nil, err
	}
	monitoring.SetModule(module)

	health := module.Health()
	health.RegisterReadiness(checks.Database(stack.DB, 0))
	health.RegisterReadiness(checks.Realtime())
	health.RegisterReadiness(checks.Maintenance(0))

	var pinger checks.RedisPinger
	if rc, ok := stack.Redis.(*cache.RedisClient); ok && rc != nil {
		pinger = rc
	}
	health.RegisterReadiness(checks.Redis(pinger, cfg.Cache.Redis.Enabled, 0))

	return module, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if _, err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("retention shutdown cleanup failed", zap.Error(err))
		}
	}

	if rc, ok := s.Redis.(*cache.RedisClient); ok && rc != nil {
		if err := rc.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
