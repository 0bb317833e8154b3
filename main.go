package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/cutout/internal/config"
	"github.com/example/cutout/internal/handlers"
	"github.com/example/cutout/internal/logging"
	"github.com/example/cutout/internal/middleware"
	"github.com/example/cutout/internal/model"
	"github.com/example/cutout/internal/provider"
	"github.com/example/cutout/internal/repository"
	"github.com/example/cutout/internal/storage"
	"github.com/example/cutout/internal/usecase"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg := config.New()

	logger, err := logging.NewLogger(cfg.Server.Mode)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	store, err := storage.New(cfg.Upload.UploadDir, cfg.Upload.ResultDir, logger)
	if err != nil {
		logger.Fatal("failed to prepare storage directories", zap.Error(err))
	}

	db := initDatabase(ctx, cfg, logger)
	repo := repository.NewJobRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg, logger)
	cache := usecase.NewRedisCache(redisClient)

	providers := provider.NewHTTPClient(resolveEndpoints(cfg, logger), cfg.Providers.Timeout, logger)
	models := model.NewStore(cfg.Models.Dir)

	uc := usecase.NewProcessUseCase(repo, cache, store, providers, models, usecase.Options{
		Threshold:  cfg.Segmentation.Threshold,
		BlurRadius: cfg.Segmentation.BlurRadius,
		CacheTTL:   cfg.Redis.TTL,
	}, logger)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Cleanup.Schedule, func() {
		store.RemoveOlderThan(cfg.Cleanup.MaxAge)
	}); err != nil {
		logger.Fatal("failed to schedule cleanup", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.MaxMultipartMemory = cfg.Upload.MaxSize

	handlers.RegisterRoutes(r, uc, handlers.Options{
		MaxUploadSize:     cfg.Upload.MaxSize,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		DefaultProvider:   cfg.Providers.Default,
		Providers:         providerNames(cfg),
		DefaultModel:      cfg.Models.DefaultModel,
		UploadDir:         cfg.Upload.UploadDir,
		ResultDir:         cfg.Upload.ResultDir,
	})

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	logger.Info("cutout API listening", zap.String("addr", cfg.Server.Addr))
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func providerNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Providers.Endpoints))
	for name := range cfg.Providers.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveEndpoints turns configured endpoints into ready clients, reading API
// keys from the environment. Endpoints without a key stay registered so a
// request against them fails over to the local pipeline instead of 404ing.
func resolveEndpoints(cfg *config.Config, logger *zap.Logger) map[string]provider.Endpoint {
	endpoints := make(map[string]provider.Endpoint, len(cfg.Providers.Endpoints))
	for name, ep := range cfg.Providers.Endpoints {
		key := os.Getenv(ep.APIKeyEnv)
		if key == "" {
			logger.Warn("provider has no api key, requests will use the local fallback",
				zap.String("provider", name), zap.String("env", ep.APIKeyEnv))
		}
		endpoints[name] = provider.Endpoint{URL: ep.URL, APIKey: key}
	}
	return endpoints
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
