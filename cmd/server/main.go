// mysteryforge server - detective case generation pipeline
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caseworks/mysteryforge/internal/config"
	"github.com/caseworks/mysteryforge/internal/infrastructure/api/rest"
	"github.com/caseworks/mysteryforge/internal/infrastructure/cache"
	"github.com/caseworks/mysteryforge/internal/infrastructure/logger"
	infrastorage "github.com/caseworks/mysteryforge/internal/infrastructure/storage"
	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
	"github.com/caseworks/mysteryforge/internal/observer"
	"github.com/caseworks/mysteryforge/internal/pipeline"
	"github.com/caseworks/mysteryforge/internal/storage/casestore"
	"github.com/caseworks/mysteryforge/internal/storage/draftstore"
	"github.com/caseworks/mysteryforge/internal/storage/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.Logging)
	appLogger.Info("starting mysteryforge server", "port", cfg.Server.Port)

	db, err := infrastorage.NewDB(cfg.Database)
	if err != nil {
		appLogger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer infrastorage.Close(db)

	migrator, err := infrastorage.NewMigrator(db, migrations.FS)
	if err != nil {
		appLogger.Error("failed to initialize migrator", "error", err)
		os.Exit(1)
	}
	migrateCtx := context.Background()
	if err := migrator.Init(migrateCtx); err != nil {
		appLogger.Error("failed to initialize migration tables", "error", err)
		os.Exit(1)
	}
	if err := migrator.Up(migrateCtx); err != nil {
		appLogger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	appLogger.Info("database migrated")

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		appLogger.Error("failed to initialize redis cache", "error", err)
		os.Exit(1)
	}
	defer redisCache.Close()
	appLogger.Info("redis cache connected")

	drafts := draftstore.New(redisCache, cfg.Redis.DraftTTL)
	cases := casestore.New(db)

	modelClient, err := modelclient.NewHTTPProvider(cfg.Model.APIKey, cfg.Model.BaseURL, cfg.Model.Model)
	if err != nil {
		appLogger.Error("failed to initialize model client", "error", err)
		os.Exit(1)
	}
	aliasFactory := func(alias model.ModelAlias) (modelclient.Client, error) {
		return modelclient.NewProviderForAlias(cfg.Model.APIKey, cfg.Model.BaseURL, alias)
	}

	var wsHub *observer.WebSocketHub
	if cfg.Observer.EnableWebSocket {
		wsHub = observer.NewWebSocketHub(appLogger)
		appLogger.Info("websocket hub initialized")
	}

	observerManager := observer.NewManager(appLogger)
	if cfg.Observer.EnableLogger {
		if err := observerManager.Register(observer.NewLoggerObserver(appLogger)); err != nil {
			appLogger.Error("failed to register logger observer", "error", err)
		}
	}
	if cfg.Observer.EnableWebSocket && wsHub != nil {
		wsObs := observer.NewWebSocketObserver(wsHub, observer.WithWebSocketLogger(appLogger))
		if err := observerManager.Register(wsObs); err != nil {
			appLogger.Error("failed to register websocket observer", "error", err)
		}
	}
	appLogger.Info("observer system initialized", "count", observerManager.Count())

	orchestrator := pipeline.New(pipeline.DefaultStages(), modelClient, aliasFactory, drafts, cases, observerManager, appLogger)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := rest.NewRouter(cfg.Server, orchestrator, cases, wsHub, appLogger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		appLogger.Info("http server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		appLogger.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		appLogger.Info("server shutdown initiated", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			appLogger.Error("graceful shutdown failed", "error", err)
			if err := server.Close(); err != nil {
				appLogger.Error("server close failed", "error", err)
			}
		}
		appLogger.Info("server stopped")
	}
}
