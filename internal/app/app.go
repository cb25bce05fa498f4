// Package app wires configuration, stores, the scheduler and the HTTP API
// into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"

	"terminsync/internal/auth"
	"terminsync/internal/config"
	"terminsync/internal/handlers"
	"terminsync/internal/logging"
	"terminsync/internal/owners"
	"terminsync/internal/partnersync"
	"terminsync/internal/retry"
	"terminsync/internal/storage"
	"terminsync/internal/store"
	"terminsync/internal/store/remote"
	"terminsync/internal/tasks"
	"terminsync/internal/ws"
)

// ledgerTTL keeps the last sweep report well past a few missed intervals.
const ledgerTTL = 7 * 24 * time.Hour

type App struct {
	Config    *config.Config
	Log       *logging.Logger
	DB        *gorm.DB
	Redis     *redis.Client
	Owners    *owners.Registry
	Scheduler *tasks.Scheduler
	Hub       *ws.Hub
	Tokens    *auth.Issuer

	hubCancel context.CancelFunc
}

// New opens every backing store the configuration names. Nothing is started.
func New(ctx context.Context, cfg *config.Config, log *logging.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.DB = db

	var ledger partnersync.RunLedger = partnersync.NewMemoryLedger()
	if cfg.Redis.Addr != "" {
		client, err := storage.InitRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.Redis = client
		ledger = storage.NewRedisLedger(client, ledgerTTL)
	} else {
		log.Warn("REDIS_ADDR not set, sweep reports are kept in memory")
	}

	builder := &owners.Builder{
		Backend:          backend(cfg, db),
		SharedCollection: cfg.Store.SharedCollection,
		Ledger:           ledger,
		Policy:           retry.Default(),
		Logger:           log,
	}
	a.Owners = owners.NewRegistry(db, builder, cfg.Workspace.CacheSize, cfg.Workspace.CacheTTL)
	a.Hub = ws.NewHub(log.With("ws"))
	a.Scheduler = tasks.New(a.Owners, tasks.Options{
		Enabled:  cfg.Sync.Enabled,
		Interval: cfg.Sync.Interval,
		Notifier: a.Hub,
		Logger:   log.With("scheduler"),
	})
	builder.Scheduler = a.Scheduler
	a.Tokens = auth.NewIssuer(cfg.JWT)

	log.Info("service initialised", "driver", cfg.Store.Driver, "shared", cfg.Store.SharedCollection)
	return a, nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	if cfg.Store.Driver == config.DriverMemory {
		return storage.ConnectMemoryDatabase()
	}
	return storage.ConnectDatabase(cfg.DB)
}

func backend(cfg *config.Config, db *gorm.DB) owners.Backend {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return store.NewMemories()
	case config.DriverRemote:
		client := remote.NewClient(&http.Client{Timeout: 30 * time.Second}, cfg.Store.RemoteURL, cfg.Store.RemoteToken)
		return owners.BackendFunc(func(name string) store.Collection { return client.Collection(name) })
	default:
		return owners.BackendFunc(func(name string) store.Collection { return storage.NewDocumentCollection(db, name) })
	}
}

// Router builds the gin engine with every route.
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(a.Log.With("http")))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := handlers.New(handlers.Deps{
		Owners:     a.Owners,
		Tokens:     a.Tokens,
		Background: a.Scheduler,
		Stream:     a.Hub,
		Logger:     a.Log,
	})
	api.Routes(r, a.Tokens.Middleware())
	return r
}

func requestLog(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request", "method", c.Request.Method, "path", c.FullPath(),
			"status", c.Writer.Status(), "elapsed", time.Since(start).Round(time.Microsecond))
	}
}

// Start runs the websocket hub and, when configured, the background sweep.
func (a *App) Start(ctx context.Context) error {
	hubCtx, cancel := context.WithCancel(ctx)
	a.hubCancel = cancel
	go a.Hub.Run(hubCtx)

	if a.Config.Sync.Enabled {
		if err := a.Scheduler.Start(a.Config.Sync.Interval); err != nil {
			return err
		}
	}
	return nil
}

// Serve starts the app and the HTTP server and blocks until ctx is cancelled.
// Shutdown waits for in-flight requests and the running sweep pass.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              a.Config.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.Log.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Log.Error("http shutdown", "err", err)
	}
	return a.Close(shutdownCtx)
}

// Close stops the scheduler and releases connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Scheduler != nil {
		errs = append(errs, a.Scheduler.Stop(ctx))
	}
	if a.hubCancel != nil {
		a.hubCancel()
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
