// Package app assembles the duel service with fx: the duel store, the
// screenshot store and oracle, the change broker, the lifecycle engine, the
// notification queue, the periodic jobs and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/config"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/feed"
	httpapi "github.com/ATT1KA/1V1-Mobile-sub001/internal/http"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/observability"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/oracle"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/repo"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/scheduler"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/services"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/storage"
)

// Version is the build version reported in traces and logs.
type Version string

// ShutdownTimeout bounds each stop hook.
const ShutdownTimeout = 15 * time.Second

// Module provides every component of the service. Callers supply a
// config.Config and a Version.
var Module = fx.Options(
	fx.Invoke(setupTracing),
	fx.Provide(
		OpenDB,
		NewScreenshotStore,
		NewVerifier,
		NewBroker,
		NewStats,
		NewQueue,
		NewEngine,
		NewScheduler,
		NewHandler,
		NewServer,
	),
	fx.Invoke(func(*scheduler.Scheduler, *http.Server) {}),
)

func setupTracing(lc fx.Lifecycle, cfg config.Config, v Version) error {
	shutdown, err := observability.Setup(context.Background(), cfg.OTEL, string(v))
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return shutdown(ctx) }})
	return nil
}

// OpenDB opens and migrates the duel store.
func OpenDB(lc fx.Lifecycle, cfg config.Config) (*gorm.DB, error) {
	db, err := repo.Open(cfg.DB.Driver, cfg.DB.Path, cfg.DB.URL)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.DB.Driver, err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}})
	return db, nil
}

// NewScreenshotStore returns the S3 store when a bucket is set, memory
// otherwise.
func NewScreenshotStore(cfg config.Config) (storage.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return storage.New(ctx, cfg.Storage)
}

// NewVerifier returns the HTTP oracle client, or one that always reports
// unavailable when no URL is set.
func NewVerifier(cfg config.Config) oracle.Verifier {
	if cfg.Oracle.URL == "" {
		log.Warn().Str("component", "app").Msg("ORACLE_URL not set; screenshots will be kept unverified")
		return oracle.Unconfigured{}
	}
	return oracle.NewHTTPClient(cfg.Oracle.URL, cfg.Oracle.APIKey, cfg.Oracle.Timeout)
}

func NewBroker(cfg config.Config) *feed.Broker {
	return feed.NewBroker(cfg.Realtime.SendBuffer)
}

func NewStats(db *gorm.DB) *services.LedgerStats {
	return &services.LedgerStats{DB: db}
}

func NewQueue(db *gorm.DB, cfg config.Config) *services.NotificationQueue {
	return services.NewNotificationQueue(db, cfg.Notifications, nil)
}

// NewEngine wires the engine to the stores, the oracle, the queue and the
// broker.
func NewEngine(db *gorm.DB, cfg config.Config, store storage.Store, v oracle.Verifier,
	stats *services.LedgerStats, q *services.NotificationQueue, b *feed.Broker) *services.Engine {
	e := services.NewEngine(db, cfg.Duel)
	e.Screenshots = store
	e.Oracle = v
	e.Stats = stats
	e.Notify = q
	e.Feed = b
	return e
}

// NewScheduler registers the periodic jobs and runs them between start and
// stop.
func NewScheduler(lc fx.Lifecycle, cfg config.Config, e *services.Engine, q *services.NotificationQueue) (*scheduler.Scheduler, error) {
	sc, err := scheduler.New(scheduler.Jobs{Engine: e, Queue: q, DB: e.DB}, cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { sc.Start(); return nil },
		OnStop:  func(context.Context) error { return sc.Shutdown() },
	})
	return sc, nil
}

// NewHandler builds the gin engine with every route mounted.
func NewHandler(cfg config.Config, e *services.Engine, q *services.NotificationQueue,
	stats *services.LedgerStats, b *feed.Broker) http.Handler {
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{Engine: e, Queue: q, Stats: stats, Broker: b}, cfg)
	return r
}

// NewServer returns the HTTP server. It binds on start, so a taken port
// fails startup instead of the background goroutine.
func NewServer(lc fx.Lifecycle, cfg config.Config, h http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			log.Info().Str("addr", ln.Addr().String()).Str("base_path", cfg.APIBasePath).Msg("server listening")
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("server stopped")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("shutting down server")
			ctx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	})
	return srv
}
