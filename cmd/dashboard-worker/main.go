package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfhttp "github.com/orgdash/dashboard-worker/internal/adapter/http"
	cfnats "github.com/orgdash/dashboard-worker/internal/adapter/nats"
	"github.com/orgdash/dashboard-worker/internal/adapter/natskv"
	cfotel "github.com/orgdash/dashboard-worker/internal/adapter/otel"
	"github.com/orgdash/dashboard-worker/internal/adapter/postgres"
	"github.com/orgdash/dashboard-worker/internal/adapter/ristretto"
	"github.com/orgdash/dashboard-worker/internal/adapter/tiered"
	"github.com/orgdash/dashboard-worker/internal/adapter/ttlcache"
	"github.com/orgdash/dashboard-worker/internal/adapter/ws"
	"github.com/orgdash/dashboard-worker/internal/config"
	"github.com/orgdash/dashboard-worker/internal/domain/user"
	"github.com/orgdash/dashboard-worker/internal/logger"
	"github.com/orgdash/dashboard-worker/internal/middleware"
	"github.com/orgdash/dashboard-worker/internal/port/broadcast"
	"github.com/orgdash/dashboard-worker/internal/port/cache"
	"github.com/orgdash/dashboard-worker/internal/resilience"
	"github.com/orgdash/dashboard-worker/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"nats", cfg.NATS.URL != "",
		"auth", cfg.Auth.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	shutdownOtel, err := cfotel.Init(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			log.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	breaker := resilience.NewBreaker("postgres", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout, logger.Component(log, "breaker"))
	store := postgres.NewStore(pool,
		postgres.WithBreaker(breaker),
		postgres.WithImpersonation(cfg.Postgres.Impersonate),
		postgres.WithLogger(logger.Component(log, "postgres")),
	)

	l1 := ttlcache.NewStore(ttlcache.Config{
		MaxEntries:     cfg.Cache.MaxEntries,
		MaxBytes:       cfg.Cache.MaxBytes,
		SweepInterval:  cfg.Cache.SweepInterval,
		SizeMultiplier: cfg.Cache.SizeMultiplier,
		TargetRatio:    cfg.Cache.TargetRatio,
		SweepFraction:  cfg.Cache.SweepFraction,
	},
		ttlcache.WithObserver[[]byte](metrics.CacheObserver()),
		ttlcache.WithLogger[[]byte](logger.Component(log, "cache")),
	)
	var responses cache.Cache = l1

	hub := ws.NewHub(cfg.Server.CORSOrigins, logger.Component(log, "ws"))
	broadcasters := broadcast.Fanout{hub}

	var queue *cfnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = cfnats.Connect(ctx, cfg.NATS.URL, logger.Component(log, "nats"))
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()

		kv, err := queue.KeyValue(ctx, cfg.NATS.KVBucket, cfg.NATS.KVTTL)
		if err != nil {
			return fmt.Errorf("nats kv: %w", err)
		}
		responses = tiered.New(l1, natskv.New(kv), min(cfg.Cache.DashboardTTL, cfg.Cache.ListTTL), logger.Component(log, "tiered-cache"))
		broadcasters = append(broadcasters, queue)
	}

	// --- Services ---

	refreshSvc := service.NewRefreshService(cfg.Refresh.WarmTimeout,
		service.WithBroadcaster(broadcasters),
		service.WithRefreshMetrics(metrics),
		service.WithRefreshLogger(logger.Component(log, "refresh")),
	)
	if cfg.Refresh.Enabled {
		for _, s := range cfg.Refresh.Schedules {
			if err := refreshSvc.Schedule(s.Cron, service.ViewActions(store, s.Targets)); err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
		}
	} else {
		if err := refreshSvc.Register(service.ViewActions(store, cfg.Refresh.Targets())); err != nil {
			return fmt.Errorf("refresh: %w", err)
		}
		log.Info("scheduled refresh disabled, on-demand refresh only")
	}

	dashboardSvc := service.NewDashboardService(store, responses,
		service.DashboardTTLs{Dashboard: cfg.Cache.DashboardTTL, Lists: cfg.Cache.ListTTL},
		service.WithRefresher(refreshSvc),
		service.WithMetrics(metrics),
		service.WithDashboardLogger(logger.Component(log, "dashboard")),
	)

	claims, err := ristretto.New[*user.Claims](cfg.Auth.ClaimsCacheMB << 20)
	if err != nil {
		return fmt.Errorf("claims cache: %w", err)
	}
	defer claims.Close()
	authSvc := service.NewAuthService(&cfg.Auth, claims, nil)
	if !cfg.Auth.Enabled {
		log.Warn("authentication disabled, all requests run as the developer admin")
	}

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Dashboard: dashboardSvc,
		Refresh:   refreshSvc,
		Cache:     l1.Cache(),
		DB:        store,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger(logger.Component(log, "http")))
	r.Use(chimw.Recoverer)
	r.Use(cfotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigins))
	r.Use(middleware.RateLimit(cfg.Rate.Requests, cfg.Rate.Window))
	r.Use(middleware.Auth(authSvc, cfg.Auth.Enabled))

	// WebSocket endpoint, outlives the request timeout.
	r.Get("/ws", hub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
		cfhttp.MountRoutes(r, handlers)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// --- Supervision ---

	sup := newSupervisor(logger.Component(log, "supervisor"), cfg.Server.ShutdownTimeout)
	sup.Add(&httpService{srv: srv, shutdownTimeout: cfg.Server.ShutdownTimeout, logger: log})
	sup.Add(serviceFunc{name: "cache-sweeper", serve: l1.Serve})
	sup.Add(serviceFunc{name: "refresh-scheduler", serve: refreshSvc.Serve})
	if queue != nil {
		sup.Add(subscriberService{
			name: "refresh-subscriber",
			subscribe: func(ctx context.Context) (func(), error) {
				return refreshSvc.StartRefreshSubscriber(ctx, queue)
			},
		})
	}

	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}
