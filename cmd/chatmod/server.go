package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bluesky-social/parley/chatmod/activationstore"
	"github.com/bluesky-social/parley/chatmod/cachestore"
	"github.com/bluesky-social/parley/chatmod/cooldownstore"
	"github.com/bluesky-social/parley/chatmod/countstore"
	"github.com/bluesky-social/parley/chatmod/engine"
	"github.com/bluesky-social/parley/chatmod/floodguard"
	"github.com/bluesky-social/parley/chatmod/pattern"
	"github.com/bluesky-social/parley/chatmod/profile"
	"github.com/bluesky-social/parley/chatmod/quota"
	"github.com/bluesky-social/parley/chatmod/sentiment"
	"github.com/bluesky-social/parley/chatmod/setstore"
	"github.com/bluesky-social/parley/chatmod/trigger"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"gorm.io/gorm"
)

type Server struct {
	Engine   *engine.Engine
	Quota    *quota.Quota
	Profiles *profile.SnapshotSource

	echo   *echo.Echo
	httpd  *http.Server
	logger *slog.Logger

	retentionDays     int
	retentionSchedule string
}

type Config struct {
	Logger            *slog.Logger
	Bind              string
	RedisURL          string
	RedisCooldowns    bool
	ExemptUsersFile   string
	ProfileTTL        time.Duration
	ProfileLocalTTL   time.Duration
	SystemTriggers    bool
	RetentionDays     int
	RetentionSchedule string

	Flood     floodguard.Config
	Pattern   pattern.Config
	Sentiment sentiment.Config
	Quota     quota.Config
	Trigger   trigger.Config
	// optional
	Narrator trigger.NarrativeGenerator
	// HTTP request metrics; defaults to the global prometheus registry
	Registerer prometheus.Registerer
}

func NewServer(db *gorm.DB, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	if config.RetentionDays <= 0 {
		return nil, fmt.Errorf("invalid activation retention days: %d", config.RetentionDays)
	}

	var counters countstore.CountStore
	var cache cachestore.CacheStore
	var cooldowns cooldownstore.CooldownStore
	if config.RedisURL != "" {
		rc, err := countstore.NewRedisCountStore(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis counters: %w", err)
		}
		counters = rc
		cs, err := cachestore.NewRedisCacheStore(config.RedisURL, config.ProfileTTL, config.ProfileLocalTTL)
		if err != nil {
			return nil, fmt.Errorf("redis profile cache: %w", err)
		}
		cache = cs
		if config.RedisCooldowns {
			// keys only need to outlive the cooldown itself
			cd, err := cooldownstore.NewRedisCooldownStore(config.RedisURL, config.Quota.Cooldown)
			if err != nil {
				return nil, fmt.Errorf("redis cooldowns: %w", err)
			}
			cooldowns = cd
		}
	} else {
		counters = countstore.NewMemCountStore()
		cache = cachestore.NewMemCacheStore(50_000, config.ProfileTTL)
	}
	if cooldowns == nil {
		cooldowns = cooldownstore.NewMemCooldownStore()
	}

	sets := setstore.NewMemSetStore()
	if config.ExemptUsersFile != "" {
		if err := sets.LoadFromFileJSON(config.ExemptUsersFile); err != nil {
			return nil, fmt.Errorf("loading exempt users: %w", err)
		}
	}

	store, err := activationstore.NewGormStore(db)
	if err != nil {
		return nil, err
	}
	q, err := quota.NewQuota(config.Quota, store, cooldowns, logger)
	if err != nil {
		return nil, err
	}
	flood, err := floodguard.NewFloodGuard(config.Flood, logger)
	if err != nil {
		return nil, err
	}
	scorer, err := sentiment.NewScorer(config.Sentiment)
	if err != nil {
		return nil, err
	}
	detector, err := pattern.NewDetector(config.Pattern)
	if err != nil {
		return nil, err
	}
	triggers, err := trigger.NewEngine(config.Trigger, scorer, detector, q, config.Narrator, logger)
	if err != nil {
		return nil, err
	}
	eng, err := engine.NewEngine(flood, triggers, counters, logger)
	if err != nil {
		return nil, err
	}
	profiles := profile.NewSnapshotSource(cache)
	eng.Quota = q
	eng.Sets = sets
	eng.Profiles = profiles
	eng.SystemTriggers = config.SystemTriggers

	srv := &Server{
		Engine:            eng,
		Quota:             q,
		Profiles:          profiles,
		logger:            logger,
		retentionDays:     config.RetentionDays,
		retentionSchedule: config.RetentionSchedule,
	}
	reg := config.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	srv.setupHTTP(config.Bind, reg)
	return srv, nil
}

func (srv *Server) setupHTTP(bind string, reg prometheus.Registerer) {
	e := echo.New()

	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)
	srv.echo = e
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(srv.logger))
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("chatmod"))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "chatmod",
		Registerer: reg,
	}))
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/_health", srv.HandleHealthCheck)
	e.POST("/v1/actions/message", srv.HandleMessage)
	e.POST("/v1/actions/command", srv.HandleCommand)
	e.POST("/v1/users/:user/disconnect", srv.HandleDisconnect)
	e.POST("/v1/users/cleanup", srv.HandleCleanup)
	e.PUT("/v1/profiles/:user", srv.HandlePutProfile)
	e.DELETE("/v1/profiles/:user", srv.HandleDeleteProfile)
	e.GET("/v1/quota/:user", srv.HandleGetQuota)
	e.POST("/v1/quota/:user/reset-cooldown", srv.HandleResetCooldown)
	e.PUT("/v1/quota/enabled", srv.HandleSetEnabled)
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

// Runs the HTTP API and the retention schedule until an OS exit signal arrives.
func (srv *Server) Run(ctx context.Context) error {
	sched := cron.New()
	if _, err := sched.AddFunc(srv.retentionSchedule, func() { srv.runRetention(ctx) }); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", srv.retentionSchedule, err)
	}
	sched.Start()
	defer sched.Stop()

	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	// Wait for a signal to exit.
	quit := make(chan struct{})
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-exitSignals
		srv.logger.Info("received OS exit signal", "signal", sig)
		if err := srv.Shutdown(); err != nil {
			srv.logger.Error("HTTP server shutdown error", "err", err)
		}
		close(quit)
	}()
	<-quit
	srv.logger.Info("graceful shutdown complete")
	return nil
}

func (srv *Server) runRetention(ctx context.Context) {
	n, err := srv.Quota.CleanupOldActivations(ctx, srv.retentionDays)
	if err != nil {
		srv.logger.Error("activation retention cleanup failed", "err", err)
		return
	}
	retentionDeleted.Add(float64(n))
	srv.logger.Info("activation retention cleanup", "deleted", n, "days", srv.retentionDays)
}

func (srv *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}
