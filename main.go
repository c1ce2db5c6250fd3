package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ghosttrack/beacon/analytics"
	"ghosttrack/beacon/config"
	"ghosttrack/beacon/dashboard"
	"ghosttrack/beacon/database"
	"ghosttrack/beacon/handlers"
	"ghosttrack/beacon/metrics"
	"ghosttrack/beacon/middleware"
	"ghosttrack/beacon/store"
	"ghosttrack/beacon/tracker"
)

func main() {
	cfg := config.Load()

	logger := slog.Make(sloghuman.Sink(os.Stderr))
	if cfg.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		logger = logger.Leveled(slog.LevelDebug)
	}
	ctx := context.Background()
	for _, w := range cfg.Warnings {
		logger.Warn(ctx, "config", slog.F("warning", w))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// --- Analytics API client and poller ---
	client, err := analytics.New(cfg.AnalyticsURL, cfg.DashboardSiteID)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize analytics client", slog.Error(err))
	}
	client.TokenSecret = cfg.JWTSecret

	clock := quartz.NewReal()
	dash := dashboard.New(client, dashboard.Options{
		Interval:    cfg.PollInterval,
		EventsLimit: cfg.EventsLimit,
		Clock:       clock,
		Logger:      logger,
		Metrics:     m,
	})
	dash.Start(ctx)

	// --- Self-tracking, with Redis sessions when configured ---
	var sessions middleware.SessionScoper
	if cfg.RedisAddr != "" {
		rdb, err := database.NewRedisClient(ctx, logger, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatal(ctx, "failed to initialize redis", slog.Error(err))
		}
		defer rdb.Close()
		sessions = store.NewRedisSessionStore(rdb.Client, cfg.SessionTTL)
	}

	tr := tracker.New(cfg.Tracker, nil, nil, tracker.Deps{
		Logger:  logger,
		Metrics: m,
		Clock:   clock,
	})

	h := handlers.NewDashboardHandlers(dash, client, clock, logger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORSMiddleware(cfg.FrontendOrigin))
	r.Use(middleware.TrackPageviews(tr, sessions, handlers.PageTitle))

	r.GET("/", handlers.Index)
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.Use(middleware.AuthRequired(logger, cfg.APIKey, cfg.JWTSecret))
	{
		board := api.Group("/dashboard")
		{
			board.GET("", h.GetDashboard)
			board.POST("/refresh", h.Refresh)
			board.GET("/daily", h.GetDaily)
			board.GET("/hourly", h.GetHourly)
			board.GET("/traffic", h.GetTraffic)
			board.GET("/alerts", h.GetAlerts)
			board.GET("/events-by-type", h.GetEventsByType)
		}
		api.GET("/threats/suspicious", h.GetSuspicious)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(ctx, "dashboard server starting", slog.F("addr", "http://localhost:"+cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(ctx, "dashboard server failed to start", slog.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "server forced to shutdown", slog.Error(err))
	}
	dash.Stop()
	if err := tr.Close(shutdownCtx); err != nil {
		logger.Warn(ctx, "tracker did not drain", slog.Error(err))
	}

	logger.Info(ctx, "server exiting")
}
