package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"

	"rfidattendance/internal/api"
	"rfidattendance/internal/attendance"
	"rfidattendance/internal/bootstrap"
	"rfidattendance/internal/config"
	"rfidattendance/internal/live"
	"rfidattendance/internal/logging"
)

func main() {
	cfg := config.Load()
	withSweeper := flag.Bool("with-sweeper", cfg.StoreBackend == config.BackendMemory,
		"run the stale-session sweeper in this process (defaults to on for the memory store)")
	flag.Parse()

	logger := logging.New(os.Stdout, logging.Options{
		Env:          cfg.Env,
		Level:        cfg.LogLevel,
		RollbarToken: cfg.RollbarToken,
		Service:      "api",
	})
	defer logging.Close()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Set Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, *withSweeper, logger); err != nil {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.App, withSweeper bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer rt.Close()

	hub := live.NewHub(cfg.LiveBuffer, logger.With("component", "hub"), rt.Metrics)
	go rt.Publisher.Run(ctx)
	go hub.Run(ctx, rt.Bus)

	if withSweeper {
		loc, _ := time.LoadLocation(cfg.SweepTimezone)
		sweeper, err := attendance.NewSweeper(rt.Service, cfg.SweepSchedule, loc, logger.With("component", "sweeper"))
		if err != nil {
			return err
		}
		sweeper.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sweeper.Stop(stopCtx)
		}()
		logger.Info("sweeper scheduled", "schedule", cfg.SweepSchedule, "timezone", cfg.SweepTimezone)
	}

	srv := api.New(api.Config{
		JWTIssuer:        cfg.JWTIssuer,
		JWTSigningKey:    cfg.JWTSigningKey,
		DeviceAccessTTL:  cfg.DeviceAccessTTL,
		DeviceRefreshTTL: cfg.DeviceRefreshTTL,
		RateLimitPerMin:  cfg.RateLimitPerMin,
		CORSOrigins:      cfg.CORSOrigins,
	}, api.Deps{
		Service:  rt.Service,
		Hub:      hub,
		Logger:   logger,
		Metrics:  rt.Metrics,
		Gatherer: prometheus.DefaultGatherer,
		Checks:   rt.Checks(),
	})

	// No WriteTimeout: SSE and WebSocket responses stay open.
	httpSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", httpSrv.Addr, "store", cfg.StoreBackend, "live", cfg.LiveBackend)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", "error", err)
	}
	logger.Info("server exited")
	return nil
}
