package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"

	"rfidattendance/internal/attendance"
	"rfidattendance/internal/bootstrap"
	"rfidattendance/internal/config"
	"rfidattendance/internal/logging"
	"rfidattendance/internal/mqttingest"
)

type options struct {
	sweepOnce bool
	noMQTT    bool
}

// Worker runs the scheduled stale-session sweep and, when a broker is configured, ingests
// reader traffic from MQTT.
func main() {
	cfg := config.Load()
	var opts options
	flag.BoolVar(&opts.sweepOnce, "sweep-once", false, "close every open session now, print the report and exit")
	flag.BoolVar(&opts.noMQTT, "no-mqtt", false, "do not subscribe to the MQTT broker even if MQTT_BROKER_URL is set")
	flag.Parse()

	logger := logging.New(os.Stdout, logging.Options{
		Env:          cfg.Env,
		Level:        cfg.LogLevel,
		RollbarToken: cfg.RollbarToken,
		Service:      "worker",
	})
	defer logging.Close()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := checkBackends(cfg); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, opts, logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

// checkBackends rejects process-local backends. The worker shares sessions with the API
// only through Postgres, and live events only through Redis.
func checkBackends(cfg config.App) error {
	if cfg.StoreBackend == config.BackendMemory {
		return fmt.Errorf("worker needs STORE_BACKEND=%s: the in-memory store is not shared with the API", config.BackendPostgres)
	}
	if cfg.LiveBackend == config.BackendMemory {
		return fmt.Errorf("worker needs LIVE_BACKEND=%s: in-process live events never reach the API", config.BackendRedis)
	}
	return nil
}

func run(cfg config.App, opts options, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer rt.Close()

	pubCtx, stopPublisher := context.WithCancel(context.Background())
	published := make(chan struct{})
	go func() {
		rt.Publisher.Run(pubCtx)
		close(published)
	}()
	defer func() {
		stopPublisher()
		<-published
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rt.Publisher.Drain(drainCtx)
	}()

	if opts.sweepOnce {
		report, err := rt.Service.SweepStaleSessions(ctx)
		if err != nil {
			return err
		}
		if len(report.Failed) > 0 {
			logger.Warn("sweep finished with failures", "failed", len(report.Failed))
		}
		return json.NewEncoder(os.Stdout).Encode(report)
	}

	loc, _ := time.LoadLocation(cfg.SweepTimezone)
	sweeper, err := attendance.NewSweeper(rt.Service, cfg.SweepSchedule, loc, logger.With("component", "sweeper"))
	if err != nil {
		return err
	}
	sweeper.Start()
	logger.Info("worker started", "schedule", cfg.SweepSchedule, "timezone", cfg.SweepTimezone)

	if cfg.MQTTBrokerURL != "" && !opts.noMQTT {
		sub := mqttingest.NewSubscriber(cfg.MQTTBrokerURL, cfg.MQTTClientID, rt.Service, logger.With("component", "mqtt"))
		go func() {
			if err := sub.Run(ctx); err != nil {
				logger.Error("mqtt ingestion stopped", "error", err)
			}
		}()
		logger.Info("mqtt ingestion enabled", "broker", cfg.MQTTBrokerURL)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sweeper.Stop(stopCtx)
	logger.Info("worker stopped")
	return nil
}
