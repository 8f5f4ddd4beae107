package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"rfidattendance/internal/api"
	"rfidattendance/internal/attendance"
	"rfidattendance/internal/config"
	"rfidattendance/internal/live"
	"rfidattendance/internal/metrics"
	"rfidattendance/internal/store"
)

// Runtime is the set of long-lived components shared by the binaries.
type Runtime struct {
	Config    config.App
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	DB        *store.DB
	Redis     *store.Redis
	Bus       live.Bus
	Publisher *live.Publisher
	Service   *attendance.Service
}

// Open connects the configured store and live bus and builds the attendance service.
func Open(ctx context.Context, cfg config.App, logger *slog.Logger, reg prometheus.Registerer) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger, Metrics: metrics.New(reg)}

	var st attendance.Store
	switch cfg.StoreBackend {
	case config.BackendMemory:
		mem := attendance.NewMemoryStore()
		if cfg.RosterSeedFile != "" {
			if err := seedFromFile(mem, cfg.RosterSeedFile); err != nil {
				return nil, err
			}
			logger.Info("roster seeded", "file", cfg.RosterSeedFile)
		}
		st = mem
		logger.Warn("using in-memory store; data is lost on restart")
	default:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
		rt.DB = db
		st = attendance.NewRepository(db.Client)
	}

	switch cfg.LiveBackend {
	case config.BackendMemory:
		rt.Bus = live.NewInMemory(1024)
	default:
		rt.Redis = store.NewRedis(cfg.RedisAddr)
		if !rt.Redis.Healthy(ctx) {
			logger.Warn("redis not reachable yet; live events will be dropped until it is", "addr", cfg.RedisAddr)
		}
		rt.Bus = live.NewRedisBus(rt.Redis.Client, live.DefaultChannel)
	}

	rt.Publisher = live.NewPublisher(rt.Bus, 1024, logger.With("component", "live"), rt.Metrics)
	rt.Service = attendance.NewService(st, rt.Publisher, logger.With("component", "attendance"), rt.Metrics)
	return rt, nil
}

// Checks returns the dependencies worth reporting on /healthz.
func (rt *Runtime) Checks() map[string]api.Checker {
	checks := map[string]api.Checker{}
	if rt.DB != nil {
		checks["db"] = rt.DB
	}
	if rt.Redis != nil {
		checks["redis"] = rt.Redis
	}
	return checks
}

// Close releases connections.
func (rt *Runtime) Close() {
	if err := rt.DB.Close(); err != nil {
		rt.Logger.Error("close db", "error", err)
	}
	if err := rt.Redis.Close(); err != nil {
		rt.Logger.Error("close redis", "error", err)
	}
}

func seedFromFile(mem *attendance.MemoryStore, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open roster seed: %w", err)
	}
	defer f.Close()
	return attendance.SeedRoster(mem, f)
}
