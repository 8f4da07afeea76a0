package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"studiobook/internal/api"
	"studiobook/internal/audit"
	"studiobook/internal/availability"
	"studiobook/internal/cache"
	"studiobook/internal/config"
	"studiobook/internal/coordinator"
	"studiobook/internal/database"
	"studiobook/internal/events"
	"studiobook/internal/exceptions"
	"studiobook/internal/metrics"
	"studiobook/internal/schedule"
	"studiobook/internal/settings"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, sqlBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer backend.Close()

	sched := schedule.NewStore(backend, logger)
	created, err := sched.Provision(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("provision weekly schedule")
	}
	if created > 0 {
		logger.Info().Int("days", created).Msg("weekly schedule provisioned")
	}
	exc := exceptions.NewStore(backend, logger)
	store := settings.NewStore(backend, logger)

	ready := map[string]api.Checker{"database": backend.Ping}
	var availCache cache.Cache = cache.NewMemory(cfg.CacheTTL())
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		rc := cache.NewRedis(rdb, cfg.CacheTTL(), logger)
		availCache = rc
		ready["redis"] = rc.Ping
	}

	officeStart, officeEnd := cfg.OfficeHours()
	resolver := availability.NewResolver(sched, exc, availCache, availability.OfficeHours{Start: officeStart, End: officeEnd}, logger)

	bus := events.NewEventBus(logger)
	bus.Subscribe("*", func(e events.Event) error {
		c, err := e.Decode()
		if err != nil {
			return err
		}
		logger.Info().Str("event", e.Type).Str("action", c.Action).Strs("dates", c.Dates).Str("id", c.ID).Msg("studio changed")
		return nil
	})
	bus.Subscribe("*", func(e events.Event) error {
		metrics.IncEvent(e.Type)
		return nil
	})
	coord := coordinator.New(sched, exc, resolver, bus, logger)

	if path := cfg.Schedule.PresetsPath; path != "" {
		err := config.WatchPresets(ctx, path, cfg.WatchInterval(),
			func(p *config.PresetsConfig) {
				logger.Info().Str("path", path).Msg(p.String())
				applyPresets(ctx, coord, p, logger)
			},
			func(err error) { logger.Warn().Err(err).Str("path", path).Msg("presets reload failed") },
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("load presets")
		}
	}

	reporter := audit.NewReporter(exc, resolver, logger)

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	if sqlBackend != nil {
		backup := database.NewBackupService(sqlBackend, cfg.Backup, logger)
		run(func() { backup.Start(ctx) })
	}
	if cfg.Audit.Enabled {
		svc := audit.NewService(reporter, cfg.Audit.Path, logger)
		run(func() { svc.Start(ctx) })
	}
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		run(func() { startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger) })
	}

	server := api.NewHTTPServer(api.Options{
		Port:           cfg.HTTP.Port,
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
		AdminAPIKeys:   cfg.HTTP.AdminAPIKeys,
	}, api.Deps{
		Resolver:    resolver,
		Coordinator: coord,
		Schedule:    sched,
		Exceptions:  exc,
		Settings:    store,
		Reports:     reporter,
		Ready:       ready,
	}, logger)

	logger.Info().Str("driver", cfg.Database.Driver).Msg("studio booking service started")
	if err := server.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("http server error")
		stop()
	}
	wg.Wait()
	logger.Info().Msg("stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Log.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// openBackend returns the storage backend and, for SQL drivers, the concrete backend
// the backup service needs.
func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (database.Backend, *database.SQLBackend, error) {
	var (
		b   *database.SQLBackend
		err error
	)
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn().Msg("using in-memory storage, data is lost on restart")
		return database.NewMemoryBackend(), nil, nil
	case "postgres":
		b, err = database.OpenPostgres(cfg.Database.DSN, logger)
	case "sqlite3":
		b, err = database.OpenSQLite(cfg.Database.Path, logger)
	default:
		return nil, nil, fmt.Errorf("unsupported driver %q", cfg.Database.Driver)
	}
	if err != nil {
		return nil, nil, err
	}
	if err := b.Migrate(ctx); err != nil {
		_ = b.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return b, b, nil
}

func startMetricsServer(ctx context.Context, port int, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
