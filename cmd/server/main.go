package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/adapters/switchbot"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/api"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/config"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/coordinator"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/entities"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/integration"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/metrics"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/registry"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/scheduler"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/mqtt"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/websocket"
	"github.com/frostdev-ops/pma-switchbot-cloud/pkg/logger"
	"github.com/frostdev-ops/pma-switchbot-cloud/pkg/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.Infof("Starting %s", version.GetFullVersion())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.Open(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			log.WithError(err).Fatal("Failed to run migrations")
		}
	}

	repos := database.NewRepositories(db, log)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewPrometheusCollector(&metrics.MetricsConfig{
		Enabled: cfg.Metrics.Enabled,
		Prefix:  cfg.Metrics.Prefix,
	}, reg)

	// WebSocket hub
	hub := websocket.NewHub(log, websocket.Config{
		PingInterval:   time.Duration(cfg.WebSocket.PingInterval) * time.Second,
		PongTimeout:    time.Duration(cfg.WebSocket.PongTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.WebSocket.WriteTimeout) * time.Second,
		AllowedOrigins: cfg.Security.AllowedOrigins,
	}, collector)
	go hub.Run(ctx)

	sinks := []integration.SinkFactory{
		func(string) entities.Sink { return hub },
	}

	// Optional MQTT state publishing
	var publisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		publisher, err = mqtt.Connect(cfg.MQTT, log, collector)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to MQTT broker")
		}
		go publisher.Run(ctx)
		sinks = append(sinks, publisher.Sink)
	}

	// SwitchBot integration
	manager := registry.NewManager(
		switchbot.Factory(log, switchbot.WithBaseURL(cfg.SwitchBot.BaseURL), switchbot.WithTimeout(cfg.SwitchBot.RequestTimeout)),
		log,
		registry.Options{
			Coordinator: coordinator.Options{
				RequestTimeout: cfg.SwitchBot.RequestTimeout,
				Observer:       collector,
			},
			MaxConcurrentRefreshes: cfg.SwitchBot.MaxConcurrentRefreshes,
		},
	)

	sched := scheduler.New(cfg.SwitchBot.PollInterval, log)
	if err := sched.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start poll scheduler")
	}

	svc := integration.NewService(repos.ConfigEntries, manager, sched, log, integration.Options{
		Retry: registry.RetryPolicy{
			InitialInterval: cfg.SwitchBot.SetupRetry.InitialInterval,
			MaxInterval:     cfg.SwitchBot.SetupRetry.MaxInterval,
			MaxElapsedTime:  cfg.SwitchBot.SetupRetry.MaxElapsedTime,
		},
		Metrics:  collector,
		Sinks:    sinks,
		Notifier: hub,
	})

	if cfg.SwitchBot.Token != "" {
		creds := devices.Credentials{Token: cfg.SwitchBot.Token, Secret: cfg.SwitchBot.Secret}
		if _, err := svc.EnsureEntry(ctx, "SwitchBot", creds); err != nil {
			log.WithError(err).Error("Failed to set up configured SwitchBot account")
		}
	}
	if err := svc.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to load config entries")
	}

	// Health checks
	health := metrics.NewHealthChecker(version.GetVersion(), 5*time.Second)
	health.Register("switchbot", svc.Health)
	health.Register("database", func(ctx context.Context) metrics.HealthStatus {
		if err := db.PingContext(ctx); err != nil {
			return metrics.NewHealthStatus(metrics.StatusUnhealthy, err.Error())
		}
		return metrics.NewHealthStatus(metrics.StatusHealthy, "Database reachable")
	})

	deps := api.Dependencies{
		Service:   svc,
		Hub:       hub,
		Health:    health,
		Collector: collector,
	}
	if cfg.Metrics.Enabled {
		deps.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	router := api.NewRouter(cfg, deps, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Server forced to shutdown")
	}
	if err := sched.Stop(); err != nil {
		log.WithError(err).Warn("Failed to stop poll scheduler")
	}
	svc.Shutdown()
	if publisher != nil {
		publisher.Close()
	}

	log.Info("Server exited")
}
