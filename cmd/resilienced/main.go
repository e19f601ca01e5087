package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alG-N/alterGoldenBot-sub006/internal/cache"
	"github.com/alG-N/alterGoldenBot-sub006/internal/database"
	"github.com/alG-N/alterGoldenBot-sub006/pkg/config"
	"github.com/alG-N/alterGoldenBot-sub006/pkg/logging"
	"github.com/alG-N/alterGoldenBot-sub006/pkg/metrics"
	"github.com/alG-N/alterGoldenBot-sub006/pkg/resilience"
)

func main() {
	// .env is optional; real deployments use environment variables
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	// Resilience wiring: breaker registry, degradation coordinator,
	// alerting, and the metrics observer that watches both.
	breakers := resilience.NewRegistry(cfg.Breakers)
	coord := resilience.NewCoordinator(cfg.Resilience.WriteQueueMax)

	alertManager := resilience.NewAlertManager()
	alertManager.AddHandler(resilience.NewLoggingAlertHandler())
	healthMonitor := resilience.NewSystemHealthMonitor(alertManager, coord)

	m := metrics.NewMetrics(&metrics.Config{
		Namespace: cfg.Metrics.Namespace,
		Enabled:   cfg.Metrics.Enabled,
	})
	registry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := m.Register(registry); err != nil {
			log.Fatalf("Failed to register metrics: %v", err)
		}
		breakers.Subscribe(m)
		coord.Subscribe(m)
	}
	breakers.Subscribe(resilience.LoggingBreakerObserver{})

	store, err := database.New(cfg.Database, cfg.Resilience, coord, alertManager, m)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.Ping(ctx); err != nil {
		log.Fatalf("Database health check failed: %v", err)
	}
	cancel()
	logger.Info("Database connection established",
		"host", cfg.Database.Host,
		"replica", store.ReplicaEnabled(),
	)

	redisCache, err := cache.New(cfg.Redis, breakers, coord)
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer redisCache.Close()

	store.StartPoolSampler(cfg.Resilience.PoolSampleEvery)
	healthMonitor.Start(context.Background())
	defer healthMonitor.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", healthHandler(breakers, coord))

	server := &http.Server{
		Addr:         cfg.Metrics.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting observability server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	coord.Shutdown()
	logger.Info("Shutdown complete")
}

// healthHandler reports breaker and degradation state as JSON.
// Returns 503 once the system degrades past DEGRADED so load balancers
// can pull the instance.
func healthHandler(breakers *resilience.Registry, coord *resilience.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		level := coord.Level()

		status := http.StatusOK
		if level >= resilience.LevelCritical {
			status = http.StatusServiceUnavailable
		}

		body := map[string]interface{}{
			"status":   breakers.Health(),
			"level":    level.String(),
			"services": coord.Services(),
			"breakers": breakers.Metrics(),
			"queue":    coord.QueueDepth(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
