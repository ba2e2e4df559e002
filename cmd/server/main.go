package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/kubilitics/kubilitics-backend/internal/actionstore"
	"github.com/kubilitics/kubilitics-backend/internal/addon/helm"
	"github.com/kubilitics/kubilitics-backend/internal/clusteraction"
	"github.com/kubilitics/kubilitics-backend/internal/config"
	"github.com/kubilitics/kubilitics-backend/internal/dispatcher"
	"github.com/kubilitics/kubilitics-backend/internal/events"
	"github.com/kubilitics/kubilitics-backend/internal/k8s"
	"github.com/kubilitics/kubilitics-backend/internal/lock"
	"github.com/kubilitics/kubilitics-backend/internal/pkg/logger"
	"github.com/kubilitics/kubilitics-backend/internal/pkg/tracing"
	"github.com/kubilitics/kubilitics-backend/internal/policy"
	"github.com/kubilitics/kubilitics-backend/internal/profile"
	"github.com/kubilitics/kubilitics-backend/internal/profile/helmprofile"
	"github.com/kubilitics/kubilitics-backend/internal/profile/k8sprofile"
	"github.com/kubilitics/kubilitics-backend/internal/repository"
	"github.com/kubilitics/kubilitics-backend/migrations"
)

// lazyDispatcher lets clusteraction.New receive a Dispatcher before the
// WorkerPool it delegates to exists, breaking the construction cycle
// (the WorkerPool needs the Executor; the Executor needs a Dispatcher).
type lazyDispatcher struct {
	pool *dispatcher.WorkerPool
}

func (d *lazyDispatcher) StartAction(ctx context.Context, actionID string) error {
	return d.pool.StartAction(ctx, actionID)
}

func main() {
	log := logger.StdLogger("json")
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config, using defaults", "error", err)
		cfg = &config.Config{
			DatabasePath:         "./cluster-engine.db",
			GRPCPort:             50051,
			HealthPort:           8090,
			ActionStoreCacheSize: 1024,
			ActionTimeoutSec:     300,
			PollIntervalMs:       200,
			DispatcherWorkers:    4,
			DispatcherQueueSize:  256,
			DispatcherRatePerSec: 50,
			DispatcherBurst:      4,
		}
	}
	if cfg.LogFormat == "text" {
		log = logger.StdLogger("text")
		slog.SetDefault(log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TracingEnabled {
		shutdown, err := tracing.Init(cfg.TracingServiceName, cfg.TracingEndpoint, cfg.TracingSamplingRate)
		if err != nil {
			log.Warn("tracing init failed, continuing without it", "error", err)
		} else {
			defer shutdown()
		}
	}

	repo, err := openRepository(cfg)
	if err != nil {
		log.Error("failed to open repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	schema, err := migrations.FS.ReadFile("0001_init.sql")
	if err != nil {
		log.Error("failed to read embedded migration", "error", err)
		os.Exit(1)
	}
	if err := repo.RunMigrations(string(schema)); err != nil {
		log.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	log.Info("database ready", "path", cfg.DatabasePath)

	locks := lock.NewManager()
	actions := actionstore.New(repo, log, cfg.ActionStoreCacheSize)

	// No concrete policies ship by default; operators register their own
	// catalog (deletion candidate selection, scaling cooldowns, placement)
	// against the same policy.Registry the engine consults. See DESIGN.md
	// Open Question 1.
	policies := policy.New(repo, policy.MapRegistry{})

	profiles, k8sClient := buildProfileRegistry(cfg, log)

	emit := events.NewLoggingEmitter(log)

	lazy := &lazyDispatcher{}
	execOpts := []clusteraction.Option{}
	if cfg.ActionTimeoutSec > 0 {
		execOpts = append(execOpts, clusteraction.WithTimeout(time.Duration(cfg.ActionTimeoutSec)*time.Second))
	}
	if cfg.PollIntervalMs > 0 {
		interval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
		execOpts = append(execOpts, clusteraction.WithYield(func(context.Context) <-chan time.Time {
			return time.After(interval)
		}))
	}
	exec := clusteraction.New(repo, locks, actions, policies, profiles, lazy, emit, log, execOpts...)

	pool := dispatcher.NewWorkerPool(ctx, exec, log, dispatcher.Config{
		Workers:    cfg.DispatcherWorkers,
		QueueSize:  cfg.DispatcherQueueSize,
		RatePerSec: cfg.DispatcherRatePerSec,
		Burst:      cfg.DispatcherBurst,
	})
	lazy.pool = pool

	grpcServer := dispatcher.NewServer(pool, cfg.GRPCPort, log)
	if err := grpcServer.Start(ctx); err != nil {
		log.Error("failed to start gRPC dispatcher server", "error", err)
		os.Exit(1)
	}
	log.Info("dispatcher gRPC server listening", "port", cfg.GRPCPort)

	healthSrv := startHealthServer(cfg.HealthPort, log, exec, k8sClient)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownTimeout := time.Duration(cfg.ShutdownTimeoutSec) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	pool.Stop()
	_ = healthSrv.Shutdown(shutdownCtx)
	log.Info("shutdown complete")
}

// sqlRepository is the subset of the SQLite/Postgres reference
// implementations main needs beyond repository.Repository itself: schema
// bootstrap and connection teardown, neither of which belongs on the
// interface the executor and action store are written against.
type sqlRepository interface {
	repository.Repository
	RunMigrations(migrationSQL string) error
	Close() error
}

// openRepository picks the backing store per cfg.DatabaseDriver: "postgres"
// dials DatabaseDSN via the production-shaped sqlx/lib/pq implementation,
// anything else (including the default "sqlite") opens the embedded
// single-process store at DatabasePath.
func openRepository(cfg *config.Config) (sqlRepository, error) {
	if cfg.DatabaseDriver == "postgres" {
		return repository.NewPostgresRepository(cfg.DatabaseDSN)
	}
	return repository.NewSQLiteRepository(cfg.DatabasePath)
}

// buildProfileRegistry wires the reference k8s and Helm Profile strategies
// (spec.md §3/§4.5) against a shared kubeconfig when one is configured.
// A registry with no entries still lets the engine run: every operation
// that drives a node through a Profile simply fails with a not-found error
// naming the missing profile implementation until one is registered,
// which is the correct behavior absent a
// kubeconfig. The *k8s.Client is also returned so the debug endpoint can
// report cluster connectivity independent of any node action having run.
func buildProfileRegistry(cfg *config.Config, log *slog.Logger) (profile.MapRegistry, *k8s.Client) {
	registry := profile.MapRegistry{}
	if cfg.KubeconfigPath == "" {
		log.Warn("no kubeconfig_path configured, profile registry is empty")
		return registry, nil
	}

	kubeconfigBytes, err := os.ReadFile(cfg.KubeconfigPath)
	if err != nil {
		log.Warn("failed to read kubeconfig, profile registry is empty", "error", err)
		return registry, nil
	}

	var k8sClient *k8s.Client
	if client, err := k8s.NewClient(cfg.KubeconfigPath, ""); err != nil {
		log.Warn("k8s profile unavailable", "error", err)
	} else {
		k8sClient = client
		p := k8sprofile.New(client)
		registry[p.Type()] = p
	}

	if client, err := helm.NewHelmClient(kubeconfigBytes, "", log); err != nil {
		log.Warn("helm profile unavailable", "error", err)
	} else {
		p := helmprofile.New(client)
		registry[p.Type()] = p
	}

	return registry, k8sClient
}

// startHealthServer exposes the engine's operability surface now that the
// dashboard REST/WebSocket API is out of scope (spec.md §1 Non-goals):
// /healthz and Prometheus /metrics, plus /debug/actions (in-flight cluster
// and node actions) and /debug/k8s (k8sprofile's cluster connectivity,
// when a kubeconfig is configured). Routed through gorilla/mux and wrapped
// in rs/cors so a local debug dashboard can poll it from a browser origin.
func startHealthServer(port int, log *slog.Logger, exec *clusteraction.Executor, k8sClient *k8s.Client) *http.Server {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/debug/actions", debugActionsHandler(exec)).Methods(http.MethodGet)
	router.HandleFunc("/debug/k8s", debugK8sHandler(k8sClient)).Methods(http.MethodGet)

	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health server failed", "error", err)
		}
	}()
	log.Info("health/metrics/debug server listening", "port", port)
	return srv
}

// debugActionsHandler reports every cluster/node action currently executing,
// so an operator can see what the dispatcher's worker pool is doing without
// grepping logs.
func debugActionsHandler(exec *clusteraction.Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"in_flight": exec.InFlight(),
		})
	}
}

// debugK8sHandler reports the k8sprofile client's connection health: last
// successful call, last error, and circuit breaker state. Absent a
// configured kubeconfig, it reports the profile as unconfigured rather than
// failing the request.
func debugK8sHandler(client *k8s.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if client == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"configured": false})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		_ = client.TestConnection(ctx)

		healthy, lastSuccess, lastErr, circuitState := client.HealthStatus()
		resp := map[string]any{
			"configured":    true,
			"healthy":       healthy,
			"last_success":  lastSuccess,
			"circuit_state": circuitState.String(),
		}
		if lastErr != nil {
			resp["last_error"] = lastErr.Error()
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
