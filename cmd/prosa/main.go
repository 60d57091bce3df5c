// Package main is the entry point for the prosa process management server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nyakairu/prosa/internal/businesskey"
	"github.com/nyakairu/prosa/internal/config"
	"github.com/nyakairu/prosa/internal/deploy"
	"github.com/nyakairu/prosa/internal/engine"
	"github.com/nyakairu/prosa/internal/identity"
	"github.com/nyakairu/prosa/internal/instance"
	"github.com/nyakairu/prosa/internal/observability"
	"github.com/nyakairu/prosa/internal/process"
	"github.com/nyakairu/prosa/internal/store"
	"github.com/nyakairu/prosa/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "prosa", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Initialize the definition store.
	defStore, storeCloser, err := buildStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	// Step 5: Initialize the business key sequencer.
	sequencer, seqCloser, err := buildSequencer(cfg.Sequence, logger)
	if err != nil {
		logger.Error("sequencer initialization failed", zap.Error(err))
		return 1
	}
	keys := businesskey.NewGenerator(sequencer)

	// Step 6: Initialize the execution engine client.
	engineClient := engine.NewHTTPClient(engine.HTTPOptions{
		BaseURL:          cfg.Engine.BaseURL,
		Timeout:          cfg.Engine.Timeout,
		FailureThreshold: cfg.Engine.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.Engine.CircuitBreaker.SuccessThreshold,
		BreakerTimeout:   cfg.Engine.CircuitBreaker.Timeout,
	})

	// Step 7: Initialize the identity collaborator.
	identityClient := buildIdentity(cfg.Identity, logger)
	resolver := identity.NewBatchResolver(identityClient, logger)

	// Step 8: Build domain components.
	processSvc := process.NewService(defStore, resolver, logger)
	orchestrator := deploy.NewOrchestrator(defStore, engineClient, logger)
	coordinator := instance.NewCoordinator(defStore, engineClient, keys, identityClient, logger)

	// Step 9: Build readiness checks. Memory-backed dependencies have
	// nothing to probe and stay nil.
	readiness := observability.ReadinessChecks{Engine: engineClient}
	if hc, ok := defStore.(observability.HealthChecker); ok {
		readiness.Store = hc
	}
	if hc, ok := sequencer.(observability.HealthChecker); ok {
		readiness.Sequencer = hc
	}

	// Step 10: Build the HTTP router.
	jwks := transport.NewJWKSClient(cfg.Auth.JWKSURL, cfg.Auth.JWKSCacheTTL, logger)

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Process:      processSvc,
		Deploy:       orchestrator,
		Instances:    coordinator,
		Readiness:    readiness,
		Authenticate: transport.JWTAuthenticator(cfg.Auth, jwks),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 11: Start the HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("sequence_driver", cfg.Sequence.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Close stores and flush telemetry.
	if seqCloser != nil {
		seqCloser()
	}
	if storeCloser != nil {
		storeCloser()
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStore creates the definition store based on config.
func buildStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.DefinitionStore, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory definition store")
		return store.NewMemoryStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("store: ping: %w", err)
		}

		return store.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildSequencer creates the business key sequencer based on config.
func buildSequencer(cfg config.SequenceConfig, logger *zap.Logger) (businesskey.Sequencer, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory sequencer, sequences reset on restart")
		return businesskey.NewMemorySequencer(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("sequencer: %s environment variable not set", cfg.AddrEnv)
		}

		client := redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   cfg.DB,
		})
		return businesskey.NewRedisSequencer(client, cfg.KeyPrefix), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported sequence driver: %q", cfg.Driver)
	}
}

// buildIdentity creates the identity client based on config.
func buildIdentity(cfg config.IdentityConfig, logger *zap.Logger) identity.Client {
	if cfg.Mode == "static" {
		logger.Info("using static identity client", zap.Int("actors", len(cfg.Static)))
		actors := make([]identity.Actor, len(cfg.Static))
		for i, a := range cfg.Static {
			actors[i] = identity.Actor{ID: a.ID, DisplayName: a.DisplayName, Email: a.Email}
		}
		return identity.NewStaticClient(actors)
	}
	return identity.NewHTTPClient(cfg.BaseURL, cfg.Timeout)
}
