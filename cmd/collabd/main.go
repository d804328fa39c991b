// Command collabd runs the Coordinator: the WebSocket endpoint at /ws
// plus the /health, /documents, and /metrics HTTP surface. Flag parsing,
// optional database connection with an in-memory fallback, and graceful
// shutdown on SIGINT/SIGTERM wire internal/coordinator and a pluggable
// persistence.Store together.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lanemc/real-time-collaboration-sdk/internal/auth"
	"github.com/lanemc/real-time-collaboration-sdk/internal/config"
	"github.com/lanemc/real-time-collaboration-sdk/internal/coordinator"
	"github.com/lanemc/real-time-collaboration-sdk/internal/httpapi"
	"github.com/lanemc/real-time-collaboration-sdk/internal/persistence"
	"github.com/lanemc/real-time-collaboration-sdk/internal/persistence/memory"
	"github.com/lanemc/real-time-collaboration-sdk/internal/persistence/postgres"
	"github.com/lanemc/real-time-collaboration-sdk/internal/telemetry"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	telemetry.InitLogging(cfg.LogLevel)
	logger := telemetry.L()
	defer telemetry.Sync()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Fatal("failed to open persistence store", zap.Error(err))
	}
	if closeStore != nil {
		defer closeStore()
	}

	authSvc := buildAuth(cfg)

	coord := coordinator.New(coordinator.Config{
		Auth:          authSvc,
		Store:         store,
		CORSOrigin:    cfg.CORSOrigin,
		IdleTimeout:   cfg.IdleTimeout,
		SweepInterval: cfg.SweepInterval,
	})
	coord.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", coord.ServeWS)
	mux.Handle("/", httpapi.Handler(coord))

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: mux,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
		_ = server.Shutdown(ctx)
	}()

	logger.Info("collabd listening", zap.String("addr", cfg.Addr()), zap.String("env", cfg.Env))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

func openStore(cfg *config.Config) (persistence.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Println("no --db-dsn configured, running with an in-memory store")
		return memory.New(), nil, nil
	}

	store, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func buildAuth(cfg *config.Config) auth.Service {
	if !cfg.AuthRequired {
		return auth.NewStaticGate()
	}
	return auth.NewJWTVerifier([]byte(cfg.AuthSecret), cfg.AuthIssuer)
}
