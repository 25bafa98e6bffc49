package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/thrillee/esmelink/internal/bus"
	"github.com/thrillee/esmelink/internal/config"
	"github.com/thrillee/esmelink/internal/esme"
	"github.com/thrillee/esmelink/internal/logging"
	"github.com/thrillee/esmelink/internal/metrics"
	"github.com/thrillee/esmelink/internal/opsapi"
	"github.com/thrillee/esmelink/internal/store"
	"github.com/thrillee/esmelink/internal/workers"
)

func main() {
	// --- Context and Basic Setup ---
	appCtx, rootCancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer rootCancel()

	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		// Use standard log before slog is configured
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// --- Setup Logging ---
	slog.SetDefault(logging.New(os.Stdout, cfg.LogLevel))
	slog.Info("Logging initialized", slog.String("level", logging.ParseLevel(cfg.LogLevel).String()))

	// --- Shared Store ---
	st, err := openStore(appCtx, cfg.Store)
	if err != nil {
		slog.Error("Unable to open store", slog.String("backend", cfg.Store.Backend), slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("Store ready", slog.String("backend", cfg.Store.Backend))

	// --- Message Bus ---
	busClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Bus.RedisAddr,
		Password: cfg.Store.RedisPassword,
		DB:       cfg.Store.RedisDB,
	})
	defer busClient.Close()
	if err := busClient.Ping(appCtx).Err(); err != nil {
		slog.Error("Unable to reach bus redis", slog.String("address", cfg.Bus.RedisAddr), slog.Any("error", err))
		os.Exit(1)
	}
	msgBus := bus.NewRedis(busClient, cfg.TransportName, cfg.Bus.PollTimeout)

	m := metrics.New()

	// --- SMPP Binds ---
	services := make([]*esme.Service, 0, len(cfg.Binds))
	for _, bc := range cfg.Binds {
		svc, err := esme.NewServiceFromConfig(bc, esme.Deps{
			TransportName: cfg.TransportName,
			Store:         st,
			Publisher:     msgBus,
			Metrics:       m,
		})
		if err != nil {
			slog.Error("Invalid bind configuration", slog.String("bind", bc.Name), slog.Any("error", err))
			os.Exit(1)
		}
		services = append(services, svc)
	}

	var wg sync.WaitGroup
	for i, svc := range services {
		wg.Add(1)
		go func(svc *esme.Service, bc config.BindConfig) {
			defer wg.Done()
			ctx := logging.ContextWithBind(appCtx, bc.Name)
			slog.InfoContext(ctx, "Starting SMPP bind",
				slog.String("address", bc.Address),
				slog.String("bind_type", bc.BindType),
				slog.String("system_id", bc.SystemID),
			)
			var consumer bus.Consumer
			if bc.CanTransmit() {
				consumer = msgBus
			}
			if err := svc.Run(appCtx, consumer); err != nil {
				slog.ErrorContext(ctx, "SMPP bind stopped", slog.Any("error", err))
			}
		}(svc, cfg.Binds[i])
	}

	// --- Background Workers ---
	workerManager := workers.NewManager()
	workerManager.AddStorePurge(st, cfg.Store.PurgeInterval)
	workerManager.Start(appCtx)

	// --- Operator API ---
	gin.SetMode(gin.ReleaseMode)
	binds := make([]opsapi.Bind, 0, len(services))
	for _, svc := range services {
		binds = append(binds, svc)
	}
	srv := &http.Server{
		Addr:         cfg.OpsAPI.Addr,
		Handler:      opsapi.NewRouter(opsapi.NewHandler(binds, m.Handler())),
		ReadTimeout:  cfg.OpsAPI.ReadTimeout,
		WriteTimeout: cfg.OpsAPI.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}
	go func() {
		slog.Info("Starting operator API", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Operator API ListenAndServe error", slog.Any("error", err))
			rootCancel()
		}
	}()

	// --- Wait for Shutdown ---
	<-appCtx.Done()
	slog.Info("Shutdown signal received, unbinding...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Operator API forced to shutdown", slog.Any("error", err))
	}

	wg.Wait()
	workerManager.Wait()
	slog.Info("Shutdown complete.")
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.StoreRedis:
		return store.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case config.StorePostgres:
		return store.ConnectPostgres(ctx, cfg.DatabaseURL)
	case config.StoreMemory:
		slog.Warn("Using the in-memory store: sequence numbers and correlation state are not shared or persisted")
		return store.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
