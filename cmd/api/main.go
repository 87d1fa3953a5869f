package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"datalens/application/assistant"
	"datalens/application/ports"
	"datalens/infrastructure/config"
	"datalens/infrastructure/di"
	"datalens/infrastructure/registry"
	"datalens/interfaces/http/rest"
	"datalens/pkg/extensions"
	"datalens/pkg/observability"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Environment)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	var metrics *observability.Collector
	if cfg.EnableMetrics {
		metrics = observability.NewCollector("datalens")
	}
	hooks := extensions.NewHookManager()

	container := di.NewContainer(logger)
	if err := di.BindPlatform(container, cfg, logger, metrics, hooks); err != nil {
		logger.Fatal("failed to bind platform capabilities", zap.Error(err))
	}
	container.Seal()
	if err := container.InitEager(ctx); err != nil {
		logger.Fatal("failed to initialize platform capabilities", zap.Error(err))
	}

	modules := registry.New(cfg.ModuleRoot, container, hooks, logger)
	if err := modules.Load(ctx); err != nil {
		logger.Fatal("failed to load module registry", zap.Error(err))
	}

	agent, err := di.ResolveAs[*assistant.Orchestrator](ctx, container, di.CapAssistant)
	if err != nil {
		logger.Fatal("failed to assemble assistant", zap.Error(err))
	}
	graphs, err := di.ResolveAs[ports.GraphProvider](ctx, container, ports.CapGraphCache)
	if err != nil {
		logger.Fatal("failed to resolve graph cache", zap.Error(err))
	}

	router := rest.NewRouter(modules, agent, graphs, metrics, logger, rest.Options{
		CORSOrigins:      cfg.CORSOrigins,
		AssistantRateRPM: cfg.AssistantRateRPM,
		Debug:            cfg.IsDevelopment(),
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           router.Setup(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// Streaming turns hold the response open for the length of a turn;
		// the per-stage deadlines inside the orchestrator bound the work.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server",
			zap.String("address", cfg.ServerAddress),
			zap.String("environment", cfg.Environment),
			zap.Int("modules_loaded", modules.ModulesLoaded()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Error("capability shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
}
