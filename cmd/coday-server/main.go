package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coday/coday/internal/common/config"
	"github.com/coday/coday/internal/common/logger"
	"github.com/coday/coday/internal/common/portutil"
	"github.com/coday/coday/internal/events/bus"
	"github.com/coday/coday/internal/images"
	"github.com/coday/coday/internal/manager"
	"github.com/coday/coday/internal/manager/timeout"
	"github.com/coday/coday/internal/thread/api"
	"github.com/coday/coday/internal/thread/store"
	"github.com/coday/coday/internal/web"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("Starting Coday server...")

	// 3. Connect the notification bus (NATS when configured, in-memory otherwise)
	var notifyBus bus.Bus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		notifyBus = natsBus
		log.Info("Connected to NATS notification bus", zap.String("url", cfg.NATS.URL))
	} else {
		notifyBus = bus.NewMemoryBus(log)
		log.Info("Using in-memory notification bus")
	}
	defer notifyBus.Close()

	// 4. Open the thread message store
	threadStore, err := store.NewYAMLStore(cfg.Storage.ThreadsDir, log)
	if err != nil {
		log.Fatal("Failed to open thread store", zap.Error(err))
	}
	log.Info("Thread store ready", zap.String("dir", cfg.Storage.ThreadsDir))

	// 5. Create the instance registry with the configured backend
	registry := manager.NewRegistry(manager.Config{
		Timeouts: timeout.Config{
			Disconnect:  cfg.Threads.DisconnectTimeout,
			Interactive: cfg.Threads.InteractiveTimeout,
			Oneshot:     cfg.Threads.OneshotTimeout,
		},
		HeartbeatInterval: cfg.Threads.HeartbeatInterval,
		UseAgentOS:        cfg.AgentOS.Enabled,
		AgentOSURL:        cfg.AgentOS.URL,
	}, manager.Deps{
		Bus:    notifyBus,
		Store:  threadStore,
		Logger: log,
	})
	if cfg.AgentOS.Enabled {
		log.Info("Using AgentOS remote backend", zap.String("url", cfg.AgentOS.URL))
	} else {
		log.Info("Using local execution backend")
	}

	// 6. Setup HTTP router
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(registry, images.NewProcessor(), log)
	router := api.NewRouter(handler, cfg.Auth.Disabled, log)

	// 7. Mount the browser client (static files or dev proxy)
	if err := web.Register(router, cfg.Web, log); err != nil {
		log.Fatal("Failed to set up web client", zap.Error(err))
	}

	// 8. Resolve the bind port, falling back when the preferred one is taken
	port, fellBack, err := portutil.Resolve(cfg.Server.Host, cfg.Server.Port)
	if err != nil {
		log.Fatal("Failed to resolve a bind port", zap.Error(err))
	}
	if fellBack {
		log.Warn("Configured port is taken, using a free one",
			zap.Int("configured", cfg.Server.Port), zap.Int("port", port))
	}

	// 9. Create HTTP server. WriteTimeout stays zero so SSE streams are
	// never cut by a deadline.
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 10. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.String("host", cfg.Server.Host), zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 11. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Coday server...")

	// 12. Graceful shutdown: close live streams, then the HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Error("Registry shutdown error", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("Coday server stopped")
}
