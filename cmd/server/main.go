package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/furgapp/furgo/internal/config"
	"github.com/furgapp/furgo/internal/core"
	"github.com/furgapp/furgo/internal/logger"
	"github.com/furgapp/furgo/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Initialize(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	// Standalone runs use in-memory collaborators; production embeds the core
	// behind the real stores.
	c, err := core.New(cfg, core.Dependencies{
		Profiles: server.NewMemoryProfileStore(),
		Convo:    server.NewMemoryConversationLog(),
		Life:     server.NewStaticLifeProvider(),
	}, log)
	if err != nil {
		log.Fatal("core initialization failed", zap.Error(err))
	}
	defer func() { _ = c.Close() }()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.New(c, log).Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server listening",
			zap.Int("port", cfg.Server.Port),
			zap.Bool("redis", cfg.Cache.RedisURL != ""),
			zap.Bool("persistent_ledger", cfg.Ledger.DatabaseURL != ""))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
