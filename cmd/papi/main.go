package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"papi/internal/amqp"
	"papi/internal/chat"
	"papi/internal/config"
	apphttp "papi/internal/http"
	"papi/internal/identity"
	mem "papi/internal/ledger/memory"
	applog "papi/internal/log"
	"papi/internal/services"
	"papi/internal/session"
	"papi/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err.Error())
		os.Exit(1)
	}

	// Choose persistence backend (default: memory)
	var (
		store        services.EntryStore
		profileStore session.ProfileStore
	)
	switch cfg.DataBackend {
	case "sqlite":
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to initialize SQLite repository",
				applog.FieldError, err.Error(), "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		store, profileStore = repo, repo
		logger.Info("Initialized SQLite backend", "path", cfg.SQLiteDBPath)
	default:
		store, profileStore = mem.NewJournal(), mem.NewProfileStore()
		logger.Info("Initialized memory backend")
	}

	// AMQP is optional: without it entries stay local until the worker's
	// periodic pending-sync pass picks them up
	var publisher services.Publisher
	if cfg.DataBackend == "sqlite" && cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, continuing without sync messages",
				applog.FieldError, err.Error())
		} else {
			publisher = client
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	var asker services.Asker
	if cfg.ChatWebhookURL != "" {
		asker = chat.NewClient(cfg.ChatWebhookURL)
		logger.Info("Chat assistant configured")
	} else {
		logger.Info("Chat assistant disabled - no CHAT_WEBHOOK_URL provided")
	}

	entryService := services.NewEntryService(store, publisher, asker)
	defer entryService.Close()

	machine := session.NewMachine(profileStore)
	verifier := identity.NewGoogleVerifier(cfg.GoogleClientID)

	srv := apphttp.NewServer(":"+cfg.Port, entryService, machine, verifier, logger)
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err.Error())
		}
		cancel()
	}()

	logger.Info("Starting papi server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", applog.FieldError, err.Error(), "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
