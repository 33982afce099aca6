package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"nifty-insight-server/config"
	"nifty-insight-server/internal/activity"
	"nifty-insight-server/internal/api"
	"nifty-insight-server/internal/auth"
	"nifty-insight-server/internal/backtest"
	"nifty-insight-server/internal/database"
	"nifty-insight-server/internal/events"
	"nifty-insight-server/internal/kv"
	"nifty-insight-server/internal/logging"
	"nifty-insight-server/internal/market"
	"nifty-insight-server/internal/settings"
	signalgen "nifty-insight-server/internal/signal"
	"nifty-insight-server/internal/stream"
	"nifty-insight-server/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	eventBus := events.NewEventBus()

	// Settings persistence: Redis when enabled, a local file otherwise.
	var settingsStore kv.Store
	var redisKV *kv.Redis
	if cfg.RedisConfig.Enabled {
		redisKV, err = kv.NewRedis(cfg.RedisConfig, logger)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisKV.Close()
		settingsStore = redisKV
		logger.Info("Settings persisted to Redis", "address", cfg.RedisConfig.Address)
	} else if cfg.SettingsConfig.FilePath != "" {
		fileKV, err := kv.NewFile(cfg.SettingsConfig.FilePath)
		if err != nil {
			log.Fatalf("Failed to open settings file: %v", err)
		}
		settingsStore = fileKV
		logger.Info("Settings persisted to file", "path", cfg.SettingsConfig.FilePath)
	} else {
		settingsStore = kv.NewMemory()
		logger.Warn("Settings persistence disabled, using in-memory store")
	}

	// Optional PostgreSQL history store.
	var repo *database.Repository
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		})
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.RunMigrations(context.Background()); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}

		repo = database.NewRepository(db)
		logger.Info("Database connected", "host", cfg.DatabaseConfig.Host, "database", cfg.DatabaseConfig.Database)
	} else {
		logger.Info("Database disabled, signal and backtest history will not persist")
	}

	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		log.Fatalf("Failed to initialize vault client: %v", err)
	}
	if vaultClient.IsEnabled() {
		logger.Info("Vault credential store enabled", "address", cfg.VaultConfig.Address)
	} else {
		logger.Info("Vault disabled, broker credentials held in memory only")
	}

	settingsManager := settings.NewManager(settingsStore, cfg.SettingsConfig.KeyPrefix, eventBus, logger)

	provider := buildProvider(cfg, redisKV, logger)
	logger.Info("Market data provider ready", "provider", provider.Name())

	// The repo only becomes a store interface when it exists; a typed
	// nil pointer inside the interface would dodge the nil checks.
	var signalStore signalgen.Store
	var activityStore activity.Store
	var backtestStore backtest.Store
	if repo != nil {
		signalStore = repo
		activityStore = repo
		backtestStore = repo
	}

	recorder := activity.NewRecorder(500, activityStore, eventBus, logger)
	if repo != nil {
		if entries, err := repo.RecentActivityLogs(context.Background(), 100); err == nil && len(entries) > 0 {
			recorder.Seed(entries)
			logger.Info("Activity feed rehydrated", "entries", len(entries))
		}
	}

	signals := signalgen.NewGenerator(signalStore, eventBus, logger)
	backtests := backtest.NewRunner(provider, backtestStore, logger)

	var authService *auth.Service
	if cfg.AuthConfig.Enabled {
		if repo == nil {
			log.Fatalf("Authentication requires the database: set DATABASE_ENABLED=true")
		}
		authService = auth.NewService(repo, auth.Config{
			Enabled:             true,
			JWTSecret:           cfg.AuthConfig.JWTSecret,
			AccessTokenDuration: cfg.AuthConfig.AccessTokenDuration,
			BcryptCost:          cfg.AuthConfig.BcryptCost,
			MinPasswordLength:   cfg.AuthConfig.MinPasswordLength,
		})
		logger.Info("JWT authentication enabled")
	} else {
		logger.Info("Authentication disabled, running single tenant")
	}

	api.InitWebSocket(eventBus, logger)

	server := api.NewServer(cfg.ServerConfig, settingsManager, provider, signals,
		backtests, recorder, repo, redisKV, vaultClient, authService, eventBus, logger)

	// Live quote polling and heartbeats for the WebSocket feed.
	zl := zerolog.New(os.Stdout).With().Timestamp().Logger()
	streamer := stream.NewStreamer(provider, eventBus, cfg.MarketConfig, zl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	streamer.Start(ctx)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()
	logger.Info("Insight server up", "host", cfg.ServerConfig.Host, "port", cfg.ServerConfig.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down")

	streamer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Shutdown complete")
}

// buildProvider assembles the market data chain: Finnhub falling back to
// synthetic data, wrapped in a Redis cache when one is available.
func buildProvider(cfg *config.Config, redisKV *kv.Redis, logger *logging.Logger) market.Provider {
	var provider market.Provider
	if cfg.MarketConfig.Synthetic || cfg.MarketConfig.FinnhubAPIKey == "" {
		provider = market.NewSynthetic()
	} else {
		finnhub := market.NewFinnhub(cfg.MarketConfig.FinnhubAPIKey, cfg.MarketConfig.FinnhubBaseURL, logger)
		provider = market.NewChain(logger, finnhub, market.NewSynthetic())
	}

	if redisKV != nil {
		provider = market.NewCached(provider, redisKV.Client(),
			cfg.MarketConfig.QuoteCacheTTL, cfg.MarketConfig.CandleCacheTTL, logger)
	}

	return provider
}
