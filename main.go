package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptoblade/config"
	"cryptoblade/internal/api"
	"cryptoblade/internal/auth"
	"cryptoblade/internal/binance"
	"cryptoblade/internal/database"
	"cryptoblade/internal/events"
	"cryptoblade/internal/logging"
	"cryptoblade/internal/metrics"
	"cryptoblade/internal/orchestrator"
	"cryptoblade/internal/sizing"
	"cryptoblade/internal/throttle"
	"cryptoblade/internal/vault"
	"cryptoblade/internal/wallet"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "config.json"), "path to the JSON or YAML config file")
	flag.Parse()

	// a missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger, logCloser := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		JSONFormat: cfg.Logging.JSONFormat,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Exited with error")
		logCloser.Close()
		os.Exit(1)
	}
	logger.Info().Msg("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	eventBus := events.NewEventBus()

	exchange, streams, err := newExchange(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Journal
	if cfg.Database.Enabled {
		db, err := database.NewDB(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			return err
		}
		database.NewJournal(db, logger).Attach(eventBus)
	}

	// Snapshots, memory-only without Redis
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer redisClient.Close()
	}
	snapshots := database.NewSnapshotStore(ctx, redisClient, logger)

	var metricsHandler *metrics.Metrics
	if cfg.Metrics.Enabled {
		metricsHandler = metrics.New(cfg.Metrics.Namespace)
		metricsHandler.Attach(eventBus)
	}

	walletManager := wallet.NewManager(exchange, streams, eventBus, 0, logger)
	if err := walletManager.Start(ctx); err != nil {
		return err
	}
	defer walletManager.Stop()

	sizer := sizing.New(cfg.Trading.Sizer, cfg.Trading.DCAOrdersCount)
	if sizer == nil {
		return fmt.Errorf("unknown sizer %q", cfg.Trading.Sizer)
	}
	throttler := throttle.New(cfg.DynamicBotCount.MaxOpensPerWindow, cfg.DynamicBotCount.Step.Duration)

	orch, err := orchestrator.New(orchestrator.FromConfig(cfg), orchestrator.Deps{
		Exchange:  exchange,
		Streams:   streams,
		Balance:   walletManager,
		Sizer:     sizer,
		Throttler: throttler,
		Events:    eventBus,
		Snapshots: snapshots,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	// HTTP
	var server *api.Server
	if cfg.Server.Enabled {
		var jwtManager *auth.JWTManager
		if cfg.Auth.Enabled {
			jwtManager = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenDuration.Duration)
		}
		server = newServer(cfg, orch, jwtManager, metricsHandler, eventBus, logger)
		go func() {
			if err := server.Start(ctx); err != nil {
				logger.Error().Err(err).Msg("HTTP server failed")
			}
		}()
	}

	logger.Info().
		Str("mode", cfg.Trading.TradingMode).
		Str("strategy", cfg.Trading.StrategyName).
		Str("sizer", sizer.Name()).
		Bool("paper", cfg.Exchange.Paper).
		Bool("testnet", cfg.Exchange.TestNet).
		Msg("Starting orchestrator")

	runErr := orch.Run(ctx)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown failed")
		}
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// newExchange returns the REST and push collaborators. Paper mode matches
// orders in memory against the live public market.
func newExchange(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (binance.Exchange, binance.Streams, error) {
	clientCfg := binance.ClientConfig{
		APIKey:     cfg.Exchange.APIKey,
		SecretKey:  cfg.Exchange.SecretKey,
		Testnet:    cfg.Exchange.TestNet,
		RecvWindow: time.Duration(cfg.Exchange.RecvWindow) * time.Millisecond,
	}

	if cfg.Vault.Enabled && !cfg.Exchange.Paper {
		vc, err := vault.NewClient(cfg.Vault)
		if err != nil {
			return nil, nil, err
		}
		creds, err := vc.Credentials(ctx, cfg.Exchange.TestNet)
		if err != nil {
			return nil, nil, err
		}
		clientCfg.APIKey, clientCfg.SecretKey = creds.APIKey, creds.SecretKey
		logger.Info().Bool("testnet", cfg.Exchange.TestNet).Msg("Loaded exchange credentials from vault")
	}

	client := binance.NewFuturesClient(clientCfg, logger)
	streams := binance.NewWebsocketStreams(client, cfg.Exchange.TestNet, logger)
	if !cfg.Exchange.Paper {
		return client, streams, nil
	}

	paper := binance.NewPaperClient(decimal.NewFromFloat(cfg.Exchange.PaperBalance))
	live := binance.NewLivePaper(paper, client, streams)
	return live, live, nil
}

func newServer(cfg *config.Config, orch *orchestrator.Orchestrator, jwtManager *auth.JWTManager, m *metrics.Metrics, bus *events.EventBus, logger zerolog.Logger) *api.Server {
	serverCfg := api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		ProductionMode:    logging.ParseLevel(cfg.Logging.Level) > zerolog.DebugLevel,
		RequestsPerMinute: 120,
	}
	if m == nil {
		return api.NewServer(serverCfg, orch, jwtManager, nil, bus, logger)
	}
	return api.NewServer(serverCfg, orch, jwtManager, m.Handler(), bus, logger)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
