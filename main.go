package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"

	"tradeledger/config"
	"tradeledger/internal/adapters/binanceclient"
	"tradeledger/internal/adapters/logger"
	"tradeledger/internal/adapters/sqlite"
	"tradeledger/internal/app"
	"tradeledger/internal/ledger"
	"tradeledger/internal/ports"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	var appLogger ports.Logger
	switch cfg.LogBackend {
	case "zap":
		zl, err := logger.NewZapLogger(cfg.LogLevel)
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize zap logger: %v", err)
		}
		defer zl.Sync()
		appLogger = zl
	default:
		appLogger = logger.NewStdLogger(cfg.LogLevel)
	}
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{
		"backend": cfg.LogBackend,
		"level":   cfg.LogLevel.String(),
	})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize ledger store: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing ledger store")
		}
	}()

	// 4. Initialize Valuation Feed (Binance Adapter)
	feed, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize valuation feed: %v", err)
	}

	// 5. Initialize Ledger Core
	lgr, err := ledger.New(ledger.Config{
		Store:     repo,
		Positions: repo,
		Trades:    repo,
		Logger:    appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize ledger: %v", err)
	}
	linker, err := ledger.NewLinker(repo, appLogger, nil)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize signal linker: %v", err)
	}

	// 6. Initialize Application Service
	service, err := app.NewLedgerService(cfg, appLogger, lgr, linker, feed, repo, repo, repo)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize ledger service: %v", err)
	}

	if err := service.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Ledger service terminated with error")
		os.Exit(1)
	}
	appLogger.Info(context.Background(), "Ledger service stopped")
}
