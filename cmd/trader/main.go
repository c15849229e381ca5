package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gregtusar/spotcycle/api"
	"github.com/gregtusar/spotcycle/internal/config"
	"github.com/gregtusar/spotcycle/pkg/exchange"
	"github.com/gregtusar/spotcycle/pkg/models"
	"github.com/gregtusar/spotcycle/pkg/secrets"
	"github.com/gregtusar/spotcycle/pkg/store"
	"github.com/gregtusar/spotcycle/pkg/trader"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "spotcycle",
		Short: "Automated spot trading decision engine",
		Long:  `A per-pair spot trading engine that buys on ladder-sized dips, pairs fills with resting sells, and abandons stale buys`,
		Run:   runTrader,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runTrader(cmd *cobra.Command, args []string) {
	// Initialize logger
	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Local overrides for development
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Set log level
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the order store
	txStore, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize order store")
	}
	defer cleanup()

	// Initialize the exchange gateway
	auth, err := exchange.NewAuthenticator(exchange.AuthScheme(cfg.Exchange.AuthScheme))
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize authenticator")
	}
	client := exchange.NewClient(cfg.Exchange.BaseURL, auth, logger)

	var quotes exchange.QuoteGateway = client
	if cfg.Exchange.WebsocketURL != "" {
		feed := exchange.NewQuoteFeed(
			cfg.Exchange.WebsocketURL,
			client,
			time.Duration(cfg.Exchange.QuoteMaxAgeMs)*time.Millisecond,
			logger,
		)
		if err := feed.Connect(ctx); err != nil {
			logger.WithError(err).Warn("Quote feed unavailable, using REST quotes only")
		} else {
			if err := feed.Subscribe(currencies(cfg.Trading.Pairs)); err != nil {
				logger.WithError(err).Warn("Quote feed subscription failed")
			}
			quotes = feed
		}
	}

	// Resolve pair credentials
	jobs, err := buildJobs(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to resolve pair credentials")
	}
	if len(jobs) == 0 {
		logger.Warn("No trading pairs configured")
	}

	buyOffset, err := decimal.NewFromString(cfg.Trading.BuyPriceOffset)
	if err != nil {
		logger.WithError(err).Fatal("Invalid buy price offset")
	}

	engine := trader.NewEngine(txStore, quotes, client, logger, trader.Options{
		BuyPriceOffset: buyOffset,
		PricePrecision: int32(cfg.Trading.PricePrecision),
	})

	scheduler := trader.NewScheduler(
		engine,
		jobs,
		time.Duration(cfg.Trading.CycleIntervalMs)*time.Millisecond,
		logger,
	)
	scheduler.Start(ctx)

	// Start API server
	server := api.NewServer(txStore, logger, fmt.Sprintf("%d", cfg.Server.Port))
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Error("API server stopped")
		}
	}()

	logger.WithField("pairs", len(jobs)).Info("Trading engine started")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down")
	cancel()
}

func buildStore(ctx context.Context, cfg *config.Config) (store.TxStore, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case "memory", "":
		return store.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func buildJobs(ctx context.Context, cfg *config.Config) ([]trader.Job, error) {
	var sm *secrets.GCPSecretManager
	if cfg.GCP.UseSecrets && cfg.GCP.ProjectID != "" {
		var err error
		sm, err = secrets.NewGCPSecretManager(ctx, cfg.GCP.ProjectID, cfg.GCP.CredentialsFile, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create secret manager: %w", err)
		}
		defer sm.Close()
	}

	jobs := make([]trader.Job, 0, len(cfg.Trading.Pairs))
	for _, pair := range cfg.Trading.Pairs {
		creds := models.Credentials{
			AccessKey: pair.AccessKey,
			SecretKey: pair.SecretKey,
		}
		if sm != nil {
			names := secrets.SecretNamesForUser(pair.UserID)
			if creds.AccessKey == "" {
				creds.AccessKey = sm.GetSecretWithDefault(ctx, names.AccessKey, "")
			}
			if creds.SecretKey == "" {
				creds.SecretKey = sm.GetSecretWithDefault(ctx, names.SecretKey, "")
			}
		}
		jobs = append(jobs, trader.Job{
			UserID:      pair.UserID,
			Currency:    pair.Currency,
			Credentials: creds,
		})
	}
	return jobs, nil
}

func currencies(pairs []config.PairConfig) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range pairs {
		if !seen[p.Currency] {
			seen[p.Currency] = true
			out = append(out, p.Currency)
		}
	}
	return out
}
