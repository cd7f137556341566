// Package bootstrap assembles the service graph shared by the server and the maintenance commands.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/lclpedro/hyperhook/config"
	"github.com/lclpedro/hyperhook/internal/adapters/binanceclient"
	"github.com/lclpedro/hyperhook/internal/adapters/sqlite"
	"github.com/lclpedro/hyperhook/internal/app"
	"github.com/lclpedro/hyperhook/internal/cache"
	"github.com/lclpedro/hyperhook/internal/intent"
	"github.com/lclpedro/hyperhook/internal/ledger"
	"github.com/lclpedro/hyperhook/internal/metrics"
	"github.com/lclpedro/hyperhook/internal/pnl"
	"github.com/lclpedro/hyperhook/internal/ports"
	"github.com/lclpedro/hyperhook/internal/sizing"
)

// Components is the wired application.
type Components struct {
	Repo        *sqlite.Repository
	Exchange    *binanceclient.Client
	Instruments *cache.InstrumentCache
	Ledger      *app.LedgerService
	Signals     *app.SignalProcessor
	Snapshots   *app.Snapshotter
	Metrics     *metrics.Metrics // Nil when metrics are disabled
}

// Close releases the database.
func (c *Components) Close() error {
	return c.Repo.Close()
}

// Build wires every component from cfg. Steps are numbered as they are logged.
func Build(cfg *config.Config, logger ports.Logger) (*Components, error) {
	ctx := context.Background()

	// 1. Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database repository: %w", err)
	}
	logger.Info(ctx, "Database repository initialized", map[string]interface{}{"path": cfg.DBPath})

	c, err := build(cfg, logger, repo)
	if err != nil {
		repo.Close()
		return nil, err
	}
	return c, nil
}

func build(cfg *config.Config, logger ports.Logger, repo *sqlite.Repository) (*Components, error) {
	ctx := context.Background()

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New("hyperhook")
	}

	// 2. Exchange Client (Binance Adapter)
	exchange, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		QuoteAsset: cfg.QuoteAsset,
		Guard: binanceclient.GuardConfig{
			RequestsPerSecond: cfg.ExchangeRateLimit,
			MaxRetries:        uint(cfg.ExchangeMaxRetries),
			BreakerTimeout:    cfg.ExchangeBreakerTimeout,
		},
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Binance client: %w", err)
	}

	// 3. Instrument metadata cache
	instruments, err := cache.NewInstrumentCache(cache.Config{
		Source: exchange,
		TTL:    cfg.InstrumentCacheTTL,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrument cache: %w", err)
	}

	// 4. Ledger core
	sizer, err := sizing.New(sizing.Config{
		Instruments: instruments,
		Fallback:    sizing.DefaultFallback{DecimalPlaces: cfg.FallbackDecimals},
		Scale: sizing.ScaleConfig{
			Marker:         cfg.ScaleMarker,
			Factor:         cfg.ScaleFactor,
			RatioThreshold: cfg.ScaleRatioThreshold,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	classifier, err := intent.New(intent.Config{
		Positions: exchange,
		Sizer:     sizer,
		Timeout:   cfg.PositionQueryTimeout,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	policy, err := ledger.ParsePolicy(cfg.MissingPositionPolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrConfigurationError, err)
	}
	l, err := ledger.New(ledger.Config{Policy: policy, Logger: logger})
	if err != nil {
		return nil, err
	}
	aggregator, err := pnl.NewAggregator(logger)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "Ledger core initialized", map[string]interface{}{"missingPositionPolicy": string(policy)})

	// 5. Application services
	ledgerSvc, err := app.NewLedgerService(app.LedgerServiceConfig{
		Store:      repo,
		Ledger:     l,
		Aggregator: aggregator,
		Classifier: classifier,
		Prices:     instruments,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	simulated, err := app.NewSimulatedExecutor(instruments, cfg.SimulationSlippage, logger)
	if err != nil {
		return nil, err
	}
	var live ports.OrderExecutor
	if cfg.APIKey != "" && cfg.SecretKey != "" {
		live = exchange
	} else {
		logger.Warn(ctx, "No exchange credentials; live trading configs will be rejected")
	}
	signals, err := app.NewSignalProcessor(app.SignalProcessorConfig{
		Configs:     repo,
		Classifier:  classifier,
		Sizer:       sizer,
		Instruments: instruments,
		Live:        live,
		Simulated:   simulated,
		Ledger:      ledgerSvc,
		Metrics:     m,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	snapshots, err := app.NewSnapshotter(app.SnapshotterConfig{
		Store:     repo,
		Configs:   repo,
		Accounts:  exchange,
		Refresher: ledgerSvc,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "Application services initialized")

	return &Components{
		Repo:        repo,
		Exchange:    exchange,
		Instruments: instruments,
		Ledger:      ledgerSvc,
		Signals:     signals,
		Snapshots:   snapshots,
		Metrics:     m,
	}, nil
}
