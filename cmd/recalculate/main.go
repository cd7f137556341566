// Command recalculate rebuilds an owner's positions and PNL summaries from the trade log.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/lclpedro/hyperhook/config"
	"github.com/lclpedro/hyperhook/internal/adapters/logger"
	"github.com/lclpedro/hyperhook/internal/bootstrap"
)

func main() {
	ownerID := flag.Int64("owner", 0, "Owner ID to rebuild (0 rebuilds every owner)")
	refresh := flag.Bool("refresh-prices", false, "Mark open positions to market after rebuilding")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true, Output: os.Stderr})

	components, err := bootstrap.Build(cfg, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize application: %v", err)
	}
	defer components.Close()

	ctx := context.Background()
	owners := []int64{*ownerID}
	if *ownerID == 0 {
		if owners, err = components.Repo.ListOwners(ctx); err != nil {
			log.Fatalf("FATAL: Failed to list owners: %v", err)
		}
	}

	failed := false
	for _, id := range owners {
		summaries, err := components.Ledger.RecalculateAll(ctx, id)
		if err != nil {
			appLogger.Error(ctx, err, "Rebuild failed", map[string]interface{}{"ownerID": id})
			failed = true
			continue
		}
		if *refresh {
			if _, err := components.Ledger.RefreshUnrealized(ctx, id); err != nil {
				appLogger.Warn(ctx, "Price refresh failed", map[string]interface{}{"ownerID": id, "error": err.Error()})
			}
			if summaries, err = components.Ledger.ListSummaries(ctx, id); err != nil {
				appLogger.Error(ctx, err, "Failed to reload summaries", map[string]interface{}{"ownerID": id})
				failed = true
				continue
			}
		}

		fmt.Printf("owner %d\n", id)
		fmt.Printf("  %-12s %8s %14s %14s %12s %14s\n", "INSTRUMENT", "TRADES", "REALIZED", "UNREALIZED", "FEES", "NET")
		for _, s := range summaries {
			fmt.Printf("  %-12s %8d %14s %14s %12s %14s\n",
				s.Instrument, s.TotalTrades,
				s.TotalRealizedPnl.StringFixed(4), s.TotalUnrealizedPnl.StringFixed(4),
				s.TotalFees.StringFixed(4), s.NetPnl.StringFixed(4))
		}
	}
	if failed {
		components.Close()
		os.Exit(1)
	}
}
