// Command snapshot takes one account snapshot for an owner, or for every owner.
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
	ownerID := flag.Int64("owner", 0, "Owner ID to snapshot (0 snapshots every owner)")
	list := flag.Int("list", 0, "Print the latest N snapshots instead of taking one")
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
	switch {
	case *list > 0:
		if *ownerID == 0 {
			log.Fatalf("FATAL: -list requires -owner")
		}
		snaps, err := components.Snapshots.ListSnapshots(ctx, *ownerID, *list)
		if err != nil {
			log.Fatalf("FATAL: Failed to list snapshots: %v", err)
		}
		for _, s := range snaps {
			fmt.Printf("%s  balance=%s available=%s net=%s\n",
				s.Timestamp.Format("2006-01-02T15:04:05Z"), s.AccountBalance.StringFixed(2),
				s.AvailableBalance.StringFixed(2), s.NetPnl.StringFixed(4))
		}
	case *ownerID == 0:
		n, err := components.Snapshots.SnapshotAll(ctx)
		fmt.Printf("snapshots taken: %d\n", n)
		if err != nil {
			log.Fatalf("FATAL: Some snapshots failed: %v", err)
		}
	default:
		snap, err := components.Snapshots.TakeSnapshot(ctx, *ownerID)
		if err != nil {
			log.Fatalf("FATAL: Snapshot failed: %v", err)
		}
		fmt.Printf("snapshot %d: balance=%s net=%s\n", snap.ID, snap.AccountBalance.StringFixed(2), snap.NetPnl.StringFixed(4))
	}
}
