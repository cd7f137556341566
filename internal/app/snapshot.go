package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/metrics"
	"github.com/lclpedro/hyperhook/internal/ports"
)

// DefaultSnapshotLimit caps snapshot listings when no limit is given.
const DefaultSnapshotLimit = 100

// UnrealizedRefresher marks open positions to market.
type UnrealizedRefresher interface {
	RefreshUnrealized(ctx context.Context, ownerID int64) (int, error)
}

// Snapshotter captures account-level balance and aggregate PNL.
type Snapshotter struct {
	store     ports.LedgerStore
	configs   ports.ConfigRepository
	accounts  ports.AccountProvider
	refresher UnrealizedRefresher
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    ports.Logger
}

// SnapshotterConfig holds the dependencies of a Snapshotter.
type SnapshotterConfig struct {
	Store     ports.LedgerStore
	Configs   ports.ConfigRepository
	Accounts  ports.AccountProvider // Optional; balances are zero without it
	Refresher UnrealizedRefresher   // Optional
	Now       func() time.Time
	Metrics   *metrics.Metrics // Optional
	Logger    ports.Logger
}

// NewSnapshotter creates a new Snapshotter.
func NewSnapshotter(cfg SnapshotterConfig) (*Snapshotter, error) {
	if cfg.Store == nil || cfg.Configs == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Snapshotter")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Snapshotter{
		store:     cfg.Store,
		configs:   cfg.Configs,
		accounts:  cfg.Accounts,
		refresher: cfg.Refresher,
		now:       cfg.Now,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}, nil
}

// TakeSnapshot refreshes unrealized PNL, totals the owner's summaries and stores the result.
func (s *Snapshotter) TakeSnapshot(ctx context.Context, ownerID int64) (*domain.AccountSnapshot, error) {
	op := "TakeSnapshot"

	if s.refresher != nil {
		if _, err := s.refresher.RefreshUnrealized(ctx, ownerID); err != nil {
			s.logger.Warn(ctx, "Unrealized refresh failed before snapshot", map[string]interface{}{"ownerID": ownerID, "error": err.Error()})
		}
	}

	summaries, err := s.store.ListSummaries(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	snap := &domain.AccountSnapshot{OwnerID: ownerID, Timestamp: s.now().UTC()}
	for _, sum := range summaries {
		snap.TotalRealizedPnl = snap.TotalRealizedPnl.Add(sum.TotalRealizedPnl)
		snap.TotalUnrealizedPnl = snap.TotalUnrealizedPnl.Add(sum.TotalUnrealizedPnl)
		snap.TotalFees = snap.TotalFees.Add(sum.TotalFees)
	}
	snap.NetPnl = snap.TotalRealizedPnl.Add(snap.TotalUnrealizedPnl).Sub(snap.TotalFees)

	balance, err := s.balance(ctx, ownerID)
	if err != nil {
		s.logger.Warn(ctx, "Account balance unavailable, recording zero", map[string]interface{}{"ownerID": ownerID, "error": err.Error()})
	}
	snap.AccountBalance = balance.Total
	snap.AvailableBalance = balance.Available

	id, err := s.store.InsertSnapshot(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	snap.ID = id
	s.metrics.ObserveSnapshot()

	s.logger.Info(ctx, "Account snapshot taken", map[string]interface{}{
		"ownerID": ownerID,
		"netPnl":  snap.NetPnl.String(),
		"balance": snap.AccountBalance.String(),
	})
	return snap, nil
}

func (s *Snapshotter) balance(ctx context.Context, ownerID int64) (domain.AccountBalance, error) {
	if s.accounts == nil {
		return domain.AccountBalance{}, nil
	}
	configs, err := s.configs.ListConfigsByOwner(ctx, ownerID)
	if err != nil {
		return domain.AccountBalance{}, err
	}
	address := ""
	for _, c := range configs {
		if c.OwnerAddress != "" {
			address = c.OwnerAddress
			break
		}
	}
	return s.accounts.GetAccountBalance(ctx, address)
}

// SnapshotAll takes a snapshot for every owner known to the ledger. A failing owner does
// not stop the others; all failures are returned joined.
func (s *Snapshotter) SnapshotAll(ctx context.Context) (int, error) {
	owners, err := s.store.ListOwners(ctx)
	if err != nil {
		return 0, fmt.Errorf("SnapshotAll failed: %w", err)
	}
	var errs []error
	taken := 0
	for _, ownerID := range owners {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := s.TakeSnapshot(ctx, ownerID); err != nil {
			errs = append(errs, fmt.Errorf("owner %d: %w", ownerID, err))
			continue
		}
		taken++
	}
	return taken, errors.Join(errs...)
}

// ListSnapshots returns the owner's latest snapshots, newest first.
func (s *Snapshotter) ListSnapshots(ctx context.Context, ownerID int64, limit int) ([]*domain.AccountSnapshot, error) {
	if limit <= 0 {
		limit = DefaultSnapshotLimit
	}
	snaps, err := s.store.ListSnapshots(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListSnapshots failed: %w", err)
	}
	return snaps, nil
}
