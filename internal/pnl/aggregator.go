// Package pnl derives per-instrument profit and loss summaries from the trade log.
package pnl

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/ports"
)

// winRateScale is the number of decimals kept on the win rate percentage.
const winRateScale = 4

// TradeApplier replays a trade onto positions.
type TradeApplier interface {
	Apply(ctx context.Context, tx ports.LedgerTx, trade *domain.Trade) (*domain.Position, error)
}

// Aggregator is the only writer of PnlSummary rows.
type Aggregator struct {
	logger ports.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(logger ports.Logger) (*Aggregator, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for pnl aggregator")
	}
	return &Aggregator{logger: logger}, nil
}

// Recompute rebuilds the summary for (ownerID, instrument) from trades and positions in tx.
// It returns nil and removes the row when nothing is left to summarize.
func (a *Aggregator) Recompute(ctx context.Context, tx ports.LedgerTx, ownerID int64, instrument string) (*domain.PnlSummary, error) {
	op := "Recompute"

	trades, err := tx.ListTrades(ctx, ownerID, ports.TradeFilter{Instrument: instrument})
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	positions, err := tx.ListPositions(ctx, ownerID, instrument, false)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if len(trades) == 0 && len(positions) == 0 {
		if err := tx.DeleteSummary(ctx, ownerID, instrument); err != nil {
			return nil, fmt.Errorf("%s failed: %w", op, err)
		}
		return nil, nil
	}

	SortTrades(trades)
	summary := Summarize(ownerID, instrument, trades, positions)
	if err := tx.UpsertSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	a.logger.Debug(ctx, "PNL summary recomputed", map[string]interface{}{
		"ownerID":    ownerID,
		"instrument": instrument,
		"trades":     summary.TotalTrades,
		"winning":    summary.WinningTrades,
		"losing":     summary.LosingTrades,
		"netPnl":     summary.NetPnl.String(),
	})
	return summary, nil
}

// Rebuild wipes positions and the summary for (ownerID, instrument) and replays every trade.
func (a *Aggregator) Rebuild(ctx context.Context, tx ports.LedgerTx, applier TradeApplier, ownerID int64, instrument string) (*domain.PnlSummary, error) {
	op := "Rebuild"

	if err := tx.DeletePositions(ctx, ownerID, instrument); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if err := tx.DeleteSummary(ctx, ownerID, instrument); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	trades, err := tx.ListTrades(ctx, ownerID, ports.TradeFilter{Instrument: instrument})
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	SortTrades(trades)
	for _, t := range trades {
		if _, err := applier.Apply(ctx, tx, t); err != nil {
			return nil, fmt.Errorf("%s failed: replaying trade %d: %w", op, t.ID, err)
		}
	}

	a.logger.Info(ctx, "Positions rebuilt from trade log", map[string]interface{}{
		"ownerID":    ownerID,
		"instrument": instrument,
		"trades":     len(trades),
	})
	return a.Recompute(ctx, tx, ownerID, instrument)
}

// Summarize computes a summary without touching storage. trades must be ordered.
func Summarize(ownerID int64, instrument string, trades []*domain.Trade, positions []*domain.Position) *domain.PnlSummary {
	s := &domain.PnlSummary{
		OwnerID:     ownerID,
		Instrument:  instrument,
		TotalTrades: len(trades),
	}

	var lastUpdated time.Time
	for _, t := range trades {
		s.TotalFees = s.TotalFees.Add(t.Fees)
		s.TotalVolume = s.TotalVolume.Add(notional(t))
		if t.Timestamp.After(lastUpdated) {
			lastUpdated = t.Timestamp
		}
	}
	for _, p := range positions {
		s.TotalRealizedPnl = s.TotalRealizedPnl.Add(p.RealizedPnl)
		if p.IsOpen {
			s.TotalUnrealizedPnl = s.TotalUnrealizedPnl.Add(p.UnrealizedPnl)
		}
		if len(trades) == 0 && p.LastUpdated.After(lastUpdated) {
			lastUpdated = p.LastUpdated
		}
	}
	s.NetPnl = s.TotalRealizedPnl.Add(s.TotalUnrealizedPnl).Sub(s.TotalFees)
	s.LastUpdated = lastUpdated

	var sumWin, sumLoss decimal.Decimal
	for _, seq := range AnalyzeSequences(trades) {
		switch seq.Outcome() {
		case 1:
			s.WinningTrades++
			sumWin = sumWin.Add(seq.Pnl)
			if s.WinningTrades == 1 || seq.Pnl.GreaterThan(s.LargestWin) {
				s.LargestWin = seq.Pnl
			}
		case -1:
			s.LosingTrades++
			sumLoss = sumLoss.Add(seq.Pnl)
			if s.LosingTrades == 1 || seq.Pnl.LessThan(s.LargestLoss) {
				s.LargestLoss = seq.Pnl
			}
		}
	}
	if s.WinningTrades > 0 {
		s.AvgWin = sumWin.Div(decimal.NewFromInt(int64(s.WinningTrades)))
	}
	if s.LosingTrades > 0 {
		s.AvgLoss = sumLoss.Div(decimal.NewFromInt(int64(s.LosingTrades)))
	}
	if decided := s.WinningTrades + s.LosingTrades; decided > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.WinningTrades * 100)).DivRound(decimal.NewFromInt(int64(decided)), winRateScale)
	}
	return s
}

func notional(t *domain.Trade) decimal.Decimal {
	if t.NotionalValue.IsPositive() {
		return t.NotionalValue
	}
	return t.Quantity.Mul(t.Price)
}
