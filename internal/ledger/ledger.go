// Package ledger applies trades from the append-only log to mutable positions.
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/ports"
)

// MissingPositionPolicy decides what happens when an exit or DCA finds no open position.
type MissingPositionPolicy string

const (
	// PolicySynthesize records a flagged best-effort position and carries on.
	PolicySynthesize MissingPositionPolicy = "synthesize"
	// PolicyReject fails the trade so the transaction rolls back.
	PolicyReject MissingPositionPolicy = "reject"
)

// ParsePolicy converts a config string to a policy, defaulting to PolicySynthesize.
func ParsePolicy(s string) (MissingPositionPolicy, error) {
	switch MissingPositionPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicySynthesize:
		return PolicySynthesize, nil
	case PolicyReject:
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("unknown missing position policy %q", s)
	}
}

// Config holds ledger settings.
type Config struct {
	Policy MissingPositionPolicy
	Logger ports.Logger
}

// Ledger mutates positions according to trade type. It never writes trades itself.
type Ledger struct {
	policy MissingPositionPolicy
	logger ports.Logger
}

// New creates a Ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for ledger")
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicySynthesize
	}
	return &Ledger{policy: cfg.Policy, logger: cfg.Logger}, nil
}

// Policy returns the configured missing-position policy.
func (l *Ledger) Policy() MissingPositionPolicy {
	return l.policy
}

// ValidateTrade checks the fields every trade must carry.
func ValidateTrade(t *domain.Trade) error {
	switch {
	case t == nil:
		return fmt.Errorf("%w: trade is nil", ports.ErrInvalidSignal)
	case !t.TradeType.IsValid():
		return fmt.Errorf("%w: unknown trade type %q", ports.ErrInvalidSignal, t.TradeType)
	case t.Side != domain.Long && t.Side != domain.Short:
		return fmt.Errorf("%w: unknown side %q", ports.ErrInvalidSignal, t.Side)
	case !t.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be positive", ports.ErrInvalidSignal)
	case !t.Price.IsPositive():
		return fmt.Errorf("%w: price must be positive", ports.ErrInvalidSignal)
	case t.Fees.IsNegative():
		return fmt.Errorf("%w: fees must not be negative", ports.ErrInvalidSignal)
	case t.Leverage <= 0:
		return fmt.Errorf("%w: leverage must be positive", ports.ErrInvalidSignal)
	case t.Instrument == "":
		return fmt.Errorf("%w: instrument is required", ports.ErrInvalidSignal)
	}
	return nil
}

// Apply updates the position affected by trade inside tx and returns it.
func (l *Ledger) Apply(ctx context.Context, tx ports.LedgerTx, trade *domain.Trade) (*domain.Position, error) {
	op := "Apply"
	if err := ValidateTrade(trade); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	var (
		pos *domain.Position
		err error
	)
	switch trade.TradeType {
	case domain.TradeBuy, domain.TradeSell:
		pos, err = l.addToPosition(ctx, tx, trade, false)
	case domain.TradeDCA:
		pos, err = l.addToPosition(ctx, tx, trade, true)
	case domain.TradeReduce:
		pos, err = l.reducePosition(ctx, tx, trade, false)
	case domain.TradeClose:
		pos, err = l.reducePosition(ctx, tx, trade, true)
	}
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	return pos, nil
}

func (l *Ledger) addToPosition(ctx context.Context, tx ports.LedgerTx, trade *domain.Trade, isDCA bool) (*domain.Position, error) {
	pos, err := tx.FindOpenPosition(ctx, trade.ConfigID, trade.Instrument, trade.Side)
	if err != nil {
		return nil, err
	}

	if pos == nil {
		if isDCA {
			fields := tradeFields(trade)
			if l.policy == PolicyReject {
				l.logger.Warn(ctx, "DCA without open position rejected", fields)
				return nil, fmt.Errorf("%w: %w: DCA on %s %s", ports.ErrInvalidSignal, ports.ErrLedgerInconsistency, trade.Side, trade.Instrument)
			}
			l.logger.Warn(ctx, "DCA without open position, opening a new one", fields)
		}
		pos = &domain.Position{
			OwnerID:       trade.OwnerID,
			ConfigID:      trade.ConfigID,
			Instrument:    trade.Instrument,
			Side:          trade.Side,
			Quantity:      trade.Quantity,
			AvgEntryPrice: trade.Price,
			TotalFees:     trade.Fees,
			Leverage:      trade.Leverage,
			IsOpen:        true,
			OpenedAt:      trade.Timestamp,
			LastUpdated:   trade.Timestamp,
		}
		id, err := tx.CreatePosition(ctx, pos)
		if err != nil {
			return nil, err
		}
		pos.ID = id
		return pos, nil
	}

	newQty := pos.Quantity.Add(trade.Quantity)
	cost := pos.Quantity.Mul(pos.AvgEntryPrice).Add(trade.Quantity.Mul(trade.Price))
	pos.AvgEntryPrice = cost.Div(newQty)
	pos.Quantity = newQty
	pos.TotalFees = pos.TotalFees.Add(trade.Fees)
	pos.Leverage = trade.Leverage
	pos.LastUpdated = trade.Timestamp
	if pos.CurrentPrice != nil {
		pos.UnrealizedPnl = domain.RealizedPnl(pos.Side, pos.Quantity, pos.AvgEntryPrice, *pos.CurrentPrice)
	}
	if err := tx.UpdatePosition(ctx, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

func (l *Ledger) reducePosition(ctx context.Context, tx ports.LedgerTx, trade *domain.Trade, isClose bool) (*domain.Position, error) {
	pos, err := tx.FindOpenPosition(ctx, trade.ConfigID, trade.Instrument, trade.Side)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos, err = tx.FindOpenPositionAnySide(ctx, trade.ConfigID, trade.Instrument)
		if err != nil {
			return nil, err
		}
		if pos != nil {
			l.logger.Warn(ctx, "Exit side does not match open position, using open position side", map[string]interface{}{
				"instrument":   trade.Instrument,
				"tradeSide":    string(trade.Side),
				"positionSide": string(pos.Side),
			})
		}
	}
	if pos == nil {
		return l.missingPosition(ctx, tx, trade)
	}

	slice := pos.Quantity
	if !isClose {
		if trade.Quantity.GreaterThan(pos.Quantity) {
			l.logger.Warn(ctx, "Reduce larger than open quantity, clamping", map[string]interface{}{
				"instrument": trade.Instrument,
				"requested":  trade.Quantity.String(),
				"open":       pos.Quantity.String(),
			})
		}
		slice = decimal.Min(trade.Quantity, pos.Quantity)
	}

	pos.RealizedPnl = pos.RealizedPnl.Add(domain.RealizedPnl(pos.Side, slice, pos.AvgEntryPrice, trade.Price))
	pos.Quantity = pos.Quantity.Sub(slice)
	pos.TotalFees = pos.TotalFees.Add(trade.Fees)
	pos.LastUpdated = trade.Timestamp
	if !pos.Quantity.IsPositive() {
		pos.Close(trade.Timestamp)
	} else if pos.CurrentPrice != nil {
		pos.UnrealizedPnl = domain.RealizedPnl(pos.Side, pos.Quantity, pos.AvgEntryPrice, *pos.CurrentPrice)
	}
	if err := tx.UpdatePosition(ctx, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

func (l *Ledger) missingPosition(ctx context.Context, tx ports.LedgerTx, trade *domain.Trade) (*domain.Position, error) {
	fields := tradeFields(trade)
	if l.policy == PolicyReject {
		l.logger.Warn(ctx, "Exit without open position rejected", fields)
		return nil, fmt.Errorf("%w: %w: %s on %s %s", ports.ErrInvalidSignal, ports.ErrLedgerInconsistency, trade.TradeType, trade.Side, trade.Instrument)
	}
	l.logger.Error(ctx, ports.ErrLedgerInconsistency, "Exit without open position, recording synthetic closed position", fields)

	ts := trade.Timestamp
	pos := &domain.Position{
		OwnerID:       trade.OwnerID,
		ConfigID:      trade.ConfigID,
		Instrument:    trade.Instrument,
		Side:          trade.Side,
		Quantity:      decimal.Zero,
		AvgEntryPrice: trade.Price,
		TotalFees:     trade.Fees,
		Leverage:      trade.Leverage,
		IsOpen:        false,
		OpenedAt:      ts,
		ClosedAt:      &ts,
		LastUpdated:   ts,
		Synthetic:     true,
	}
	id, err := tx.CreatePosition(ctx, pos)
	if err != nil {
		return nil, err
	}
	pos.ID = id
	return pos, nil
}

func tradeFields(t *domain.Trade) map[string]interface{} {
	return map[string]interface{}{
		"ownerID":    t.OwnerID,
		"configID":   t.ConfigID,
		"instrument": t.Instrument,
		"tradeType":  string(t.TradeType),
		"side":       string(t.Side),
		"quantity":   t.Quantity.String(),
		"price":      t.Price.String(),
	}
}
