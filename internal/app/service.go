// Package app wires the classifier, ledger and PNL aggregator into the operations exposed to callers.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/intent"
	"github.com/lclpedro/hyperhook/internal/ledger"
	"github.com/lclpedro/hyperhook/internal/pnl"
	"github.com/lclpedro/hyperhook/internal/ports"
)

const priceFetchConcurrency = 4

// IntentClassifier classifies inbound signals.
type IntentClassifier interface {
	Classify(ctx context.Context, sig intent.Signal) (intent.Intent, error)
}

// LedgerService records trades and serves PNL aggregates.
type LedgerService struct {
	store      ports.LedgerStore
	ledger     *ledger.Ledger
	aggregator *pnl.Aggregator
	classifier IntentClassifier
	prices     ports.InstrumentProvider
	locks      *KeyedLock
	now        func() time.Time
	logger     ports.Logger
}

// LedgerServiceConfig holds the dependencies of a LedgerService.
type LedgerServiceConfig struct {
	Store      ports.LedgerStore
	Ledger     *ledger.Ledger
	Aggregator *pnl.Aggregator
	Classifier IntentClassifier
	Prices     ports.InstrumentProvider // Used for unrealized PNL refresh
	Now        func() time.Time
	Logger     ports.Logger
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(cfg LedgerServiceConfig) (*LedgerService, error) {
	if cfg.Store == nil || cfg.Ledger == nil || cfg.Aggregator == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for LedgerService")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LedgerService{
		store:      cfg.Store,
		ledger:     cfg.Ledger,
		aggregator: cfg.Aggregator,
		classifier: cfg.Classifier,
		prices:     cfg.Prices,
		locks:      NewKeyedLock(),
		now:        cfg.Now,
		logger:     cfg.Logger,
	}, nil
}

func lockKey(ownerID int64, instrument string) string {
	return strconv.FormatInt(ownerID, 10) + "|" + instrument
}

// RecordTrade appends trade to the log, applies it to its position and recomputes the
// instrument summary in one transaction. A trade whose external order ID is already
// recorded for the owner is returned as-is without being applied again.
func (s *LedgerService) RecordTrade(ctx context.Context, trade *domain.Trade) (*domain.Trade, error) {
	if err := s.prepareTrade(trade); err != nil {
		return nil, fmt.Errorf("RecordTrade failed: %w", err)
	}

	unlock := s.locks.Lock(lockKey(trade.OwnerID, trade.Instrument))
	defer unlock()
	return s.recordLocked(ctx, trade)
}

// prepareTrade fills the defaulted fields of trade and validates it.
func (s *LedgerService) prepareTrade(trade *domain.Trade) error {
	if trade == nil {
		return fmt.Errorf("%w: trade is nil", ports.ErrInvalidSignal)
	}
	if trade.Timestamp.IsZero() {
		trade.Timestamp = s.now()
	}
	trade.Timestamp = trade.Timestamp.UTC()
	if trade.NotionalValue.IsZero() {
		trade.NotionalValue = trade.Quantity.Mul(trade.Price)
	}
	return ledger.ValidateTrade(trade)
}

// recordLocked is RecordTrade for a prepared trade whose (owner, instrument) lock is
// already held by the caller. trade only receives its ID once the transaction commits.
func (s *LedgerService) recordLocked(ctx context.Context, trade *domain.Trade) (*domain.Trade, error) {
	op := "RecordTrade"

	var (
		recorded *domain.Trade
		pending  domain.Trade
		inserted bool
	)
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		if trade.ExternalOrderID != "" {
			existing, err := tx.FindTradeByExternalID(ctx, trade.OwnerID, trade.ExternalOrderID)
			if err != nil {
				return err
			}
			if existing != nil {
				recorded = existing
				return nil
			}
		}

		pending = *trade
		id, err := tx.InsertTrade(ctx, &pending)
		if err != nil {
			return err
		}
		pending.ID = id

		if _, err := s.ledger.Apply(ctx, tx, &pending); err != nil {
			return err
		}
		if _, err := s.aggregator.Recompute(ctx, tx, pending.OwnerID, pending.Instrument); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if errors.Is(err, ports.ErrDuplicateEntry) && trade.ExternalOrderID != "" {
		existing, findErr := s.store.FindTradeByExternalID(ctx, trade.OwnerID, trade.ExternalOrderID)
		if findErr == nil && existing != nil {
			recorded, inserted, err = existing, false, nil
		}
	}
	if err != nil {
		s.logger.Error(ctx, err, "Failed to record trade", tradeFields(trade))
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	if !inserted {
		s.logger.Info(ctx, "Trade already recorded, skipping", map[string]interface{}{
			"tradeID":         recorded.ID,
			"externalOrderID": recorded.ExternalOrderID,
		})
		return recorded, nil
	}
	*trade = pending
	s.logger.Info(ctx, "Trade recorded", tradeFields(trade))
	return trade, nil
}

// ClassifyIntent classifies a signal against the account's current position.
func (s *LedgerService) ClassifyIntent(ctx context.Context, sig intent.Signal) (intent.Intent, error) {
	if s.classifier == nil {
		return intent.Intent{}, fmt.Errorf("ClassifyIntent failed: %w: no classifier configured", ports.ErrConfigurationError)
	}
	return s.classifier.Classify(ctx, sig)
}

// GetSummary returns the summary for (ownerID, instrument), or nil if there is none.
func (s *LedgerService) GetSummary(ctx context.Context, ownerID int64, instrument string) (*domain.PnlSummary, error) {
	summary, err := s.store.GetSummary(ctx, ownerID, instrument)
	if err != nil {
		return nil, fmt.Errorf("GetSummary failed: %w", err)
	}
	return summary, nil
}

// ListSummaries returns every summary of the owner.
func (s *LedgerService) ListSummaries(ctx context.Context, ownerID int64) ([]*domain.PnlSummary, error) {
	summaries, err := s.store.ListSummaries(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListSummaries failed: %w", err)
	}
	return summaries, nil
}

// RecalculateAll wipes and rebuilds every position and summary of the owner from the trade log.
// Each instrument is rebuilt in its own transaction under the instrument lock.
func (s *LedgerService) RecalculateAll(ctx context.Context, ownerID int64) ([]*domain.PnlSummary, error) {
	op := "RecalculateAll"

	instruments, err := s.store.ListInstruments(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	summaries := make([]*domain.PnlSummary, 0, len(instruments))
	for _, instrument := range instruments {
		summary, err := s.rebuildInstrument(ctx, ownerID, instrument)
		if err != nil {
			s.logger.Error(ctx, err, "Failed to rebuild instrument", map[string]interface{}{"ownerID": ownerID, "instrument": instrument})
			return nil, fmt.Errorf("%s failed for %s: %w", op, instrument, err)
		}
		if summary != nil {
			summaries = append(summaries, summary)
		}
	}

	s.logger.Info(ctx, "Ledger rebuilt from trade log", map[string]interface{}{
		"ownerID":     ownerID,
		"instruments": len(instruments),
		"summaries":   len(summaries),
	})
	return summaries, nil
}

func (s *LedgerService) rebuildInstrument(ctx context.Context, ownerID int64, instrument string) (*domain.PnlSummary, error) {
	unlock := s.locks.Lock(lockKey(ownerID, instrument))
	defer unlock()

	var summary *domain.PnlSummary
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		var err error
		summary, err = s.aggregator.Rebuild(ctx, tx, s.ledger, ownerID, instrument)
		return err
	})
	return summary, err
}

// RefreshUnrealized marks every open position of the owner to the current price and
// recomputes the affected summaries. Instruments whose price is unavailable are skipped.
// It returns the number of positions updated.
func (s *LedgerService) RefreshUnrealized(ctx context.Context, ownerID int64) (int, error) {
	op := "RefreshUnrealized"
	if s.prices == nil {
		return 0, fmt.Errorf("%s failed: %w: no price provider configured", op, ports.ErrConfigurationError)
	}

	open, err := s.store.ListPositions(ctx, ownerID, "", true)
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w", op, err)
	}

	var instruments []string
	seen := make(map[string]bool)
	for _, p := range open {
		if !seen[p.Instrument] {
			seen[p.Instrument] = true
			instruments = append(instruments, p.Instrument)
		}
	}

	quotes := s.fetchPrices(ctx, instruments)
	updated := 0
	for _, q := range quotes {
		if q.err != nil || !q.price.IsPositive() {
			s.logger.Warn(ctx, "Price unavailable, skipping unrealized refresh", map[string]interface{}{
				"instrument": q.instrument,
				"error":      fmt.Sprint(q.err),
			})
			continue
		}

		n, err := s.markInstrument(ctx, ownerID, q.instrument, q.price)
		if err != nil {
			return updated, fmt.Errorf("%s failed for %s: %w", op, q.instrument, err)
		}
		updated += n
	}
	return updated, nil
}

type quote struct {
	instrument string
	price      decimal.Decimal
	err        error
}

// fetchPrices queries prices concurrently; results keep the order of instruments.
func (s *LedgerService) fetchPrices(ctx context.Context, instruments []string) []quote {
	quotes := make([]quote, len(instruments))
	p := pool.New().WithMaxGoroutines(priceFetchConcurrency)
	for i, instrument := range instruments {
		p.Go(func() {
			price, err := s.prices.GetInstrumentPrice(ctx, instrument)
			quotes[i] = quote{instrument: instrument, price: price, err: err}
		})
	}
	p.Wait()
	return quotes
}

func (s *LedgerService) markInstrument(ctx context.Context, ownerID int64, instrument string, price decimal.Decimal) (int, error) {
	unlock := s.locks.Lock(lockKey(ownerID, instrument))
	defer unlock()

	n := 0
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		positions, err := tx.ListPositions(ctx, ownerID, instrument, true)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		for _, p := range positions {
			px := price
			p.CurrentPrice = &px
			p.UnrealizedPnl = domain.RealizedPnl(p.Side, p.Quantity, p.AvgEntryPrice, price)
			p.LastUpdated = now
			if err := tx.UpdatePosition(ctx, p); err != nil {
				return err
			}
			n++
		}
		_, err = s.aggregator.Recompute(ctx, tx, ownerID, instrument)
		return err
	})
	return n, err
}

// PnlByPeriod reports realized PNL of positions closed in [start, end] and the fees of trades in it.
func (s *LedgerService) PnlByPeriod(ctx context.Context, ownerID int64, instrument string, start, end time.Time) (*domain.PeriodPnl, error) {
	op := "PnlByPeriod"
	if end.Before(start) {
		return nil, fmt.Errorf("%s failed: %w: end is before start", op, ports.ErrInvalidRequest)
	}

	closed, err := s.store.ListClosedPositions(ctx, ownerID, instrument, start, end)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	trades, err := s.store.ListTrades(ctx, ownerID, ports.TradeFilter{Instrument: instrument, Since: start, Until: end})
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	out := &domain.PeriodPnl{
		OwnerID:    ownerID,
		Instrument: instrument,
		Start:      start.UTC(),
		End:        end.UTC(),
		TradeCount: len(trades),
	}
	for _, p := range closed {
		out.RealizedPnl = out.RealizedPnl.Add(p.RealizedPnl)
	}
	for _, t := range trades {
		out.Fees = out.Fees.Add(t.Fees)
	}
	out.NetPnl = out.RealizedPnl.Sub(out.Fees)
	return out, nil
}

// ListTrades returns the owner's trades in replay order.
func (s *LedgerService) ListTrades(ctx context.Context, ownerID int64, filter ports.TradeFilter) ([]*domain.Trade, error) {
	trades, err := s.store.ListTrades(ctx, ownerID, filter)
	if err != nil {
		return nil, fmt.Errorf("ListTrades failed: %w", err)
	}
	return trades, nil
}

// ListPositions returns the owner's positions, optionally restricted to one instrument or to open ones.
func (s *LedgerService) ListPositions(ctx context.Context, ownerID int64, instrument string, openOnly bool) ([]*domain.Position, error) {
	positions, err := s.store.ListPositions(ctx, ownerID, instrument, openOnly)
	if err != nil {
		return nil, fmt.Errorf("ListPositions failed: %w", err)
	}
	return positions, nil
}

func tradeFields(t *domain.Trade) map[string]interface{} {
	return map[string]interface{}{
		"ownerID":         t.OwnerID,
		"configID":        t.ConfigID,
		"instrument":      t.Instrument,
		"tradeType":       string(t.TradeType),
		"side":            string(t.Side),
		"quantity":        t.Quantity.String(),
		"price":           t.Price.String(),
		"externalOrderID": t.ExternalOrderID,
	}
}
