package app

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/intent"
	"github.com/lclpedro/hyperhook/internal/metrics"
	"github.com/lclpedro/hyperhook/internal/ports"
	"github.com/lclpedro/hyperhook/internal/sizing"
)

// QuantitySizer normalizes order sizes and converts between venue units.
type QuantitySizer interface {
	Normalize(ctx context.Context, instrument string, raw decimal.Decimal) (sizing.Quantity, error)
	ScaleMultiplier(ctx context.Context, signalInstrument, venueInstrument string) decimal.Decimal
}

// SignalRequest is an authenticated-by-secret trading signal.
type SignalRequest struct {
	OwnerKey     string
	Secret       string
	Symbol       string // Signal symbol, e.g. BTCUSDT
	Action       string
	Contracts    string
	PositionSize string
	Price        string // Signal price, optional
}

// SignalResult describes what a signal turned into. Intent is populated whenever
// classification succeeded, even if execution failed afterwards.
type SignalResult struct {
	Config      *domain.WebhookConfig
	Instrument  string // Venue instrument the order was placed on
	Multiplier  decimal.Decimal
	Intent      intent.Intent
	Order       *ports.OrderResponse
	Trade       *domain.Trade
	RecordError string // Set when the order went through but the ledger could not record it
}

// SignalProcessor runs the webhook flow: resolve config, classify, size, execute, record.
type SignalProcessor struct {
	configs     ports.ConfigRepository
	classifier  IntentClassifier
	sizer       QuantitySizer
	instruments ports.InstrumentProvider
	live        ports.OrderExecutor
	simulated   ports.OrderExecutor
	ledger      *LedgerService
	metrics     *metrics.Metrics
	now         func() time.Time
	logger      ports.Logger
}

// SignalProcessorConfig holds the dependencies of a SignalProcessor.
type SignalProcessorConfig struct {
	Configs     ports.ConfigRepository
	Classifier  IntentClassifier
	Sizer       QuantitySizer
	Instruments ports.InstrumentProvider
	Live        ports.OrderExecutor // Used for configs with live trading on
	Simulated   ports.OrderExecutor
	Ledger      *LedgerService
	Metrics     *metrics.Metrics // Optional
	Now         func() time.Time // Stamps trades whose order carries no fill time
	Logger      ports.Logger
}

// NewSignalProcessor creates a new SignalProcessor.
func NewSignalProcessor(cfg SignalProcessorConfig) (*SignalProcessor, error) {
	if cfg.Configs == nil || cfg.Classifier == nil || cfg.Sizer == nil || cfg.Instruments == nil ||
		cfg.Simulated == nil || cfg.Ledger == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for SignalProcessor")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SignalProcessor{
		configs:     cfg.Configs,
		classifier:  cfg.Classifier,
		sizer:       cfg.Sizer,
		instruments: cfg.Instruments,
		live:        cfg.Live,
		simulated:   cfg.Simulated,
		ledger:      cfg.Ledger,
		metrics:     cfg.Metrics,
		now:         cfg.Now,
		logger:      cfg.Logger,
	}, nil
}

// ProcessSignal handles one inbound signal. Ledger recording is best-effort: a recording
// failure is reported in the result and the rationale, never as an error.
func (p *SignalProcessor) ProcessSignal(ctx context.Context, req SignalRequest) (*SignalResult, error) {
	res, err := p.processSignal(ctx, req)
	p.metrics.ObserveSignal(signalLabels(res, err))
	return res, err
}

func signalLabels(res *SignalResult, err error) (string, string) {
	operation := "unclassified"
	if res != nil && res.Intent.Operation != "" {
		operation = string(res.Intent.Operation)
	}
	switch {
	case err != nil && (res == nil || res.Intent.Operation == ""):
		return operation, "rejected"
	case err != nil:
		return operation, "failed"
	case res.RecordError != "":
		return operation, "unrecorded"
	}
	return operation, "executed"
}

func (p *SignalProcessor) processSignal(ctx context.Context, req SignalRequest) (*SignalResult, error) {
	op := "ProcessSignal"

	instrument := domain.ExtractAsset(req.Symbol)
	if instrument == "" {
		return nil, fmt.Errorf("%s failed: %w: symbol is required", op, ports.ErrInvalidSignal)
	}
	cfg, err := p.configs.FindConfig(ctx, req.OwnerKey, instrument)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%s failed: %w: no config for %s", op, ports.ErrConfigNotFound, instrument)
	}
	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(cfg.Secret)) != 1 {
		p.logger.Warn(ctx, "Webhook secret mismatch", map[string]interface{}{"configID": cfg.ID, "instrument": instrument})
		return nil, fmt.Errorf("%s failed: %w: invalid webhook secret", op, ports.ErrPermissionDenied)
	}

	venue := cfg.TradingInstrument()
	res := &SignalResult{Config: cfg, Instrument: venue}

	// Held from classification through recording so two signals for the same
	// account and instrument cannot both act on the same position state.
	unlock := p.ledger.locks.Lock(lockKey(cfg.OwnerID, venue))
	defer unlock()

	contracts, err := intent.ParseAmount("contracts", req.Contracts)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	positionSize, err := intent.ParseAmount("position_size", req.PositionSize)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	refPrice, err := intent.ParseAmount("price", req.Price)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	res.Multiplier = p.sizer.ScaleMultiplier(ctx, instrument, venue)
	if !res.Multiplier.Equal(decimal.NewFromInt(1)) {
		contracts = contracts.Mul(res.Multiplier)
		positionSize = positionSize.Mul(res.Multiplier)
		if refPrice.IsPositive() {
			refPrice = refPrice.Div(res.Multiplier)
		}
		p.logger.Info(ctx, "Signal scaled to venue units", map[string]interface{}{
			"signalInstrument": instrument,
			"venueInstrument":  venue,
			"multiplier":       res.Multiplier.String(),
		})
	}

	in, err := p.classifier.Classify(ctx, intent.Signal{
		OwnerAddress: cfg.OwnerAddress,
		Instrument:   venue,
		Action:       req.Action,
		PositionSize: positionSize.String(),
		Contracts:    contracts.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	res.Intent = in

	if !res.Intent.Quantity.IsPositive() {
		if err := p.sizeFromBudget(ctx, cfg, venue, refPrice, &res.Intent); err != nil {
			return res, fmt.Errorf("%s failed: %w", op, err)
		}
	}

	order, err := p.execute(ctx, cfg, venue, refPrice, res.Intent)
	if err != nil {
		p.logger.Error(ctx, err, "Order execution failed", map[string]interface{}{
			"configID":   cfg.ID,
			"instrument": venue,
			"operation":  string(res.Intent.Operation),
		})
		return res, fmt.Errorf("%s failed: %w", op, err)
	}
	res.Order = order

	trade, err := p.tradeFor(ctx, cfg, venue, refPrice, res.Intent, order)
	if err == nil {
		err = p.ledger.prepareTrade(trade)
	}
	if err == nil {
		trade, err = p.ledger.recordLocked(ctx, trade)
	}
	if err != nil {
		p.logger.Error(ctx, err, "PNL recording failed; ledger may need recalculation", map[string]interface{}{
			"ownerID": cfg.OwnerID,
			"orderID": order.OrderID,
		})
		res.RecordError = err.Error()
		res.Intent.Rationale += "; pnl recording failed: " + err.Error()
		return res, nil
	}
	res.Trade = trade
	p.metrics.ObserveTrade(string(trade.TradeType))
	return res, nil
}

// sizeFromBudget sizes an opening order from the config's max USD value when the signal
// carried no usable quantity.
func (p *SignalProcessor) sizeFromBudget(ctx context.Context, cfg *domain.WebhookConfig, venue string, refPrice decimal.Decimal, in *intent.Intent) error {
	if in.Operation == domain.OpClose || in.Operation == domain.OpReduce {
		return fmt.Errorf("%w: %s quantity rounds to zero", ports.ErrInvalidSignal, in.Operation)
	}
	if !cfg.MaxUSDValue.IsPositive() {
		return fmt.Errorf("%w: no quantity in signal and no max USD value configured", ports.ErrInvalidSignal)
	}
	price, err := p.price(ctx, venue, refPrice)
	if err != nil {
		return err
	}
	q, err := p.sizer.Normalize(ctx, venue, cfg.MaxUSDValue.Div(price))
	if err != nil {
		return err
	}
	if !q.Value.IsPositive() {
		return fmt.Errorf("%w: max USD value %s buys less than one increment of %s", ports.ErrInvalidSignal, cfg.MaxUSDValue, venue)
	}
	in.Quantity = q.Value
	in.Fallback = in.Fallback || q.Fallback
	in.Rationale += fmt.Sprintf("; sized %s from max USD value %s", q.Value, cfg.MaxUSDValue)
	return nil
}

func (p *SignalProcessor) execute(ctx context.Context, cfg *domain.WebhookConfig, venue string, refPrice decimal.Decimal, in intent.Intent) (*ports.OrderResponse, error) {
	executor := p.simulated
	if cfg.LiveTrading {
		if p.live == nil {
			return nil, fmt.Errorf("%w: live trading requested but no exchange configured", ports.ErrConfigurationError)
		}
		executor = p.live
	}
	return executor.PlaceMarketOrder(ctx, ports.OrderRequest{
		OwnerAddress: cfg.OwnerAddress,
		Instrument:   venue,
		Side:         in.OrderSide(),
		Quantity:     in.Quantity,
		ReduceOnly:   in.Operation == domain.OpClose || in.Operation == domain.OpReduce,
		ReferencePx:  refPrice,
	})
}

func (p *SignalProcessor) tradeFor(ctx context.Context, cfg *domain.WebhookConfig, venue string, refPrice decimal.Decimal, in intent.Intent, order *ports.OrderResponse) (*domain.Trade, error) {
	price := order.AvgPrice
	if !price.IsPositive() {
		var err error
		if price, err = p.price(ctx, venue, refPrice); err != nil {
			return nil, err
		}
	}
	qty := order.ExecutedQty
	if !qty.IsPositive() {
		qty = in.Quantity
	}
	ts := order.Timestamp
	if ts.IsZero() {
		ts = p.now().UTC()
	}
	return &domain.Trade{
		OwnerID:         cfg.OwnerID,
		ConfigID:        cfg.ID,
		Instrument:      venue,
		TradeType:       TradeTypeFor(in),
		Side:            in.Side,
		Quantity:        qty,
		Price:           price,
		NotionalValue:   qty.Mul(price),
		Leverage:        cfg.Leverage,
		Timestamp:       ts,
		ExternalOrderID: order.OrderID,
		Fees:            order.Fees,
	}, nil
}

func (p *SignalProcessor) price(ctx context.Context, venue string, refPrice decimal.Decimal) (decimal.Decimal, error) {
	if refPrice.IsPositive() {
		return refPrice, nil
	}
	price, err := p.instruments.GetInstrumentPrice(ctx, venue)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", ports.ErrInstrumentUnknown, venue)
	}
	return price, nil
}

// TradeTypeFor maps a classified intent onto the trade type recorded in the ledger.
func TradeTypeFor(in intent.Intent) domain.TradeType {
	switch in.Operation {
	case domain.OpDCA:
		return domain.TradeDCA
	case domain.OpReduce:
		return domain.TradeReduce
	case domain.OpClose:
		return domain.TradeClose
	default:
		if in.Side == domain.Short {
			return domain.TradeSell
		}
		return domain.TradeBuy
	}
}
