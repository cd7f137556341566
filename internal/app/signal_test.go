package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/intent"
	"github.com/lclpedro/hyperhook/internal/metrics"
	"github.com/lclpedro/hyperhook/internal/ports"
)

func newProcessor(t *testing.T, f *fixture, live ports.OrderExecutor) *SignalProcessor {
	t.Helper()
	sim, err := NewSimulatedExecutor(f.instruments, decimal.Zero, f.logger)
	require.NoError(t, err)
	p, err := NewSignalProcessor(SignalProcessorConfig{
		Configs:     f.repo,
		Classifier:  f.classifier,
		Sizer:       f.sizer,
		Instruments: f.instruments,
		Live:        live,
		Simulated:   sim,
		Ledger:      f.service,
		Logger:      f.logger,
	})
	require.NoError(t, err)
	return p
}

func seedConfig(t *testing.T, f *fixture, cfg *domain.WebhookConfig) *domain.WebhookConfig {
	t.Helper()
	if cfg.OwnerID == 0 {
		cfg.OwnerID = 1
	}
	if cfg.OwnerKey == "" {
		cfg.OwnerKey = "owner-key"
	}
	if cfg.Secret == "" {
		cfg.Secret = "s3cret"
	}
	if cfg.Leverage == 0 {
		cfg.Leverage = 2
	}
	_, err := f.repo.CreateConfig(context.Background(), cfg)
	require.NoError(t, err)
	return cfg
}

func TestNewSignalProcessor(t *testing.T) {
	_, err := NewSignalProcessor(SignalProcessorConfig{})
	assert.Error(t, err)
}

func TestSignalProcessor_OpensAndClosesPosition(t *testing.T) {
	f := newFixture(t)
	seedConfig(t, f, &domain.WebhookConfig{Instrument: "BTC", MaxUSDValue: dec("1000")})
	p := newProcessor(t, f, nil)
	ctx := context.Background()

	res, err := p.ProcessSignal(ctx, SignalRequest{
		OwnerKey: "owner-key", Secret: "s3cret", Symbol: "BTCUSDT",
		Action: "buy", Contracts: "0.5", PositionSize: "0.5", Price: "100",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OpNewPosition, res.Intent.Operation)
	require.NotNil(t, res.Order)
	assert.True(t, res.Order.Simulated)
	require.NotNil(t, res.Trade)
	assert.Equal(t, domain.TradeBuy, res.Trade.TradeType)
	assert.Equal(t, domain.Long, res.Trade.Side)
	assert.True(t, dec("0.5").Equal(res.Trade.Quantity))
	assert.True(t, dec("100").Equal(res.Trade.Price))
	assert.Equal(t, 2, res.Trade.Leverage)
	assert.Empty(t, res.RecordError)

	f.positions.pos = &domain.ExchangePosition{Instrument: "BTC", Side: domain.Long, Quantity: dec("0.5")}
	res, err = p.ProcessSignal(ctx, SignalRequest{
		OwnerKey: "owner-key", Secret: "s3cret", Symbol: "BTCUSDT",
		Action: "sell", Contracts: "0.5", PositionSize: "0", Price: "110",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OpClose, res.Intent.Operation)
	require.NotNil(t, res.Trade)
	assert.Equal(t, domain.TradeClose, res.Trade.TradeType)
	assert.Equal(t, domain.Sell, res.Order.Side)

	summary, err := f.service.GetSummary(ctx, 1, "BTC")
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.True(t, dec("5").Equal(summary.TotalRealizedPnl)) // 0.5 * (110 - 100)
}

func TestSignalProcessor_Rejections(t *testing.T) {
	f := newFixture(t)
	seedConfig(t, f, &domain.WebhookConfig{Instrument: "BTC"})
	p := newProcessor(t, f, nil)

	tests := []struct {
		name    string
		req     SignalRequest
		wantErr error
	}{
		{
			name:    "wrong secret",
			req:     SignalRequest{OwnerKey: "owner-key", Secret: "nope", Symbol: "BTCUSDT", Action: "buy", Contracts: "1"},
			wantErr: ports.ErrPermissionDenied,
		},
		{
			name:    "unknown owner",
			req:     SignalRequest{OwnerKey: "other", Secret: "s3cret", Symbol: "BTCUSDT", Action: "buy", Contracts: "1"},
			wantErr: ports.ErrConfigNotFound,
		},
		{
			name:    "unknown instrument",
			req:     SignalRequest{OwnerKey: "owner-key", Secret: "s3cret", Symbol: "DOGEUSDT", Action: "buy", Contracts: "1"},
			wantErr: ports.ErrConfigNotFound,
		},
		{
			name:    "bad action",
			req:     SignalRequest{OwnerKey: "owner-key", Secret: "s3cret", Symbol: "BTCUSDT", Action: "hold", Contracts: "1"},
			wantErr: ports.ErrInvalidSignal,
		},
		{
			name:    "non numeric contracts",
			req:     SignalRequest{OwnerKey: "owner-key", Secret: "s3cret", Symbol: "BTCUSDT", Action: "buy", Contracts: "lots"},
			wantErr: ports.ErrInvalidSignal,
		},
		{
			name:    "missing symbol",
			req:     SignalRequest{OwnerKey: "owner-key", Secret: "s3cret", Action: "buy", Contracts: "1"},
			wantErr: ports.ErrInvalidSignal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ProcessSignal(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSignalProcessor_SizesFromBudgetWhenContractsMissing(t *testing.T) {
	f := newFixture(t)
	seedConfig(t, f, &domain.WebhookConfig{Instrument: "BTC", MaxUSDValue: dec("1000")})
	p := newProcessor(t, f, nil)

	res, err := p.ProcessSignal(context.Background(), SignalRequest{
		OwnerKey: "owner-key", Secret: "s3cret", Symbol: "BTCUSDT", Action: "buy", Contracts: "0",
	})
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(res.Intent.Quantity)) // 1000 / 100
	assert.Contains(t, res.Intent.Rationale, "max USD value")
	require.NotNil(t, res.Trade)
	assert.True(t, dec("10").Equal(res.Trade.Quantity))
}

func TestSignalProcessor_ScalesToVenueUnits(t *testing.T) {
	f := newFixture(t)
	seedConfig(t, f, &domain.WebhookConfig{Instrument: "PEPE", VenueInstrument: "kPEPE"})
	p := newProcessor(t, f, nil)

	res, err := p.ProcessSignal(context.Background(), SignalRequest{
		OwnerKey: "owner-key", Secret: "s3cret", Symbol: "PEPEUSDT",
		Action: "buy", Contracts: "1000000", Price: "0.00001",
	})
	require.NoError(t, err)
	assert.Equal(t, "kPEPE", res.Instrument)
	assert.True(t, dec("0.001").Equal(res.Multiplier))
	require.NotNil(t, res.Trade)
	assert.Equal(t, "kPEPE", res.Trade.Instrument)
	assert.True(t, dec("1000").Equal(res.Trade.Quantity))
	assert.True(t, dec("0.01").Equal(res.Trade.Price))
}

func TestSignalProcessor_DegradedPositionStateStillTrades(t *testing.T) {
	f := newFixture(t)
	seedConfig(t, f, &domain.WebhookConfig{Instrument: "BTC"})
	f.positions.err = errors.New("venue down")
	p := newProcessor(t, f, nil)

	res, err := p.ProcessSignal(context.Background(), SignalRequest{
		OwnerKey: "owner-key", Secret: "s3cret", Symbol: "BTCUSDT", Action: "short", Contracts: "1", Price: "100",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OpError, res.Intent.Operation)
	assert.True(t, res.Intent.Degraded)
	require.NotNil(t, res.Trade)
	assert.Equal(t, domain.TradeSell, res.Trade.TradeType)
}

func TestSignalProcessor_LiveWithoutExchange(t *testing.T) {
	f := newFixture(t)
	seedConfig(t, f, &domain.WebhookConfig{Instrument: "BTC", LiveTrading: true})
	p := newProcessor(t, f, nil)

	res, err := p.ProcessSignal(context.Background(), SignalRequest{
		OwnerKey: "owner-key", Secret: "s3cret", Symbol: "BTCUSDT", Action: "buy", Contracts: "1",
	})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
	require.NotNil(t, res)
	assert.Equal(t, domain.OpNewPosition, res.Intent.Operation)
}

func TestSignalProcessor_LiveOrderAndReduceOnly(t *testing.T) {
	f := newFixture(t)
	seedConfig(t, f, &domain.WebhookConfig{Instrument: "BTC", LiveTrading: true})
	live := &stubExecutor{resp: &ports.OrderResponse{
		OrderID: "123", AvgPrice: dec("101"), ExecutedQty: dec("1"), Side: domain.Sell, Timestamp: t0,
	}}
	p := newProcessor(t, f, live)
	f.positions.pos = &domain.ExchangePosition{Instrument: "BTC", Side: domain.Long, Quantity: dec("3")}

	res, err := p.ProcessSignal(context.Background(), SignalRequest{
		OwnerKey: "owner-key", Secret: "s3cret", Symbol: "BTCUSDT", Action: "sell", Contracts: "1", PositionSize: "2",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OpReduce, res.Intent.Operation)
	require.Len(t, live.calls, 1)
	assert.True(t, live.calls[0].ReduceOnly)
	assert.Equal(t, domain.Sell, live.calls[0].Side)

	// The ledger has no position for this reduce; the default policy records a synthetic one.
	require.NotNil(t, res.Trade)
	assert.Equal(t, "123", res.Trade.ExternalOrderID)
	assert.Equal(t, domain.TradeReduce, res.Trade.TradeType)
}

func TestSignalProcessor_RecordingFailureIsBestEffort(t *testing.T) {
	f := newFixture(t)
	seedConfig(t, f, &domain.WebhookConfig{Instrument: "BTC", LiveTrading: true})
	live := &stubExecutor{resp: &ports.OrderResponse{OrderID: "9", Side: domain.Buy}}
	p := newProcessor(t, f, live)
	f.instruments.priceErr = errors.New("price feed down")

	res, err := p.ProcessSignal(context.Background(), SignalRequest{
		OwnerKey: "owner-key", Secret: "s3cret", Symbol: "BTCUSDT", Action: "buy", Contracts: "1",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assert.Nil(t, res.Trade)
	assert.NotEmpty(t, res.RecordError)
	assert.Contains(t, res.Intent.Rationale, "pnl recording failed")
}

func TestSignalProcessor_CountsOutcomes(t *testing.T) {
	f := newFixture(t)
	seedConfig(t, f, &domain.WebhookConfig{Instrument: "BTC", LiveTrading: true})
	sim, err := NewSimulatedExecutor(f.instruments, decimal.Zero, f.logger)
	require.NoError(t, err)
	m := metrics.New("test")
	p, err := NewSignalProcessor(SignalProcessorConfig{
		Configs:     f.repo,
		Classifier:  f.classifier,
		Sizer:       f.sizer,
		Instruments: f.instruments,
		Live:        &stubExecutor{resp: &ports.OrderResponse{OrderID: "1", AvgPrice: dec("100"), ExecutedQty: dec("1"), Side: domain.Buy, Timestamp: t0}},
		Simulated:   sim,
		Ledger:      f.service,
		Metrics:     m,
		Logger:      f.logger,
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.ProcessSignal(ctx, SignalRequest{OwnerKey: "owner-key", Secret: "s3cret", Symbol: "BTCUSDT", Action: "buy", Contracts: "1"})
	require.NoError(t, err)
	_, err = p.ProcessSignal(ctx, SignalRequest{OwnerKey: "owner-key", Secret: "wrong", Symbol: "BTCUSDT", Action: "buy", Contracts: "1"})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignalsTotal.WithLabelValues("NEW_POSITION", "executed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignalsTotal.WithLabelValues("unclassified", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesRecorded.WithLabelValues(string(domain.TradeBuy))))
}

// ledgerPositions reports the ledger's open position as the exchange position, slowly,
// and remembers how many queries for the same instrument overlapped.
type ledgerPositions struct {
	service *LedgerService
	delay   time.Duration

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
}

func (l *ledgerPositions) GetCurrentPosition(ctx context.Context, ownerAddress, instrument string) (*domain.ExchangePosition, error) {
	l.mu.Lock()
	l.inFlight++
	if l.inFlight > l.maxInFlight {
		l.maxInFlight = l.inFlight
	}
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.inFlight--
		l.mu.Unlock()
	}()

	time.Sleep(l.delay)
	open, err := l.service.ListPositions(ctx, 1, instrument, true)
	if err != nil || len(open) == 0 {
		return nil, err
	}
	return &domain.ExchangePosition{
		Instrument: instrument,
		Side:       open[0].Side,
		Quantity:   open[0].Quantity,
		EntryPrice: open[0].AvgEntryPrice,
	}, nil
}

func TestSignalProcessor_ConcurrentSignalsSerializePerInstrument(t *testing.T) {
	f := newFixture(t)
	seedConfig(t, f, &domain.WebhookConfig{Instrument: "BTC"})
	positions := &ledgerPositions{service: f.service, delay: 50 * time.Millisecond}
	classifier, err := intent.New(intent.Config{Positions: positions, Sizer: f.sizer, Logger: f.logger})
	require.NoError(t, err)
	f.classifier = classifier
	p := newProcessor(t, f, nil)
	ctx := context.Background()

	res, err := p.ProcessSignal(ctx, SignalRequest{
		OwnerKey: "owner-key", Secret: "s3cret", Symbol: "BTCUSDT",
		Action: "buy", Contracts: "10", PositionSize: "10", Price: "100",
	})
	require.NoError(t, err)
	require.Equal(t, domain.OpNewPosition, res.Intent.Operation)

	const signals = 2
	var wg sync.WaitGroup
	results := make(chan *SignalResult, signals)
	errs := make(chan error, signals)
	for i := 0; i < signals; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.ProcessSignal(ctx, SignalRequest{
				OwnerKey: "owner-key", Secret: "s3cret", Symbol: "BTCUSDT",
				Action: "sell", Contracts: "0", PositionSize: "0", Price: "110",
			})
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	closes := 0
	for res := range results {
		if res.Intent.Operation == domain.OpClose {
			closes++
		}
	}
	assert.Equal(t, 1, closes)
	// The second signal sees a flat account and has nothing to size from.
	for err := range errs {
		assert.ErrorIs(t, err, ports.ErrInvalidSignal)
	}

	positions.mu.Lock()
	assert.Equal(t, 1, positions.maxInFlight)
	positions.mu.Unlock()

	trades, err := f.service.ListTrades(ctx, 1, ports.TradeFilter{Instrument: "BTC"})
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	all, err := f.service.ListPositions(ctx, 1, "BTC", false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Synthetic)
	assert.False(t, all[0].IsOpen)
	assert.True(t, dec("100").Equal(all[0].RealizedPnl), all[0].RealizedPnl.String()) // 10 * (110 - 100)
}

func TestSignalProcessor_StampsTradesWithClock(t *testing.T) {
	f := newFixture(t)
	seedConfig(t, f, &domain.WebhookConfig{Instrument: "BTC", LiveTrading: true})
	sim, err := NewSimulatedExecutor(f.instruments, decimal.Zero, f.logger)
	require.NoError(t, err)
	fixed := time.Date(2024, 6, 2, 15, 4, 5, 0, time.FixedZone("BRT", -3*60*60))
	p, err := NewSignalProcessor(SignalProcessorConfig{
		Configs:     f.repo,
		Classifier:  f.classifier,
		Sizer:       f.sizer,
		Instruments: f.instruments,
		Live:        &stubExecutor{resp: &ports.OrderResponse{OrderID: "77", AvgPrice: dec("100"), ExecutedQty: dec("1"), Side: domain.Buy}},
		Simulated:   sim,
		Ledger:      f.service,
		Now:         func() time.Time { return fixed },
		Logger:      f.logger,
	})
	require.NoError(t, err)

	res, err := p.ProcessSignal(context.Background(), SignalRequest{
		OwnerKey: "owner-key", Secret: "s3cret", Symbol: "BTCUSDT", Action: "buy", Contracts: "1",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Trade)
	assert.True(t, fixed.Equal(res.Trade.Timestamp))
	assert.Equal(t, time.UTC, res.Trade.Timestamp.Location())
}

func TestSignalLabels(t *testing.T) {
	classified := &SignalResult{Intent: intent.Intent{Operation: domain.OpDCA}}
	tests := []struct {
		name        string
		res         *SignalResult
		err         error
		wantOp      string
		wantOutcome string
	}{
		{name: "rejected before classification", err: ports.ErrPermissionDenied, wantOp: "unclassified", wantOutcome: "rejected"},
		{name: "execution failed", res: classified, err: ports.ErrOrderPlacementFailed, wantOp: "DCA", wantOutcome: "failed"},
		{name: "recording failed", res: &SignalResult{Intent: classified.Intent, RecordError: "db"}, wantOp: "DCA", wantOutcome: "unrecorded"},
		{name: "executed", res: classified, wantOp: "DCA", wantOutcome: "executed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, outcome := signalLabels(tt.res, tt.err)
			assert.Equal(t, tt.wantOp, op)
			assert.Equal(t, tt.wantOutcome, outcome)
		})
	}
}

func TestTradeTypeFor(t *testing.T) {
	tests := []struct {
		op   domain.OperationType
		side domain.Side
		want domain.TradeType
	}{
		{domain.OpNewPosition, domain.Long, domain.TradeBuy},
		{domain.OpNewPosition, domain.Short, domain.TradeSell},
		{domain.OpDCA, domain.Long, domain.TradeDCA},
		{domain.OpReduce, domain.Short, domain.TradeReduce},
		{domain.OpClose, domain.Long, domain.TradeClose},
		{domain.OpError, domain.Short, domain.TradeSell},
		{domain.OpError, domain.Long, domain.TradeBuy},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TradeTypeFor(intent.Intent{Operation: tt.op, Side: tt.side}), string(tt.op))
	}
}
