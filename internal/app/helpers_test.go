package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lclpedro/hyperhook/internal/adapters/sqlite"
	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/intent"
	"github.com/lclpedro/hyperhook/internal/ledger"
	"github.com/lclpedro/hyperhook/internal/pnl"
	"github.com/lclpedro/hyperhook/internal/ports"
	"github.com/lclpedro/hyperhook/internal/sizing"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

type mockInstruments struct {
	mu        sync.Mutex
	decimals  map[string]int32
	prices    map[string]decimal.Decimal
	priceErr  error
	precCalls int
}

func (m *mockInstruments) GetInstrumentPrecision(ctx context.Context, instrument string) (domain.Precision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.precCalls++
	d, ok := m.decimals[instrument]
	if !ok {
		return domain.Precision{}, ports.ErrInstrumentUnknown
	}
	return domain.NewPrecision(d), nil
}

func (m *mockInstruments) GetInstrumentPrice(ctx context.Context, instrument string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.priceErr != nil {
		return decimal.Zero, m.priceErr
	}
	p, ok := m.prices[instrument]
	if !ok {
		return decimal.Zero, ports.ErrInstrumentUnknown
	}
	return p, nil
}

type mockPositions struct {
	pos *domain.ExchangePosition
	err error
}

func (m *mockPositions) GetCurrentPosition(ctx context.Context, ownerAddress, instrument string) (*domain.ExchangePosition, error) {
	return m.pos, m.err
}

type mockAccounts struct {
	balance domain.AccountBalance
	err     error
}

func (m *mockAccounts) GetAccountBalance(ctx context.Context, ownerAddress string) (domain.AccountBalance, error) {
	return m.balance, m.err
}

type stubExecutor struct {
	resp  *ports.OrderResponse
	err   error
	calls []ports.OrderRequest
}

func (s *stubExecutor) PlaceMarketOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	s.calls = append(s.calls, req)
	return s.resp, s.err
}

func setupTestDB(t *testing.T) (*sqlite.Repository, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "hyperhook-app-*")
	require.NoError(t, err)
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: filepath.Join(tmpDir, "test.db"), Logger: &mockLogger{}})
	require.NoError(t, err)
	return repo, func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}
}

type fixture struct {
	repo        *sqlite.Repository
	logger      *mockLogger
	instruments *mockInstruments
	positions   *mockPositions
	sizer       *sizing.Sizer
	classifier  *intent.Classifier
	service     *LedgerService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, cleanup := setupTestDB(t)
	t.Cleanup(cleanup)

	logger := &mockLogger{}
	instruments := &mockInstruments{
		decimals: map[string]int32{"BTC": 3, "ETH": 2, "kPEPE": 0},
		prices: map[string]decimal.Decimal{
			"BTC":   decimal.NewFromInt(100),
			"ETH":   decimal.NewFromInt(20),
			"kPEPE": decimal.RequireFromString("0.01"),
		},
	}
	positions := &mockPositions{}

	sizer, err := sizing.New(sizing.Config{Instruments: instruments, Logger: logger})
	require.NoError(t, err)
	classifier, err := intent.New(intent.Config{Positions: positions, Sizer: sizer, Logger: logger})
	require.NoError(t, err)
	l, err := ledger.New(ledger.Config{Logger: logger})
	require.NoError(t, err)
	agg, err := pnl.NewAggregator(logger)
	require.NoError(t, err)

	svc, err := NewLedgerService(LedgerServiceConfig{
		Store:      repo,
		Ledger:     l,
		Aggregator: agg,
		Classifier: classifier,
		Prices:     instruments,
		Logger:     logger,
	})
	require.NoError(t, err)

	return &fixture{
		repo:        repo,
		logger:      logger,
		instruments: instruments,
		positions:   positions,
		sizer:       sizer,
		classifier:  classifier,
		service:     svc,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newTrade(tt domain.TradeType, side domain.Side, qty, price string, minute int) *domain.Trade {
	return &domain.Trade{
		OwnerID:    1,
		ConfigID:   1,
		Instrument: "BTC",
		TradeType:  tt,
		Side:       side,
		Quantity:   dec(qty),
		Price:      dec(price),
		Leverage:   1,
		Timestamp:  t0.Add(time.Duration(minute) * time.Minute),
	}
}
