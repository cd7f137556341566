package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/ports"
	"github.com/lclpedro/hyperhook/internal/sizing"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockPositions struct {
	pos   *domain.ExchangePosition
	err   error
	block bool
}

func (m *mockPositions) GetCurrentPosition(ctx context.Context, ownerAddress, instrument string) (*domain.ExchangePosition, error) {
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.pos, m.err
}

// fixedSizer rounds everything to three decimals.
type fixedSizer struct{}

func (fixedSizer) Normalize(ctx context.Context, instrument string, raw decimal.Decimal) (sizing.Quantity, error) {
	p := domain.NewPrecision(3)
	return sizing.Quantity{Value: sizing.Round(p, raw), Precision: p}, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestClassifier(t *testing.T, positions *mockPositions) *Classifier {
	t.Helper()
	c, err := New(Config{
		Positions: positions,
		Sizer:     fixedSizer{},
		Timeout:   20 * time.Millisecond,
		Logger:    &mockLogger{},
	})
	require.NoError(t, err)
	return c
}

func long(qty string) *domain.ExchangePosition {
	return &domain.ExchangePosition{Instrument: "BTC", Side: domain.Long, Quantity: dec(qty)}
}

func short(qty string) *domain.ExchangePosition {
	return &domain.ExchangePosition{Instrument: "BTC", Side: domain.Short, Quantity: dec(qty)}
}

func TestClassifier_Classify(t *testing.T) {
	tests := []struct {
		name         string
		current      *domain.ExchangePosition
		action       string
		positionSize string
		contracts    string
		wantOp       domain.OperationType
		wantSide     domain.Side
		wantQty      string
		wantOrder    domain.OrderSide
	}{
		{
			name: "no position sell opens short", action: "sell", positionSize: "0", contracts: "5",
			wantOp: domain.OpNewPosition, wantSide: domain.Short, wantQty: "5", wantOrder: domain.Sell,
		},
		{
			name: "no position buy opens long with rounding", action: "buy", positionSize: "1.23456", contracts: "1.23456",
			wantOp: domain.OpNewPosition, wantSide: domain.Long, wantQty: "1.235", wantOrder: domain.Buy,
		},
		{
			name: "flat target against long closes everything", current: long("10"), action: "sell", positionSize: "0", contracts: "3",
			wantOp: domain.OpClose, wantSide: domain.Long, wantQty: "10", wantOrder: domain.Sell,
		},
		{
			name: "flat target against short closes everything", current: short("4"), action: "BUY", positionSize: "", contracts: "1",
			wantOp: domain.OpClose, wantSide: domain.Short, wantQty: "4", wantOrder: domain.Buy,
		},
		{
			name: "same direction adds", current: long("10"), action: "long", positionSize: "12", contracts: "2",
			wantOp: domain.OpDCA, wantSide: domain.Long, wantQty: "2", wantOrder: domain.Buy,
		},
		{
			name: "same direction with flat target still adds", current: short("1"), action: "sell", positionSize: "0", contracts: "2",
			wantOp: domain.OpDCA, wantSide: domain.Short, wantQty: "2", wantOrder: domain.Sell,
		},
		{
			name: "opposite direction reduces", current: long("10"), action: "sell", positionSize: "7", contracts: "3",
			wantOp: domain.OpReduce, wantSide: domain.Long, wantQty: "3", wantOrder: domain.Sell,
		},
		{
			name: "reduce is capped at current size", current: short("2.5"), action: "buy", positionSize: "-1", contracts: "9",
			wantOp: domain.OpReduce, wantSide: domain.Short, wantQty: "2.5", wantOrder: domain.Buy,
		},
		{
			name: "zero quantity position is treated as none", current: long("0"), action: "buy", positionSize: "1", contracts: "1",
			wantOp: domain.OpNewPosition, wantSide: domain.Long, wantQty: "1", wantOrder: domain.Buy,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier(t, &mockPositions{pos: tt.current})
			got, err := c.Classify(context.Background(), Signal{
				Instrument:   "BTC",
				Action:       tt.action,
				PositionSize: tt.positionSize,
				Contracts:    tt.contracts,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantOp, got.Operation)
			assert.Equal(t, tt.wantSide, got.Side)
			assert.True(t, dec(tt.wantQty).Equal(got.Quantity), "got %s want %s", got.Quantity, tt.wantQty)
			assert.Equal(t, tt.wantOrder, got.OrderSide())
			assert.False(t, got.Degraded)
			assert.NotEmpty(t, got.Rationale)
		})
	}
}

func TestClassifier_Classify_Degraded(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		c := newTestClassifier(t, &mockPositions{err: errors.New("connection reset")})
		got, err := c.Classify(context.Background(), Signal{Instrument: "BTC", Action: "buy", PositionSize: "0", Contracts: "2.0004"})
		require.NoError(t, err)
		assert.Equal(t, domain.OpError, got.Operation)
		assert.Equal(t, domain.Long, got.Side)
		assert.True(t, got.Degraded)
		assert.True(t, dec("2.0004").Equal(got.RawQuantity))
		assert.True(t, dec("2").Equal(got.Quantity))
		assert.Contains(t, got.Rationale, "degraded")
		assert.Contains(t, got.Rationale, "connection reset")
	})

	t.Run("provider timeout", func(t *testing.T) {
		c := newTestClassifier(t, &mockPositions{block: true})
		start := time.Now()
		got, err := c.Classify(context.Background(), Signal{Instrument: "BTC", Action: "sell", Contracts: "1"})
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, domain.OpError, got.Operation)
		assert.True(t, got.Degraded)
		assert.Contains(t, got.Rationale, ports.ErrTimeout.Error())
	})
}

func TestClassifier_Classify_InvalidSignal(t *testing.T) {
	tests := []struct {
		name string
		sig  Signal
	}{
		{name: "unknown action", sig: Signal{Action: "hold", Contracts: "1"}},
		{name: "non numeric contracts", sig: Signal{Action: "buy", Contracts: "one"}},
		{name: "non numeric position size", sig: Signal{Action: "buy", PositionSize: "1,5", Contracts: "1"}},
		{name: "negative contracts", sig: Signal{Action: "buy", Contracts: "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier(t, &mockPositions{})
			_, err := c.Classify(context.Background(), tt.sig)
			require.Error(t, err)
			assert.ErrorIs(t, err, ports.ErrInvalidSignal)
		})
	}
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("contracts", "  ")
	require.NoError(t, err)
	assert.True(t, v.IsZero())

	v, err = ParseAmount("contracts", "0.015")
	require.NoError(t, err)
	assert.True(t, dec("0.015").Equal(v))
}
