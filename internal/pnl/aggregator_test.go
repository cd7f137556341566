package pnl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lclpedro/hyperhook/internal/adapters/sqlite"
	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/ledger"
	"github.com/lclpedro/hyperhook/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func setupTestDB(t *testing.T) (*sqlite.Repository, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "hyperhook-pnl-*")
	require.NoError(t, err)
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: filepath.Join(tmpDir, "test.db"), Logger: &mockLogger{}})
	require.NoError(t, err)
	return repo, func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func trade(id int64, tt domain.TradeType, side domain.Side, qty, price string, minute int) *domain.Trade {
	return &domain.Trade{
		ID:         id,
		OwnerID:    1,
		ConfigID:   1,
		Instrument: "ETH",
		TradeType:  tt,
		Side:       side,
		Quantity:   dec(qty),
		Price:      dec(price),
		Leverage:   1,
		Timestamp:  t0.Add(time.Duration(minute) * time.Minute),
		Fees:       dec("0.5"),
	}
}

func TestAnalyzeSequences(t *testing.T) {
	tests := []struct {
		name     string
		trades   []*domain.Trade
		wantPnls []string
	}{
		{
			name: "break-even cycle",
			trades: []*domain.Trade{
				trade(1, domain.TradeBuy, domain.Long, "5", "10", 0),
				trade(2, domain.TradeDCA, domain.Long, "5", "12", 1),
				trade(3, domain.TradeClose, domain.Long, "10", "11", 2),
			},
			wantPnls: []string{"0"},
		},
		{
			name: "win then loss with open tail",
			trades: []*domain.Trade{
				trade(1, domain.TradeSell, domain.Short, "2", "100", 0),
				trade(2, domain.TradeReduce, domain.Short, "1", "90", 1),
				trade(3, domain.TradeBuy, domain.Long, "1", "50", 2),
				trade(4, domain.TradeClose, domain.Long, "1", "40", 3),
				trade(5, domain.TradeBuy, domain.Long, "1", "60", 4),
			},
			wantPnls: []string{"10", "-10"},
		},
		{
			name: "exit without entries is neutral",
			trades: []*domain.Trade{
				trade(1, domain.TradeClose, domain.Long, "1", "10", 0),
			},
			wantPnls: []string{"0"},
		},
		{
			name:     "open only",
			trades:   []*domain.Trade{trade(1, domain.TradeBuy, domain.Long, "1", "10", 0)},
			wantPnls: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seqs := AnalyzeSequences(tt.trades)
			require.Len(t, seqs, len(tt.wantPnls))
			for i, want := range tt.wantPnls {
				assert.True(t, dec(want).Equal(seqs[i].Pnl), "sequence %d got %s want %s", i, seqs[i].Pnl, want)
			}
		})
	}
}

func TestSortTrades(t *testing.T) {
	trades := []*domain.Trade{
		trade(3, domain.TradeClose, domain.Long, "1", "10", 1),
		trade(2, domain.TradeDCA, domain.Long, "1", "10", 0),
		trade(1, domain.TradeBuy, domain.Long, "1", "10", 0),
	}
	SortTrades(trades)
	assert.Equal(t, int64(1), trades[0].ID)
	assert.Equal(t, int64(2), trades[1].ID)
	assert.Equal(t, int64(3), trades[2].ID)
}

func TestSummarize(t *testing.T) {
	t.Run("break-even cycle is excluded from win rate", func(t *testing.T) {
		trades := []*domain.Trade{
			trade(1, domain.TradeBuy, domain.Long, "5", "10", 0),
			trade(2, domain.TradeDCA, domain.Long, "5", "12", 1),
			trade(3, domain.TradeClose, domain.Long, "10", "11", 2),
		}
		s := Summarize(1, "ETH", trades, nil)
		assert.Equal(t, 3, s.TotalTrades)
		assert.Equal(t, 0, s.WinningTrades)
		assert.Equal(t, 0, s.LosingTrades)
		assert.True(t, s.WinRate.IsZero())
		assert.True(t, dec("1.5").Equal(s.TotalFees))
		assert.True(t, dec("220").Equal(s.TotalVolume))
		assert.True(t, t0.Add(2*time.Minute).Equal(s.LastUpdated))
	})

	t.Run("win and loss statistics", func(t *testing.T) {
		trades := []*domain.Trade{
			trade(1, domain.TradeBuy, domain.Long, "1", "10", 0),
			trade(2, domain.TradeClose, domain.Long, "1", "14", 1),
			trade(3, domain.TradeBuy, domain.Long, "1", "10", 2),
			trade(4, domain.TradeClose, domain.Long, "1", "12", 3),
			trade(5, domain.TradeSell, domain.Short, "1", "10", 4),
			trade(6, domain.TradeClose, domain.Short, "1", "13", 5),
			trade(7, domain.TradeBuy, domain.Long, "1", "10", 6),
			trade(8, domain.TradeClose, domain.Long, "1", "10", 7),
		}
		positions := []*domain.Position{
			{RealizedPnl: dec("4")},
			{RealizedPnl: dec("2")},
			{RealizedPnl: dec("-3")},
			{RealizedPnl: dec("1"), UnrealizedPnl: dec("7"), IsOpen: true},
			{RealizedPnl: dec("0"), UnrealizedPnl: dec("100"), IsOpen: false},
		}
		s := Summarize(1, "ETH", trades, positions)
		assert.Equal(t, 2, s.WinningTrades)
		assert.Equal(t, 1, s.LosingTrades)
		assert.True(t, dec("66.6667").Equal(s.WinRate), "win rate %s", s.WinRate)
		assert.True(t, dec("3").Equal(s.AvgWin))
		assert.True(t, dec("4").Equal(s.LargestWin))
		assert.True(t, dec("-3").Equal(s.AvgLoss))
		assert.True(t, dec("-3").Equal(s.LargestLoss))
		assert.True(t, dec("4").Equal(s.TotalRealizedPnl))
		assert.True(t, dec("7").Equal(s.TotalUnrealizedPnl))
		assert.True(t, dec("4").Equal(s.TotalFees))
		// 4 + 7 - 4
		assert.True(t, dec("7").Equal(s.NetPnl))
	})
}

func recordAll(t *testing.T, repo *sqlite.Repository, l *ledger.Ledger, agg *Aggregator, trades ...*domain.Trade) {
	t.Helper()
	for _, tr := range trades {
		tr.ID = 0
		err := repo.WithTransaction(context.Background(), func(ctx context.Context, tx ports.LedgerTx) error {
			if _, err := tx.InsertTrade(ctx, tr); err != nil {
				return err
			}
			if _, err := l.Apply(ctx, tx, tr); err != nil {
				return err
			}
			_, err := agg.Recompute(ctx, tx, tr.OwnerID, tr.Instrument)
			return err
		})
		require.NoError(t, err)
	}
}

func TestAggregator_RebuildIsIdempotent(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	l, err := ledger.New(ledger.Config{Logger: &mockLogger{}})
	require.NoError(t, err)
	agg, err := NewAggregator(&mockLogger{})
	require.NoError(t, err)

	recordAll(t, repo, l, agg,
		trade(0, domain.TradeBuy, domain.Long, "1.235", "10", 0),
		trade(0, domain.TradeDCA, domain.Long, "2", "20", 1),
		trade(0, domain.TradeReduce, domain.Long, "1", "25", 2),
		trade(0, domain.TradeClose, domain.Long, "2.235", "15", 3),
	)
	incremental, err := repo.GetSummary(ctx, 1, "ETH")
	require.NoError(t, err)
	require.NotNil(t, incremental)

	rebuild := func() *domain.PnlSummary {
		var out *domain.PnlSummary
		err := repo.WithTransaction(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
			s, err := agg.Rebuild(ctx, tx, l, 1, "ETH")
			out = s
			return err
		})
		require.NoError(t, err)
		return out
	}
	first := rebuild()
	second := rebuild()

	for _, s := range []*domain.PnlSummary{first, second} {
		assert.Equal(t, incremental.TotalTrades, s.TotalTrades)
		assert.Equal(t, incremental.WinningTrades, s.WinningTrades)
		assert.Equal(t, incremental.LosingTrades, s.LosingTrades)
		assert.True(t, incremental.TotalRealizedPnl.Equal(s.TotalRealizedPnl))
		assert.True(t, incremental.NetPnl.Equal(s.NetPnl))
		assert.True(t, incremental.WinRate.Equal(s.WinRate))
		assert.True(t, incremental.LastUpdated.Equal(s.LastUpdated))
	}

	stored, err := repo.GetSummary(ctx, 1, "ETH")
	require.NoError(t, err)
	assert.True(t, second.TotalRealizedPnl.Equal(stored.TotalRealizedPnl))

	positions, err := repo.ListPositions(ctx, 1, "ETH", false)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.False(t, positions[0].IsOpen)
}

func TestAggregator_RecomputeWithoutData(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	agg, err := NewAggregator(&mockLogger{})
	require.NoError(t, err)
	require.NoError(t, repo.UpsertSummary(ctx, &domain.PnlSummary{OwnerID: 1, Instrument: "ETH", LastUpdated: t0}))

	err = repo.WithTransaction(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		s, err := agg.Recompute(ctx, tx, 1, "ETH")
		assert.Nil(t, s)
		return err
	})
	require.NoError(t, err)

	got, err := repo.GetSummary(ctx, 1, "ETH")
	require.NoError(t, err)
	assert.Nil(t, got)
}
