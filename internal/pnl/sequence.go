package pnl

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/lclpedro/hyperhook/internal/domain"
)

// Sequence is one trade cycle: entries followed by the exit that terminated them.
type Sequence struct {
	Trades []*domain.Trade
	Pnl    decimal.Decimal
}

// Outcome returns 1 for a win, -1 for a loss and 0 when the cycle broke even.
func (s Sequence) Outcome() int {
	return s.Pnl.Sign()
}

// SortTrades orders trades by (timestamp, id) in place.
func SortTrades(trades []*domain.Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		if !trades[i].Timestamp.Equal(trades[j].Timestamp) {
			return trades[i].Timestamp.Before(trades[j].Timestamp)
		}
		return trades[i].ID < trades[j].ID
	})
}

// AnalyzeSequences splits an ordered trade list into cycles terminated by CLOSE or REDUCE.
// A trailing run without an exit is still open and is not returned.
func AnalyzeSequences(trades []*domain.Trade) []Sequence {
	var (
		out     []Sequence
		current []*domain.Trade
	)
	for _, t := range trades {
		current = append(current, t)
		if t.TradeType.IsExit() {
			out = append(out, Sequence{Trades: current, Pnl: SequencePnl(current)})
			current = nil
		}
	}
	return out
}

// SequencePnl prices every exit in seq against the weighted average of its entries.
// The side is taken from the first entry.
func SequencePnl(seq []*domain.Trade) decimal.Decimal {
	var (
		entryValue decimal.Decimal
		entryQty   decimal.Decimal
		side       domain.Side
		exits      []*domain.Trade
	)
	for _, t := range seq {
		if t.TradeType.IsExit() {
			exits = append(exits, t)
			continue
		}
		if side == "" {
			side = t.Side
		}
		entryValue = entryValue.Add(t.Quantity.Mul(t.Price))
		entryQty = entryQty.Add(t.Quantity)
	}
	if !entryQty.IsPositive() || len(exits) == 0 {
		return decimal.Zero
	}

	avgEntry := entryValue.Div(entryQty)
	total := decimal.Zero
	for _, x := range exits {
		total = total.Add(domain.RealizedPnl(side, x.Quantity, avgEntry, x.Price))
	}
	return total
}
