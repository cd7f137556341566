package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PnlSummary is the derived per (owner, instrument) aggregate. It can always be rebuilt from trades.
type PnlSummary struct {
	ID                 int64
	OwnerID            int64
	Instrument         string
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	TotalRealizedPnl   decimal.Decimal
	TotalUnrealizedPnl decimal.Decimal
	TotalFees          decimal.Decimal
	NetPnl             decimal.Decimal
	TotalVolume        decimal.Decimal
	WinRate            decimal.Decimal // Percentage of decided cycles, 0-100
	AvgWin             decimal.Decimal
	AvgLoss            decimal.Decimal
	LargestWin         decimal.Decimal
	LargestLoss        decimal.Decimal
	LastUpdated        time.Time
}

// AccountSnapshot is a point-in-time capture of balance and aggregate PNL.
type AccountSnapshot struct {
	ID                 int64
	OwnerID            int64
	AccountBalance     decimal.Decimal
	AvailableBalance   decimal.Decimal
	TotalRealizedPnl   decimal.Decimal
	TotalUnrealizedPnl decimal.Decimal
	TotalFees          decimal.Decimal
	NetPnl             decimal.Decimal
	Timestamp          time.Time
}

// AccountBalance is the venue's balance for one account.
type AccountBalance struct {
	Total     decimal.Decimal
	Available decimal.Decimal
}

// PeriodPnl is the realized result of a time window.
type PeriodPnl struct {
	OwnerID     int64
	Instrument  string // Empty for all instruments
	Start       time.Time
	End         time.Time
	RealizedPnl decimal.Decimal
	Fees        decimal.Decimal
	TradeCount  int
	NetPnl      decimal.Decimal
}
