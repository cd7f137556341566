package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the mutable aggregate for one (config, instrument, side).
type Position struct {
	ID            int64
	OwnerID       int64
	ConfigID      int64
	Instrument    string
	Side          Side
	Quantity      decimal.Decimal
	AvgEntryPrice decimal.Decimal
	CurrentPrice  *decimal.Decimal // Last mark used for unrealized PNL, nil if never priced
	UnrealizedPnl decimal.Decimal
	RealizedPnl   decimal.Decimal
	TotalFees     decimal.Decimal
	Leverage      int
	IsOpen        bool
	OpenedAt      time.Time
	ClosedAt      *time.Time
	LastUpdated   time.Time
	Synthetic     bool // Created to absorb an exit with no matching open position
}

// Close marks the position closed at ts. ClosedAt is only set on the open -> closed transition.
func (p *Position) Close(ts time.Time) {
	p.Quantity = decimal.Zero
	p.UnrealizedPnl = decimal.Zero
	if p.IsOpen || p.ClosedAt == nil {
		t := ts
		p.ClosedAt = &t
	}
	p.IsOpen = false
}

// ExchangePosition is the venue's view of a live position, already parsed.
type ExchangePosition struct {
	Instrument    string
	Side          Side
	Quantity      decimal.Decimal // Always non-negative
	EntryPrice    decimal.Decimal
	UnrealizedPnl decimal.Decimal
}

// Precision describes the order-size granularity of an instrument.
type Precision struct {
	DecimalPlaces int32
	MinIncrement  decimal.Decimal
}

// NewPrecision builds a descriptor whose minimum increment is 10^-d.
func NewPrecision(d int32) Precision {
	if d < 0 {
		d = 0
	}
	return Precision{DecimalPlaces: d, MinIncrement: decimal.New(1, -d)}
}
