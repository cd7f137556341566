package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable entry in the append-only trade log.
type Trade struct {
	ID              int64
	OwnerID         int64
	ConfigID        int64
	Instrument      string
	TradeType       TradeType
	Side            Side // For CLOSE/REDUCE: the side of the position being reduced
	Quantity        decimal.Decimal
	Price           decimal.Decimal
	NotionalValue   decimal.Decimal
	Leverage        int
	Timestamp       time.Time
	ExternalOrderID string // Exchange order id, empty when unknown
	Fees            decimal.Decimal
}

// RealizedPnl returns the signed profit of closing qty at exit against entry.
func RealizedPnl(side Side, qty, entry, exit decimal.Decimal) decimal.Decimal {
	if side == Short {
		return qty.Mul(entry.Sub(exit))
	}
	return qty.Mul(exit.Sub(entry))
}
