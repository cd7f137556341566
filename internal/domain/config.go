package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WebhookConfig binds a signal instrument of one owner to venue settings.
type WebhookConfig struct {
	ID              int64
	OwnerID         int64
	OwnerKey        string // Public identifier used by signal senders
	OwnerAddress    string // Venue account the orders are placed for
	Secret          string
	Instrument      string // Signal-side asset name, e.g. BTC
	VenueInstrument string // Optional venue asset name, e.g. kPEPE
	MaxUSDValue     decimal.Decimal
	Leverage        int
	LiveTrading     bool
	CreatedAt       time.Time
}

// TradingInstrument returns the instrument orders are placed on.
func (c *WebhookConfig) TradingInstrument() string {
	if c.VenueInstrument != "" {
		return c.VenueInstrument
	}
	return c.Instrument
}
