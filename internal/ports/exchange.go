package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lclpedro/hyperhook/internal/domain"
)

// OrderRequest describes a market order to place on the venue.
type OrderRequest struct {
	OwnerAddress string
	Instrument   string
	Side         domain.OrderSide
	Quantity     decimal.Decimal
	ReduceOnly   bool
	ReferencePx  decimal.Decimal // Signal price, used by simulated executors
}

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID       string          // Exchange's order ID
	Instrument    string          // Instrument for the order
	ClientOrderID string          // User-defined order ID
	AvgPrice      decimal.Decimal // Average filled price
	OrigQuantity  decimal.Decimal // Original quantity requested
	ExecutedQty   decimal.Decimal // Quantity filled
	Fees          decimal.Decimal // Commission charged, zero when unknown
	Status        string          // Order status (e.g., NEW, FILLED, CANCELED)
	Side          domain.OrderSide
	Simulated     bool
	Timestamp     time.Time // Time the order response was generated
}

// PositionStateProvider reports the venue's current position for an account.
type PositionStateProvider interface {
	// GetCurrentPosition returns nil, nil when the account is flat on the instrument.
	GetCurrentPosition(ctx context.Context, ownerAddress, instrument string) (*domain.ExchangePosition, error)
}

// InstrumentProvider exposes instrument metadata and prices.
type InstrumentProvider interface {
	// GetInstrumentPrecision returns ErrInstrumentUnknown if the venue does not list the instrument.
	GetInstrumentPrecision(ctx context.Context, instrument string) (domain.Precision, error)
	GetInstrumentPrice(ctx context.Context, instrument string) (decimal.Decimal, error)
}

// AccountProvider reports account balances.
type AccountProvider interface {
	GetAccountBalance(ctx context.Context, ownerAddress string) (domain.AccountBalance, error)
}

// OrderExecutor places orders on a venue.
type OrderExecutor interface {
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
}

// ExchangeClient is the full venue surface the service depends on.
type ExchangeClient interface {
	PositionStateProvider
	InstrumentProvider
	AccountProvider
	OrderExecutor
	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error
}
