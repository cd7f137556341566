package ports

import (
	"context"
	"time"

	"github.com/lclpedro/hyperhook/internal/domain"
)

// TradeFilter narrows trade listings. Zero values mean "no filter".
type TradeFilter struct {
	Instrument string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// LedgerTx is the set of ledger operations that run inside one transaction.
// Lookups return nil, nil when nothing matches.
type LedgerTx interface {
	// InsertTrade appends to the trade log and returns the assigned ID.
	InsertTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	FindTradeByExternalID(ctx context.Context, ownerID int64, externalOrderID string) (*domain.Trade, error)
	// ListTrades returns trades ordered by (timestamp, id) ascending.
	ListTrades(ctx context.Context, ownerID int64, filter TradeFilter) ([]*domain.Trade, error)

	FindOpenPosition(ctx context.Context, configID int64, instrument string, side domain.Side) (*domain.Position, error)
	// FindOpenPositionAnySide returns the most recently updated open position regardless of side.
	FindOpenPositionAnySide(ctx context.Context, configID int64, instrument string) (*domain.Position, error)
	CreatePosition(ctx context.Context, pos *domain.Position) (int64, error)
	UpdatePosition(ctx context.Context, pos *domain.Position) error
	ListPositions(ctx context.Context, ownerID int64, instrument string, openOnly bool) ([]*domain.Position, error)
	DeletePositions(ctx context.Context, ownerID int64, instrument string) error

	GetSummary(ctx context.Context, ownerID int64, instrument string) (*domain.PnlSummary, error)
	UpsertSummary(ctx context.Context, summary *domain.PnlSummary) error
	DeleteSummary(ctx context.Context, ownerID int64, instrument string) error
}

// LedgerStore owns the ledger tables. Reads outside a transaction go through the embedded LedgerTx.
type LedgerStore interface {
	LedgerTx
	// WithTransaction runs fn in a transaction, committing if fn returns nil.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error

	ListSummaries(ctx context.Context, ownerID int64) ([]*domain.PnlSummary, error)
	// ListInstruments returns every instrument with trades, positions or summaries for the owner.
	ListInstruments(ctx context.Context, ownerID int64) ([]string, error)
	ListOwners(ctx context.Context) ([]int64, error)
	ListClosedPositions(ctx context.Context, ownerID int64, instrument string, from, to time.Time) ([]*domain.Position, error)

	InsertSnapshot(ctx context.Context, snap *domain.AccountSnapshot) (int64, error)
	ListSnapshots(ctx context.Context, ownerID int64, limit int) ([]*domain.AccountSnapshot, error)
}

// ConfigRepository stores webhook configurations.
type ConfigRepository interface {
	CreateConfig(ctx context.Context, cfg *domain.WebhookConfig) (int64, error)
	// FindConfig looks up by owner key and either the signal or the venue instrument.
	FindConfig(ctx context.Context, ownerKey, instrument string) (*domain.WebhookConfig, error)
	FindConfigByID(ctx context.Context, id int64) (*domain.WebhookConfig, error)
	ListConfigsByOwner(ctx context.Context, ownerID int64) ([]*domain.WebhookConfig, error)
}
