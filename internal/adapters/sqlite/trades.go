package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/ports"
)

const tradeColumns = `id, owner_id, config_id, instrument, trade_type, side, quantity, price,
	notional_value, leverage, timestamp, external_order_id, fees`

// InsertTrade appends a trade to the log and returns its assigned ID.
func (s *store) InsertTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (owner_id, config_id, instrument, trade_type, side, quantity, price,
	                    notional_value, leverage, timestamp, external_order_id, fees)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.q.ExecContext(ctx, query,
		trade.OwnerID, trade.ConfigID, trade.Instrument, string(trade.TradeType), string(trade.Side),
		trade.Quantity, trade.Price, trade.NotionalValue, trade.Leverage, utc(trade.Timestamp),
		nullString(trade.ExternalOrderID), trade.Fees)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("trade with external order id %s already recorded: %w", trade.ExternalOrderID, ports.ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("failed to insert trade for %s: %w: %w", trade.Instrument, ports.ErrQueryFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.Instrument, err)
	}
	trade.ID = id
	s.logger.Debug(ctx, "Trade recorded", map[string]interface{}{
		"tradeID":    id,
		"instrument": trade.Instrument,
		"tradeType":  string(trade.TradeType),
	})
	return id, nil
}

// FindTradeByExternalID returns nil, nil when the order id has not been recorded for the owner.
func (s *store) FindTradeByExternalID(ctx context.Context, ownerID int64, externalOrderID string) (*domain.Trade, error) {
	if externalOrderID == "" {
		return nil, nil
	}
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE owner_id = ? AND external_order_id = ?`

	trade, err := scanTrade(s.q.QueryRowContext(ctx, query, ownerID, externalOrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade by external id %s: %w", externalOrderID, err)
	}
	return trade, nil
}

// ListTrades returns the owner's trades ordered by (timestamp, id).
func (s *store) ListTrades(ctx context.Context, ownerID int64, filter ports.TradeFilter) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE owner_id = ?`
	args := []interface{}{ownerID}
	if filter.Instrument != "" {
		query += ` AND instrument = ?`
		args = append(args, filter.Instrument)
	}
	if !filter.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, utc(filter.Since))
	}
	if !filter.Until.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, utc(filter.Until))
	}
	query += ` ORDER BY timestamp ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for owner %d: %w", ownerID, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade during ListTrades: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var tradeType, side string
	var externalID sql.NullString
	err := s.Scan(
		&t.ID, &t.OwnerID, &t.ConfigID, &t.Instrument, &tradeType, &side, &t.Quantity, &t.Price,
		&t.NotionalValue, &t.Leverage, &t.Timestamp, &externalID, &t.Fees)
	if err != nil {
		return nil, err
	}
	t.TradeType = domain.TradeType(tradeType)
	t.Side = domain.Side(side)
	t.Timestamp = t.Timestamp.UTC()
	if externalID.Valid {
		t.ExternalOrderID = externalID.String
	}
	return t, nil
}
