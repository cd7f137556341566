package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/ports"
)

const positionColumns = `id, owner_id, config_id, instrument, side, quantity, avg_entry_price, current_price,
	unrealized_pnl, realized_pnl, total_fees, leverage, is_open, opened_at, closed_at, last_updated, synthetic`

// CreatePosition saves a new position and returns its assigned ID.
func (s *store) CreatePosition(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO positions (owner_id, config_id, instrument, side, quantity, avg_entry_price, current_price,
	                       unrealized_pnl, realized_pnl, total_fees, leverage, is_open, opened_at, closed_at,
	                       last_updated, synthetic)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.q.ExecContext(ctx, query,
		pos.OwnerID, pos.ConfigID, pos.Instrument, string(pos.Side), pos.Quantity, pos.AvgEntryPrice,
		nullDecimal(pos.CurrentPrice), pos.UnrealizedPnl, pos.RealizedPnl, pos.TotalFees, pos.Leverage,
		pos.IsOpen, utc(pos.OpenedAt), nullTime(pos.ClosedAt), utc(pos.LastUpdated), pos.Synthetic)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("open %s position for %s already exists: %w", pos.Side, pos.Instrument, ports.ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("failed to insert position for %s: %w: %w", pos.Instrument, ports.ErrQueryFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for position %s: %w", pos.Instrument, err)
	}
	pos.ID = id
	s.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": id, "instrument": pos.Instrument, "side": string(pos.Side)})
	return id, nil
}

// UpdatePosition modifies an existing position based on its ID.
func (s *store) UpdatePosition(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET quantity = ?, avg_entry_price = ?, current_price = ?, unrealized_pnl = ?, realized_pnl = ?,
	    total_fees = ?, leverage = ?, is_open = ?, closed_at = ?, last_updated = ?, synthetic = ?
	WHERE id = ?`

	result, err := s.q.ExecContext(ctx, query,
		pos.Quantity, pos.AvgEntryPrice, nullDecimal(pos.CurrentPrice), pos.UnrealizedPnl, pos.RealizedPnl,
		pos.TotalFees, pos.Leverage, pos.IsOpen, nullTime(pos.ClosedAt), utc(pos.LastUpdated), pos.Synthetic,
		pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update position ID %d: %w: %w", pos.ID, ports.ErrUpdateFailed, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update position ID %d: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position ID %d not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	s.logger.Debug(ctx, "Position updated", map[string]interface{}{"positionID": pos.ID, "instrument": pos.Instrument, "isOpen": pos.IsOpen})
	return nil
}

// FindOpenPosition retrieves the open position for (configID, instrument, side), if any.
func (s *store) FindOpenPosition(ctx context.Context, configID int64, instrument string, side domain.Side) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions
	WHERE config_id = ? AND instrument = ? AND side = ? AND is_open = 1`

	pos, err := scanPosition(s.q.QueryRowContext(ctx, query, configID, instrument, string(side)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query open position for %s %s: %w", side, instrument, err)
	}
	return pos, nil
}

// FindOpenPositionAnySide retrieves the most recently updated open position for (configID, instrument).
func (s *store) FindOpenPositionAnySide(ctx context.Context, configID int64, instrument string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions
	WHERE config_id = ? AND instrument = ? AND is_open = 1
	ORDER BY last_updated DESC, id DESC LIMIT 1`

	pos, err := scanPosition(s.q.QueryRowContext(ctx, query, configID, instrument))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query open position for %s: %w", instrument, err)
	}
	return pos, nil
}

// ListPositions returns the owner's positions, optionally for one instrument and only open ones.
func (s *store) ListPositions(ctx context.Context, ownerID int64, instrument string, openOnly bool) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE owner_id = ?`
	args := []interface{}{ownerID}
	if instrument != "" {
		query += ` AND instrument = ?`
		args = append(args, instrument)
	}
	if openOnly {
		query += ` AND is_open = 1`
	}
	query += ` ORDER BY opened_at ASC, id ASC`
	return s.queryPositions(ctx, query, args...)
}

// ListClosedPositions returns positions closed within [from, to].
func (s *store) ListClosedPositions(ctx context.Context, ownerID int64, instrument string, from, to time.Time) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions
	WHERE owner_id = ? AND is_open = 0 AND closed_at >= ? AND closed_at <= ?`
	args := []interface{}{ownerID, utc(from), utc(to)}
	if instrument != "" {
		query += ` AND instrument = ?`
		args = append(args, instrument)
	}
	query += ` ORDER BY closed_at ASC, id ASC`
	return s.queryPositions(ctx, query, args...)
}

// DeletePositions removes every position for (ownerID, instrument).
func (s *store) DeletePositions(ctx context.Context, ownerID int64, instrument string) error {
	const query = `DELETE FROM positions WHERE owner_id = ? AND instrument = ?`
	if _, err := s.q.ExecContext(ctx, query, ownerID, instrument); err != nil {
		return fmt.Errorf("failed to delete positions for %s: %w: %w", instrument, ports.ErrDeleteFailed, err)
	}
	return nil
}

func (s *store) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*domain.Position, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var side string
	var currentPrice decimal.NullDecimal
	var closedAt sql.NullTime
	err := s.Scan(
		&p.ID, &p.OwnerID, &p.ConfigID, &p.Instrument, &side, &p.Quantity, &p.AvgEntryPrice, &currentPrice,
		&p.UnrealizedPnl, &p.RealizedPnl, &p.TotalFees, &p.Leverage, &p.IsOpen, &p.OpenedAt, &closedAt,
		&p.LastUpdated, &p.Synthetic)
	if err != nil {
		return nil, err
	}
	p.Side = domain.Side(side)
	p.OpenedAt = p.OpenedAt.UTC()
	p.LastUpdated = p.LastUpdated.UTC()
	if currentPrice.Valid {
		cp := currentPrice.Decimal
		p.CurrentPrice = &cp
	}
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		p.ClosedAt = &t
	}
	return p, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
