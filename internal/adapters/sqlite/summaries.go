package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/ports"
)

const summaryColumns = `id, owner_id, instrument, total_trades, winning_trades, losing_trades,
	total_realized_pnl, total_unrealized_pnl, total_fees, net_pnl, total_volume, win_rate,
	avg_win, avg_loss, largest_win, largest_loss, last_updated`

// GetSummary returns nil, nil if no summary exists for (ownerID, instrument).
func (s *store) GetSummary(ctx context.Context, ownerID int64, instrument string) (*domain.PnlSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM pnl_summaries WHERE owner_id = ? AND instrument = ?`

	summary, err := scanSummary(s.q.QueryRowContext(ctx, query, ownerID, instrument))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query pnl summary for %s: %w", instrument, err)
	}
	return summary, nil
}

// UpsertSummary inserts or replaces the summary row keyed by (owner, instrument).
func (s *store) UpsertSummary(ctx context.Context, sum *domain.PnlSummary) error {
	const query = `
	INSERT INTO pnl_summaries (owner_id, instrument, total_trades, winning_trades, losing_trades,
	                           total_realized_pnl, total_unrealized_pnl, total_fees, net_pnl, total_volume,
	                           win_rate, avg_win, avg_loss, largest_win, largest_loss, last_updated)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (owner_id, instrument) DO UPDATE SET
		total_trades = excluded.total_trades,
		winning_trades = excluded.winning_trades,
		losing_trades = excluded.losing_trades,
		total_realized_pnl = excluded.total_realized_pnl,
		total_unrealized_pnl = excluded.total_unrealized_pnl,
		total_fees = excluded.total_fees,
		net_pnl = excluded.net_pnl,
		total_volume = excluded.total_volume,
		win_rate = excluded.win_rate,
		avg_win = excluded.avg_win,
		avg_loss = excluded.avg_loss,
		largest_win = excluded.largest_win,
		largest_loss = excluded.largest_loss,
		last_updated = excluded.last_updated`

	_, err := s.q.ExecContext(ctx, query,
		sum.OwnerID, sum.Instrument, sum.TotalTrades, sum.WinningTrades, sum.LosingTrades,
		sum.TotalRealizedPnl, sum.TotalUnrealizedPnl, sum.TotalFees, sum.NetPnl, sum.TotalVolume,
		sum.WinRate, sum.AvgWin, sum.AvgLoss, sum.LargestWin, sum.LargestLoss, utc(sum.LastUpdated))
	if err != nil {
		return fmt.Errorf("failed to upsert pnl summary for %s: %w: %w", sum.Instrument, ports.ErrUpdateFailed, err)
	}
	return nil
}

// DeleteSummary removes the summary for (ownerID, instrument).
func (s *store) DeleteSummary(ctx context.Context, ownerID int64, instrument string) error {
	const query = `DELETE FROM pnl_summaries WHERE owner_id = ? AND instrument = ?`
	if _, err := s.q.ExecContext(ctx, query, ownerID, instrument); err != nil {
		return fmt.Errorf("failed to delete pnl summary for %s: %w: %w", instrument, ports.ErrDeleteFailed, err)
	}
	return nil
}

// ListSummaries returns every summary of the owner ordered by instrument.
func (s *store) ListSummaries(ctx context.Context, ownerID int64) ([]*domain.PnlSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM pnl_summaries WHERE owner_id = ? ORDER BY instrument`

	rows, err := s.q.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pnl summaries for owner %d: %w", ownerID, err)
	}
	defer rows.Close()

	summaries := make([]*domain.PnlSummary, 0)
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pnl summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pnl summary rows: %w", err)
	}
	return summaries, nil
}

// ListInstruments returns every instrument the owner has trades, positions or summaries for.
func (s *store) ListInstruments(ctx context.Context, ownerID int64) ([]string, error) {
	const query = `
	SELECT instrument FROM trades WHERE owner_id = ?
	UNION SELECT instrument FROM positions WHERE owner_id = ?
	UNION SELECT instrument FROM pnl_summaries WHERE owner_id = ?
	ORDER BY 1`
	return s.queryStrings(ctx, query, ownerID, ownerID, ownerID)
}

// ListOwners returns every owner with a webhook configuration or a recorded trade.
func (s *store) ListOwners(ctx context.Context) ([]int64, error) {
	const query = `
	SELECT owner_id FROM webhook_configs
	UNION SELECT owner_id FROM trades
	ORDER BY 1`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query owners: %w", err)
	}
	defer rows.Close()

	owners := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan owner id: %w", err)
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

func (s *store) queryStrings(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanSummary(s scanner) (*domain.PnlSummary, error) {
	sum := &domain.PnlSummary{}
	err := s.Scan(
		&sum.ID, &sum.OwnerID, &sum.Instrument, &sum.TotalTrades, &sum.WinningTrades, &sum.LosingTrades,
		&sum.TotalRealizedPnl, &sum.TotalUnrealizedPnl, &sum.TotalFees, &sum.NetPnl, &sum.TotalVolume, &sum.WinRate,
		&sum.AvgWin, &sum.AvgLoss, &sum.LargestWin, &sum.LargestLoss, &sum.LastUpdated)
	if err != nil {
		return nil, err
	}
	sum.LastUpdated = sum.LastUpdated.UTC()
	return sum, nil
}
