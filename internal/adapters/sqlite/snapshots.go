package sqlite

import (
	"context"
	"fmt"

	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/ports"
)

// InsertSnapshot appends an account snapshot.
func (s *store) InsertSnapshot(ctx context.Context, snap *domain.AccountSnapshot) (int64, error) {
	const query = `
	INSERT INTO account_snapshots (owner_id, account_balance, available_balance, total_realized_pnl,
	                               total_unrealized_pnl, total_fees, net_pnl, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.q.ExecContext(ctx, query,
		snap.OwnerID, snap.AccountBalance, snap.AvailableBalance, snap.TotalRealizedPnl,
		snap.TotalUnrealizedPnl, snap.TotalFees, snap.NetPnl, utc(snap.Timestamp))
	if err != nil {
		return 0, fmt.Errorf("failed to insert account snapshot for owner %d: %w: %w", snap.OwnerID, ports.ErrQueryFailed, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for account snapshot: %w", err)
	}
	snap.ID = id
	return id, nil
}

// ListSnapshots returns the owner's latest snapshots, newest first.
func (s *store) ListSnapshots(ctx context.Context, ownerID int64, limit int) ([]*domain.AccountSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
	SELECT id, owner_id, account_balance, available_balance, total_realized_pnl, total_unrealized_pnl,
	       total_fees, net_pnl, timestamp
	FROM account_snapshots
	WHERE owner_id = ?
	ORDER BY timestamp DESC, id DESC LIMIT ?`

	rows, err := s.q.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query account snapshots for owner %d: %w", ownerID, err)
	}
	defer rows.Close()

	snaps := make([]*domain.AccountSnapshot, 0)
	for rows.Next() {
		sn := &domain.AccountSnapshot{}
		if err := rows.Scan(&sn.ID, &sn.OwnerID, &sn.AccountBalance, &sn.AvailableBalance, &sn.TotalRealizedPnl,
			&sn.TotalUnrealizedPnl, &sn.TotalFees, &sn.NetPnl, &sn.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan account snapshot: %w", err)
		}
		sn.Timestamp = sn.Timestamp.UTC()
		snaps = append(snaps, sn)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account snapshot rows: %w", err)
	}
	return snaps, nil
}
