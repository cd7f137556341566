package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/ports"
)

const configColumns = `id, owner_id, owner_key, owner_address, secret, instrument, venue_instrument,
	max_usd_value, leverage, live_trading, created_at`

// CreateConfig stores a webhook configuration and returns its assigned ID.
func (r *Repository) CreateConfig(ctx context.Context, cfg *domain.WebhookConfig) (int64, error) {
	const query = `
	INSERT INTO webhook_configs (owner_id, owner_key, owner_address, secret, instrument, venue_instrument,
	                             max_usd_value, leverage, live_trading, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}
	result, err := r.db.ExecContext(ctx, query,
		cfg.OwnerID, cfg.OwnerKey, cfg.OwnerAddress, cfg.Secret, cfg.Instrument, cfg.VenueInstrument,
		cfg.MaxUSDValue, cfg.Leverage, cfg.LiveTrading, utc(cfg.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("config for %s already exists: %w", cfg.Instrument, ports.ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("failed to insert webhook config for %s: %w: %w", cfg.Instrument, ports.ErrQueryFailed, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for webhook config: %w", err)
	}
	cfg.ID = id
	return id, nil
}

// FindConfig matches the signal instrument first, then the venue instrument. Returns nil, nil if none.
func (r *Repository) FindConfig(ctx context.Context, ownerKey, instrument string) (*domain.WebhookConfig, error) {
	query := `SELECT ` + configColumns + ` FROM webhook_configs
	WHERE owner_key = ? AND (instrument = ? OR venue_instrument = ?)
	ORDER BY CASE WHEN instrument = ? THEN 0 ELSE 1 END, id
	LIMIT 1`

	cfg, err := scanConfig(r.db.QueryRowContext(ctx, query, ownerKey, instrument, instrument, instrument))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query webhook config for %s: %w", instrument, err)
	}
	return cfg, nil
}

// FindConfigByID returns nil, nil if the configuration does not exist.
func (r *Repository) FindConfigByID(ctx context.Context, id int64) (*domain.WebhookConfig, error) {
	query := `SELECT ` + configColumns + ` FROM webhook_configs WHERE id = ?`

	cfg, err := scanConfig(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query webhook config %d: %w", id, err)
	}
	return cfg, nil
}

// ListConfigsByOwner returns the owner's configurations ordered by instrument.
func (r *Repository) ListConfigsByOwner(ctx context.Context, ownerID int64) ([]*domain.WebhookConfig, error) {
	query := `SELECT ` + configColumns + ` FROM webhook_configs WHERE owner_id = ? ORDER BY instrument`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook configs for owner %d: %w", ownerID, err)
	}
	defer rows.Close()

	configs := make([]*domain.WebhookConfig, 0)
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook config: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook config rows: %w", err)
	}
	return configs, nil
}

func scanConfig(s scanner) (*domain.WebhookConfig, error) {
	c := &domain.WebhookConfig{}
	err := s.Scan(&c.ID, &c.OwnerID, &c.OwnerKey, &c.OwnerAddress, &c.Secret, &c.Instrument, &c.VenueInstrument,
		&c.MaxUSDValue, &c.Leverage, &c.LiveTrading, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}
