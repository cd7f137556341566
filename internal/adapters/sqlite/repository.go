package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/lclpedro/hyperhook/internal/ports"
)

// Repository implements ports.LedgerStore and ports.ConfigRepository using SQLite.
type Repository struct {
	*store
	db *sql.DB
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// store carries the statements shared by the repository and its transactions.
type store struct {
	q      querier
	logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/hyperhook.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection serializes writers; transactions hold it until commit.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{store: &store{q: db, logger: cfg.Logger}, db: db}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// Trades are append-only: triggers abort any UPDATE or DELETE.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS webhook_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		owner_key TEXT NOT NULL,
		owner_address TEXT NOT NULL DEFAULT '',
		secret TEXT NOT NULL DEFAULT '',
		instrument TEXT NOT NULL,
		venue_instrument TEXT NOT NULL DEFAULT '',
		max_usd_value TEXT NOT NULL DEFAULT '0',
		leverage INTEGER NOT NULL DEFAULT 1,
		live_trading INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (owner_key, instrument)
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		config_id INTEGER NOT NULL,
		instrument TEXT NOT NULL,
		trade_type TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		notional_value TEXT NOT NULL,
		leverage INTEGER NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		external_order_id TEXT NULL,
		fees TEXT NOT NULL DEFAULT '0'
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_owner_external ON trades (owner_id, external_order_id)
		WHERE external_order_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_trades_owner_instrument_ts ON trades (owner_id, instrument, timestamp, id);

	CREATE TRIGGER IF NOT EXISTS trades_no_update BEFORE UPDATE ON trades
	BEGIN
		SELECT RAISE(ABORT, 'trades are append-only');
	END;
	CREATE TRIGGER IF NOT EXISTS trades_no_delete BEFORE DELETE ON trades
	BEGIN
		SELECT RAISE(ABORT, 'trades are append-only');
	END;

	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		config_id INTEGER NOT NULL,
		instrument TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		avg_entry_price TEXT NOT NULL,
		current_price TEXT NULL,
		unrealized_pnl TEXT NOT NULL DEFAULT '0',
		realized_pnl TEXT NOT NULL DEFAULT '0',
		total_fees TEXT NOT NULL DEFAULT '0',
		leverage INTEGER NOT NULL,
		is_open INTEGER NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP NULL,
		last_updated TIMESTAMP NOT NULL,
		synthetic INTEGER NOT NULL DEFAULT 0
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_key ON positions (config_id, instrument, side)
		WHERE is_open = 1;
	CREATE INDEX IF NOT EXISTS idx_positions_owner_instrument ON positions (owner_id, instrument);

	CREATE TABLE IF NOT EXISTS pnl_summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		instrument TEXT NOT NULL,
		total_trades INTEGER NOT NULL,
		winning_trades INTEGER NOT NULL,
		losing_trades INTEGER NOT NULL,
		total_realized_pnl TEXT NOT NULL,
		total_unrealized_pnl TEXT NOT NULL,
		total_fees TEXT NOT NULL,
		net_pnl TEXT NOT NULL,
		total_volume TEXT NOT NULL,
		win_rate TEXT NOT NULL,
		avg_win TEXT NOT NULL,
		avg_loss TEXT NOT NULL,
		largest_win TEXT NOT NULL,
		largest_loss TEXT NOT NULL,
		last_updated TIMESTAMP NOT NULL,
		UNIQUE (owner_id, instrument)
	);

	CREATE TABLE IF NOT EXISTS account_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		account_balance TEXT NOT NULL,
		available_balance TEXT NOT NULL,
		total_realized_pnl TEXT NOT NULL,
		total_unrealized_pnl TEXT NOT NULL,
		total_fees TEXT NOT NULL,
		net_pnl TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_account_snapshots_owner_ts ON account_snapshots (owner_id, timestamp);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// WithTransaction runs fn inside a database transaction, rolling back on error or panic.
// fn must only use the provided tx; the repository's own methods would block on the single connection.
func (r *Repository) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx ports.LedgerTx) error) (err error) {
	if fn == nil {
		return fmt.Errorf("transaction func is nil: %w", ports.ErrInvalidRequest)
	}
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w: %w", ports.ErrDBConnection, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &store{q: sqlTx, logger: r.logger}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Error(ctx, rbErr, "Failed to roll back transaction")
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w: %w", ports.ErrUpdateFailed, err)
	}
	return nil
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrDBConnection, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
