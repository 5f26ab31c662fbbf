package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tradeledger/internal/domain"
	"tradeledger/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.LedgerStore, ports.PositionRepository,
// ports.TradeRepository, ports.SignalRepository and ports.AssetCatalog using
// SQLite. Decimal values are stored as TEXT to preserve the Money type's
// precision exactly.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/ledger.db" // Default path
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the fill path and valuation reads.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite ledger store ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		remaining_quantity TEXT NOT NULL,
		avg_entry_price TEXT NOT NULL,
		cost_basis TEXT NOT NULL,
		current_price TEXT NOT NULL,
		marked_at TIMESTAMP DEFAULT NULL,
		market_value TEXT NOT NULL,
		unrealized_pnl TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		total_commissions TEXT NOT NULL,
		stop_loss TEXT DEFAULT NULL,
		take_profit TEXT DEFAULT NULL,
		status TEXT NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL,
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		signal_id TEXT DEFAULT NULL,
		position_id TEXT DEFAULT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		commission TEXT NOT NULL,
		total_value TEXT NOT NULL,
		status TEXT NOT NULL,
		executed_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS signals (
		id TEXT PRIMARY KEY,
		strategy_id TEXT NOT NULL,
		asset_id TEXT NOT NULL,
		event_id TEXT DEFAULT NULL,
		signal_type TEXT NOT NULL,
		confidence REAL NOT NULL,
		target_price TEXT DEFAULT NULL,
		stop_loss TEXT DEFAULT NULL,
		take_profit TEXT DEFAULT NULL,
		suggested_quantity TEXT NOT NULL,
		was_acted_upon INTEGER NOT NULL DEFAULT 0,
		linked_trade_ids TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		class TEXT NOT NULL,
		min_order_qty TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		metadata TEXT DEFAULT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_asset_status ON positions (asset_id, status);
	CREATE INDEX IF NOT EXISTS idx_trades_position ON trades (position_id, executed_at);
	CREATE INDEX IF NOT EXISTS idx_assets_symbol ON assets (symbol);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
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

// --- LedgerStore Implementation ---

// CommitFill persists every touched position and trade in one transaction.
// Version checks guard against concurrent writers: a stale position version
// aborts the whole commit with ports.ErrPersistenceConflict.
func (r *Repository) CommitFill(ctx context.Context, positions []*domain.Position, trades []*domain.Trade) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fill transaction: %w", err)
	}
	defer tx.Rollback()

	newVersions := make([]int64, len(positions))
	for i, pos := range positions {
		v, err := r.savePositionTx(ctx, tx, pos)
		if err != nil {
			return err
		}
		newVersions[i] = v
	}
	for _, t := range trades {
		if err := r.insertTradeTx(ctx, tx, t); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fill transaction: %w", err)
	}
	// Advance versions only once the commit is durable.
	for i, pos := range positions {
		pos.Version = newVersions[i]
	}
	r.logger.Debug(ctx, "Fill committed", map[string]interface{}{
		"positions": len(positions),
		"trades":    len(trades),
	})
	return nil
}

// savePositionTx inserts a never-persisted position (Version 0) or performs a
// version-checked update, returning the version the row holds after commit.
func (r *Repository) savePositionTx(ctx context.Context, tx *sql.Tx, pos *domain.Position) (int64, error) {
	closedAt := sql.NullTime{}
	if !pos.ClosedAt.IsZero() {
		closedAt = sql.NullTime{Time: pos.ClosedAt, Valid: true}
	}
	markedAt := sql.NullTime{}
	if !pos.MarkedAt.IsZero() {
		markedAt = sql.NullTime{Time: pos.MarkedAt, Valid: true}
	}
	if pos.Version == 0 {
		const insert = `
		INSERT INTO positions (id, asset_id, side, quantity, remaining_quantity, avg_entry_price,
		                       cost_basis, current_price, marked_at, market_value, unrealized_pnl, realized_pnl,
		                       total_commissions, stop_loss, take_profit, status, opened_at, closed_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`
		_, err := tx.ExecContext(ctx, insert,
			pos.ID, pos.AssetID, string(pos.Side),
			pos.Quantity.String(), pos.RemainingQuantity.String(), pos.AvgEntryPrice.String(),
			pos.CostBasis.String(), pos.CurrentPrice.String(), markedAt, pos.MarketValue.String(),
			pos.UnrealizedPnL.String(), pos.RealizedPnL.String(), pos.TotalCommissions.String(),
			nullMoney(pos.StopLoss), nullMoney(pos.TakeProfit),
			string(pos.Status), pos.OpenedAt, closedAt)
		if err != nil {
			return 0, fmt.Errorf("failed to insert position %s: %w", pos.ID, err)
		}
		return 1, nil
	}

	const update = `
	UPDATE positions
	SET asset_id = ?, side = ?, quantity = ?, remaining_quantity = ?, avg_entry_price = ?,
	    cost_basis = ?, current_price = ?, marked_at = ?, market_value = ?, unrealized_pnl = ?, realized_pnl = ?,
	    total_commissions = ?, stop_loss = ?, take_profit = ?, status = ?, opened_at = ?, closed_at = ?,
	    version = version + 1
	WHERE id = ? AND version = ?`
	res, err := tx.ExecContext(ctx, update,
		pos.AssetID, string(pos.Side),
		pos.Quantity.String(), pos.RemainingQuantity.String(), pos.AvgEntryPrice.String(),
		pos.CostBasis.String(), pos.CurrentPrice.String(), markedAt, pos.MarketValue.String(),
		pos.UnrealizedPnL.String(), pos.RealizedPnL.String(), pos.TotalCommissions.String(),
		nullMoney(pos.StopLoss), nullMoney(pos.TakeProfit),
		string(pos.Status), pos.OpenedAt, closedAt,
		pos.ID, pos.Version)
	if err != nil {
		return 0, fmt.Errorf("failed to update position %s: %w", pos.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for position %s: %w", pos.ID, err)
	}
	if affected == 0 {
		return 0, fmt.Errorf("position %s at version %d: %w", pos.ID, pos.Version, ports.ErrPersistenceConflict)
	}
	return pos.Version + 1, nil
}

func (r *Repository) insertTradeTx(ctx context.Context, tx *sql.Tx, t *domain.Trade) error {
	const query = `
	INSERT INTO trades (id, asset_id, signal_id, position_id, side, quantity, price,
	                    commission, total_value, status, executed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, query,
		t.ID, t.AssetID, nullString(t.SignalID), nullString(t.PositionID), string(t.Side),
		t.Quantity.String(), t.Price.String(), t.Commission.String(), t.TotalValue.String(),
		string(t.Status), t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to insert trade %s: %w", t.ID, err)
	}
	return nil
}

// --- PositionRepository Implementation ---

// Update performs a standalone version-checked position update.
func (r *Repository) Update(ctx context.Context, pos *domain.Position) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin position update: %w", err)
	}
	defer tx.Rollback()

	v, err := r.savePositionTx(ctx, tx, pos)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit position update: %w", err)
	}
	pos.Version = v
	return nil
}

const positionColumns = `
	id, asset_id, side, quantity, remaining_quantity, avg_entry_price, cost_basis,
	current_price, marked_at, market_value, unrealized_pnl, realized_pnl, total_commissions,
	stop_loss, take_profit, status, opened_at, closed_at, version`

// FindOpenByAsset retrieves the currently open position for an asset, if any.
// With several open (a reversal reopened an older one) the newest wins.
func (r *Repository) FindOpenByAsset(ctx context.Context, assetID string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions
	WHERE asset_id = ? AND status != ? ORDER BY opened_at DESC LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, assetID, domain.StatusClosed)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query open position for asset %s: %w", assetID, err)
	}
	return pos, nil
}

// FindByID retrieves a position by its unique ID.
func (r *Repository) FindByID(ctx context.Context, id string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query position %s: %w", id, err)
	}
	return pos, nil
}

// FindAll retrieves all positions, ordered by opening time descending.
func (r *Repository) FindAll(ctx context.Context) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions ORDER BY opened_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query all positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindAll: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// TotalRealizedPnL sums realized PnL across closed positions. Summation runs
// in Go through the Money type; SQLite SUM would coerce the decimals to float.
func (r *Repository) TotalRealizedPnL(ctx context.Context) (domain.Money, error) {
	const query = `SELECT realized_pnl FROM positions WHERE status = ?`
	rows, err := r.db.QueryContext(ctx, query, domain.StatusClosed)
	if err != nil {
		return domain.Money{}, fmt.Errorf("failed to query realized pnl: %w", err)
	}
	defer rows.Close()

	total := domain.Zero()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return domain.Money{}, fmt.Errorf("failed to scan realized pnl: %w", err)
		}
		m, err := domain.NewMoneyFromString(raw)
		if err != nil {
			return domain.Money{}, fmt.Errorf("stored realized pnl %q: %w", raw, err)
		}
		if total, err = total.Add(m); err != nil {
			return domain.Money{}, fmt.Errorf("accumulate realized pnl: %w", err)
		}
	}
	if err = rows.Err(); err != nil {
		return domain.Money{}, fmt.Errorf("error iterating realized pnl rows: %w", err)
	}
	return total, nil
}

// --- TradeRepository Implementation ---

const tradeColumns = `
	id, asset_id, COALESCE(signal_id, ''), COALESCE(position_id, ''), side,
	quantity, price, commission, total_value, status, executed_at`

// FindByID retrieves a visible trade by its unique ID.
func (r *Repository) FindTradeByID(ctx context.Context, id string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = ? AND deleted_at IS NULL`
	row := r.db.QueryRowContext(ctx, query, id)
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade %s: %w", id, err)
	}
	return trade, nil
}

// FindByPosition retrieves all visible trades applied to a position, in
// execution order.
func (r *Repository) FindByPosition(ctx context.Context, positionID string) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
	WHERE position_id = ? AND deleted_at IS NULL ORDER BY executed_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for position %s: %w", positionID, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade during FindByPosition: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// UpdateTradeStatus advances the settlement state of a visible trade.
func (r *Repository) UpdateTradeStatus(ctx context.Context, id string, status domain.TradeStatus) error {
	const query = `UPDATE trades SET status = ? WHERE id = ? AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update status for trade %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for trade %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("trade %s: %w", id, ports.ErrNotFound)
	}
	return nil
}

// SoftDelete hides a trade from reads by stamping deleted_at. The row itself
// is retained; the ledger never physically deletes.
func (r *Repository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE trades SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete trade %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for trade %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("trade %s: %w", id, ports.ErrNotFound)
	}
	return nil
}

// --- SignalRepository Implementation ---

// SaveSignal inserts or replaces a signal record.
func (r *Repository) SaveSignal(ctx context.Context, sig *domain.TradingSignal) error {
	linked, err := json.Marshal(sig.LinkedTradeIDs)
	if err != nil {
		return fmt.Errorf("failed to encode linked trades for signal %s: %w", sig.ID, err)
	}
	const query = `
	INSERT OR REPLACE INTO signals (id, strategy_id, asset_id, event_id, signal_type, confidence,
	                                target_price, stop_loss, take_profit, suggested_quantity,
	                                was_acted_upon, linked_trade_ids, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		sig.ID, sig.StrategyID, sig.AssetID, nullString(sig.EventID), string(sig.Type), sig.Confidence,
		nullMoney(sig.TargetPrice), nullMoney(sig.StopLoss), nullMoney(sig.TakeProfit),
		sig.SuggestedQuantity.String(), sig.WasActedUpon, string(linked), sig.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save signal %s: %w", sig.ID, err)
	}
	return nil
}

// FindSignalByID retrieves a signal by its unique ID.
func (r *Repository) FindSignalByID(ctx context.Context, id string) (*domain.TradingSignal, error) {
	const query = `
	SELECT id, strategy_id, asset_id, COALESCE(event_id, ''), signal_type, confidence,
	       target_price, stop_loss, take_profit, suggested_quantity,
	       was_acted_upon, linked_trade_ids, created_at
	FROM signals WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)

	sig := &domain.TradingSignal{}
	var sigType, qty, linked string
	var target, stop, take sql.NullString
	err := row.Scan(&sig.ID, &sig.StrategyID, &sig.AssetID, &sig.EventID, &sigType, &sig.Confidence,
		&target, &stop, &take, &qty, &sig.WasActedUpon, &linked, &sig.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query signal %s: %w", id, err)
	}
	sig.Type = domain.SignalType(sigType)
	if sig.SuggestedQuantity, err = domain.NewMoneyFromString(qty); err != nil {
		return nil, fmt.Errorf("stored suggested quantity %q: %w", qty, err)
	}
	if sig.TargetPrice, err = scanNullMoney(target); err != nil {
		return nil, fmt.Errorf("stored target price: %w", err)
	}
	if sig.StopLoss, err = scanNullMoney(stop); err != nil {
		return nil, fmt.Errorf("stored stop loss: %w", err)
	}
	if sig.TakeProfit, err = scanNullMoney(take); err != nil {
		return nil, fmt.Errorf("stored take profit: %w", err)
	}
	if err := json.Unmarshal([]byte(linked), &sig.LinkedTradeIDs); err != nil {
		return nil, fmt.Errorf("failed to decode linked trades for signal %s: %w", id, err)
	}
	return sig, nil
}

// --- AssetCatalog Implementation ---

// CreateAsset registers a new catalog entry.
func (r *Repository) CreateAsset(ctx context.Context, a *domain.Asset) error {
	meta, err := encodeAssetMetadata(a)
	if err != nil {
		return err
	}
	const query = `
	INSERT INTO assets (id, symbol, exchange, class, min_order_qty, active, metadata, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		a.ID, a.Symbol, a.Exchange, string(a.Class), a.MinOrderQty.String(), a.Active, meta, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert asset %s: %w", a.Symbol, err)
	}
	return nil
}

// ResolveAsset looks up an asset by ID or symbol.
func (r *Repository) ResolveAsset(ctx context.Context, symbolOrID string) (*domain.Asset, error) {
	const query = `
	SELECT id, symbol, exchange, class, min_order_qty, active, metadata, created_at
	FROM assets WHERE id = ? OR symbol = ? LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, symbolOrID, symbolOrID)

	a := &domain.Asset{}
	var class, qty string
	var meta sql.NullString
	err := row.Scan(&a.ID, &a.Symbol, &a.Exchange, &class, &qty, &a.Active, &meta, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query asset %s: %w", symbolOrID, err)
	}
	a.Class = domain.AssetClass(class)
	if a.MinOrderQty, err = domain.NewMoneyFromString(qty); err != nil {
		return nil, fmt.Errorf("stored min order qty %q: %w", qty, err)
	}
	if err := decodeAssetMetadata(a, meta); err != nil {
		return nil, err
	}
	return a, nil
}

// encodeAssetMetadata serializes the class-specific payload of the tagged
// variant, nil for classes without one.
func encodeAssetMetadata(a *domain.Asset) (interface{}, error) {
	switch a.Class {
	case domain.ClassOption:
		if a.Option == nil {
			return nil, nil
		}
		b, err := json.Marshal(a.Option)
		if err != nil {
			return nil, fmt.Errorf("failed to encode option metadata for %s: %w", a.Symbol, err)
		}
		return string(b), nil
	case domain.ClassPrediction:
		if a.Prediction == nil {
			return nil, nil
		}
		b, err := json.Marshal(a.Prediction)
		if err != nil {
			return nil, fmt.Errorf("failed to encode prediction metadata for %s: %w", a.Symbol, err)
		}
		return string(b), nil
	default:
		return nil, nil
	}
}

func decodeAssetMetadata(a *domain.Asset, meta sql.NullString) error {
	if !meta.Valid || meta.String == "" {
		return nil
	}
	switch a.Class {
	case domain.ClassOption:
		a.Option = &domain.OptionDetails{}
		if err := json.Unmarshal([]byte(meta.String), a.Option); err != nil {
			return fmt.Errorf("failed to decode option metadata for %s: %w", a.Symbol, err)
		}
	case domain.ClassPrediction:
		a.Prediction = &domain.PredictionDetails{}
		if err := json.Unmarshal([]byte(meta.String), a.Prediction); err != nil {
			return fmt.Errorf("failed to decode prediction metadata for %s: %w", a.Symbol, err)
		}
	}
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var side, status string
	var qty, rem, avg, basis, cur, mv, upnl, rpnl, comm string
	var stopLoss, takeProfit sql.NullString
	var closedAt, markedAt sql.NullTime
	err := s.Scan(&p.ID, &p.AssetID, &side, &qty, &rem, &avg, &basis, &cur, &markedAt, &mv, &upnl, &rpnl, &comm,
		&stopLoss, &takeProfit, &status, &p.OpenedAt, &closedAt, &p.Version)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	p.Side = domain.PositionSide(side)
	p.Status = domain.PositionStatus(status)
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	if markedAt.Valid {
		p.MarkedAt = markedAt.Time
	}
	fields := []struct {
		dst *domain.Money
		raw string
	}{
		{&p.Quantity, qty}, {&p.RemainingQuantity, rem}, {&p.AvgEntryPrice, avg},
		{&p.CostBasis, basis}, {&p.CurrentPrice, cur}, {&p.MarketValue, mv},
		{&p.UnrealizedPnL, upnl}, {&p.RealizedPnL, rpnl}, {&p.TotalCommissions, comm},
	}
	for _, f := range fields {
		m, err := domain.NewMoneyFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("stored decimal %q: %w", f.raw, err)
		}
		*f.dst = m
	}
	if p.StopLoss, err = scanNullMoney(stopLoss); err != nil {
		return nil, fmt.Errorf("stored stop loss: %w", err)
	}
	if p.TakeProfit, err = scanNullMoney(takeProfit); err != nil {
		return nil, fmt.Errorf("stored take profit: %w", err)
	}
	return p, nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side, status string
	var qty, price, comm, total string
	err := s.Scan(&t.ID, &t.AssetID, &t.SignalID, &t.PositionID, &side,
		&qty, &price, &comm, &total, &status, &t.ExecutedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.Side = domain.Side(side)
	t.Status = domain.TradeStatus(status)
	fields := []struct {
		dst *domain.Money
		raw string
	}{
		{&t.Quantity, qty}, {&t.Price, price}, {&t.Commission, comm}, {&t.TotalValue, total},
	}
	for _, f := range fields {
		m, err := domain.NewMoneyFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("stored decimal %q: %w", f.raw, err)
		}
		*f.dst = m
	}
	return t, nil
}

func nullMoney(m *domain.Money) interface{} {
	if m == nil {
		return nil
	}
	return m.String()
}

func scanNullMoney(s sql.NullString) (*domain.Money, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	m, err := domain.NewMoneyFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
