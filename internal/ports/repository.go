package ports

import (
	"context"
	"time"

	"tradeledger/internal/domain"
)

// LedgerStore commits the result of one fill application atomically: every
// touched position and every trade recorded against them are persisted
// together or not at all. A flip touches two positions and records two
// trades in the same commit.
//
// Position writes are version-checked: a position with Version 0 is
// inserted, any other is updated only if the stored version matches, and a
// mismatch is reported as ErrPersistenceConflict. On success the Version of
// each passed position is advanced in place.
type LedgerStore interface {
	CommitFill(ctx context.Context, positions []*domain.Position, trades []*domain.Trade) error
}

// PositionRepository defines the interface for storing and retrieving positions.
type PositionRepository interface {
	// Update modifies an existing position, version-checked like CommitFill.
	Update(ctx context.Context, pos *domain.Position) error
	// FindOpenByAsset retrieves the currently open position for an asset, if any.
	// Returns nil, nil if no open position is found.
	FindOpenByAsset(ctx context.Context, assetID string) (*domain.Position, error)
	// FindByID retrieves a position by its unique ID.
	// Returns nil, nil if not found.
	FindByID(ctx context.Context, id string) (*domain.Position, error)
	// FindAll retrieves all positions, ordered by opening time descending.
	FindAll(ctx context.Context) ([]*domain.Position, error)
	// TotalRealizedPnL sums realized PnL across all closed positions.
	TotalRealizedPnL(ctx context.Context) (domain.Money, error)
}

// TradeRepository defines the interface for the append-only trade audit trail.
// Reads apply the soft-delete visibility predicate: trades marked deleted are
// excluded unless stated otherwise.
type TradeRepository interface {
	// FindTradeByID retrieves a trade by its unique ID.
	// Returns nil, nil if not found or soft-deleted.
	FindTradeByID(ctx context.Context, id string) (*domain.Trade, error)
	// FindByPosition retrieves all visible trades applied to a position, in
	// execution order.
	FindByPosition(ctx context.Context, positionID string) ([]*domain.Trade, error)
	// UpdateTradeStatus advances the settlement state of a trade. Status is
	// the only field of a committed trade that ever changes.
	UpdateTradeStatus(ctx context.Context, id string, status domain.TradeStatus) error
	// SoftDelete hides a trade from reads. The row is retained; nothing is
	// ever physically removed.
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// SignalRepository stores externally produced trading signals. The ledger
// reads them and records acted-upon state via the linker.
type SignalRepository interface {
	// SaveSignal inserts or replaces a signal.
	SaveSignal(ctx context.Context, sig *domain.TradingSignal) error
	// FindSignalByID retrieves a signal by its unique ID.
	// Returns nil, nil if not found.
	FindSignalByID(ctx context.Context, id string) (*domain.TradingSignal, error)
}
