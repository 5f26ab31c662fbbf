package ledger

import (
	"context"
	"fmt"
	"time"

	"tradeledger/internal/domain"
	"tradeledger/internal/ports"
)

// MarkToMarket records a new valuation price for a position and recomputes
// market value and unrealized PnL. On a closed position only the price is
// recorded for audit; PnL fields keep their last realized values.
//
// Valuation runs on a lower-priority stream than fills: if the position is
// busy applying a fill the call returns ErrLedgerBusy instead of blocking,
// and the caller simply drops the tick.
func (l *Ledger) MarkToMarket(ctx context.Context, positionID string, price domain.Money) (*domain.Position, error) {
	if price.IsNegative() {
		return nil, fmt.Errorf("price %s: %w", price, ports.ErrInvalidPrice)
	}

	l.mu.Lock()
	e := l.byID[positionID]
	l.mu.Unlock()
	if e == nil {
		return nil, fmt.Errorf("position %s: %w", positionID, ports.ErrPositionNotFound)
	}

	if !e.mu.TryLock() {
		return nil, fmt.Errorf("position %s: %w", positionID, ports.ErrLedgerBusy)
	}
	defer e.mu.Unlock()

	updated := e.pos.Clone()
	updated.CurrentPrice = price
	updated.MarkedAt = time.Now().UTC()
	if updated.IsOpen() {
		if err := refreshValuation(updated); err != nil {
			return nil, err
		}
	}

	if err := l.positions.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("persist valuation for position %s: %w", positionID, err)
	}

	l.mu.Lock()
	e.pos = updated
	l.mu.Unlock()

	l.logger.Debug(ctx, "Position marked to market", map[string]interface{}{
		"positionID": positionID,
		"price":      price.String(),
		"open":       updated.IsOpen(),
	})
	return updated.Clone(), nil
}

// Snapshot returns a consistent copy of a position's current state. Reads
// never block fill application beyond the pointer swap.
func (l *Ledger) Snapshot(positionID string) (*domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.byID[positionID]
	if e == nil || e.pos == nil {
		return nil, fmt.Errorf("position %s: %w", positionID, ports.ErrPositionNotFound)
	}
	return e.pos.Clone(), nil
}

// OpenPositions returns consistent copies of every currently open position.
func (l *Ledger) OpenPositions() []*domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*domain.Position, 0, len(l.openByAsset))
	for _, e := range l.openByAsset {
		if e.pos != nil {
			out = append(out, e.pos.Clone())
		}
	}
	return out
}
