package ledger

import (
	"context"
	"fmt"
	"time"

	"tradeledger/internal/domain"
	"tradeledger/internal/ports"
)

// CorrectionAction selects how a late-arriving correction is handled.
type CorrectionAction string

const (
	// ActionReverse backs out the original fill's effect.
	ActionReverse CorrectionAction = "reverse"
	// ActionReplace backs out the original fill and applies a corrected one.
	ActionReplace CorrectionAction = "replace"
)

// Correction describes a late correction against a committed trade.
type Correction struct {
	Action  CorrectionAction
	NewFill *Fill     // Corrected fill; required for ActionReplace
	At      time.Time // When the correction was accepted
}

// CorrectionResult reports both halves of a correction.
type CorrectionResult struct {
	Reversed *FillResult // The compensating application
	Applied  *FillResult // The corrected fill, nil for plain reversals
}

// ReconcileCorrection processes a correction of a previously committed trade.
// History is never mutated in place: a compensating trade equal and opposite
// to the original (same quantity, price and commission, inverse side) is
// appended to the audit trail, and the position is restored to the exact
// state it would hold had the original fill never been applied. A corrected
// replacement fill then goes through the normal ApplyFill path. The visible
// compensating pair in the audit trail is accepted, not hidden.
//
// Reversal is an exact inverse, so reversing a fill and re-applying it
// returns the position to its pre-correction state bit for bit.
func (l *Ledger) ReconcileCorrection(ctx context.Context, originalTradeID string, c Correction) (*CorrectionResult, error) {
	if c.Action == ActionReplace && c.NewFill == nil {
		return nil, fmt.Errorf("replace correction requires a new fill: %w", ports.ErrInvalidRequest)
	}

	orig, err := l.trades.FindTradeByID(ctx, originalTradeID)
	if err != nil {
		return nil, fmt.Errorf("load original trade %s: %w", originalTradeID, err)
	}
	if orig == nil {
		return nil, fmt.Errorf("trade %s: %w", originalTradeID, ports.ErrNotFound)
	}

	reversed, err := l.reverse(ctx, orig, c.At)
	if err != nil {
		return nil, err
	}
	res := &CorrectionResult{Reversed: reversed}

	if c.Action == ActionReplace {
		applied, err := l.ApplyFill(ctx, *c.NewFill)
		if err != nil {
			return res, fmt.Errorf("apply corrected fill: %w", err)
		}
		res.Applied = applied
	}
	return res, nil
}

// reverse backs out one committed trade from its position.
func (l *Ledger) reverse(ctx context.Context, orig *domain.Trade, at time.Time) (*FillResult, error) {
	l.mu.Lock()
	e := l.byID[orig.PositionID]
	l.mu.Unlock()
	if e == nil {
		return nil, fmt.Errorf("position %s: %w", orig.PositionID, ports.ErrPositionNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	updated := e.pos.Clone()
	wasOpen := updated.IsOpen()

	var err error
	if orig.Side.Direction() == updated.Side.Sign() {
		err = unwindIncrease(updated, orig)
	} else {
		err = unwindReduce(updated, orig)
	}
	if err != nil {
		return nil, &FillError{Snapshot: e.pos.Clone(), Err: err}
	}
	if updated.TotalCommissions, err = updated.TotalCommissions.Sub(orig.Commission); err != nil {
		return nil, &FillError{Snapshot: e.pos.Clone(), Err: fmt.Errorf("commissions: %w", err)}
	}
	if err = refreshStatus(updated, at); err != nil {
		return nil, &FillError{Snapshot: e.pos.Clone(), Err: err}
	}
	if err = refreshValuation(updated); err != nil {
		return nil, &FillError{Snapshot: e.pos.Clone(), Err: err}
	}

	comp, err := l.buildTrade(orig.PositionID, Fill{
		AssetID:    orig.AssetID,
		Side:       orig.Side.Inverse(),
		Price:      orig.Price,
		ExecutedAt: at,
	}, orig.Quantity, orig.Commission)
	if err != nil {
		return nil, &FillError{Snapshot: e.pos.Clone(), Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, &FillError{Snapshot: e.pos.Clone(), Err: fmt.Errorf("%w: %v", ports.ErrContextCanceled, err)}
	}
	if err := l.store.CommitFill(ctx, []*domain.Position{updated}, []*domain.Trade{comp}); err != nil {
		return nil, &FillError{Snapshot: e.pos.Clone(), Err: fmt.Errorf("commit reversal: %w", err)}
	}

	l.mu.Lock()
	e.pos = updated
	if wasOpen && !updated.IsOpen() {
		if cur := l.openByAsset[updated.AssetID]; cur == e {
			delete(l.openByAsset, updated.AssetID)
		}
	}
	if !wasOpen && updated.IsOpen() {
		// Reversal reopened a closed position. If a newer position opened for
		// the asset in the meantime it keeps the open slot; the reopened one
		// stays addressable by ID only.
		if _, taken := l.openByAsset[updated.AssetID]; !taken {
			l.openByAsset[updated.AssetID] = e
		} else {
			l.logger.Warn(ctx, "Reversal reopened a position while a newer one is open for the asset", map[string]interface{}{
				"positionID": updated.ID,
				"assetID":    updated.AssetID,
			})
		}
	}
	l.mu.Unlock()

	l.logger.Info(ctx, "Trade reversed", map[string]interface{}{
		"originalTradeID": orig.ID,
		"compensatingID":  comp.ID,
		"positionID":      updated.ID,
	})
	return &FillResult{Position: updated.Clone(), Trade: comp}, nil
}

// unwindIncrease removes an opening/increasing fill: the quantity leaves both
// totals at the original fill price, restoring the prior weighted average.
func unwindIncrease(p *domain.Position, orig *domain.Trade) error {
	newRemaining, err := p.RemainingQuantity.Sub(orig.Quantity)
	if err != nil {
		return fmt.Errorf("remaining quantity: %w", err)
	}
	if newRemaining.IsNegative() {
		return fmt.Errorf("cannot reverse trade %s: %s of its quantity was already closed: %w",
			orig.ID, p.RemainingQuantity, ports.ErrInvalidRequest)
	}
	newQuantity, err := p.Quantity.Sub(orig.Quantity)
	if err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	fillCost, err := orig.Quantity.Mul(orig.Price)
	if err != nil {
		return fmt.Errorf("fill cost: %w", err)
	}
	newBasis, err := p.CostBasis.Sub(fillCost)
	if err != nil {
		return fmt.Errorf("cost basis: %w", err)
	}
	if newRemaining.IsZero() {
		p.AvgEntryPrice = domain.Zero()
		p.CostBasis = domain.Zero()
	} else {
		avg, err := newBasis.DivRound(newRemaining)
		if err != nil {
			return fmt.Errorf("average entry price: %w", err)
		}
		p.AvgEntryPrice = avg
		if p.CostBasis, err = avg.Mul(newRemaining); err != nil {
			return fmt.Errorf("cost basis: %w", err)
		}
	}
	p.Quantity = newQuantity
	p.RemainingQuantity = newRemaining
	return nil
}

// unwindReduce restores a closing fill's quantity at the stored average and
// backs out the realized PnL it booked.
func unwindReduce(p *domain.Position, orig *domain.Trade) error {
	restored, err := p.RemainingQuantity.Add(orig.Quantity)
	if err != nil {
		return fmt.Errorf("remaining quantity: %w", err)
	}
	if restored.Cmp(p.Quantity) > 0 {
		return fmt.Errorf("cannot reverse trade %s: restored quantity %s exceeds position quantity %s: %w",
			orig.ID, restored, p.Quantity, ports.ErrInvalidRequest)
	}
	booked, err := realizedOn(p, orig.Quantity, orig.Price)
	if err != nil {
		return err
	}
	if p.RealizedPnL, err = p.RealizedPnL.Sub(booked); err != nil {
		return fmt.Errorf("realized pnl: %w", err)
	}
	p.RemainingQuantity = restored
	if p.CostBasis, err = p.AvgEntryPrice.Mul(restored); err != nil {
		return fmt.Errorf("cost basis: %w", err)
	}
	return nil
}
