package domain

import "time"

// Position is the mutable aggregate folding executed fills for one asset into
// quantity, weighted-average entry price, cost basis and PnL. One open
// position exists per asset at a time; closed positions are retained for
// audit and never deleted.
//
// Invariants maintained by the ledger:
//   - 0 <= RemainingQuantity <= Quantity
//   - CostBasis = AvgEntryPrice * RemainingQuantity
//   - Status == StatusClosed iff RemainingQuantity == 0
//   - ClosedAt is set at the transition to closed and never cleared
type Position struct {
	ID                string         // Unique identifier (UUID)
	AssetID           string         // Asset this position is held in
	Side              PositionSide   // long or short
	Quantity          Money          // Cumulative opened quantity
	RemainingQuantity Money          // Quantity still open
	AvgEntryPrice     Money          // Weighted-average entry price
	CostBasis         Money          // AvgEntryPrice * RemainingQuantity
	CurrentPrice      Money          // Last valuation price seen; meaningful only when MarkedAt is set
	MarkedAt          time.Time      // When the last valuation was recorded; zero until first marked
	MarketValue       Money          // RemainingQuantity * CurrentPrice
	UnrealizedPnL     Money          // Mark-to-market PnL on the open quantity
	RealizedPnL       Money          // PnL locked in by reducing fills
	TotalCommissions  Money          // Sum of commissions across all fills
	StopLoss          *Money         // Optional protective stop level
	TakeProfit        *Money         // Optional profit target level
	Status            PositionStatus // open, partially_closed, closed
	OpenedAt          time.Time      // Timestamp of the opening fill
	ClosedAt          time.Time      // Zero until the first transition to closed; never cleared
	Version           int64          // Optimistic-concurrency version, 0 until first persisted
}

// IsOpen reports whether the position still has open quantity.
func (p *Position) IsOpen() bool {
	return p.Status != StatusClosed
}

// Clone returns a deep copy. The ledger mutates clones and publishes them
// only after the storage commit succeeds.
func (p *Position) Clone() *Position {
	c := *p
	if p.StopLoss != nil {
		sl := *p.StopLoss
		c.StopLoss = &sl
	}
	if p.TakeProfit != nil {
		tp := *p.TakeProfit
		c.TakeProfit = &tp
	}
	return &c
}
