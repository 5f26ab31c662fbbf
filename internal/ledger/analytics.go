package ledger

import (
	"fmt"

	"tradeledger/internal/domain"
)

// Summary holds aggregate ledger metrics across a set of positions.
type Summary struct {
	TotalPositions   int
	OpenPositions    int
	ClosedPositions  int
	WinningPositions int // closed with positive realized PnL
	LosingPositions  int // closed with negative realized PnL
	WinRate          float64

	TotalRealizedPnL   domain.Money
	TotalUnrealizedPnL domain.Money
	TotalCommissions   domain.Money
	OpenExposure       domain.Money // sum of cost basis across open positions
}

// Summarize aggregates positions into a Summary. All monetary accumulation
// goes through the Money type.
func Summarize(positions []*domain.Position) (*Summary, error) {
	s := &Summary{}
	var err error
	for _, p := range positions {
		s.TotalPositions++
		if s.TotalRealizedPnL, err = s.TotalRealizedPnL.Add(p.RealizedPnL); err != nil {
			return nil, fmt.Errorf("realized pnl for %s: %w", p.ID, err)
		}
		if s.TotalCommissions, err = s.TotalCommissions.Add(p.TotalCommissions); err != nil {
			return nil, fmt.Errorf("commissions for %s: %w", p.ID, err)
		}
		if p.IsOpen() {
			s.OpenPositions++
			if s.TotalUnrealizedPnL, err = s.TotalUnrealizedPnL.Add(p.UnrealizedPnL); err != nil {
				return nil, fmt.Errorf("unrealized pnl for %s: %w", p.ID, err)
			}
			if s.OpenExposure, err = s.OpenExposure.Add(p.CostBasis); err != nil {
				return nil, fmt.Errorf("exposure for %s: %w", p.ID, err)
			}
			continue
		}
		s.ClosedPositions++
		switch {
		case p.RealizedPnL.IsPositive():
			s.WinningPositions++
		case p.RealizedPnL.IsNegative():
			s.LosingPositions++
		}
	}
	if s.ClosedPositions > 0 {
		s.WinRate = float64(s.WinningPositions) / float64(s.ClosedPositions)
	}
	return s, nil
}
