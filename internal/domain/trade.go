package domain

import (
	"fmt"
	"time"
)

// Trade represents a single executed fill. It is an immutable, append-only
// fact: corrections are recorded as new trades, never as in-place edits. Only
// Status advances (pending -> filled -> settled/cancelled).
type Trade struct {
	ID         string      // ULID; lexically ordered by creation time
	AssetID    string      // Asset this fill was executed against
	SignalID   string      // Originating signal, empty if none
	PositionID string      // Position the fill was applied to
	Side       Side        // BUY, SELL, SHORT or COVER
	Quantity   Money       // Executed quantity, > 0
	Price      Money       // Execution price, >= 0
	Commission Money       // Commission charged, >= 0
	TotalValue Money       // Notional adjusted by commission, see TradeTotalValue
	Status     TradeStatus // Settlement lifecycle state
	ExecutedAt time.Time   // Execution timestamp reported by the venue
}

// TradeTotalValue computes the stored total value of a fill: notional
// (quantity * price) plus commission on buy-side fills, minus commission on
// sell-side fills. Buys increase committed cost, sells decrease it.
func TradeTotalValue(side Side, quantity, price, commission Money) (Money, error) {
	notional, err := quantity.Mul(price)
	if err != nil {
		return Money{}, fmt.Errorf("trade notional: %w", err)
	}
	if side.Direction() > 0 {
		return notional.Add(commission)
	}
	return notional.Sub(commission)
}
