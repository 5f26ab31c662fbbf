package domain

import "time"

// TradingSignal is a strategy-generated recommendation. Signals are produced
// externally; the ledger only reads the type and records which trades acted
// on it. WasActedUpon becomes true on the first consuming trade and never
// reverts.
type TradingSignal struct {
	ID         string     // Unique identifier (UUID)
	StrategyID string     // Strategy that produced the signal
	AssetID    string     // Target asset
	EventID    string     // Prediction-market event, empty otherwise
	Type       SignalType // buy, sell, hold, close

	Confidence        float64 // Strategy confidence in [0,1]; not a monetary value
	TargetPrice       *Money
	StopLoss          *Money
	TakeProfit        *Money
	SuggestedQuantity Money

	WasActedUpon   bool
	LinkedTradeIDs []string // Trades that acted on this signal, in link order

	CreatedAt time.Time
}

// IsLinkedTo reports whether tradeID already acted on the signal.
func (s *TradingSignal) IsLinkedTo(tradeID string) bool {
	for _, id := range s.LinkedTradeIDs {
		if id == tradeID {
			return true
		}
	}
	return false
}
