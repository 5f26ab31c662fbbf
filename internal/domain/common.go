package domain

// Side represents the side of an executed fill.
type Side string

const (
	Buy   Side = "BUY"
	Sell  Side = "SELL"
	Short Side = "SHORT"
	Cover Side = "COVER"
)

// Direction returns +1 for buy-side fills (Buy, Cover) and -1 for sell-side
// fills (Sell, Short).
func (s Side) Direction() int {
	switch s {
	case Buy, Cover:
		return 1
	case Sell, Short:
		return -1
	default:
		return 0
	}
}

// Inverse returns the side that exactly offsets s.
func (s Side) Inverse() Side {
	switch s {
	case Buy:
		return Sell
	case Sell:
		return Buy
	case Short:
		return Cover
	case Cover:
		return Short
	default:
		return s
	}
}

// IsValid reports whether s is one of the known sides.
func (s Side) IsValid() bool { return s.Direction() != 0 }

// PositionSide represents the direction of an open position.
type PositionSide string

const (
	LongPosition  PositionSide = "long"
	ShortPosition PositionSide = "short"
)

// Sign returns +1 for long positions and -1 for short positions.
func (s PositionSide) Sign() int {
	if s == ShortPosition {
		return -1
	}
	return 1
}

// PositionStatus represents the status of a trading position.
type PositionStatus string

const (
	StatusOpen            PositionStatus = "open"
	StatusPartiallyClosed PositionStatus = "partially_closed"
	StatusClosed          PositionStatus = "closed"
)

// TradeStatus tracks the settlement lifecycle of a trade record. The record
// itself is immutable once committed; only this field advances.
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeFilled    TradeStatus = "filled"
	TradeSettled   TradeStatus = "settled"
	TradeCancelled TradeStatus = "cancelled"
)

// SignalType classifies a strategy-generated trading signal.
type SignalType string

const (
	SignalBuy   SignalType = "buy"
	SignalSell  SignalType = "sell"
	SignalHold  SignalType = "hold"
	SignalClose SignalType = "close"
)

// AssetClass identifies the instrument class of an asset. Ledger arithmetic
// is class-agnostic; the class only drives catalog metadata.
type AssetClass string

const (
	ClassEquity     AssetClass = "equity"
	ClassCrypto     AssetClass = "crypto"
	ClassOption     AssetClass = "option"
	ClassPrediction AssetClass = "prediction_market"
)
