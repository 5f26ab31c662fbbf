package domain

import "time"

// OptionRight distinguishes calls from puts.
type OptionRight string

const (
	CallOption OptionRight = "call"
	PutOption  OptionRight = "put"
)

// OptionDetails carries the class-specific metadata of an option contract.
type OptionDetails struct {
	Strike Money       `json:"strike"`
	Expiry time.Time   `json:"expiry"`
	Right  OptionRight `json:"right"`
}

// PredictionDetails carries the class-specific metadata of a
// prediction-market share.
type PredictionDetails struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"` // e.g. "YES" / "NO"
}

// Asset identifies a tradable instrument. Immutable once created except for
// the Active flag; owned by the external catalog. The class-specific payloads
// form a tagged variant: at most one of Option/Prediction is set, matching
// Class.
type Asset struct {
	ID          string     // Unique identifier (UUID)
	Symbol      string     // Instrument symbol (e.g. "ETHUSDT", "AAPL")
	Exchange    string     // Venue the asset trades on
	Class       AssetClass // equity, crypto, option, prediction_market
	MinOrderQty Money      // Minimum order quantity accepted by the venue
	Active      bool       // Whether new fills are accepted for this asset

	Option     *OptionDetails     // Set only when Class == ClassOption
	Prediction *PredictionDetails // Set only when Class == ClassPrediction

	CreatedAt time.Time
}
