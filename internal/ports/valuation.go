package ports

import (
	"context"

	"tradeledger/internal/domain"
)

// ValuationFeed supplies current market prices for unrealized PnL and market
// value computation. Pull-based; the returned quote carries its observation
// time so callers can enforce their own staleness limits.
type ValuationFeed interface {
	// LatestPrice retrieves the most recent price for a venue symbol.
	// Returns nil, nil when the symbol is unknown to the feed.
	LatestPrice(ctx context.Context, symbol string) (*domain.Quote, error)
}
