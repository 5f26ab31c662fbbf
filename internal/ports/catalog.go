package ports

import (
	"context"

	"tradeledger/internal/domain"
)

// AssetCatalog resolves asset identity. Read-only from the ledger's point of
// view; the catalog itself is maintained externally.
type AssetCatalog interface {
	// ResolveAsset looks up an asset by ID or symbol.
	// Returns nil, nil if no matching asset exists.
	ResolveAsset(ctx context.Context, symbolOrID string) (*domain.Asset, error)
}
