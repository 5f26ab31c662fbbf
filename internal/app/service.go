package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tradeledger/config"
	"tradeledger/internal/domain"
	"tradeledger/internal/ledger"
	"tradeledger/internal/ports"
	"tradeledger/internal/utils"
)

// LedgerService orchestrates the position ledger: it accepts executed fills,
// keeps signals linked to the trades that acted on them, and drives the
// lower-priority valuation stream that marks open positions to market.
type LedgerService struct {
	cfg       *config.Config
	logger    ports.Logger
	ledger    *ledger.Ledger
	linker    *ledger.Linker
	feed      ports.ValuationFeed
	catalog   ports.AssetCatalog
	positions ports.PositionRepository
	trades    ports.TradeRepository
}

// NewLedgerService creates a new application service instance.
func NewLedgerService(
	cfg *config.Config,
	logger ports.Logger,
	lgr *ledger.Ledger,
	linker *ledger.Linker,
	feed ports.ValuationFeed,
	catalog ports.AssetCatalog,
	positions ports.PositionRepository,
	trades ports.TradeRepository,
) (*LedgerService, error) {
	if cfg == nil || logger == nil || lgr == nil || linker == nil || feed == nil || catalog == nil || positions == nil || trades == nil {
		return nil, fmt.Errorf("missing required dependencies for LedgerService")
	}
	if cfg.ValuationInterval <= 0 {
		return nil, fmt.Errorf("configuration ValuationInterval must be positive")
	}
	return &LedgerService{
		cfg:       cfg,
		logger:    logger,
		ledger:    lgr,
		linker:    linker,
		feed:      feed,
		catalog:   catalog,
		positions: positions,
		trades:    trades,
	}, nil
}

// Start restores persisted position state and runs the valuation loop until
// the context is cancelled or a shutdown signal arrives. Fill submission is
// synchronous and independent of this loop; it never waits on valuation.
func (s *LedgerService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Ledger Service...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.restoreState(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.valuationLoop(gctx)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// restoreState seeds the in-memory ledger from the repository.
func (s *LedgerService) restoreState(ctx context.Context) error {
	positions, err := s.positions.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore position state: %w", err)
	}
	s.ledger.Restore(positions)
	open := 0
	for _, p := range positions {
		if p.IsOpen() {
			open++
		}
	}
	s.logger.Info(ctx, "Position state restored", map[string]interface{}{
		"positions": len(positions),
		"open":      open,
	})
	return nil
}

// SubmitFill validates a fill against the asset catalog and applies it to
// the ledger. When the fill references a signal, the resulting trade is
// linked to it after the fill commits; a link policy violation does not
// unwind the committed fill and is reported alongside the result.
func (s *LedgerService) SubmitFill(ctx context.Context, f ledger.Fill) (*ledger.FillResult, error) {
	if f.AssetID != "" {
		asset, err := s.catalog.ResolveAsset(ctx, f.AssetID)
		if err != nil {
			return nil, fmt.Errorf("resolve asset %s: %w", f.AssetID, err)
		}
		if asset == nil {
			return nil, fmt.Errorf("asset %s: %w", f.AssetID, ports.ErrNotFound)
		}
		if !asset.Active {
			return nil, fmt.Errorf("asset %s is inactive: %w", f.AssetID, ports.ErrInvalidFill)
		}
		if f.Quantity.Cmp(asset.MinOrderQty) < 0 {
			return nil, fmt.Errorf("quantity %s below minimum %s for asset %s: %w",
				f.Quantity, asset.MinOrderQty, f.AssetID, ports.ErrInvalidFill)
		}
	}

	res, err := s.ledger.ApplyFill(ctx, f)
	if err != nil {
		return nil, err
	}

	if f.SignalID != "" {
		if _, linkErr := s.linker.LinkTradeToSignal(ctx, f.SignalID, res.Trade.ID); linkErr != nil {
			s.logger.Warn(ctx, "Fill committed but signal link failed", map[string]interface{}{
				"signalID": f.SignalID,
				"tradeID":  res.Trade.ID,
				"error":    linkErr.Error(),
			})
			return res, fmt.Errorf("fill %s applied but signal link failed: %w", res.Trade.ID, linkErr)
		}
	}
	return res, nil
}

// ReconcileCorrection forwards a correction to the ledger.
func (s *LedgerService) ReconcileCorrection(ctx context.Context, originalTradeID string, c ledger.Correction) (*ledger.CorrectionResult, error) {
	return s.ledger.ReconcileCorrection(ctx, originalTradeID, c)
}

// AdvanceTradeStatus records settlement progress reported by the venue for a
// committed trade. Status is the only mutable field of a trade.
func (s *LedgerService) AdvanceTradeStatus(ctx context.Context, tradeID string, status domain.TradeStatus) error {
	if err := s.trades.UpdateTradeStatus(ctx, tradeID, status); err != nil {
		return fmt.Errorf("advance trade %s to %s: %w", tradeID, status, err)
	}
	s.logger.Debug(ctx, "Trade status advanced", map[string]interface{}{
		"tradeID": tradeID,
		"status":  string(status),
	})
	return nil
}

// ExportTrades writes a position's full audit trail, compensating trades
// included, to a CSV file.
func (s *LedgerService) ExportTrades(ctx context.Context, positionID, filename string) error {
	trades, err := s.trades.FindByPosition(ctx, positionID)
	if err != nil {
		return fmt.Errorf("load trades for position %s: %w", positionID, err)
	}
	if err := utils.WriteTradesToCSV(trades, filename); err != nil {
		return fmt.Errorf("export trades for position %s: %w", positionID, err)
	}
	s.logger.Info(ctx, "Trade audit trail exported", map[string]interface{}{
		"positionID": positionID,
		"trades":     len(trades),
		"file":       filename,
	})
	return nil
}

// valuationLoop marks open positions to market on a fixed interval. It runs
// at lower priority than fill application: busy positions are skipped and
// picked up on the next tick.
func (s *LedgerService) valuationLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ValuationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.markOpenPositions(ctx)
		}
	}
}

func (s *LedgerService) markOpenPositions(ctx context.Context) {
	now := time.Now().UTC()
	for _, pos := range s.ledger.OpenPositions() {
		asset, err := s.catalog.ResolveAsset(ctx, pos.AssetID)
		if err != nil || asset == nil {
			s.logger.Warn(ctx, "Skipping valuation, asset not resolvable", map[string]interface{}{
				"positionID": pos.ID,
				"assetID":    pos.AssetID,
			})
			continue
		}
		quote, err := s.feed.LatestPrice(ctx, asset.Symbol)
		if err != nil {
			s.logger.Warn(ctx, "Valuation feed lookup failed", map[string]interface{}{
				"symbol": asset.Symbol,
				"error":  err.Error(),
			})
			continue
		}
		if quote == nil {
			continue
		}
		if quote.Age(now) > s.cfg.ValuationMaxAge {
			s.logger.Debug(ctx, "Discarding stale quote", map[string]interface{}{
				"symbol": asset.Symbol,
				"age":    quote.Age(now).String(),
			})
			continue
		}
		if _, err := s.ledger.MarkToMarket(ctx, pos.ID, quote.Price); err != nil {
			if errors.Is(err, ports.ErrLedgerBusy) {
				continue // fill in flight wins, next tick retries
			}
			s.logger.Error(ctx, err, "Mark to market failed", map[string]interface{}{
				"positionID": pos.ID,
				"symbol":     asset.Symbol,
			})
		}
	}
}

// Summary aggregates current ledger metrics across all known positions.
func (s *LedgerService) Summary(ctx context.Context) (*ledger.Summary, error) {
	positions, err := s.positions.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions for summary: %w", err)
	}
	return ledger.Summarize(positions)
}
