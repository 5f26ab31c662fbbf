package ledger

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"tradeledger/internal/domain"
	"tradeledger/internal/ports"
)

// Fill describes one executed fill submitted to the ledger. Fills are applied
// one at a time, synchronously, in submission order; the ledger never
// reorders fills that share an ExecutedAt timestamp.
type Fill struct {
	PositionID string // Explicit position reference, empty to auto-resolve by asset
	AssetID    string // Asset the fill was executed against
	SignalID   string // Originating signal, empty if none
	Side       domain.Side
	Quantity   domain.Money // Must be > 0
	Price      domain.Money // Must be >= 0
	Commission domain.Money // Must be >= 0
	ExecutedAt time.Time
}

// FillResult reports the outcome of one applied fill. When the fill flipped
// the position (closed it and opened one in the opposite direction), Flip
// describes the newly opened position and its opening trade.
type FillResult struct {
	Position *domain.Position
	Trade    *domain.Trade
	Flip     *FillResult
}

// FillError is returned when a fill application fails after a position was
// resolved. Snapshot holds the position exactly as it was before the failed
// application (nil when the fill would have opened a new position), so
// callers can decide whether to retry, compensate or alert.
type FillError struct {
	Snapshot *domain.Position
	Err      error
}

func (e *FillError) Error() string { return e.Err.Error() }
func (e *FillError) Unwrap() error { return e.Err }

// entry pairs a position with the mutex serializing its mutations. A nil pos
// marks a position whose opening fill is still being committed.
type entry struct {
	mu  sync.Mutex
	pos *domain.Position
}

// Ledger folds executed fills into position state. All mutating operations on
// one position are serialized by a per-position lock; state is computed on a
// copy, persisted, and only then published (compute -> persist -> acknowledge),
// so a failed or cancelled application leaves the in-memory position unchanged.
type Ledger struct {
	store     ports.LedgerStore
	positions ports.PositionRepository
	trades    ports.TradeRepository
	logger    ports.Logger

	// mu guards the indexes and every e.pos pointer swap. Reads take mu and
	// clone; writers hold the entry lock for the duration of the mutation and
	// mu only for the final swap.
	mu          sync.Mutex
	byID        map[string]*entry
	openByAsset map[string]*entry

	ulidMu  sync.Mutex
	entropy io.Reader
}

// Config holds the dependencies for a Ledger.
type Config struct {
	Store     ports.LedgerStore
	Positions ports.PositionRepository
	Trades    ports.TradeRepository
	Logger    ports.Logger
}

// New creates a Ledger. All dependencies are required.
func New(cfg Config) (*Ledger, error) {
	if cfg.Store == nil || cfg.Positions == nil || cfg.Trades == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Ledger")
	}
	return &Ledger{
		store:       cfg.Store,
		positions:   cfg.Positions,
		trades:      cfg.Trades,
		logger:      cfg.Logger,
		byID:        make(map[string]*entry),
		openByAsset: make(map[string]*entry),
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// Restore seeds the in-memory index from previously persisted positions.
// Call once at startup before accepting fills. When several open positions
// exist for one asset (a reversal reopened an older one), the newest keeps
// the auto-resolution slot regardless of input order.
func (l *Ledger) Restore(positions []*domain.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range positions {
		e := &entry{pos: p.Clone()}
		l.byID[p.ID] = e
		if !p.IsOpen() {
			continue
		}
		if cur := l.openByAsset[p.AssetID]; cur == nil || cur.pos.OpenedAt.Before(p.OpenedAt) {
			l.openByAsset[p.AssetID] = e
		}
	}
}

func (f *Fill) validate() error {
	if !f.Side.IsValid() {
		return fmt.Errorf("unknown side %q: %w", f.Side, ports.ErrInvalidFill)
	}
	if !f.Quantity.IsPositive() {
		return fmt.Errorf("quantity %s: %w", f.Quantity, ports.ErrInvalidFill)
	}
	if f.Price.IsNegative() {
		return fmt.Errorf("price %s: %w", f.Price, ports.ErrInvalidFill)
	}
	if f.Commission.IsNegative() {
		return fmt.Errorf("commission %s: %w", f.Commission, ports.ErrInvalidFill)
	}
	if f.AssetID == "" && f.PositionID == "" {
		return fmt.Errorf("asset or position reference required: %w", ports.ErrInvalidFill)
	}
	return nil
}

// newTradeID issues a ULID for a trade. ULIDs sort lexically by creation
// time, which keeps the audit trail naturally ordered.
func (l *Ledger) newTradeID() (string, error) {
	l.ulidMu.Lock()
	defer l.ulidMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), l.entropy)
	if err != nil {
		return "", fmt.Errorf("generate trade id: %w", err)
	}
	return id.String(), nil
}

// ApplyFill applies one executed fill to the ledger and returns the affected
// position and the immutable trade record created for it.
//
// With no explicit position reference, the fill targets the currently open
// position for its asset, opening a new one if none exists. With an explicit
// reference, the referenced position must exist and be open. An
// opposite-direction fill larger than the remaining quantity closes the
// position and opens a fresh one in the opposite direction for the excess;
// the two positions never merge.
func (l *Ledger) ApplyFill(ctx context.Context, f Fill) (*FillResult, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}

	for {
		e, created, err := l.resolveEntry(f)
		if err != nil {
			return nil, err
		}
		if !created {
			e.mu.Lock()
			// The entry may have changed between index lookup and lock
			// acquisition: an auto-resolved position may have been closed,
			// or a placeholder creation may have failed.
			if f.PositionID == "" && (e.pos == nil || !e.pos.IsOpen()) {
				e.mu.Unlock()
				continue
			}
			if f.PositionID != "" && !e.pos.IsOpen() {
				snap := e.pos.Clone()
				e.mu.Unlock()
				return nil, &FillError{Snapshot: snap, Err: fmt.Errorf("position %s is closed: %w", f.PositionID, ports.ErrPositionNotFound)}
			}
			if f.PositionID != "" && f.AssetID != "" && e.pos.AssetID != f.AssetID {
				snap := e.pos.Clone()
				e.mu.Unlock()
				return nil, &FillError{Snapshot: snap, Err: fmt.Errorf("fill asset %s does not match position asset %s: %w", f.AssetID, e.pos.AssetID, ports.ErrInvalidFill)}
			}
		}
		res, err := l.applyLocked(ctx, e, created, f)
		e.mu.Unlock()
		return res, err
	}
}

// resolveEntry locates the entry a fill targets. When the fill opens a new
// position it publishes a locked placeholder so concurrent first fills for
// the same asset serialize behind it.
func (l *Ledger) resolveEntry(f Fill) (e *entry, created bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f.PositionID != "" {
		e = l.byID[f.PositionID]
		if e == nil {
			return nil, false, fmt.Errorf("position %s: %w", f.PositionID, ports.ErrPositionNotFound)
		}
		return e, false, nil
	}
	if e = l.openByAsset[f.AssetID]; e != nil {
		return e, false, nil
	}
	e = &entry{}
	e.mu.Lock() // released by the caller after the opening fill commits or fails
	l.openByAsset[f.AssetID] = e
	return e, true, nil
}

// applyLocked computes the fill effect on clones, persists atomically, then
// publishes. Caller holds e.mu.
func (l *Ledger) applyLocked(ctx context.Context, e *entry, created bool, f Fill) (*FillResult, error) {
	fail := func(err error) (*FillResult, error) {
		var snap *domain.Position
		if e.pos != nil {
			snap = e.pos.Clone()
		}
		if created {
			l.mu.Lock()
			delete(l.openByAsset, f.AssetID)
			l.mu.Unlock()
		}
		return nil, &FillError{Snapshot: snap, Err: err}
	}

	var (
		positions []*domain.Position
		trades    []*domain.Trade
		result    *FillResult
		flipPos   *domain.Position
		err       error
	)
	if created {
		var p *domain.Position
		var t *domain.Trade
		p, t, err = l.openPosition(f, f.Quantity, f.Commission)
		if err != nil {
			return fail(err)
		}
		positions, trades = []*domain.Position{p}, []*domain.Trade{t}
		result = &FillResult{Position: p, Trade: t}
	} else {
		updated := e.pos.Clone()
		if f.Side.Direction() == updated.Side.Sign() {
			var t *domain.Trade
			t, err = l.increase(updated, f)
			if err != nil {
				return fail(err)
			}
			positions, trades = []*domain.Position{updated}, []*domain.Trade{t}
			result = &FillResult{Position: updated, Trade: t}
		} else {
			var closeTrade, openTrade *domain.Trade
			closeTrade, flipPos, openTrade, err = l.reduce(updated, f)
			if err != nil {
				return fail(err)
			}
			positions, trades = []*domain.Position{updated}, []*domain.Trade{closeTrade}
			result = &FillResult{Position: updated, Trade: closeTrade}
			if flipPos != nil {
				positions = append(positions, flipPos)
				trades = append(trades, openTrade)
				result.Flip = &FillResult{Position: flipPos, Trade: openTrade}
			}
		}
	}

	// All-or-nothing: a cancelled context aborts before any state is written.
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("%w: %v", ports.ErrContextCanceled, err))
	}
	if err := l.store.CommitFill(ctx, positions, trades); err != nil {
		return fail(fmt.Errorf("commit fill: %w", err))
	}

	// Publish under mu so snapshot readers see a consistent pointer.
	l.mu.Lock()
	primary := positions[0]
	e.pos = primary
	l.byID[primary.ID] = e
	if !primary.IsOpen() {
		if cur := l.openByAsset[primary.AssetID]; cur == e {
			delete(l.openByAsset, primary.AssetID)
		}
	}
	if flipPos != nil {
		fe := &entry{pos: flipPos}
		l.byID[flipPos.ID] = fe
		l.openByAsset[flipPos.AssetID] = fe
	}
	l.mu.Unlock()

	l.logger.Debug(ctx, "Fill applied", map[string]interface{}{
		"positionID": primary.ID,
		"tradeID":    result.Trade.ID,
		"side":       string(f.Side),
		"quantity":   f.Quantity.String(),
		"price":      f.Price.String(),
		"flipped":    flipPos != nil,
	})
	return cloneResult(result), nil
}

// openPosition builds a brand-new position and its opening trade.
func (l *Ledger) openPosition(f Fill, quantity, commission domain.Money) (*domain.Position, *domain.Trade, error) {
	side := domain.LongPosition
	if f.Side.Direction() < 0 {
		side = domain.ShortPosition
	}
	basis, err := quantity.Mul(f.Price)
	if err != nil {
		return nil, nil, fmt.Errorf("cost basis: %w", err)
	}
	p := &domain.Position{
		ID:                uuid.NewString(),
		AssetID:           f.AssetID,
		Side:              side,
		Quantity:          quantity,
		RemainingQuantity: quantity,
		AvgEntryPrice:     f.Price,
		CostBasis:         basis,
		TotalCommissions:  commission,
		Status:            domain.StatusOpen,
		OpenedAt:          f.ExecutedAt,
	}
	t, err := l.buildTrade(p.ID, f, quantity, commission)
	if err != nil {
		return nil, nil, err
	}
	return p, t, nil
}

// increase applies a same-direction fill: weighted-average entry price, both
// quantities grow, basis recomputed from the new average.
func (l *Ledger) increase(p *domain.Position, f Fill) (*domain.Trade, error) {
	fillCost, err := f.Quantity.Mul(f.Price)
	if err != nil {
		return nil, fmt.Errorf("fill cost: %w", err)
	}
	totalCost, err := p.CostBasis.Add(fillCost)
	if err != nil {
		return nil, fmt.Errorf("total cost: %w", err)
	}
	newRemaining, err := p.RemainingQuantity.Add(f.Quantity)
	if err != nil {
		return nil, fmt.Errorf("remaining quantity: %w", err)
	}
	avg, err := totalCost.DivRound(newRemaining)
	if err != nil {
		return nil, fmt.Errorf("average entry price: %w", err)
	}
	if p.Quantity, err = p.Quantity.Add(f.Quantity); err != nil {
		return nil, fmt.Errorf("quantity: %w", err)
	}
	p.RemainingQuantity = newRemaining
	p.AvgEntryPrice = avg
	if p.CostBasis, err = avg.Mul(newRemaining); err != nil {
		return nil, fmt.Errorf("cost basis: %w", err)
	}
	if p.TotalCommissions, err = p.TotalCommissions.Add(f.Commission); err != nil {
		return nil, fmt.Errorf("commissions: %w", err)
	}
	if err = refreshStatus(p, f.ExecutedAt); err != nil {
		return nil, err
	}
	if err = refreshValuation(p); err != nil {
		return nil, err
	}
	return l.buildTrade(p.ID, f, f.Quantity, f.Commission)
}

// reduce applies an opposite-direction fill: realizes PnL on the closed
// quantity and, when the fill exceeds the remaining quantity, flips the
// excess into a fresh opposite-side position that never merges with the one
// just closed. The full commission is booked against the reduced position.
func (l *Ledger) reduce(p *domain.Position, f Fill) (closeTrade *domain.Trade, flip *domain.Position, openTrade *domain.Trade, err error) {
	closedQty := f.Quantity.Min(p.RemainingQuantity)

	pnl, err := realizedOn(p, closedQty, f.Price)
	if err != nil {
		return nil, nil, nil, err
	}
	if p.RealizedPnL, err = p.RealizedPnL.Add(pnl); err != nil {
		return nil, nil, nil, fmt.Errorf("realized pnl: %w", err)
	}
	if p.RemainingQuantity, err = p.RemainingQuantity.Sub(closedQty); err != nil {
		return nil, nil, nil, fmt.Errorf("remaining quantity: %w", err)
	}
	if p.CostBasis, err = p.AvgEntryPrice.Mul(p.RemainingQuantity); err != nil {
		return nil, nil, nil, fmt.Errorf("cost basis: %w", err)
	}
	if p.TotalCommissions, err = p.TotalCommissions.Add(f.Commission); err != nil {
		return nil, nil, nil, fmt.Errorf("commissions: %w", err)
	}
	if err = refreshStatus(p, f.ExecutedAt); err != nil {
		return nil, nil, nil, err
	}
	if err = refreshValuation(p); err != nil {
		return nil, nil, nil, err
	}
	if closeTrade, err = l.buildTrade(p.ID, f, closedQty, f.Commission); err != nil {
		return nil, nil, nil, err
	}

	excess, err := f.Quantity.Sub(closedQty)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("excess quantity: %w", err)
	}
	if excess.IsPositive() {
		flip, openTrade, err = l.openPosition(f, excess, domain.Zero())
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return closeTrade, flip, openTrade, nil
}

// realizedOn computes closedQty * (price - avgEntry) * sideSign.
func realizedOn(p *domain.Position, closedQty, price domain.Money) (domain.Money, error) {
	diff, err := price.Sub(p.AvgEntryPrice)
	if err != nil {
		return domain.Money{}, fmt.Errorf("price diff: %w", err)
	}
	pnl, err := closedQty.Mul(diff)
	if err != nil {
		return domain.Money{}, fmt.Errorf("realized pnl: %w", err)
	}
	if p.Side.Sign() < 0 {
		pnl = pnl.Neg()
	}
	return pnl, nil
}

// refreshStatus derives the lifecycle status from the quantities. ClosedAt is
// set exactly once, at the first transition to closed, and never cleared.
func refreshStatus(p *domain.Position, at time.Time) error {
	switch {
	case p.RemainingQuantity.IsNegative():
		return fmt.Errorf("remaining quantity %s went negative: %w", p.RemainingQuantity, ports.ErrInvalidFill)
	case p.RemainingQuantity.IsZero():
		p.Status = domain.StatusClosed
		if p.ClosedAt.IsZero() {
			p.ClosedAt = at
		}
	case p.RemainingQuantity.Cmp(p.Quantity) < 0:
		p.Status = domain.StatusPartiallyClosed
	default:
		p.Status = domain.StatusOpen
	}
	return nil
}

// refreshValuation recomputes market value and unrealized PnL against the
// last seen valuation price. Positions that were never marked are skipped;
// a marked price of exactly zero is a real valuation (shares can expire
// worthless) and recomputes like any other.
func refreshValuation(p *domain.Position) error {
	if p.MarkedAt.IsZero() {
		return nil
	}
	mv, err := p.RemainingQuantity.Mul(p.CurrentPrice)
	if err != nil {
		return fmt.Errorf("market value: %w", err)
	}
	diff, err := p.CurrentPrice.Sub(p.AvgEntryPrice)
	if err != nil {
		return fmt.Errorf("valuation diff: %w", err)
	}
	upnl, err := p.RemainingQuantity.Mul(diff)
	if err != nil {
		return fmt.Errorf("unrealized pnl: %w", err)
	}
	if p.Side.Sign() < 0 {
		upnl = upnl.Neg()
	}
	p.MarketValue = mv
	p.UnrealizedPnL = upnl
	return nil
}

func (l *Ledger) buildTrade(positionID string, f Fill, quantity, commission domain.Money) (*domain.Trade, error) {
	id, err := l.newTradeID()
	if err != nil {
		return nil, err
	}
	total, err := domain.TradeTotalValue(f.Side, quantity, f.Price, commission)
	if err != nil {
		return nil, err
	}
	return &domain.Trade{
		ID:         id,
		AssetID:    f.AssetID,
		SignalID:   f.SignalID,
		PositionID: positionID,
		Side:       f.Side,
		Quantity:   quantity,
		Price:      f.Price,
		Commission: commission,
		TotalValue: total,
		Status:     domain.TradeFilled,
		ExecutedAt: f.ExecutedAt,
	}, nil
}

func cloneResult(r *FillResult) *FillResult {
	if r == nil {
		return nil
	}
	c := &FillResult{Position: r.Position.Clone(), Trade: r.Trade}
	c.Flip = cloneResult(r.Flip)
	return c
}
