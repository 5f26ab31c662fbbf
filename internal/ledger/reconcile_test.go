package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeledger/internal/domain"
	"tradeledger/internal/ports"
)

func TestReconcileCorrection_ReverseRestoresExactState(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	res, err := l.ApplyFill(ctx, fillAt(domain.Buy, "10", "100", "1", t0))
	require.NoError(t, err)
	posID := res.Position.ID

	sellRes, err := l.ApplyFill(ctx, fillAt(domain.Sell, "4", "120", "0.5", t0.Add(time.Minute)))
	require.NoError(t, err)
	assertMoney(t, "80", sellRes.Position.RealizedPnL)

	cr, err := l.ReconcileCorrection(ctx, sellRes.Trade.ID, Correction{
		Action: ActionReverse,
		At:     t0.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	require.NotNil(t, cr.Reversed)
	assert.Nil(t, cr.Applied)

	// Position is back to the state before the reversed sale.
	pos := cr.Reversed.Position
	assert.Equal(t, posID, pos.ID)
	assertMoney(t, "10", pos.RemainingQuantity)
	assertMoney(t, "10", pos.Quantity)
	assertMoney(t, "100", pos.AvgEntryPrice)
	assertMoney(t, "1000", pos.CostBasis)
	assertMoney(t, "0", pos.RealizedPnL)
	assertMoney(t, "1", pos.TotalCommissions)
	assert.Equal(t, domain.StatusOpen, pos.Status)
	checkInvariants(t, pos)

	// The compensating trade is visible, equal and opposite to the original.
	comp := cr.Reversed.Trade
	assert.Equal(t, domain.Buy, comp.Side)
	assertMoney(t, "4", comp.Quantity)
	assertMoney(t, "120", comp.Price)
	assertMoney(t, "0.5", comp.Commission)
	assert.NotEqual(t, sellRes.Trade.ID, comp.ID)
}

func TestReconcileCorrection_ReverseThenReapplyRoundTrips(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyFill(ctx, fillAt(domain.Buy, "10", "100", "0", t0))
	require.NoError(t, err)
	sellFill := fillAt(domain.Sell, "4", "120", "0.5", t0.Add(time.Minute))
	sellRes, err := l.ApplyFill(ctx, sellFill)
	require.NoError(t, err)
	before := sellRes.Position

	_, err = l.ReconcileCorrection(ctx, sellRes.Trade.ID, Correction{Action: ActionReverse, At: t0.Add(2 * time.Minute)})
	require.NoError(t, err)

	after, err := l.ApplyFill(ctx, sellFill)
	require.NoError(t, err)

	assert.True(t, before.RemainingQuantity.Equal(after.Position.RemainingQuantity))
	assert.True(t, before.AvgEntryPrice.Equal(after.Position.AvgEntryPrice))
	assert.True(t, before.CostBasis.Equal(after.Position.CostBasis))
	assert.True(t, before.RealizedPnL.Equal(after.Position.RealizedPnL))
	assert.True(t, before.TotalCommissions.Equal(after.Position.TotalCommissions))
	assert.Equal(t, before.Status, after.Position.Status)
}

func TestReconcileCorrection_ReverseIncreasingFill(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyFill(ctx, fillAt(domain.Buy, "10", "100", "0", t0))
	require.NoError(t, err)
	addRes, err := l.ApplyFill(ctx, fillAt(domain.Buy, "10", "110", "0", t0.Add(time.Minute)))
	require.NoError(t, err)
	assertMoney(t, "105", addRes.Position.AvgEntryPrice)

	cr, err := l.ReconcileCorrection(ctx, addRes.Trade.ID, Correction{Action: ActionReverse, At: t0.Add(2 * time.Minute)})
	require.NoError(t, err)

	pos := cr.Reversed.Position
	assertMoney(t, "10", pos.Quantity)
	assertMoney(t, "10", pos.RemainingQuantity)
	assertMoney(t, "100", pos.AvgEntryPrice)
	assertMoney(t, "1000", pos.CostBasis)
	checkInvariants(t, pos)
	assert.Equal(t, domain.Sell, cr.Reversed.Trade.Side)
}

func TestReconcileCorrection_ReverseReopensClosedPosition(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	openRes, err := l.ApplyFill(ctx, fillAt(domain.Buy, "10", "100", "0", t0))
	require.NoError(t, err)
	closeRes, err := l.ApplyFill(ctx, fillAt(domain.Sell, "10", "120", "0", t0.Add(time.Minute)))
	require.NoError(t, err)
	require.Equal(t, domain.StatusClosed, closeRes.Position.Status)

	cr, err := l.ReconcileCorrection(ctx, closeRes.Trade.ID, Correction{Action: ActionReverse, At: t0.Add(2 * time.Minute)})
	require.NoError(t, err)

	pos := cr.Reversed.Position
	assert.Equal(t, openRes.Position.ID, pos.ID)
	assert.Equal(t, domain.StatusOpen, pos.Status)
	assertMoney(t, "10", pos.RemainingQuantity)
	assertMoney(t, "0", pos.RealizedPnL)

	// The reopened position owns the asset's open slot again.
	next, err := l.ApplyFill(ctx, fillAt(domain.Sell, "10", "130", "0", t0.Add(3*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, pos.ID, next.Position.ID)
	assertMoney(t, "300", next.Position.RealizedPnL)
}

func TestReconcileCorrection_ReopenYieldsSlotToNewerPosition(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyFill(ctx, fillAt(domain.Buy, "10", "100", "0", t0))
	require.NoError(t, err)
	closeRes, err := l.ApplyFill(ctx, fillAt(domain.Sell, "10", "120", "0", t0.Add(time.Minute)))
	require.NoError(t, err)
	oldID := closeRes.Position.ID

	newer, err := l.ApplyFill(ctx, fillAt(domain.Buy, "5", "50", "0", t0.Add(2*time.Minute)))
	require.NoError(t, err)
	require.NotEqual(t, oldID, newer.Position.ID)

	_, err = l.ReconcileCorrection(ctx, closeRes.Trade.ID, Correction{Action: ActionReverse, At: t0.Add(3 * time.Minute)})
	require.NoError(t, err)

	// Auto-resolution still targets the newer position; the reopened one is
	// addressable by explicit reference.
	res, err := l.ApplyFill(ctx, fillAt(domain.Buy, "5", "52", "0", t0.Add(4*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, newer.Position.ID, res.Position.ID)

	byRef, err := l.ApplyFill(ctx, Fill{PositionID: oldID, AssetID: "asset-eth", Side: domain.Sell,
		Quantity: domain.MustMoney("10"), Price: domain.MustMoney("110"), ExecutedAt: t0.Add(5 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, oldID, byRef.Position.ID)
	assertMoney(t, "100", byRef.Position.RealizedPnL)
}

func TestReconcileCorrection_RestoreAfterReopenPrefersNewerPosition(t *testing.T) {
	// After a reversal reopens an older position, two open positions share one
	// asset. A restart must hand the auto-resolution slot to the newer one no
	// matter what order the stored positions come back in.
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyFill(ctx, fillAt(domain.Buy, "10", "100", "0", t0))
	require.NoError(t, err)
	closeRes, err := l.ApplyFill(ctx, fillAt(domain.Sell, "10", "120", "0", t0.Add(time.Minute)))
	require.NoError(t, err)
	oldID := closeRes.Position.ID

	newer, err := l.ApplyFill(ctx, fillAt(domain.Buy, "5", "50", "0", t0.Add(2*time.Minute)))
	require.NoError(t, err)

	_, err = l.ReconcileCorrection(ctx, closeRes.Trade.ID, Correction{Action: ActionReverse, At: t0.Add(3 * time.Minute)})
	require.NoError(t, err)

	oldPos, err := store.FindByID(ctx, oldID)
	require.NoError(t, err)
	newerPos, err := store.FindByID(ctx, newer.Position.ID)
	require.NoError(t, err)

	for _, order := range [][]*domain.Position{
		{oldPos, newerPos},
		{newerPos, oldPos},
	} {
		l2, err := New(Config{Store: store, Positions: store, Trades: store, Logger: &mockLogger{}})
		require.NoError(t, err)
		l2.Restore(order)

		open := l2.OpenPositions()
		require.Len(t, open, 1)
		assert.Equal(t, newer.Position.ID, open[0].ID)
	}

	// And the same through the persistence round trip.
	l3, err := New(Config{Store: store, Positions: store, Trades: store, Logger: &mockLogger{}})
	require.NoError(t, err)
	all, err := store.FindAll(ctx)
	require.NoError(t, err)
	l3.Restore(all)

	res, err := l3.ApplyFill(ctx, fillAt(domain.Buy, "5", "52", "0", t0.Add(4*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, newer.Position.ID, res.Position.ID)
}

func TestReconcileCorrection_Replace(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyFill(ctx, fillAt(domain.Buy, "10", "100", "0", t0))
	require.NoError(t, err)
	addRes, err := l.ApplyFill(ctx, fillAt(domain.Buy, "10", "110", "1", t0.Add(time.Minute)))
	require.NoError(t, err)

	// The venue reports the second fill actually executed at 112.
	corrected := fillAt(domain.Buy, "10", "112", "1", t0.Add(time.Minute))
	cr, err := l.ReconcileCorrection(ctx, addRes.Trade.ID, Correction{
		Action:  ActionReplace,
		NewFill: &corrected,
		At:      t0.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	require.NotNil(t, cr.Applied)

	pos := cr.Applied.Position
	assert.Equal(t, addRes.Position.ID, pos.ID)
	assertMoney(t, "106", pos.AvgEntryPrice)
	assertMoney(t, "20", pos.RemainingQuantity)
	assertMoney(t, "2120", pos.CostBasis)
	assertMoney(t, "1", pos.TotalCommissions)
	checkInvariants(t, pos)
}

func TestReconcileCorrection_ReplaceRequiresFill(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.ReconcileCorrection(context.Background(), "whatever", Correction{Action: ActionReplace})
	require.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestReconcileCorrection_UnknownTrade(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.ReconcileCorrection(context.Background(), "01HZZZZZZZZZZZZZZZZZZZZZZZ", Correction{Action: ActionReverse, At: t0})
	require.ErrorIs(t, err, ports.ErrNotFound)
}

func TestReconcileCorrection_CannotReverseConsumedQuantity(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyFill(ctx, fillAt(domain.Buy, "10", "100", "0", t0))
	require.NoError(t, err)
	addRes, err := l.ApplyFill(ctx, fillAt(domain.Buy, "10", "110", "0", t0.Add(time.Minute)))
	require.NoError(t, err)
	// Most of the inventory has since been sold; the increase can no longer
	// be backed out.
	_, err = l.ApplyFill(ctx, fillAt(domain.Sell, "15", "120", "0", t0.Add(2*time.Minute)))
	require.NoError(t, err)

	_, err = l.ReconcileCorrection(ctx, addRes.Trade.ID, Correction{Action: ActionReverse, At: t0.Add(3 * time.Minute)})
	require.ErrorIs(t, err, ports.ErrInvalidRequest)

	var fe *FillError
	require.ErrorAs(t, err, &fe)
	require.NotNil(t, fe.Snapshot)
	assertMoney(t, "5", fe.Snapshot.RemainingQuantity)

	// State untouched by the rejected correction.
	snap, err := l.Snapshot(addRes.Position.ID)
	require.NoError(t, err)
	assertMoney(t, "5", snap.RemainingQuantity)
	assertMoney(t, "225", snap.RealizedPnL)
}

func TestReconcileCorrection_CommitFailureLeavesStateUnchanged(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyFill(ctx, fillAt(domain.Buy, "10", "100", "0", t0))
	require.NoError(t, err)
	sellRes, err := l.ApplyFill(ctx, fillAt(domain.Sell, "4", "120", "0", t0.Add(time.Minute)))
	require.NoError(t, err)

	store.failNextCommit = ports.ErrDBConnection
	_, err = l.ReconcileCorrection(ctx, sellRes.Trade.ID, Correction{Action: ActionReverse, At: t0.Add(2 * time.Minute)})
	require.ErrorIs(t, err, ports.ErrDBConnection)

	snap, err := l.Snapshot(sellRes.Position.ID)
	require.NoError(t, err)
	assertMoney(t, "6", snap.RemainingQuantity)
	assertMoney(t, "80", snap.RealizedPnL)
}
