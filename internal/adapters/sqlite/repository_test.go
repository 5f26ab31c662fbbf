package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeledger/internal/domain"
	"tradeledger/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test_ledger.db")
	repo, err := NewRepository(Config{DBPath: dbPath, Logger: &mockLogger{}})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func mustMoney(t *testing.T, s string) domain.Money {
	t.Helper()
	m, err := domain.NewMoneyFromString(s)
	require.NoError(t, err)
	return m
}

var openedAt = time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

func samplePosition(id string) *domain.Position {
	return &domain.Position{
		ID:                id,
		AssetID:           "asset-eth",
		Side:              domain.LongPosition,
		Quantity:          domain.MustMoney("10"),
		RemainingQuantity: domain.MustMoney("10"),
		AvgEntryPrice:     domain.MustMoney("100.12345678"),
		CostBasis:         domain.MustMoney("1001.2345678"),
		RealizedPnL:       domain.MustMoney("0"),
		TotalCommissions:  domain.MustMoney("1"),
		Status:            domain.StatusOpen,
		OpenedAt:          openedAt,
	}
}

func sampleTrade(id, positionID string, at time.Time) *domain.Trade {
	return &domain.Trade{
		ID:         id,
		AssetID:    "asset-eth",
		PositionID: positionID,
		Side:       domain.Buy,
		Quantity:   domain.MustMoney("10"),
		Price:      domain.MustMoney("100.12345678"),
		Commission: domain.MustMoney("1"),
		TotalValue: domain.MustMoney("1002.2345678"),
		Status:     domain.TradeFilled,
		ExecutedAt: at,
	}
}

func TestCommitFillAndFindRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	pos := samplePosition("pos-1")
	stop := domain.MustMoney("95.5")
	pos.StopLoss = &stop
	trade := sampleTrade("trade-1", "pos-1", openedAt)
	require.NoError(t, repo.CommitFill(ctx, []*domain.Position{pos}, []*domain.Trade{trade}))
	assert.Equal(t, int64(1), pos.Version, "first commit assigns version 1")

	found, err := repo.FindByID(ctx, "pos-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.LongPosition, found.Side)
	assert.True(t, found.AvgEntryPrice.Equal(pos.AvgEntryPrice), "decimal survives the TEXT round trip exactly")
	assert.True(t, found.CostBasis.Equal(pos.CostBasis))
	assert.Equal(t, int64(1), found.Version)
	assert.True(t, found.ClosedAt.IsZero())
	require.NotNil(t, found.StopLoss)
	assert.True(t, found.StopLoss.Equal(stop))
	assert.Nil(t, found.TakeProfit)

	trades, err := repo.FindByPosition(ctx, "pos-1")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "trade-1", trades[0].ID)
	assert.True(t, trades[0].TotalValue.Equal(trade.TotalValue))
}

func TestCommitFillVersionConflictRollsBack(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	pos := samplePosition("pos-1")
	require.NoError(t, repo.CommitFill(ctx, []*domain.Position{pos}, nil))

	// A writer holding a stale version must not commit anything, trades
	// included.
	stale := samplePosition("pos-1")
	stale.Version = 99
	trade := sampleTrade("trade-orphan", "pos-1", openedAt)
	err := repo.CommitFill(ctx, []*domain.Position{stale}, []*domain.Trade{trade})
	require.ErrorIs(t, err, ports.ErrPersistenceConflict)

	found, err := repo.FindTradeByID(ctx, "trade-orphan")
	require.NoError(t, err)
	assert.Nil(t, found, "conflicting commit must leave no trade behind")

	// The in-memory version is advanced only on success.
	assert.Equal(t, int64(99), stale.Version)
}

func TestCommitFillDuplicateInsertFails(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.CommitFill(ctx, []*domain.Position{samplePosition("pos-1")}, nil))
	err := repo.CommitFill(ctx, []*domain.Position{samplePosition("pos-1")}, nil)
	require.Error(t, err, "re-inserting version 0 for an existing id must fail")
}

func TestUpdateBumpsVersion(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	pos := samplePosition("pos-1")
	require.NoError(t, repo.CommitFill(ctx, []*domain.Position{pos}, nil))

	pos.RealizedPnL = mustMoney(t, "225")
	pos.RemainingQuantity = domain.MustMoney("5")
	pos.Status = domain.StatusPartiallyClosed
	require.NoError(t, repo.Update(ctx, pos))
	assert.Equal(t, int64(2), pos.Version)

	found, err := repo.FindByID(ctx, "pos-1")
	require.NoError(t, err)
	assert.True(t, found.RealizedPnL.Equal(pos.RealizedPnL))
	assert.Equal(t, domain.StatusPartiallyClosed, found.Status)
	assert.Equal(t, int64(2), found.Version)
}

func TestFindOpenByAsset(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	found, err := repo.FindOpenByAsset(ctx, "asset-eth")
	require.NoError(t, err)
	assert.Nil(t, found)

	open := samplePosition("pos-open")
	closed := samplePosition("pos-closed")
	closed.AssetID = "asset-btc"
	closed.RemainingQuantity = domain.MustMoney("0")
	closed.Status = domain.StatusClosed
	closed.ClosedAt = openedAt.Add(time.Hour)
	require.NoError(t, repo.CommitFill(ctx, []*domain.Position{open, closed}, nil))

	found, err = repo.FindOpenByAsset(ctx, "asset-eth")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "pos-open", found.ID)

	found, err = repo.FindOpenByAsset(ctx, "asset-btc")
	require.NoError(t, err)
	assert.Nil(t, found, "closed positions are not open candidates")

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFindOpenByAsset_NewestWins(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	// Two open positions for one asset happens when a reversal reopened an
	// older one. Auto-resolution must land on the newest.
	older := samplePosition("pos-older")
	newer := samplePosition("pos-newer")
	newer.OpenedAt = openedAt.Add(2 * time.Minute)
	require.NoError(t, repo.CommitFill(ctx, []*domain.Position{older, newer}, nil))

	found, err := repo.FindOpenByAsset(ctx, "asset-eth")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "pos-newer", found.ID)
}

func TestMarkedAtRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	pos := samplePosition("pos-1")
	require.NoError(t, repo.CommitFill(ctx, []*domain.Position{pos}, nil))

	found, err := repo.FindByID(ctx, "pos-1")
	require.NoError(t, err)
	assert.True(t, found.MarkedAt.IsZero(), "never-marked position stays unmarked")

	pos.CurrentPrice = domain.MustMoney("0")
	pos.MarketValue = domain.MustMoney("0")
	pos.UnrealizedPnL = mustMoney(t, "-1001.2345678")
	pos.MarkedAt = openedAt.Add(time.Hour)
	require.NoError(t, repo.Update(ctx, pos))

	found, err = repo.FindByID(ctx, "pos-1")
	require.NoError(t, err)
	assert.False(t, found.MarkedAt.IsZero())
	assert.True(t, found.MarkedAt.Equal(openedAt.Add(time.Hour)))
	assert.True(t, found.CurrentPrice.IsZero(), "a zero valuation price survives the round trip")
	assert.True(t, found.UnrealizedPnL.Equal(pos.UnrealizedPnL))
}

func TestUpdateTradeStatus(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	pos := samplePosition("pos-1")
	t1 := sampleTrade("trade-1", "pos-1", openedAt)
	t2 := sampleTrade("trade-2", "pos-1", openedAt.Add(time.Minute))
	require.NoError(t, repo.CommitFill(ctx, []*domain.Position{pos}, []*domain.Trade{t1, t2}))

	require.NoError(t, repo.UpdateTradeStatus(ctx, "trade-1", domain.TradeSettled))

	found, err := repo.FindTradeByID(ctx, "trade-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.TradeSettled, found.Status)

	// Soft-deleted and unknown trades cannot be advanced.
	require.NoError(t, repo.SoftDelete(ctx, "trade-2", openedAt.Add(time.Hour)))
	err = repo.UpdateTradeStatus(ctx, "trade-2", domain.TradeSettled)
	require.ErrorIs(t, err, ports.ErrNotFound)
	err = repo.UpdateTradeStatus(ctx, "nope", domain.TradeCancelled)
	require.ErrorIs(t, err, ports.ErrNotFound)
}

func TestTotalRealizedPnL(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	win := samplePosition("pos-win")
	win.Status = domain.StatusClosed
	win.RealizedPnL = mustMoney(t, "225.5")
	win.ClosedAt = openedAt.Add(time.Hour)
	lose := samplePosition("pos-lose")
	lose.AssetID = "asset-btc"
	lose.Status = domain.StatusClosed
	lose.RealizedPnL = mustMoney(t, "-25.5")
	lose.ClosedAt = openedAt.Add(time.Hour)
	stillOpen := samplePosition("pos-open")
	stillOpen.AssetID = "asset-sol"
	stillOpen.RealizedPnL = mustMoney(t, "1000")
	require.NoError(t, repo.CommitFill(ctx, []*domain.Position{win, lose, stillOpen}, nil))

	total, err := repo.TotalRealizedPnL(ctx)
	require.NoError(t, err)
	assert.True(t, total.Equal(mustMoney(t, "200")), "open positions excluded, got %s", total)
}

func TestSoftDeleteHidesTrade(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	pos := samplePosition("pos-1")
	t1 := sampleTrade("trade-1", "pos-1", openedAt)
	t2 := sampleTrade("trade-2", "pos-1", openedAt.Add(time.Minute))
	require.NoError(t, repo.CommitFill(ctx, []*domain.Position{pos}, []*domain.Trade{t1, t2}))

	require.NoError(t, repo.SoftDelete(ctx, "trade-1", openedAt.Add(time.Hour)))

	found, err := repo.FindTradeByID(ctx, "trade-1")
	require.NoError(t, err)
	assert.Nil(t, found, "soft-deleted trade invisible by id")

	trades, err := repo.FindByPosition(ctx, "pos-1")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "trade-2", trades[0].ID)

	// Already hidden or unknown ids report not found.
	err = repo.SoftDelete(ctx, "trade-1", openedAt.Add(2*time.Hour))
	require.ErrorIs(t, err, ports.ErrNotFound)
	err = repo.SoftDelete(ctx, "nope", openedAt)
	require.ErrorIs(t, err, ports.ErrNotFound)
}

func TestSignalRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	target := domain.MustMoney("123.45")
	sig := &domain.TradingSignal{
		ID:                "sig-1",
		StrategyID:        "strat-1",
		AssetID:           "asset-eth",
		Type:              domain.SignalBuy,
		Confidence:        0.82,
		TargetPrice:       &target,
		SuggestedQuantity: domain.MustMoney("2.5"),
		CreatedAt:         openedAt,
	}
	require.NoError(t, repo.SaveSignal(ctx, sig))

	found, err := repo.FindSignalByID(ctx, "sig-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.SignalBuy, found.Type)
	assert.Equal(t, 0.82, found.Confidence)
	require.NotNil(t, found.TargetPrice)
	assert.True(t, found.TargetPrice.Equal(target))
	assert.Nil(t, found.StopLoss)
	assert.False(t, found.WasActedUpon)
	assert.Empty(t, found.LinkedTradeIDs)

	// Linking state survives a save/load cycle.
	sig.WasActedUpon = true
	sig.LinkedTradeIDs = []string{"trade-1", "trade-2"}
	require.NoError(t, repo.SaveSignal(ctx, sig))

	found, err = repo.FindSignalByID(ctx, "sig-1")
	require.NoError(t, err)
	assert.True(t, found.WasActedUpon)
	assert.Equal(t, []string{"trade-1", "trade-2"}, found.LinkedTradeIDs)

	missing, err := repo.FindSignalByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAssetCatalog(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	crypto := &domain.Asset{
		ID:          "asset-eth",
		Symbol:      "ETHUSDT",
		Exchange:    "binance",
		Class:       domain.ClassCrypto,
		MinOrderQty: domain.MustMoney("0.0001"),
		Active:      true,
		CreatedAt:   openedAt,
	}
	option := &domain.Asset{
		ID:          "asset-opt",
		Symbol:      "AAPL240621C00190000",
		Exchange:    "cboe",
		Class:       domain.ClassOption,
		MinOrderQty: domain.MustMoney("1"),
		Active:      true,
		Option: &domain.OptionDetails{
			Strike: domain.MustMoney("190"),
			Expiry: time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC),
			Right:  domain.CallOption,
		},
		CreatedAt: openedAt,
	}
	prediction := &domain.Asset{
		ID:          "asset-pred",
		Symbol:      "ELECTION-2024-YES",
		Exchange:    "polymarket",
		Class:       domain.ClassPrediction,
		MinOrderQty: domain.MustMoney("1"),
		Active:      false,
		Prediction: &domain.PredictionDetails{
			EventID: "evt-election-2024",
			Outcome: "YES",
		},
		CreatedAt: openedAt,
	}
	for _, a := range []*domain.Asset{crypto, option, prediction} {
		require.NoError(t, repo.CreateAsset(ctx, a))
	}

	// Resolvable by ID and by symbol.
	byID, err := repo.ResolveAsset(ctx, "asset-eth")
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "ETHUSDT", byID.Symbol)
	assert.Nil(t, byID.Option)
	assert.Nil(t, byID.Prediction)

	bySymbol, err := repo.ResolveAsset(ctx, "AAPL240621C00190000")
	require.NoError(t, err)
	require.NotNil(t, bySymbol)
	require.NotNil(t, bySymbol.Option)
	assert.True(t, bySymbol.Option.Strike.Equal(domain.MustMoney("190")))
	assert.Equal(t, domain.CallOption, bySymbol.Option.Right)

	pred, err := repo.ResolveAsset(ctx, "asset-pred")
	require.NoError(t, err)
	require.NotNil(t, pred)
	require.NotNil(t, pred.Prediction)
	assert.Equal(t, "evt-election-2024", pred.Prediction.EventID)
	assert.False(t, pred.Active)

	missing, err := repo.ResolveAsset(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
