package book

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/holdwatch/holdwatch/internal/costbasis"
	"github.com/holdwatch/holdwatch/internal/domain"
	"github.com/holdwatch/holdwatch/internal/ledger"
)

func newTestBook(t *testing.T, policy costbasis.OversellPolicy) *Book {
	t.Helper()

	store, err := ledger.NewStore(t.TempDir())
	require.NoError(t, err, "Failed to create store")
	t.Cleanup(func() { store.Close() })

	return New(store, costbasis.NewEngine(policy), zap.NewNop())
}

func TestBook_AppendUpdatesPositionAndLedgerTogether(t *testing.T) {
	b := newTestBook(t, costbasis.OversellClip)
	ctx := context.Background()

	entry, err := b.AppendTransaction(ctx, domain.EntryDraft{
		Asset:    "cro",
		Side:     domain.SideBuy,
		Quantity: decimal.NewFromInt(100),
		PriceUSD: decimal.RequireFromString("0.08"),
	})
	require.NoError(t, err)
	assert.Equal(t, "CRO", entry.Asset, "asset must be canonicalized")
	assert.False(t, entry.Timestamp.IsZero(), "missing timestamp must be defaulted")

	pos, ok := b.Position("CRO")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(100).Equal(pos.NetQty))

	entries, err := b.Entries("CRO")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
}

func TestBook_SellPersistsRealizedPnl(t *testing.T) {
	b := newTestBook(t, costbasis.OversellClip)
	ctx := context.Background()

	_, err := b.AppendTransaction(ctx, domain.EntryDraft{
		Asset:    "CRO",
		Side:     domain.SideBuy,
		Quantity: decimal.NewFromInt(10),
		PriceUSD: decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	entry, err := b.AppendTransaction(ctx, domain.EntryDraft{
		Asset:    "CRO",
		Side:     domain.SideSell,
		Quantity: decimal.NewFromInt(4),
		PriceUSD: decimal.NewFromInt(3),
	})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(8).Equal(entry.RealizedUSD), "realized mismatch: %s", entry.RealizedUSD)
	assert.False(t, entry.PartialMatch)

	pos, ok := b.Position("CRO")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(6).Equal(pos.NetQty))
	assert.True(t, decimal.NewFromInt(8).Equal(pos.RealizedUSD))
}

func TestBook_OversellClipFlagsEntry(t *testing.T) {
	b := newTestBook(t, costbasis.OversellClip)
	ctx := context.Background()

	_, err := b.AppendTransaction(ctx, domain.EntryDraft{
		Asset:    "CRO",
		Side:     domain.SideBuy,
		Quantity: decimal.NewFromInt(10),
		PriceUSD: decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	entry, err := b.AppendTransaction(ctx, domain.EntryDraft{
		Asset:    "CRO",
		Side:     domain.SideSell,
		Quantity: decimal.NewFromInt(25),
		PriceUSD: decimal.NewFromInt(2),
	})
	require.NoError(t, err)
	assert.True(t, entry.PartialMatch, "clipped sell must carry the partial-match flag")

	pos, ok := b.Position("CRO")
	require.True(t, ok)
	assert.True(t, pos.NetQty.IsZero())
}

func TestBook_OversellRejectPersistsNothing(t *testing.T) {
	b := newTestBook(t, costbasis.OversellReject)
	ctx := context.Background()

	_, err := b.AppendTransaction(ctx, domain.EntryDraft{
		Asset:    "CRO",
		Side:     domain.SideSell,
		Quantity: decimal.NewFromInt(5),
		PriceUSD: decimal.NewFromInt(2),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	entries, err := b.Entries("")
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected sell must not reach the ledger")
}

func TestBook_RebuildStateMatchesLiveState(t *testing.T) {
	store, err := ledger.NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	b := New(store, costbasis.NewEngine(costbasis.OversellClip), zap.NewNop())
	ctx := context.Background()

	drafts := []domain.EntryDraft{
		{Asset: "CRO", Side: domain.SideBuy, Quantity: decimal.NewFromInt(100), PriceUSD: decimal.NewFromInt(1)},
		{Asset: "ETH", Side: domain.SideBuy, Quantity: decimal.NewFromInt(2), PriceUSD: decimal.NewFromInt(2000)},
		{Asset: "CRO", Side: domain.SideSell, Quantity: decimal.NewFromInt(30), PriceUSD: decimal.NewFromInt(2)},
	}
	for _, d := range drafts {
		_, err := b.AppendTransaction(ctx, d)
		require.NoError(t, err)
	}
	live := b.Positions()

	// fresh engine over the same store simulates a restart
	restarted := New(store, costbasis.NewEngine(costbasis.OversellClip), zap.NewNop())
	rebuilt, err := restarted.RebuildState()
	require.NoError(t, err)

	require.Equal(t, len(live), len(rebuilt))
	for asset, want := range live {
		got := rebuilt[asset]
		assert.True(t, want.NetQty.Equal(got.NetQty), "%s net qty", asset)
		assert.True(t, want.AvgCost.Equal(got.AvgCost), "%s avg cost", asset)
		assert.True(t, want.RealizedUSD.Equal(got.RealizedUSD), "%s realized", asset)
	}
}

func TestBook_RebuildDoesNotLoseConcurrentAppends(t *testing.T) {
	b := newTestBook(t, costbasis.OversellClip)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			asset := fmt.Sprintf("TOK%d", n)
			for j := 0; j < 5; j++ {
				_, err := b.AppendTransaction(ctx, domain.EntryDraft{
					Asset:    asset,
					Side:     domain.SideBuy,
					Quantity: decimal.NewFromInt(1),
					PriceUSD: decimal.NewFromInt(int64(j + 1)),
				})
				assert.NoError(t, err)
			}
		}(i)
	}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.RebuildState()
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// every persisted entry must be reflected in the live state
	entries, err := b.Entries("")
	require.NoError(t, err)
	require.Len(t, entries, 20)

	want, err := costbasis.NewEngine(costbasis.OversellClip).Rebuild(entries)
	require.NoError(t, err)

	got := b.Positions()
	require.Equal(t, len(want), len(got))
	for asset, wantPos := range want {
		gotPos, ok := got[asset]
		require.True(t, ok, "missing asset %s", asset)
		assert.True(t, wantPos.NetQty.Equal(gotPos.NetQty), "%s net qty", asset)
		assert.True(t, wantPos.RealizedUSD.Equal(gotPos.RealizedUSD), "%s realized", asset)
	}
}

func TestAssetLocks_HeldLockFailsWithContention(t *testing.T) {
	locks := newAssetLocks(50 * time.Millisecond)

	release, err := locks.acquire(context.Background(), "CRO")
	require.NoError(t, err)

	_, err = locks.acquire(context.Background(), "CRO")
	assert.ErrorIs(t, err, domain.ErrContention, "bounded wait must fail, not block")

	// a different asset is unaffected
	releaseOther, err := locks.acquire(context.Background(), "ETH")
	require.NoError(t, err)
	releaseOther()

	release()
	release, err = locks.acquire(context.Background(), "CRO")
	require.NoError(t, err)
	release()
}

func TestAssetLocks_CanceledWaiter(t *testing.T) {
	locks := newAssetLocks(time.Minute)

	release, err := locks.acquire(context.Background(), "CRO")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = locks.acquire(ctx, "CRO")
	assert.ErrorIs(t, err, domain.ErrContention)
}
