// Package book ties the ledger store and the cost-basis engine
// together: an append and its application to the lots happen as one
// unit under the asset's lock, so derived state never drifts from the
// persisted history.
package book

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/holdwatch/holdwatch/internal/costbasis"
	"github.com/holdwatch/holdwatch/internal/domain"
	"github.com/holdwatch/holdwatch/internal/ledger"
)

const defaultLockWait = 5 * time.Second

// Book is the transactional surface of the core: append transactions,
// read derived positions, rebuild after a restart.
type Book struct {
	store  *ledger.Store
	engine *costbasis.Engine
	locks  *assetLocks
	l      *zap.Logger

	// rebuildMu serializes RebuildState against in-flight appends:
	// an append landing between the ledger read and the engine reset
	// would be persisted yet missing from the rebuilt state.
	rebuildMu sync.RWMutex
}

func New(store *ledger.Store, engine *costbasis.Engine, l *zap.Logger) *Book {
	return &Book{
		store:  store,
		engine: engine,
		locks:  newAssetLocks(defaultLockWait),
		l:      l,
	}
}

// AppendTransaction validates, persists and applies one transaction.
// The sell's realized PnL is computed against the current lots before
// the write, persisted on the entry, then the same deterministic match
// is applied to the engine — so either both the ledger and the derived
// state advance, or neither does.
func (b *Book) AppendTransaction(ctx context.Context, draft domain.EntryDraft) (domain.LedgerEntry, error) {
	draft = draft.Canonical()
	if err := draft.Validate(); err != nil {
		return domain.LedgerEntry{}, err
	}
	if draft.Timestamp.IsZero() {
		draft.Timestamp = time.Now().UTC()
	}

	b.rebuildMu.RLock()
	defer b.rebuildMu.RUnlock()

	release, err := b.locks.acquire(ctx, draft.Asset)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	defer release()

	realized, partialMatch, err := b.engine.Preview(draft)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	entry, err := b.store.Append(draft, realized, partialMatch)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	position, err := b.engine.Apply(entry)
	if err != nil {
		// Preview accepted the draft, so apply of the same entry can
		// only fail if engine state was corrupted out of band.
		return domain.LedgerEntry{}, errors.Wrapf(err, "apply entry %d after append", entry.ID)
	}

	if partialMatch {
		b.l.Warn("sell clipped to available lots",
			zap.String("asset", entry.Asset),
			zap.String("quantity", entry.Quantity.String()),
			zap.String("net_qty", position.NetQty.String()))
	}

	b.l.Info("transaction appended",
		zap.Uint64("id", entry.ID),
		zap.String("asset", entry.Asset),
		zap.String("side", string(entry.Side)),
		zap.String("quantity", entry.Quantity.String()),
		zap.String("realized_usd", entry.RealizedUSD.String()))

	return entry, nil
}

// RebuildState replays the whole ledger into a fresh engine state.
// This is the recovery entry point after a crash or restart. Appends
// block for its duration, so no entry lands between the ledger read
// and the replay.
func (b *Book) RebuildState() (map[string]domain.AssetPosition, error) {
	b.rebuildMu.Lock()
	defer b.rebuildMu.Unlock()

	entries, err := b.store.ReadAll("")
	if err != nil {
		return nil, errors.Wrap(err, "read ledger for rebuild")
	}

	positions, err := b.engine.Rebuild(entries)
	if err != nil {
		return nil, errors.Wrap(err, "rebuild cost basis")
	}

	b.l.Info("state rebuilt from ledger",
		zap.Int("entries", len(entries)),
		zap.Int("assets", len(positions)))

	return positions, nil
}

// Positions returns the current ledger-derived positions.
func (b *Book) Positions() map[string]domain.AssetPosition {
	return b.engine.Positions()
}

// Position returns one asset's derived position.
func (b *Book) Position(asset string) (domain.AssetPosition, bool) {
	return b.engine.Position(asset)
}

// Entries exposes ordered ledger history, optionally filtered by asset.
func (b *Book) Entries(asset string) ([]domain.LedgerEntry, error) {
	return b.store.ReadAll(asset)
}

// Close closes the underlying ledger store.
func (b *Book) Close() error {
	return b.store.Close()
}
