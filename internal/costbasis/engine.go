// Package costbasis tracks per-asset FIFO lots and computes realized
// and average cost figures from ledger replay. All arithmetic is
// decimal; no float ever touches a money value.
package costbasis

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/holdwatch/holdwatch/internal/domain"
)

// OversellPolicy decides what happens when a sell exceeds the
// remaining lots.
type OversellPolicy string

const (
	// OversellClip matches only the available quantity and flags the
	// entry as a partial match.
	OversellClip OversellPolicy = "clip"
	// OversellReject fails the sell as a data-integrity error before
	// anything is persisted.
	OversellReject OversellPolicy = "reject"
)

type lot struct {
	remaining decimal.Decimal
	unitCost  decimal.Decimal
}

// Engine replays ledger entries into FIFO lots. Incremental Apply and
// full Rebuild over the same sequence produce identical positions,
// which is what makes crash recovery a plain replay.
type Engine struct {
	mu       sync.RWMutex
	policy   OversellPolicy
	lots     map[string][]lot
	realized map[string]decimal.Decimal
}

func NewEngine(policy OversellPolicy) *Engine {
	if policy == "" {
		policy = OversellClip
	}
	return &Engine{
		policy:   policy,
		lots:     make(map[string][]lot),
		realized: make(map[string]decimal.Decimal),
	}
}

// unitCost is (price*qty + fee)/qty: the acquisition fee is pro-rated
// into the lot's cost.
func unitCost(price, qty, fee decimal.Decimal) decimal.Decimal {
	return price.Mul(qty).Add(fee).Div(qty)
}

// previewSell walks the asset's lots oldest-first without mutating
// them. Returns gross realized PnL (before fee), the matched quantity
// and whether the sell was clipped short.
func (e *Engine) previewSell(asset string, qty, price decimal.Decimal) (gross, matched decimal.Decimal, clipped bool) {
	remaining := qty
	for _, l := range e.lots[asset] {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(l.remaining, remaining)
		gross = gross.Add(take.Mul(price.Sub(l.unitCost)))
		matched = matched.Add(take)
		remaining = remaining.Sub(take)
	}
	return gross, matched, remaining.IsPositive()
}

// Preview computes the realized PnL and partial-match flag a sell
// draft would produce, without touching engine state. Buys preview to
// zero. Used to complete the entry before it is persisted; the later
// Apply recomputes the same figures deterministically.
func (e *Engine) Preview(draft domain.EntryDraft) (decimal.Decimal, bool, error) {
	draft = draft.Canonical()

	e.mu.RLock()
	defer e.mu.RUnlock()

	if draft.Side != domain.SideSell {
		return decimal.Zero, false, nil
	}

	gross, matched, clipped := e.previewSell(draft.Asset, draft.Quantity, draft.PriceUSD)
	if clipped && e.policy == OversellReject {
		return decimal.Zero, false, errors.Wrapf(domain.ErrValidation,
			"oversell: %s %s exceeds held lots (%s matched)", draft.Quantity, draft.Asset, matched)
	}

	return gross.Sub(feeShare(draft.FeeUSD, matched, draft.Quantity)), clipped, nil
}

// feeShare pro-rates the sell fee over the matched part of the order.
func feeShare(fee, matched, qty decimal.Decimal) decimal.Decimal {
	if fee.IsZero() || qty.IsZero() {
		return decimal.Zero
	}
	if matched.Equal(qty) {
		return fee
	}
	return fee.Mul(matched).Div(qty)
}

// Apply folds one entry into the lots and returns the asset's derived
// position. Sells consume lots oldest-first; fully consumed lots are
// discarded. An oversell beyond available lots is clipped (the entry
// was flagged at append time) so NetQty never goes negative.
func (e *Engine) Apply(entry domain.LedgerEntry) (domain.AssetPosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.applyLocked(entry)
}

func (e *Engine) applyLocked(entry domain.LedgerEntry) (domain.AssetPosition, error) {
	asset := entry.Asset

	switch entry.Side {
	case domain.SideBuy:
		e.lots[asset] = append(e.lots[asset], lot{
			remaining: entry.Quantity,
			unitCost:  unitCost(entry.PriceUSD, entry.Quantity, entry.FeeUSD),
		})

	case domain.SideSell:
		gross, matched, clipped := e.previewSell(asset, entry.Quantity, entry.PriceUSD)
		if clipped && e.policy == OversellReject {
			return domain.AssetPosition{}, errors.Wrapf(domain.ErrValidation,
				"oversell on replay: %s %s exceeds held lots", entry.Quantity, asset)
		}

		remaining := entry.Quantity
		lots := e.lots[asset]
		for len(lots) > 0 && remaining.IsPositive() {
			take := decimal.Min(lots[0].remaining, remaining)
			lots[0].remaining = lots[0].remaining.Sub(take)
			remaining = remaining.Sub(take)
			if lots[0].remaining.IsZero() {
				lots = lots[1:]
			}
		}
		e.lots[asset] = lots

		realized := gross.Sub(feeShare(entry.FeeUSD, matched, entry.Quantity))
		e.realized[asset] = e.realized[asset].Add(realized)

	default:
		return domain.AssetPosition{}, errors.Wrapf(domain.ErrValidation, "unknown side %q", entry.Side)
	}

	return e.positionLocked(asset), nil
}

// Rebuild resets the engine and replays the full history. Replay is
// idempotent: the result depends only on the entry sequence.
func (e *Engine) Rebuild(entries []domain.LedgerEntry) (map[string]domain.AssetPosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lots = make(map[string][]lot)
	e.realized = make(map[string]decimal.Decimal)

	for _, entry := range entries {
		if _, err := e.applyLocked(entry); err != nil {
			return nil, errors.Wrapf(err, "replay entry %d", entry.ID)
		}
	}

	return e.positionsLocked(), nil
}

// Position returns the derived position for one asset.
func (e *Engine) Position(asset string) (domain.AssetPosition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, hasLots := e.lots[asset]
	_, hasRealized := e.realized[asset]
	if !hasLots && !hasRealized {
		return domain.AssetPosition{}, false
	}
	return e.positionLocked(asset), true
}

// Positions returns every asset with any history.
func (e *Engine) Positions() map[string]domain.AssetPosition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.positionsLocked()
}

func (e *Engine) positionsLocked() map[string]domain.AssetPosition {
	out := make(map[string]domain.AssetPosition, len(e.lots))
	for asset := range e.lots {
		out[asset] = e.positionLocked(asset)
	}
	for asset := range e.realized {
		if _, ok := out[asset]; !ok {
			out[asset] = e.positionLocked(asset)
		}
	}
	return out
}

// positionLocked derives NetQty as the sum of remaining lot quantities
// and AvgCost as their weighted average; both invariants from the lots
// themselves, never cached.
func (e *Engine) positionLocked(asset string) domain.AssetPosition {
	netQty := decimal.Zero
	totalCost := decimal.Zero
	for _, l := range e.lots[asset] {
		netQty = netQty.Add(l.remaining)
		totalCost = totalCost.Add(l.remaining.Mul(l.unitCost))
	}

	avgCost := decimal.Zero
	if netQty.IsPositive() {
		avgCost = totalCost.Div(netQty)
	}

	return domain.AssetPosition{
		Symbol:      asset,
		NetQty:      netQty,
		AvgCost:     avgCost,
		RealizedUSD: e.realized[asset],
	}
}
