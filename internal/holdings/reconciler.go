// Package holdings merges a live balance reading with ledger-derived
// cost basis and cached prices into per-asset snapshots. Reconcile is
// a pure function of its inputs: no hidden state, same inputs, same
// snapshots.
package holdings

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/holdwatch/holdwatch/internal/domain"
)

// AliasMap groups raw on-chain symbols under one display symbol, e.g.
// a native coin and its wrapped variant. It is pure configuration;
// nothing here is hardcoded.
type AliasMap map[string]string

// Reconciler applies the ownership rule that fixes double counting:
// quantity of record always comes from the live balance feed, the
// ledger contributes avg cost and realized PnL only. The two are never
// summed.
type Reconciler struct {
	aliases AliasMap
}

func NewReconciler(aliases AliasMap) *Reconciler {
	canon := make(AliasMap, len(aliases))
	for raw, display := range aliases {
		canon[canonical(raw)] = canonical(display)
	}
	return &Reconciler{aliases: canon}
}

// Display resolves the display symbol for a raw symbol.
func (r *Reconciler) Display(symbol string) string {
	symbol = canonical(symbol)
	if display, ok := r.aliases[symbol]; ok {
		return display
	}
	return symbol
}

// Reconcile produces one snapshot per raw symbol that has a nonzero
// live balance or appears in the positions map. A missing price yields nil
// PriceUSD and nil UnrealizedUSD — never a silent zero, which would
// corrupt totals. Rows are ordered by USD value descending, then
// symbol.
func (r *Reconciler) Reconcile(
	balances map[string]decimal.Decimal,
	positions map[string]domain.AssetPosition,
	prices map[string]domain.PriceQuote,
) []domain.AssetSnapshot {
	symbols := make(map[string]struct{}, len(balances)+len(positions))
	liveQty := make(map[string]decimal.Decimal, len(balances))
	for raw, qty := range balances {
		sym := canonical(raw)
		liveQty[sym] = qty
		if !qty.IsZero() {
			symbols[sym] = struct{}{}
		}
	}
	// any position history earns a row, even when the derived values
	// net to zero (a break-even full disposal)
	for raw := range positions {
		symbols[canonical(raw)] = struct{}{}
	}

	quotes := make(map[string]domain.PriceQuote, len(prices))
	for raw, q := range prices {
		quotes[canonical(raw)] = q
	}

	snapshots := make([]domain.AssetSnapshot, 0, len(symbols))
	for sym := range symbols {
		snap := domain.AssetSnapshot{
			Symbol:        sym,
			DisplaySymbol: r.Display(sym),
			Qty:           liveQty[sym], // authoritative, never ledger-summed
		}

		if pos, ok := positions[sym]; ok {
			snap.AvgCost = pos.AvgCost
			snap.RealizedUSD = pos.RealizedUSD
		}

		if quote, ok := quotes[sym]; ok {
			price := quote.PriceUSD
			snap.PriceUSD = &price
			snap.PriceStale = quote.Stale
			unrealized := snap.Qty.Mul(price.Sub(snap.AvgCost))
			snap.UnrealizedUSD = &unrealized
		}

		snapshots = append(snapshots, snap)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		vi, vj := valueForOrdering(snapshots[i]), valueForOrdering(snapshots[j])
		if !vi.Equal(vj) {
			return vi.GreaterThan(vj)
		}
		return snapshots[i].Symbol < snapshots[j].Symbol
	})

	return snapshots
}

// Aggregate merges raw snapshots into display rows. Qty and realized
// PnL sum across the aliased group; unrealized sums only members whose
// price is known and stays nil when none is. Avg cost is deliberately
// absent — it stays per raw symbol and is never blended.
func Aggregate(snapshots []domain.AssetSnapshot) []domain.AggregateSnapshot {
	groups := make(map[string]*domain.AggregateSnapshot)
	order := make([]string, 0)

	for _, snap := range snapshots {
		agg, ok := groups[snap.DisplaySymbol]
		if !ok {
			agg = &domain.AggregateSnapshot{DisplaySymbol: snap.DisplaySymbol}
			groups[snap.DisplaySymbol] = agg
			order = append(order, snap.DisplaySymbol)
		}

		agg.Qty = agg.Qty.Add(snap.Qty)
		agg.RealizedUSD = agg.RealizedUSD.Add(snap.RealizedUSD)
		if snap.UnrealizedUSD != nil {
			sum := *snap.UnrealizedUSD
			if agg.UnrealizedUSD != nil {
				sum = sum.Add(*agg.UnrealizedUSD)
			}
			agg.UnrealizedUSD = &sum
		}
		agg.Members = append(agg.Members, snap)
	}

	out := make([]domain.AggregateSnapshot, 0, len(order))
	for _, display := range order {
		out = append(out, *groups[display])
	}
	return out
}

// TotalValueUSD sums qty*price over snapshots with a known price and
// reports how many rows had no price at all.
func TotalValueUSD(snapshots []domain.AssetSnapshot) (decimal.Decimal, int) {
	total := decimal.Zero
	unpriced := 0
	for _, snap := range snapshots {
		if v := snap.ValueUSD(); v != nil {
			total = total.Add(*v)
		} else {
			unpriced++
		}
	}
	return total, unpriced
}

func valueForOrdering(snap domain.AssetSnapshot) decimal.Decimal {
	if v := snap.ValueUSD(); v != nil {
		return *v
	}
	return decimal.Zero
}

func canonical(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
