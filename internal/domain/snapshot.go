package domain

import "github.com/shopspring/decimal"

// PriceQuote is a cache answer: the price plus whether it is past its
// TTL and served only as last-known fallback.
type PriceQuote struct {
	PriceUSD decimal.Decimal
	Stale    bool
}

// AssetSnapshot is the reconciled per-raw-symbol row. Quantity always
// comes from the live balance feed; the ledger contributes cost basis
// and realized PnL only. PriceUSD and UnrealizedUSD are nil, not zero,
// when no price is known.
type AssetSnapshot struct {
	Symbol        string
	DisplaySymbol string
	Qty           decimal.Decimal
	AvgCost       decimal.Decimal
	PriceUSD      *decimal.Decimal
	PriceStale    bool
	UnrealizedUSD *decimal.Decimal
	RealizedUSD   decimal.Decimal
}

// ValueUSD returns qty*price when the price is known, nil otherwise.
func (s AssetSnapshot) ValueUSD() *decimal.Decimal {
	if s.PriceUSD == nil {
		return nil
	}
	v := s.Qty.Mul(*s.PriceUSD)
	return &v
}

// AggregateSnapshot is an alias-merged display row. Qty and RealizedUSD
// are sums over the group; UnrealizedUSD sums only members with a known
// price and stays nil when none has one. Avg cost is never blended
// across raw symbols, so the aggregate carries none.
type AggregateSnapshot struct {
	DisplaySymbol string
	Qty           decimal.Decimal
	UnrealizedUSD *decimal.Decimal
	RealizedUSD   decimal.Decimal
	Members       []AssetSnapshot
}
