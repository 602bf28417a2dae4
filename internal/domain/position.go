package domain

import "github.com/shopspring/decimal"

// AssetPosition is the ledger-derived view of a single asset: what the
// FIFO lots say remains and what has been realized so far. It never
// carries the live on-chain quantity.
type AssetPosition struct {
	Symbol      string
	NetQty      decimal.Decimal
	AvgCost     decimal.Decimal
	RealizedUSD decimal.Decimal
}
