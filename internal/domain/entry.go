package domain

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Side is the direction of a ledger entry.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// EntryDraft is the caller-supplied part of a transaction, before the
// ledger assigns an ID and the cost-basis engine computes realized PnL.
type EntryDraft struct {
	Timestamp time.Time       `json:"timestamp"`
	Asset     string          `json:"asset"`
	Side      Side            `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	FeeUSD    decimal.Decimal `json:"fee_usd"`
	TxID      string          `json:"txid,omitempty"`
}

// Validate checks the draft against the ledger invariants. All
// failures wrap ErrValidation.
func (d EntryDraft) Validate() error {
	if strings.TrimSpace(d.Asset) == "" {
		return errors.Wrap(ErrValidation, "asset is required")
	}
	if d.Side != SideBuy && d.Side != SideSell {
		return errors.Wrapf(ErrValidation, "unknown side %q", d.Side)
	}
	if !d.Quantity.IsPositive() {
		return errors.Wrapf(ErrValidation, "quantity must be positive, got %s", d.Quantity)
	}
	if d.PriceUSD.IsNegative() {
		return errors.Wrapf(ErrValidation, "price_usd must be non-negative, got %s", d.PriceUSD)
	}
	if d.FeeUSD.IsNegative() {
		return errors.Wrapf(ErrValidation, "fee_usd must be non-negative, got %s", d.FeeUSD)
	}
	return nil
}

// Canonical returns the draft with the asset symbol upper-cased and
// trimmed, the form every store keys on.
func (d EntryDraft) Canonical() EntryDraft {
	d.Asset = strings.ToUpper(strings.TrimSpace(d.Asset))
	return d
}

// LedgerEntry is an immutable, persisted transaction record. The ID is
// monotonic in append order; decimals serialize as exact strings so a
// serialize/deserialize round trip loses nothing.
type LedgerEntry struct {
	ID           uint64          `json:"id"`
	Timestamp    time.Time       `json:"timestamp"`
	Asset        string          `json:"asset"`
	Side         Side            `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	FeeUSD       decimal.Decimal `json:"fee_usd"`
	RealizedUSD  decimal.Decimal `json:"realized_usd"`
	PartialMatch bool            `json:"partial_match,omitempty"`
	TxID         string          `json:"txid,omitempty"`
}
