package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GuardState is the exported view of one asset's trailing-stop
// tracker. PeakPrice is monotonically non-decreasing between resets
// and is only ever seeded from a real entry price.
type GuardState struct {
	Asset           string
	EntryPrice      decimal.Decimal
	PeakPrice       decimal.Decimal
	TrailingStopPct decimal.Decimal
	LastAlertAt     time.Time
}

// BreachEvent describes a trailing-stop breach for the alert sink.
type BreachEvent struct {
	ID        string
	Asset     string
	Price     decimal.Decimal
	PeakPrice decimal.Decimal
	At        time.Time
}
