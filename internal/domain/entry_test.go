package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDraft() EntryDraft {
	return EntryDraft{
		Asset:    "CRO",
		Side:     SideBuy,
		Quantity: decimal.NewFromInt(10),
		PriceUSD: decimal.RequireFromString("0.08"),
	}
}

func TestEntryDraftValidate(t *testing.T) {
	require.NoError(t, validDraft().Validate())

	d := validDraft()
	d.Asset = "  "
	assert.ErrorIs(t, d.Validate(), ErrValidation)

	d = validDraft()
	d.Side = "short"
	assert.ErrorIs(t, d.Validate(), ErrValidation)

	d = validDraft()
	d.Quantity = decimal.Zero
	assert.ErrorIs(t, d.Validate(), ErrValidation)

	d = validDraft()
	d.Quantity = decimal.NewFromInt(-1)
	assert.ErrorIs(t, d.Validate(), ErrValidation)

	d = validDraft()
	d.PriceUSD = decimal.NewFromInt(-1)
	assert.ErrorIs(t, d.Validate(), ErrValidation)

	d = validDraft()
	d.FeeUSD = decimal.NewFromInt(-1)
	assert.ErrorIs(t, d.Validate(), ErrValidation)

	// a free price (airdrop) is legal
	d = validDraft()
	d.PriceUSD = decimal.Zero
	assert.NoError(t, d.Validate())
}

func TestEntryDraftCanonical(t *testing.T) {
	d := EntryDraft{Asset: "  wcro "}
	assert.Equal(t, "WCRO", d.Canonical().Asset)
}
