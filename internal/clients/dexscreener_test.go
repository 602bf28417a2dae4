package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pair(base, quote, priceUSD, liquidity string) dexPair {
	p := dexPair{
		BaseToken:  dexToken{Symbol: base},
		QuoteToken: dexToken{Symbol: quote},
		PriceUSD:   priceUSD,
	}
	p.Liquidity.USD = decimal.RequireFromString(liquidity)
	return p
}

func TestSelectBestPair_ExactBaseMatchWins(t *testing.T) {
	pairs := []dexPair{
		pair("CROMOON", "USDC", "0.5", "900000"),
		pair("CRO", "USDC", "0.08", "100000"),
	}

	price, ok := selectBestPair("CRO", pairs)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("0.08").Equal(price), "exact base match beats liquidity")
}

func TestSelectBestPair_StableQuotePreferred(t *testing.T) {
	pairs := []dexPair{
		pair("TONIC", "WCRO", "0.0010", "500000"),
		pair("TONIC", "USDT", "0.0011", "100000"),
	}

	price, ok := selectBestPair("TONIC", pairs)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("0.0011").Equal(price), "stable quote beats WCRO quote")
}

func TestSelectBestPair_LiquidityBreaksTies(t *testing.T) {
	pairs := []dexPair{
		pair("CRO", "USDC", "0.080", "100000"),
		pair("CRO", "USDT", "0.081", "900000"),
	}

	price, ok := selectBestPair("CRO", pairs)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("0.081").Equal(price))
}

func TestSelectBestPair_SkipsUnusablePairs(t *testing.T) {
	pairs := []dexPair{
		pair("CRO", "USDC", "", "100000"),     // no price
		pair("CRO", "USDT", "0", "100000"),    // zero price
		pair("", "USDC", "0.08", "100000"),    // no base symbol
		pair("CRO", "USDC", "-1", "100000"),   // negative price
		pair("CRO", "WCRO", "0.079", "50000"), // usable
	}

	price, ok := selectBestPair("CRO", pairs)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("0.079").Equal(price))
}

func TestSelectBestPair_NoCandidates(t *testing.T) {
	_, ok := selectBestPair("CRO", nil)
	assert.False(t, ok)

	_, ok = selectBestPair("CRO", []dexPair{pair("CRO", "USDC", "bad", "1")})
	assert.False(t, ok)
}

func TestDexscreenerClient_FetchPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest/dex/search", r.URL.Path)
		assert.Equal(t, "CRO", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"pairs":[
			{"baseToken":{"symbol":"CRO"},"quoteToken":{"symbol":"USDC"},"priceUsd":"0.082","liquidity":{"usd":250000}},
			{"baseToken":{"symbol":"CROX"},"quoteToken":{"symbol":"USDC"},"priceUsd":"1.5","liquidity":{"usd":900000}}
		]}`))
	}))
	defer srv.Close()

	c := NewDexscreenerClient()
	c.baseURL = srv.URL

	price, err := c.FetchPrice(context.Background(), "cro")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.082").Equal(price))
}

func TestDexscreenerClient_NoUsablePairIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"pairs":[]}`))
	}))
	defer srv.Close()

	c := NewDexscreenerClient()
	c.baseURL = srv.URL

	_, err := c.FetchPrice(context.Background(), "NOSUCH")
	assert.Error(t, err)
}
