package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/holdwatch/holdwatch/pkg/retrier"
)

const (
	dexscreenerBaseURL = "https://api.dexscreener.com"
	dexscreenerTimeout = 10 * time.Second
	// public endpoint, stay well under its limits
	dexscreenerRPS = 2
)

// quote preference when picking among matching pairs
var (
	stableQuotes = map[string]struct{}{"USDC": {}, "USDT": {}}
	altQuotes    = map[string]struct{}{"WCRO": {}, "CRO": {}}
)

// DexscreenerClient resolves a symbol to its best USD price via the
// public pair-search endpoint. Matching is heuristic: prefer an exact
// base-symbol match, then a stable quote over a WCRO/CRO quote, then
// higher liquidity.
type DexscreenerClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      *retrier.Retrier
	baseURL    string
}

func NewDexscreenerClient() *DexscreenerClient {
	return &DexscreenerClient{
		httpClient: &http.Client{Timeout: dexscreenerTimeout},
		limiter:    rate.NewLimiter(rate.Limit(dexscreenerRPS), 1),
		retry:      retrier.New(retrier.WithMaxRetries(2)),
		baseURL:    dexscreenerBaseURL,
	}
}

type dexToken struct {
	Symbol string `json:"symbol"`
}

type dexPair struct {
	BaseToken  dexToken `json:"baseToken"`
	QuoteToken dexToken `json:"quoteToken"`
	PriceUSD   string   `json:"priceUsd"`
	Liquidity  struct {
		USD decimal.Decimal `json:"usd"`
	} `json:"liquidity"`
}

type dexSearchResponse struct {
	Pairs []dexPair `json:"pairs"`
}

// FetchPrice implements the price source interface of the cache.
func (c *DexscreenerClient) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return decimal.Decimal{}, errors.New("empty symbol")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "rate limit wait")
	}

	resp, err := retrier.DoWithData(c.retry, ctx, func(ctx context.Context) (*dexSearchResponse, error) {
		return c.search(ctx, symbol)
	})
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "dexscreener search %s", symbol)
	}

	price, ok := selectBestPair(symbol, resp.Pairs)
	if !ok {
		return decimal.Decimal{}, errors.Errorf("no usable pair for %s", symbol)
	}
	return price, nil
}

func (c *DexscreenerClient) search(ctx context.Context, symbol string) (*dexSearchResponse, error) {
	u := c.baseURL + "/latest/dex/search?q=" + url.QueryEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out dexSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode search response")
	}
	return &out, nil
}

// selectBestPair ranks candidate pairs for the symbol and returns the
// winner's USD price.
func selectBestPair(symbol string, pairs []dexPair) (decimal.Decimal, bool) {
	type ranked struct {
		score     int
		liquidity decimal.Decimal
		price     decimal.Decimal
	}

	candidates := make([]ranked, 0, len(pairs))
	for _, p := range pairs {
		base := strings.ToUpper(p.BaseToken.Symbol)
		if base == "" {
			continue
		}
		price, err := decimal.NewFromString(p.PriceUSD)
		if err != nil || !price.IsPositive() {
			continue
		}

		score := 0
		if base == symbol {
			score += 10
		}
		quote := strings.ToUpper(p.QuoteToken.Symbol)
		if _, ok := stableQuotes[quote]; ok {
			score += 5
		} else if _, ok := altQuotes[quote]; ok {
			score += 2
		}

		candidates = append(candidates, ranked{score: score, liquidity: p.Liquidity.USD, price: price})
	}

	if len(candidates) == 0 {
		return decimal.Decimal{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].liquidity.GreaterThan(candidates[j].liquidity)
	})

	return candidates[0].price, true
}
