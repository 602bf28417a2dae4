package clients

import (
	"context"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// BinancePricer is an alternate price source for symbols that trade on
// the exchange. Prices come from the USDT spot ticker.
type BinancePricer struct {
	client *binance.Client
}

func NewBinancePricer(apiKey, apiSecret string) *BinancePricer {
	return &BinancePricer{client: binance.NewClient(apiKey, apiSecret)}
}

// FetchPrice implements the price source interface of the cache.
func (p *BinancePricer) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ticker := strings.ToUpper(strings.TrimSpace(symbol)) + "USDT"

	prices, err := p.client.NewListPricesService().Symbol(ticker).Do(ctx)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "list prices for %s", ticker)
	}
	if len(prices) == 0 {
		return decimal.Decimal{}, errors.Errorf("binance returned no prices for %s", ticker)
	}

	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse price %q", prices[0].Price)
	}
	return price, nil
}
