package clients

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/holdwatch/holdwatch/pkg/retrier"
)

// TokenConfig describes one ERC-20 token to read balances for.
type TokenConfig struct {
	Symbol   string
	Contract string
	Decimals int32
}

// balanceOf(address) selector
var balanceOfSelector = common.Hex2Bytes("70a08231")

// CronosClient is the live balance feed: native coin balance plus
// configured ERC-20 balances over JSON-RPC. It fails the whole fetch
// on any provider error rather than reporting an unknown balance as
// zero; the caller keeps its previous reading and retries next tick.
type CronosClient struct {
	eth            *ethclient.Client
	nativeSymbol   string
	nativeDecimals int32
	tokens         []TokenConfig
	retry          *retrier.Retrier
}

func NewCronosClient(rpcURL, nativeSymbol string, tokens []TokenConfig) (*CronosClient, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "dial rpc %s", rpcURL)
	}

	return &CronosClient{
		eth:            eth,
		nativeSymbol:   strings.ToUpper(strings.TrimSpace(nativeSymbol)),
		nativeDecimals: 18,
		tokens:         tokens,
		retry:          retrier.New(retrier.WithMaxRetries(2)),
	}, nil
}

// FetchBalances reads the wallet's native and token balances at the
// latest block. Raw integer amounts convert to decimals with each
// token's configured precision (wei carries 18).
func (c *CronosClient) FetchBalances(ctx context.Context, wallet string) (map[string]decimal.Decimal, error) {
	if !common.IsHexAddress(wallet) {
		return nil, errors.Errorf("invalid wallet address %q", wallet)
	}
	addr := common.HexToAddress(wallet)

	out := make(map[string]decimal.Decimal, len(c.tokens)+1)

	wei, err := retrier.DoWithData(c.retry, ctx, func(ctx context.Context) (*big.Int, error) {
		return c.eth.BalanceAt(ctx, addr, nil)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "native balance for %s", wallet)
	}
	out[c.nativeSymbol] = decimal.NewFromBigInt(wei, -c.nativeDecimals)

	callData := append(append([]byte{}, balanceOfSelector...), common.LeftPadBytes(addr.Bytes(), 32)...)
	for _, token := range c.tokens {
		contract := common.HexToAddress(token.Contract)
		msg := ethereum.CallMsg{To: &contract, Data: callData}

		raw, err := retrier.DoWithData(c.retry, ctx, func(ctx context.Context) ([]byte, error) {
			return c.eth.CallContract(ctx, msg, nil)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "balanceOf %s (%s)", token.Symbol, token.Contract)
		}

		amount := new(big.Int).SetBytes(raw)
		out[strings.ToUpper(token.Symbol)] = decimal.NewFromBigInt(amount, -token.Decimals)
	}

	return out, nil
}

// Close releases the underlying RPC connection.
func (c *CronosClient) Close() {
	c.eth.Close()
}
