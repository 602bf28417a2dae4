package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/holdwatch/holdwatch/internal/clients"
	"github.com/holdwatch/holdwatch/internal/holdings"
)

const (
	defaultLedgerDir           = "wal"
	defaultPriceSource         = "dexscreener"
	defaultOversellPolicy      = "clip"
	defaultNativeSymbol        = "CRO"
	defaultPriceTTL            = time.Minute
	defaultPriceMaxEntries     = 512
	defaultRefreshTimeout      = 10 * time.Second
	defaultBalancePollInterval = time.Minute
	defaultPricePollInterval   = 30 * time.Second
	defaultGuardCooldown       = 30 * time.Minute
)

type Config struct {
	Wallet       string
	RPCURL       string
	NativeSymbol string
	Tokens       []clients.TokenConfig
	Aliases      holdings.AliasMap

	LedgerDir      string
	OversellPolicy string

	PriceSource    string
	PriceTTL       time.Duration
	PriceMaxCached int
	RefreshTimeout time.Duration

	TrailingStopPct decimal.Decimal
	GuardCooldown   time.Duration

	BalancePollInterval time.Duration
	PricePollInterval   time.Duration
}

type tokenTmp struct {
	Symbol   string `yaml:"symbol"`
	Contract string `yaml:"contract"`
	Decimals int32  `yaml:"decimals"`
}

type configTmp struct {
	Wallet       string            `yaml:"wallet"`
	RPCURL       string            `yaml:"rpc_url"`
	NativeSymbol string            `yaml:"native_symbol,omitempty"`
	Tokens       []tokenTmp        `yaml:"tokens,omitempty"`
	Aliases      map[string]string `yaml:"aliases,omitempty"`

	LedgerDir      string `yaml:"ledger_dir,omitempty"`
	OversellPolicy string `yaml:"oversell_policy,omitempty"`

	PriceSource       string        `yaml:"price_source,omitempty"`
	PriceTTL          time.Duration `yaml:"price_ttl,omitempty"`
	PriceMaxCached    int           `yaml:"price_max_cached,omitempty"`
	RefreshTimeout    time.Duration `yaml:"refresh_timeout,omitempty"`
	TrailingStopPct   string        `yaml:"trailing_stop_pct"`
	GuardCooldown     time.Duration `yaml:"guard_cooldown,omitempty"`
	BalancePollEvery  time.Duration `yaml:"balance_poll_interval,omitempty"`
	PricePollInterval time.Duration `yaml:"price_poll_interval,omitempty"`
}

// Get loads the configuration from the yaml file named by --config.
func Get() (Config, error) {
	path := flag.String("config", "config.yaml", "path to yaml config")
	flag.Parse()

	return getYaml(*path)
}

func getYaml(path string) (Config, error) {
	var tmp configTmp

	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, err
	}

	if tmp.Wallet == "" {
		return Config{}, fmt.Errorf("missing 'wallet' param in yaml config")
	}
	if tmp.RPCURL == "" {
		return Config{}, fmt.Errorf("missing 'rpc_url' param in yaml config")
	}

	cfg := Config{
		Wallet:              tmp.Wallet,
		RPCURL:              tmp.RPCURL,
		NativeSymbol:        defaultNativeSymbol,
		Aliases:             holdings.AliasMap(tmp.Aliases),
		LedgerDir:           defaultLedgerDir,
		OversellPolicy:      defaultOversellPolicy,
		PriceSource:         defaultPriceSource,
		PriceTTL:            defaultPriceTTL,
		PriceMaxCached:      defaultPriceMaxEntries,
		RefreshTimeout:      defaultRefreshTimeout,
		GuardCooldown:       defaultGuardCooldown,
		BalancePollInterval: defaultBalancePollInterval,
		PricePollInterval:   defaultPricePollInterval,
	}

	if tmp.NativeSymbol != "" {
		cfg.NativeSymbol = strings.ToUpper(tmp.NativeSymbol)
	}
	if tmp.LedgerDir != "" {
		cfg.LedgerDir = tmp.LedgerDir
	}
	if tmp.OversellPolicy != "" {
		switch tmp.OversellPolicy {
		case "clip", "reject":
			cfg.OversellPolicy = tmp.OversellPolicy
		default:
			return Config{}, fmt.Errorf("incorrect 'oversell_policy' param in yaml config: %s (must be clip or reject)", tmp.OversellPolicy)
		}
	}
	if tmp.PriceSource != "" {
		switch tmp.PriceSource {
		case "dexscreener", "binance":
			cfg.PriceSource = tmp.PriceSource
		default:
			return Config{}, fmt.Errorf("incorrect 'price_source' param in yaml config: %s (must be dexscreener or binance)", tmp.PriceSource)
		}
	}
	if tmp.PriceTTL > 0 {
		cfg.PriceTTL = tmp.PriceTTL
	}
	if tmp.PriceMaxCached > 0 {
		cfg.PriceMaxCached = tmp.PriceMaxCached
	}
	if tmp.RefreshTimeout > 0 {
		cfg.RefreshTimeout = tmp.RefreshTimeout
	}
	if tmp.GuardCooldown > 0 {
		cfg.GuardCooldown = tmp.GuardCooldown
	}
	if tmp.BalancePollEvery > 0 {
		cfg.BalancePollInterval = tmp.BalancePollEvery
	}
	if tmp.PricePollInterval > 0 {
		cfg.PricePollInterval = tmp.PricePollInterval
	}

	if tmp.TrailingStopPct == "" {
		return Config{}, fmt.Errorf("missing 'trailing_stop_pct' param in yaml config")
	}
	pct, err := decimal.NewFromString(tmp.TrailingStopPct)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'trailing_stop_pct' param in yaml config (correct format is 0.10), error: %w", err)
	}
	if !pct.IsPositive() || pct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Config{}, fmt.Errorf("incorrect 'trailing_stop_pct' param in yaml config: %s (must be in (0,1))", pct)
	}
	cfg.TrailingStopPct = pct

	for _, t := range tmp.Tokens {
		if t.Symbol == "" || t.Contract == "" {
			return Config{}, fmt.Errorf("incorrect token entry in yaml config: symbol and contract are required")
		}
		if t.Decimals <= 0 {
			t.Decimals = 18
		}
		cfg.Tokens = append(cfg.Tokens, clients.TokenConfig{
			Symbol:   strings.ToUpper(t.Symbol),
			Contract: t.Contract,
			Decimals: t.Decimals,
		})
	}

	return cfg, nil
}
