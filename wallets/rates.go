package wallets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/metartpay/chainpay/logger"
	"github.com/metartpay/chainpay/types"
)

// RateSource quotes the fiat price of one unit of a token.
type RateSource interface {
	Rate(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// fallbackNGNRate is the hardcoded USD-stablecoin/NGN rate used when no live
// quote is available.
var fallbackNGNRate = decimal.NewFromInt(1650)

// StaticRates quotes from a fixed table, falling back to the stablecoin NGN
// rate for unknown symbols.
type StaticRates struct {
	Table map[string]decimal.Decimal
}

func (s *StaticRates) Rate(_ context.Context, symbol string) (decimal.Decimal, error) {
	if s.Table != nil {
		if rate, ok := s.Table[strings.ToUpper(symbol)]; ok {
			return rate, nil
		}
	}
	return fallbackNGNRate, nil
}

// coinGeckoIDs maps token symbols to CoinGecko coin ids.
var coinGeckoIDs = map[string]string{
	"USDT": "tether",
	"USDC": "usd-coin",
	"SOL":  "solana",
	"ETH":  "ethereum",
	"BNB":  "binancecoin",
}

// CoinGeckoRates quotes live NGN prices from the CoinGecko simple-price API
// and falls back to the static table when the API is unreachable or the
// symbol is unknown.
type CoinGeckoRates struct {
	Client   *http.Client
	Fallback RateSource
	BaseURL  string
	log      logger.Logger
}

func NewCoinGeckoRates(log logger.Logger) *CoinGeckoRates {
	if log == nil {
		log = &logger.NoopLogger{}
	}
	return &CoinGeckoRates{
		Client:   &http.Client{Timeout: 10 * time.Second},
		Fallback: &StaticRates{},
		BaseURL:  "https://api.coingecko.com/api/v3",
		log:      log,
	}
}

func (c *CoinGeckoRates) Rate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	id, ok := coinGeckoIDs[strings.ToUpper(symbol)]
	if !ok {
		return c.Fallback.Rate(ctx, symbol)
	}

	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=ngn",
		c.BaseURL, url.QueryEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return c.fallback(ctx, symbol, err)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return c.fallback(ctx, symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.fallback(ctx, symbol, types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("rate api returned %d", resp.StatusCode), nil))
	}

	var body map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return c.fallback(ctx, symbol, err)
	}
	rate, ok := body[id]["ngn"]
	if !ok || !rate.IsPositive() {
		return c.fallback(ctx, symbol, nil)
	}
	return rate, nil
}

func (c *CoinGeckoRates) fallback(ctx context.Context, symbol string, cause error) (decimal.Decimal, error) {
	c.log.Warn("live rate unavailable, using fallback", map[string]any{
		"symbol": symbol,
		"error":  fmt.Sprint(cause),
	})
	return c.Fallback.Rate(ctx, symbol)
}
