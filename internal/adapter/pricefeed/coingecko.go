package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	CoinGeckoName       = "coingecko"
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd"
)

// CoinGecko reads the CoinGecko simple price endpoint.
type CoinGecko struct {
	client *client
	url    string
}

// NewCoinGecko creates a CoinGecko source. An empty url uses DefaultCoinGeckoURL.
func NewCoinGecko(c *client, url string) *CoinGecko {
	if url == "" {
		url = DefaultCoinGeckoURL
	}
	return &CoinGecko{client: c, url: url}
}

func (s *CoinGecko) Name() string { return CoinGeckoName }

// FetchCentsPerBTC returns the BTC price in USD cents.
func (s *CoinGecko) FetchCentsPerBTC(ctx context.Context) (int64, error) {
	body, err := s.client.get(ctx, s.url)
	if err != nil {
		return 0, fmt.Errorf("coingecko: %w", err)
	}

	// {"bitcoin":{"usd":65000.12}}
	var prices map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &prices); err != nil {
		return 0, fmt.Errorf("coingecko: parsing response: %w", err)
	}
	usd, ok := prices["bitcoin"]["usd"]
	if !ok {
		return 0, fmt.Errorf("coingecko: %w: bitcoin.usd missing", ErrBadPrice)
	}

	cents, err := dollarsToCents(usd)
	if err != nil {
		return 0, fmt.Errorf("coingecko: %w", err)
	}
	return cents, nil
}
