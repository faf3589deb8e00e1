package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	CoinbaseName       = "coinbase"
	DefaultCoinbaseURL = "https://api.coinbase.com/v2/prices/BTC-USD/spot"
)

// Coinbase reads the Coinbase spot price endpoint.
type Coinbase struct {
	client *client
	url    string
}

// NewCoinbase creates a Coinbase source. An empty url uses DefaultCoinbaseURL.
func NewCoinbase(c *client, url string) *Coinbase {
	if url == "" {
		url = DefaultCoinbaseURL
	}
	return &Coinbase{client: c, url: url}
}

func (s *Coinbase) Name() string { return CoinbaseName }

type coinbaseSpot struct {
	Data struct {
		Amount   decimal.Decimal `json:"amount"`
		Base     string          `json:"base"`
		Currency string          `json:"currency"`
	} `json:"data"`
}

// FetchCentsPerBTC returns the BTC spot price in USD cents.
func (s *Coinbase) FetchCentsPerBTC(ctx context.Context) (int64, error) {
	body, err := s.client.get(ctx, s.url)
	if err != nil {
		return 0, fmt.Errorf("coinbase: %w", err)
	}

	var spot coinbaseSpot
	if err := json.Unmarshal(body, &spot); err != nil {
		return 0, fmt.Errorf("coinbase: parsing response: %w", err)
	}
	if spot.Data.Currency != "" && spot.Data.Currency != "USD" {
		return 0, fmt.Errorf("coinbase: %w: currency %s", ErrBadPrice, spot.Data.Currency)
	}

	cents, err := dollarsToCents(spot.Data.Amount)
	if err != nil {
		return 0, fmt.Errorf("coinbase: %w", err)
	}
	return cents, nil
}
