// Package pricefeed fetches advisory BTC/USD spot prices from public exchanges.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"merchant-wallet-ledger/internal/core/ports"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const maxResponseBody = 64 << 10

var (
	// ErrUpstream is returned for non-200 answers from a price source.
	ErrUpstream = errors.New("price source returned an error")
	// ErrBadPrice is returned when a source answers with a missing or non-positive price.
	ErrBadPrice = errors.New("price source returned an unusable price")
)

// Options configures every source built by New.
type Options struct {
	HTTPClient        *http.Client
	RequestsPerSecond float64
	CoinbaseURL       string
	CoinGeckoURL      string
}

// New builds the named sources in order. Unknown names are an error.
func New(names []string, opts Options) ([]ports.RateSource, error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 1
	}

	sources := make([]ports.RateSource, 0, len(names))
	for _, name := range names {
		base := newClient(opts.HTTPClient, opts.RequestsPerSecond)
		switch name {
		case CoinbaseName:
			sources = append(sources, NewCoinbase(base, opts.CoinbaseURL))
		case CoinGeckoName:
			sources = append(sources, NewCoinGecko(base, opts.CoinGeckoURL))
		default:
			return nil, fmt.Errorf("unknown rate source %q", name)
		}
	}
	return sources, nil
}

// client is the throttled HTTP getter shared by the sources.
type client struct {
	http    *http.Client
	limiter *rate.Limiter
}

func newClient(hc *http.Client, rps float64) *client {
	return &client{http: hc, limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (c *client) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	return body, nil
}

// dollarsToCents rounds a USD price to whole cents.
func dollarsToCents(usd decimal.Decimal) (int64, error) {
	cents := usd.Shift(2).Round(0)
	if !cents.IsPositive() {
		return 0, fmt.Errorf("%w: %s", ErrBadPrice, usd.String())
	}
	return cents.IntPart(), nil
}
