package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SatsPerBTC is the number of satoshis in one bitcoin.
const SatsPerBTC = 100_000_000

// ExchangeRate is an advisory BTC/USD price in integer cents.
type ExchangeRate struct {
	CentsPerBTC int64     `json:"usd_cents_per_btc"`
	Source      string    `json:"source"`
	FetchedAt   time.Time `json:"fetched_at"`
	Stale       bool      `json:"stale"`
}

// SatsToCents converts a satoshi amount to USD cents, rounding half away from zero.
func (r ExchangeRate) SatsToCents(sats int64) int64 {
	return decimal.NewFromInt(sats).
		Mul(decimal.NewFromInt(r.CentsPerBTC)).
		Div(decimal.NewFromInt(SatsPerBTC)).
		Round(0).
		IntPart()
}

// CentsToSats converts a USD cent amount to satoshis, rounding half away from zero.
func (r ExchangeRate) CentsToSats(cents int64) int64 {
	if r.CentsPerBTC <= 0 {
		return 0
	}
	return decimal.NewFromInt(cents).
		Mul(decimal.NewFromInt(SatsPerBTC)).
		Div(decimal.NewFromInt(r.CentsPerBTC)).
		Round(0).
		IntPart()
}
