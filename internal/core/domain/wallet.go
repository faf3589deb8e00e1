package domain

import (
	"time"

	"github.com/google/uuid"
)

// Currency identifies the unit a wallet account is kept in.
type Currency string

const (
	CurrencyUSD Currency = "USD" // amounts in cents
	CurrencyBTC Currency = "BTC" // amounts in satoshis
)

// IsValid reports whether c is a supported wallet currency.
func (c Currency) IsValid() bool {
	return c == CurrencyUSD || c == CurrencyBTC
}

// WalletAccount is a merchant's balance in one currency.
// Balance and Reserved are integer subunits (cents or satoshis).
type WalletAccount struct {
	ID         uuid.UUID `json:"id"`
	MerchantID uuid.UUID `json:"merchant_id"`
	Currency   Currency  `json:"currency"`
	Balance    int64     `json:"balance"`
	Reserved   int64     `json:"reserved"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Available is balance minus reservations, never negative.
// Reservations may transiently exceed the balance during multi-step order flows.
func (w *WalletAccount) Available() int64 {
	if avail := w.Balance - w.Reserved; avail > 0 {
		return avail
	}
	return 0
}

// WalletSummary is the storefront view of one wallet.
type WalletSummary struct {
	WalletID        uuid.UUID `json:"wallet_id"`
	Currency        Currency  `json:"currency"`
	Balance         int64     `json:"balance"`
	Reserved        int64     `json:"reserved"`
	Available       int64     `json:"available"`
	PendingDeposits int64     `json:"pending_deposits"`
}
