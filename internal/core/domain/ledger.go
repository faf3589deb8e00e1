package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LedgerEntryType tags the business reason of a wallet transaction.
type LedgerEntryType string

const (
	LedgerEntryBTCDeposit         LedgerEntryType = "BTC_DEPOSIT"
	LedgerEntryManualTopup        LedgerEntryType = "MANUAL_TOPUP"
	LedgerEntryManualDebit        LedgerEntryType = "MANUAL_DEBIT"
	LedgerEntryOrderSettlement    LedgerEntryType = "ORDER_SETTLEMENT"
	LedgerEntryRefund             LedgerEntryType = "REFUND"
	LedgerEntryReservationRelease LedgerEntryType = "RESERVATION_RELEASE"
)

// BTCDepositEntryTypes are the entry types summed as "ledger total" during reconciliation.
var BTCDepositEntryTypes = []LedgerEntryType{LedgerEntryBTCDeposit}

// IsValid reports whether t is a known entry type.
func (t LedgerEntryType) IsValid() bool {
	switch t {
	case LedgerEntryBTCDeposit, LedgerEntryManualTopup, LedgerEntryManualDebit,
		LedgerEntryOrderSettlement, LedgerEntryRefund, LedgerEntryReservationRelease:
		return true
	}
	return false
}

// WalletTransaction is an append-only ledger row.
type WalletTransaction struct {
	ID             uuid.UUID       `json:"id"`
	MerchantID     uuid.UUID       `json:"merchant_id"`
	WalletID       uuid.UUID       `json:"wallet_id"`
	Type           LedgerEntryType `json:"type"`
	Amount         int64           `json:"amount"` // signed subunits
	BalanceAfter   int64           `json:"balance_after"`
	ReferenceType  string          `json:"reference_type"`
	ReferenceID    string          `json:"reference_id"`
	Description    string          `json:"description"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// BalanceAdjustment is the input of the single balance-mutation entry point.
type BalanceAdjustment struct {
	WalletID       uuid.UUID
	MerchantID     uuid.UUID
	Amount         int64
	Type           LedgerEntryType
	ReferenceType  string
	ReferenceID    string
	Description    string
	IdempotencyKey string // empty means not idempotent
}

// AdjustmentResult is what an applied (or replayed) adjustment returns.
type AdjustmentResult struct {
	NewBalance    int64     `json:"new_balance"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Replayed      bool      `json:"replayed"`
}

// ErrWalletNotFound is returned by ledger storage when the wallet id does not resolve.
var ErrWalletNotFound = errors.New("wallet not found")

// ErrIdempotencyConflict is returned when an idempotency key already tags a
// ledger row with a different wallet, amount or type.
var ErrIdempotencyConflict = errors.New("idempotency key reused with different parameters")

// InsufficientBalanceError is returned when a debit would drive the balance below zero.
type InsufficientBalanceError struct {
	Attempted int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: attempted %d, available %d", e.Attempted, e.Available)
}
