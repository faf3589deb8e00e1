package domain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DepositStatus is the lifecycle state of an observed chain output.
type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "PENDING"
	DepositStatusConfirmed DepositStatus = "CONFIRMED"
	DepositStatusCredited  DepositStatus = "CREDITED"
	DepositStatusFlagged   DepositStatus = "FLAGGED"
)

// IsValid reports whether s is a known deposit status.
func (s DepositStatus) IsValid() bool {
	switch s {
	case DepositStatusPending, DepositStatusConfirmed, DepositStatusCredited, DepositStatusFlagged:
		return true
	}
	return false
}

// DefaultConfirmationThreshold applies when the settings store holds no value.
const DefaultConfirmationThreshold = 3

// Deposit is a payment to a derived address, keyed by (TxID, Vout).
type Deposit struct {
	ID            uuid.UUID      `json:"id"`
	MerchantID    uuid.UUID      `json:"merchant_id"`
	Purpose       AddressPurpose `json:"purpose"`
	Address       string         `json:"address"`
	TxID          string         `json:"txid"`
	Vout          uint32         `json:"vout"`
	AmountSats    int64          `json:"amount_sats"`
	Confirmations int64          `json:"confirmations"`
	BlockHeight   *int64         `json:"block_height,omitempty"`
	Status        DepositStatus  `json:"status"`
	FlagReason    *string        `json:"flag_reason,omitempty"`
	FirstSeenAt   time.Time      `json:"first_seen_at"`
	CreditedAt    *time.Time     `json:"credited_at,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// IdempotencyKey is the ledger key a credit of this deposit is tagged with.
func (d *Deposit) IdempotencyKey() string {
	return BuildDepositIdempotencyKey(d.TxID, d.Vout)
}

// ChainObservation is one record of the external chain feed.
// BlockHeight 0 means the transaction is not in a block.
type ChainObservation struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Address       string `json:"address"`
	AmountSats    int64  `json:"amount_sats"`
	Confirmations int64  `json:"confirmations"`
	BlockHeight   int64  `json:"block_height"`
	Orphaned      bool   `json:"orphaned"`
}

// ErrInvalidObservation marks feed records that can never be processed.
var ErrInvalidObservation = errors.New("invalid chain observation")

// Validate rejects malformed feed records.
func (o ChainObservation) Validate() error {
	if len(o.TxID) != 64 {
		return fmt.Errorf("%w: txid must be 64 hex characters", ErrInvalidObservation)
	}
	if _, err := hex.DecodeString(o.TxID); err != nil {
		return fmt.Errorf("%w: txid is not hex", ErrInvalidObservation)
	}
	if o.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidObservation)
	}
	if o.AmountSats <= 0 {
		return fmt.Errorf("%w: amount_sats must be positive", ErrInvalidObservation)
	}
	if o.Confirmations < 0 || o.BlockHeight < 0 {
		return fmt.Errorf("%w: confirmations and block_height must not be negative", ErrInvalidObservation)
	}
	return nil
}

// NewPendingDeposit builds the row created on first sighting of an output.
func NewPendingDeposit(obs ChainObservation, addr *DerivedAddress, now time.Time) *Deposit {
	return &Deposit{
		ID:          uuid.New(),
		MerchantID:  addr.MerchantID,
		Purpose:     addr.Purpose,
		Address:     addr.Address,
		TxID:        obs.TxID,
		Vout:        obs.Vout,
		AmountSats:  obs.AmountSats,
		Status:      DepositStatusPending,
		FirstSeenAt: now,
		UpdatedAt:   now,
	}
}

// DepositUpdate is the outcome of applying an observation to a stored deposit.
type DepositUpdate struct {
	Confirmations int64
	BlockHeight   *int64
	Status        DepositStatus
	FlagReason    string
	Changed       bool
}

// Apply evaluates obs against the stored deposit. Crediting is not decided here:
// a CONFIRMED result must go through the ledger before becoming CREDITED.
//
// Confirmation counts only move forward; an observation with a lower count for the
// same block is a stale delivery and leaves the count untouched. A reorg is an
// explicit orphan signal, a confirmation count measured from a different block,
// or a previously confirmed output reported back at zero confirmations.
func (d *Deposit) Apply(obs ChainObservation, threshold int64) DepositUpdate {
	if threshold < 1 {
		threshold = 1
	}
	upd := DepositUpdate{
		Confirmations: d.Confirmations,
		BlockHeight:   d.BlockHeight,
		Status:        d.Status,
	}
	if d.Status == DepositStatusFlagged {
		return upd
	}

	if reason := d.reorgReason(obs); reason != "" {
		switch d.Status {
		case DepositStatusConfirmed, DepositStatusCredited:
			upd.Status = DepositStatusFlagged
			upd.FlagReason = reason
		default:
			upd.Confirmations = obs.Confirmations
			upd.BlockHeight = heightPtr(obs.BlockHeight)
			// re-mined deep enough in the new block
			if !obs.Orphaned && upd.Confirmations >= threshold {
				upd.Status = DepositStatusConfirmed
			}
		}
		upd.Changed = true
		return upd
	}

	if obs.Confirmations > upd.Confirmations {
		upd.Confirmations = obs.Confirmations
		upd.Changed = true
	}
	if obs.BlockHeight > 0 && d.BlockHeight == nil {
		upd.BlockHeight = heightPtr(obs.BlockHeight)
		upd.Changed = true
	}
	if d.Status == DepositStatusPending && upd.Confirmations >= threshold {
		upd.Status = DepositStatusConfirmed
		upd.Changed = true
	}
	return upd
}

func (d *Deposit) reorgReason(obs ChainObservation) string {
	if obs.Orphaned {
		return "block no longer in canonical chain"
	}
	if d.BlockHeight != nil && obs.BlockHeight > 0 && obs.BlockHeight != *d.BlockHeight {
		return fmt.Sprintf("block height changed from %d to %d", *d.BlockHeight, obs.BlockHeight)
	}
	if d.Confirmations > 0 && obs.Confirmations == 0 {
		return fmt.Sprintf("confirmations regressed from %d to 0", d.Confirmations)
	}
	return ""
}

func heightPtr(h int64) *int64 {
	if h <= 0 {
		return nil
	}
	return &h
}
