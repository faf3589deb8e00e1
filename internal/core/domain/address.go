package domain

import (
	"time"

	"github.com/google/uuid"
)

// Network selects the chain parameters used for address encoding.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// AddressPurpose namespaces derivation counters and extended keys.
type AddressPurpose string

const (
	PurposeTopup AddressPurpose = "TOPUP"
)

// AddressStatus is the lifecycle of a derived address.
type AddressStatus string

const (
	AddressStatusActive  AddressStatus = "ACTIVE"
	AddressStatusRetired AddressStatus = "RETIRED"
)

// DerivedAddress is a receive address allocated to a merchant.
// (Purpose, DerivationIndex) is globally unique.
type DerivedAddress struct {
	ID              uuid.UUID      `json:"id"`
	MerchantID      uuid.UUID      `json:"merchant_id"`
	Purpose         AddressPurpose `json:"purpose"`
	DerivationIndex uint32         `json:"derivation_index"`
	Address         string         `json:"address"`
	Status          AddressStatus  `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	UsedAt          *time.Time     `json:"used_at,omitempty"`
}

// AddressCounter holds the next derivation index to hand out for a purpose.
type AddressCounter struct {
	Purpose   AddressPurpose `json:"purpose"`
	NextIndex uint32         `json:"next_index"`
}
