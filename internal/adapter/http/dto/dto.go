package dto

import "merchant-wallet-ledger/internal/core/domain"

// RegisterRequest is the request body for merchant registration.
type RegisterRequest struct {
	Username     string `json:"username" binding:"required,min=3,max=50,safe_id"`
	Password     string `json:"password" binding:"required,min=8,max=128"`
	MerchantName string `json:"merchant_name" binding:"required,min=1,max=100"`
}

// LoginRequest is the request body for dashboard login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterResponse is the response body for successful registration.
type RegisterResponse struct {
	MerchantID string `json:"merchant_id"`
	AccessKey  string `json:"access_key"`
	SecretKey  string `json:"secret_key"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// DepositAddressRequest asks for the caller's current receive address.
type DepositAddressRequest struct {
	Purpose string `json:"purpose" binding:"omitempty,purpose"`
}

// RateQuote is the advisory BTC/USD price shown next to a deposit address.
type RateQuote struct {
	UsdCentsPerBTC int64  `json:"usd_cents_per_btc"`
	Source         string `json:"source"`
	FetchedAt      int64  `json:"fetched_at"` // Unix timestamp
	Stale          bool   `json:"stale"`
}

// DepositAddressResponse is returned to storefronts. Enabled is false when
// no extended key is configured for the purpose.
type DepositAddressResponse struct {
	Enabled         bool       `json:"enabled"`
	Purpose         string     `json:"purpose"`
	Address         string     `json:"address,omitempty"`
	DerivationIndex *uint32    `json:"derivation_index,omitempty"`
	Rate            *RateQuote `json:"rate,omitempty"`
}

// AdjustBalanceRequest is an operator balance correction.
type AdjustBalanceRequest struct {
	Amount         int64  `json:"amount" binding:"required,ne=0"`
	Type           string `json:"type" binding:"required"`
	ReferenceType  string `json:"reference_type" binding:"max=50"`
	ReferenceID    string `json:"reference_id" binding:"max=100"`
	Description    string `json:"description" binding:"max=500"`
	IdempotencyKey string `json:"idempotency_key" binding:"max=200"`
}

// AdjustReservedRequest moves the reserved amount by Delta (negative releases).
type AdjustReservedRequest struct {
	Delta int64 `json:"delta" binding:"required,ne=0"`
}

// RotateAddressRequest retires a merchant's active address.
type RotateAddressRequest struct {
	MerchantID string `json:"merchant_id" binding:"required,uuid"`
	Purpose    string `json:"purpose" binding:"omitempty,purpose"`
}

// ObservationBatchRequest carries chain-feed records pushed by an operator.
// Records are validated one by one so a bad record does not reject the batch.
type ObservationBatchRequest struct {
	Observations []domain.ChainObservation `json:"observations" binding:"required,min=1,max=500"`
}

// SetExtendedKeyRequest stores the account-level public key for a purpose.
type SetExtendedKeyRequest struct {
	Purpose     string `json:"purpose" binding:"omitempty,purpose"`
	ExtendedKey string `json:"extended_key" binding:"required,max=200"`
}

// SetConfirmationThresholdRequest changes how many confirmations a deposit needs.
type SetConfirmationThresholdRequest struct {
	Threshold int64 `json:"threshold" binding:"required,gte=1,lte=1000"`
}

// ReserveResponse echoes the wallet after a reservation change.
type ReserveResponse struct {
	WalletID  string `json:"wallet_id"`
	Balance   int64  `json:"balance"`
	Reserved  int64  `json:"reserved"`
	Available int64  `json:"available"`
}

// NewReserveResponse renders a wallet after AdjustReserved.
func NewReserveResponse(w *domain.WalletAccount) ReserveResponse {
	return ReserveResponse{
		WalletID:  w.ID.String(),
		Balance:   w.Balance,
		Reserved:  w.Reserved,
		Available: w.Available(),
	}
}
