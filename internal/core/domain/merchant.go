package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// MerchantStatus represents the state of a merchant account.
type MerchantStatus string

const (
	MerchantStatusActive      MerchantStatus = "ACTIVE"
	MerchantStatusSuspended   MerchantStatus = "SUSPENDED"
	MerchantStatusDeactivated MerchantStatus = "DEACTIVATED"
)

// Role scopes what a dashboard token may reach.
type Role string

const (
	RoleMerchant Role = "MERCHANT"
	RoleAdmin    Role = "ADMIN"
)

// ErrUsernameTaken is returned by storage when the username is already registered.
var ErrUsernameTaken = errors.New("username already taken")

// Merchant is a storefront operator holding wallets and deposit addresses.
type Merchant struct {
	ID           uuid.UUID      `json:"id"`
	Username     string         `json:"username"`
	PasswordHash string         `json:"-"`
	MerchantName string         `json:"merchant_name"`
	AccessKey    string         `json:"access_key"`
	SecretKeyEnc string         `json:"-"` // AES-GCM ciphertext of the HMAC secret
	Role         Role           `json:"role"`
	Status       MerchantStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// IsActive returns true if the merchant account is active.
func (m *Merchant) IsActive() bool {
	return m.Status == MerchantStatusActive
}

// IsAdmin reports whether the merchant may use the admin API.
func (m *Merchant) IsAdmin() bool {
	return m.Role == RoleAdmin
}
