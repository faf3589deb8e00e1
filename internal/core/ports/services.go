package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"
	"time"

	"merchant-wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// EncryptionService handles AES-256-GCM encryption/decryption.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService handles HMAC-SHA256 request signing.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	BuildCanonicalString(method string, path string, timestamp int64, nonce string, body []byte) string
}

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(merchantID uuid.UUID, accessKey string, role domain.Role) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	MerchantID uuid.UUID
	AccessKey  string
	Role       domain.Role
}

// IdempotencyCache is the Redis fast path in front of the ledger's idempotency keys.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // nil, nil on miss
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// NonceStore manages nonce uniqueness for replay attack prevention.
type NonceStore interface {
	// CheckAndSet returns true if the nonce is new.
	CheckAndSet(ctx context.Context, merchantID string, nonce string, ttl time.Duration) (bool, error)
}

// RateCache keeps the last successfully fetched exchange rate.
type RateCache interface {
	GetLastKnown(ctx context.Context) (*domain.ExchangeRate, error) // nil, nil on miss
	SetLastKnown(ctx context.Context, rate *domain.ExchangeRate) error
}

// RateSource is one upstream BTC/USD price provider.
type RateSource interface {
	Name() string
	FetchCentsPerBTC(ctx context.Context) (int64, error)
}

// AddressDeriver derives receive addresses from extended public keys.
type AddressDeriver interface {
	// DeriveAddress derives m/0/index. An empty network keeps the network the key was encoded for.
	DeriveAddress(extendedKey string, index uint32, network domain.Network) (string, error)
	ValidateExtendedKey(key string) bool
	ValidateAddress(address string) bool
}

// --- Service Ports (Business Logic) ---

// SettingsService exposes typed access to platform configuration.
type SettingsService interface {
	ConfirmationThreshold(ctx context.Context) (int64, error)
	SetConfirmationThreshold(ctx context.Context, threshold int64) error
	// ExtendedKey returns the decrypted key for purpose; callers must not retain it.
	ExtendedKey(ctx context.Context, purpose domain.AddressPurpose) (string, error)
	SetExtendedKey(ctx context.Context, purpose domain.AddressPurpose, extendedKey string) error
}

// LedgerService is the single entry point for wallet balance and reservation changes.
type LedgerService interface {
	AdjustBalance(ctx context.Context, req domain.BalanceAdjustment) (*domain.AdjustmentResult, error)
	AdjustReserved(ctx context.Context, walletID uuid.UUID, delta int64) (*domain.WalletAccount, error)
	GetWallet(ctx context.Context, merchantID uuid.UUID, currency domain.Currency) (*domain.WalletAccount, error)
	GetWalletSummary(ctx context.Context, merchantID uuid.UUID, currency domain.Currency) (*domain.WalletSummary, error)
	ListWallets(ctx context.Context, merchantID uuid.UUID) ([]domain.WalletAccount, error)
	ListTransactions(ctx context.Context, params LedgerListParams) ([]domain.WalletTransaction, int64, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.WalletTransaction, error)
}

// AddressService allocates merchant receive addresses.
type AddressService interface {
	GetOrCreateAddress(ctx context.Context, merchantID uuid.UUID, purpose domain.AddressPurpose) (*domain.DerivedAddress, error)
	RotateAddress(ctx context.Context, merchantID uuid.UUID, purpose domain.AddressPurpose) (*domain.DerivedAddress, error)
	ListAddresses(ctx context.Context, params AddressListParams) ([]domain.DerivedAddress, int64, error)
}

// ObservationOutcome describes what an observation did to its deposit.
type ObservationOutcome string

const (
	OutcomeIgnored   ObservationOutcome = "IGNORED"
	OutcomeUnchanged ObservationOutcome = "UNCHANGED"
	OutcomePending   ObservationOutcome = "PENDING"
	OutcomeConfirmed ObservationOutcome = "CONFIRMED"
	OutcomeCredited  ObservationOutcome = "CREDITED"
	OutcomeFlagged   ObservationOutcome = "FLAGGED"
)

// ObservationResult is returned for each processed chain observation.
type ObservationResult struct {
	Outcome ObservationOutcome
	Deposit *domain.Deposit // nil when ignored
}

// BatchItemResult reports one record of an ingested batch.
type BatchItemResult struct {
	Index   int                `json:"index"`
	Outcome ObservationOutcome `json:"outcome,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// DepositService drives the deposit state machine from chain observations.
type DepositService interface {
	Observe(ctx context.Context, obs domain.ChainObservation) (*ObservationResult, error)
	ObserveBatch(ctx context.Context, batch []domain.ChainObservation) ([]BatchItemResult, error)
	ListDeposits(ctx context.Context, params DepositListParams) ([]domain.Deposit, int64, error)
	CountPending(ctx context.Context, merchantID uuid.UUID) (int64, error)
}

// ReconciliationService produces the deposit/ledger audit report.
type ReconciliationService interface {
	Reconcile(ctx context.Context) (*domain.ReconciliationReport, error)
}

// RateService returns the advisory BTC/USD exchange rate.
type RateService interface {
	CurrentRate(ctx context.Context) (*domain.ExchangeRate, error)
}

// AuthService defines authentication business logic.
type AuthService interface {
	Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error)
	Login(ctx context.Context, username string, password string) (string, time.Time, error)
}

// RegisterRequest holds input for merchant registration.
type RegisterRequest struct {
	Username     string
	Password     string
	MerchantName string
	Role         domain.Role // empty means MERCHANT; only operator tooling sets ADMIN
}

// RegisterResponse holds the registration result shown once.
type RegisterResponse struct {
	MerchantID uuid.UUID
	AccessKey  string
	SecretKey  string // plaintext, shown only at registration
}

// AuditService records audit entries as a best-effort background task.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
