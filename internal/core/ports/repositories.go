package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"
	"time"

	"merchant-wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MerchantRepository defines persistence operations for merchants.
type MerchantRepository interface {
	Create(ctx context.Context, tx pgx.Tx, merchant *domain.Merchant) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error)
	GetByAccessKey(ctx context.Context, accessKey string) (*domain.Merchant, error)
	GetByUsername(ctx context.Context, username string) (*domain.Merchant, error)
}

// WalletRepository defines persistence for wallet accounts.
// AdjustBalance is the only write path to the balance column; it runs the
// adjust_wallet_balance procedure and returns domain.ErrWalletNotFound or
// *domain.InsufficientBalanceError for the typed failures.
type WalletRepository interface {
	Create(ctx context.Context, tx pgx.Tx, wallet *domain.WalletAccount) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WalletAccount, error)
	GetByMerchant(ctx context.Context, merchantID uuid.UUID, currency domain.Currency) (*domain.WalletAccount, error)
	ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]domain.WalletAccount, error)
	AdjustBalance(ctx context.Context, adj domain.BalanceAdjustment) (*domain.AdjustmentResult, error)
	AdjustReserved(ctx context.Context, walletID uuid.UUID, delta int64) (*domain.WalletAccount, error)
	SumBalances(ctx context.Context, currency domain.Currency) (int64, error)
}

// LedgerRepository reads the append-only wallet transaction ledger.
type LedgerRepository interface {
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.WalletTransaction, error)
	List(ctx context.Context, params LedgerListParams) ([]domain.WalletTransaction, int64, error)
	SumByTypes(ctx context.Context, types []domain.LedgerEntryType) (int64, error)
}

// LedgerListParams holds filter + pagination for ledger rows.
type LedgerListParams struct {
	MerchantID uuid.UUID
	WalletID   *uuid.UUID
	Type       *domain.LedgerEntryType
	Page       int
	PageSize   int
}

// AddressRepository persists derived receive addresses.
type AddressRepository interface {
	GetActive(ctx context.Context, merchantID uuid.UUID, purpose domain.AddressPurpose) (*domain.DerivedAddress, error)
	GetByAddress(ctx context.Context, address string) (*domain.DerivedAddress, error)
	// Create returns false when another ACTIVE address for the same merchant and purpose already exists.
	Create(ctx context.Context, addr *domain.DerivedAddress) (bool, error)
	Retire(ctx context.Context, merchantID uuid.UUID, purpose domain.AddressPurpose) (int64, error)
	MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	List(ctx context.Context, params AddressListParams) ([]domain.DerivedAddress, int64, error)
}

// AddressListParams holds filter + pagination for address listing.
type AddressListParams struct {
	MerchantID *uuid.UUID
	Purpose    *domain.AddressPurpose
	Status     *domain.AddressStatus
	Page       int
	PageSize   int
}

// AddressCounterRepository owns the per-purpose derivation counters.
type AddressCounterRepository interface {
	Get(ctx context.Context, purpose domain.AddressPurpose) (*domain.AddressCounter, error)
	// CompareAndSwap sets next_index to next only if it still equals expected.
	CompareAndSwap(ctx context.Context, purpose domain.AddressPurpose, expected uint32, next uint32) (bool, error)
	// Initialize creates the counter row if missing; returns false if it already existed.
	Initialize(ctx context.Context, purpose domain.AddressPurpose, start uint32) (bool, error)
}

// DepositRepository persists deposits. Progress writes are conditional on the
// status and confirmations the caller read, so concurrent observers cannot both
// win a transition or overwrite a higher count with a stale one.
type DepositRepository interface {
	GetByOutpoint(ctx context.Context, txid string, vout uint32) (*domain.Deposit, error)
	// Create returns false when a deposit for the same outpoint already exists.
	Create(ctx context.Context, deposit *domain.Deposit) (bool, error)
	UpdateProgress(ctx context.Context, current *domain.Deposit, upd domain.DepositUpdate) (bool, error)
	MarkCredited(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	List(ctx context.Context, params DepositListParams) ([]domain.Deposit, int64, error)
	CountPending(ctx context.Context, merchantID uuid.UUID) (int64, error)
	CountByStatus(ctx context.Context, status domain.DepositStatus) (int64, error)
	SumCredited(ctx context.Context) (int64, error)
}

// DepositListParams holds filter + pagination for deposit listing.
type DepositListParams struct {
	MerchantID *uuid.UUID
	Status     *domain.DepositStatus
	Page       int
	PageSize   int
}

// SettingsRepository is the platform key-value configuration store.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
