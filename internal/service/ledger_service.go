package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"
	"merchant-wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const idempotencyTTL = 24 * time.Hour

// LedgerServiceImpl implements ports.LedgerService. Every balance change goes
// through the adjust_wallet_balance procedure; Redis only short-circuits replays.
type LedgerServiceImpl struct {
	wallets    ports.WalletRepository
	ledger     ports.LedgerRepository
	deposits   ports.DepositRepository
	idempCache ports.IdempotencyCache
	log        zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	wallets ports.WalletRepository,
	ledger ports.LedgerRepository,
	deposits ports.DepositRepository,
	idempCache ports.IdempotencyCache,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		wallets:    wallets,
		ledger:     ledger,
		deposits:   deposits,
		idempCache: idempCache,
		log:        log.With().Str("component", "ledger").Logger(),
	}
}

// AdjustBalance applies a signed amount to a wallet and appends its ledger row.
// Repeating a request with the same idempotency key returns the first result;
// reusing the key for a different wallet, amount or type is rejected.
func (s *LedgerServiceImpl) AdjustBalance(ctx context.Context, req domain.BalanceAdjustment) (*domain.AdjustmentResult, error) {
	if req.Amount == 0 {
		return nil, apperror.Validation("amount must not be zero")
	}
	if !req.Type.IsValid() {
		return nil, apperror.Validation(fmt.Sprintf("unknown ledger entry type %q", req.Type))
	}
	if req.Type != domain.LedgerEntryBTCDeposit && domain.IsDepositIdempotencyKey(req.IdempotencyKey) {
		return nil, apperror.Validation(fmt.Sprintf("idempotency keys starting with %q are reserved for deposit credits", domain.DepositKeyPrefix))
	}

	if req.IdempotencyKey != "" {
		res, err := s.cachedResult(ctx, req)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}

	res, err := s.wallets.AdjustBalance(ctx, req)
	if err != nil {
		return nil, mapLedgerError(err)
	}

	if req.IdempotencyKey != "" {
		s.cacheResult(ctx, req, res)
	}

	s.log.Info().
		Str("wallet_id", req.WalletID.String()).
		Str("type", string(req.Type)).
		Int64("amount", req.Amount).
		Int64("new_balance", res.NewBalance).
		Bool("replayed", res.Replayed).
		Msg("balance adjusted")

	return res, nil
}

// cachedAdjustment is the Redis value stored under an idempotency key.
type cachedAdjustment struct {
	WalletID uuid.UUID               `json:"wallet_id"`
	Amount   int64                   `json:"amount"`
	Type     domain.LedgerEntryType  `json:"type"`
	Result   domain.AdjustmentResult `json:"result"`
}

func (c cachedAdjustment) matches(req domain.BalanceAdjustment) bool {
	return c.WalletID == req.WalletID && c.Amount == req.Amount && c.Type == req.Type
}

func (s *LedgerServiceImpl) cachedResult(ctx context.Context, req domain.BalanceAdjustment) (*domain.AdjustmentResult, error) {
	key := req.IdempotencyKey
	cached, err := s.idempCache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
		return nil, nil
	}
	if cached == nil {
		return nil, nil
	}
	var entry cachedAdjustment
	if err := json.Unmarshal(cached, &entry); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("discarding unreadable cached adjustment")
		return nil, nil
	}
	if !entry.matches(req) {
		s.log.Warn().Str("key", key).Str("wallet_id", req.WalletID.String()).Msg("idempotency key reused with different parameters")
		return nil, apperror.ErrIdempotencyConflict()
	}
	res := entry.Result
	res.Replayed = true
	return &res, nil
}

func (s *LedgerServiceImpl) cacheResult(ctx context.Context, req domain.BalanceAdjustment, res *domain.AdjustmentResult) {
	key := req.IdempotencyKey
	payload, err := json.Marshal(cachedAdjustment{
		WalletID: req.WalletID,
		Amount:   req.Amount,
		Type:     req.Type,
		Result:   *res,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("marshal adjustment for cache")
		return
	}
	if err := s.idempCache.Set(ctx, key, payload, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache idempotency in redis")
	}
}

func mapLedgerError(err error) error {
	var insufficient *domain.InsufficientBalanceError
	switch {
	case errors.Is(err, domain.ErrWalletNotFound):
		return apperror.ErrWalletNotFound()
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return apperror.ErrIdempotencyConflict()
	case errors.As(err, &insufficient):
		return apperror.ErrInsufficientBalance(insufficient.Attempted, insufficient.Available)
	default:
		return apperror.ErrWalletOperation(err)
	}
}

// AdjustReserved moves the reservation by delta. The result is clamped at zero,
// so releasing more than is reserved leaves nothing reserved.
func (s *LedgerServiceImpl) AdjustReserved(ctx context.Context, walletID uuid.UUID, delta int64) (*domain.WalletAccount, error) {
	if delta == 0 {
		return nil, apperror.Validation("delta must not be zero")
	}
	w, err := s.wallets.AdjustReserved(ctx, walletID, delta)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	s.log.Info().Str("wallet_id", walletID.String()).Int64("delta", delta).Int64("reserved", w.Reserved).Msg("reservation adjusted")
	return w, nil
}

// GetWallet returns the merchant's wallet in currency.
func (s *LedgerServiceImpl) GetWallet(ctx context.Context, merchantID uuid.UUID, currency domain.Currency) (*domain.WalletAccount, error) {
	w, err := s.wallets.GetByMerchant(ctx, merchantID, currency)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if w == nil {
		return nil, apperror.ErrWalletNotFound()
	}
	return w, nil
}

// GetWalletSummary returns balances together with the count of uncredited deposits.
// Pending deposits are only counted for BTC wallets.
func (s *LedgerServiceImpl) GetWalletSummary(ctx context.Context, merchantID uuid.UUID, currency domain.Currency) (*domain.WalletSummary, error) {
	w, err := s.GetWallet(ctx, merchantID, currency)
	if err != nil {
		return nil, err
	}

	summary := &domain.WalletSummary{
		WalletID:  w.ID,
		Currency:  w.Currency,
		Balance:   w.Balance,
		Reserved:  w.Reserved,
		Available: w.Available(),
	}
	if currency == domain.CurrencyBTC {
		if summary.PendingDeposits, err = s.deposits.CountPending(ctx, merchantID); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("count pending deposits: %w", err))
		}
	}
	return summary, nil
}

// ListWallets returns all wallets of a merchant.
func (s *LedgerServiceImpl) ListWallets(ctx context.Context, merchantID uuid.UUID) ([]domain.WalletAccount, error) {
	wallets, err := s.wallets.ListByMerchant(ctx, merchantID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list wallets: %w", err))
	}
	if wallets == nil {
		wallets = []domain.WalletAccount{}
	}
	return wallets, nil
}

// ListTransactions returns a page of ledger rows for a merchant.
func (s *LedgerServiceImpl) ListTransactions(ctx context.Context, params ports.LedgerListParams) ([]domain.WalletTransaction, int64, error) {
	params.Page, params.PageSize = normalizePage(params.Page, params.PageSize)
	rows, total, err := s.ledger.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list ledger: %w", err))
	}
	if rows == nil {
		rows = []domain.WalletTransaction{}
	}
	return rows, total, nil
}

// FindByIdempotencyKey returns the ledger row tagged with key, or nil.
func (s *LedgerServiceImpl) FindByIdempotencyKey(ctx context.Context, key string) (*domain.WalletTransaction, error) {
	tx, err := s.ledger.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find ledger row: %w", err))
	}
	return tx, nil
}
