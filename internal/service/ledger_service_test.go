package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"
	"merchant-wallet-ledger/internal/core/ports/mocks"
	"merchant-wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type ledgerFixture struct {
	wallets  *mocks.MockWalletRepository
	ledger   *mocks.MockLedgerRepository
	deposits *mocks.MockDepositRepository
	cache    *mocks.MockIdempotencyCache
	svc      *LedgerServiceImpl
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	ctrl := gomock.NewController(t)
	f := &ledgerFixture{
		wallets:  mocks.NewMockWalletRepository(ctrl),
		ledger:   mocks.NewMockLedgerRepository(ctrl),
		deposits: mocks.NewMockDepositRepository(ctrl),
		cache:    mocks.NewMockIdempotencyCache(ctrl),
	}
	f.svc = NewLedgerService(f.wallets, f.ledger, f.deposits, f.cache, newTestLogger())
	return f
}

func topup(walletID uuid.UUID, amount int64, key string) domain.BalanceAdjustment {
	return domain.BalanceAdjustment{
		WalletID:       walletID,
		Amount:         amount,
		Type:           domain.LedgerEntryManualTopup,
		ReferenceType:  "admin",
		IdempotencyKey: key,
	}
}

func TestLedgerService_AdjustBalance_AppliesAndCaches(t *testing.T) {
	f := newLedgerFixture(t)
	walletID := uuid.New()
	txID := uuid.New()

	f.cache.EXPECT().Get(gomock.Any(), "k1").Return(nil, nil)
	f.wallets.EXPECT().AdjustBalance(gomock.Any(), topup(walletID, 500, "k1")).
		Return(&domain.AdjustmentResult{NewBalance: 500, TransactionID: txID}, nil)
	f.cache.EXPECT().Set(gomock.Any(), "k1", gomock.Any(), idempotencyTTL).DoAndReturn(
		func(_ context.Context, _ string, v []byte, _ time.Duration) error {
			var cached cachedAdjustment
			require.NoError(t, json.Unmarshal(v, &cached))
			assert.Equal(t, txID, cached.Result.TransactionID)
			assert.Equal(t, walletID, cached.WalletID)
			assert.Equal(t, int64(500), cached.Amount)
			return nil
		})

	res, err := f.svc.AdjustBalance(context.Background(), topup(walletID, 500, "k1"))
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.NewBalance)
	assert.False(t, res.Replayed)
}

func TestLedgerService_AdjustBalance_CacheHitIsReplay(t *testing.T) {
	f := newLedgerFixture(t)
	walletID := uuid.New()
	txID := uuid.New()
	payload, _ := json.Marshal(cachedAdjustment{
		WalletID: walletID,
		Amount:   500,
		Type:     domain.LedgerEntryManualTopup,
		Result:   domain.AdjustmentResult{NewBalance: 700, TransactionID: txID},
	})

	f.cache.EXPECT().Get(gomock.Any(), "k1").Return(payload, nil)

	res, err := f.svc.AdjustBalance(context.Background(), topup(walletID, 500, "k1"))
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, txID, res.TransactionID)
}

func TestLedgerService_AdjustBalance_CacheHitWithDifferentParamsConflicts(t *testing.T) {
	walletID := uuid.New()
	payload, _ := json.Marshal(cachedAdjustment{
		WalletID: walletID,
		Amount:   500,
		Type:     domain.LedgerEntryManualTopup,
		Result:   domain.AdjustmentResult{NewBalance: 500, TransactionID: uuid.New()},
	})

	tests := []struct {
		name string
		req  domain.BalanceAdjustment
	}{
		{"other wallet", topup(uuid.New(), 500, "k1")},
		{"other amount", topup(walletID, 900, "k1")},
		{"other type", func() domain.BalanceAdjustment {
			r := topup(walletID, 500, "k1")
			r.Type = domain.LedgerEntryOrderSettlement
			return r
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLedgerFixture(t)
			f.cache.EXPECT().Get(gomock.Any(), "k1").Return(payload, nil)

			_, err := f.svc.AdjustBalance(context.Background(), tt.req)
			assert.True(t, apperror.HasCode(err, "WAL_004"), "got %v", err)
		})
	}
}

func TestLedgerService_AdjustBalance_RejectsDepositKeyNamespace(t *testing.T) {
	f := newLedgerFixture(t)

	for _, key := range []string{
		domain.BuildDepositIdempotencyKey(depositTxID, 0),
		"BTC_DEPOSIT:anything",
	} {
		_, err := f.svc.AdjustBalance(context.Background(), topup(uuid.New(), 1, key))
		assert.True(t, apperror.HasCode(err, "VAL_001"), "key %q: got %v", key, err)
	}
}

func TestLedgerService_AdjustBalance_ReplayWithDifferentParamsConflicts(t *testing.T) {
	walletID := uuid.New()
	store := newMemWallets(&domain.WalletAccount{ID: walletID, Currency: domain.CurrencyUSD})
	svc := NewLedgerService(store, store, newMemDeposits(), nopCache{}, newTestLogger())

	_, err := svc.AdjustBalance(context.Background(), topup(walletID, 500, "order-1"))
	require.NoError(t, err)

	_, err = svc.AdjustBalance(context.Background(), topup(walletID, 700, "order-1"))
	assert.True(t, apperror.HasCode(err, "WAL_004"), "got %v", err)

	res, err := svc.AdjustBalance(context.Background(), topup(walletID, 500, "order-1"))
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, int64(500), res.NewBalance)
	assert.Equal(t, 1, store.entries())
}

func TestLedgerService_AdjustBalance_CacheFailureFallsThrough(t *testing.T) {
	f := newLedgerFixture(t)

	f.cache.EXPECT().Get(gomock.Any(), "k1").Return(nil, errors.New("redis down"))
	f.wallets.EXPECT().AdjustBalance(gomock.Any(), gomock.Any()).
		Return(&domain.AdjustmentResult{NewBalance: 1, TransactionID: uuid.New(), Replayed: true}, nil)
	f.cache.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("redis down"))

	res, err := f.svc.AdjustBalance(context.Background(), topup(uuid.New(), 1, "k1"))
	require.NoError(t, err)
	assert.True(t, res.Replayed)
}

func TestLedgerService_AdjustBalance_WithoutKeySkipsCache(t *testing.T) {
	f := newLedgerFixture(t)

	f.wallets.EXPECT().AdjustBalance(gomock.Any(), gomock.Any()).
		Return(&domain.AdjustmentResult{NewBalance: 10, TransactionID: uuid.New()}, nil)

	_, err := f.svc.AdjustBalance(context.Background(), topup(uuid.New(), 10, ""))
	require.NoError(t, err)
}

func TestLedgerService_AdjustBalance_Errors(t *testing.T) {
	tests := []struct {
		name     string
		repoErr  error
		wantCode string
	}{
		{"wallet not found", domain.ErrWalletNotFound, "WAL_001"},
		{"insufficient balance", &domain.InsufficientBalanceError{Attempted: -501, Available: 500}, "WAL_002"},
		{"key reused", domain.ErrIdempotencyConflict, "WAL_004"},
		{"anything else", errors.New("connection reset"), "WAL_003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLedgerFixture(t)
			f.wallets.EXPECT().AdjustBalance(gomock.Any(), gomock.Any()).Return(nil, tt.repoErr)

			_, err := f.svc.AdjustBalance(context.Background(), topup(uuid.New(), -501, ""))
			assert.True(t, apperror.HasCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestLedgerService_AdjustBalance_InsufficientDetails(t *testing.T) {
	f := newLedgerFixture(t)
	f.wallets.EXPECT().AdjustBalance(gomock.Any(), gomock.Any()).
		Return(nil, &domain.InsufficientBalanceError{Attempted: -501, Available: 500})

	_, err := f.svc.AdjustBalance(context.Background(), topup(uuid.New(), -501, ""))
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, map[string]any{"attempted": int64(-501), "available": int64(500)}, appErr.Details)
}

func TestLedgerService_AdjustBalance_Validation(t *testing.T) {
	f := newLedgerFixture(t)

	_, err := f.svc.AdjustBalance(context.Background(), topup(uuid.New(), 0, ""))
	assert.True(t, apperror.HasCode(err, "VAL_001"))

	req := topup(uuid.New(), 10, "")
	req.Type = "PAYMENT"
	_, err = f.svc.AdjustBalance(context.Background(), req)
	assert.True(t, apperror.HasCode(err, "VAL_001"))
}

func TestLedgerService_ConcurrentSameKeyAppliesOnce(t *testing.T) {
	walletID := uuid.New()
	store := newMemWallets(&domain.WalletAccount{ID: walletID, Currency: domain.CurrencyUSD})
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockIdempotencyCache(ctrl)
	cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()
	cache.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	svc := NewLedgerService(store, store, newMemDeposits(), cache, newTestLogger())

	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.AdjustBalance(context.Background(), topup(walletID, 250, "same-key"))
			if assert.NoError(t, err) {
				ids <- res.TransactionID
			}
		}()
	}
	wg.Wait()
	close(ids)

	var first uuid.UUID
	for id := range ids {
		if first == uuid.Nil {
			first = id
		}
		assert.Equal(t, first, id)
	}
	w, _ := store.GetByID(context.Background(), walletID)
	assert.Equal(t, int64(250), w.Balance)
	assert.Equal(t, 1, store.entries())
}

func TestLedgerService_AdjustReserved_OverReleaseClampsToZero(t *testing.T) {
	walletID := uuid.New()
	store := newMemWallets(&domain.WalletAccount{ID: walletID, Balance: 1000, Reserved: 300})
	svc := NewLedgerService(store, store, newMemDeposits(), nil, newTestLogger())

	w, err := svc.AdjustReserved(context.Background(), walletID, -500)
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Reserved)
	assert.Equal(t, int64(1000), w.Available())
}

func TestLedgerService_AdjustReserved_Errors(t *testing.T) {
	f := newLedgerFixture(t)

	_, err := f.svc.AdjustReserved(context.Background(), uuid.New(), 0)
	assert.True(t, apperror.HasCode(err, "VAL_001"))

	f.wallets.EXPECT().AdjustReserved(gomock.Any(), gomock.Any(), int64(5)).Return(nil, domain.ErrWalletNotFound)
	_, err = f.svc.AdjustReserved(context.Background(), uuid.New(), 5)
	assert.True(t, apperror.HasCode(err, "WAL_001"))
}

func TestLedgerService_GetWalletSummary(t *testing.T) {
	f := newLedgerFixture(t)
	merchantID := uuid.New()
	wallet := &domain.WalletAccount{ID: uuid.New(), MerchantID: merchantID, Currency: domain.CurrencyBTC, Balance: 1000, Reserved: 1500}

	f.wallets.EXPECT().GetByMerchant(gomock.Any(), merchantID, domain.CurrencyBTC).Return(wallet, nil)
	f.deposits.EXPECT().CountPending(gomock.Any(), merchantID).Return(int64(2), nil)

	s, err := f.svc.GetWalletSummary(context.Background(), merchantID, domain.CurrencyBTC)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Available)
	assert.Equal(t, int64(1500), s.Reserved)
	assert.Equal(t, int64(2), s.PendingDeposits)
}

func TestLedgerService_GetWalletSummary_USDSkipsDeposits(t *testing.T) {
	f := newLedgerFixture(t)
	merchantID := uuid.New()

	f.wallets.EXPECT().GetByMerchant(gomock.Any(), merchantID, domain.CurrencyUSD).
		Return(&domain.WalletAccount{ID: uuid.New(), Currency: domain.CurrencyUSD, Balance: 10}, nil)

	s, err := f.svc.GetWalletSummary(context.Background(), merchantID, domain.CurrencyUSD)
	require.NoError(t, err)
	assert.Equal(t, int64(10), s.Available)
	assert.Zero(t, s.PendingDeposits)
}

func TestLedgerService_GetWallet_NotFound(t *testing.T) {
	f := newLedgerFixture(t)
	f.wallets.EXPECT().GetByMerchant(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)

	_, err := f.svc.GetWallet(context.Background(), uuid.New(), domain.CurrencyBTC)
	assert.True(t, apperror.HasCode(err, "WAL_001"))
}

func TestLedgerService_ListTransactions(t *testing.T) {
	f := newLedgerFixture(t)
	merchantID := uuid.New()

	f.ledger.EXPECT().List(gomock.Any(), ports.LedgerListParams{MerchantID: merchantID, Page: 1, PageSize: defaultPageSize}).
		Return(nil, int64(0), nil)

	rows, total, err := f.svc.ListTransactions(context.Background(), ports.LedgerListParams{MerchantID: merchantID})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Zero(t, total)
}
