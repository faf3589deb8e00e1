package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"merchant-wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWallet(merchantID uuid.UUID, currency domain.Currency) *domain.WalletAccount {
	return &domain.WalletAccount{
		ID:         uuid.New(),
		MerchantID: merchantID,
		Currency:   currency,
		Balance:    150000,
		Reserved:   20000,
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
		UpdatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
}

func walletRows(wallets ...*domain.WalletAccount) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"id", "merchant_id", "currency", "balance", "reserved", "created_at", "updated_at"})
	for _, w := range wallets {
		rows.AddRow(w.ID, w.MerchantID, w.Currency, w.Balance, w.Reserved, w.CreatedAt, w.UpdatedAt)
	}
	return rows
}

func TestWalletRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet(uuid.New(), domain.CurrencyBTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wallet_accounts").
		WithArgs(w.ID, w.MerchantID, w.Currency, w.Balance, w.Reserved, w.CreatedAt, w.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.Create(context.Background(), tx, w))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_GetByMerchant(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet(uuid.New(), domain.CurrencyBTC)

	mock.ExpectQuery("SELECT .+ FROM wallet_accounts WHERE merchant_id").
		WithArgs(w.MerchantID, domain.CurrencyBTC).
		WillReturnRows(walletRows(w))

	result, err := repo.GetByMerchant(context.Background(), w.MerchantID, domain.CurrencyBTC)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, w.ID, result.ID)
	assert.Equal(t, int64(150000), result.Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM wallet_accounts WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	result, err := repo.GetByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestWalletRepo_ListByMerchant(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	merchantID := uuid.New()
	btc := newTestWallet(merchantID, domain.CurrencyBTC)
	usd := newTestWallet(merchantID, domain.CurrencyUSD)

	mock.ExpectQuery("SELECT .+ FROM wallet_accounts WHERE merchant_id .+ ORDER BY currency").
		WithArgs(merchantID).
		WillReturnRows(walletRows(btc, usd))

	wallets, err := repo.ListByMerchant(context.Background(), merchantID)
	require.NoError(t, err)
	require.Len(t, wallets, 2)
	assert.Equal(t, domain.CurrencyBTC, wallets[0].Currency)
	assert.Equal(t, domain.CurrencyUSD, wallets[1].Currency)
}

func newAdjustment(key string) domain.BalanceAdjustment {
	return domain.BalanceAdjustment{
		WalletID:       uuid.New(),
		MerchantID:     uuid.New(),
		Amount:         50000,
		Type:           domain.LedgerEntryBTCDeposit,
		ReferenceType:  "deposit",
		ReferenceID:    "dep-1",
		Description:    "BTC deposit",
		IdempotencyKey: key,
	}
}

func TestWalletRepo_AdjustBalance(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	adj := newAdjustment("btc_deposit:abc:0")
	txID := uuid.New()
	key := adj.IdempotencyKey

	mock.ExpectQuery("SELECT new_balance, transaction_id, replayed\\s+FROM adjust_wallet_balance").
		WithArgs(adj.WalletID, adj.Amount, adj.Type, adj.ReferenceType, adj.ReferenceID, adj.Description, &key).
		WillReturnRows(pgxmock.NewRows([]string{"new_balance", "transaction_id", "replayed"}).
			AddRow(int64(200000), txID, false))

	res, err := repo.AdjustBalance(context.Background(), adj)
	require.NoError(t, err)
	assert.Equal(t, int64(200000), res.NewBalance)
	assert.Equal(t, txID, res.TransactionID)
	assert.False(t, res.Replayed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_AdjustBalance_NoKeyPassesNull(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	adj := newAdjustment("")

	mock.ExpectQuery("FROM adjust_wallet_balance").
		WithArgs(adj.WalletID, adj.Amount, adj.Type, adj.ReferenceType, adj.ReferenceID, adj.Description, (*string)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"new_balance", "transaction_id", "replayed"}).
			AddRow(int64(50000), uuid.New(), false))

	_, err = repo.AdjustBalance(context.Background(), adj)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_AdjustBalance_ErrorMapping(t *testing.T) {
	tests := []struct {
		name  string
		dbErr error
		check func(t *testing.T, err error)
	}{
		{
			name:  "wallet not found",
			dbErr: &pgconn.PgError{Code: "MW404", Message: "wallet not found"},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrWalletNotFound)
			},
		},
		{
			name:  "insufficient balance carries amounts",
			dbErr: &pgconn.PgError{Code: "MW402", Message: "insufficient balance", Detail: "attempted=500 available=120"},
			check: func(t *testing.T, err error) {
				var insufficient *domain.InsufficientBalanceError
				require.True(t, errors.As(err, &insufficient))
				assert.Equal(t, int64(500), insufficient.Attempted)
				assert.Equal(t, int64(120), insufficient.Available)
			},
		},
		{
			name:  "idempotency key reused",
			dbErr: &pgconn.PgError{Code: "MW409", Message: "idempotency key k reused"},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
			},
		},
		{
			name:  "other database error is wrapped",
			dbErr: &pgconn.PgError{Code: "40001", Message: "serialization failure"},
			check: func(t *testing.T, err error) {
				assert.NotErrorIs(t, err, domain.ErrWalletNotFound)
				var pgErr *pgconn.PgError
				require.True(t, errors.As(err, &pgErr))
				assert.Equal(t, "40001", pgErr.Code)
			},
		},
		{
			name:  "connection error is wrapped",
			dbErr: errors.New("conn reset"),
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "adjust wallet balance")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			repo := NewWalletRepo(mock)
			mock.ExpectQuery("FROM adjust_wallet_balance").WillReturnError(tt.dbErr)

			res, err := repo.AdjustBalance(context.Background(), newAdjustment("k"))
			require.Error(t, err)
			assert.Nil(t, res)
			tt.check(t, err)
		})
	}
}

func TestWalletRepo_AdjustReserved(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet(uuid.New(), domain.CurrencyUSD)
	w.Reserved = 0

	mock.ExpectQuery("UPDATE wallet_accounts\\s+SET reserved = GREATEST\\(reserved \\+ \\$1, 0\\)").
		WithArgs(int64(-99999), w.ID).
		WillReturnRows(walletRows(w))

	result, err := repo.AdjustReserved(context.Background(), w.ID, -99999)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Reserved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_AdjustReserved_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	id := uuid.New()

	mock.ExpectQuery("UPDATE wallet_accounts").
		WithArgs(int64(100), id).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.AdjustReserved(context.Background(), id, 100)
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)
}

func TestWalletRepo_SumBalances(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(balance\\), 0\\)").
		WithArgs(domain.CurrencyBTC).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(int64(480000)))

	total, err := repo.SumBalances(context.Background(), domain.CurrencyBTC)
	require.NoError(t, err)
	assert.Equal(t, int64(480000), total)
}
