package postgres

import (
	"context"
	"errors"
	"fmt"

	"merchant-wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATEs raised by adjust_wallet_balance.
const (
	sqlStateWalletNotFound      = "MW404"
	sqlStateInsufficientBalance = "MW402"
	sqlStateIdempotencyConflict = "MW409"
)

const uniqueViolation = "23505"

const walletColumns = `id, merchant_id, currency, balance, reserved, created_at, updated_at`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Create inserts a new wallet account within a database transaction.
func (r *WalletRepo) Create(ctx context.Context, tx pgx.Tx, w *domain.WalletAccount) error {
	query := `INSERT INTO wallet_accounts (` + walletColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.Exec(ctx, query,
		w.ID, w.MerchantID, w.Currency, w.Balance,
		w.Reserved, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// GetByID fetches a wallet account by its UUID.
func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WalletAccount, error) {
	query := `SELECT ` + walletColumns + ` FROM wallet_accounts WHERE id = $1`
	return scanWallet(r.pool.QueryRow(ctx, query, id), "get wallet by id")
}

// GetByMerchant fetches the wallet account a merchant holds in one currency.
func (r *WalletRepo) GetByMerchant(ctx context.Context, merchantID uuid.UUID, currency domain.Currency) (*domain.WalletAccount, error) {
	query := `SELECT ` + walletColumns + ` FROM wallet_accounts WHERE merchant_id = $1 AND currency = $2`
	return scanWallet(r.pool.QueryRow(ctx, query, merchantID, currency), "get wallet by merchant")
}

// ListByMerchant returns every wallet account of a merchant ordered by currency.
func (r *WalletRepo) ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]domain.WalletAccount, error) {
	query := `SELECT ` + walletColumns + ` FROM wallet_accounts WHERE merchant_id = $1 ORDER BY currency`

	rows, err := r.pool.Query(ctx, query, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []domain.WalletAccount
	for rows.Next() {
		var w domain.WalletAccount
		if err := rows.Scan(&w.ID, &w.MerchantID, &w.Currency, &w.Balance, &w.Reserved, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallets: %w", err)
	}
	return wallets, nil
}

// AdjustBalance applies a signed delta through the adjust_wallet_balance procedure,
// which locks the row, enforces the non-negative balance and writes the ledger row.
func (r *WalletRepo) AdjustBalance(ctx context.Context, adj domain.BalanceAdjustment) (*domain.AdjustmentResult, error) {
	query := `SELECT new_balance, transaction_id, replayed
		FROM adjust_wallet_balance($1, $2, $3, $4, $5, $6, $7)`

	res := &domain.AdjustmentResult{}
	err := r.pool.QueryRow(ctx, query,
		adj.WalletID, adj.Amount, adj.Type, adj.ReferenceType,
		adj.ReferenceID, adj.Description, nullableString(adj.IdempotencyKey),
	).Scan(&res.NewBalance, &res.TransactionID, &res.Replayed)
	if err != nil {
		return nil, mapAdjustError(err)
	}
	return res, nil
}

func mapAdjustError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("adjust wallet balance: %w", err)
	}
	switch pgErr.Code {
	case sqlStateWalletNotFound:
		return domain.ErrWalletNotFound
	case sqlStateIdempotencyConflict:
		return domain.ErrIdempotencyConflict
	case sqlStateInsufficientBalance:
		insufficient := &domain.InsufficientBalanceError{}
		if _, scanErr := fmt.Sscanf(pgErr.Detail, "attempted=%d available=%d",
			&insufficient.Attempted, &insufficient.Available); scanErr != nil {
			return fmt.Errorf("adjust wallet balance: unparsable detail %q: %w", pgErr.Detail, err)
		}
		return insufficient
	}
	return fmt.Errorf("adjust wallet balance: %w", err)
}

// AdjustReserved moves the reservation by delta, clamping at zero.
// Releasing more than is reserved is accepted and leaves reserved at 0.
func (r *WalletRepo) AdjustReserved(ctx context.Context, walletID uuid.UUID, delta int64) (*domain.WalletAccount, error) {
	query := `UPDATE wallet_accounts
		SET reserved = GREATEST(reserved + $1, 0), updated_at = NOW()
		WHERE id = $2
		RETURNING ` + walletColumns

	w, err := scanWallet(r.pool.QueryRow(ctx, query, delta, walletID), "adjust reserved")
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, domain.ErrWalletNotFound
	}
	return w, nil
}

// SumBalances totals the balance held across all wallets of a currency.
func (r *WalletRepo) SumBalances(ctx context.Context, currency domain.Currency) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(balance), 0)::BIGINT FROM wallet_accounts WHERE currency = $1`, currency,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum wallet balances: %w", err)
	}
	return total, nil
}

func scanWallet(row pgx.Row, op string) (*domain.WalletAccount, error) {
	w := &domain.WalletAccount{}
	err := row.Scan(&w.ID, &w.MerchantID, &w.Currency, &w.Balance, &w.Reserved, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return w, nil
}
