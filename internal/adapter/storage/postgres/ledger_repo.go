package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

const ledgerColumns = `id, merchant_id, wallet_id, type, amount, balance_after,
		reference_type, reference_id, description, idempotency_key, created_at`

// LedgerRepo implements ports.LedgerRepository over wallet_transactions.
// Rows are written only by adjust_wallet_balance.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// GetByIdempotencyKey returns the ledger row tagged with key, or nil.
func (r *LedgerRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.WalletTransaction, error) {
	query := `SELECT ` + ledgerColumns + ` FROM wallet_transactions WHERE idempotency_key = $1`

	t := &domain.WalletTransaction{}
	err := scanLedgerRow(r.pool.QueryRow(ctx, query, key), t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get ledger row by idempotency key: %w", err)
	}
	return t, nil
}

// List fetches ledger rows with filtering and pagination, newest first.
func (r *LedgerRepo) List(ctx context.Context, params ports.LedgerListParams) ([]domain.WalletTransaction, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("merchant_id = $%d", argIdx))
	args = append(args, params.MerchantID)
	argIdx++

	if params.WalletID != nil {
		conditions = append(conditions, fmt.Sprintf("wallet_id = $%d", argIdx))
		args = append(args, *params.WalletID)
		argIdx++
	}
	if params.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, *params.Type)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM wallet_transactions "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ledger rows: %w", err)
	}

	dataQuery := fmt.Sprintf(`SELECT %s FROM wallet_transactions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		ledgerColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, pageOffset(params.Page, params.PageSize))

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list ledger rows: %w", err)
	}
	defer rows.Close()

	var entries []domain.WalletTransaction
	for rows.Next() {
		var t domain.WalletTransaction
		if err := scanLedgerRow(rows, &t); err != nil {
			return nil, 0, fmt.Errorf("scan ledger row: %w", err)
		}
		entries = append(entries, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return entries, total, nil
}

// SumByTypes totals the signed amounts of all rows with one of the given types.
func (r *LedgerRepo) SumByTypes(ctx context.Context, types []domain.LedgerEntryType) (int64, error) {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}

	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::BIGINT FROM wallet_transactions WHERE type = ANY($1)`, names,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum ledger rows: %w", err)
	}
	return total, nil
}

func scanLedgerRow(row pgx.Row, t *domain.WalletTransaction) error {
	return row.Scan(
		&t.ID, &t.MerchantID, &t.WalletID, &t.Type, &t.Amount, &t.BalanceAfter,
		&t.ReferenceType, &t.ReferenceID, &t.Description, &t.IdempotencyKey, &t.CreatedAt,
	)
}
