package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const depositColumns = `id, merchant_id, purpose, address, txid, vout, amount_sats, confirmations, block_height, status, flag_reason, first_seen_at, credited_at, updated_at`

// DepositRepo implements ports.DepositRepository.
type DepositRepo struct {
	pool Pool
}

// NewDepositRepo creates a new DepositRepo.
func NewDepositRepo(pool Pool) *DepositRepo {
	return &DepositRepo{pool: pool}
}

// GetByOutpoint fetches the deposit for a chain output, or nil.
func (r *DepositRepo) GetByOutpoint(ctx context.Context, txid string, vout uint32) (*domain.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE txid = $1 AND vout = $2`

	d := &domain.Deposit{}
	err := scanDeposit(r.pool.QueryRow(ctx, query, txid, int64(vout)), d)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get deposit by outpoint: %w", err)
	}
	return d, nil
}

// Create inserts a PENDING deposit; false means the outpoint was already recorded.
func (r *DepositRepo) Create(ctx context.Context, d *domain.Deposit) (bool, error) {
	query := `INSERT INTO deposits (` + depositColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (txid, vout) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		d.ID, d.MerchantID, d.Purpose, d.Address, d.TxID, int64(d.Vout), d.AmountSats,
		d.Confirmations, d.BlockHeight, d.Status, d.FlagReason,
		d.FirstSeenAt, d.CreditedAt, d.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert deposit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateProgress writes an observation outcome only while the row still has the
// status, confirmations and block height the caller read. False means a concurrent
// observer moved it first.
func (r *DepositRepo) UpdateProgress(ctx context.Context, current *domain.Deposit, upd domain.DepositUpdate) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE deposits
		SET confirmations = $3, block_height = $4, status = $5,
			flag_reason = COALESCE($6, flag_reason), updated_at = NOW()
		WHERE id = $1 AND status = $2 AND confirmations = $7
			AND block_height IS NOT DISTINCT FROM $8`,
		current.ID, current.Status, upd.Confirmations, upd.BlockHeight, upd.Status, nullableString(upd.FlagReason),
		current.Confirmations, current.BlockHeight,
	)
	if err != nil {
		return false, fmt.Errorf("update deposit progress: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCredited moves a CONFIRMED deposit to CREDITED and stamps credited_at.
func (r *DepositRepo) MarkCredited(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE deposits SET status = 'CREDITED', credited_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'CONFIRMED'`,
		id, at,
	)
	if err != nil {
		return false, fmt.Errorf("mark deposit credited: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// List fetches deposits with filtering and pagination, newest first.
func (r *DepositRepo) List(ctx context.Context, params ports.DepositListParams) ([]domain.Deposit, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.MerchantID != nil {
		conditions = append(conditions, fmt.Sprintf("merchant_id = $%d", argIdx))
		args = append(args, *params.MerchantID)
		argIdx++
	}
	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM deposits "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count deposits: %w", err)
	}

	dataQuery := fmt.Sprintf(`SELECT %s FROM deposits %s ORDER BY first_seen_at DESC LIMIT $%d OFFSET $%d`,
		depositColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, pageOffset(params.Page, params.PageSize))

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list deposits: %w", err)
	}
	defer rows.Close()

	var deposits []domain.Deposit
	for rows.Next() {
		var d domain.Deposit
		if err := scanDeposit(rows, &d); err != nil {
			return nil, 0, fmt.Errorf("scan deposit: %w", err)
		}
		deposits = append(deposits, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate deposits: %w", err)
	}
	return deposits, total, nil
}

// CountPending counts deposits of a merchant seen on chain but not yet credited.
func (r *DepositRepo) CountPending(ctx context.Context, merchantID uuid.UUID) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM deposits WHERE merchant_id = $1 AND status IN ('PENDING', 'CONFIRMED')`, merchantID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending deposits: %w", err)
	}
	return n, nil
}

// CountByStatus counts deposits platform-wide in one status.
func (r *DepositRepo) CountByStatus(ctx context.Context, status domain.DepositStatus) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM deposits WHERE status = $1`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count deposits by status: %w", err)
	}
	return n, nil
}

// SumCredited totals deposits currently CREDITED. A credited deposit flagged
// afterwards drops out while its ledger credit stays, so the report shows the gap.
func (r *DepositRepo) SumCredited(ctx context.Context) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_sats), 0)::BIGINT FROM deposits WHERE status = 'CREDITED'`,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum credited deposits: %w", err)
	}
	return total, nil
}

func scanDeposit(row pgx.Row, d *domain.Deposit) error {
	var vout int64
	err := row.Scan(
		&d.ID, &d.MerchantID, &d.Purpose, &d.Address, &d.TxID, &vout, &d.AmountSats,
		&d.Confirmations, &d.BlockHeight, &d.Status, &d.FlagReason,
		&d.FirstSeenAt, &d.CreditedAt, &d.UpdatedAt,
	)
	if err != nil {
		return err
	}
	d.Vout = uint32(vout)
	return nil
}
