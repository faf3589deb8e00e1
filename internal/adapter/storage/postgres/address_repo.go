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

const addressColumns = `id, merchant_id, purpose, derivation_index, address, status, created_at, used_at`

// AddressRepo implements ports.AddressRepository.
type AddressRepo struct {
	pool Pool
}

// NewAddressRepo creates a new AddressRepo.
func NewAddressRepo(pool Pool) *AddressRepo {
	return &AddressRepo{pool: pool}
}

// GetActive returns the ACTIVE address of a merchant for a purpose, or nil.
func (r *AddressRepo) GetActive(ctx context.Context, merchantID uuid.UUID, purpose domain.AddressPurpose) (*domain.DerivedAddress, error) {
	query := `SELECT ` + addressColumns + ` FROM derived_addresses
		WHERE merchant_id = $1 AND purpose = $2 AND status = 'ACTIVE'`
	return scanAddress(r.pool.QueryRow(ctx, query, merchantID, purpose), "get active address")
}

// GetByAddress looks an address up by its encoded form.
func (r *AddressRepo) GetByAddress(ctx context.Context, address string) (*domain.DerivedAddress, error) {
	query := `SELECT ` + addressColumns + ` FROM derived_addresses WHERE address = $1`
	return scanAddress(r.pool.QueryRow(ctx, query, address), "get address")
}

// Create inserts a derived address. It reports false when the partial unique
// index on active addresses rejected it because another allocator won.
func (r *AddressRepo) Create(ctx context.Context, a *domain.DerivedAddress) (bool, error) {
	query := `INSERT INTO derived_addresses (` + addressColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (merchant_id, purpose) WHERE status = 'ACTIVE' DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		a.ID, a.MerchantID, a.Purpose, a.DerivationIndex,
		a.Address, a.Status, a.CreatedAt, a.UsedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert derived address: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Retire marks the active address of a merchant and purpose as RETIRED.
func (r *AddressRepo) Retire(ctx context.Context, merchantID uuid.UUID, purpose domain.AddressPurpose) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE derived_addresses SET status = 'RETIRED'
		WHERE merchant_id = $1 AND purpose = $2 AND status = 'ACTIVE'`,
		merchantID, purpose,
	)
	if err != nil {
		return 0, fmt.Errorf("retire address: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkUsed stamps used_at the first time a deposit to the address is seen.
func (r *AddressRepo) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE derived_addresses SET used_at = $2 WHERE id = $1 AND used_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark address used: %w", err)
	}
	return nil
}

// List fetches derived addresses with filtering and pagination.
func (r *AddressRepo) List(ctx context.Context, params ports.AddressListParams) ([]domain.DerivedAddress, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.MerchantID != nil {
		conditions = append(conditions, fmt.Sprintf("merchant_id = $%d", argIdx))
		args = append(args, *params.MerchantID)
		argIdx++
	}
	if params.Purpose != nil {
		conditions = append(conditions, fmt.Sprintf("purpose = $%d", argIdx))
		args = append(args, *params.Purpose)
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
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM derived_addresses "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count addresses: %w", err)
	}

	dataQuery := fmt.Sprintf(`SELECT %s FROM derived_addresses %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		addressColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, pageOffset(params.Page, params.PageSize))

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	var addrs []domain.DerivedAddress
	for rows.Next() {
		var a domain.DerivedAddress
		if err := rows.Scan(&a.ID, &a.MerchantID, &a.Purpose, &a.DerivationIndex,
			&a.Address, &a.Status, &a.CreatedAt, &a.UsedAt); err != nil {
			return nil, 0, fmt.Errorf("scan address: %w", err)
		}
		addrs = append(addrs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate addresses: %w", err)
	}
	return addrs, total, nil
}

func scanAddress(row pgx.Row, op string) (*domain.DerivedAddress, error) {
	a := &domain.DerivedAddress{}
	err := row.Scan(&a.ID, &a.MerchantID, &a.Purpose, &a.DerivationIndex,
		&a.Address, &a.Status, &a.CreatedAt, &a.UsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}
