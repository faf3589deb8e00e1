package postgres

import (
	"context"
	"errors"
	"fmt"

	"merchant-wallet-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// CounterRepo implements ports.AddressCounterRepository.
// Indexes are reserved with a compare-and-swap so no row lock is held across derivation.
type CounterRepo struct {
	pool Pool
}

// NewCounterRepo creates a new CounterRepo.
func NewCounterRepo(pool Pool) *CounterRepo {
	return &CounterRepo{pool: pool}
}

// Get returns the counter for purpose, or nil when it was never initialized.
func (r *CounterRepo) Get(ctx context.Context, purpose domain.AddressPurpose) (*domain.AddressCounter, error) {
	c := &domain.AddressCounter{}
	err := r.pool.QueryRow(ctx,
		`SELECT purpose, next_index FROM address_counters WHERE purpose = $1`, purpose,
	).Scan(&c.Purpose, &c.NextIndex)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get address counter: %w", err)
	}
	return c, nil
}

// CompareAndSwap moves next_index from expected to next. False means another
// allocator got there first.
func (r *CounterRepo) CompareAndSwap(ctx context.Context, purpose domain.AddressPurpose, expected uint32, next uint32) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE address_counters SET next_index = $3, updated_at = NOW()
		WHERE purpose = $1 AND next_index = $2`,
		purpose, int64(expected), int64(next),
	)
	if err != nil {
		return false, fmt.Errorf("swap address counter: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Initialize creates the counter row at start. False means it already existed.
func (r *CounterRepo) Initialize(ctx context.Context, purpose domain.AddressPurpose, start uint32) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO address_counters (purpose, next_index) VALUES ($1, $2)
		ON CONFLICT (purpose) DO NOTHING`,
		purpose, int64(start),
	)
	if err != nil {
		return false, fmt.Errorf("initialize address counter: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
