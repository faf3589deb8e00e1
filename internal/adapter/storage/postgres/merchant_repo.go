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

const merchantColumns = `id, username, password_hash, merchant_name, access_key, secret_key_enc, role, status, created_at, updated_at`

// MerchantRepo implements ports.MerchantRepository.
type MerchantRepo struct {
	pool Pool
}

// NewMerchantRepo creates a new MerchantRepo.
func NewMerchantRepo(pool Pool) *MerchantRepo {
	return &MerchantRepo{pool: pool}
}

// Create inserts a new merchant within a database transaction.
func (r *MerchantRepo) Create(ctx context.Context, tx pgx.Tx, m *domain.Merchant) error {
	query := `INSERT INTO merchants (` + merchantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := tx.Exec(ctx, query,
		m.ID, m.Username, m.PasswordHash, m.MerchantName,
		m.AccessKey, m.SecretKeyEnc, m.Role, m.Status,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "merchants_username_key" {
			return domain.ErrUsernameTaken
		}
		return fmt.Errorf("insert merchant: %w", err)
	}
	return nil
}

// GetByID fetches a merchant by its UUID.
func (r *MerchantRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE id = $1`
	return r.scanMerchant(r.pool.QueryRow(ctx, query, id), "get merchant by id")
}

// GetByAccessKey fetches a merchant by its public access key.
func (r *MerchantRepo) GetByAccessKey(ctx context.Context, accessKey string) (*domain.Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE access_key = $1`
	return r.scanMerchant(r.pool.QueryRow(ctx, query, accessKey), "get merchant by access_key")
}

// GetByUsername fetches a merchant by username.
func (r *MerchantRepo) GetByUsername(ctx context.Context, username string) (*domain.Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE username = $1`
	return r.scanMerchant(r.pool.QueryRow(ctx, query, username), "get merchant by username")
}

func (r *MerchantRepo) scanMerchant(row pgx.Row, op string) (*domain.Merchant, error) {
	m := &domain.Merchant{}
	err := row.Scan(
		&m.ID, &m.Username, &m.PasswordHash, &m.MerchantName,
		&m.AccessKey, &m.SecretKeyEnc, &m.Role, &m.Status,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}
