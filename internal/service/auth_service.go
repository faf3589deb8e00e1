package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"
	"merchant-wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// walletCurrencies are opened for every new merchant.
var walletCurrencies = []domain.Currency{domain.CurrencyUSD, domain.CurrencyBTC}

// AuthServiceImpl implements ports.AuthService.
type AuthServiceImpl struct {
	merchantRepo ports.MerchantRepository
	walletRepo   ports.WalletRepository
	transactor   ports.DBTransactor
	hashSvc      ports.HashService
	encSvc       ports.EncryptionService
	tokenSvc     ports.TokenService
	log          zerolog.Logger
}

// NewAuthService creates a new AuthServiceImpl.
func NewAuthService(
	merchantRepo ports.MerchantRepository,
	walletRepo ports.WalletRepository,
	transactor ports.DBTransactor,
	hashSvc ports.HashService,
	encSvc ports.EncryptionService,
	tokenSvc ports.TokenService,
	log zerolog.Logger,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		merchantRepo: merchantRepo,
		walletRepo:   walletRepo,
		transactor:   transactor,
		hashSvc:      hashSvc,
		encSvc:       encSvc,
		tokenSvc:     tokenSvc,
		log:          log.With().Str("component", "auth").Logger(),
	}
}

// Register creates a merchant with its USD and BTC wallets in one transaction.
// The secret key is returned in plaintext only here.
func (s *AuthServiceImpl) Register(ctx context.Context, req ports.RegisterRequest) (*ports.RegisterResponse, error) {
	role := req.Role
	if role == "" {
		role = domain.RoleMerchant
	}
	if role != domain.RoleMerchant && role != domain.RoleAdmin {
		return nil, apperror.Validation(fmt.Sprintf("unknown role %q", role))
	}

	existing, err := s.merchantRepo.GetByUsername(ctx, req.Username)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check username: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrUsernameExists()
	}

	accessKey, err := generateRandomHex(32)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate access key: %w", err))
	}
	secretKey, err := generateRandomHex(32)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate secret key: %w", err))
	}

	passwordHash, err := s.hashSvc.Hash(req.Password)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("hash password: %w", err))
	}
	secretKeyEnc, err := s.encSvc.Encrypt(secretKey)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(fmt.Errorf("encrypt secret key: %w", err))
	}

	now := time.Now().UTC()
	merchant := &domain.Merchant{
		ID:           uuid.New(),
		Username:     req.Username,
		PasswordHash: passwordHash,
		MerchantName: req.MerchantName,
		AccessKey:    accessKey,
		SecretKeyEnc: secretKeyEnc,
		Role:         role,
		Status:       domain.MerchantStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := s.merchantRepo.Create(ctx, tx, merchant); err != nil {
		if errors.Is(err, domain.ErrUsernameTaken) {
			return nil, apperror.ErrUsernameExists()
		}
		return nil, apperror.InternalError(fmt.Errorf("create merchant: %w", err))
	}
	for _, currency := range walletCurrencies {
		wallet := &domain.WalletAccount{
			ID:         uuid.New(),
			MerchantID: merchant.ID,
			Currency:   currency,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.walletRepo.Create(ctx, tx, wallet); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("create %s wallet: %w", currency, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().Str("merchant_id", merchant.ID.String()).Str("role", string(role)).Msg("merchant registered")

	return &ports.RegisterResponse{
		MerchantID: merchant.ID,
		AccessKey:  accessKey,
		SecretKey:  secretKey,
	}, nil
}

// Login validates credentials and returns a JWT carrying the merchant's role.
func (s *AuthServiceImpl) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	merchant, err := s.merchantRepo.GetByUsername(ctx, username)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("find merchant: %w", err))
	}
	if merchant == nil {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	valid, err := s.hashSvc.Verify(password, merchant.PasswordHash)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("verify password: %w", err))
	}
	if !valid {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	if !merchant.IsActive() {
		return "", time.Time{}, apperror.ErrMerchantSuspended()
	}

	token, expiry, err := s.tokenSvc.Generate(merchant.ID, merchant.AccessKey, merchant.Role)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}
	return token, expiry, nil
}

func generateRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
