package service

import (
	"context"
	"fmt"
	"strconv"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"
	"merchant-wallet-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// SettingsServiceImpl implements ports.SettingsService over the platform settings store.
type SettingsServiceImpl struct {
	repo             ports.SettingsRepository
	counters         ports.AddressCounterRepository
	encSvc           ports.EncryptionService
	deriver          ports.AddressDeriver
	defaultThreshold int64
	log              zerolog.Logger
}

// NewSettingsService creates a new SettingsServiceImpl. defaultThreshold applies
// while the store holds no confirmation threshold.
func NewSettingsService(
	repo ports.SettingsRepository,
	counters ports.AddressCounterRepository,
	encSvc ports.EncryptionService,
	deriver ports.AddressDeriver,
	defaultThreshold int64,
	log zerolog.Logger,
) *SettingsServiceImpl {
	if defaultThreshold < 1 {
		defaultThreshold = domain.DefaultConfirmationThreshold
	}
	return &SettingsServiceImpl{
		repo:             repo,
		counters:         counters,
		encSvc:           encSvc,
		deriver:          deriver,
		defaultThreshold: defaultThreshold,
		log:              log.With().Str("component", "settings").Logger(),
	}
}

// ConfirmationThreshold returns the stored threshold, or the configured default.
func (s *SettingsServiceImpl) ConfirmationThreshold(ctx context.Context) (int64, error) {
	raw, ok, err := s.repo.Get(ctx, domain.SettingConfirmationThreshold)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("read confirmation threshold: %w", err))
	}
	if !ok {
		return s.defaultThreshold, nil
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 1 {
		s.log.Warn().Str("value", raw).Int64("default", s.defaultThreshold).Msg("invalid stored confirmation threshold, using default")
		return s.defaultThreshold, nil
	}
	return n, nil
}

// SetConfirmationThreshold stores a new threshold. Deposits already CONFIRMED are not re-evaluated.
func (s *SettingsServiceImpl) SetConfirmationThreshold(ctx context.Context, threshold int64) error {
	if threshold < 1 {
		return apperror.Validation("confirmation threshold must be at least 1")
	}
	if err := s.repo.Set(ctx, domain.SettingConfirmationThreshold, strconv.FormatInt(threshold, 10)); err != nil {
		return apperror.InternalError(fmt.Errorf("store confirmation threshold: %w", err))
	}
	return nil
}

// ExtendedKey decrypts the stored extended public key of purpose.
func (s *SettingsServiceImpl) ExtendedKey(ctx context.Context, purpose domain.AddressPurpose) (string, error) {
	enc, ok, err := s.repo.Get(ctx, domain.ExtendedKeySetting(purpose))
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("read extended key: %w", err))
	}
	if !ok || enc == "" {
		return "", apperror.ErrNotConfigured(string(purpose))
	}

	key, err := s.encSvc.Decrypt(enc)
	if err != nil {
		return "", apperror.ErrEncryptionFailure(fmt.Errorf("decrypt extended key: %w", err))
	}
	return key, nil
}

// SetExtendedKey validates, encrypts and stores the extended key of purpose,
// creating the purpose's derivation counter at zero if it does not exist yet.
func (s *SettingsServiceImpl) SetExtendedKey(ctx context.Context, purpose domain.AddressPurpose, extendedKey string) error {
	if !s.deriver.ValidateExtendedKey(extendedKey) {
		return apperror.ErrUnsupportedKeyFormat(nil)
	}

	enc, err := s.encSvc.Encrypt(extendedKey)
	if err != nil {
		return apperror.ErrEncryptionFailure(fmt.Errorf("encrypt extended key: %w", err))
	}
	if err := s.repo.Set(ctx, domain.ExtendedKeySetting(purpose), enc); err != nil {
		return apperror.InternalError(fmt.Errorf("store extended key: %w", err))
	}

	created, err := s.counters.Initialize(ctx, purpose, 0)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("initialize counter: %w", err))
	}
	s.log.Info().Str("purpose", string(purpose)).Bool("counter_created", created).Msg("extended key configured")
	return nil
}
