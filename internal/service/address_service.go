package service

import (
	"context"
	"fmt"
	"time"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"
	"merchant-wallet-ledger/pkg/apperror"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultAllocationAttempts bounds the counter compare-and-swap loop.
const DefaultAllocationAttempts = 5

// AddressServiceImpl implements ports.AddressService.
//
// Indexes are reserved by compare-and-swap on the purpose counter and never
// handed out twice. A reservation whose insert loses to a concurrent allocator
// for the same merchant is burned rather than returned to the pool.
type AddressServiceImpl struct {
	addresses   ports.AddressRepository
	counters    ports.AddressCounterRepository
	settings    ports.SettingsService
	deriver     ports.AddressDeriver
	network     domain.Network
	maxAttempts int
	flight      singleflight.Group
	now         func() time.Time
	log         zerolog.Logger
}

// NewAddressService creates a new AddressServiceImpl.
func NewAddressService(
	addresses ports.AddressRepository,
	counters ports.AddressCounterRepository,
	settings ports.SettingsService,
	deriver ports.AddressDeriver,
	network domain.Network,
	maxAttempts int,
	log zerolog.Logger,
) *AddressServiceImpl {
	if maxAttempts < 1 {
		maxAttempts = DefaultAllocationAttempts
	}
	return &AddressServiceImpl{
		addresses:   addresses,
		counters:    counters,
		settings:    settings,
		deriver:     deriver,
		network:     network,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log.With().Str("component", "allocator").Logger(),
	}
}

// GetOrCreateAddress returns the merchant's active address for purpose,
// allocating one if none exists.
func (s *AddressServiceImpl) GetOrCreateAddress(ctx context.Context, merchantID uuid.UUID, purpose domain.AddressPurpose) (*domain.DerivedAddress, error) {
	active, err := s.addresses.GetActive(ctx, merchantID, purpose)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get active address: %w", err))
	}
	if active != nil {
		return active, nil
	}

	v, err, shared := s.flight.Do(domain.BuildAllocationKey(merchantID, purpose), func() (any, error) {
		return s.allocate(ctx, merchantID, purpose)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.log.Debug().Str("merchant_id", merchantID.String()).Msg("allocation shared with concurrent caller")
	}
	// callers must not share the pointer
	addr := *v.(*domain.DerivedAddress)
	return &addr, nil
}

func (s *AddressServiceImpl) allocate(ctx context.Context, merchantID uuid.UUID, purpose domain.AddressPurpose) (*domain.DerivedAddress, error) {
	extendedKey, err := s.settings.ExtendedKey(ctx, purpose)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		counter, err := s.counters.Get(ctx, purpose)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("read counter: %w", err))
		}
		if counter == nil {
			return nil, apperror.ErrCounterUninitialized(string(purpose))
		}
		index := counter.NextIndex
		if index >= hdkeychain.HardenedKeyStart {
			return nil, apperror.ErrDerivationFailure(fmt.Errorf("non-hardened index space exhausted for %s", purpose))
		}

		swapped, err := s.counters.CompareAndSwap(ctx, purpose, index, index+1)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("reserve index: %w", err))
		}
		if !swapped {
			s.log.Debug().Str("purpose", string(purpose)).Uint32("index", index).Int("attempt", attempt).Msg("counter moved, retrying")
			continue
		}

		address, err := s.deriver.DeriveAddress(extendedKey, index, s.network)
		if err != nil {
			return nil, err
		}

		row := &domain.DerivedAddress{
			ID:              uuid.New(),
			MerchantID:      merchantID,
			Purpose:         purpose,
			DerivationIndex: index,
			Address:         address,
			Status:          domain.AddressStatusActive,
			CreatedAt:       s.now(),
		}
		created, err := s.addresses.Create(ctx, row)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("insert address: %w", err))
		}
		if created {
			s.log.Info().
				Str("merchant_id", merchantID.String()).
				Str("purpose", string(purpose)).
				Uint32("index", index).
				Msg("address allocated")
			return row, nil
		}

		winner, err := s.addresses.GetActive(ctx, merchantID, purpose)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("re-read active address: %w", err))
		}
		s.log.Info().Str("merchant_id", merchantID.String()).Uint32("burned_index", index).Msg("lost allocation race")
		if winner != nil {
			return winner, nil
		}
		// the winner was retired before we could read it
	}

	return nil, apperror.ErrAllocationContention(fmt.Errorf("%d attempts for %s", s.maxAttempts, purpose))
}

// RotateAddress retires the active address and allocates a fresh one.
func (s *AddressServiceImpl) RotateAddress(ctx context.Context, merchantID uuid.UUID, purpose domain.AddressPurpose) (*domain.DerivedAddress, error) {
	retired, err := s.addresses.Retire(ctx, merchantID, purpose)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("retire address: %w", err))
	}
	s.log.Info().Str("merchant_id", merchantID.String()).Int64("retired", retired).Msg("rotating address")
	return s.GetOrCreateAddress(ctx, merchantID, purpose)
}

// ListAddresses returns a page of derived addresses.
func (s *AddressServiceImpl) ListAddresses(ctx context.Context, params ports.AddressListParams) ([]domain.DerivedAddress, int64, error) {
	params.Page, params.PageSize = normalizePage(params.Page, params.PageSize)
	rows, total, err := s.addresses.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list addresses: %w", err))
	}
	return rows, total, nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
