package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"
	"merchant-wallet-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// RateServiceImpl implements ports.RateService. Quotes are advisory and never
// feed into ledger amounts.
type RateServiceImpl struct {
	sources  []ports.RateSource
	cache    ports.RateCache
	timeout  time.Duration
	freshTTL time.Duration
	flight   singleflight.Group
	now      func() time.Time
	log      zerolog.Logger

	mu    sync.RWMutex
	fresh *domain.ExchangeRate
}

// NewRateService creates a new RateServiceImpl. Sources are tried in order.
func NewRateService(sources []ports.RateSource, cache ports.RateCache, timeout, freshTTL time.Duration, log zerolog.Logger) *RateServiceImpl {
	return &RateServiceImpl{
		sources:  sources,
		cache:    cache,
		timeout:  timeout,
		freshTTL: freshTTL,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "rates").Logger(),
	}
}

// CurrentRate returns a fresh quote, or the last known one marked stale when
// every source fails.
func (s *RateServiceImpl) CurrentRate(ctx context.Context) (*domain.ExchangeRate, error) {
	if r := s.cached(); r != nil {
		return r, nil
	}

	v, err, _ := s.flight.Do("btc_usd", func() (any, error) {
		return s.fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	r := *v.(*domain.ExchangeRate)
	return &r, nil
}

func (s *RateServiceImpl) cached() *domain.ExchangeRate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fresh == nil || s.now().Sub(s.fresh.FetchedAt) >= s.freshTTL {
		return nil
	}
	r := *s.fresh
	return &r
}

func (s *RateServiceImpl) fetch(ctx context.Context) (*domain.ExchangeRate, error) {
	var errs []error
	for _, src := range s.sources {
		cents, err := s.fetchOne(ctx, src)
		if err != nil {
			s.log.Warn().Err(err).Str("source", src.Name()).Msg("rate source failed")
			errs = append(errs, err)
			continue
		}

		rate := &domain.ExchangeRate{CentsPerBTC: cents, Source: src.Name(), FetchedAt: s.now()}
		s.mu.Lock()
		s.fresh = rate
		s.mu.Unlock()

		if err := s.cache.SetLastKnown(ctx, rate); err != nil {
			s.log.Warn().Err(err).Msg("failed to store last known rate")
		}
		return rate, nil
	}

	last, err := s.cache.GetLastKnown(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read last known rate")
		errs = append(errs, err)
	}
	if last != nil {
		last.Stale = true
		return last, nil
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no rate sources configured"))
	}
	return nil, apperror.ErrRateUnavailable(errors.Join(errs...))
}

func (s *RateServiceImpl) fetchOne(ctx context.Context, src ports.RateSource) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	cents, err := src.FetchCentsPerBTC(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", src.Name(), err)
	}
	return cents, nil
}
