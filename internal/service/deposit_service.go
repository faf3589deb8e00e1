package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"
	"merchant-wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxTransitionAttempts bounds re-reads after losing a status compare-and-swap.
const maxTransitionAttempts = 8

// DepositServiceImpl implements ports.DepositService.
//
// Every status write is conditional on the status that was read, and the
// ledger credit is keyed by the deposit outpoint, so any number of observers
// may process the same record concurrently without crediting twice.
type DepositServiceImpl struct {
	addresses ports.AddressRepository
	deposits  ports.DepositRepository
	settings  ports.SettingsService
	ledger    ports.LedgerService
	now       func() time.Time
	log       zerolog.Logger
}

// NewDepositService creates a new DepositServiceImpl.
func NewDepositService(
	addresses ports.AddressRepository,
	deposits ports.DepositRepository,
	settings ports.SettingsService,
	ledger ports.LedgerService,
	log zerolog.Logger,
) *DepositServiceImpl {
	return &DepositServiceImpl{
		addresses: addresses,
		deposits:  deposits,
		settings:  settings,
		ledger:    ledger,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log.With().Str("component", "deposit_observer").Logger(),
	}
}

// Observe applies one chain observation. Observations for addresses we never
// derived are ignored without error.
func (s *DepositServiceImpl) Observe(ctx context.Context, obs domain.ChainObservation) (*ports.ObservationResult, error) {
	obs.TxID = strings.ToLower(obs.TxID)
	if err := obs.Validate(); err != nil {
		return nil, apperror.ErrInvalidObservation(err)
	}

	addr, err := s.addresses.GetByAddress(ctx, obs.Address)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lookup address: %w", err))
	}
	if addr == nil {
		s.log.Debug().Str("address", obs.Address).Str("txid", obs.TxID).Msg("observation for unknown address ignored")
		return &ports.ObservationResult{Outcome: ports.OutcomeIgnored}, nil
	}

	threshold, err := s.settings.ConfirmationThreshold(ctx)
	if err != nil {
		return nil, err
	}

	dep, created, err := s.findOrCreate(ctx, obs, addr)
	if err != nil {
		return nil, err
	}

	changed, err := s.applyObservation(ctx, dep, obs, threshold)
	if err != nil {
		return nil, err
	}

	credited := false
	if dep.Status == domain.DepositStatusConfirmed {
		if credited, err = s.credit(ctx, dep); err != nil {
			return nil, err
		}
	}

	outcome := ports.ObservationOutcome(dep.Status)
	if !created && !changed && !credited {
		outcome = ports.OutcomeUnchanged
	}
	return &ports.ObservationResult{Outcome: outcome, Deposit: dep}, nil
}

func (s *DepositServiceImpl) findOrCreate(ctx context.Context, obs domain.ChainObservation, addr *domain.DerivedAddress) (*domain.Deposit, bool, error) {
	dep, err := s.deposits.GetByOutpoint(ctx, obs.TxID, obs.Vout)
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("get deposit: %w", err))
	}
	if dep != nil {
		if dep.AmountSats != obs.AmountSats {
			s.log.Warn().
				Str("txid", obs.TxID).
				Uint32("vout", obs.Vout).
				Int64("stored", dep.AmountSats).
				Int64("observed", obs.AmountSats).
				Msg("observation amount differs from stored deposit, keeping stored amount")
		}
		return dep, false, nil
	}

	dep = domain.NewPendingDeposit(obs, addr, s.now())
	created, err := s.deposits.Create(ctx, dep)
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("create deposit: %w", err))
	}
	if !created {
		// a concurrent observer inserted the same outpoint
		if dep, err = s.deposits.GetByOutpoint(ctx, obs.TxID, obs.Vout); err != nil {
			return nil, false, apperror.InternalError(fmt.Errorf("re-read deposit: %w", err))
		}
		if dep == nil {
			return nil, false, apperror.InternalError(fmt.Errorf("deposit %s:%d vanished after conflict", obs.TxID, obs.Vout))
		}
		return dep, false, nil
	}

	if err := s.addresses.MarkUsed(ctx, addr.ID, dep.FirstSeenAt); err != nil {
		s.log.Warn().Err(err).Str("address_id", addr.ID.String()).Msg("failed to mark address used")
	}
	s.log.Info().
		Str("deposit_id", dep.ID.String()).
		Str("merchant_id", dep.MerchantID.String()).
		Str("txid", dep.TxID).
		Uint32("vout", dep.Vout).
		Int64("amount_sats", dep.AmountSats).
		Msg("deposit first seen")
	return dep, true, nil
}

// applyObservation moves dep forward and updates it in place. It returns
// whether this call changed the stored row.
func (s *DepositServiceImpl) applyObservation(ctx context.Context, dep *domain.Deposit, obs domain.ChainObservation, threshold int64) (bool, error) {
	for range maxTransitionAttempts {
		upd := dep.Apply(obs, threshold)
		if !upd.Changed {
			return false, nil
		}

		ok, err := s.deposits.UpdateProgress(ctx, dep, upd)
		if err != nil {
			return false, apperror.InternalError(fmt.Errorf("update deposit: %w", err))
		}
		if ok {
			if upd.Status != dep.Status {
				s.logTransition(dep, upd)
			}
			dep.Confirmations = upd.Confirmations
			dep.BlockHeight = upd.BlockHeight
			dep.Status = upd.Status
			if upd.FlagReason != "" {
				reason := upd.FlagReason
				dep.FlagReason = &reason
			}
			return true, nil
		}

		fresh, err := s.deposits.GetByOutpoint(ctx, dep.TxID, dep.Vout)
		if err != nil {
			return false, apperror.InternalError(fmt.Errorf("re-read deposit: %w", err))
		}
		if fresh == nil {
			return false, apperror.InternalError(fmt.Errorf("deposit %s vanished", dep.ID))
		}
		*dep = *fresh
	}
	return false, apperror.InternalError(fmt.Errorf("deposit %s kept changing under observer", dep.ID))
}

func (s *DepositServiceImpl) logTransition(dep *domain.Deposit, upd domain.DepositUpdate) {
	ev := s.log.Info()
	if upd.Status == domain.DepositStatusFlagged {
		ev = s.log.Warn().Str("reason", upd.FlagReason)
	}
	ev.Str("deposit_id", dep.ID.String()).
		Str("from", string(dep.Status)).
		Str("to", string(upd.Status)).
		Int64("confirmations", upd.Confirmations).
		Msg("deposit transition")
}

// credit books a CONFIRMED deposit to the merchant's BTC wallet and marks it
// CREDITED. It reports whether this call performed the transition.
func (s *DepositServiceImpl) credit(ctx context.Context, dep *domain.Deposit) (bool, error) {
	key := dep.IdempotencyKey()

	wallet, err := s.ledger.GetWallet(ctx, dep.MerchantID, domain.CurrencyBTC)
	if err != nil {
		return false, err
	}

	existing, err := s.ledger.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return false, err
	}
	switch {
	case existing == nil:
		if _, err := s.ledger.AdjustBalance(ctx, domain.BalanceAdjustment{
			WalletID:       wallet.ID,
			MerchantID:     dep.MerchantID,
			Amount:         dep.AmountSats,
			Type:           domain.LedgerEntryBTCDeposit,
			ReferenceType:  "deposit",
			ReferenceID:    dep.ID.String(),
			Description:    fmt.Sprintf("BTC deposit %s:%d", dep.TxID, dep.Vout),
			IdempotencyKey: key,
		}); err != nil {
			return false, err
		}
	case existing.Type != domain.LedgerEntryBTCDeposit || existing.WalletID != wallet.ID || existing.Amount != dep.AmountSats:
		// only a matching BTC credit on this merchant's wallet may back CREDITED
		s.log.Error().
			Str("deposit_id", dep.ID.String()).
			Str("ledger_tx_id", existing.ID.String()).
			Str("ledger_type", string(existing.Type)).
			Int64("ledger_amount", existing.Amount).
			Msg("deposit idempotency key tags a foreign ledger entry, credit withheld")
		return false, apperror.ErrIdempotencyConflict()
	}

	at := s.now()
	ok, err := s.deposits.MarkCredited(ctx, dep.ID, at)
	if err != nil {
		return false, apperror.InternalError(fmt.Errorf("mark deposit credited: %w", err))
	}
	if !ok {
		fresh, err := s.deposits.GetByOutpoint(ctx, dep.TxID, dep.Vout)
		if err != nil {
			return false, apperror.InternalError(fmt.Errorf("re-read deposit: %w", err))
		}
		if fresh != nil {
			*dep = *fresh
		}
		if dep.Status == domain.DepositStatusFlagged {
			s.log.Warn().Str("deposit_id", dep.ID.String()).Msg("deposit flagged while crediting, ledger entry left for review")
		}
		return false, nil
	}

	dep.Status = domain.DepositStatusCredited
	dep.CreditedAt = &at
	s.log.Info().
		Str("deposit_id", dep.ID.String()).
		Str("merchant_id", dep.MerchantID.String()).
		Int64("amount_sats", dep.AmountSats).
		Msg("deposit credited")
	return true, nil
}

// ObserveBatch applies observations in order. A failing record does not stop
// the batch; its error is reported in the matching result.
func (s *DepositServiceImpl) ObserveBatch(ctx context.Context, batch []domain.ChainObservation) ([]ports.BatchItemResult, error) {
	results := make([]ports.BatchItemResult, 0, len(batch))
	for i, obs := range batch {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		item := ports.BatchItemResult{Index: i}
		res, err := s.Observe(ctx, obs)
		if err != nil {
			item.Error = publicMessage(err)
			s.log.Warn().Err(err).Int("index", i).Str("txid", obs.TxID).Msg("batch observation failed")
		} else {
			item.Outcome = res.Outcome
		}
		results = append(results, item)
	}
	return results, nil
}

// publicMessage keeps internal causes out of API responses.
func publicMessage(err error) string {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return "internal error"
	}
	if appErr.Code == "DEP_001" && appErr.Err != nil {
		return appErr.Err.Error()
	}
	return appErr.Message
}

// ListDeposits returns a page of deposits.
func (s *DepositServiceImpl) ListDeposits(ctx context.Context, params ports.DepositListParams) ([]domain.Deposit, int64, error) {
	if params.Status != nil && !params.Status.IsValid() {
		return nil, 0, apperror.Validation(fmt.Sprintf("unknown deposit status %q", *params.Status))
	}
	params.Page, params.PageSize = normalizePage(params.Page, params.PageSize)
	rows, total, err := s.deposits.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list deposits: %w", err))
	}
	if rows == nil {
		rows = []domain.Deposit{}
	}
	return rows, total, nil
}

// CountPending counts the merchant's deposits not yet credited (PENDING or CONFIRMED).
func (s *DepositServiceImpl) CountPending(ctx context.Context, merchantID uuid.UUID) (int64, error) {
	n, err := s.deposits.CountPending(ctx, merchantID)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("count pending deposits: %w", err))
	}
	return n, nil
}
